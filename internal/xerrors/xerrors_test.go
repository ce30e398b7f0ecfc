package xerrors

import (
	"errors"
	"io/fs"
	"runtime"
	"strings"
	"testing"
)

func hasFrame(pcs []uintptr, fn string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, fn) {
			return true
		}
		if !more {
			return false
		}
	}
}

func TestNew_StackStartsAtCaller(t *testing.T) {
	err := New("boom")
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q", err.Error())
	}
	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) {
		t.Fatal("expected StackPCs")
	}
	if !hasFrame(hs.StackPCs(), "TestNew_StackStartsAtCaller") {
		t.Fatal("stack should include the calling test")
	}
}

func TestNewf_WrapsWithW(t *testing.T) {
	err := Newf("open %s: %w", "a.md", fs.ErrNotExist)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("expected errors.Is through %w")
	}
	if err.Error() != "open a.md: file does not exist" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil || Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("wrapping nil must return nil")
	}

	base := fs.ErrPermission
	err := Wrapf(base, "write %s", "b/y.md")
	if err.Error() != "write b/y.md: permission denied" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Fatal("expected errors.Is to reach the base error")
	}

	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) || hp.PC() == 0 {
		t.Fatal("expected a non-zero caller pc")
	}
	fn := runtime.FuncForPC(hp.PC())
	if fn == nil || !strings.Contains(fn.Name(), "TestWrap") {
		t.Fatalf("pc should point at TestWrap, got %v", fn)
	}
}

func TestEnsureTrace(t *testing.T) {
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}

	already := New("has stack")
	if got := EnsureTrace(already); got != already {
		t.Fatal("EnsureTrace should not restack an error that has a stack")
	}

	plain := errors.New("plain")
	got := EnsureTrace(plain)
	if got == plain {
		t.Fatal("EnsureTrace should add a stack to a plain error")
	}
	if !errors.Is(got, plain) {
		t.Fatal("wrapped error should still match the original")
	}
}

func TestWithStack(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
	err := WithStack(fs.ErrExist)
	if !errors.Is(err, fs.ErrExist) {
		t.Fatal("expected errors.Is to reach fs.ErrExist")
	}
}
