package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func newJSONLogger(t *testing.T, lvl slog.Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Options{App: "materialize", Level: lvl, JSON: true, Writer: &buf, IncludeErrorLinks: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_LevelFilteringAndAttrs(t *testing.T) {
	l, buf := newJSONLogger(t, slog.LevelInfo)
	l = l.With("component", "materializer")

	l.Debug(context.Background(), "hidden")
	l.Info(context.Background(), "wrote entry", "path", "a/x.md")

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	rec := lines[0]
	if rec["msg"] != "wrote entry" || rec["path"] != "a/x.md" {
		t.Fatalf("unexpected record %v", rec)
	}
	if rec["app"] != "materialize" || rec["component"] != "materializer" {
		t.Fatalf("base attrs missing: %v", rec)
	}
	src, _ := rec["source"].(map[string]any)
	if file, _ := src["file"].(string); !strings.HasSuffix(file, "log_test.go") {
		t.Fatalf("source should point at the caller, got %v", rec["source"])
	}
}

func TestLogger_WithDoesNotMutateParent(t *testing.T) {
	l, buf := newJSONLogger(t, slog.LevelInfo)
	_ = l.With("child", true)
	l.Info(context.Background(), "parent")

	rec := decodeLines(t, buf)[0]
	if _, ok := rec["child"]; ok {
		t.Fatal("parent logger picked up child attrs")
	}
}

func TestLogger_ErrorEnrichment(t *testing.T) {
	l, buf := newJSONLogger(t, slog.LevelInfo)

	base := errors.New("permission denied")
	err := xerrors.Wrap(xerrors.WithStack(base), "write a/x.md")
	l.Error(context.Background(), err, "entry failed")

	rec := decodeLines(t, buf)[0]
	if rec["err"] != "write a/x.md: permission denied" {
		t.Fatalf("err = %v", rec["err"])
	}
	if rec["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", rec["cause_type"])
	}
	chain, _ := rec["error_chain"].([]any)
	if len(chain) < 2 {
		t.Fatalf("error_chain = %v", rec["error_chain"])
	}
	if _, ok := rec["error_links"]; !ok {
		t.Fatal("error_links missing")
	}
	stack, _ := rec["stack"].(string)
	if !strings.Contains(stack, "TestLogger_ErrorEnrichment") {
		t.Fatalf("stack should come from the error, got %q", stack)
	}
}

func TestInternalFrame(t *testing.T) {
	tests := []struct {
		name string
		fr   runtime.Frame
		want bool
	}{
		{"slog", runtime.Frame{Function: "log/slog.(*Logger).log", File: "/go/src/log/slog/logger.go"}, true},
		{"this package", runtime.Frame{Function: logPkg + ".(*slogLogger).Error", File: "/src/internal/log/slog.go"}, true},
		{"xerrors", runtime.Frame{Function: xerrorsPkg + ".Wrap", File: "/src/internal/xerrors/xerrors.go"}, true},
		{"test in this package", runtime.Frame{Function: logPkg + ".TestLogger_ErrorEnrichment", File: "/src/internal/log/log_test.go"}, false},
		{"other module internal/log", runtime.Frame{Function: "example.com/other/internal/log.Info", File: "/src/other/internal/log/log.go"}, false},
		{"caller", runtime.Frame{Function: "main.run", File: "/src/cmd/materialize/main.go"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := internalFrame(tt.fr); got != tt.want {
				t.Fatalf("internalFrame(%s) = %v, want %v", tt.fr.Function, got, tt.want)
			}
		})
	}
}

func TestLogger_TraceIDs(t *testing.T) {
	l, buf := newJSONLogger(t, slog.LevelInfo)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "run")
	l.Info(ctx, "inside span")
	span.End()

	rec := decodeLines(t, buf)[0]
	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Fatalf("trace_id = %v", rec["trace_id"])
	}
	if rec["span_id"] != span.SpanContext().SpanID().String() {
		t.Fatalf("span_id = %v", rec["span_id"])
	}
}

func TestContext_RoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()).(nopLogger); !ok {
		t.Fatal("empty context should yield the nop logger")
	}
	l, _ := newJSONLogger(t, slog.LevelInfo)
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatal("FromContext did not return the stored logger")
	}
}

func TestNop(t *testing.T) {
	n := Nop()
	n.Info(context.Background(), "ignored")
	n.Error(context.Background(), errors.New("x"), "ignored")
	if n.With("k", "v") == nil {
		t.Fatal("With should return a logger")
	}
	if err := n.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}
