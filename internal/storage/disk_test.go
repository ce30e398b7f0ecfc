package storage

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"testing"
)

func TestDisk_EnsureDirAndWrite(t *testing.T) {
	root := filepath.ToSlash(t.TempDir())
	d := NewDisk()

	if err := d.EnsureDir(t.Context(), path.Join(root, "a/b/c")); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	// idempotent
	if err := d.EnsureDir(t.Context(), path.Join(root, "a/b/c")); err != nil {
		t.Fatalf("EnsureDir again: %v", err)
	}

	name := path.Join(root, "a/b/c/file.md")
	if err := d.WriteFile(t.Context(), name, []byte("first")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := d.WriteFile(t.Context(), name, []byte("2nd")); err != nil {
		t.Fatalf("WriteFile overwrite: %v", err)
	}
	got, err := os.ReadFile(filepath.FromSlash(name))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "2nd" {
		t.Fatalf("content = %q, want full replacement %q", got, "2nd")
	}

	info, err := os.Stat(filepath.FromSlash(name))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o600 != 0o600 {
		t.Fatalf("mode = %v", info.Mode())
	}
}

func TestDisk_EnsureDirThroughFile(t *testing.T) {
	root := filepath.ToSlash(t.TempDir())
	d := NewDisk()
	blocker := path.Join(root, "a")
	if err := d.WriteFile(t.Context(), blocker, []byte("i am a file")); err != nil {
		t.Fatal(err)
	}
	if err := d.EnsureDir(t.Context(), path.Join(root, "a/b")); err == nil {
		t.Fatal("expected error creating a directory under a file")
	}
}

func TestDisk_WriteOverDirectory(t *testing.T) {
	root := filepath.ToSlash(t.TempDir())
	d := NewDisk()
	if err := d.EnsureDir(t.Context(), path.Join(root, "x.md")); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteFile(t.Context(), path.Join(root, "x.md"), []byte("x")); err == nil {
		t.Fatal("expected error writing over a directory")
	}
}

func TestDisk_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDisk()
	if err := d.WriteFile(ctx, filepath.ToSlash(filepath.Join(t.TempDir(), "x")), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
