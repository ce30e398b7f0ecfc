package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

func TestParse_EntriesList(t *testing.T) {
	doc := `
entries:
  - path: a/x.md
    content: hello
  - path: b/y.md
    content: world
`
	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Entry{{Path: "a/x.md", Content: "hello"}, {Path: "b/y.md", Content: "world"}}
	if diff := cmp.Diff(want, m.Entries); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_FilesMappingKeepsDocumentOrder(t *testing.T) {
	doc := `
files:
  z/last-key-first.md: one
  a/first-key-second.md: two
  m/middle.md: three
`
	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"z/last-key-first.md", "a/first-key-second.md", "m/middle.md"}
	if diff := cmp.Diff(want, m.Paths()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_PrefixAndBlockScalarPreserved(t *testing.T) {
	doc := "prefix: src\nfiles:\n  swift/q.md: |\n    # Title\n\n    body line\n"
	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Entries[0].Path != "src/swift/q.md" {
		t.Fatalf("path = %q", m.Entries[0].Path)
	}
	if m.Entries[0].Content != "# Title\n\nbody line\n" {
		t.Fatalf("content = %q", m.Entries[0].Content)
	}
}

func TestParse_PrefixLeavesUnsafePathsAsWritten(t *testing.T) {
	doc := "prefix: src\nfiles:\n  /etc/passwd: x\n  a/../../../escape.md: y\n  swift/q.md: z\n"
	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"/etc/passwd", "a/../../../escape.md", "src/swift/q.md"}
	if diff := cmp.Diff(want, m.Paths()); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_JSON(t *testing.T) {
	doc := `{"entries":[{"path":"a/x.md","content":"line1\nline2"}]}`
	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Entries[0].Content != "line1\nline2" {
		t.Fatalf("content = %q", m.Entries[0].Content)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "empty"},
		{"no entries", "prefix: src\n", "no entries"},
		{"unknown field", "entrys: []\n", "decode manifest"},
		{"files not mapping", "files: [a, b]\n", "must be a mapping"},
		{"files value not string", "files:\n  a.md: {x: 1}\n", "not a string"},
		{"duplicate after clean", "files:\n  a/x.md: one\n  a/./x.md: two\n", "duplicates"},
		{"empty path", "entries:\n  - path: ''\n    content: x\n", "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_LeavesTraversalToMaterializer(t *testing.T) {
	m := &Manifest{Entries: []Entry{{Path: "../escape.md", Content: "x"}, {Path: "ok.md", Content: "y"}}}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestFromTree(t *testing.T) {
	fsys := fstest.MapFS{
		"b/y.md":     {Data: []byte("world")},
		"a/x.md":     {Data: []byte("hello")},
		"a/sub/z.md": {Data: []byte("deep")},
	}
	m, err := FromTree(fsys, "src")
	if err != nil {
		t.Fatalf("FromTree: %v", err)
	}
	want := []Entry{
		{Path: "src/a/sub/z.md", Content: "deep"},
		{Path: "src/a/x.md", Content: "hello"},
		{Path: "src/b/y.md", Content: "world"},
	}
	if diff := cmp.Diff(want, m.Entries); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if m.TotalBytes() != int64(len("deephelloworld")) {
		t.Fatalf("TotalBytes = %d", m.TotalBytes())
	}
}

func TestFromTree_Empty(t *testing.T) {
	if _, err := FromTree(fstest.MapFS{}, ""); err == nil {
		t.Fatal("expected error for empty tree")
	}
}

func TestReadFS_PrefersManifestFile(t *testing.T) {
	fsys := fstest.MapFS{
		FileName:       {Data: []byte("files:\n  from/manifest.md: yes\n")},
		"other/file.md": {Data: []byte("ignored")},
	}
	m, err := ReadFS(fsys)
	if err != nil {
		t.Fatalf("ReadFS: %v", err)
	}
	if diff := cmp.Diff([]string{"from/manifest.md"}, m.Paths()); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFS_FallsBackToTree(t *testing.T) {
	fsys := fstest.MapFS{"swift/q.md": {Data: []byte("q")}}
	m, err := ReadFS(fsys)
	if err != nil {
		t.Fatalf("ReadFS: %v", err)
	}
	if diff := cmp.Diff([]string{"swift/q.md"}, m.Paths()); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPath_FileAndDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "docs.yaml")
	if err := os.WriteFile(file, []byte("files:\n  a/x.md: hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadPath(file)
	if err != nil {
		t.Fatalf("LoadPath(file): %v", err)
	}
	if m.Meta.Source != SourceFile || m.Meta.Location != file || len(m.Meta.SHA256) != 64 {
		t.Fatalf("unexpected meta %+v", m.Meta)
	}

	tree := filepath.Join(dir, "tree")
	if err := os.MkdirAll(filepath.Join(tree, "swift"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tree, "swift", "q.md"), []byte("q"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err = LoadPath(tree)
	if err != nil {
		t.Fatalf("LoadPath(dir): %v", err)
	}
	if m.Meta.Source != SourceDir || m.Entries[0].Path != "swift/q.md" {
		t.Fatalf("unexpected manifest %+v", m)
	}

	if _, err := LoadPath(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing path")
	}
}
