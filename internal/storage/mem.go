package storage

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"testing/fstest"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

// Mem is an in-memory store that follows filesystem rules closely enough to
// stand in for Disk: a file needs its parent directory, and a path cannot be
// both a file and a directory.
type Mem struct {
	mu     sync.RWMutex
	files  map[string][]byte
	dirs   map[string]bool
	writes int
}

func NewMem() *Mem {
	return &Mem{files: map[string][]byte{}, dirs: map[string]bool{}}
}

func memKey(name string) string {
	name = path.Clean(strings.TrimPrefix(name, "/"))
	if name == "." {
		return ""
	}
	return name
}

func (m *Mem) EnsureDir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := memKey(dir)
	if key == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var missing []string
	for p := key; p != "." && p != ""; p = path.Dir(p) {
		if _, isFile := m.files[p]; isFile {
			return xerrors.Wrapf(fs.ErrExist, "mkdir %s: %s is a file", dir, p)
		}
		if m.dirs[p] {
			break
		}
		missing = append(missing, p)
	}
	for _, p := range missing {
		m.dirs[p] = true
	}
	return nil
}

func (m *Mem) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := memKey(name)
	if key == "" {
		return xerrors.Wrapf(fs.ErrInvalid, "write %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dirs[key] {
		return xerrors.Wrapf(fs.ErrExist, "write %s: is a directory", name)
	}
	if parent := path.Dir(key); parent != "." && !m.dirs[parent] {
		return xerrors.Wrapf(fs.ErrNotExist, "write %s: parent directory missing", name)
	}
	m.files[key] = append([]byte(nil), data...)
	m.writes++
	return nil
}

// ReadFile returns the content stored at name.
func (m *Mem) ReadFile(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.files[memKey(name)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// HasDir reports whether dir was created.
func (m *Mem) HasDir(dir string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[memKey(dir)]
}

// Files returns the stored file names, sorted.
func (m *Mem) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for k := range m.files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Writes counts successful WriteFile calls, overwrites included.
func (m *Mem) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// FS snapshots the stored files as a read-only filesystem.
func (m *Mem) FS() fs.FS {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(fstest.MapFS, len(m.files))
	for k, v := range m.files {
		out[k] = &fstest.MapFile{Data: append([]byte(nil), v...), Mode: DefaultFileMode}
	}
	return out
}
