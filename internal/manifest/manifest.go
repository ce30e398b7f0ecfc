// Package manifest holds the path→content table that the materializer
// writes out. A manifest is loaded from a YAML/JSON document, a directory
// tree, or an embedded/extracted fs.FS, and is immutable once loaded.
package manifest

import (
	"errors"
	"time"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

// Entry is one file to materialize. Content is written byte-for-byte.
type Entry struct {
	Path    string `yaml:"path" json:"path"`
	Content string `yaml:"content" json:"content"`
}

type Source string

const (
	SourceUnknown Source = "unknown"
	SourceSeed    Source = "seed"
	SourceFile    Source = "file"
	SourceDir     Source = "dir"
	SourceBundle  Source = "bundle"
)

// Meta describes where a manifest came from.
type Meta struct {
	Source   Source
	Location string
	SHA256   string
	LoadedAt time.Time
}

// Manifest is an ordered list of entries. Order is the order the entries
// were declared in and is the order they are materialized and reported in.
type Manifest struct {
	Entries []Entry
	Meta    Meta
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Entries)
}

// Paths returns the entry paths in order.
func (m *Manifest) Paths() []string {
	out := make([]string, 0, m.Len())
	for _, e := range m.Entries {
		out = append(out, e.Path)
	}
	return out
}

// TotalBytes is the sum of all content lengths.
func (m *Manifest) TotalBytes() int64 {
	var n int64
	for _, e := range m.Entries {
		n += int64(len(e.Content))
	}
	return n
}

// Validate rejects empty manifests, empty paths and paths that collide
// once cleaned ("a/x.md" and "a/./x.md"). Traversal is left to the
// materializer so it can be reported against the offending entry.
func (m *Manifest) Validate() error {
	if m.Len() == 0 {
		return xerrors.New("manifest has no entries")
	}
	seen := make(map[string]int, len(m.Entries))
	for i, e := range m.Entries {
		clean, err := pathutil.CleanRelative(e.Path)
		if err != nil {
			if errors.Is(err, pathutil.ErrEscape) {
				continue
			}
			return xerrors.Wrapf(err, "entry %d (%q)", i, e.Path)
		}
		if j, dup := seen[clean]; dup {
			return xerrors.Newf("entry %d (%q) duplicates entry %d (%q)", i, e.Path, j, m.Entries[j].Path)
		}
		seen[clean] = i
	}
	return nil
}
