package manifest

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

// FileName is the manifest document looked for at the top of a bundle.
const FileName = "manifest.yaml"

// document is the on-disk form. Either list may be used; "entries" come
// first, then "files" in document order.
//
//	prefix: src
//	entries:
//	  - path: swift/05-retain-cycles.md
//	    content: |
//	      # Q5 ...
//	files:
//	  swift/06-property-wrappers.md: |
//	    # Q6 ...
type document struct {
	Prefix  string    `yaml:"prefix"`
	Entries []Entry   `yaml:"entries"`
	Files   yaml.Node `yaml:"files"`
}

// Parse decodes a YAML (or JSON) manifest document.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, xerrors.New("manifest document is empty")
		}
		return nil, xerrors.Wrap(err, "decode manifest")
	}

	entries := make([]Entry, 0, len(doc.Entries))
	entries = append(entries, doc.Entries...)

	files, err := orderedFiles(&doc.Files)
	if err != nil {
		return nil, err
	}
	entries = append(entries, files...)

	if doc.Prefix != "" {
		for i := range entries {
			// absolute and escaping paths stay as written so the
			// materializer rejects them against the offending entry
			if _, err := pathutil.CleanRelative(entries[i].Path); err != nil {
				continue
			}
			entries[i].Path = path.Join(doc.Prefix, entries[i].Path)
		}
	}

	m := &Manifest{Entries: entries}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// orderedFiles walks a mapping node so keys keep their document order,
// which a Go map would lose.
func orderedFiles(n *yaml.Node) ([]Entry, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.MappingNode:
	default:
		return nil, xerrors.Newf("manifest: files must be a mapping (line %d)", n.Line)
	}

	out := make([]Entry, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return nil, xerrors.Newf("manifest: files key at line %d is not a string", k.Line)
		}
		if v.Kind != yaml.ScalarNode {
			return nil, xerrors.Newf("manifest: files[%q] at line %d is not a string", k.Value, v.Line)
		}
		var content string
		if err := v.Decode(&content); err != nil {
			return nil, xerrors.Wrapf(err, "manifest: files[%q]", k.Value)
		}
		out = append(out, Entry{Path: k.Value, Content: content})
	}
	return out, nil
}

// LoadFile reads and parses a manifest document from disk.
func LoadFile(name string) (*Manifest, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read manifest %s", name)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, xerrors.Wrapf(err, "manifest %s", name)
	}
	m.Meta = Meta{
		Source:   SourceFile,
		Location: name,
		SHA256:   cryptoutil.SHA256Hex(data),
		LoadedAt: time.Now().UTC(),
	}
	return m, nil
}

// LoadPath loads a manifest file, or a directory tree where every regular
// file becomes an entry.
func LoadPath(name string) (*Manifest, error) {
	info, err := os.Stat(name)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stat manifest %s", name)
	}
	if !info.IsDir() {
		return LoadFile(name)
	}
	m, err := FromTree(os.DirFS(name), "")
	if err != nil {
		return nil, xerrors.Wrapf(err, "manifest dir %s", name)
	}
	m.Meta.Source = SourceDir
	m.Meta.Location = name
	return m, nil
}

// FromTree turns every regular file under fsys into an entry, in lexical
// order, with prefix prepended to each path. Symlinks and other special
// files are skipped.
func FromTree(fsys fs.FS, prefix string) (*Manifest, error) {
	var entries []Entry
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return xerrors.Wrapf(err, "read %s", p)
		}
		entries = append(entries, Entry{Path: path.Join(prefix, p), Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "walk manifest tree")
	}

	m := &Manifest{Entries: entries, Meta: Meta{LoadedAt: time.Now().UTC()}}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadFS loads a manifest from an unpacked bundle: FileName at the top
// level wins, otherwise the whole tree is the manifest.
func ReadFS(fsys fs.FS) (*Manifest, error) {
	data, err := fs.ReadFile(fsys, FileName)
	switch {
	case err == nil:
		m, err := Parse(data)
		if err != nil {
			return nil, xerrors.Wrapf(err, "parse %s", FileName)
		}
		m.Meta.LoadedAt = time.Now().UTC()
		return m, nil
	case errors.Is(err, fs.ErrNotExist):
		return FromTree(fsys, "")
	default:
		return nil, xerrors.Wrapf(err, "read %s", FileName)
	}
}
