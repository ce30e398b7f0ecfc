package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

const (
	DefaultDirMode  fs.FileMode = 0o755
	DefaultFileMode fs.FileMode = 0o644
)

// Disk writes to the local filesystem. Files are written to a temp file in
// the target directory, fsynced and renamed over the destination, so a
// concurrent reader sees either the old or the new content in full.
type Disk struct {
	DirMode  fs.FileMode
	FileMode fs.FileMode
}

func NewDisk() *Disk {
	return &Disk{DirMode: DefaultDirMode, FileMode: DefaultFileMode}
}

// EnsureDir creates dir and any missing parents. Existing directories are
// not an error; an existing non-directory is.
func (d *Disk) EnsureDir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir == "" || dir == "." {
		return nil
	}
	mode := d.DirMode
	if mode == 0 {
		mode = DefaultDirMode
	}
	if err := os.MkdirAll(filepath.FromSlash(dir), mode); err != nil {
		return xerrors.Wrapf(err, "mkdir %s", dir)
	}
	return nil
}

// WriteFile replaces name with data.
func (d *Disk) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mode := d.FileMode
	if mode == 0 {
		mode = DefaultFileMode
	}
	if err := renameio.WriteFile(filepath.FromSlash(name), data, mode); err != nil {
		return xerrors.Wrapf(err, "write %s", name)
	}
	return nil
}
