package materialize

import (
	"errors"
	"fmt"
)

// Kind classifies why an entry was not materialized.
type Kind int

const (
	// KindPathEscape: the relative path is absolute, climbs above the root,
	// or names no file. Rejected before anything is written.
	KindPathEscape Kind = iota + 1
	// KindDirectoryCreation: the parent directory could not be created.
	KindDirectoryCreation
	// KindWrite: the file could not be written.
	KindWrite
)

var (
	ErrPathEscape        = errors.New("path escapes root")
	ErrDirectoryCreation = errors.New("directory creation failed")
	ErrWrite             = errors.New("write failed")

	ErrNoEntries     = errors.New("no entries to materialize")
	ErrDuplicatePath = errors.New("duplicate entry path")
)

func (k Kind) String() string {
	switch k {
	case KindPathEscape:
		return "path_escape"
	case KindDirectoryCreation:
		return "directory_creation"
	case KindWrite:
		return "write"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindPathEscape:
		return ErrPathEscape
	case KindDirectoryCreation:
		return ErrDirectoryCreation
	case KindWrite:
		return ErrWrite
	default:
		return nil
	}
}

// EntryError is the failure of a single entry. errors.Is matches both the
// kind sentinel (ErrWrite, ...) and anything in the underlying chain.
type EntryError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

func (e *EntryError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of the first EntryError in err's chain, or 0.
func KindOf(err error) Kind {
	var ee *EntryError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return 0
}
