package pathutil

import (
	"errors"
	"path"
	"strings"
)

var (
	// ErrEscape is returned when a relative path would resolve outside its root.
	ErrEscape = errors.New("path escapes root")

	// ErrEmpty is returned for a path that names no file.
	ErrEmpty = errors.New("path is empty")
)

// CleanRelative normalizes a slash-separated relative path and rejects
// anything that is absolute, climbs above its root, or names the root itself.
// "a/../b" is accepted and returned as "b".
func CleanRelative(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", ErrEmpty
	}
	if strings.ContainsRune(rel, 0) {
		return "", errors.New("path contains NUL byte")
	}
	// windows separators and drive letters never reach a slash-only join intact
	if strings.Contains(rel, `\`) || path.IsAbs(rel) || (len(rel) >= 2 && rel[1] == ':') {
		return "", ErrEscape
	}
	clean := path.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrEscape
	}
	if clean == "." {
		return "", ErrEmpty
	}
	return clean, nil
}

// Join resolves rel under root. root may be "" (meaning the current
// directory) and is only cleaned, never validated.
func Join(root, rel string) (string, error) {
	clean, err := CleanRelative(rel)
	if err != nil {
		return "", err
	}
	if root == "" {
		return clean, nil
	}
	return path.Join(root, clean), nil
}
