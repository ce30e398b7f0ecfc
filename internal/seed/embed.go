// Package seed carries the default manifest compiled into the binary: the
// Swift study notes under src/swift/. It is used when no manifest file or
// bundle is configured.
package seed

import (
	"embed"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/manifest"
)

// src/ must exist and hold at least one file to satisfy go:embed
//
//go:embed src
var embedded embed.FS

// Manifest builds a fresh manifest from the embedded tree, one entry per
// file in lexical order.
func Manifest() (*manifest.Manifest, error) {
	m, err := manifest.FromTree(embedded, "")
	if err != nil {
		return nil, err
	}
	m.Meta.Source = manifest.SourceSeed
	m.Meta.Location = "embedded"
	return m, nil
}
