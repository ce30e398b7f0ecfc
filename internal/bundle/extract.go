package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"testing/fstest"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

const (
	// DefaultMaxBundleSize bounds the compressed download.
	DefaultMaxBundleSize int64 = 50 * 1024 * 1024 // 50MB

	// maxSingleFile bounds any one extracted file.
	maxSingleFile int64 = 10 * 1024 * 1024 // 10MB

	// maxTotalExtract bounds the sum of extracted files.
	maxTotalExtract int64 = 100 * 1024 * 1024 // 100MB

	// maxSignatureSize is generous for DER ECDSA/RSA-4096 signatures.
	maxSignatureSize int64 = 4096
)

// readWithHash reads r up to maxSize bytes and returns the data with its
// hex SHA-256.
func readWithHash(r io.Reader, maxSize int64) ([]byte, string, error) {
	h := sha256.New()
	tr := io.TeeReader(io.LimitReader(r, maxSize+1), h)

	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, "", xerrors.Wrap(err, "read")
	}
	if int64(len(data)) > maxSize {
		return nil, "", xerrors.Newf("%w (limit %d bytes)", ErrTooLarge, maxSize)
	}
	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// extractTarGz unpacks a .tar.gz into an in-memory filesystem. Only
// regular files and directories are accepted; names are held to the same
// rules as manifest paths.
func extractTarGz(data []byte) (fs.FS, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrap(err, "open gzip")
	}
	defer gr.Close()

	mfs := make(fstest.MapFS)
	tr := tar.NewReader(gr)

	var total int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(err, "read tar header")
		}

		name, err := pathutil.CleanRelative(hdr.Name)
		if errors.Is(err, pathutil.ErrEmpty) {
			continue
		}
		if err != nil {
			return nil, xerrors.Newf("unsafe path in archive %q: %w", hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			// implicit in MapFS
			continue

		case tar.TypeReg:
			if hdr.Size > maxSingleFile {
				return nil, xerrors.Newf("file %s exceeds max size (%d > %d)", name, hdr.Size, maxSingleFile)
			}
			content, err := io.ReadAll(io.LimitReader(tr, maxSingleFile+1))
			if err != nil {
				return nil, xerrors.Wrapf(err, "read %s", name)
			}
			if int64(len(content)) > maxSingleFile {
				return nil, xerrors.Newf("file %s exceeds max size after read", name)
			}
			total += int64(len(content))
			if total > maxTotalExtract {
				return nil, xerrors.Newf("total extracted size exceeds limit (%d bytes, max %d)", total, maxTotalExtract)
			}
			if _, dup := mfs[name]; dup {
				return nil, xerrors.Newf("duplicate file in archive: %s", name)
			}
			mfs[name] = &fstest.MapFile{
				Data: content,
				Mode: hdr.FileInfo().Mode().Perm(),
			}

		default:
			return nil, xerrors.Newf("unsupported file type in archive: %s (type=%d)", name, hdr.Typeflag)
		}
	}

	if len(mfs) == 0 {
		return nil, xerrors.New("archive contains no files")
	}
	return mfs, nil
}
