// Package validation checks untrusted upload input before any network call is
// made: archive structure, the identity embedded in the artifact filename and
// version strings.
package validation

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	// MaxArchiveSize is the default limit on the unpacked size of an artifact (100MB)
	MaxArchiveSize = 100 * 1024 * 1024
)

// ErrMalformedArchive is wrapped by every ValidateArchive failure.
var ErrMalformedArchive = errors.New("artifact is not a valid tar archive file")

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
)

// ValidateArchive checks that r holds a readable tar archive, plain or gzip/bzip2
// compressed, with at least one entry, safe member paths and an unpacked size
// within maxSize. r is rewound to the start before and after reading so later
// stages see the same bytes.
func ValidateArchive(r io.ReadSeeker, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = MaxArchiveSize
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind artifact: %w", err)
	}
	defer r.Seek(0, io.SeekStart) //nolint:errcheck

	tarStream, closeFn, err := openTarStream(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	defer closeFn()

	tarReader := tar.NewReader(tarStream)

	var totalSize int64
	fileCount := 0

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: invalid tar format: %v", ErrMalformedArchive, err)
		}

		fileCount++
		totalSize += header.Size

		if err := validatePath(header.Name); err != nil {
			return fmt.Errorf("%w: invalid file path in archive: %v", ErrMalformedArchive, err)
		}

		if totalSize > maxSize {
			return fmt.Errorf("%w: archive size exceeds maximum allowed size of %d bytes", ErrMalformedArchive, maxSize)
		}
	}

	if fileCount == 0 {
		return fmt.Errorf("%w: archive is empty", ErrMalformedArchive)
	}

	return nil
}

// openTarStream sniffs the compression wrapper and returns a reader over the raw tar bytes.
func openTarStream(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(3)
	if err != nil && len(head) == 0 {
		return nil, nil, fmt.Errorf("empty file")
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid gzip format: %w", err)
		}
		return gz, func() { gz.Close() }, nil
	case bytes.HasPrefix(head, bzip2Magic):
		return bzip2.NewReader(br), func() {}, nil
	default:
		return br, func() {}, nil
	}
}

// validatePath rejects absolute paths, traversal and VCS metadata
func validatePath(path string) error {
	path = filepath.Clean(path)

	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	// Windows drive paths (C:\...) can appear in archives built on Windows.
	if len(path) >= 3 && path[1] == ':' && (path[2] == '\\' || path[2] == '/') {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed: %s", path)
		}
	}

	if strings.HasPrefix(path, ".git/") || path == ".git" {
		return fmt.Errorf("git directories not allowed in archives")
	}

	return nil
}
