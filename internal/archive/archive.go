// Package archive writes deterministic zip archives for function and layer packages.
//
// Entries are written in the order given with their modification time pinned to ModTime, so the
// same entries always produce the same bytes.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// ModTime is the modification time of every entry, the earliest a zip header can represent
var ModTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	DefaultMode    fs.FileMode = 0o644
	ExecutableMode fs.FileMode = 0o755
)

var (
	ErrDuplicateEntry = errors.New("duplicate archive entry")
	ErrInvalidPath    = errors.New("invalid archive path")
)

// Entry is one file in an archive. A zero Mode means DefaultMode.
type Entry struct {
	Path string
	Data []byte
	Mode fs.FileMode
}

// PathError reports an archive failure attributable to one path
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// Build returns the zip archive of entries
func Build(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the zip archive of entries to w. Paths are validated before anything is written.
func Write(w io.Writer, entries []Entry) error {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := ValidatePath(e.Path); err != nil {
			return err
		}
		if seen[e.Path] {
			return &PathError{Path: e.Path, Err: ErrDuplicateEntry}
		}
		seen[e.Path] = true
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, e := range entries {
		mode := e.Mode.Perm()
		if mode == 0 {
			mode = DefaultMode
		}
		hdr := &zip.FileHeader{
			Name:     e.Path,
			Method:   zip.Deflate,
			Modified: ModTime,
		}
		hdr.SetMode(mode)

		f, err := zw.CreateHeader(hdr)
		if err != nil {
			return &PathError{Path: e.Path, Err: err}
		}
		if _, err := f.Write(e.Data); err != nil {
			return &PathError{Path: e.Path, Err: err}
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

// ValidatePath accepts clean, relative, slash-separated file paths
func ValidatePath(p string) error {
	switch {
	case p == "",
		strings.HasPrefix(p, "/"),
		strings.HasSuffix(p, "/"),
		strings.Contains(p, `\`),
		path.Clean(p) != p,
		p == ".", p == "..", strings.HasPrefix(p, "../"):
		return &PathError{Path: p, Err: ErrInvalidPath}
	}
	return nil
}
