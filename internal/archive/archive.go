// Package archive keeps a snappy-compressed copy of every raw upload on local
// disk so a dataset can be traced back to the exact bytes it came from.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/golang/snappy"
	"github.com/google/uuid"
)

// Ext is appended to every archived file.
const Ext = ".sz"

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Archive writes uploads under a single directory.
type Archive struct {
	dir string
}

// New creates dir if needed and returns an Archive rooted there.
func New(dir string) (*Archive, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("archive: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Dir returns the root directory.
func (a *Archive) Dir() string { return a.dir }

// Save compresses data with the snappy framing format and writes it under a
// unique name derived from filename. It returns the file path. The file
// appears atomically: a partial write never leaves a file at the returned
// path.
func (a *Archive) Save(filename string, data []byte) (string, error) {
	base := unsafeName.ReplaceAllString(filepath.Base(filename), "_")
	if base == "" || base == "." || base == "_" {
		base = "upload.csv"
	}
	name := uuid.NewString()[:8] + "-" + base + Ext
	dst := filepath.Join(a.dir, name)

	tmp, err := os.CreateTemp(a.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	w := snappy.NewBufferedWriter(tmp)
	_, werr := w.Write(data)
	if werr == nil {
		werr = w.Close()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: write %s: %w", name, werr)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: %w", err)
	}
	return dst, nil
}

// Remove deletes an archived file. A missing file is not an error.
func (a *Archive) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

// Read returns the decompressed contents of an archived file.
func Read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, snappy.NewReader(f)); err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// IsArchived reports whether path looks like an archived upload.
func IsArchived(path string) bool { return strings.HasSuffix(path, Ext) }
