// Package datasource abstracts where upload bytes come from: a local file
// (file.Local) or a remote URL (httpds.Source).
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge is returned when an input exceeds the configured size limit.
var ErrTooLarge = errors.New("input exceeds size limit")

// Source opens a byte stream.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ReadLimited reads r in full, failing with ErrTooLarge past max bytes. A
// non-positive max disables the limit.
func ReadLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, max)
	}
	return data, nil
}

// ReadAll opens src and reads it through ReadLimited.
func ReadAll(ctx context.Context, src Source, max int64) ([]byte, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ReadLimited(rc, max)
}
