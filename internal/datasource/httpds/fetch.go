package httpds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"datasets/internal/datasource"
)

// ErrStatus is returned when the server answers with a non-2xx status that
// is not worth retrying.
var ErrStatus = errors.New("httpds: unexpected status")

// Download is a fetched remote file.
type Download struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Fetch downloads url in full. Bodies larger than maxBytes fail with
// datasource.ErrTooLarge; maxBytes <= 0 means no limit.
func (c *Client) Fetch(ctx context.Context, url string, maxBytes int64) (*Download, error) {
	resp, err := c.Get(ctx, url, http.Header{"Accept": {"text/csv, text/plain;q=0.9, */*;q=0.5"}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: %d from GET %s", ErrStatus, resp.StatusCode, url)
	}

	data, err := datasource.ReadLimited(resp.Body, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("httpds: read %s: %w", url, err)
	}
	return &Download{
		Data:        data,
		Filename:    FilenameFromURL(url),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// Source adapts a URL to datasource.Source.
type Source struct {
	client *Client
	url    string
}

// NewSource returns a datasource.Source that GETs url through c.
func NewSource(c *Client, url string) *Source { return &Source{client: c, url: url} }

// Open issues the request and returns the response body.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %d from GET %s", ErrStatus, resp.StatusCode, s.url)
	}
	return resp.Body, nil
}

// Name returns the derived filename.
func (s *Source) Name() string { return FilenameFromURL(s.url) }

var _ datasource.Source = (*Source)(nil)
