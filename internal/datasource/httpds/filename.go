package httpds

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/zeebo/xxh3"
)

// filenameCleaner replaces sequences of unsafe characters with "_".
var filenameCleaner = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// HashString returns a stable xxh3-64 hex digest of s.
func HashString(s string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(s))
}

// FilenameFromURL derives a filesystem-safe filename from a URL. It prefers
// the last path segment; when that is empty or unusable it falls back to
// "download-<hash>.csv".
func FilenameFromURL(rawURL string) string {
	fallback := "download-" + HashString(rawURL) + ".csv"
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return fallback
	}
	clean := strings.Trim(filenameCleaner.ReplaceAllString(base, "_"), "_.")
	if clean == "" {
		return fallback
	}
	return clean
}
