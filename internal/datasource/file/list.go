package file

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ReadList reads a manifest of CSV paths for batch ingestion, one per line.
// Blank lines and lines starting with '#' are skipped. Relative paths are
// resolved against the manifest's directory. Order is preserved.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	base := filepath.Dir(path)
	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) && !strings.Contains(line, "://") {
			line = filepath.Join(base, line)
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
