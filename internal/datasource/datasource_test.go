package datasource

import (
	"errors"
	"strings"
	"testing"
)

func TestReadLimited(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		max     int64
		wantErr bool
	}{
		{"under", "abc", 5, false},
		{"exact", "abcde", 5, false},
		{"over", "abcdef", 5, true},
		{"unlimited", strings.Repeat("x", 1<<12), 0, false},
	}
	for _, c := range cases {
		got, err := ReadLimited(strings.NewReader(c.in), c.max)
		if c.wantErr {
			if !errors.Is(err, ErrTooLarge) {
				t.Fatalf("%s: err = %v, want ErrTooLarge", c.name, err)
			}
			continue
		}
		if err != nil || string(got) != c.in {
			t.Fatalf("%s: ReadLimited = %q, %v", c.name, got, err)
		}
	}
}
