package httpds

import (
	"strings"
	"testing"
)

func TestHashString_Stable(t *testing.T) {
	t.Parallel()

	a, b := HashString("https://example.com/x"), HashString("https://example.com/x")
	if a != b || len(a) != 16 {
		t.Fatalf("HashString unstable or wrong length: %q %q", a, b)
	}
	if a == HashString("https://example.com/y") {
		t.Fatalf("different inputs hashed equal")
	}
}

func TestFilenameFromURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"https://example.com/data/people.csv", "people.csv"},
		{"https://example.com/data/my%20file(1).csv?dl=1", "my_file_1_.csv"},
		{"https://example.com/a/b/", "b"},
	}
	for _, c := range cases {
		if got := FilenameFromURL(c.in); got != c.want {
			t.Fatalf("FilenameFromURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	for _, in := range []string{"https://example.com", "https://example.com/", "://bad url", "https://example.com/%21%21"} {
		got := FilenameFromURL(in)
		if !strings.HasPrefix(got, "download-") || !strings.HasSuffix(got, ".csv") {
			t.Fatalf("FilenameFromURL(%q) = %q, want download-<hash>.csv", in, got)
		}
	}
}
