package csv

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// buildHeader turns the first record into unique column names.
//
// Cells are trimmed and mapped through HeaderMap, then optionally normalized.
// Empty names become "Unnamed: <index>" and repeated names get ".1", ".2"...
// suffixes in order of appearance.
func buildHeader(h []string, opt Options) []string {
	h = StripHeaderBOM(h)
	names := make([]string, len(h))
	for i, cell := range h {
		c := strings.TrimSpace(cell)
		if m, ok := opt.HeaderMap[c]; ok {
			names[i] = m
			continue
		}
		if opt.NormalizeHeaders {
			c = normalizeHeader(c)
		}
		names[i] = c
	}
	for i, n := range names {
		if n == "" {
			names[i] = "Unnamed: " + strconv.Itoa(i)
		}
	}
	return dedupe(names)
}

func dedupe(names []string) []string {
	original := make(map[string]struct{}, len(names))
	for _, n := range names {
		original[n] = struct{}{}
	}
	taken := make(map[string]bool, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		if !taken[n] {
			taken[n] = true
			out[i] = n
			continue
		}
		for k := 1; ; k++ {
			cand := n + "." + strconv.Itoa(k)
			if _, clash := original[cand]; clash || taken[cand] {
				continue
			}
			taken[cand] = true
			out[i] = cand
			break
		}
	}
	return out
}

// normalizeHeader folds "Datum Účinnosti (od)" into "datum_ucinnosti_od".
func normalizeHeader(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	underscore := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
