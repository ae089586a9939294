package csv

import (
	"fmt"
	"strings"
	"unicode/utf8"

	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// decodeInput strips a leading byte order mark and transcodes UTF-16 input
// that announces itself with one. Without a BOM the input must already be
// UTF-8.
func decodeInput(raw []byte) ([]byte, error) {
	out, _, err := transform.Bytes(xunicode.BOMOverride(transform.Nop), raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrMalformedInput, err)
	}
	if !utf8.Valid(out) {
		return nil, fmt.Errorf("%w: input is not valid UTF-8", ErrMalformedInput)
	}
	return out, nil
}

// StripHeaderBOM removes a UTF-8 BOM from the first header cell if present.
func StripHeaderBOM(headers []string) []string {
	if len(headers) == 0 {
		return headers
	}
	headers[0] = strings.TrimPrefix(headers[0], utf8BOM)
	return headers
}
