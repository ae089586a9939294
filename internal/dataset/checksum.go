package dataset

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

var encodeRow = Row.MarshalJSON

// Checksum fingerprints rows in order with xxh3-64. Each row is hashed as its
// canonical JSON followed by a newline, so key order and value kinds both
// contribute. An empty row set hashes the empty input. A row that fails to
// encode is hashed as an error marker with its position, never skipped.
func Checksum(rows []Row) string {
	h := xxh3.New()
	for i, r := range rows {
		b, err := encodeRow(r)
		if err != nil {
			b = []byte(fmt.Sprintf("\x00encode error: row %d: %v", i, err))
		}
		_, _ = h.Write(b)
		_, _ = h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
