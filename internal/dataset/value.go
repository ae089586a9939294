// Package dataset defines the in-memory data model shared by the parser, the
// transformer, the storage backends, and the ingest service: loosely typed
// rows, scalar cell values, and the per-dataset metadata record.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a scalar cell: null, string, or number. The zero Value is null.
//
// Numbers are kept as decimals so that values such as fill_na's "0.10"
// survive a JSON round trip through any backend without float drift.
type Value struct {
	kind Kind
	str  string
	num  decimal.Decimal
}

// NullValue returns the null Value.
func NullValue() Value { return Value{} }

// StringValue wraps s.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue wraps d.
func NumberValue(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload and whether v is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the numeric payload and whether v is a number.
func (v Value) Num() (decimal.Decimal, bool) { return v.num, v.kind == KindNumber }

// String renders v for logs and CLI output. Null renders as the empty string.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num.String()
	default:
		return ""
	}
}

// Equal reports whether v and o hold the same variant and payload. Numbers
// compare by value, so 1.0 equals 1.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num.Equal(o.num)
	default:
		return true
	}
}

// MarshalJSON encodes null, a JSON string, or a bare JSON number.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return []byte(v.num.String()), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, strings, and numbers. Booleans, arrays, and
// objects are rejected: rows hold scalars only.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("dataset: empty value")
	}
	switch {
	case bytes.Equal(b, []byte("null")):
		*v = NullValue()
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		d, err := decimal.NewFromString(string(b))
		if err != nil {
			return fmt.Errorf("dataset: number %s: %w", b, err)
		}
		*v = NumberValue(d)
		return nil
	default:
		return fmt.Errorf("dataset: unsupported value %s: want string, number, or null", b)
	}
}

// valueFromToken converts a json.Decoder token into a Value. The decoder must
// have UseNumber enabled.
func valueFromToken(tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(t), nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return Value{}, fmt.Errorf("dataset: number %s: %w", t, err)
		}
		return NumberValue(d), nil
	default:
		return Value{}, fmt.Errorf("dataset: unsupported value %v: want string, number, or null", tok)
	}
}
