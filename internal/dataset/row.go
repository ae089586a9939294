package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is an ordered mapping from column name to Value. Keys keep their
// insertion order; setting an existing key updates it in place.
//
// Rows are values with an internal map, so copying a Row shares storage.
// Use Clone before mutating a Row you do not own.
type Row struct {
	keys []string
	vals map[string]Value
}

// NewRow returns an empty Row with room for n columns.
func NewRow(n int) Row {
	return Row{keys: make([]string, 0, n), vals: make(map[string]Value, n)}
}

// RowOf builds a Row from parallel key and value slices. It panics when the
// lengths differ; it is meant for literals in tests and fixtures.
func RowOf(keys []string, vals ...Value) Row {
	if len(keys) != len(vals) {
		panic(fmt.Sprintf("dataset.RowOf: %d keys, %d values", len(keys), len(vals)))
	}
	r := NewRow(len(keys))
	for i, k := range keys {
		r.Set(k, vals[i])
	}
	return r
}

// Len returns the number of keys.
func (r Row) Len() int { return len(r.keys) }

// Keys returns a copy of the keys in order.
func (r Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Get returns the value for key and whether the key is present.
func (r Row) Get(key string) (Value, bool) {
	v, ok := r.vals[key]
	return v, ok
}

// Has reports whether key is present.
func (r Row) Has(key string) bool {
	_, ok := r.vals[key]
	return ok
}

// Set assigns v to key, appending key when it is new.
func (r *Row) Set(key string, v Value) {
	if r.vals == nil {
		r.vals = make(map[string]Value)
	}
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = v
}

// Delete removes key and reports whether it was present.
func (r *Row) Delete(key string) bool {
	if _, ok := r.vals[key]; !ok {
		return false
	}
	delete(r.vals, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
	return true
}

// Each calls fn for every key/value pair in order.
func (r Row) Each(fn func(key string, v Value)) {
	for _, k := range r.keys {
		fn(k, r.vals[k])
	}
}

// Clone returns a deep copy of r.
func (r Row) Clone() Row {
	out := NewRow(len(r.keys))
	for _, k := range r.keys {
		out.keys = append(out.keys, k)
		out.vals[k] = r.vals[k]
	}
	return out
}

// Equal reports whether r and o have the same keys in the same order with
// equal values.
func (r Row) Equal(o Row) bool {
	if len(r.keys) != len(o.keys) {
		return false
	}
	for i, k := range r.keys {
		if o.keys[i] != k {
			return false
		}
		if !r.vals[k].Equal(o.vals[k]) {
			return false
		}
	}
	return true
}

// MarshalJSON writes r as a JSON object with keys in row order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := r.vals[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat JSON object, keeping the document's key order.
// Nested arrays and objects are rejected.
func (r *Row) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("dataset: row must be a JSON object")
	}

	out := NewRow(8)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("dataset: row key %v is not a string", kt)
		}
		vt, err := dec.Token()
		if err != nil {
			return err
		}
		if _, nested := vt.(json.Delim); nested {
			return fmt.Errorf("dataset: row key %q: nested values are not supported", key)
		}
		v, err := valueFromToken(vt)
		if err != nil {
			return fmt.Errorf("dataset: row key %q: %w", key, err)
		}
		out.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

// CloneRows deep-copies a slice of rows.
func CloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
