package transformer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"datasets/internal/dataset"
	"datasets/internal/transformer/builtin"
)

// Kind is the "type" of an operation.
type Kind string

const (
	KindDropNA        Kind = "drop_na"
	KindFillNA        Kind = "fill_na"
	KindDropColumns   Kind = "drop_columns"
	KindRenameColumns Kind = "rename_columns"
)

// Rename maps one column name to another.
type Rename = builtin.Rename

// Operation is one cleaning instruction. Which fields matter depends on Kind:
//
//	drop_na         Columns (empty means all)
//	fill_na         Value, Columns (empty means all)
//	drop_columns    Columns
//	rename_columns  Renames, in document order
type Operation struct {
	Kind    Kind
	Columns []string
	Value   dataset.Value
	Renames []Rename
}

// DropNA builds a drop_na operation.
func DropNA(columns ...string) Operation {
	return Operation{Kind: KindDropNA, Columns: columns}
}

// FillNA builds a fill_na operation.
func FillNA(v dataset.Value, columns ...string) Operation {
	return Operation{Kind: KindFillNA, Value: v, Columns: columns}
}

// DropColumns builds a drop_columns operation.
func DropColumns(columns ...string) Operation {
	return Operation{Kind: KindDropColumns, Columns: columns}
}

// RenameColumns builds a rename_columns operation.
func RenameColumns(renames ...Rename) Operation {
	return Operation{Kind: KindRenameColumns, Renames: renames}
}

// Validate checks the operation's structure. It does not look at any schema.
func (op Operation) Validate() error {
	switch op.Kind {
	case KindDropNA, KindDropColumns:
		return nil
	case KindFillNA:
		if op.Value.IsNull() {
			return fmt.Errorf("%w: fill_na requires a non-null value", ErrInvalidOperation)
		}
		return nil
	case KindRenameColumns:
		if op.Renames == nil {
			return fmt.Errorf("%w: rename_columns requires rename_dict", ErrInvalidOperation)
		}
		seen := make(map[string]struct{}, len(op.Renames))
		for _, r := range op.Renames {
			if r.New == "" {
				return fmt.Errorf("%w: rename_columns: empty new name for %q", ErrInvalidOperation, r.Old)
			}
			if _, dup := seen[r.Old]; dup {
				return fmt.Errorf("%w: rename_columns: %q renamed twice", ErrInvalidOperation, r.Old)
			}
			seen[r.Old] = struct{}{}
		}
		return nil
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidOperation)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, op.Kind)
	}
}

// DecodeOperations decodes and validates a JSON array of operations.
func DecodeOperations(b []byte) ([]Operation, error) {
	var ops []Operation
	if err := json.Unmarshal(b, &ops); err != nil {
		if errors.Is(err, ErrInvalidOperation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return ops, nil
}

type wireOperation struct {
	Type       Kind            `json:"type"`
	Columns    []string        `json:"columns,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	RenameDict json.RawMessage `json:"rename_dict,omitempty"`
}

// UnmarshalJSON decodes {"type": ..., ...}. Unknown types and malformed
// fields fail with ErrInvalidOperation.
func (op *Operation) UnmarshalJSON(b []byte) error {
	var w wireOperation
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	out := Operation{Kind: w.Type, Columns: w.Columns}

	switch w.Type {
	case KindDropNA, KindDropColumns:
	case KindFillNA:
		if len(w.Value) > 0 {
			if err := out.Value.UnmarshalJSON(w.Value); err != nil {
				return fmt.Errorf("%w: fill_na value: %v", ErrInvalidOperation, err)
			}
		}
	case KindRenameColumns:
		if len(w.RenameDict) > 0 && !bytes.Equal(bytes.TrimSpace(w.RenameDict), []byte("null")) {
			renames, err := decodeRenameDict(w.RenameDict)
			if err != nil {
				return fmt.Errorf("%w: rename_dict: %v", ErrInvalidOperation, err)
			}
			out.Renames = renames
		}
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidOperation)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, w.Type)
	}
	*op = out
	return nil
}

// MarshalJSON writes the wire form, keeping rename_dict in order.
func (op Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{Type: op.Kind, Columns: op.Columns}
	if op.Kind == KindFillNA {
		v, err := op.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.Value = v
	}
	if op.Kind == KindRenameColumns {
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, r := range op.Renames {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, _ := json.Marshal(r.Old)
			v, _ := json.Marshal(r.New)
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
		buf.WriteByte('}')
		w.RenameDict = buf.Bytes()
	}
	return json.Marshal(w)
}

// decodeRenameDict reads a JSON object of string to string, keeping the
// document order.
func decodeRenameDict(b []byte) ([]Rename, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("want an object")
	}
	out := []Rename{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		vt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		newName, ok := vt.(string)
		if !ok {
			return nil, fmt.Errorf("%q: new name must be a string", kt)
		}
		out = append(out, Rename{Old: kt.(string), New: newName})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}
