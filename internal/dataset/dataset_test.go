package dataset

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Value
// -----------------------------------------------------------------------------

func TestValue_JSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   Value
		want string
	}{
		{name: "null", in: NullValue(), want: `null`},
		{name: "string", in: StringValue("Jane"), want: `"Jane"`},
		{name: "empty_string", in: StringValue(""), want: `""`},
		{name: "number", in: NumberValue(decimal.RequireFromString("0.10")), want: `0.1`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			b, err := json.Marshal(c.in)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(b) != c.want {
				t.Fatalf("marshal = %s, want %s", b, c.want)
			}
			var back Value
			if err := json.Unmarshal(b, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !back.Equal(c.in) {
				t.Fatalf("round trip = %#v, want %#v", back, c.in)
			}
		})
	}
}

func TestValue_UnmarshalRejectsNonScalars(t *testing.T) {
	t.Parallel()

	for _, in := range []string{`true`, `[1]`, `{"a":1}`} {
		var v Value
		if err := json.Unmarshal([]byte(in), &v); err == nil {
			t.Fatalf("unmarshal %s: expected error", in)
		}
	}
}

func TestValue_EqualComparesNumbersByValue(t *testing.T) {
	t.Parallel()

	a := NumberValue(decimal.RequireFromString("1.0"))
	b := NumberValue(decimal.NewFromInt(1))
	if !a.Equal(b) {
		t.Fatalf("1.0 != 1")
	}
	if StringValue("1").Equal(b) {
		t.Fatalf("string \"1\" must not equal number 1")
	}
	if !NullValue().Equal(Value{}) {
		t.Fatalf("zero Value must be null")
	}
}

// -----------------------------------------------------------------------------
// Row
// -----------------------------------------------------------------------------

func TestRow_KeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	var r Row
	r.Set("b", StringValue("1"))
	r.Set("a", StringValue("2"))
	r.Set("b", StringValue("3")) // update in place

	if got, want := r.Keys(), []string{"b", "a"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	if v, _ := r.Get("b"); v.String() != "3" {
		t.Fatalf("b = %q, want 3", v.String())
	}

	if !r.Delete("b") || r.Delete("missing") {
		t.Fatalf("Delete results unexpected")
	}
	if got := r.Keys(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("keys after delete = %v", got)
	}
}

func TestRow_JSONPreservesKeyOrder(t *testing.T) {
	t.Parallel()

	const doc = `{"zeta":"z","alpha":null,"mid":42}`
	var r Row
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, want := r.Keys(), []string{"zeta", "alpha", "mid"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != doc {
		t.Fatalf("marshal = %s, want %s", out, doc)
	}
}

func TestRow_UnmarshalRejectsNested(t *testing.T) {
	t.Parallel()

	for _, in := range []string{`{"a":{"b":1}}`, `{"a":[1]}`, `[1,2]`, `{"a":false}`} {
		var r Row
		if err := json.Unmarshal([]byte(in), &r); err == nil {
			t.Fatalf("unmarshal %s: expected error", in)
		}
	}
}

func TestRow_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	orig := RowOf([]string{"a"}, StringValue("x"))
	c := orig.Clone()
	c.Set("a", StringValue("y"))
	c.Set("b", NullValue())

	if v, _ := orig.Get("a"); v.String() != "x" {
		t.Fatalf("original mutated: a=%q", v.String())
	}
	if orig.Len() != 1 {
		t.Fatalf("original grew to %d keys", orig.Len())
	}
}

// -----------------------------------------------------------------------------
// ComputeMetadata / Checksum
// -----------------------------------------------------------------------------

func sampleRows() []Row {
	cols := []string{"name", "age"}
	return []Row{
		RowOf(cols, StringValue("Jane"), NullValue()),
		RowOf(cols, StringValue("Bob"), StringValue("30")),
		RowOf(cols, StringValue("Ann"), StringValue("41")),
	}
}

func TestComputeMetadata(t *testing.T) {
	t.Parallel()

	rows := sampleRows()
	cases := []struct {
		name       string
		sampleSize int
		wantSample int
	}{
		{name: "sample_smaller_than_rows", sampleSize: 2, wantSample: 2},
		{name: "sample_larger_than_rows", sampleSize: 10, wantSample: 3},
		{name: "zero_sample", sampleSize: 0, wantSample: 0},
		{name: "negative_sample", sampleSize: -1, wantSample: 0},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			s := ComputeMetadata([]string{"name", "age"}, rows, c.sampleSize)
			if s.TotalRows != 3 {
				t.Fatalf("TotalRows = %d, want 3", s.TotalRows)
			}
			if len(s.Sample) != c.wantSample {
				t.Fatalf("len(Sample) = %d, want %d", len(s.Sample), c.wantSample)
			}
			for i := range s.Sample {
				if !s.Sample[i].Equal(rows[i]) {
					t.Fatalf("Sample[%d] differs from rows[%d]", i, i)
				}
			}
		})
	}
}

func TestComputeMetadata_CopiesInputs(t *testing.T) {
	t.Parallel()

	cols := []string{"name", "age"}
	rows := sampleRows()
	s := ComputeMetadata(cols, rows, 1)

	cols[0] = "changed"
	rows[0].Set("name", StringValue("changed"))

	if s.Columns[0] != "name" {
		t.Fatalf("summary columns alias the input slice")
	}
	if v, _ := s.Sample[0].Get("name"); v.String() != "Jane" {
		t.Fatalf("summary sample aliases the input rows")
	}
}

func TestChecksum_DependsOnOrderAndContent(t *testing.T) {
	t.Parallel()

	rows := sampleRows()
	base := Checksum(rows)
	if base != Checksum(sampleRows()) {
		t.Fatalf("checksum is not deterministic")
	}

	swapped := []Row{rows[1], rows[0], rows[2]}
	if Checksum(swapped) == base {
		t.Fatalf("checksum ignores row order")
	}

	changed := sampleRows()
	changed[0].Set("age", StringValue("0"))
	if Checksum(changed) == base {
		t.Fatalf("checksum ignores values")
	}
	if len(base) != 16 {
		t.Fatalf("checksum %q is not 16 hex chars", base)
	}
}

func TestChecksum_EncodeFailureIsNotSkipped(t *testing.T) {
	orig := encodeRow
	defer func() { encodeRow = orig }()

	rows := sampleRows()
	skipped := Checksum(rows[1:])

	encodeRow = func(r Row) ([]byte, error) {
		if v, _ := r.Get("name"); v.String() == "Jane" {
			return nil, errors.New("boom")
		}
		return orig(r)
	}
	got := Checksum(rows)
	if got == skipped {
		t.Fatalf("checksum = %s, same as with the failing row dropped", got)
	}

	encodeRow = orig
	if got == Checksum(rows) {
		t.Fatalf("checksum with an encode failure equals the healthy checksum")
	}
}

// -----------------------------------------------------------------------------
// Patch
// -----------------------------------------------------------------------------

func TestPatch_ApplyAndValidate(t *testing.T) {
	t.Parallel()

	name := "  renamed "
	desc := ""
	d := Dataset{Name: "orig", Description: "d", Source: "s", UpdatedAt: time.Unix(1, 0)}

	p := Patch{Name: &name, Description: &desc}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	p.Apply(&d)

	if d.Name != "renamed" || d.Description != "" || d.Source != "s" {
		t.Fatalf("after Apply: %+v", d)
	}
	if !d.UpdatedAt.Equal(time.Unix(1, 0)) {
		t.Fatalf("Apply must not touch UpdatedAt")
	}

	blank := "   "
	if err := (Patch{Name: &blank}).Validate(); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("Validate blank name = %v, want ErrEmptyName", err)
	}
	if !(Patch{}).Empty() {
		t.Fatalf("zero Patch must be empty")
	}
}
