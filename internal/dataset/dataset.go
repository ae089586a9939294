package dataset

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyName is returned by Patch.Validate when a patch blanks the name.
var ErrEmptyName = errors.New("dataset: name must not be empty")

// DefaultSampleSize is the number of leading rows kept in Dataset.Sample.
const DefaultSampleSize = 10

// Dataset is the metadata record stored for every ingested table.
//
// Columns, TotalRows, Sample, and Checksum always describe the stored rows
// as of UpdatedAt; only ingest and process write them.
type Dataset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"`
	Columns     []string  `json:"columns"`
	TotalRows   int       `json:"total_rows"`
	Sample      []Row     `json:"sample"`
	Collection  string    `json:"collection_name"`
	FilePath    string    `json:"file_path,omitempty"`
	Checksum    string    `json:"checksum"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summary is the schema-derived part of a Dataset.
type Summary struct {
	Columns   []string
	TotalRows int
	Sample    []Row
	Checksum  string
}

// ComputeMetadata derives a Summary from a schema and its rows. The sample
// is a deep copy of the first sampleSize rows; a non-positive sampleSize
// yields an empty sample.
func ComputeMetadata(columns []string, rows []Row, sampleSize int) Summary {
	cols := make([]string, len(columns))
	copy(cols, columns)

	n := sampleSize
	if n < 0 {
		n = 0
	}
	if n > len(rows) {
		n = len(rows)
	}
	sample := make([]Row, n)
	for i := 0; i < n; i++ {
		sample[i] = rows[i].Clone()
	}

	return Summary{
		Columns:   cols,
		TotalRows: len(rows),
		Sample:    sample,
		Checksum:  Checksum(rows),
	}
}

// Apply copies s onto d and stamps UpdatedAt.
func (s Summary) Apply(d *Dataset, now time.Time) {
	d.Columns = s.Columns
	d.TotalRows = s.TotalRows
	d.Sample = s.Sample
	d.Checksum = s.Checksum
	d.UpdatedAt = now
}

// Patch carries caller-editable descriptive fields. Nil fields are left
// unchanged.
type Patch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Source      *string `json:"source,omitempty"`
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Source == nil
}

// Validate rejects patches that would blank the dataset name.
func (p Patch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

// Apply merges p into d. It does not touch timestamps.
func (p Patch) Apply(d *Dataset) {
	if p.Name != nil {
		d.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Source != nil {
		d.Source = *p.Source
	}
}
