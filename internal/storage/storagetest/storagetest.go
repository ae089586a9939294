// Package storagetest is a conformance suite shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"testing"

	"datasets/internal/dataset"
	"datasets/internal/storage"
)

// Opener returns a fresh, empty Store. The suite closes it.
type Opener func(t *testing.T) storage.Store

var peopleCols = []string{"name", "age", "city"}

func people() []dataset.Row {
	return []dataset.Row{
		dataset.RowOf(peopleCols, dataset.StringValue("Jane"), dataset.NullValue(), dataset.StringValue("Oslo")),
		dataset.RowOf(peopleCols, dataset.StringValue("Bob"), dataset.StringValue("30"), dataset.NullValue()),
		dataset.RowOf(peopleCols, dataset.StringValue("Ann"), dataset.StringValue("41"), dataset.StringValue("Rome")),
	}
}

func create(t *testing.T, st storage.Store, name string, rows []dataset.Row) *dataset.Dataset {
	t.Helper()
	sum := dataset.ComputeMetadata(peopleCols, rows, 2)
	meta := dataset.Dataset{Name: name, Description: name + " description", Source: "test"}
	sum.Apply(&meta, meta.UpdatedAt)
	d, err := st.CreateDataset(context.Background(), meta, rows)
	if err != nil {
		t.Fatalf("CreateDataset(%s): %v", name, err)
	}
	return d
}

func rowsEqual(a, b []dataset.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Run exercises every Store method against stores returned by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st storage.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateEmpty", testCreateEmpty},
		{"CreateRejectsBlankName", testCreateBlankName},
		{"ListOrderAndPaging", testListPaging},
		{"SearchAndCount", testSearch},
		{"UpdateMetadata", testUpdate},
		{"DeleteDataset", testDelete},
		{"FetchRowsPage", testFetchPage},
		{"ReplaceRows", testReplace},
		{"CommitProcess", testCommit},
		{"CommitProcessConflict", testCommitConflict},
		{"UnknownIDs", testUnknown},
		{"ManyRows", testManyRows},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			tc.fn(t, st)
		})
	}
}

func testCreateAndGet(t *testing.T, st storage.Store) {
	ctx := context.Background()
	rows := people()
	d := create(t, st, "people", rows)

	if d.ID == "" || d.Version != 1 || d.TotalRows != 3 {
		t.Fatalf("created = %+v", d)
	}
	want, _ := storage.ResolveCollection(d.ID)
	if d.Collection != want {
		t.Fatalf("Collection = %q, want %q", d.Collection, want)
	}

	got, err := st.GetDataset(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if got.Name != "people" || got.Checksum != dataset.Checksum(rows) {
		t.Fatalf("GetDataset = %+v", got)
	}
	if !reflect.DeepEqual(got.Columns, peopleCols) {
		t.Fatalf("Columns = %v, want %v", got.Columns, peopleCols)
	}
	if len(got.Sample) != 2 || !got.Sample[0].Equal(rows[0]) {
		t.Fatalf("Sample = %v", got.Sample)
	}
	if !got.CreatedAt.Equal(d.CreatedAt) || !got.UpdatedAt.Equal(d.UpdatedAt) {
		t.Fatalf("timestamps = %v/%v, want %v/%v", got.CreatedAt, got.UpdatedAt, d.CreatedAt, d.UpdatedAt)
	}

	back, err := st.FetchRows(ctx, d.ID)
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if !rowsEqual(back, rows) {
		t.Fatalf("FetchRows = %v, want %v", back, rows)
	}
	if keys := back[0].Keys(); !reflect.DeepEqual(keys, peopleCols) {
		t.Fatalf("row key order = %v, want %v", keys, peopleCols)
	}
}

func testCreateEmpty(t *testing.T, st storage.Store) {
	d := create(t, st, "empty", nil)
	rows, err := st.FetchRows(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Fatalf("FetchRows = %#v, want empty non-nil", rows)
	}
}

func testCreateBlankName(t *testing.T, st storage.Store) {
	_, err := st.CreateDataset(context.Background(), dataset.Dataset{Name: "  "}, people())
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	n, err := st.CountDatasets(context.Background(), "")
	if err != nil || n != 0 {
		t.Fatalf("CountDatasets = %d, %v; want 0", n, err)
	}
}

func testListPaging(t *testing.T, st storage.Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, create(t, st, fmt.Sprintf("ds%d", i), people()[:1]).ID)
	}

	all, err := st.ListDatasets(ctx, 0, 100)
	if err != nil {
		t.Fatalf("ListDatasets: %v", err)
	}
	var got []string
	for _, d := range all {
		got = append(got, d.ID)
	}
	if !reflect.DeepEqual(got, ids) {
		t.Fatalf("order = %v, want %v", got, ids)
	}

	page, err := st.ListDatasets(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListDatasets page: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[1] || page[1].ID != ids[2] {
		t.Fatalf("page = %v", page)
	}

	none, err := st.ListDatasets(ctx, 0, 0)
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("limit 0 = %#v, %v", none, err)
	}
	past, err := st.ListDatasets(ctx, 10, 5)
	if err != nil || len(past) != 0 {
		t.Fatalf("skip past end = %v, %v", past, err)
	}
	if _, err := st.ListDatasets(ctx, -1, 1); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("negative skip err = %v", err)
	}
}

func testSearch(t *testing.T, st storage.Store) {
	ctx := context.Background()
	create(t, st, "Sales 2024", nil)
	create(t, st, "inventory", nil)
	create(t, st, "100%_real", nil)

	cases := []struct {
		q    string
		want int
	}{
		{"sales", 1},
		{"SALES", 1},
		{"description", 3},
		{"%", 1},
		{"_", 1},
		{"nothing", 0},
		{"", 3},
	}
	for _, c := range cases {
		got, err := st.SearchDatasets(ctx, c.q, 0, 10)
		if err != nil {
			t.Fatalf("SearchDatasets(%q): %v", c.q, err)
		}
		if len(got) != c.want {
			t.Fatalf("SearchDatasets(%q) = %d results, want %d", c.q, len(got), c.want)
		}
		n, err := st.CountDatasets(ctx, c.q)
		if err != nil || n != c.want {
			t.Fatalf("CountDatasets(%q) = %d, %v; want %d", c.q, n, err, c.want)
		}
	}
}

func testUpdate(t *testing.T, st storage.Store) {
	ctx := context.Background()
	d := create(t, st, "people", people())

	name, desc := "renamed", ""
	got, err := st.UpdateMetadata(ctx, d.ID, dataset.Patch{Name: &name, Description: &desc})
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if got.Name != "renamed" || got.Description != "" || got.Source != "test" {
		t.Fatalf("updated = %+v", got)
	}
	if got.Version != 2 || !got.UpdatedAt.After(d.UpdatedAt) || !got.CreatedAt.Equal(d.CreatedAt) {
		t.Fatalf("version/timestamps = %d %v %v", got.Version, got.CreatedAt, got.UpdatedAt)
	}
	if got.Checksum != d.Checksum || got.TotalRows != d.TotalRows {
		t.Fatalf("UpdateMetadata touched the summary")
	}

	blank := " "
	if _, err := st.UpdateMetadata(ctx, d.ID, dataset.Patch{Name: &blank}); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("blank name err = %v", err)
	}
}

func testDelete(t *testing.T, st storage.Store) {
	ctx := context.Background()
	d := create(t, st, "people", people())
	keep := create(t, st, "keep", people())

	if err := st.DeleteDataset(ctx, d.ID); err != nil {
		t.Fatalf("DeleteDataset: %v", err)
	}
	if _, err := st.GetDataset(ctx, d.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetDataset after delete = %v", err)
	}
	if _, err := st.FetchRows(ctx, d.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("FetchRows after delete = %v", err)
	}
	if err := st.DeleteDataset(ctx, d.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete = %v", err)
	}
	if rows, err := st.FetchRows(ctx, keep.ID); err != nil || len(rows) != 3 {
		t.Fatalf("other dataset affected: %d rows, %v", len(rows), err)
	}
}

func testFetchPage(t *testing.T, st storage.Store) {
	ctx := context.Background()
	rows := people()
	d := create(t, st, "people", rows)

	page, err := st.FetchRowsPage(ctx, d.ID, 1, 5)
	if err != nil {
		t.Fatalf("FetchRowsPage: %v", err)
	}
	if !rowsEqual(page, rows[1:]) {
		t.Fatalf("page = %v", page)
	}
	empty, err := st.FetchRowsPage(ctx, d.ID, 0, 0)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("limit 0 = %#v, %v", empty, err)
	}
	if _, err := st.FetchRowsPage(ctx, d.ID, 0, -1); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("negative limit err = %v", err)
	}
}

func testReplace(t *testing.T, st storage.Store) {
	ctx := context.Background()
	d := create(t, st, "people", people())

	repl := people()[:1]
	got, err := st.ReplaceRows(ctx, d.ID, repl)
	if err != nil {
		t.Fatalf("ReplaceRows: %v", err)
	}
	if got.TotalRows != 1 || got.Version != 2 || got.Checksum != dataset.Checksum(repl) {
		t.Fatalf("replaced = %+v", got)
	}
	if !reflect.DeepEqual(got.Columns, peopleCols) {
		t.Fatalf("ReplaceRows changed columns: %v", got.Columns)
	}
	back, _ := st.FetchRows(ctx, d.ID)
	if !rowsEqual(back, repl) {
		t.Fatalf("rows = %v", back)
	}
}

func testCommit(t *testing.T, st storage.Store) {
	ctx := context.Background()
	d := create(t, st, "people", people())

	cols := []string{"name"}
	out := []dataset.Row{dataset.RowOf(cols, dataset.StringValue("Jane"))}
	sum := dataset.ComputeMetadata(cols, out, 10)

	got, err := st.CommitProcess(ctx, d.ID, d.Version, out, sum)
	if err != nil {
		t.Fatalf("CommitProcess: %v", err)
	}
	if got.Version != d.Version+1 || got.TotalRows != 1 || !reflect.DeepEqual(got.Columns, cols) {
		t.Fatalf("committed = %+v", got)
	}
	if got.Name != d.Name || !got.CreatedAt.Equal(d.CreatedAt) {
		t.Fatalf("CommitProcess touched identity fields")
	}
	reread, err := st.GetDataset(ctx, d.ID)
	if err != nil || reread.Checksum != sum.Checksum || reread.Version != got.Version {
		t.Fatalf("GetDataset after commit = %+v, %v", reread, err)
	}
	back, _ := st.FetchRows(ctx, d.ID)
	if !rowsEqual(back, out) {
		t.Fatalf("rows = %v", back)
	}
}

func testCommitConflict(t *testing.T, st storage.Store) {
	ctx := context.Background()
	rows := people()
	d := create(t, st, "people", rows)

	name := "bumped"
	if _, err := st.UpdateMetadata(ctx, d.ID, dataset.Patch{Name: &name}); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	_, err := st.CommitProcess(ctx, d.ID, d.Version, nil, dataset.ComputeMetadata(nil, nil, 10))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("stale commit err = %v, want ErrConflict", err)
	}
	back, _ := st.FetchRows(ctx, d.ID)
	if !rowsEqual(back, rows) {
		t.Fatalf("conflicting commit changed rows")
	}

	// Concurrent commits from the same version: exactly one wins.
	cur, _ := st.GetDataset(ctx, d.ID)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, stale int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.CommitProcess(ctx, d.ID, cur.Version, rows[:1], dataset.ComputeMetadata(peopleCols, rows[:1], 10))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, storage.ErrConflict):
				stale++
			default:
				if !storage.IsTransient(err) {
					t.Errorf("concurrent commit: %v", err)
				}
				stale++
			}
		}()
	}
	wg.Wait()
	if ok != 1 || stale != 3 {
		t.Fatalf("concurrent commits: %d ok, %d rejected; want 1 and 3", ok, stale)
	}
}

func testUnknown(t *testing.T, st storage.Store) {
	ctx := context.Background()
	const missing = "00000000-0000-4000-8000-000000000000"
	patch := dataset.Patch{}

	for _, id := range []string{missing, "not-a-uuid", ""} {
		checks := map[string]error{}
		_, checks["GetDataset"] = st.GetDataset(ctx, id)
		_, checks["UpdateMetadata"] = st.UpdateMetadata(ctx, id, patch)
		checks["DeleteDataset"] = st.DeleteDataset(ctx, id)
		_, checks["FetchRows"] = st.FetchRows(ctx, id)
		_, checks["FetchRowsPage"] = st.FetchRowsPage(ctx, id, 0, 0)
		_, checks["ReplaceRows"] = st.ReplaceRows(ctx, id, nil)
		_, checks["CommitProcess"] = st.CommitProcess(ctx, id, 1, nil, dataset.Summary{})
		for op, err := range checks {
			if !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("%s(%q) = %v, want ErrNotFound", op, id, err)
			}
		}
	}
}

func testManyRows(t *testing.T, st storage.Store) {
	ctx := context.Background()
	cols := []string{"i"}
	rows := make([]dataset.Row, 2503)
	for i := range rows {
		rows[i] = dataset.RowOf(cols, dataset.StringValue(fmt.Sprint(i)))
	}
	d := create(t, st, "many", rows)
	back, err := st.FetchRows(ctx, d.ID)
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if !rowsEqual(back, rows) {
		t.Fatalf("round trip of %d rows lost order or content (%d back)", len(rows), len(back))
	}
}

// Reset deletes every dataset in st, for backends whose tests share one
// database.
func Reset(t *testing.T, st storage.Store) {
	t.Helper()
	ctx := context.Background()
	for {
		page, err := st.ListDatasets(ctx, 0, 100)
		if err != nil {
			t.Fatalf("reset: list: %v", err)
		}
		if len(page) == 0 {
			return
		}
		for _, d := range page {
			if err := st.DeleteDataset(ctx, d.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("reset: delete %s: %v", d.ID, err)
			}
		}
	}
}

// DSN returns the value of env or skips the test when it is unset.
func DSN(t *testing.T, env string) string {
	t.Helper()
	dsn := os.Getenv(env)
	if dsn == "" {
		t.Skipf("%s not set", env)
	}
	return dsn
}
