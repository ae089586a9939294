// Package sqldoc stores datasets in any database/sql backend: one metadata
// table plus one (seq, doc) table per dataset. Backends differ only in their
// Dialect.
package sqldoc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between backends.
type Dialect interface {
	// Name is the storage kind, used in error ops and logs.
	Name() string

	// Quote quotes one identifier.
	Quote(ident string) string

	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string

	// Page renders the paging clause appended after ORDER BY. limit is > 0.
	Page(skip, limit int) string

	// CreateMetaTable returns idempotent DDL for the metadata table.
	CreateMetaTable(table string) string

	// CreateCollection returns DDL for a new row collection.
	CreateCollection(table string) string

	// DropCollection returns DDL that drops a row collection if it exists.
	DropCollection(table string) string

	// LockRow turns "SELECT cols FROM table WHERE where" into a query that
	// locks the selected row for the rest of the transaction.
	LockRow(cols, table, where string) string

	// TransactionalDDL reports whether CREATE/DROP TABLE take part in the
	// surrounding transaction.
	TransactionalDDL() bool

	// MaxParams is the bind-parameter limit of one statement.
	MaxParams() int

	// Transient reports whether a driver error is worth retrying.
	Transient(err error) bool
}

// BulkLoader is implemented by dialects whose driver has a bulk-copy path
// that beats multi-row INSERT. BulkLoad writes (seq, doc) pairs into table
// inside tx and returns the number of rows written.
type BulkLoader interface {
	BulkLoad(ctx context.Context, tx *sql.Tx, table string, rows [][]any) (int64, error)
}

// Types lists the column types a dialect uses in its DDL.
type Types struct {
	Key  string // primary-key id
	Text string // unbounded text
	Int  string // 64-bit integer
}

// metaColumns is the column order used by every metadata query.
var metaColumns = []string{
	"id", "name", "description", "source", "columns", "total_rows", "sample",
	"collection_name", "file_path", "checksum", "version", "created_at", "updated_at",
}

// MetaTableBody renders the parenthesized column list of the metadata table.
func MetaTableBody(q func(string) string, t Types) string {
	cols := []string{
		q("id") + " " + t.Key + " NOT NULL PRIMARY KEY",
		q("name") + " " + t.Text + " NOT NULL",
		q("description") + " " + t.Text + " NOT NULL",
		q("source") + " " + t.Text + " NOT NULL",
		q("columns") + " " + t.Text + " NOT NULL",
		q("total_rows") + " " + t.Int + " NOT NULL",
		q("sample") + " " + t.Text + " NOT NULL",
		q("collection_name") + " " + t.Text + " NOT NULL",
		q("file_path") + " " + t.Text + " NOT NULL",
		q("checksum") + " " + t.Text + " NOT NULL",
		q("version") + " " + t.Int + " NOT NULL",
		q("created_at") + " " + t.Int + " NOT NULL",
		q("updated_at") + " " + t.Int + " NOT NULL",
	}
	return "(\n  " + strings.Join(cols, ",\n  ") + "\n)"
}

// CollectionBody renders the parenthesized column list of a row collection.
func CollectionBody(q func(string) string, t Types) string {
	return fmt.Sprintf("(%s %s NOT NULL PRIMARY KEY, %s %s NOT NULL)", q("seq"), t.Int, q("doc"), t.Text)
}

// QuoteWith doubles embedded closing quotes and wraps ident.
func QuoteWith(open, close string, ident string) string {
	return open + strings.ReplaceAll(ident, close, close+close) + close
}
