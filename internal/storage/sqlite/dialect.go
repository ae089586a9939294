package sqlite

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"datasets/internal/storage/sqldoc"
)

var types = sqldoc.Types{Key: "TEXT", Text: "TEXT", Int: "INTEGER"}

type dialect struct{}

func (dialect) Name() string { return "sqlite" }

func (dialect) Quote(ident string) string { return sqldoc.QuoteWith(`"`, `"`, ident) }

func (dialect) Placeholder(int) string { return "?" }

func (dialect) Page(skip, limit int) string { return fmt.Sprintf("LIMIT %d OFFSET %d", limit, skip) }

func (d dialect) CreateMetaTable(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + d.Quote(table) + " " + sqldoc.MetaTableBody(d.Quote, types)
}

func (d dialect) CreateCollection(table string) string {
	return "CREATE TABLE " + d.Quote(table) + " " + sqldoc.CollectionBody(d.Quote, types)
}

func (d dialect) DropCollection(table string) string {
	return "DROP TABLE IF EXISTS " + d.Quote(table)
}

// LockRow needs no hint: a single connection serializes all transactions.
func (dialect) LockRow(cols, table, where string) string {
	return "SELECT " + cols + " FROM " + table + " WHERE " + where
}

func (dialect) TransactionalDDL() bool { return true }

func (dialect) MaxParams() int { return 32766 }

// Transient reports BUSY and LOCKED, including their extended codes.
func (dialect) Transient(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
