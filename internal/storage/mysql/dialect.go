package mysql

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"datasets/internal/storage/sqldoc"
)

var types = sqldoc.Types{Key: "VARCHAR(36)", Text: "LONGTEXT", Int: "BIGINT"}

const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

type dialect struct{}

func (dialect) Name() string { return "mysql" }

func (dialect) Quote(ident string) string { return sqldoc.QuoteWith("`", "`", ident) }

func (dialect) Placeholder(int) string { return "?" }

func (dialect) Page(skip, limit int) string { return fmt.Sprintf("LIMIT %d OFFSET %d", limit, skip) }

func (d dialect) CreateMetaTable(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + d.Quote(table) + " " + sqldoc.MetaTableBody(d.Quote, types) +
		" DEFAULT CHARSET=utf8mb4"
}

func (d dialect) CreateCollection(table string) string {
	return "CREATE TABLE " + d.Quote(table) + " " + sqldoc.CollectionBody(d.Quote, types) +
		" DEFAULT CHARSET=utf8mb4"
}

func (d dialect) DropCollection(table string) string {
	return "DROP TABLE IF EXISTS " + d.Quote(table)
}

func (dialect) LockRow(cols, table, where string) string {
	return "SELECT " + cols + " FROM " + table + " WHERE " + where + " FOR UPDATE"
}

// TransactionalDDL is false: CREATE and DROP TABLE commit implicitly.
func (dialect) TransactionalDDL() bool { return false }

func (dialect) MaxParams() int { return 65535 }

func (dialect) Transient(err error) bool {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == errLockWaitTimeout || me.Number == errDeadlock
	}
	return false
}
