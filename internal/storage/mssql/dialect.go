package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	mssql "github.com/microsoft/go-mssqldb"

	"datasets/internal/storage/sqldoc"
)

var types = sqldoc.Types{Key: "NVARCHAR(36)", Text: "NVARCHAR(MAX)", Int: "BIGINT"}

// transientNumbers are SQL Server error numbers worth retrying: deadlock
// victim, timeout, and the Azure SQL throttling and failover family.
var transientNumbers = map[int32]bool{
	1205:  true,
	-2:    true,
	4060:  true,
	40197: true,
	40501: true,
	40613: true,
	49918: true,
	49919: true,
	49920: true,
}

type dialect struct{}

func (dialect) Name() string { return "mssql" }

func (dialect) Quote(ident string) string { return sqldoc.QuoteWith("[", "]", ident) }

func (dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

func (dialect) Page(skip, limit int) string {
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", skip, limit)
}

func (d dialect) CreateMetaTable(table string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s %s",
		table, d.Quote(table), sqldoc.MetaTableBody(d.Quote, types))
}

func (d dialect) CreateCollection(table string) string {
	return "CREATE TABLE " + d.Quote(table) + " " + sqldoc.CollectionBody(d.Quote, types)
}

func (d dialect) DropCollection(table string) string {
	return "DROP TABLE IF EXISTS " + d.Quote(table)
}

func (dialect) LockRow(cols, table, where string) string {
	return "SELECT " + cols + " FROM " + table + " WITH (UPDLOCK, ROWLOCK) WHERE " + where
}

func (dialect) TransactionalDDL() bool { return true }

// MaxParams stays under the 2100-parameter limit and keeps multi-row
// VALUES lists at or below 1000 rows.
func (dialect) MaxParams() int { return 2000 }

func (dialect) Transient(err error) bool {
	var me mssql.Error
	if !errors.As(err, &me) {
		return false
	}
	return transientNumbers[me.SQLErrorNumber()]
}

// BulkLoad streams one batch through the TDS bulk-copy protocol.
func (dialect) BulkLoad(ctx context.Context, tx *sql.Tx, table string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, "seq", "doc"))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	return res.RowsAffected()
}

var _ sqldoc.BulkLoader = dialect{}
