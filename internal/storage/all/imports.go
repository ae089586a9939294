// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init function of each concrete backend, which registers
// its factory with the storage package. The following kinds become
// available:
//
//   - "postgres" (datasets/internal/storage/postgres)
//   - "mssql"    (datasets/internal/storage/mssql)
//   - "mysql"    (datasets/internal/storage/mysql)
//   - "sqlite"   (datasets/internal/storage/sqlite)
//
// Typical usage:
//
//	import _ "datasets/internal/storage/all"
//
//	st, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
//	if err != nil {
//	    // handle error
//	}
//	defer st.Close()
//
// A binary that supports only a subset of backends can import the backend
// packages it needs directly instead.
package all

import (
	_ "datasets/internal/storage/mssql"
	_ "datasets/internal/storage/mysql"
	_ "datasets/internal/storage/postgres"
	_ "datasets/internal/storage/sqlite"
)
