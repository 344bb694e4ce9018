// Package sqlite provides the relational SQLite drivers for vdba.
//
// Two drivers are registered with the default registry on import, one per
// database/sql engine:
//   - "sqlite3": github.com/mattn/go-sqlite3 (cgo)
//   - "sqlite": modernc.org/sqlite (pure Go)
//
// Both accept the same options:
//
//	path          database file, or ":memory:" (required)
//	wal_mode      enable Write-Ahead Logging (default true)
//	busy_timeout  seconds to wait for a lock (default 5)
//
// Handles are built on github.com/jmoiron/sqlx, so operations can scan into
// structs and bind named parameters:
//
//	err := conn.RunTransaction(ctx, vdba.ReadWrite, func(ctx context.Context, h vdba.Database) error {
//	    db, err := vdba.As[*sqlite.Database](h)
//	    if err != nil {
//	        return err
//	    }
//	    _, err = db.NamedExecContext(ctx, "INSERT INTO users (name) VALUES (:name)", u)
//	    return err
//	})
//
// Transactions:
//   - Read-only connections run with query_only for the whole session.
//   - A readonly transaction on a read-write connection switches query_only
//     on for its duration. Writes then fail with vdba.ErrReadOnly.
//   - Nested transactions are savepoints on the enclosing transaction.
//
// The pool holds a single connection: SQLite has one writer and the
// query_only flag is per connection.
//
// Schema migrations are embedded .up.sql/.down.sql files applied with
// Migrate or a Migrator.
package sqlite
