// Package kv provides the "kv" key-value driver for vdba.
//
// Values are byte slices grouped in buckets and stored in a SQLite table,
// so the driver inherits real transactions, read-only enforcement and
// savepoint nesting from package sqlite. The schema is embedded in package
// migrations and applied when a read-write session opens.
//
// Options are those of package sqlite plus:
//
//	engine  "sqlite" (modernc.org/sqlite, default) or "sqlite3" (mattn)
//
// Usage:
//
//	err := conn.RunTransaction(ctx, vdba.ReadWrite, func(ctx context.Context, h vdba.Database) error {
//	    store, err := vdba.As[*kv.Store](h)
//	    if err != nil {
//	        return err
//	    }
//	    return store.Put(ctx, "sessions", id, payload)
//	})
package kv
