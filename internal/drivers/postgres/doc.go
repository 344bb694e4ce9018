// Package postgres provides the "postgres" relational driver for vdba,
// built on github.com/jackc/pgx/v5.
//
// A session is a pgxpool.Pool. Transactions map to pgx transactions with
// the matching access mode; nested transactions are savepoints. Read-only
// connections set default_transaction_read_only on every pooled
// connection, and server-side read-only violations (SQLSTATE 25006) are
// reported as vdba.ErrReadOnly.
//
// A readonly transaction nested inside a read-write one cannot change the
// server's access mode; its handle refuses Exec locally instead.
package postgres
