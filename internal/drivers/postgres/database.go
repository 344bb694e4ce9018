package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nerrad567/vdba/internal/vdba"
)

// sqlStateReadOnly is read_only_sql_transaction.
const sqlStateReadOnly = "25006"

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Database is the handle operations query through: the pool outside a
// transaction, the pgx transaction inside one.
type Database struct {
	name     string
	q        querier
	readOnly bool

	// guardWrites refuses Exec locally. Set for readonly savepoints inside
	// a read-write transaction, where the server cannot enforce the mode.
	guardWrites bool
	guard       *vdba.Guard
}

// Name implements vdba.Database.
func (d *Database) Name() string { return d.name }

// ReadOnly reports whether writes through this handle are refused.
func (d *Database) ReadOnly() bool { return d.readOnly }

// Exec executes a statement that doesn't return rows.
func (d *Database) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := d.guard.Check(); err != nil {
		return pgconn.CommandTag{}, err
	}
	if d.guardWrites {
		return pgconn.CommandTag{}, fmt.Errorf("executing statement: %w", vdba.ErrReadOnly)
	}
	tag, err := d.q.Exec(ctx, sql, args...)
	if err != nil {
		return pgconn.CommandTag{}, wrap("executing statement", err)
	}
	return tag, nil
}

// Query runs a query. The caller must close the rows.
func (d *Database) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := d.guard.Check(); err != nil {
		return nil, err
	}
	rows, err := d.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrap("querying rows", err)
	}
	return rows, nil
}

// QueryRow runs a query expected to return at most one row. Errors are
// deferred to Scan.
func (d *Database) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := d.guard.Check(); err != nil {
		return errRow{err}
	}
	return d.q.QueryRow(ctx, sql, args...)
}

// Select collects all rows of a query into structs, matching columns to
// field names or db tags.
func Select[T any](ctx context.Context, d *Database, sql string, args ...any) ([]T, error) {
	rows, err := d.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, wrap("collecting rows", err)
	}
	return out, nil
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// wrap adds vdba.ErrReadOnly to server errors caused by a read-only
// transaction.
func wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlStateReadOnly {
		return fmt.Errorf("%s: %w: %w", op, vdba.ErrReadOnly, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Tx is a PostgreSQL transaction. Nested transactions are pgx savepoints.
type Tx struct {
	tx       pgx.Tx
	guard    vdba.Guard
	database *Database
}

func newTx(ptx pgx.Tx, name string, readOnly, guardWrites bool) *Tx {
	t := &Tx{tx: ptx}
	t.database = &Database{
		name:        name,
		q:           ptx,
		readOnly:    readOnly,
		guardWrites: guardWrites,
		guard:       &t.guard,
	}
	return t
}

// Database implements vdba.Tx.
func (t *Tx) Database() vdba.Database { return t.database }

// Begin implements vdba.Transactor with a savepoint.
func (t *Tx) Begin(ctx context.Context, mode vdba.Mode) (vdba.Tx, error) {
	if err := t.guard.Check(); err != nil {
		return nil, err
	}
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating savepoint: %w", err)
	}
	parent := t.database
	readOnly := parent.readOnly || mode == vdba.ReadOnly
	guardWrites := parent.guardWrites || (mode == vdba.ReadOnly && !parent.readOnly)
	return newTx(sp, parent.name, readOnly, guardWrites), nil
}

// Commit implements vdba.Tx.
func (t *Tx) Commit(ctx context.Context) error {
	t.guard.Invalidate()
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback implements vdba.Tx.
func (t *Tx) Rollback(ctx context.Context) error {
	t.guard.Invalidate()
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}
