package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/nerrad567/vdba/internal/vdba"
)

// Database is the handle operations query through. Outside a transaction it
// runs statements on the session pool; inside one, on the transaction.
//
// All queries use ? placeholders. Named queries use sqlx :name binding.
type Database struct {
	name     string
	ext      sqlx.ExtContext
	db       *sqlx.DB // nil inside a transaction
	readOnly bool
	guard    *vdba.Guard
}

// Name implements vdba.Database.
func (d *Database) Name() string { return d.name }

// ReadOnly reports whether writes through this handle are refused.
func (d *Database) ReadOnly() bool { return d.readOnly }

// ExecContext executes a statement that doesn't return rows.
func (d *Database) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := d.guard.Check(); err != nil {
		return nil, err
	}
	res, err := d.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, d.wrap("executing query", err)
	}
	return res, nil
}

// NamedExecContext executes a statement with :name parameters bound from arg
// (a struct with db tags or a map).
func (d *Database) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	if err := d.guard.Check(); err != nil {
		return nil, err
	}
	res, err := sqlx.NamedExecContext(ctx, d.ext, query, arg)
	if err != nil {
		return nil, d.wrap("executing named query", err)
	}
	return res, nil
}

// GetContext scans a single row into dest.
func (d *Database) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if err := d.guard.Check(); err != nil {
		return err
	}
	if err := sqlx.GetContext(ctx, d.ext, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return d.wrap("querying row", err)
	}
	return nil
}

// SelectContext scans all rows into dest, a pointer to a slice.
func (d *Database) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	if err := d.guard.Check(); err != nil {
		return err
	}
	if err := sqlx.SelectContext(ctx, d.ext, dest, query, args...); err != nil {
		return d.wrap("querying rows", err)
	}
	return nil
}

// QueryxContext runs a query and returns the rows for manual scanning. The
// caller must close them.
func (d *Database) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	if err := d.guard.Check(); err != nil {
		return nil, err
	}
	rows, err := d.ext.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, d.wrap("querying rows", err)
	}
	return rows, nil
}

// wrap adds vdba.ErrReadOnly to engine errors caused by query_only.
func (d *Database) wrap(op string, err error) error {
	if d.readOnly && isReadOnlyErr(err) {
		return fmt.Errorf("%s: %w: %w", op, vdba.ErrReadOnly, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isReadOnlyErr matches SQLITE_READONLY as reported by both engines.
func isReadOnlyErr(err error) bool {
	return strings.Contains(err.Error(), "readonly database")
}

// inTx runs fn inside a transaction: the enclosing one when d is a
// transaction handle, otherwise a new one committed when fn succeeds.
func (d *Database) inTx(ctx context.Context, fn func(sqlx.ExtContext) error) error {
	if err := d.guard.Check(); err != nil {
		return err
	}
	if d.db == nil {
		return fn(d.ext)
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Tx is a SQLite transaction. Nested transactions are savepoints on the
// same engine transaction.
type Tx struct {
	session   *Session
	tx        *sqlx.Tx
	parent    *Tx    // nil for the outermost transaction
	savepoint string // set for nested transactions
	counter   *int   // savepoint names, shared by the whole tree
	readOnly  bool
	queryOnly bool // this level switched query_only on
	guard     vdba.Guard
	database  *Database
}

func (t *Tx) handle() *Database {
	return &Database{
		name:     t.session.database.name,
		ext:      t.tx,
		readOnly: t.readOnly,
		guard:    &t.guard,
	}
}

// Database implements vdba.Tx.
func (t *Tx) Database() vdba.Database { return t.database }

// SQL returns the transaction's database handle.
func (t *Tx) SQL() *Database { return t.database }

// Begin implements vdba.Transactor with a savepoint.
func (t *Tx) Begin(ctx context.Context, mode vdba.Mode) (vdba.Tx, error) {
	if err := t.guard.Check(); err != nil {
		return nil, err
	}

	*t.counter++
	name := fmt.Sprintf("vdba_sp_%d", *t.counter)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("creating savepoint: %w", err)
	}

	nested := &Tx{
		session:   t.session,
		tx:        t.tx,
		parent:    t,
		savepoint: name,
		counter:   t.counter,
		readOnly:  t.readOnly || mode == vdba.ReadOnly,
	}
	if mode == vdba.ReadOnly && !t.readOnly {
		if err := setQueryOnly(ctx, t.tx, true); err != nil {
			t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name) //nolint:errcheck // Best effort cleanup on error path
			return nil, err
		}
		nested.queryOnly = true
	}
	nested.database = nested.handle()
	return nested, nil
}

// Commit implements vdba.Tx. A nested transaction releases its savepoint;
// its writes become durable with the outermost commit.
func (t *Tx) Commit(ctx context.Context) error {
	t.guard.Invalidate()

	if t.parent != nil {
		if t.queryOnly {
			if err := setQueryOnly(ctx, t.tx, false); err != nil {
				return err
			}
		}
		if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+t.savepoint); err != nil {
			return fmt.Errorf("releasing savepoint: %w", err)
		}
		return nil
	}

	err := t.tx.Commit()
	if t.queryOnly {
		err = errors.Join(err, t.session.resetQueryOnly(ctx))
	}
	if err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback implements vdba.Tx. A nested transaction rolls back to its
// savepoint and leaves the enclosing transaction intact.
func (t *Tx) Rollback(ctx context.Context) error {
	t.guard.Invalidate()

	if t.parent != nil {
		_, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+t.savepoint)
		if err == nil {
			_, err = t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+t.savepoint)
		}
		if t.queryOnly {
			err = errors.Join(err, setQueryOnly(ctx, t.tx, false))
		}
		if err != nil {
			return fmt.Errorf("rolling back savepoint: %w", err)
		}
		return nil
	}

	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		// database/sql already rolled back on context cancellation.
		err = nil
	}
	if t.queryOnly {
		err = errors.Join(err, t.session.resetQueryOnly(ctx))
	}
	if err != nil {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// resetQueryOnly switches query_only off on the pooled connection once a
// readonly transaction has released it. It runs even when ctx is cancelled,
// otherwise the session would stay read-only.
func (s *Session) resetQueryOnly(ctx context.Context) error {
	return setQueryOnly(context.WithoutCancel(ctx), s.db, false)
}
