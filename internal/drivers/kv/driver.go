package kv

import (
	"context"
	"fmt"

	"github.com/nerrad567/vdba/internal/drivers/sqlite"
	"github.com/nerrad567/vdba/internal/vdba"
	"github.com/nerrad567/vdba/migrations"
)

// DriverName is the name the kv driver registers under.
const DriverName = "kv"

func init() {
	vdba.Register(New())
}

// Driver is the key-value driver.
type Driver struct{}

// New returns a kv driver.
func New() *Driver { return &Driver{} }

// Name implements vdba.Driver.
func (d *Driver) Name() string { return DriverName }

// Capabilities implements vdba.Driver.
func (d *Driver) Capabilities() vdba.Capabilities {
	return vdba.Capabilities{
		Kind:               vdba.KindKeyValue,
		Transactions:       true,
		NestedTransactions: true,
	}
}

// OpenSession implements vdba.Driver. Read-write sessions apply pending
// schema migrations before returning.
func (d *Driver) OpenSession(ctx context.Context, cfg vdba.ConnectionConfig) (vdba.Session, error) {
	engine := cfg.OptionDefault("engine", sqlite.EngineModernc)
	if engine != sqlite.EngineModernc && engine != sqlite.EngineMattn {
		return nil, fmt.Errorf("%w: option engine must be %q or %q", vdba.ErrUsage, sqlite.EngineModernc, sqlite.EngineMattn)
	}

	sess, err := sqlite.New(engine).Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Mode() == vdba.ReadWrite {
		if err := sqlite.Migrate(ctx, sess.SQL(), migrations.FS, migrations.Dir); err != nil {
			sess.Close(ctx) //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("migrating schema: %w", err)
		}
	}

	return &Session{sql: sess, store: newStore(sess.SQL())}, nil
}

// Session is a kv session over a SQLite session.
type Session struct {
	sql   *sqlite.Session
	store *Store
}

// Server implements vdba.Session.
func (s *Session) Server() vdba.Server { return s.sql.Server() }

// Database implements vdba.Session.
func (s *Session) Database() vdba.Database { return s.store }

// Close implements vdba.Session.
func (s *Session) Close(ctx context.Context) error { return s.sql.Close(ctx) }

// Begin implements vdba.Transactor.
func (s *Session) Begin(ctx context.Context, mode vdba.Mode) (vdba.Tx, error) {
	tx, err := s.sql.BeginTx(ctx, mode)
	if err != nil {
		return nil, err
	}
	return wrapTx(tx), nil
}

// Tx is a kv transaction.
type Tx struct {
	sql   *sqlite.Tx
	store *Store
}

func wrapTx(tx *sqlite.Tx) *Tx {
	return &Tx{sql: tx, store: newStore(tx.SQL())}
}

// Database implements vdba.Tx.
func (t *Tx) Database() vdba.Database { return t.store }

// Commit implements vdba.Tx.
func (t *Tx) Commit(ctx context.Context) error { return t.sql.Commit(ctx) }

// Rollback implements vdba.Tx.
func (t *Tx) Rollback(ctx context.Context) error { return t.sql.Rollback(ctx) }

// Begin implements vdba.Transactor.
func (t *Tx) Begin(ctx context.Context, mode vdba.Mode) (vdba.Tx, error) {
	nested, err := t.sql.Begin(ctx, mode)
	if err != nil {
		return nil, err
	}
	return wrapTx(nested.(*sqlite.Tx)), nil
}
