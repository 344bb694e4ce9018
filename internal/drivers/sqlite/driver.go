package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/nerrad567/vdba/internal/vdba"
)

func init() {
	vdba.Register(New(EngineMattn))
	vdba.Register(New(EngineModernc))
}

// Driver opens SQLite sessions through one database/sql engine.
type Driver struct {
	engine string
}

// New returns a driver for engine (EngineMattn or EngineModernc). The
// driver's name is the engine name.
func New(engine string) *Driver {
	return &Driver{engine: engine}
}

// Name implements vdba.Driver.
func (d *Driver) Name() string { return d.engine }

// Capabilities implements vdba.Driver.
func (d *Driver) Capabilities() vdba.Capabilities {
	return vdba.Capabilities{
		Kind:               vdba.KindRelational,
		Transactions:       true,
		NestedTransactions: true,
	}
}

// OpenSession implements vdba.Driver.
func (d *Driver) OpenSession(ctx context.Context, cfg vdba.ConnectionConfig) (vdba.Session, error) {
	s, err := d.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open is OpenSession with a concrete result, for drivers layered on top of
// SQLite. cfg's driver name is not checked.
func (d *Driver) Open(ctx context.Context, cfg vdba.ConnectionConfig) (*Session, error) {
	opts, err := ParseOptions(cfg)
	if err != nil {
		return nil, err
	}
	db, err := openDB(ctx, d.engine, opts)
	if err != nil {
		return nil, err
	}

	s := &Session{
		db:   db,
		opts: opts,
	}
	s.server = &Server{engine: d.engine, path: opts.Path, db: db, guard: &s.guard}
	s.database = &Database{
		name:     databaseName(opts.Path),
		ext:      db,
		db:       db,
		readOnly: opts.ReadOnly,
		guard:    &s.guard,
	}
	return s, nil
}

func databaseName(path string) string {
	if path == MemoryPath {
		return "memory"
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// Session is an open SQLite pool.
//
// Thread Safety: the pool holds a single connection. While a transaction is
// active, statements issued through the session's Database wait for it to
// finish; operations must use the transaction's Database.
type Session struct {
	db       *sqlx.DB
	opts     Options
	guard    vdba.Guard
	server   *Server
	database *Database
}

// Server implements vdba.Session.
func (s *Session) Server() vdba.Server { return s.server }

// Database implements vdba.Session.
func (s *Session) Database() vdba.Database { return s.database }

// SQL returns the session-level database handle.
func (s *Session) SQL() *Database { return s.database }

// Options returns the options the session was opened with.
func (s *Session) Options() Options { return s.opts }

// Begin implements vdba.Transactor.
func (s *Session) Begin(ctx context.Context, mode vdba.Mode) (vdba.Tx, error) {
	tx, err := s.BeginTx(ctx, mode)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// BeginTx starts a transaction. A readonly transaction on a read-write
// session switches query_only on until it ends.
func (s *Session) BeginTx(ctx context.Context, mode vdba.Mode) (*Tx, error) {
	if err := s.guard.Check(); err != nil {
		return nil, err
	}
	stx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}

	t := &Tx{
		session:  s,
		tx:       stx,
		readOnly: s.opts.ReadOnly || mode == vdba.ReadOnly,
		counter:  new(int),
	}
	if mode == vdba.ReadOnly && !s.opts.ReadOnly {
		if err := setQueryOnly(ctx, stx, true); err != nil {
			stx.Rollback() //nolint:errcheck // Best effort cleanup on error path
			return nil, err
		}
		t.queryOnly = true
	}
	t.database = t.handle()
	return t, nil
}

// Close implements vdba.Session.
func (s *Session) Close(context.Context) error {
	s.guard.Invalidate()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Server is the SQLite server handle: the database file.
type Server struct {
	engine string
	path   string
	db     *sqlx.DB
	guard  *vdba.Guard
}

// Address implements vdba.Server.
func (s *Server) Address() string {
	return s.engine + "://" + s.path
}

// Ping verifies the database is accessible and functioning.
func (s *Server) Ping(ctx context.Context) error {
	if err := s.guard.Check(); err != nil {
		return err
	}
	var result int
	if err := s.db.QueryRowxContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func setQueryOnly(ctx context.Context, e sqlx.ExecerContext, on bool) error {
	stmt := "PRAGMA query_only = 0"
	if on {
		stmt = "PRAGMA query_only = 1"
	}
	if _, err := e.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("setting query_only: %w", err)
	}
	return nil
}
