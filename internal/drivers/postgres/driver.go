package postgres

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nerrad567/vdba/internal/vdba"
)

// DriverName is the name the postgres driver registers under.
const DriverName = "postgres"

const (
	defaultConnectTimeout = 5 * time.Second
	defaultMaxConns       = 4
)

func init() {
	vdba.Register(New())
}

// Driver is the PostgreSQL driver.
type Driver struct{}

// New returns a postgres driver.
func New() *Driver { return &Driver{} }

// Name implements vdba.Driver.
func (d *Driver) Name() string { return DriverName }

// Capabilities implements vdba.Driver.
func (d *Driver) Capabilities() vdba.Capabilities {
	return vdba.Capabilities{
		Kind:               vdba.KindRelational,
		Transactions:       true,
		NestedTransactions: true,
	}
}

// PoolConfig builds the pgxpool configuration for cfg.
//
// Options:
//
//	dsn              libpq connection string or URL (required)
//	connect_timeout  duration, default 5s
//	max_conns        pool size, default 4
//
// Read-only connections set default_transaction_read_only so the server
// refuses writes on every pooled connection.
func PoolConfig(cfg vdba.ConnectionConfig) (*pgxpool.Config, error) {
	dsn, _ := cfg.Option("dsn")
	if dsn == "" {
		return nil, fmt.Errorf("%w: option dsn is required", vdba.ErrUsage)
	}
	timeout, err := cfg.DurationOption("connect_timeout", defaultConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vdba.ErrUsage, err)
	}
	maxConns, err := cfg.IntOption("max_conns", defaultMaxConns)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vdba.ErrUsage, err)
	}
	if maxConns < 1 {
		return nil, fmt.Errorf("%w: option max_conns must be at least 1", vdba.ErrUsage)
	}

	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing dsn: %w", vdba.ErrUsage, err)
	}
	pc.MaxConns = int32(maxConns) //nolint:gosec // Bounded by configuration
	pc.ConnConfig.ConnectTimeout = timeout
	if cfg.Mode() == vdba.ReadOnly {
		pc.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	}
	return pc, nil
}

// OpenSession implements vdba.Driver. The pool is verified with a ping
// before the session is returned.
func (d *Driver) OpenSession(ctx context.Context, cfg vdba.ConnectionConfig) (vdba.Session, error) {
	pc, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("verifying connection: %w", err)
	}

	s := &Session{pool: pool, readOnly: cfg.Mode() == vdba.ReadOnly}
	s.server = &Server{
		address: net.JoinHostPort(pc.ConnConfig.Host, strconv.Itoa(int(pc.ConnConfig.Port))),
		pool:    pool,
		guard:   &s.guard,
	}
	s.database = &Database{
		name:     pc.ConnConfig.Database,
		q:        pool,
		readOnly: s.readOnly,
		guard:    &s.guard,
	}
	return s, nil
}

// Session is an open connection pool.
type Session struct {
	pool     *pgxpool.Pool
	readOnly bool
	guard    vdba.Guard
	server   *Server
	database *Database
}

// Server implements vdba.Session.
func (s *Session) Server() vdba.Server { return s.server }

// Database implements vdba.Session.
func (s *Session) Database() vdba.Database { return s.database }

// Begin implements vdba.Transactor. The access mode is passed to the
// server, which enforces it.
func (s *Session) Begin(ctx context.Context, mode vdba.Mode) (vdba.Tx, error) {
	if err := s.guard.Check(); err != nil {
		return nil, err
	}
	access := pgx.ReadWrite
	if mode == vdba.ReadOnly {
		access = pgx.ReadOnly
	}
	ptx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: access})
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return newTx(ptx, s.database.name, s.readOnly || mode == vdba.ReadOnly, false), nil
}

// Close implements vdba.Session. It waits for acquired connections to be
// released.
func (s *Session) Close(context.Context) error {
	s.guard.Invalidate()
	s.pool.Close()
	return nil
}

// Server is the PostgreSQL server handle.
type Server struct {
	address string
	pool    *pgxpool.Pool
	guard   *vdba.Guard
}

// Address implements vdba.Server.
func (s *Server) Address() string { return s.address }

// Ping implements vdba.Server.
func (s *Server) Ping(ctx context.Context) error {
	if err := s.guard.Check(); err != nil {
		return err
	}
	return s.pool.Ping(ctx)
}
