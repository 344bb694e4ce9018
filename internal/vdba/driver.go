package vdba

import "context"

// StoreKind classifies the data model of a driver's engine.
type StoreKind string

// Store kinds.
const (
	KindDocument   StoreKind = "document"
	KindColumn     StoreKind = "column"
	KindKeyValue   StoreKind = "keyvalue"
	KindRelational StoreKind = "relational"
)

// Capabilities describes what a driver's engine supports.
type Capabilities struct {
	// Kind is the engine's data model.
	Kind StoreKind

	// Transactions reports whether sessions implement Transactor. When false
	// the runner serialises operations instead (see RunTransaction).
	Transactions bool

	// NestedTransactions reports whether an active Tx implements Transactor
	// (savepoints or an equivalent).
	NestedTransactions bool
}

// Driver builds engine sessions for a ConnectionConfig.
//
// Implementations are registered with a Registry and must be safe for
// concurrent use: many connections may open sessions at the same time.
type Driver interface {
	// Name is the identity configs use to select this driver.
	Name() string

	// Capabilities reports what the engine supports.
	Capabilities() Capabilities

	// OpenSession establishes an engine session for cfg. The config is the
	// connection's private clone. Errors are reported as engine failures.
	OpenSession(ctx context.Context, cfg ConnectionConfig) (Session, error)
}

// Session is one live engine session owned by a Connection.
type Session interface {
	// Server returns the handle for the server the session is connected to.
	Server() Server

	// Database returns the handle for the session's database.
	Database() Database

	// Close releases the session. After Close, handles obtained from the
	// session must fail with ErrStaleHandle.
	Close(ctx context.Context) error
}

// Transactor is implemented by sessions (and, for nesting, transactions)
// that can begin an engine-level transaction.
type Transactor interface {
	Begin(ctx context.Context, mode Mode) (Tx, error)
}

// Tx is an engine transaction. Exactly one of Commit or Rollback is called
// by the runner. The handle returned by Database is scoped to the
// transaction and must fail with ErrStaleHandle once it has ended.
type Tx interface {
	Database() Database
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Server is the handle for the engine instance a session is connected to.
type Server interface {
	// Address identifies the server (file path, URL, host:port).
	Address() string

	// Ping verifies the server is reachable.
	Ping(ctx context.Context) error
}

// Database is the handle for a database inside a server. Drivers return
// richer concrete types; use As to reach their query API.
type Database interface {
	Name() string
}

// Operation is a unit of work run inside a transaction. db is scoped to the
// transaction and must not be retained after the operation returns.
type Operation func(ctx context.Context, db Database) error

// As returns db as the concrete handle type T.
//
// Example:
//
//	kv, err := vdba.As[*kv.Database](db)
func As[T Database](db Database) (T, error) {
	t, ok := db.(T)
	if !ok {
		var zero T
		return zero, ErrHandleType
	}
	return t, nil
}
