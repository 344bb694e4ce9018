package memory

import (
	"context"
	"sync"

	"github.com/nerrad567/vdba/internal/vdba"
)

// DriverName is the name the memory driver registers under.
const DriverName = "memory"

const defaultStore = "default"

func init() {
	vdba.Register(New())
}

// Driver is the in-process document store driver. Sessions opened with the
// same "name" option share one store, so separate connections see each
// other's committed writes.
type Driver struct {
	mu     sync.Mutex
	stores map[string]*store
}

// New returns a memory driver with no stores.
func New() *Driver {
	return &Driver{stores: make(map[string]*store)}
}

// Name implements vdba.Driver.
func (d *Driver) Name() string { return DriverName }

// Capabilities implements vdba.Driver.
func (d *Driver) Capabilities() vdba.Capabilities {
	return vdba.Capabilities{
		Kind:               vdba.KindDocument,
		Transactions:       true,
		NestedTransactions: true,
	}
}

// Drop discards the named store. Open sessions keep their reference to it.
func (d *Driver) Drop(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.stores, name)
}

func (d *Driver) store(name string) *store {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.stores[name]
	if !ok {
		st = newStore()
		d.stores[name] = st
	}
	return st
}

// OpenSession implements vdba.Driver. It never fails.
func (d *Driver) OpenSession(ctx context.Context, cfg vdba.ConnectionConfig) (vdba.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := cfg.OptionDefault("name", defaultStore)
	st := d.store(name)

	s := &Session{store: st}
	s.server = &Server{name: name, guard: &s.guard}
	s.database = &Database{
		name:     name,
		view:     st,
		store:    st,
		readOnly: cfg.Mode() == vdba.ReadOnly,
		guard:    &s.guard,
	}
	return s, nil
}

// Session is a connection to a named store.
type Session struct {
	store    *store
	guard    vdba.Guard
	server   *Server
	database *Database
}

// Server implements vdba.Session.
func (s *Session) Server() vdba.Server { return s.server }

// Database implements vdba.Session.
func (s *Session) Database() vdba.Database { return s.database }

// Close implements vdba.Session.
func (s *Session) Close(context.Context) error {
	s.guard.Invalidate()
	return nil
}

// Begin implements vdba.Transactor. Read-write transactions on a store run
// one at a time; Begin waits for the current one to finish or ctx to end.
// Readonly transactions read committed data without waiting.
func (s *Session) Begin(ctx context.Context, mode vdba.Mode) (vdba.Tx, error) {
	if err := s.guard.Check(); err != nil {
		return nil, err
	}
	readOnly := s.database.readOnly || mode == vdba.ReadOnly
	if !readOnly {
		if err := s.store.acquireWriter(ctx); err != nil {
			return nil, err
		}
	}
	return newTx(s.database.name, s.store, nil, readOnly), nil
}

// Server is the memory server handle.
type Server struct {
	name  string
	guard *vdba.Guard
}

// Address implements vdba.Server.
func (s *Server) Address() string { return "memory://" + s.name }

// Ping implements vdba.Server.
func (s *Server) Ping(context.Context) error { return s.guard.Check() }
