// Package vdbatest provides a scriptable in-memory driver for testing code
// built on package vdba.
//
// The mock driver stores string values by key, supports real (overlay)
// transactions including nesting, and can be told to fail any engine step.
package vdbatest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/nerrad567/vdba/internal/vdba"
)

// DriverName is the name the mock driver registers configs under.
const DriverName = "mock"

// ErrUnreachable is a ready-made engine error for FailOpen.
var ErrUnreachable = errors.New("mock: engine unreachable")

// Calls counts engine calls made through a Driver.
type Calls struct {
	Opens     int
	Closes    int
	Begins    int
	Commits   int
	Rollbacks int
}

// Driver is the mock driver. Stores are shared between sessions that use
// the same "name" option, so two connections can observe each other's
// committed writes.
//
// Thread Safety: All methods are safe for concurrent use.
type Driver struct {
	mu     sync.Mutex
	stores map[string]*store
	calls  Calls

	noTransactions bool
	nested         bool

	openErr     error
	closeErr    error
	beginErr    error
	commitErr   error
	rollbackErr error
	openGate    <-chan struct{}
}

// New returns a mock driver with transactions and nested transactions enabled.
func New() *Driver {
	return &Driver{
		stores: make(map[string]*store),
		nested: true,
	}
}

// Name implements vdba.Driver.
func (d *Driver) Name() string { return DriverName }

// Capabilities implements vdba.Driver.
func (d *Driver) Capabilities() vdba.Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return vdba.Capabilities{
		Kind:               vdba.KindKeyValue,
		Transactions:       !d.noTransactions,
		NestedTransactions: !d.noTransactions && d.nested,
	}
}

// Config returns a mock config for the named store.
func Config(mode vdba.Mode, name string) vdba.ConnectionConfig {
	return vdba.MustConnectionConfig(DriverName, mode, map[string]string{"name": name})
}

// DisableTransactions makes new sessions lack a Transactor, so the runner
// falls back to serialised execution.
func (d *Driver) DisableTransactions() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noTransactions = true
}

// SetNested toggles nested transaction support.
func (d *Driver) SetNested(nested bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nested = nested
}

// FailOpen makes OpenSession return err (nil clears it).
func (d *Driver) FailOpen(err error) { d.setErr(&d.openErr, err) }

// FailClose makes Session.Close return err.
func (d *Driver) FailClose(err error) { d.setErr(&d.closeErr, err) }

// FailBegin makes Begin return err.
func (d *Driver) FailBegin(err error) { d.setErr(&d.beginErr, err) }

// FailCommit makes Commit return err. The transaction is discarded.
func (d *Driver) FailCommit(err error) { d.setErr(&d.commitErr, err) }

// FailRollback makes Rollback return err. The transaction is still discarded.
func (d *Driver) FailRollback(err error) { d.setErr(&d.rollbackErr, err) }

// GateOpen makes OpenSession block until gate is closed or ctx is done.
func (d *Driver) GateOpen(gate <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openGate = gate
}

func (d *Driver) setErr(dst *error, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	*dst = err
}

// Calls returns a snapshot of the call counters.
func (d *Driver) Calls() Calls {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Snapshot returns the committed contents of the named store.
func (d *Driver) Snapshot(name string) map[string]string {
	st := d.store(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]string, len(st.data))
	for k, v := range st.data {
		out[k] = v
	}
	return out
}

func (d *Driver) store(name string) *store {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.stores[name]
	if !ok {
		st = &store{data: make(map[string]string)}
		d.stores[name] = st
	}
	return st
}

// OpenSession implements vdba.Driver.
func (d *Driver) OpenSession(ctx context.Context, cfg vdba.ConnectionConfig) (vdba.Session, error) {
	d.mu.Lock()
	d.calls.Opens++
	gate, openErr, noTx := d.openGate, d.openErr, d.noTransactions
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	name := cfg.OptionDefault("name", "default")
	st := d.store(name)
	base := &session{
		driver: d,
		server: &Server{name: name},
	}
	base.db = &Database{
		name:     name,
		readOnly: cfg.Mode() == vdba.ReadOnly,
		guard:    &base.guard,
		view:     st,
	}
	if noTx {
		return &plainSession{base}, nil
	}
	return &txSession{plainSession{base}, st}, nil
}

type session struct {
	driver *Driver
	guard  vdba.Guard
	server *Server
	db     *Database
}

// plainSession has no Transactor.
type plainSession struct {
	*session
}

func (s *plainSession) Server() vdba.Server     { return s.server }
func (s *plainSession) Database() vdba.Database { return s.db }

func (s *plainSession) Close(context.Context) error {
	s.guard.Invalidate()
	s.server.guard.Invalidate()
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	s.driver.calls.Closes++
	return s.driver.closeErr
}

type txSession struct {
	plainSession
	store *store
}

func (s *txSession) Begin(ctx context.Context, mode vdba.Mode) (vdba.Tx, error) {
	tx, err := begin(s.driver, s.store, s.db.readOnly || mode == vdba.ReadOnly, s.db.name)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Server is the mock server handle.
type Server struct {
	name  string
	guard vdba.Guard
}

// Address implements vdba.Server.
func (s *Server) Address() string { return "mock://" + s.name }

// Ping implements vdba.Server.
func (s *Server) Ping(context.Context) error { return s.guard.Check() }

// view is something values can be read from and written to: the store or
// an enclosing transaction.
type view interface {
	get(key string) (string, bool)
	keys() []string
}

type store struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *store) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *store) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

func (s *store) apply(writes map[string]*string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range writes {
		if v == nil {
			delete(s.data, k)
			continue
		}
		s.data[k] = *v
	}
}

// Database is the mock database handle. Outside a transaction writes go
// straight to the store.
type Database struct {
	name     string
	readOnly bool
	guard    *vdba.Guard
	view     view
	tx       *Tx
}

// Name implements vdba.Database.
func (db *Database) Name() string { return db.name }

// Get returns the value stored under key.
func (db *Database) Get(key string) (string, bool, error) {
	if err := db.guard.Check(); err != nil {
		return "", false, err
	}
	if db.tx != nil {
		v, ok := db.tx.get(key)
		return v, ok, nil
	}
	v, ok := db.view.get(key)
	return v, ok, nil
}

// Put stores value under key.
func (db *Database) Put(key, value string) error {
	return db.write(key, &value)
}

// Delete removes key.
func (db *Database) Delete(key string) error {
	return db.write(key, nil)
}

// Keys returns all visible keys in sorted order.
func (db *Database) Keys() ([]string, error) {
	if err := db.guard.Check(); err != nil {
		return nil, err
	}
	var keys []string
	if db.tx != nil {
		keys = db.tx.keys()
	} else {
		keys = db.view.keys()
	}
	sort.Strings(keys)
	return keys, nil
}

func (db *Database) write(key string, value *string) error {
	if err := db.guard.Check(); err != nil {
		return err
	}
	if db.readOnly {
		return vdba.ErrReadOnly
	}
	if db.tx != nil {
		db.tx.writes[key] = value
		return nil
	}
	if st, ok := db.view.(*store); ok {
		st.apply(map[string]*string{key: value})
	}
	return nil
}

// Tx is a mock transaction: writes are buffered and applied to the parent
// view on commit.
type Tx struct {
	driver *Driver
	parent view
	writes map[string]*string
	guard  vdba.Guard
	db     *Database
}

func begin(d *Driver, parent view, readOnly bool, name string) (*Tx, error) {
	d.mu.Lock()
	d.calls.Begins++
	err := d.beginErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	tx := &Tx{driver: d, parent: parent, writes: make(map[string]*string)}
	tx.db = &Database{name: name, readOnly: readOnly, guard: &tx.guard, tx: tx}
	return tx, nil
}

func (tx *Tx) get(key string) (string, bool) {
	if v, ok := tx.writes[key]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	return tx.parent.get(key)
}

func (tx *Tx) keys() []string {
	seen := make(map[string]bool)
	for _, k := range tx.parent.keys() {
		seen[k] = true
	}
	for k, v := range tx.writes {
		seen[k] = v != nil
	}
	out := make([]string, 0, len(seen))
	for k, live := range seen {
		if live {
			out = append(out, k)
		}
	}
	return out
}

// Database implements vdba.Tx.
func (tx *Tx) Database() vdba.Database { return tx.db }

// Begin starts a nested transaction whose writes land in this one on commit.
func (tx *Tx) Begin(ctx context.Context, mode vdba.Mode) (vdba.Tx, error) {
	if err := tx.guard.Check(); err != nil {
		return nil, err
	}
	nested, err := begin(tx.driver, tx, tx.db.readOnly || mode == vdba.ReadOnly, tx.db.name)
	if err != nil {
		return nil, err
	}
	return nested, nil
}

// Commit implements vdba.Tx.
func (tx *Tx) Commit(context.Context) error {
	tx.guard.Invalidate()

	tx.driver.mu.Lock()
	tx.driver.calls.Commits++
	err := tx.driver.commitErr
	tx.driver.mu.Unlock()
	if err != nil {
		return err
	}

	switch p := tx.parent.(type) {
	case *store:
		p.apply(tx.writes)
	case *Tx:
		for k, v := range tx.writes {
			p.writes[k] = v
		}
	}
	return nil
}

// Rollback implements vdba.Tx.
func (tx *Tx) Rollback(context.Context) error {
	tx.guard.Invalidate()
	tx.writes = nil

	tx.driver.mu.Lock()
	defer tx.driver.mu.Unlock()
	tx.driver.calls.Rollbacks++
	return tx.driver.rollbackErr
}
