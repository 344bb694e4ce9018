package vdba

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// state is the lifecycle state of a Connection.
type state int

const (
	stateClosed   state = iota // initial, never opened or last open failed
	stateOpening               // open in flight
	stateOpen                  // session established
	stateClosing               // close in flight
	stateTerminal              // closed after having been open
)

func (s state) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpening:
		return "opening"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Connection is a handle bound to one ConnectionConfig. It owns the
// open/closed lifecycle of an engine session and runs transactions on it.
//
// Lifecycle:
//
//	closed --Open--> open --Close--> terminal
//	   ^               |
//	   +--open failed--+
//
// A connection that has been closed after being open cannot be reopened;
// Clone returns a fresh, unopened connection for the same config.
//
// Thread Safety:
//   - Accessors (Mode, Connected, Server, Database) are safe for concurrent use.
//   - Open, Close and RunTransaction are strictly sequenced: a call made
//     while another one is in flight fails immediately with ErrBusy.
type Connection struct {
	id     string
	driver Driver
	cfg    ConnectionConfig
	caps   Capabilities

	mu       sync.Mutex
	state    state
	session  Session
	server   Server
	database Database
	txDepth  int

	hookMu   sync.RWMutex
	logger   Logger
	observer Observer
}

// NewConnection creates an unopened connection for cfg served by d.
// The connection takes a private clone of cfg.
//
// Returns:
//   - *Connection: Connection in the closed state
//   - error: ErrDriverMismatch if cfg names another driver, or a
//     validation error for cfg
func NewConnection(d Driver, cfg ConnectionConfig) (*Connection, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: driver is nil", ErrUsage)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Driver() != d.Name() {
		return nil, fmt.Errorf("%w: config wants %q, driver is %q", ErrDriverMismatch, cfg.Driver(), d.Name())
	}

	return &Connection{
		id:     uuid.NewString(),
		driver: d,
		cfg:    cfg.Clone(),
		caps:   d.Capabilities(),
		logger: nopLogger{},
	}, nil
}

// Clone returns a new, unopened connection bound to the same driver and a
// clone of this connection's config. Logger and observer are carried over.
func (c *Connection) Clone() *Connection {
	c.hookMu.RLock()
	logger, observer := c.logger, c.observer
	c.hookMu.RUnlock()

	return &Connection{
		id:       uuid.NewString(),
		driver:   c.driver,
		cfg:      c.cfg.Clone(),
		caps:     c.caps,
		logger:   logger,
		observer: observer,
	}
}

// SetLogger sets the logger for lifecycle and transaction messages.
func (c *Connection) SetLogger(l Logger) {
	if l == nil {
		l = nopLogger{}
	}
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.logger = l
}

// SetObserver sets the observer notified of lifecycle and transaction events.
func (c *Connection) SetObserver(o Observer) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.observer = o
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// Driver returns the driver that created the connection.
func (c *Connection) Driver() Driver {
	return c.driver
}

// Capabilities returns the driver capabilities captured at construction.
func (c *Connection) Capabilities() Capabilities {
	return c.caps
}

// Config returns a clone of the connection's config.
func (c *Connection) Config() ConnectionConfig {
	return c.cfg.Clone()
}

// Mode returns the open mode. It never changes for the life of the connection.
func (c *Connection) Mode() Mode {
	return c.cfg.Mode()
}

// Connected reports whether the connection is open.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateOpen
}

// Server returns the server handle of the open session.
//
// Returns:
//   - Server: The handle
//   - error: ErrNotConnected if the connection is not open
func (c *Connection) Server() (Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return nil, ErrNotConnected
	}
	return c.server, nil
}

// Database returns the database handle of the open session.
//
// Do not use this handle from inside a transaction operation; use the
// handle the operation receives instead.
//
// Returns:
//   - Database: The handle
//   - error: ErrNotConnected if the connection is not open
func (c *Connection) Database() (Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return nil, ErrNotConnected
	}
	return c.database, nil
}

// Open establishes the engine session and returns the database handle.
//
// Open is only valid on a connection that has never been open or whose last
// open failed. If the engine refuses, the connection stays closed and Open
// may be retried.
//
// Returns:
//   - Database: The opened database handle
//   - error: A usage fault (ErrAlreadyOpen, ErrTerminal, ErrBusy) or an
//     engine failure wrapping ErrEngine
func (c *Connection) Open(ctx context.Context) (Database, error) {
	if err := c.beginOpen(); err != nil {
		return nil, err
	}
	return c.finishOpen(ctx)
}

// OpenAsync is the callback form of Open. Usage faults are delivered to done
// before OpenAsync returns; otherwise the session is opened on a new
// goroutine and done is called once with the result. done may be nil.
func (c *Connection) OpenAsync(ctx context.Context, done func(Database, error)) {
	if done == nil {
		done = func(Database, error) {}
	}
	if err := c.beginOpen(); err != nil {
		done(nil, err)
		return
	}
	go func() {
		done(c.finishOpen(ctx))
	}()
}

func (c *Connection) beginOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateClosed:
		c.state = stateOpening
		return nil
	case stateOpen:
		return ErrAlreadyOpen
	case stateTerminal:
		return ErrTerminal
	default:
		return ErrBusy
	}
}

func (c *Connection) finishOpen(ctx context.Context) (Database, error) {
	start := time.Now()
	log := c.log()

	var server Server
	var db Database
	sess, err := c.driver.OpenSession(ctx, c.cfg)
	switch {
	case err != nil:
	case sess == nil:
		err = fmt.Errorf("driver %q returned no session", c.driver.Name())
	default:
		server, db = sess.Server(), sess.Database()
		if server == nil || db == nil {
			err = fmt.Errorf("driver %q returned a session without server or database handle", c.driver.Name())
			if closeErr := sess.Close(ctx); closeErr != nil {
				log.Warn("closing incomplete session failed", "connection", c.id, "error", closeErr)
			}
		}
	}
	if err != nil {
		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()

		err = engineErr("open session", err)
		log.Warn("connection open failed", "connection", c.id, "driver", c.cfg.Driver(), "error", err)
		c.emit(EventOpenFailed, c.cfg.Mode(), start, err)
		return nil, err
	}

	c.mu.Lock()
	c.session = sess
	c.server = server
	c.database = db
	c.state = stateOpen
	c.mu.Unlock()

	log.Info("connection opened",
		"connection", c.id,
		"driver", c.cfg.Driver(),
		"mode", c.cfg.Mode(),
		"address", server.Address(),
	)
	c.emit(EventOpened, c.cfg.Mode(), start, nil)
	return db, nil
}

// Close releases the engine session. After Close the connection is
// terminal: Connected is false, handles fault, and Open fails with
// ErrTerminal.
//
// Closing a connection that is not open is a no-op. If the engine reports an
// error while closing, the connection is still treated as closed and the
// error is returned wrapped in ErrEngine.
func (c *Connection) Close(ctx context.Context) error {
	sess, noop, err := c.beginClose()
	if err != nil || noop {
		return err
	}
	return c.finishClose(ctx, sess)
}

// CloseAsync is the callback form of Close. Usage faults and the no-op case
// are delivered to done before CloseAsync returns. done may be nil.
func (c *Connection) CloseAsync(ctx context.Context, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	sess, noop, err := c.beginClose()
	if err != nil || noop {
		done(err)
		return
	}
	go func() {
		done(c.finishClose(ctx, sess))
	}()
}

func (c *Connection) beginClose() (Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateClosed, stateTerminal:
		return nil, true, nil
	case stateOpen:
		if c.txDepth > 0 {
			return nil, false, ErrBusy
		}
		c.state = stateClosing
		return c.session, false, nil
	default:
		return nil, false, ErrBusy
	}
}

func (c *Connection) finishClose(ctx context.Context, sess Session) error {
	start := time.Now()
	err := sess.Close(ctx)

	c.mu.Lock()
	c.state = stateTerminal
	c.session = nil
	c.server = nil
	c.database = nil
	c.mu.Unlock()

	log := c.log()
	if err != nil {
		err = engineErr("close session", err)
		log.Warn("connection closed with error", "connection", c.id, "driver", c.cfg.Driver(), "error", err)
	} else {
		log.Info("connection closed", "connection", c.id, "driver", c.cfg.Driver())
	}
	c.emit(EventClosed, c.cfg.Mode(), start, err)
	return err
}

func (c *Connection) log() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.logger
}

func (c *Connection) emit(kind EventKind, mode Mode, start time.Time, err error) {
	c.hookMu.RLock()
	o := c.observer
	c.hookMu.RUnlock()
	if o == nil {
		return
	}

	now := time.Now()
	o.Observe(Event{
		Kind:         kind,
		ConnectionID: c.id,
		Driver:       c.cfg.Driver(),
		Mode:         mode,
		Time:         now,
		Duration:     now.Sub(start),
		Err:          err,
	})
}
