package vdba

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// txKey marks a context as running inside a transaction of conn.
type txKey struct {
	conn *Connection
}

// txScope is the transaction a context belongs to. tx is nil when the
// engine has no transactions and the runner serialises instead. ended is set
// once the operation returns; a context that outlives its transaction
// belongs to the nearest enclosing scope still running, or to none.
type txScope struct {
	tx    Tx
	mode  Mode
	outer *txScope
	ended atomic.Bool
}

// activeScope returns the innermost running transaction of c that ctx
// belongs to. Callers hold c.mu.
func (c *Connection) activeScope(ctx context.Context) *txScope {
	if c.txDepth == 0 {
		return nil
	}
	s, _ := ctx.Value(txKey{c}).(*txScope)
	for ; s != nil; s = s.outer {
		if !s.ended.Load() {
			return s
		}
	}
	return nil
}

// txStart is what beginTx reserved for runTx.
type txStart struct {
	parent  *txScope
	session Session
	db      Database
}

// serialLocks serialises operations per store key for engines without
// transactions. Entries are never removed; the set of keys is bounded by
// configuration.
var serialLocks sync.Map

func serialLock(key string) *sync.Mutex {
	mu, _ := serialLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// RunTransaction runs op inside a transaction of the given mode.
//
// Preconditions are checked before any engine work and reported as usage
// faults; op is not invoked when one fails:
//   - the connection must be open (ErrNotConnected)
//   - mode must be valid and allowed by the connection mode (ErrInvalidMode,
//     ErrModeViolation)
//   - no other transaction may be active on the connection (ErrBusy), unless
//     this is a re-entrant call from inside op, which needs driver support
//     for nesting (ErrNestedTransaction)
//
// Execution:
//   - On engines with transactions, op runs against the transaction's
//     database handle. If op returns nil the transaction is committed,
//     otherwise it is rolled back and op's error is returned unchanged.
//     A panic in op is recovered, the transaction rolled back, and
//     ErrOperationPanic returned.
//   - On engines without transactions, operations on the same store are
//     serialised by a process-wide lock and op runs on the session's
//     database handle. Writes cannot be undone: a failed readwrite op
//     returns its error joined with ErrNoRollback.
//
// The connection stays open and usable whatever the outcome.
func (c *Connection) RunTransaction(ctx context.Context, mode Mode, op Operation) error {
	start, err := c.beginTx(ctx, mode, op)
	if err != nil {
		return err
	}
	return c.runTx(ctx, start, mode, op)
}

// RunTransactionAsync is the callback form of RunTransaction. Usage faults
// are delivered to done before it returns; otherwise the transaction runs on
// a new goroutine and done is called once with the result. done may be nil.
func (c *Connection) RunTransactionAsync(ctx context.Context, mode Mode, op Operation, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	start, err := c.beginTx(ctx, mode, op)
	if err != nil {
		done(err)
		return
	}
	go func() {
		done(c.runTx(ctx, start, mode, op))
	}()
}

func (c *Connection) beginTx(ctx context.Context, mode Mode, op Operation) (txStart, error) {
	if op == nil {
		return txStart{}, ErrNilOperation
	}
	if !mode.Valid() {
		return txStart{}, fmt.Errorf("%w: %q", ErrInvalidMode, string(mode))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		return txStart{}, ErrNotConnected
	}
	if !c.cfg.Mode().Allows(mode) {
		return txStart{}, fmt.Errorf("%w: connection is %s, transaction is %s", ErrModeViolation, c.cfg.Mode(), mode)
	}

	if parent := c.activeScope(ctx); parent != nil {
		if !c.caps.NestedTransactions {
			return txStart{}, ErrNestedTransaction
		}
		if _, ok := parent.tx.(Transactor); !ok {
			return txStart{}, ErrNestedTransaction
		}
		if !parent.mode.Allows(mode) {
			return txStart{}, fmt.Errorf("%w: enclosing transaction is %s", ErrModeViolation, parent.mode)
		}
		c.txDepth++
		return txStart{parent: parent, session: c.session}, nil
	}

	if c.txDepth > 0 {
		return txStart{}, ErrBusy
	}
	c.txDepth = 1
	return txStart{session: c.session, db: c.database}, nil
}

func (c *Connection) endTx() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txDepth--
}

func (c *Connection) runTx(ctx context.Context, start txStart, mode Mode, op Operation) error {
	defer c.endTx()
	began := time.Now()

	var beginner Transactor
	if start.parent != nil {
		beginner = start.parent.tx.(Transactor)
	} else if t, ok := start.session.(Transactor); ok {
		beginner = t
	}

	if beginner == nil {
		return c.runSerialized(ctx, start.db, mode, op, began)
	}

	log := c.log()
	tx, err := beginner.Begin(ctx, mode)
	if err != nil {
		err = engineErr("begin transaction", err)
		log.Warn("transaction begin failed", "connection", c.id, "mode", mode, "error", err)
		c.emit(EventRolledBack, mode, began, err)
		return err
	}
	log.Debug("transaction started", "connection", c.id, "mode", mode, "nested", start.parent != nil)

	scope := &txScope{tx: tx, mode: mode, outer: start.parent}
	opErr := invoke(context.WithValue(ctx, txKey{c}, scope), tx.Database(), op)
	scope.ended.Store(true)
	if opErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Error("transaction rollback failed", "connection", c.id, "error", rbErr)
			opErr = errors.Join(opErr, engineErr("rollback", rbErr))
		}
		log.Debug("transaction rolled back", "connection", c.id, "mode", mode, "error", opErr)
		c.emit(EventRolledBack, mode, began, opErr)
		return opErr
	}

	// A failed commit leaves the engine transaction aborted; drivers must
	// not require a Rollback afterwards.
	if err := tx.Commit(ctx); err != nil {
		err = engineErr("commit", err)
		log.Warn("transaction commit failed", "connection", c.id, "mode", mode, "error", err)
		c.emit(EventRolledBack, mode, began, err)
		return err
	}

	log.Debug("transaction committed", "connection", c.id, "mode", mode)
	c.emit(EventCommitted, mode, began, nil)
	return nil
}

// runSerialized is the best-effort mapping for engines without transactions.
func (c *Connection) runSerialized(ctx context.Context, db Database, mode Mode, op Operation, began time.Time) error {
	mu := serialLock(c.cfg.Key())
	mu.Lock()
	defer mu.Unlock()

	scope := &txScope{mode: mode}
	err := invoke(context.WithValue(ctx, txKey{c}, scope), db, op)
	scope.ended.Store(true)
	if err != nil {
		if mode == ReadWrite {
			err = errors.Join(err, ErrNoRollback)
		}
		c.log().Warn("serialized operation failed", "connection", c.id, "mode", mode, "error", err)
		c.emit(EventRolledBack, mode, began, err)
		return err
	}

	c.emit(EventCommitted, mode, began, nil)
	return nil
}

// invoke runs op, converting a panic into ErrOperationPanic.
func invoke(ctx context.Context, db Database, op Operation) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if pe, ok := p.(error); ok {
				err = fmt.Errorf("%w: %w", ErrOperationPanic, pe)
				return
			}
			err = fmt.Errorf("%w: %v", ErrOperationPanic, p)
		}
	}()
	return op(ctx, db)
}
