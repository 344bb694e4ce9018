package vdba

import (
	"errors"
	"fmt"
)

// Error classes.
//
// Every precondition violation wraps ErrUsage and every failure reported by
// the underlying store wraps ErrEngine, so callers can branch on the class:
//
//	if errors.Is(err, vdba.ErrUsage) {
//	    // programming error, do not retry
//	}
var (
	// ErrUsage marks a caller bug: the operation was rejected before any
	// engine work started.
	ErrUsage = errors.New("vdba: usage fault")

	// ErrEngine marks a failure reported by the underlying store.
	ErrEngine = errors.New("vdba: engine failure")
)

// Usage faults.
var (
	// ErrNotConnected is returned when a handle is requested or a transaction
	// is run on a connection that is not open.
	ErrNotConnected = usage("connection is not open")

	// ErrAlreadyOpen is returned by Open on an open connection.
	ErrAlreadyOpen = usage("connection is already open")

	// ErrTerminal is returned by Open on a connection that was closed after
	// being open. Use Clone to obtain a fresh connection.
	ErrTerminal = usage("connection was closed and cannot be reopened")

	// ErrBusy is returned when a lifecycle operation is already in flight on
	// the same connection.
	ErrBusy = usage("another operation is in progress on this connection")

	// ErrModeViolation is returned when a readwrite transaction is requested
	// on a readonly connection.
	ErrModeViolation = usage("transaction mode not allowed by connection mode")

	// ErrNestedTransaction is returned by a re-entrant RunTransaction when the
	// driver does not support nested transactions.
	ErrNestedTransaction = usage("nested transactions are not supported by this driver")

	// ErrInvalidMode is returned for a mode other than readonly or readwrite.
	ErrInvalidMode = usage("invalid mode (must be readonly or readwrite)")

	// ErrNilOperation is returned when RunTransaction is given a nil operation.
	ErrNilOperation = usage("transaction operation cannot be nil")

	// ErrUnknownDriver is returned when no driver is registered under a name.
	ErrUnknownDriver = usage("unknown driver")

	// ErrDriverMismatch is returned when a config names a different driver
	// than the one asked to build the connection.
	ErrDriverMismatch = usage("config driver does not match")

	// ErrStaleHandle is returned by driver handles used after the session or
	// transaction that produced them has ended.
	ErrStaleHandle = usage("handle used after its session or transaction ended")

	// ErrReadOnly is returned by driver handles when a write is attempted
	// through a readonly connection or transaction.
	ErrReadOnly = usage("write attempted in readonly mode")

	// ErrHandleType is returned by As when the handle is not of the requested type.
	ErrHandleType = usage("handle has unexpected type")
)

// Transaction outcomes that are not caller bugs.
var (
	// ErrOperationPanic is returned when a transaction operation panics.
	// The transaction is rolled back before the error is returned.
	ErrOperationPanic = errors.New("vdba: transaction operation panicked")

	// ErrNoRollback is joined to the error of a failed readwrite operation
	// on an engine without transactions: writes made before the failure
	// could not be undone.
	ErrNoRollback = errors.New("vdba: engine has no transactions, writes were not rolled back")
)

func usage(msg string) error {
	return fmt.Errorf("%w: %s", ErrUsage, msg)
}

// engineErr wraps a driver error as an engine failure.
func engineErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrEngine, op, err)
}

// IsUsageFault reports whether err is a precondition violation.
func IsUsageFault(err error) bool {
	return errors.Is(err, ErrUsage)
}
