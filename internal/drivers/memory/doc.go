// Package memory provides the "memory" document store driver for vdba.
//
// Stores live in the process and are selected with the "name" option
// (default "default"); every connection to the same name on the same
// driver shares the data. Documents are maps grouped in collections and
// identified by their "_id" field, a random UUID unless the caller sets one.
//
// Transactions buffer writes in an overlay and apply them atomically on
// commit. Read-write transactions on one store run one at a time; readonly
// transactions and handles outside a transaction read committed data.
// Nested transactions stack overlays.
//
// The driver is useful in tests and for the vdba CLI's self-check.
package memory
