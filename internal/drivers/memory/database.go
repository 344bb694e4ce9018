package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/vdba/internal/vdba"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("memory: document not found")

// ErrDuplicateID is returned by Insert when the ID is already taken.
var ErrDuplicateID = errors.New("memory: duplicate document id")

// Database is the document handle. Documents are deep-copied on the way in
// and out, so callers cannot mutate stored state.
type Database struct {
	name     string
	view     view
	store    *store   // set on the session handle: writes apply directly
	overlay  *overlay // set on transaction handles: writes are buffered
	readOnly bool
	guard    *vdba.Guard
}

// Name implements vdba.Database.
func (db *Database) Name() string { return db.name }

// ReadOnly reports whether writes through this handle are refused.
func (db *Database) ReadOnly() bool { return db.readOnly }

// Insert stores doc in coll and returns its ID. A random UUID is assigned
// when doc has no "_id".
func (db *Database) Insert(coll string, doc Document) (string, error) {
	if err := db.writable(coll); err != nil {
		return "", err
	}
	stored := doc.clone()
	if stored == nil {
		stored = Document{}
	}
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
		stored[IDField] = id
	}
	if _, exists := db.view.get(coll, id); exists {
		return "", fmt.Errorf("%w: %s/%s", ErrDuplicateID, coll, id)
	}
	db.write(coll, id, stored)
	return id, nil
}

// Get returns the document with id.
func (db *Database) Get(coll, id string) (Document, error) {
	if err := db.guard.Check(); err != nil {
		return nil, err
	}
	doc, ok := db.view.get(coll, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, coll, id)
	}
	return doc.clone(), nil
}

// Replace overwrites the document with id. The stored "_id" is always id.
func (db *Database) Replace(coll, id string, doc Document) error {
	if err := db.writable(coll); err != nil {
		return err
	}
	if _, ok := db.view.get(coll, id); !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, coll, id)
	}
	stored := doc.clone()
	if stored == nil {
		stored = Document{}
	}
	stored[IDField] = id
	db.write(coll, id, stored)
	return nil
}

// Delete removes the document with id.
func (db *Database) Delete(coll, id string) error {
	if err := db.writable(coll); err != nil {
		return err
	}
	if _, ok := db.view.get(coll, id); !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, coll, id)
	}
	db.write(coll, id, nil)
	return nil
}

// Find returns the documents of coll matching filter, ordered by ID. A nil
// filter matches everything.
func (db *Database) Find(coll string, filter func(Document) bool) ([]Document, error) {
	if err := db.guard.Check(); err != nil {
		return nil, err
	}
	ids := db.view.ids(coll)
	slices.Sort(ids)

	var out []Document
	for _, id := range ids {
		doc, ok := db.view.get(coll, id)
		if !ok {
			continue
		}
		c := doc.clone()
		if filter == nil || filter(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Count returns the number of documents in coll.
func (db *Database) Count(coll string) (int, error) {
	if err := db.guard.Check(); err != nil {
		return 0, err
	}
	return len(db.view.ids(coll)), nil
}

// Collections returns the names of non-empty collections, sorted.
func (db *Database) Collections() ([]string, error) {
	if err := db.guard.Check(); err != nil {
		return nil, err
	}
	names := db.view.collections()
	slices.Sort(names)
	return names, nil
}

func (db *Database) writable(coll string) error {
	if err := db.guard.Check(); err != nil {
		return err
	}
	if db.readOnly {
		return vdba.ErrReadOnly
	}
	if coll == "" {
		return fmt.Errorf("%w: collection name must not be empty", vdba.ErrUsage)
	}
	return nil
}

func (db *Database) write(coll, id string, doc Document) {
	if db.overlay != nil {
		db.overlay.put(coll, id, doc)
		return
	}
	db.store.apply(map[string]map[string]Document{coll: {id: doc}})
}

// Tx is a memory transaction: writes are buffered in an overlay and applied
// to the parent on commit.
type Tx struct {
	store    *store
	parent   *Tx // nil for the outermost transaction
	overlay  *overlay
	readOnly bool
	guard    vdba.Guard
	database *Database

	endOnce sync.Once
}

func newTx(name string, st *store, parent *Tx, readOnly bool) *Tx {
	var base view = st
	if parent != nil {
		base = parent.overlay
	}
	t := &Tx{store: st, parent: parent, overlay: newOverlay(base), readOnly: readOnly}
	t.database = &Database{
		name:     name,
		view:     t.overlay,
		overlay:  t.overlay,
		readOnly: readOnly,
		guard:    &t.guard,
	}
	return t
}

// Database implements vdba.Tx.
func (t *Tx) Database() vdba.Database { return t.database }

// Begin implements vdba.Transactor. Nested writes land in this transaction
// on commit.
func (t *Tx) Begin(_ context.Context, mode vdba.Mode) (vdba.Tx, error) {
	if err := t.guard.Check(); err != nil {
		return nil, err
	}
	return newTx(t.database.name, t.store, t, t.readOnly || mode == vdba.ReadOnly), nil
}

// Commit implements vdba.Tx.
func (t *Tx) Commit(context.Context) error {
	t.guard.Invalidate()
	writes := t.overlay.take()
	if t.parent != nil {
		t.parent.overlay.merge(writes)
		return nil
	}
	t.store.apply(writes)
	t.end()
	return nil
}

// Rollback implements vdba.Tx.
func (t *Tx) Rollback(context.Context) error {
	t.guard.Invalidate()
	t.overlay.take()
	if t.parent == nil {
		t.end()
	}
	return nil
}

// end releases the store's writer slot held by an outermost read-write
// transaction.
func (t *Tx) end() {
	if t.readOnly {
		return
	}
	t.endOnce.Do(t.store.releaseWriter)
}
