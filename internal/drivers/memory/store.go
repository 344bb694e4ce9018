package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Document is a stored document. The "_id" field holds its ID.
type Document map[string]any

// IDField is the document field holding the document ID.
const IDField = "_id"

// clone deep-copies d. Nested documents, maps and slices are copied; other
// values are shared.
func (d Document) clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case Document:
		return v.clone()
	case map[string]any:
		return map[string]any(Document(v).clone())
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []Document:
		if v == nil {
			return v
		}
		out := make([]Document, len(v))
		for i, e := range v {
			out[i] = e.clone()
		}
		return out
	default:
		return v
	}
}

// ID returns the document's ID, or "" if it has none.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// view is something documents can be read from: the committed store or an
// enclosing transaction.
type view interface {
	get(coll, id string) (Document, bool)
	ids(coll string) []string
	collections() []string
}

// store is a named in-process database.
type store struct {
	mu   sync.RWMutex
	data map[string]map[string]Document

	// writer admits one read-write transaction at a time.
	writer chan struct{}
}

func newStore() *store {
	return &store{
		data:   make(map[string]map[string]Document),
		writer: make(chan struct{}, 1),
	}
}

func (s *store) get(coll, id string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.data[coll][id]
	return doc, ok
}

func (s *store) ids(coll string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Collect(maps.Keys(s.data[coll]))
}

func (s *store) collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for name, docs := range s.data {
		if len(docs) > 0 {
			out = append(out, name)
		}
	}
	return out
}

// apply commits a set of writes atomically. A nil document is a delete.
func (s *store) apply(writes map[string]map[string]Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for coll, docs := range writes {
		for id, doc := range docs {
			if doc == nil {
				delete(s.data[coll], id)
				continue
			}
			if s.data[coll] == nil {
				s.data[coll] = make(map[string]Document)
			}
			s.data[coll][id] = doc
		}
	}
}

func (s *store) acquireWriter(ctx context.Context) error {
	select {
	case s.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *store) releaseWriter() {
	<-s.writer
}

// overlay buffers a transaction's writes over its parent view.
type overlay struct {
	parent view
	mu     sync.Mutex
	writes map[string]map[string]Document
}

func newOverlay(parent view) *overlay {
	return &overlay{parent: parent, writes: make(map[string]map[string]Document)}
}

func (o *overlay) get(coll, id string) (Document, bool) {
	o.mu.Lock()
	doc, buffered := o.writes[coll][id]
	o.mu.Unlock()
	if buffered {
		return doc, doc != nil
	}
	return o.parent.get(coll, id)
}

func (o *overlay) ids(coll string) []string {
	seen := make(map[string]bool)
	for _, id := range o.parent.ids(coll) {
		seen[id] = true
	}
	o.mu.Lock()
	for id, doc := range o.writes[coll] {
		seen[id] = doc != nil
	}
	o.mu.Unlock()

	var out []string
	for id, live := range seen {
		if live {
			out = append(out, id)
		}
	}
	return out
}

func (o *overlay) collections() []string {
	var out []string
	for _, name := range o.parent.collections() {
		if len(o.ids(name)) > 0 {
			out = append(out, name)
		}
	}
	o.mu.Lock()
	colls := slices.Collect(maps.Keys(o.writes))
	o.mu.Unlock()
	for _, name := range colls {
		if !slices.Contains(out, name) && len(o.ids(name)) > 0 {
			out = append(out, name)
		}
	}
	return out
}

func (o *overlay) put(coll, id string, doc Document) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.writes[coll] == nil {
		o.writes[coll] = make(map[string]Document)
	}
	o.writes[coll][id] = doc
}

// take returns the buffered writes and clears the overlay.
func (o *overlay) take() map[string]map[string]Document {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := o.writes
	o.writes = make(map[string]map[string]Document)
	return w
}

// merge copies writes into o.
func (o *overlay) merge(writes map[string]map[string]Document) {
	for coll, docs := range writes {
		for id, doc := range docs {
			o.put(coll, id, doc)
		}
	}
}
