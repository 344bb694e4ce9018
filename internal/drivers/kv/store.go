package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/vdba/internal/drivers/sqlite"
	"github.com/nerrad567/vdba/internal/vdba"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Entry is a stored value.
type Entry struct {
	Bucket    string
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

type entryRow struct {
	Bucket    string `db:"bucket"`
	Key       string `db:"key"`
	Value     []byte `db:"value"`
	UpdatedAt string `db:"updated_at"`
}

func (r entryRow) entry() Entry {
	updated, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt) //nolint:errcheck // Format is controlled
	return Entry{Bucket: r.Bucket, Key: r.Key, Value: r.Value, UpdatedAt: updated}
}

// Store is the kv database handle: byte values grouped in buckets.
type Store struct {
	db  *sqlite.Database
	now func() time.Time
}

func newStore(db *sqlite.Database) *Store {
	return &Store{db: db, now: time.Now}
}

// Name implements vdba.Database.
func (s *Store) Name() string { return s.db.Name() }

// Get returns the value stored under bucket/key.
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	e, err := s.Entry(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// Entry returns the entry stored under bucket/key.
func (s *Store) Entry(ctx context.Context, bucket, key string) (Entry, error) {
	if err := validKey(bucket, key); err != nil {
		return Entry{}, err
	}
	var row entryRow
	err := s.db.GetContext(ctx, &row,
		"SELECT bucket, key, value, updated_at FROM kv_entries WHERE bucket = ? AND key = ?",
		bucket, key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	if err != nil {
		return Entry{}, err
	}
	return row.entry(), nil
}

// Put stores value under bucket/key, replacing any previous value.
func (s *Store) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := validKey(bucket, key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO kv_entries (bucket, key, value, updated_at)
		VALUES (:bucket, :key, :value, :updated_at)
		ON CONFLICT (bucket, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, entryRow{
		Bucket:    bucket,
		Key:       key,
		Value:     value,
		UpdatedAt: s.now().UTC().Format(time.RFC3339Nano),
	})
	return err
}

// Delete removes bucket/key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if err := validKey(bucket, key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM kv_entries WHERE bucket = ? AND key = ?", bucket, key,
	)
	return err
}

// List returns the entries of bucket ordered by key.
func (s *Store) List(ctx context.Context, bucket string) ([]Entry, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket must not be empty", vdba.ErrUsage)
	}
	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT bucket, key, value, updated_at FROM kv_entries WHERE bucket = ? ORDER BY key",
		bucket,
	); err != nil {
		return nil, err
	}
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = r.entry()
	}
	return entries, nil
}

// Buckets returns the names of all non-empty buckets.
func (s *Store) Buckets(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names,
		"SELECT DISTINCT bucket FROM kv_entries ORDER BY bucket",
	); err != nil {
		return nil, err
	}
	return names, nil
}

func validKey(bucket, key string) error {
	if bucket == "" || key == "" {
		return fmt.Errorf("%w: bucket and key must not be empty", vdba.ErrUsage)
	}
	return nil
}
