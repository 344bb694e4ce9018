package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/vdba/internal/vdba"
)

// Bucket is the influxdb database handle.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Bucket struct {
	name     string
	writer   api.WriteAPIBlocking
	querier  api.QueryAPI
	readOnly bool
	guard    *vdba.Guard

	// batch buffers writes when the handle belongs to a transaction.
	batch *Batch
}

// Name implements vdba.Database.
func (b *Bucket) Name() string { return b.name }

// ReadOnly reports whether writes through this handle are refused.
func (b *Bucket) ReadOnly() bool { return b.readOnly }

// WritePoint writes a point timestamped now.
//
// Example:
//
//	bucket.WritePoint(ctx, "system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]any{"cpu_percent": 45.2, "memory_mb": 512})
func (b *Bucket) WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]any) error {
	return b.WritePointWithTime(ctx, measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with a specific timestamp.
func (b *Bucket) WritePointWithTime(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: point %q has no fields", vdba.ErrUsage, measurement)
	}
	return b.Write(ctx, write.NewPoint(measurement, tags, fields, ts))
}

// Write stores points: immediately in one blocking request, or in the
// transaction's batch.
func (b *Bucket) Write(ctx context.Context, points ...*write.Point) error {
	if err := b.guard.Check(); err != nil {
		return err
	}
	if b.readOnly {
		return vdba.ErrReadOnly
	}
	if len(points) == 0 {
		return nil
	}
	if b.batch != nil {
		b.batch.add(points)
		return nil
	}
	if err := b.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Query runs a Flux query. The caller must close the result.
func (b *Bucket) Query(ctx context.Context, flux string) (*api.QueryTableResult, error) {
	if err := b.guard.Check(); err != nil {
		return nil, err
	}
	res, err := b.querier.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return res, nil
}

// QueryValues runs a Flux query and returns the values of every record.
func (b *Bucket) QueryValues(ctx context.Context, flux string) ([]map[string]any, error) {
	res, err := b.Query(ctx, flux)
	if err != nil {
		return nil, err
	}
	defer res.Close() //nolint:errcheck // Read-only result

	var out []map[string]any
	for res.Next() {
		out = append(out, res.Record().Values())
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return out, nil
}

// Pending returns the number of points buffered by the handle's
// transaction, or 0 outside one.
func (b *Bucket) Pending() int {
	if b.batch == nil {
		return 0
	}
	return b.batch.pending()
}

// Batch is an influxdb transaction: buffered points sent in a single
// request on commit.
type Batch struct {
	parent *Bucket
	guard  vdba.Guard
	bucket *Bucket

	mu     sync.Mutex
	points []*write.Point
}

func newBatch(parent *Bucket, readOnly bool) *Batch {
	b := &Batch{parent: parent}
	b.bucket = &Bucket{
		name:     parent.name,
		writer:   parent.writer,
		querier:  parent.querier,
		readOnly: parent.readOnly || readOnly,
		guard:    &b.guard,
		batch:    b,
	}
	return b
}

func (b *Batch) add(points []*write.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.points = append(b.points, points...)
}

func (b *Batch) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.points)
}

func (b *Batch) take() []*write.Point {
	b.mu.Lock()
	defer b.mu.Unlock()
	points := b.points
	b.points = nil
	return points
}

// Database implements vdba.Tx.
func (b *Batch) Database() vdba.Database { return b.bucket }

// Commit implements vdba.Tx. The points go out in one request, which the
// server does not apply atomically: a failed commit may have stored some of
// them (InfluxDB answers a partial write with 400) and nothing is undone.
func (b *Batch) Commit(ctx context.Context) error {
	b.guard.Invalidate()
	points := b.take()
	if len(points) == 0 {
		return nil
	}
	if err := b.parent.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("%w: %d points: %w", ErrWriteFailed, len(points), err)
	}
	return nil
}

// Rollback implements vdba.Tx.
func (b *Batch) Rollback(context.Context) error {
	b.guard.Invalidate()
	b.take()
	return nil
}
