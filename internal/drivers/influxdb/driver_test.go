package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/vdba/internal/drivers/influxdb"
	"github.com/nerrad567/vdba/internal/vdba"
)

// fakeServer is a minimal InfluxDB v2 HTTP API: ping, line-protocol
// writes and a canned Flux query result.
type fakeServer struct {
	*httptest.Server

	mu        sync.Mutex
	requests  []string // one entry per write request
	failWrite bool
	unhealthy bool
	queryCSV  string // empty fails queries
	queries   []string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		if fs.unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/api/v2/write"):
		if fs.failWrite {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"code":"invalid","message":"unable to parse points"}`) //nolint:errcheck // Test server
			return
		}
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
		fs.requests = append(fs.requests, r.URL.Query().Get("bucket")+"|"+string(body))
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/api/v2/query"):
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
		fs.queries = append(fs.queries, string(body))
		if fs.queryCSV == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"code":"invalid","message":"compilation failed"}`) //nolint:errcheck // Test server
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		io.WriteString(w, fs.queryCSV) //nolint:errcheck // Test server
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (fs *fakeServer) writes() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.requests...)
}

func (fs *fakeServer) setFailWrite(fail bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failWrite = fail
}

func testConfig(url string, mode vdba.Mode) vdba.ConnectionConfig {
	return vdba.MustConnectionConfig(influxdb.DriverName, mode, map[string]string{
		"url":    url,
		"token":  "vdba-dev-token",
		"org":    "vdba",
		"bucket": "metrics",
	})
}

func openBucket(t *testing.T, url string, mode vdba.Mode) (*vdba.Connection, *influxdb.Bucket) {
	t.Helper()
	conn, err := vdba.NewConnection(influxdb.New(), testConfig(url, mode))
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	db, err := conn.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close(context.Background()) }) //nolint:errcheck // Test cleanup

	bucket, err := vdba.As[*influxdb.Bucket](db)
	if err != nil {
		t.Fatalf("As() error = %v", err)
	}
	return conn, bucket
}

func writeTemp(value float64) vdba.Operation {
	return func(ctx context.Context, db vdba.Database) error {
		b, err := vdba.As[*influxdb.Bucket](db)
		if err != nil {
			return err
		}
		return b.WritePointWithTime(ctx, "temperature",
			map[string]string{"room": "kitchen"},
			map[string]any{"celsius": value},
			time.Unix(1700000000, 0))
	}
}

func TestParseOptions(t *testing.T) {
	good := map[string]string{"url": "http://127.0.0.1:8086", "org": "o", "bucket": "b"}
	o, err := influxdb.ParseOptions(vdba.MustConnectionConfig(influxdb.DriverName, vdba.ReadWrite, good))
	if err != nil {
		t.Fatalf("ParseOptions() error = %v", err)
	}
	if o.Timeout != 10*time.Second || o.Bucket != "b" {
		t.Errorf("ParseOptions() = %+v", o)
	}

	tests := []struct {
		name string
		drop string
		set  map[string]string
	}{
		{name: "missing url", drop: "url"},
		{name: "missing org", drop: "org"},
		{name: "missing bucket", drop: "bucket"},
		{name: "relative url", set: map[string]string{"url": "localhost:8086"}},
		{name: "short timeout", set: map[string]string{"timeout": "100ms"}},
		{name: "bad timeout", set: map[string]string{"timeout": "later"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := map[string]string{}
			for k, v := range good {
				if k != tt.drop {
					opts[k] = v
				}
			}
			for k, v := range tt.set {
				opts[k] = v
			}
			_, err := influxdb.ParseOptions(vdba.MustConnectionConfig(influxdb.DriverName, vdba.ReadWrite, opts))
			if !vdba.IsUsageFault(err) {
				t.Errorf("ParseOptions() error = %v, want usage fault", err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	srv := newFakeServer(t)
	conn, _ := openBucket(t, srv.URL, vdba.ReadWrite)

	s, err := conn.Server()
	if err != nil {
		t.Fatalf("Server() error = %v", err)
	}
	if s.Address() != srv.URL {
		t.Errorf("Address() = %q, want %q", s.Address(), srv.URL)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if got := conn.Capabilities().Kind; got != vdba.KindColumn {
		t.Errorf("Kind = %q, want column", got)
	}
}

func TestOpen_Unhealthy(t *testing.T) {
	srv := newFakeServer(t)
	srv.mu.Lock()
	srv.unhealthy = true
	srv.mu.Unlock()

	conn, err := vdba.NewConnection(influxdb.New(), testConfig(srv.URL, vdba.ReadWrite))
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	_, err = conn.Open(context.Background())
	if !errors.Is(err, vdba.ErrEngine) || !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Open() error = %v, want ErrEngine wrapping ErrConnectionFailed", err)
	}
}

func TestDirectWriteIsImmediate(t *testing.T) {
	srv := newFakeServer(t)
	_, bucket := openBucket(t, srv.URL, vdba.ReadWrite)

	if err := writeTemp(21.5)(context.Background(), bucket); err != nil {
		t.Fatalf("WritePointWithTime() error = %v", err)
	}
	writes := srv.writes()
	if len(writes) != 1 {
		t.Fatalf("write requests = %d, want 1", len(writes))
	}
	if !strings.HasPrefix(writes[0], "metrics|temperature,room=kitchen celsius=21.5") {
		t.Errorf("write = %q", writes[0])
	}
}

func TestTransaction_BatchesOnCommit(t *testing.T) {
	srv := newFakeServer(t)
	conn, _ := openBucket(t, srv.URL, vdba.ReadWrite)

	err := conn.RunTransaction(context.Background(), vdba.ReadWrite, func(ctx context.Context, db vdba.Database) error {
		for _, v := range []float64{20, 21, 22} {
			if err := writeTemp(v)(ctx, db); err != nil {
				return err
			}
		}
		b, _ := vdba.As[*influxdb.Bucket](db)
		if b.Pending() != 3 {
			t.Errorf("Pending() = %d, want 3", b.Pending())
		}
		if n := len(srv.writes()); n != 0 {
			t.Errorf("write requests before commit = %d, want 0", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}

	writes := srv.writes()
	if len(writes) != 1 {
		t.Fatalf("write requests = %d, want 1", len(writes))
	}
	if got := strings.Count(writes[0], "temperature,"); got != 3 {
		t.Errorf("points in request = %d, want 3", got)
	}
}

func TestTransaction_RollbackDiscards(t *testing.T) {
	srv := newFakeServer(t)
	conn, _ := openBucket(t, srv.URL, vdba.ReadWrite)

	errAbort := errors.New("sensor glitch")
	err := conn.RunTransaction(context.Background(), vdba.ReadWrite, func(ctx context.Context, db vdba.Database) error {
		if err := writeTemp(99)(ctx, db); err != nil {
			return err
		}
		return errAbort
	})
	if err != errAbort {
		t.Fatalf("RunTransaction() error = %v, want errAbort", err)
	}
	if n := len(srv.writes()); n != 0 {
		t.Errorf("write requests = %d, want 0", n)
	}
}

func TestTransaction_CommitFailure(t *testing.T) {
	srv := newFakeServer(t)
	conn, _ := openBucket(t, srv.URL, vdba.ReadWrite)
	srv.setFailWrite(true)

	err := conn.RunTransaction(context.Background(), vdba.ReadWrite, writeTemp(1))
	if !errors.Is(err, vdba.ErrEngine) || !errors.Is(err, influxdb.ErrWriteFailed) {
		t.Errorf("RunTransaction() error = %v, want ErrEngine wrapping ErrWriteFailed", err)
	}
}

const temperatureCSV = `#datatype,string,long,dateTime:RFC3339,dateTime:RFC3339,dateTime:RFC3339,double,string,string,string
#group,false,false,true,true,false,false,true,true,true
#default,_result,,,,,,,,
,result,table,_start,_stop,_time,_value,_field,_measurement,room
,,0,2023-11-14T00:00:00Z,2023-11-15T00:00:00Z,2023-11-14T22:13:20Z,21.5,celsius,temperature,kitchen
,,0,2023-11-14T00:00:00Z,2023-11-15T00:00:00Z,2023-11-14T22:14:20Z,22,celsius,temperature,kitchen

`

func TestQueryValues(t *testing.T) {
	srv := newFakeServer(t)
	conn, _ := openBucket(t, srv.URL, vdba.ReadOnly)
	srv.mu.Lock()
	srv.queryCSV = temperatureCSV
	srv.mu.Unlock()

	const flux = `from(bucket: "metrics") |> range(start: -1d)`
	var rows []map[string]any
	err := conn.RunTransaction(context.Background(), vdba.ReadOnly, func(ctx context.Context, db vdba.Database) error {
		b, err := vdba.As[*influxdb.Bucket](db)
		if err != nil {
			return err
		}
		rows, err = b.QueryValues(ctx, flux)
		return err
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("QueryValues() returned %d rows, want 2", len(rows))
	}
	if rows[0]["_value"] != 21.5 || rows[1]["_value"] != 22.0 {
		t.Errorf("_value = %v, %v, want 21.5, 22", rows[0]["_value"], rows[1]["_value"])
	}
	if rows[0]["room"] != "kitchen" || rows[0]["_field"] != "celsius" {
		t.Errorf("row = %v", rows[0])
	}

	srv.mu.Lock()
	sent := append([]string(nil), srv.queries...)
	srv.mu.Unlock()
	if len(sent) != 1 || !strings.Contains(sent[0], "range(start: -1d)") {
		t.Errorf("query requests = %v", sent)
	}
}

func TestQueryValues_Failure(t *testing.T) {
	srv := newFakeServer(t)
	_, bucket := openBucket(t, srv.URL, vdba.ReadOnly)

	if _, err := bucket.QueryValues(context.Background(), "bad flux"); !errors.Is(err, influxdb.ErrQueryFailed) {
		t.Errorf("QueryValues() error = %v, want ErrQueryFailed", err)
	}
}

func TestReadOnly(t *testing.T) {
	srv := newFakeServer(t)

	conn, bucket := openBucket(t, srv.URL, vdba.ReadWrite)
	if err := conn.RunTransaction(context.Background(), vdba.ReadOnly, writeTemp(1)); !errors.Is(err, vdba.ErrReadOnly) {
		t.Errorf("write in readonly transaction error = %v, want ErrReadOnly", err)
	}
	if bucket.ReadOnly() {
		t.Error("session bucket of read-write connection is read-only")
	}

	_, roBucket := openBucket(t, srv.URL, vdba.ReadOnly)
	if err := writeTemp(1)(context.Background(), roBucket); !errors.Is(err, vdba.ErrReadOnly) {
		t.Errorf("write on readonly connection error = %v, want ErrReadOnly", err)
	}
	if n := len(srv.writes()); n != 0 {
		t.Errorf("write requests = %d, want 0", n)
	}
}

func TestNestedTransactionUnsupported(t *testing.T) {
	srv := newFakeServer(t)
	conn, _ := openBucket(t, srv.URL, vdba.ReadWrite)

	var inner error
	err := conn.RunTransaction(context.Background(), vdba.ReadWrite, func(ctx context.Context, _ vdba.Database) error {
		inner = conn.RunTransaction(ctx, vdba.ReadWrite, writeTemp(1))
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}
	if !errors.Is(inner, vdba.ErrNestedTransaction) {
		t.Errorf("nested error = %v, want ErrNestedTransaction", inner)
	}
}

func TestStaleAfterClose(t *testing.T) {
	srv := newFakeServer(t)
	conn, bucket := openBucket(t, srv.URL, vdba.ReadWrite)

	if err := conn.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := writeTemp(1)(context.Background(), bucket); !errors.Is(err, vdba.ErrStaleHandle) {
		t.Errorf("write after Close error = %v, want ErrStaleHandle", err)
	}
}

func TestWritePoint_NoFields(t *testing.T) {
	srv := newFakeServer(t)
	_, bucket := openBucket(t, srv.URL, vdba.ReadWrite)

	if err := bucket.WritePoint(context.Background(), "empty", nil, nil); !vdba.IsUsageFault(err) {
		t.Errorf("WritePoint() error = %v, want usage fault", err)
	}
}
