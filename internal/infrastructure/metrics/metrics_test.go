package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/vdba/internal/vdba"
)

func newCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return c, reg
}

func TestCollector_Observe(t *testing.T) {
	c, _ := newCollector(t)

	events := []vdba.Event{
		{Kind: vdba.EventOpened, Driver: "sqlite3", Mode: vdba.ReadWrite, Duration: 2 * time.Millisecond},
		{Kind: vdba.EventOpened, Driver: "sqlite3", Mode: vdba.ReadOnly, Duration: time.Millisecond},
		{Kind: vdba.EventOpenFailed, Driver: "postgres", Mode: vdba.ReadWrite, Err: errors.New("refused")},
		{Kind: vdba.EventCommitted, Driver: "sqlite3", Mode: vdba.ReadWrite, Duration: 3 * time.Millisecond},
		{Kind: vdba.EventRolledBack, Driver: "sqlite3", Mode: vdba.ReadOnly, Duration: time.Millisecond},
		{Kind: vdba.EventClosed, Driver: "sqlite3", Mode: vdba.ReadOnly},
	}
	for _, ev := range events {
		c.Observe(ev)
	}

	if got := testutil.ToFloat64(c.open.WithLabelValues("sqlite3")); got != 1 {
		t.Errorf("open_connections{sqlite3} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.events.WithLabelValues("sqlite3", "opened")); got != 2 {
		t.Errorf("events{sqlite3,opened} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.events.WithLabelValues("postgres", "open_failed")); got != 1 {
		t.Errorf("events{postgres,open_failed} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.txDuration); got != 2 {
		t.Errorf("transaction duration series = %d, want 2", got)
	}
	if got := testutil.CollectAndCount(c.openDuration); got != 2 {
		t.Errorf("open duration series = %d, want 2", got)
	}
}

func TestCollector_SetUp(t *testing.T) {
	c, _ := newCollector(t)

	c.SetUp("state", "sqlite3", true)
	c.SetUp("history", "influxdb", false)

	if got := testutil.ToFloat64(c.up.WithLabelValues("state", "sqlite3")); got != 1 {
		t.Errorf("up{state} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.up.WithLabelValues("history", "influxdb")); got != 0 {
		t.Errorf("up{history} = %v, want 0", got)
	}
}

func TestNewCollector_ReusesRegisteredMetrics(t *testing.T) {
	c, reg := newCollector(t)
	again, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector() error = %v", err)
	}
	if again.events != c.events {
		t.Error("second collector did not reuse the registered counter")
	}

	c.Observe(vdba.Event{Kind: vdba.EventClosed, Driver: "memory"})
	again.Observe(vdba.Event{Kind: vdba.EventClosed, Driver: "memory"})
	if got := testutil.ToFloat64(c.events.WithLabelValues("memory", "closed")); got != 2 {
		t.Errorf("events{memory,closed} = %v, want 2", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.Observe(vdba.Event{Kind: vdba.EventOpened})
	c.SetUp("x", "memory", true)
}

func TestHandler(t *testing.T) {
	c, reg := newCollector(t)
	c.Observe(vdba.Event{Kind: vdba.EventOpened, Driver: "kv"})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // Test

	if !strings.Contains(string(body), `vdba_open_connections{driver="kv"} 1`) {
		t.Errorf("metrics output missing open connections:\n%s", body)
	}
}
