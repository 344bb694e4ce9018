package mqtt

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/vdba/internal/vdba"
)

type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	err      error
	block    chan struct{}
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (f *fakePublisher) published() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

type warnLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *warnLogger) Error(msg string, _ ...any) {}
func (l *warnLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestEventPublisher_PublishesEvents(t *testing.T) {
	pub := &fakePublisher{}
	p := NewEventPublisher(pub, NewTopics("site-1"), 1, nil)

	at := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	p.Observe(vdba.Event{
		Kind:         vdba.EventOpened,
		ConnectionID: "c1",
		Driver:       "sqlite3",
		Mode:         vdba.ReadWrite,
		Time:         at,
		Duration:     1500 * time.Microsecond,
	})
	p.Observe(vdba.Event{
		Kind:         vdba.EventRolledBack,
		ConnectionID: "c1",
		Driver:       "sqlite3",
		Mode:         vdba.ReadOnly,
		Time:         at,
		Err:          errors.New("boom"),
	})
	p.Close()

	msgs := pub.published()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	if msgs[0].topic != "site-1/events/sqlite3/c1/opened" {
		t.Errorf("topic = %q", msgs[0].topic)
	}
	if msgs[0].qos != 1 || msgs[0].retained {
		t.Errorf("qos = %d retained = %v, want 1 false", msgs[0].qos, msgs[0].retained)
	}

	var opened EventMessage
	if err := json.Unmarshal(msgs[0].payload, &opened); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if opened.Kind != vdba.EventOpened || opened.Mode != vdba.ReadWrite || opened.DurationMS != 1.5 {
		t.Errorf("opened payload = %+v", opened)
	}
	if !opened.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want %v", opened.Timestamp, at)
	}
	if opened.Error != "" {
		t.Errorf("Error = %q, want empty", opened.Error)
	}

	var rolledBack map[string]any
	if err := json.Unmarshal(msgs[1].payload, &rolledBack); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if rolledBack["error"] != "boom" || rolledBack["kind"] != "rolled_back" {
		t.Errorf("rolled_back payload = %v", rolledBack)
	}
}

func TestEventPublisher_DropsWhenFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	p := NewEventPublisher(pub, NewTopics(""), 0, nil)

	// One event is held by the blocked publisher, the buffer holds the rest.
	total := defaultEventBuffer + 10
	for range total {
		p.Observe(vdba.Event{Kind: vdba.EventCommitted, Driver: "memory", ConnectionID: "c"})
	}
	dropped := p.Dropped()
	if dropped < 9 || dropped > 10 {
		t.Errorf("Dropped() = %d, want 9 or 10", dropped)
	}

	close(pub.block)
	p.Close()
	if got := len(pub.published()); got != total-dropped {
		t.Errorf("published %d, want %d", got, total-dropped)
	}
}

func TestEventPublisher_LogsFailures(t *testing.T) {
	pub := &fakePublisher{err: ErrNotConnected}
	logger := &warnLogger{}
	p := NewEventPublisher(pub, NewTopics(""), 1, logger)

	p.Observe(vdba.Event{Kind: vdba.EventClosed, Driver: "memory", ConnectionID: "c"})
	p.Close()

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 {
		t.Errorf("warnings = %v, want 1", logger.warns)
	}
}

func TestEventPublisher_CloseIsIdempotent(t *testing.T) {
	pub := &fakePublisher{}
	p := NewEventPublisher(pub, NewTopics(""), 1, nil)
	p.Close()
	p.Close()

	p.Observe(vdba.Event{Kind: vdba.EventOpened})
	if n := len(pub.published()); n != 0 {
		t.Errorf("published %d after Close, want 0", n)
	}
}

// The publisher plugs into a real connection as its observer.
func TestEventPublisher_AsConnectionObserver(t *testing.T) {
	pub := &fakePublisher{}
	p := NewEventPublisher(pub, NewTopics("vdba"), 1, nil)

	var o vdba.Observer = p
	o.Observe(vdba.Event{Kind: vdba.EventOpenFailed, Driver: "postgres", ConnectionID: "abc"})
	p.Close()

	msgs := pub.published()
	if len(msgs) != 1 || msgs[0].topic != "vdba/events/postgres/abc/open_failed" {
		t.Errorf("published = %+v", msgs)
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", NewTopics("home").Status(), "home/status"},
		{"event", NewTopics("home").Event("kv", "id-1", "committed"), "home/events/kv/id-1/committed"},
		{"all events", NewTopics("home").AllEvents(), "home/events/#"},
		{"default prefix", NewTopics("").Status(), "vdba/status"},
		{"zero value", Topics{}.Event("memory", "x", "closed"), "vdba/events/memory/x/closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestValidatePublish(t *testing.T) {
	if err := validatePublish("", nil, 0); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := validatePublish("t", nil, 3); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := validatePublish("t", make([]byte, maxPayloadSize+1), 1); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized payload error = %v, want ErrPublishFailed", err)
	}
	if err := validatePublish("t", []byte("{}"), 2); err != nil {
		t.Errorf("valid publish error = %v", err)
	}
}

// skipIfNoBroker skips tests that need a Mosquitto broker at 127.0.0.1:1883.
func skipIfNoBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 500*time.Millisecond)
	if err != nil {
		t.Skip("MQTT broker not available at 127.0.0.1:1883")
	}
	conn.Close()
}
