package mqtt

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/vdba/internal/vdba"
)

// defaultEventBuffer is the number of events queued before Observe drops.
const defaultEventBuffer = 256

// Publisher sends one MQTT message. *Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventMessage is the JSON payload published for each connection event.
type EventMessage struct {
	Kind         vdba.EventKind `json:"kind"`
	ConnectionID string         `json:"connection_id"`
	Driver       string         `json:"driver"`
	Mode         vdba.Mode      `json:"mode,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	DurationMS   float64        `json:"duration_ms"`
	Error        string         `json:"error,omitempty"`
}

// NewEventMessage converts a connection event to its wire form.
func NewEventMessage(ev vdba.Event) EventMessage {
	msg := EventMessage{
		Kind:         ev.Kind,
		ConnectionID: ev.ConnectionID,
		Driver:       ev.Driver,
		Mode:         ev.Mode,
		Timestamp:    ev.Time.UTC(),
		DurationMS:   float64(ev.Duration) / float64(time.Millisecond),
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

// EventPublisher is a vdba.Observer that publishes connection events to
// <prefix>/events/<driver>/<connection>/<kind>.
//
// Observe never blocks: events are queued and published by a background
// goroutine. When the queue is full the event is dropped and counted.
type EventPublisher struct {
	pub    Publisher
	topics Topics
	qos    byte
	logger Logger

	queue chan vdba.Event
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewEventPublisher starts a publisher. Call Close to flush and stop it.
// logger may be nil.
func NewEventPublisher(pub Publisher, topics Topics, qos byte, logger Logger) *EventPublisher {
	p := &EventPublisher{
		pub:    pub,
		topics: topics,
		qos:    qos,
		logger: logger,
		queue:  make(chan vdba.Event, defaultEventBuffer),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Observe implements vdba.Observer.
func (p *EventPublisher) Observe(ev vdba.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.dropped++
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (p *EventPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close stops accepting events and waits for queued ones to be published.
func (p *EventPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}

func (p *EventPublisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		p.publish(ev)
	}
}

func (p *EventPublisher) publish(ev vdba.Event) {
	payload, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		p.warn("encoding connection event", ev, err)
		return
	}
	topic := p.topics.Event(ev.Driver, ev.ConnectionID, string(ev.Kind))
	if err := p.pub.Publish(topic, payload, p.qos, false); err != nil {
		p.warn("publishing connection event", ev, err)
	}
}

func (p *EventPublisher) warn(msg string, ev vdba.Event, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Warn(msg, "connection", ev.ConnectionID, "kind", ev.Kind, "error", err)
}
