package events

import (
	"sync"
	"time"

	"kvweb/internal/jobs"
)

// Kind classifies an event.
type Kind string

const (
	// KindStateChanged reports a job lifecycle transition.
	KindStateChanged Kind = "state_changed"
	// KindResultReady reports that completed artifacts were published.
	KindResultReady Kind = "result_ready"
	// KindServiceStatus reports liveness changes of the remote service.
	KindServiceStatus Kind = "service_status"
)

// Event is one notification delivered to the host.
type Event struct {
	Kind  Kind
	JobID string
	State jobs.State
	// ResultDir is set on KindResultReady events.
	ResultDir string
	// Online is meaningful on KindServiceStatus events.
	Online bool
	// Message carries failure detail or status text.
	Message string
	At      time.Time
}

// Bus fans events out to a single consumer channel.
type Bus struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewBus returns a bus with the given buffer capacity.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{ch: make(chan Event, buffer)}
}

// Events returns the consumer channel. It is closed by Close.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Publish enqueues an event, evicting the oldest buffered event when full.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for {
		select {
		case b.ch <- event:
			return
		default:
		}
		select {
		case <-b.ch:
		default:
		}
	}
}

// Close shuts the consumer channel. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
