// Package events carries in-process notifications between the sync engine
// and anything observing it (badge updates, logging, the CLI status view).
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event is implemented by all bus notification types.
type Event interface {
	// Kind is a stable name for logging and dispatch.
	Kind() string
}

// SyncStarted is published when a sync pass begins working the queue.
type SyncStarted struct {
	At time.Time `json:"at"`
}

func (SyncStarted) Kind() string { return "sync_started" }

// SyncCompleted is published when a sync pass finishes, with the pass summary.
type SyncCompleted struct {
	At      time.Time `json:"at"`
	Synced  int       `json:"synced"`
	Failed  int       `json:"failed"`
	Pending int       `json:"pending"`
}

func (SyncCompleted) Kind() string { return "sync_completed" }

// ReportSynced is published after the sink acknowledges a single report and
// the entry has been removed from the queue.
type ReportSynced struct {
	At       time.Time `json:"at"`
	ReportID string    `json:"report_id"`
}

func (ReportSynced) Kind() string { return "report_synced" }

// Bus is a small fan-out of events to in-process subscribers. Publishing
// never blocks: a subscriber that falls behind loses events rather than
// stalling the sync engine.
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers a new subscriber and returns its channel plus a cancel
// function. buffer is the channel capacity; values below 1 are raised to 1.
// Cancel closes the channel after unregistering it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event dropped, subscriber buffer full",
				"event", e.Kind(), "subscriber", id)
		}
	}
}

// Close unregisters and closes every subscriber channel so streaming
// consumers see end-of-events and release their connections. Publish becomes
// a no-op and later Subscribe calls get an already-closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.closed = true
}
