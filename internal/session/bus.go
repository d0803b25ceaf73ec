package session

import (
	"sync"
	"time"

	"recplay/internal/replay"
)

// EventType names a session event.
type EventType string

const (
	EventRecordingStarted EventType = "recording_started"
	EventRecordingStopped EventType = "recording_stopped"
	EventReplayStarted    EventType = "replay_started"
	EventReplayAction     EventType = "replay_action"
	EventReplayLoop       EventType = "replay_loop"
	EventReplayFinished   EventType = "replay_finished"
)

// Event is published on the bus for every lifecycle change.
type Event struct {
	Type    EventType     `json:"type"`
	RunID   string        `json:"run_id"`
	Time    time.Time     `json:"time"`
	Actions int           `json:"actions,omitempty"`
	Loop    int           `json:"loop,omitempty"`
	Index   int           `json:"index,omitempty"`
	Action  string        `json:"action,omitempty"`
	Error   string        `json:"error,omitempty"`
	Stats   *replay.Stats `json:"stats,omitempty"`
}

// Bus fans events out to subscribers. Slow subscribers lose events rather
// than stall the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of future events and a function that ends the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber that has room for it.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
