// Package eventbus implements the per-execution streaming event bus of
// spec.md §4.6. It is many-producer, many-consumer: producers are the
// Agent Loop and Orchestrator, consumers are SSE adapters or the TUI
// (internal/tui). Slow subscribers drop oldest events beyond a bounded
// buffer rather than blocking producers, per spec.md §5's
// "Shared-resource policy" point 3 — structurally the same "poll loop
// that tolerates staleness" idea as the teacher's internal/tui ticking
// refresh, generalized here into a push model with an explicit
// drop-oldest ring instead of a timer-driven poll.
package eventbus

import (
	"sync"
	"time"
)

// Kind enumerates the event kinds of spec.md §4.6.
type Kind string

const (
	ExecutionStarted   Kind = "execution_started"
	NodeStarted        Kind = "node_started"
	NodeCode           Kind = "node_code"
	NodeOutput         Kind = "node_output"
	NodeFailed         Kind = "node_failed"
	ExecutionCompleted Kind = "execution_completed"
	ExecutionFailed    Kind = "execution_failed"
)

// Event carries the common envelope plus a kind-specific Fields map, per
// spec.md §4.6's table.
type Event struct {
	Kind        Kind
	ExecutionID string
	NodeID      string
	Timestamp   time.Time
	Fields      map[string]any
}

// bufferSize is the per-subscriber bound named in spec.md §5 ("e.g., 256").
const bufferSize = 256

// Bus is a single execution's event stream. Subscribers attach before or
// during a run and receive only events published after they subscribe;
// the Bus keeps no history, so a late subscriber is not sent the events
// that preceded it.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
	done bool
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its channel and an
// unsubscribe function. The channel is buffered to bufferSize; once full,
// Publish drops the oldest buffered event to make room rather than block.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, bufferSize)
	id := b.next
	b.next++
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			close(sub)
			delete(b.subs, id)
		}
	}
	return ch, unsubscribe
}

// Publish fans an event out to every live subscriber. A full subscriber
// channel has its oldest buffered event dropped to make room — producers
// never block on a slow consumer.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	for _, ch := range b.subs {
		publishDropOldest(ch, e)
	}
}

func publishDropOldest(ch chan Event, e Event) {
	for {
		select {
		case ch <- e:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// Close marks the bus terminal and closes every subscriber channel. No
// further Publish calls take effect.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
