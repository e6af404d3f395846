package connection

import (
	"sync"

	"market-streamer/src/models"
)

// -----------------------------------------------------------------------------

type eventKind int

const (
	eventOpen eventKind = iota
	eventClose
	eventMessage
	eventError
	eventState
)

// event is one observer notification, delivered in push order
type event struct {
	kind     eventKind
	envelope *models.MEnvelope
	err      error
	from, to models.MConnectionState
}

// -----------------------------------------------------------------------------

// eventQueue is an unbounded FIFO. push never blocks, so it is safe to call
// while holding the manager lock.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	signal chan struct{}
}

// -----------------------------------------------------------------------------

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

// -----------------------------------------------------------------------------

func (q *eventQueue) push(ev event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------

func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// -----------------------------------------------------------------------------

// observers holds registered callbacks per event type in registration order
type observers struct {
	mu      sync.RWMutex
	open    []func()
	close   []func()
	message []func(*models.MEnvelope)
	err     []func(error)
	state   []func(from, to models.MConnectionState)
}
