package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// HandlerFunc consumes a change event. Handlers run on their own goroutine
// and must not mutate the event.
type HandlerFunc func(ev ChangeEvent)

// defaultQueueSize bounds the per-handler backlog before events are dropped.
const defaultQueueSize = 64

// Router dispatches change events by (table, operation) to registered
// handlers. Each handler drains its own bounded queue on a dedicated
// goroutine, so a slow handler preserves its own receipt order but can never
// delay the router or other handlers. When a handler's queue is full the
// event is dropped for that handler with a warning.
type Router struct {
	log *slog.Logger

	mu     sync.RWMutex
	routes map[routeKey][]*handlerQueue
	closed bool

	dropped atomic.Int64
}

type routeKey struct {
	table string
	op    Operation
}

type handlerQueue struct {
	ch chan ChangeEvent
}

// NewRouter creates an empty router.
func NewRouter(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		log:    log.With("component", "stream.Router"),
		routes: make(map[routeKey][]*handlerQueue),
	}
}

// Register attaches a handler for events on the given table and operation.
// Use OpAny to receive every operation on the table. Registration is not
// supported after Close.
func (r *Router) Register(table string, op Operation, fn HandlerFunc) {
	q := &handlerQueue{ch: make(chan ChangeEvent, defaultQueueSize)}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	key := routeKey{table: table, op: op}
	r.routes[key] = append(r.routes[key], q)
	r.mu.Unlock()

	go func() {
		for ev := range q.ch {
			fn(ev)
		}
	}()
}

// Route dispatches an event to every handler registered for its table and
// operation. Never blocks: full handler queues drop the event. The read lock
// is held across delivery so Close cannot close a queue mid-send; sends are
// non-blocking, so the critical section never stalls.
func (r *Router) Route(ev ChangeEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	for _, q := range r.routes[routeKey{table: ev.Table, op: ev.Op}] {
		r.deliver(q, ev)
	}
	for _, q := range r.routes[routeKey{table: ev.Table, op: OpAny}] {
		r.deliver(q, ev)
	}
}

func (r *Router) deliver(q *handlerQueue, ev ChangeEvent) {
	select {
	case q.ch <- ev:
	default:
		r.dropped.Add(1)
		r.log.Warn("handler queue full, dropping event",
			"table", ev.Table, "op", ev.Op, "id", ev.ID)
	}
}

// Dropped returns the number of events dropped due to full handler queues.
func (r *Router) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops all handler goroutines. Events routed after Close are
// discarded.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, qs := range r.routes {
		for _, q := range qs {
			close(q.ch)
		}
	}
	r.routes = make(map[routeKey][]*handlerQueue)
	r.mu.Unlock()
}
