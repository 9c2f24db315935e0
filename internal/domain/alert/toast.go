package alert

import (
	"errors"
	"sync"
	"time"
)

// Toast is an in-app transient message.
type Toast struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Body     string    `json:"body,omitempty"`
	Breaking bool      `json:"breaking"`
	At       time.Time `json:"at"`
}

// ErrFeedClosed is returned by Show after the feed has been closed.
var ErrFeedClosed = errors.New("toast feed closed")

// feedBuffer bounds each subscriber's backlog; slow consumers drop messages
// rather than block the surfacing path.
const feedBuffer = 16

// Feed fans in-app toasts out to any number of subscribers, e.g. SSE
// connections on the control API. Show never blocks.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan Toast
	nextID int
	closed bool
}

var _ Toaster = (*Feed)(nil)

// NewFeed creates an empty toast feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Toast)}
}

// Show delivers the toast to every current subscriber. A toast with no
// subscribers is still considered surfaced.
func (f *Feed) Show(t Toast) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFeedClosed
	}
	for _, ch := range f.subs {
		select {
		case ch <- t:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of future toasts and an unsubscribe function.
// The channel is closed on unsubscribe or when the feed closes.
func (f *Feed) Subscribe() (<-chan Toast, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Toast, feedBuffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
}

// Close shuts down the feed and closes all subscriber channels.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
