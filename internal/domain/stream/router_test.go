package stream

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertEvent(table, id string) ChangeEvent {
	return ChangeEvent{
		Table:      table,
		Op:         OpInsert,
		ID:         id,
		Record:     json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)),
		ReceivedAt: time.Now(),
	}
}

func TestRouterDispatch(t *testing.T) {
	rtr := NewRouter(nil)
	defer rtr.Close()

	inserts := make(chan ChangeEvent, 8)
	anything := make(chan ChangeEvent, 8)
	rtr.Register("articles", OpInsert, func(ev ChangeEvent) { inserts <- ev })
	rtr.Register("articles", OpAny, func(ev ChangeEvent) { anything <- ev })

	rtr.Route(insertEvent("articles", "a1"))
	rtr.Route(ChangeEvent{Table: "articles", Op: OpUpdate, ID: "a1"})
	rtr.Route(insertEvent("breaking_news", "b1")) // no handler, discarded

	select {
	case ev := <-inserts:
		assert.Equal(t, "a1", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("insert handler never called")
	}

	// The wildcard handler sees both operations.
	for i := 0; i < 2; i++ {
		select {
		case <-anything:
		case <-time.After(time.Second):
			t.Fatalf("wildcard handler missed event %d", i)
		}
	}

	select {
	case ev := <-inserts:
		t.Fatalf("unexpected dispatch of %s/%s", ev.Table, ev.Op)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRouterPreservesOrderPerHandler(t *testing.T) {
	rtr := NewRouter(nil)
	defer rtr.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	rtr.Register("articles", OpInsert, func(ev ChangeEvent) {
		mu.Lock()
		got = append(got, ev.ID)
		n := len(got)
		mu.Unlock()
		if n == 10 {
			close(done)
		}
	})

	want := make([]string, 10)
	for i := range want {
		want[i] = fmt.Sprintf("a%d", i)
		rtr.Route(insertEvent("articles", want[i]))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not drain its queue")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestRouterSlowHandlerDoesNotBlockOthers(t *testing.T) {
	rtr := NewRouter(nil)
	defer rtr.Close()

	block := make(chan struct{})
	rtr.Register("articles", OpInsert, func(ev ChangeEvent) { <-block })

	fast := make(chan ChangeEvent, 256)
	rtr.Register("articles", OpInsert, func(ev ChangeEvent) { fast <- ev })

	// Overflow the blocked handler's queue; Route must never stall.
	total := defaultQueueSize + 10
	doneRouting := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			rtr.Route(insertEvent("articles", fmt.Sprintf("a%d", i)))
		}
		close(doneRouting)
	}()

	select {
	case <-doneRouting:
	case <-time.After(time.Second):
		t.Fatal("router blocked on a slow handler")
	}

	// The fast handler still received everything.
	for i := 0; i < total; i++ {
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatalf("fast handler missed event %d", i)
		}
	}

	require.Positive(t, rtr.Dropped())
	close(block)
}

func TestRouterCloseDuringDispatch(t *testing.T) {
	rtr := NewRouter(nil)

	rtr.Register("articles", OpInsert, func(ev ChangeEvent) {})
	rtr.Register("articles", OpAny, func(ev ChangeEvent) {})

	// Dispatchers hammering the router while it shuts down must never hit a
	// closed queue.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					rtr.Route(insertEvent("articles", "a1"))
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	rtr.Close()
	time.Sleep(5 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestRouterClose(t *testing.T) {
	rtr := NewRouter(nil)

	got := make(chan ChangeEvent, 1)
	rtr.Register("articles", OpInsert, func(ev ChangeEvent) { got <- ev })

	rtr.Close()
	rtr.Close() // idempotent
	rtr.Route(insertEvent("articles", "a1"))

	select {
	case <-got:
		t.Fatal("event delivered after close")
	case <-time.After(20 * time.Millisecond):
	}
}
