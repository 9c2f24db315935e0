package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a scriptable change-stream source. failUntil makes the first
// n Open calls fail to exercise the retry path.
type fakeSource struct {
	mu           sync.Mutex
	attempts     int
	failUntil    int
	attemptTimes []time.Time
	channels     []*fakeChannel
	onEvent      func(RawEvent)
	onError      func(error)
}

type fakeChannel struct {
	closed atomic.Bool
}

func (c *fakeChannel) Close() error {
	c.closed.Store(true)
	return nil
}

func (f *fakeSource) Open(ctx context.Context, topic string, filters []TableFilter, onEvent func(RawEvent), onError func(error)) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	f.attemptTimes = append(f.attemptTimes, time.Now())
	if f.attempts <= f.failUntil {
		return nil, errors.New("dial refused")
	}
	ch := &fakeChannel{}
	f.channels = append(f.channels, ch)
	f.onEvent = onEvent
	f.onError = onError
	return ch, nil
}

func (f *fakeSource) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeSource) emit(raw RawEvent) {
	f.mu.Lock()
	fn := f.onEvent
	f.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}

func (f *fakeSource) breakTransport(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func testConfig() ManagerConfig {
	return ManagerConfig{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     80 * time.Millisecond,
	}
}

func waitForStatus(t *testing.T, s *Subscription, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Status() == want },
		time.Second, 2*time.Millisecond, "status never reached %s", want)
}

func TestManagerConnect(t *testing.T) {
	src := &fakeSource{}
	rtr := NewRouter(nil)
	defer rtr.Close()
	m := NewManager(src, rtr, testConfig(), nil)

	sub := m.Open(context.Background(), "public:articles", nil)
	waitForStatus(t, sub, StatusConnected)

	assert.Equal(t, 0, sub.Retries())
	assert.False(t, sub.Exhausted())
	require.NoError(t, sub.Close())
}

func TestManagerRoutesEvents(t *testing.T) {
	src := &fakeSource{}
	rtr := NewRouter(nil)
	defer rtr.Close()

	got := make(chan ChangeEvent, 1)
	rtr.Register("articles", OpInsert, func(ev ChangeEvent) { got <- ev })

	m := NewManager(src, rtr, testConfig(), nil)
	sub := m.Open(context.Background(), "public:articles", nil)
	waitForStatus(t, sub, StatusConnected)

	src.emit(RawEvent{
		Table:  "articles",
		Type:   "INSERT",
		Record: json.RawMessage(`{"id":"a1"}`),
	})

	select {
	case ev := <-got:
		assert.Equal(t, "a1", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("event never routed")
	}
	assert.False(t, sub.LastEventAt().IsZero())

	// Malformed payloads are dropped without affecting the subscription.
	src.emit(RawEvent{Table: "articles", Type: "INSERT"})
	assert.Equal(t, StatusConnected, sub.Status())

	require.NoError(t, sub.Close())
}

func TestManagerRetryBackoff(t *testing.T) {
	src := &fakeSource{failUntil: 1 << 30} // never succeeds
	rtr := NewRouter(nil)
	defer rtr.Close()
	m := NewManager(src, rtr, testConfig(), nil)

	sub := m.Open(context.Background(), "public:articles", nil)

	// Initial attempt plus 3 retries, then the budget is spent.
	require.Eventually(t, func() bool { return sub.Exhausted() },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, src.attemptCount())
	assert.Equal(t, StatusDegraded, sub.Status())
	assert.Equal(t, 3, sub.Retries())

	// No further attempts without an explicit Reopen.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 4, src.attemptCount())

	// Delays follow the doubling schedule (10ms, 20ms, 40ms at minimum).
	src.mu.Lock()
	times := append([]time.Time(nil), src.attemptTimes...)
	src.mu.Unlock()
	require.Len(t, times, 4)
	wantMin := []time.Duration{10, 20, 40}
	for i := 0; i < 3; i++ {
		gap := times[i+1].Sub(times[i])
		assert.GreaterOrEqual(t, gap, wantMin[i]*time.Millisecond,
			"retry %d fired too early", i+1)
	}

	require.NoError(t, sub.Close())
}

func TestManagerRetryCountResetsOnSuccess(t *testing.T) {
	src := &fakeSource{failUntil: 2}
	rtr := NewRouter(nil)
	defer rtr.Close()
	m := NewManager(src, rtr, testConfig(), nil)

	sub := m.Open(context.Background(), "public:articles", nil)
	waitForStatus(t, sub, StatusConnected)
	assert.Equal(t, 0, sub.Retries())

	// A transport error after success starts a fresh retry budget.
	src.breakTransport(errors.New("socket reset"))
	waitForStatus(t, sub, StatusConnected)
	assert.Equal(t, 0, sub.Retries())

	require.NoError(t, sub.Close())
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	src := &fakeSource{}
	rtr := NewRouter(nil)
	defer rtr.Close()
	m := NewManager(src, rtr, testConfig(), nil)

	sub := m.Open(context.Background(), "public:articles", nil)
	waitForStatus(t, sub, StatusConnected)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, StatusClosed, sub.Status())
	assert.True(t, src.channels[0].closed.Load())
	assert.Nil(t, m.Get("public:articles"))
}

func TestCloseCancelsPendingRetry(t *testing.T) {
	src := &fakeSource{failUntil: 1 << 30}
	rtr := NewRouter(nil)
	defer rtr.Close()
	m := NewManager(src, rtr, testConfig(), nil)

	sub := m.Open(context.Background(), "public:articles", nil)
	require.Eventually(t, func() bool { return src.attemptCount() >= 1 },
		time.Second, time.Millisecond)

	require.NoError(t, sub.Close())
	attempts := src.attemptCount()

	// A retry timer surviving Close would reconnect here.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, attempts, src.attemptCount())
}

func TestCloseDetachesEventCallbacks(t *testing.T) {
	src := &fakeSource{}
	rtr := NewRouter(nil)
	defer rtr.Close()

	got := make(chan ChangeEvent, 1)
	rtr.Register("articles", OpInsert, func(ev ChangeEvent) { got <- ev })

	m := NewManager(src, rtr, testConfig(), nil)
	sub := m.Open(context.Background(), "public:articles", nil)
	waitForStatus(t, sub, StatusConnected)
	require.NoError(t, sub.Close())

	// A late event from the transport must be dropped after close.
	src.emit(RawEvent{Table: "articles", Type: "INSERT", Record: json.RawMessage(`{"id":"late"}`)})

	select {
	case ev := <-got:
		t.Fatalf("event %q delivered after close", ev.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseWaitsForInFlightDelivery(t *testing.T) {
	src := &fakeSource{}
	rtr := NewRouter(nil)
	defer rtr.Close()
	m := NewManager(src, rtr, testConfig(), nil)

	sub := m.Open(context.Background(), "public:articles", nil)
	waitForStatus(t, sub, StatusConnected)

	// Pin a delivery mid-flight: Close must not return while a transport
	// callback holds the delivery gate.
	sub.cbMu.RLock()

	done := make(chan struct{})
	go func() {
		_ = sub.Close()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Close returned while a delivery was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	sub.cbMu.RUnlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close never returned after the delivery finished")
	}
	assert.Equal(t, StatusClosed, sub.Status())
}

func TestCloseUnderConcurrentEmit(t *testing.T) {
	src := &fakeSource{}
	rtr := NewRouter(nil)
	defer rtr.Close()

	rtr.Register("articles", OpInsert, func(ev ChangeEvent) {})

	m := NewManager(src, rtr, testConfig(), nil)
	sub := m.Open(context.Background(), "public:articles", nil)
	waitForStatus(t, sub, StatusConnected)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw := RawEvent{Table: "articles", Type: "INSERT", Record: json.RawMessage(`{"id":"a1"}`)}
			for {
				select {
				case <-stop:
					return
				default:
					src.emit(raw)
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sub.Close())

	// After Close returns, any emit still racing in must be a no-op.
	time.Sleep(10 * time.Millisecond)
	close(stop)
	wg.Wait()
	assert.Equal(t, StatusClosed, sub.Status())
}

func TestOpenReplacesExistingSubscription(t *testing.T) {
	src := &fakeSource{}
	rtr := NewRouter(nil)
	defer rtr.Close()
	m := NewManager(src, rtr, testConfig(), nil)

	first := m.Open(context.Background(), "public:articles", nil)
	waitForStatus(t, first, StatusConnected)

	second := m.Open(context.Background(), "public:articles", nil)
	waitForStatus(t, second, StatusConnected)

	assert.Equal(t, StatusClosed, first.Status())
	assert.True(t, src.channels[0].closed.Load())
	assert.Same(t, second, m.Get("public:articles"))

	require.NoError(t, second.Close())
}

func TestReopenAfterExhaustion(t *testing.T) {
	src := &fakeSource{failUntil: 4} // initial + 3 retries fail, then succeed
	rtr := NewRouter(nil)
	defer rtr.Close()
	m := NewManager(src, rtr, testConfig(), nil)

	sub := m.Open(context.Background(), "public:articles", nil)
	require.Eventually(t, func() bool { return sub.Exhausted() },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, sub.Reopen())
	waitForStatus(t, sub, StatusConnected)
	assert.Equal(t, 0, sub.Retries())
	assert.False(t, sub.Exhausted())

	require.NoError(t, sub.Close())
	assert.ErrorIs(t, sub.Reopen(), ErrSubscriptionClosed)
}
