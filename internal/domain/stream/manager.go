package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusDegraded   Status = "degraded"
	StatusClosed     Status = "closed"
)

// ErrSubscriptionClosed is returned by Reopen on a closed subscription.
var ErrSubscriptionClosed = errors.New("subscription closed")

// ManagerConfig controls the reconnection policy.
type ManagerConfig struct {
	// MaxRetries is the number of consecutive failed reconnect attempts
	// before the subscription stays Degraded until an explicit Reopen.
	MaxRetries int

	// InitialBackoff is the delay before the first retry; each subsequent
	// retry doubles it up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	return c
}

// Manager owns one live subscription per topic. Opening a topic that is
// already subscribed closes and replaces the existing subscription, never
// duplicates it.
type Manager struct {
	source Source
	router *Router
	cfg    ManagerConfig
	log    *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewManager creates a connection manager dispatching into the given router.
func NewManager(source Source, router *Router, cfg ManagerConfig, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		source: source,
		router: router,
		cfg:    cfg.withDefaults(),
		log:    log.With("component", "stream.Manager"),
		subs:   make(map[string]*Subscription),
	}
}

// Open establishes a logical subscription for the topic. The connection is
// established asynchronously; the returned handle starts in Connecting.
func (m *Manager) Open(ctx context.Context, topic string, filters []TableFilter) *Subscription {
	m.mu.Lock()
	prev := m.subs[topic]
	delete(m.subs, topic)
	m.mu.Unlock()

	if prev != nil {
		// One live subscription per topic: replace, never duplicate.
		if err := prev.Close(); err != nil {
			m.log.Warn("closing replaced subscription", "topic", topic, "error", err)
		}
	}

	s := &Subscription{
		topic:   topic,
		filters: filters,
		ctx:     ctx,
		status:  StatusConnecting,
		mgr:     m,
		log:     m.log.With("topic", topic),
	}

	m.mu.Lock()
	m.subs[topic] = s
	m.mu.Unlock()

	go s.connect(0)
	return s
}

// Get returns the live subscription for a topic, or nil.
func (m *Manager) Get(topic string) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[topic]
}

// CloseAll tears down every live subscription.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.subs = make(map[string]*Subscription)
	m.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
}

// SubscriptionStatus is a point-in-time view of one subscription, for the
// status API.
type SubscriptionStatus struct {
	Topic            string     `json:"topic"`
	Status           Status     `json:"status"`
	Retries          int        `json:"retries"`
	RetriesExhausted bool       `json:"retries_exhausted"`
	LastEventAt      *time.Time `json:"last_event_at,omitempty"`
}

// Snapshot reports the state of all live subscriptions.
func (m *Manager) Snapshot() []SubscriptionStatus {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	out := make([]SubscriptionStatus, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.snapshot())
	}
	return out
}

func (m *Manager) remove(topic string, s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[topic] == s {
		delete(m.subs, topic)
	}
}

// Subscription is the handle for one topic's change stream. All state is
// guarded by mu; the generation counter invalidates retry timers and event
// callbacks that outlive a Close or Reopen.
type Subscription struct {
	topic   string
	filters []TableFilter
	ctx     context.Context
	mgr     *Manager
	log     *slog.Logger

	// cbMu is held in read mode for the full span of an event delivery.
	// Close takes it in write mode after marking the subscription closed,
	// so any delivery already past the stale gate finishes before Close
	// returns and none starts after.
	cbMu sync.RWMutex

	mu          sync.Mutex
	status      Status
	retryCount  int
	exhausted   bool
	lastEventAt time.Time
	generation  uint64
	retryTimer  *time.Timer
	ch          Channel
	closed      bool
}

// Topic returns the subscription's topic.
func (s *Subscription) Topic() string { return s.topic }

// Status returns the current connection status.
func (s *Subscription) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Retries returns the consecutive failed reconnect attempts since the last
// successful connection.
func (s *Subscription) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// Exhausted reports whether the retry budget is spent and the subscription
// is waiting for an explicit Reopen.
func (s *Subscription) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

// LastEventAt returns the receipt time of the most recent event, zero if none.
func (s *Subscription) LastEventAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventAt
}

func (s *Subscription) snapshot() SubscriptionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SubscriptionStatus{
		Topic:            s.topic,
		Status:           s.status,
		Retries:          s.retryCount,
		RetriesExhausted: s.exhausted,
	}
	if !s.lastEventAt.IsZero() {
		t := s.lastEventAt
		st.LastEventAt = &t
	}
	return st
}

// Close tears down the subscription. It is idempotent, cancels any pending
// retry timer, and detaches callbacks before returning: no event or retry
// fires after Close returns.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.status = StatusClosed
	s.generation++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	ch := s.ch
	s.ch = nil
	s.mu.Unlock()

	// Drain deliveries that passed the stale gate before closed was set.
	s.cbMu.Lock()
	s.cbMu.Unlock()

	var err error
	if ch != nil {
		err = ch.Close()
	}
	s.mgr.remove(s.topic, s)
	s.log.Info("subscription closed")
	return err
}

// Reopen restarts a Degraded subscription after the retry budget is spent.
// It resets the retry counter and reconnects. Returns ErrSubscriptionClosed
// if the subscription has been closed.
func (s *Subscription) Reopen() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSubscriptionClosed
	}
	s.generation++
	gen := s.generation
	s.retryCount = 0
	s.exhausted = false
	s.status = StatusConnecting
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	ch := s.ch
	s.ch = nil
	s.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	go s.connect(gen)
	return nil
}

// stale reports whether a callback or timer belongs to a superseded
// generation. Callers must hold mu.
func (s *Subscription) stale(gen uint64) bool {
	return s.closed || gen != s.generation
}

func (s *Subscription) connect(gen uint64) {
	s.mu.Lock()
	if s.stale(gen) {
		s.mu.Unlock()
		return
	}
	s.status = StatusConnecting
	s.mu.Unlock()

	ch, err := s.mgr.source.Open(s.ctx, s.topic, s.filters,
		func(raw RawEvent) { s.onEvent(gen, raw) },
		func(err error) { s.fail(gen, err) },
	)
	if err != nil {
		s.fail(gen, err)
		return
	}

	s.mu.Lock()
	if s.stale(gen) {
		s.mu.Unlock()
		_ = ch.Close()
		return
	}
	s.ch = ch
	s.status = StatusConnected
	s.retryCount = 0
	s.exhausted = false
	s.mu.Unlock()

	s.log.Info("subscription connected")
}

// fail handles both a failed connect attempt and a transport error on a live
// channel. It schedules a retry with exponential backoff, or gives up once
// the retry budget is spent.
func (s *Subscription) fail(gen uint64, cause error) {
	s.mu.Lock()
	if s.stale(gen) {
		s.mu.Unlock()
		return
	}
	ch := s.ch
	s.ch = nil
	s.status = StatusDegraded

	if s.retryCount >= s.mgr.cfg.MaxRetries {
		s.exhausted = true
		s.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
		s.log.Warn("retry budget exhausted, staying degraded until reopen",
			"retries", s.mgr.cfg.MaxRetries, "error", cause)
		return
	}

	delay := s.backoffDelay(s.retryCount)
	s.retryCount++
	s.retryTimer = time.AfterFunc(delay, func() { s.retryFire(gen) })
	retries := s.retryCount
	s.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	s.log.Warn("transport error, retry scheduled",
		"attempt", retries, "delay", delay, "error", cause)
}

func (s *Subscription) retryFire(gen uint64) {
	s.mu.Lock()
	if s.stale(gen) {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	s.mu.Unlock()

	s.connect(gen)
}

func (s *Subscription) backoffDelay(attempt int) time.Duration {
	d := s.mgr.cfg.InitialBackoff << uint(attempt)
	if d > s.mgr.cfg.MaxBackoff || d <= 0 {
		d = s.mgr.cfg.MaxBackoff
	}
	return d
}

func (s *Subscription) onEvent(gen uint64, raw RawEvent) {
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()

	s.mu.Lock()
	if s.stale(gen) {
		s.mu.Unlock()
		return
	}
	s.lastEventAt = time.Now()
	s.mu.Unlock()

	ev, err := Narrow(raw)
	if err != nil {
		s.log.Warn("dropping malformed event", "table", raw.Table, "type", raw.Type, "error", err)
		return
	}
	s.mgr.router.Route(ev)
}
