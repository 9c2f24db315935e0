// Package cache maintains the bounded offline content cache: the last page
// of successfully fetched articles, persisted as a single envelope so the
// app can render something without connectivity.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"newsstand/internal/domain/content"
)

// MaxCached is the hard cap on cached articles.
const MaxCached = 20

// envelopeKey is the local-storage key holding the serialized envelope.
const envelopeKey = "cache:envelope"

// Envelope is the entire cache contents plus the write timestamp. It is
// replaced wholesale on every write; there is no incremental merge.
type Envelope struct {
	Items    []content.Article `json:"items"`
	CachedAt time.Time         `json:"cached_at"`
}

// KV is the slice of the local store the cache needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Enqueuer forwards cached articles to the background mirror worker.
// Failures are best-effort and never block caching.
type Enqueuer interface {
	EnqueueMirrorItem(a content.Article) error
}

// Store is the offline cache. All mutation goes through its methods; the
// in-memory envelope only advances after a successful persist, so a failed
// write leaves the previous state intact.
type Store struct {
	kv  KV
	enq Enqueuer
	log *slog.Logger

	mu     sync.Mutex
	env    *Envelope
	loaded bool
}

// NewStore creates an offline cache over the given local store. enq may be
// nil to disable the mirror fan-out.
func NewStore(kv KV, enq Enqueuer, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		kv:  kv,
		enq: enq,
		log: log.With("component", "cache.Store"),
	}
}

// Cache persists the first MaxCached items as the new envelope. Input order
// is preserved; most-recent-first ordering is the caller's responsibility.
// Returns false on any persistence failure, leaving the previous envelope
// untouched in memory and on disk.
func (s *Store) Cache(ctx context.Context, items []content.Article) bool {
	if len(items) > MaxCached {
		items = items[:MaxCached]
	}

	// Detach from the caller's backing array: later mutations of the input
	// slice must not alter what Read serves.
	kept := make([]content.Article, len(items))
	copy(kept, items)

	env := Envelope{
		Items:    kept,
		CachedAt: time.Now(),
	}

	blob, err := json.Marshal(env)
	if err != nil {
		s.log.Error("serializing cache envelope", "error", err)
		return false
	}

	if err := s.kv.Set(ctx, envelopeKey, blob); err != nil {
		s.log.Error("persisting cache envelope", "items", len(items), "error", err)
		return false
	}

	s.mu.Lock()
	s.env = &env
	s.loaded = true
	s.mu.Unlock()

	s.fanOut(items)
	return true
}

// fanOut forwards each cached item to the mirror worker, best effort.
func (s *Store) fanOut(items []content.Article) {
	if s.enq == nil {
		return
	}
	for _, a := range items {
		if err := s.enq.EnqueueMirrorItem(a); err != nil {
			s.log.Debug("mirror enqueue failed", "id", a.ID, "error", err)
		}
	}
}

// Read returns the current envelope, loading it from the local store on
// first use. Missing or corrupt data is treated as an empty cache, never as
// an error.
func (s *Store) Read(ctx context.Context) (Envelope, bool) {
	s.mu.Lock()
	if s.loaded {
		defer s.mu.Unlock()
		if s.env == nil {
			return Envelope{}, false
		}
		return *s.env, true
	}
	s.mu.Unlock()

	blob, ok, err := s.kv.Get(ctx, envelopeKey)
	if err != nil {
		s.log.Error("reading cache envelope", "error", err)
		return Envelope{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true

	if !ok {
		s.env = nil
		return Envelope{}, false
	}

	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		// Corrupt data is absent data.
		s.log.Warn("corrupt cache envelope, treating as empty", "error", err)
		s.env = nil
		return Envelope{}, false
	}

	s.env = &env
	return env, true
}

// Clear removes the persisted envelope. Returns false on persistence
// failure.
func (s *Store) Clear(ctx context.Context) bool {
	if err := s.kv.Delete(ctx, envelopeKey); err != nil {
		s.log.Error("clearing cache envelope", "error", err)
		return false
	}
	s.mu.Lock()
	s.env = nil
	s.loaded = true
	s.mu.Unlock()
	return true
}

// SizeInBytes reports the serialized size of the persisted envelope, 0 when
// absent.
func (s *Store) SizeInBytes(ctx context.Context) int {
	blob, ok, err := s.kv.Get(ctx, envelopeKey)
	if err != nil || !ok {
		return 0
	}
	return len(blob)
}
