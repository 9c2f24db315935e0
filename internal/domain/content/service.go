package content

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Fetcher retrieves pages of articles from the backend. Implementations
// live in infra/feed.
type Fetcher interface {
	// FetchLatest returns up to limit articles, newest first.
	FetchLatest(ctx context.Context, limit int) ([]Article, error)
}

// Cacher receives each successfully fetched page. Satisfied by the offline
// cache store.
type Cacher interface {
	Cache(ctx context.Context, items []Article) bool
}

// Service drives the content fetch path: every successful page is handed to
// the offline cache so the app degrades gracefully without connectivity.
type Service struct {
	fetcher  Fetcher
	cacher   Cacher
	pageSize int
	log      *slog.Logger
}

// NewService creates a content service.
func NewService(fetcher Fetcher, cacher Cacher, pageSize int, log *slog.Logger) *Service {
	if pageSize <= 0 {
		pageSize = 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		fetcher:  fetcher,
		cacher:   cacher,
		pageSize: pageSize,
		log:      log.With("component", "content.Service"),
	}
}

// Refresh fetches the latest page and caches it. Fetch errors propagate so
// the caller can report them; cache failures only log (the fetched page is
// still the caller's to use).
func (s *Service) Refresh(ctx context.Context) ([]Article, error) {
	items, err := s.fetcher.FetchLatest(ctx, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("fetching latest articles: %w", err)
	}

	if !s.cacher.Cache(ctx, items) {
		s.log.Warn("offline cache write failed, continuing with fetched page")
	}

	s.log.Debug("content refreshed", "items", len(items))
	return items, nil
}

// Run refreshes immediately and then on every interval tick until the
// context is cancelled. Should be called in a goroutine.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if _, err := s.Refresh(ctx); err != nil {
		s.log.Warn("initial content refresh failed", "error", err)
	}

	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx); err != nil {
				s.log.Warn("scheduled content refresh failed", "error", err)
			}
		}
	}
}
