package cache

import (
	"context"
	"log/slog"
	"time"
)

// Mirror is the secondary article cache maintained by the worker.
// Implementations live in infra/mirror.
type Mirror interface {
	// Trim drops the oldest entries beyond max and returns how many were
	// removed.
	Trim(ctx context.Context, max int) (int, error)
}

// PrunerConfig holds configuration for the mirror pruner.
type PrunerConfig struct {
	// Interval is how often the pruner trims the mirror.
	Interval time.Duration

	// MaxItems is the number of newest articles the mirror retains.
	MaxItems int
}

// Pruner periodically trims the secondary cache so it stays bounded even
// when the fan-out outpaces consumption. The local envelope enforces its own
// cap; the pruner reconciles the mirror with the same discipline on a timer.
type Pruner struct {
	mirror Mirror
	config PrunerConfig
	log    *slog.Logger
}

// NewPruner creates a mirror pruner.
func NewPruner(mirror Mirror, cfg PrunerConfig, log *slog.Logger) *Pruner {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 200
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{
		mirror: mirror,
		config: cfg,
		log:    log.With("component", "cache.Pruner"),
	}
}

// Run starts the pruner loop. It blocks until the context is cancelled.
// Should be called in a goroutine.
func (p *Pruner) Run(ctx context.Context) {
	p.log.Info("pruner started",
		"interval", p.config.Interval,
		"max_items", p.config.MaxItems,
	)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("pruner stopped")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep performs one pruner cycle.
func (p *Pruner) sweep(ctx context.Context) {
	removed, err := p.mirror.Trim(ctx, p.config.MaxItems)
	if err != nil {
		p.log.Error("pruner: trim failed", "error", err)
		return
	}
	if removed > 0 {
		p.log.Info("pruner: trimmed mirror", "removed", removed)
	}
}
