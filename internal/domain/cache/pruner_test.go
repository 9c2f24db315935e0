package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	trims   atomic.Int64
	lastMax atomic.Int64
}

func (f *fakeMirror) Trim(ctx context.Context, max int) (int, error) {
	f.trims.Add(1)
	f.lastMax.Store(int64(max))
	return 1, nil
}

func TestPrunerSweeps(t *testing.T) {
	m := &fakeMirror{}
	p := NewPruner(m, PrunerConfig{Interval: 10 * time.Millisecond, MaxItems: 50}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	require.Eventually(t, func() bool { return m.trims.Load() >= 2 },
		time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, int64(50), m.lastMax.Load())
}

func TestPrunerDefaults(t *testing.T) {
	p := NewPruner(&fakeMirror{}, PrunerConfig{}, nil)
	assert.Equal(t, 5*time.Minute, p.config.Interval)
	assert.Equal(t, 200, p.config.MaxItems)
}
