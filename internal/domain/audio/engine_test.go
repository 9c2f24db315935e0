package audio

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlags struct {
	mu         sync.Mutex
	data       map[string][]byte
	failWrites bool
}

func newFakeFlags() *fakeFlags {
	return &fakeFlags{data: make(map[string][]byte)}
}

func (f *fakeFlags) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeFlags) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("disk full")
	}
	f.data[key] = value
	return nil
}

type countingSink struct {
	mu    sync.Mutex
	plays int
}

func (s *countingSink) Play(pcm []byte, sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays
}

func TestEngineMuteSkipsPlayback(t *testing.T) {
	ctx := context.Background()
	sink := &countingSink{}
	e := NewEngine(ctx, newFakeFlags(), sink, 0.5, nil)

	e.PlaySuccess()
	require.Equal(t, 1, sink.count())

	e.SetMuted(ctx, true)
	e.PlaySuccess()
	e.PlayError()
	assert.Equal(t, 1, sink.count(), "muted cues never reach the sink")

	e.SetMuted(ctx, false)
	e.PlayError()
	assert.Equal(t, 2, sink.count())
}

func TestEngineNilSink(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(ctx, newFakeFlags(), nil, 0.5, nil)

	// No audio device: cues are a no-op, never a panic.
	e.PlaySuccess()
	e.PlayError()
}

func TestEngineMutePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	kv := newFakeFlags()

	first := NewEngine(ctx, kv, nil, 0.5, nil)
	require.False(t, first.Muted())
	first.SetMuted(ctx, true)

	second := NewEngine(ctx, kv, nil, 0.5, nil)
	assert.True(t, second.Muted())
}

func TestEngineMutePersistenceFailure(t *testing.T) {
	ctx := context.Background()
	kv := newFakeFlags()
	kv.failWrites = true

	e := NewEngine(ctx, kv, nil, 0.5, nil)
	e.SetMuted(ctx, true)

	// The in-memory state still flips so the UI stays consistent.
	assert.True(t, e.Muted())
}

func TestEngineSubscribers(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(ctx, newFakeFlags(), nil, 0.5, nil)

	var order []string
	unsubA := e.Subscribe(func(muted bool) { order = append(order, "a") })
	unsubB := e.Subscribe(func(muted bool) { order = append(order, "b") })
	defer unsubB()

	e.SetMuted(ctx, true)
	require.Equal(t, []string{"a", "b"}, order, "registration order, before SetMuted returns")

	// Setting the same value again is a no-op: no notifications.
	e.SetMuted(ctx, true)
	assert.Equal(t, []string{"a", "b"}, order)

	unsubA()
	unsubA() // idempotent
	e.SetMuted(ctx, false)
	assert.Equal(t, []string{"a", "b", "b"}, order)
}

func TestEngineVolumeClamp(t *testing.T) {
	ctx := context.Background()

	e := NewEngine(ctx, nil, nil, 1.8, nil)
	assert.Equal(t, 1.0, e.volume)

	e = NewEngine(ctx, nil, nil, -0.3, nil)
	assert.Equal(t, 0.0, e.volume)
}
