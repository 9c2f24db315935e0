// Package audio synthesizes short tonal feedback cues procedurally, with no
// audio asset dependency, and owns the persisted, observable mute state.
package audio

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// mutedKey is the local-storage key holding the persisted mute flag.
const mutedKey = "audio:muted"

// Flags is the slice of the local store the engine needs.
type Flags interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Sink plays a buffer of 16-bit little-endian mono PCM. Implementations
// live in infra/speaker.
type Sink interface {
	Play(pcm []byte, sampleRate int) error
}

// Engine plays success and error cues and exposes the mute state as an
// observable value. Subscribers are notified synchronously, in registration
// order, before SetMuted returns.
type Engine struct {
	kv   Flags
	sink Sink
	log  *slog.Logger

	mu     sync.Mutex
	muted  bool
	volume float64
	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	fn func(muted bool)
}

// NewEngine creates a cue engine, loading the persisted mute flag. A missing
// or unreadable flag defaults to unmuted. Volume is clamped to [0, 1].
func NewEngine(ctx context.Context, kv Flags, sink Sink, volume float64, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}

	e := &Engine{
		kv:     kv,
		sink:   sink,
		volume: volume,
		log:    log.With("component", "audio.Engine"),
	}

	if kv != nil {
		blob, ok, err := kv.Get(ctx, mutedKey)
		if err != nil {
			e.log.Warn("loading mute flag, defaulting to unmuted", "error", err)
		} else if ok {
			var muted bool
			if err := json.Unmarshal(blob, &muted); err == nil {
				e.muted = muted
			}
		}
	}

	return e
}

// PlaySuccess plays three ascending tones. Skipped entirely when muted.
func (e *Engine) PlaySuccess() {
	e.play(successCue)
}

// PlayError plays two descending tones at a harsher timbre. Skipped entirely
// when muted.
func (e *Engine) PlayError() {
	e.play(errorCue)
}

func (e *Engine) play(cue func(volume float64) []byte) {
	e.mu.Lock()
	muted := e.muted
	volume := e.volume
	e.mu.Unlock()

	if muted || e.sink == nil {
		return
	}

	pcm := cue(volume)
	if err := e.sink.Play(pcm, SampleRate); err != nil {
		e.log.Warn("audio playback failed", "error", err)
	}
}

// Muted returns the current mute state.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// SetMuted persists and applies the mute flag, then notifies all current
// subscribers synchronously in registration order before returning. A
// persistence failure is logged; the in-memory state still changes so the
// UI stays responsive.
func (e *Engine) SetMuted(ctx context.Context, muted bool) {
	e.mu.Lock()
	if e.muted == muted {
		e.mu.Unlock()
		return
	}
	e.muted = muted
	subs := make([]subscriber, len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	if e.kv != nil {
		blob, _ := json.Marshal(muted)
		if err := e.kv.Set(ctx, mutedKey, blob); err != nil {
			e.log.Error("persisting mute flag", "error", err)
		}
	}

	for _, s := range subs {
		s.fn(muted)
	}
}

// Subscribe registers a callback invoked on every mute-state change and
// returns an unsubscribe function. Callbacks should be side-effect-only
// (UI refresh) and must not mutate the engine.
func (e *Engine) Subscribe(fn func(muted bool)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}
