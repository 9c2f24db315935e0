// Package speaker plays synthesized PCM through the system audio device.
package speaker

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"newsstand/internal/domain/audio"

	"github.com/ebitengine/oto/v3"
)

var _ audio.Sink = (*Sink)(nil)

// Sink is an oto-backed playback device. The audio context is process-wide
// and fixed to one sample rate at creation.
type Sink struct {
	ctx        *oto.Context
	sampleRate int
	log        *slog.Logger
}

// NewSink initializes the system audio device for 16-bit LE mono PCM at the
// given sample rate. Blocks until the device is ready.
func NewSink(sampleRate int, log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing audio device: %w", err)
	}
	<-ready

	return &Sink{
		ctx:        ctx,
		sampleRate: sampleRate,
		log:        log.With("component", "speaker.Sink"),
	}, nil
}

// Play starts asynchronous playback of the buffer and releases the player
// when it drains.
func (s *Sink) Play(pcm []byte, sampleRate int) error {
	if sampleRate != s.sampleRate {
		return fmt.Errorf("sample rate %d does not match device rate %d", sampleRate, s.sampleRate)
	}

	p := s.ctx.NewPlayer(bytes.NewReader(pcm))
	p.Play()

	go func() {
		for p.IsPlaying() {
			time.Sleep(10 * time.Millisecond)
		}
		if err := p.Close(); err != nil {
			s.log.Debug("closing player", "error", err)
		}
	}()
	return nil
}
