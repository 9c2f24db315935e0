package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectedSamples(noteCount int) int {
	noteSamples := SampleRate * noteDuration / 1000
	gapSamples := SampleRate * noteGap / 1000
	return noteCount*noteSamples + (noteCount-1)*gapSamples
}

func TestCueBufferLengths(t *testing.T) {
	success := successCue(0.5)
	assert.Len(t, success, expectedSamples(len(successNotes))*2)

	failure := errorCue(0.5)
	assert.Len(t, failure, expectedSamples(len(errorNotes))*2)
}

func TestEnvelopeStartsQuiet(t *testing.T) {
	pcm := successCue(1.0)
	require.GreaterOrEqual(t, len(pcm), 4)

	// The linear attack keeps the first samples near zero, so the note does
	// not begin with a click.
	first := int16(binary.LittleEndian.Uint16(pcm[0:2]))
	assert.Zero(t, first)
	second := int16(binary.LittleEndian.Uint16(pcm[2:4]))
	assert.Less(t, abs16(second), int16(2000))
}

func TestVolumeScalesAmplitude(t *testing.T) {
	loud := peak(successCue(1.0))
	quiet := peak(successCue(0.25))

	require.Positive(t, loud)
	require.Positive(t, quiet)
	assert.Greater(t, loud, quiet*2)
}

func TestZeroVolumeIsSilence(t *testing.T) {
	pcm := errorCue(0)
	for i := 0; i+1 < len(pcm); i += 2 {
		if s := int16(binary.LittleEndian.Uint16(pcm[i : i+2])); s != 0 {
			t.Fatalf("non-zero sample %d at offset %d", s, i)
		}
	}
}

func TestGapsAreSilent(t *testing.T) {
	noteSamples := SampleRate * noteDuration / 1000
	gapSamples := SampleRate * noteGap / 1000
	pcm := successCue(1.0)

	// The stretch between the first and second note is all zeros.
	start := noteSamples * 2
	end := start + gapSamples*2
	for i := start; i < end; i += 2 {
		if s := int16(binary.LittleEndian.Uint16(pcm[i : i+2])); s != 0 {
			t.Fatalf("non-zero sample %d inside inter-note gap at offset %d", s, i)
		}
	}
}

func peak(pcm []byte) int16 {
	var max int16
	for i := 0; i+1 < len(pcm); i += 2 {
		if s := abs16(int16(binary.LittleEndian.Uint16(pcm[i : i+2]))); s > max {
			max = s
		}
	}
	return max
}

func abs16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}
