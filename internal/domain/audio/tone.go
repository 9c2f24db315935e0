package audio

import "math"

// SampleRate is the PCM sample rate for all synthesized cues.
const SampleRate = 44100

// Cue note frequencies. Success is an ascending C5-E5-G5 triad; error is a
// falling E4 to C4.
var (
	successNotes = []float64{523.25, 659.25, 783.99}
	errorNotes   = []float64{329.63, 261.63}
)

const (
	noteDuration = 120 // ms per note
	noteGap      = 30  // ms of silence between notes

	// attackFraction is the linear fade-in portion of each note; the rest
	// decays exponentially. Both exist to avoid audible clicks at note
	// boundaries.
	attackFraction = 0.1
	decayRate      = 6.0
)

// successCue renders the success sequence as 16-bit LE mono PCM.
func successCue(volume float64) []byte {
	return renderSequence(successNotes, volume, false)
}

// errorCue renders the error sequence. The harsher timbre comes from added
// odd harmonics.
func errorCue(volume float64) []byte {
	return renderSequence(errorNotes, volume, true)
}

func renderSequence(notes []float64, volume float64, harsh bool) []byte {
	noteSamples := SampleRate * noteDuration / 1000
	gapSamples := SampleRate * noteGap / 1000
	total := len(notes)*noteSamples + (len(notes)-1)*gapSamples

	out := make([]byte, 0, total*2)
	for i, freq := range notes {
		out = append(out, renderNote(freq, noteSamples, volume, harsh)...)
		if i < len(notes)-1 {
			out = append(out, make([]byte, gapSamples*2)...)
		}
	}
	return out
}

// renderNote synthesizes one tone with a linear attack and exponential
// decay envelope.
func renderNote(freq float64, samples int, volume float64, harsh bool) []byte {
	attack := int(float64(samples) * attackFraction)
	out := make([]byte, samples*2)

	for i := 0; i < samples; i++ {
		t := float64(i) / SampleRate
		v := math.Sin(2 * math.Pi * freq * t)
		if harsh {
			// Odd harmonics push the tone toward a square wave.
			v += math.Sin(2*math.Pi*freq*3*t) / 3
			v += math.Sin(2*math.Pi*freq*5*t) / 5
			v /= 1.0 + 1.0/3 + 1.0/5
		}

		env := 1.0
		if i < attack {
			env = float64(i) / float64(attack)
		} else {
			progress := float64(i-attack) / float64(samples-attack)
			env = math.Exp(-decayRate * progress)
		}

		sample := int16(v * env * volume * math.MaxInt16)
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}
