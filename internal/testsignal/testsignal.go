// Package testsignal generates deterministic synthetic audio for tests.
package testsignal

import (
	"math"
	"math/rand"
)

// Song returns seconds of mono audio made of overlapping three-tone notes
// between 300 and 4500 Hz with a short attack and exponential decay. The
// same seed always yields the same samples.
func Song(seed int64, seconds float64, sampleRate int) []float64 {
	r := rand.New(rand.NewSource(seed))
	sr := float64(sampleRate)
	out := make([]float64, int(seconds*sr))

	for onset := 0.0; onset < seconds; onset += 0.08 + 0.12*r.Float64() {
		dur := 0.12 + 0.18*r.Float64()
		start := int(onset * sr)
		for k := 0; k < 3; k++ {
			freq := 300 + 4200*r.Float64()
			amp := 0.05 + 0.1*r.Float64()
			phase := 2 * math.Pi * r.Float64()
			for i := 0; i < int(dur*sr) && start+i < len(out); i++ {
				t := float64(i) / sr
				env := math.Min(1, t/0.005) * math.Exp(-3*t/dur)
				out[start+i] += amp * env * math.Sin(2*math.Pi*freq*t+phase)
			}
		}
	}
	return out
}

// Noise returns uniform white noise in [-amp, amp].
func Noise(seed int64, seconds float64, sampleRate int, amp float64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, int(seconds*float64(sampleRate)))
	for i := range out {
		out[i] = amp * (2*r.Float64() - 1)
	}
	return out
}

// Slice returns the samples between from and to seconds.
func Slice(samples []float64, sampleRate int, from, to float64) []float64 {
	lo := int(from * float64(sampleRate))
	hi := int(to * float64(sampleRate))
	if hi > len(samples) {
		hi = len(samples)
	}
	out := make([]float64, hi-lo)
	copy(out, samples[lo:hi])
	return out
}

// Tone returns a constant-amplitude sine.
func Tone(freq, seconds float64, sampleRate int, amp float64) []float64 {
	out := make([]float64, int(seconds*float64(sampleRate)))
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}
