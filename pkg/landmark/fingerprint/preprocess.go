package fingerprint

import "math"

// LowPass applies a first-order RC low-pass filter with the given cutoff.
// The input is not modified.
func LowPass(samples []float64, sampleRate int, cutoffHz float64) []float64 {
	out := make([]float64, len(samples))
	if len(samples) == 0 {
		return out
	}
	if cutoffHz <= 0 || sampleRate <= 0 {
		copy(out, samples)
		return out
	}
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	alpha := dt / (rc + dt)

	out[0] = alpha * samples[0]
	for i := 1; i < len(samples); i++ {
		out[i] = out[i-1] + alpha*(samples[i]-out[i-1])
	}
	return out
}

// Resample converts samples between rates with linear interpolation.
func Resample(samples []float64, from, to int) []float64 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out
	}
	ratio := float64(from) / float64(to)
	n := int(float64(len(samples)) / ratio)
	out := make([]float64, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}
