package fingerprint

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/himanishpuri/landmarkdna/internal/testsignal"
)

func newTestBuilder(t *testing.T, mutate func(*Config)) *Builder {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := NewBuilder(cfg)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	return b
}

func TestWindows(t *testing.T) {
	sizes := []int{128, 256, 512, 1024}

	for _, size := range sizes {
		for name, window := range map[string][]float64{"hamming": Hamming(size), "hann": Hann(size)} {
			if len(window) != size {
				t.Errorf("%s: expected window size %d, got %d", name, size, len(window))
			}
			for i, val := range window {
				if val < 0 || val > 1 {
					t.Errorf("%s: window value %d out of range [0,1]: %f", name, i, val)
				}
			}
			if window[0] >= window[size/2] {
				t.Errorf("%s: window should be lower at edges", name)
			}
		}
	}
}

func TestMagnitudeSpectrum(t *testing.T) {
	spectrum := []complex128{
		complex(1.0, 0.0),
		complex(0.0, 1.0),
		complex(3.0, 4.0),
		complex(0.0, 0.0),
	}

	mag := MagnitudeSpectrum(spectrum, 3)
	if len(mag) != 3 {
		t.Fatalf("Expected magnitude length 3, got %d", len(mag))
	}
	want := []float64{1, 1, 5}
	for i := range want {
		if math.Abs(mag[i]-want[i]) > 1e-12 {
			t.Errorf("bin %d: expected %f, got %f", i, want[i], mag[i])
		}
	}
}

func TestBuildFrameCount(t *testing.T) {
	b := newTestBuilder(t, nil)

	tests := []struct {
		samples int
		frames  int
	}{
		{1024, 1},
		{1024 + 255, 1},
		{1024 + 256, 2},
		{11025, 40},
	}

	for _, tt := range tests {
		frames, err := b.Build(make([]float64, tt.samples), 11025)
		if err != nil {
			t.Fatalf("Build(%d samples) failed: %v", tt.samples, err)
		}
		if len(frames) != tt.frames {
			t.Errorf("Build(%d samples): expected %d frames, got %d", tt.samples, tt.frames, len(frames))
		}
		for i, f := range frames {
			if f.Index != i {
				t.Errorf("frame %d has index %d", i, f.Index)
			}
			if want := float64(i*256) / 11025; f.Timestamp != want {
				t.Errorf("frame %d: expected timestamp %f, got %f", i, want, f.Timestamp)
			}
			if len(f.Magnitudes) != b.NumBins() {
				t.Errorf("frame %d: expected %d bins, got %d", i, b.NumBins(), len(f.Magnitudes))
			}
		}
	}
}

func TestBuildShortInput(t *testing.T) {
	b := newTestBuilder(t, nil)

	_, err := b.Build(make([]float64, 1023), 11025)
	if !errors.Is(err, ErrInsufficientSignal) {
		t.Fatalf("Expected ErrInsufficientSignal, got %v", err)
	}
}

func TestBuildRejectsOtherSampleRate(t *testing.T) {
	b := newTestBuilder(t, nil)

	if _, err := b.Build(make([]float64, 4096), 44100); err == nil {
		t.Error("Expected error for mismatched sample rate")
	}
	if _, err := b.Build(make([]float64, 4096), 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestBuildSilence(t *testing.T) {
	b := newTestBuilder(t, nil)

	frames, err := b.Build(make([]float64, 8192), 11025)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, f := range frames {
		for k, m := range f.Magnitudes {
			if m != 0 {
				t.Fatalf("frame %d bin %d: expected zero magnitude, got %g", f.Index, k, m)
			}
		}
	}
}

func TestBuildToneLandsInExpectedBin(t *testing.T) {
	b := newTestBuilder(t, nil)
	samples := testsignal.Tone(1000, 1, 11025, 0.5)

	frames, err := b.Build(samples, 11025)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := int(math.Round(1000 / (11025.0 / 1024)))
	best := 0
	for k, m := range frames[0].Magnitudes {
		if m > frames[0].Magnitudes[best] {
			best = k
		}
	}
	if best < want-1 || best > want+1 {
		t.Errorf("Expected strongest bin near %d, got %d", want, best)
	}
}

func TestBuildMaxFrequencyTruncates(t *testing.T) {
	b := newTestBuilder(t, func(c *Config) { c.Spectrogram.MaxFrequency = 2000 })

	frames, err := b.Build(make([]float64, 2048), 11025)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	maxHz := 2000.0
	want := int(maxHz/(11025.0/1024)) + 1
	if len(frames[0].Magnitudes) != want {
		t.Errorf("Expected %d bins, got %d", want, len(frames[0].Magnitudes))
	}
}

func TestBuildBackendsAgree(t *testing.T) {
	samples := testsignal.Song(7, 3, 11025)
	dsp := newTestBuilder(t, nil)
	gonum := newTestBuilder(t, func(c *Config) { c.Spectrogram.Backend = BackendGonum })

	a, err := dsp.Build(samples, 11025)
	if err != nil {
		t.Fatalf("go-dsp Build failed: %v", err)
	}
	g, err := gonum.Build(samples, 11025)
	if err != nil {
		t.Fatalf("gonum Build failed: %v", err)
	}
	if len(a) != len(g) {
		t.Fatalf("frame count differs: %d vs %d", len(a), len(g))
	}
	for i := range a {
		for k := range a[i].Magnitudes {
			if d := math.Abs(a[i].Magnitudes[k] - g[i].Magnitudes[k]); d > 1e-6 {
				t.Fatalf("frame %d bin %d differs by %g", i, k, d)
			}
		}
	}
}

func TestBuildParallelMatchesSequential(t *testing.T) {
	samples := testsignal.Song(3, 5, 11025)
	seq := newTestBuilder(t, nil)
	par := newTestBuilder(t, func(c *Config) { c.Spectrogram.Parallelism = 4 })

	a, err := seq.Build(samples, 11025)
	if err != nil {
		t.Fatalf("sequential Build failed: %v", err)
	}
	b, err := par.Build(samples, 11025)
	if err != nil {
		t.Fatalf("parallel Build failed: %v", err)
	}
	assertFramesEqual(t, a, b)
}

func TestStreamMatchesBuild(t *testing.T) {
	b := newTestBuilder(t, nil)
	samples := testsignal.Song(11, 4, 11025)
	// A trailing partial window must be dropped.
	samples = append(samples, make([]float64, 100)...)

	want, err := b.Build(samples, 11025)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	in := make(chan []float64, 4)
	go func() {
		defer close(in)
		sizes := []int{1, 300, 777, 1024, 4096, 13}
		for pos, i := 0, 0; pos < len(samples); i++ {
			n := min(sizes[i%len(sizes)], len(samples)-pos)
			in <- samples[pos : pos+n]
			pos += n
		}
	}()

	got, err := CollectStream(b.Stream(context.Background(), 11025, in))
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	assertFramesEqual(t, want, got)
}

func TestStreamShortInput(t *testing.T) {
	b := newTestBuilder(t, nil)

	in := make(chan []float64, 1)
	in <- make([]float64, 500)
	close(in)

	frames, err := CollectStream(b.Stream(context.Background(), 11025, in))
	if !errors.Is(err, ErrInsufficientSignal) {
		t.Fatalf("Expected ErrInsufficientSignal, got %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("Expected no frames, got %d", len(frames))
	}
}

func TestStreamCancel(t *testing.T) {
	b := newTestBuilder(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	in := make(chan []float64) // never closed
	_, err := CollectStream(b.Stream(ctx, 11025, in))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

func assertFramesEqual(t *testing.T, want, got []Frame) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("Expected %d frames, got %d", len(want), len(got))
	}
	for i := range want {
		if want[i].Index != got[i].Index || want[i].Timestamp != got[i].Timestamp {
			t.Fatalf("frame %d: header mismatch %+v vs %+v", i, want[i].Index, got[i].Index)
		}
		for k := range want[i].Magnitudes {
			if want[i].Magnitudes[k] != got[i].Magnitudes[k] {
				t.Fatalf("frame %d bin %d: %g vs %g", i, k, want[i].Magnitudes[k], got[i].Magnitudes[k])
			}
		}
	}
}
