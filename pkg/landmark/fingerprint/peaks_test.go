package fingerprint

import (
	"errors"
	"reflect"
	"testing"

	"github.com/himanishpuri/landmarkdna/internal/testsignal"
)

// gridFrames builds nT frames of nB bins filled with base.
func gridFrames(nT, nB int, base float64) []Frame {
	frames := make([]Frame, nT)
	for t := range frames {
		mags := make([]float64, nB)
		for k := range mags {
			mags[k] = base
		}
		frames[t] = Frame{Index: t, Timestamp: float64(t*256) / 11025, Magnitudes: mags}
	}
	return frames
}

func testExtractor(mutate func(*PeakConfig)) *Extractor {
	cfg := DefaultConfig()
	cfg.Peaks.MinPeaks = 1
	if mutate != nil {
		mutate(&cfg.Peaks)
	}
	return NewExtractor(cfg)
}

func TestExtractSinglePeak(t *testing.T) {
	frames := gridFrames(9, 60, 0.01)
	frames[4].Magnitudes[40] = 10

	peaks, err := testExtractor(nil).Extract(frames)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	want := []Peak{{TimeFrame: 4, FreqBin: 40, Magnitude: 10}}
	if !reflect.DeepEqual(peaks, want) {
		t.Errorf("Expected %v, got %v", want, peaks)
	}
}

func TestExtractRequiresStrictMaximum(t *testing.T) {
	frames := gridFrames(9, 60, 0.01)
	frames[4].Magnitudes[40] = 10
	frames[5].Magnitudes[42] = 10

	_, err := testExtractor(nil).Extract(frames)
	if !errors.Is(err, ErrInsufficientSignal) {
		t.Fatalf("Equal neighbors must not be peaks, got err=%v", err)
	}
}

func TestExtractBandRelativeThreshold(t *testing.T) {
	tests := []struct {
		name  string
		bump  float64
		peaks int
	}{
		{"below ratio", 1.5, 0},
		{"above ratio", 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := gridFrames(9, 60, 1.0)
			frames[4].Magnitudes[40] = tt.bump

			peaks, err := testExtractor(nil).Extract(frames)
			if tt.peaks == 0 {
				if !errors.Is(err, ErrInsufficientSignal) {
					t.Fatalf("Expected ErrInsufficientSignal, got %v (peaks %v)", err, peaks)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if len(peaks) != tt.peaks {
				t.Errorf("Expected %d peaks, got %d", tt.peaks, len(peaks))
			}
		})
	}
}

func TestExtractMaxPeaksPerBand(t *testing.T) {
	frames := gridFrames(9, 120, 0.01)
	frames[4].Magnitudes[40] = 5
	frames[4].Magnitudes[80] = 8

	peaks, err := testExtractor(func(p *PeakConfig) { p.MaxPeaksPerBand = 1 }).Extract(frames)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(peaks) != 1 || peaks[0].FreqBin != 80 {
		t.Errorf("Expected only the stronger peak at bin 80, got %v", peaks)
	}
}

func TestExtractSilence(t *testing.T) {
	_, err := testExtractor(nil).Extract(gridFrames(50, 465, 0))
	if !errors.Is(err, ErrInsufficientSignal) {
		t.Fatalf("Expected ErrInsufficientSignal for silence, got %v", err)
	}

	_, err = testExtractor(nil).Extract(nil)
	if !errors.Is(err, ErrInsufficientSignal) {
		t.Fatalf("Expected ErrInsufficientSignal for no frames, got %v", err)
	}
}

func TestExtractSong(t *testing.T) {
	cfg := DefaultConfig()
	b, err := NewBuilder(cfg)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	frames, err := b.Build(testsignal.Song(1, 10, 11025), 11025)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	e := NewExtractor(cfg)
	peaks, err := e.Extract(frames)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	for i := 1; i < len(peaks); i++ {
		prev, cur := peaks[i-1], peaks[i]
		if cur.TimeFrame < prev.TimeFrame || (cur.TimeFrame == prev.TimeFrame && cur.FreqBin <= prev.FreqBin) {
			t.Fatalf("Peaks not sorted at %d: %v then %v", i, prev, cur)
		}
	}
	for i, p := range peaks {
		if p.TimeFrame < 0 || p.TimeFrame >= len(frames) {
			t.Errorf("Peak %d has invalid time frame: %d", i, p.TimeFrame)
		}
		if p.FreqBin < 0 || p.FreqBin >= b.NumBins() {
			t.Errorf("Peak %d has invalid frequency bin: %d", i, p.FreqBin)
		}
	}

	again, err := e.Extract(frames)
	if err != nil {
		t.Fatalf("second Extract failed: %v", err)
	}
	if !reflect.DeepEqual(peaks, again) {
		t.Error("Extract is not deterministic")
	}

	t.Logf("%d peaks over %d frames (%.1f peaks/s)", len(peaks), len(frames), float64(len(peaks))/10)
}
