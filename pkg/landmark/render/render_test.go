package render

import (
	"errors"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/himanishpuri/landmarkdna/internal/testsignal"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
)

func TestPeakMap(t *testing.T) {
	frames := make([]fingerprint.Frame, 4)
	for i := range frames {
		frames[i] = fingerprint.Frame{Index: i, Magnitudes: make([]float64, 10)}
	}
	frames[2].Magnitudes[7] = 5

	img := PeakMap(frames, []fingerprint.Peak{{TimeFrame: 2, FreqBin: 7, Magnitude: 5}})
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 10 {
		t.Fatalf("Expected 4x10 image, got %v", b)
	}
	if got := img.NRGBAAt(2, 10-1-7); got != (color.NRGBA{R: 255, A: 255}) {
		t.Errorf("Expected red peak marker, got %v", got)
	}
	if got := img.NRGBAAt(0, 0); got != (color.NRGBA{A: 255}) {
		t.Errorf("Expected black background, got %v", got)
	}
}

func TestPeakMapEmpty(t *testing.T) {
	if b := PeakMap(nil, nil).Bounds(); !b.Empty() {
		t.Errorf("Expected empty image, got %v", b)
	}
}

func TestPeakMapPNG(t *testing.T) {
	fp, err := fingerprint.NewFingerprinter(fingerprint.DefaultConfig())
	if err != nil {
		t.Fatalf("NewFingerprinter failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "img", "peaks.png")
	if err := PeakMapPNG(fp, testsignal.Song(4, 3, 11025), 11025, path); err != nil {
		t.Fatalf("PeakMapPNG failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img.Bounds().Dy() != fp.Builder().NumBins() {
		t.Errorf("Expected height %d, got %d", fp.Builder().NumBins(), img.Bounds().Dy())
	}
}

func TestSpectrogramPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.png")
	if err := SpectrogramPNG(testsignal.Tone(1000, 1, 11025, 0.5), 11025, path, Options{Width: 256, Height: 128}); err != nil {
		t.Fatalf("SpectrogramPNG failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() == 0 {
		t.Error("Expected non-empty PNG")
	}

	err = SpectrogramPNG(nil, 11025, path, Options{})
	if !errors.Is(err, fingerprint.ErrInsufficientSignal) {
		t.Errorf("Expected ErrInsufficientSignal, got %v", err)
	}
}
