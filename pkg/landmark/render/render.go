// Package render draws spectrograms and extracted peaks as PNG images.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/eligwz/spectrogram"
	"gonum.org/v1/gonum/floats"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/utils"
)

type Options struct {
	Width  int
	Height int
	// Background is a hex color such as "000000".
	Background string
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 2048
	}
	if o.Height <= 0 {
		o.Height = 512
	}
	if o.Background == "" {
		o.Background = "000000"
	}
	return o
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		return utils.MakeDir(dir)
	}
	return nil
}

// SpectrogramPNG renders raw samples with a Hamming-windowed FFT.
func SpectrogramPNG(samples []float64, sampleRate int, path string, opts Options) error {
	if len(samples) == 0 {
		return fmt.Errorf("render: no samples: %w", fingerprint.ErrInsufficientSignal)
	}
	opts = opts.withDefaults()
	if err := ensureDir(path); err != nil {
		return err
	}

	img := spectrogram.NewImage128(image.Rect(0, 0, opts.Width, opts.Height))
	bg := spectrogram.ParseColor(opts.Background)
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	// Linear magnitude; log10 washes out quiet recordings.
	spectrogram.Drawfft(
		img,
		samples,
		uint32(sampleRate),
		uint32(opts.Height),
		false, // Hamming window
		false, // FFT
		true,  // magnitude
		false, // linear
	)

	if err := spectrogram.SavePng(img, path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

// PeakMap renders analysis frames (time left to right, low frequencies at
// the bottom) on a log-magnitude gray scale and marks peaks in red. The
// image is one pixel per frame and bin.
func PeakMap(frames []fingerprint.Frame, peaks []fingerprint.Peak) *image.NRGBA {
	if len(frames) == 0 {
		return image.NewNRGBA(image.Rect(0, 0, 0, 0))
	}
	bins := len(frames[0].Magnitudes)
	img := image.NewNRGBA(image.Rect(0, 0, len(frames), bins))

	maxMag := 0.0
	for _, f := range frames {
		if len(f.Magnitudes) > 0 {
			maxMag = math.Max(maxMag, floats.Max(f.Magnitudes))
		}
	}
	norm := math.Log1p(maxMag)

	for x, f := range frames {
		for k, m := range f.Magnitudes {
			v := uint8(0)
			if norm > 0 {
				v = uint8(255 * math.Log1p(m) / norm)
			}
			img.SetNRGBA(x, bins-1-k, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}

	red := color.NRGBA{R: 255, A: 255}
	for _, p := range peaks {
		x, y := p.TimeFrame, bins-1-p.FreqBin
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				if image.Pt(x+dx, y+dy).In(img.Rect) {
					img.SetNRGBA(x+dx, y+dy, red)
				}
			}
		}
	}
	return img
}

// PeakMapPNG fingerprints samples with fp and writes the peak map to path.
func PeakMapPNG(fp *fingerprint.Fingerprinter, samples []float64, sampleRate int, path string) error {
	prepared, err := fp.Prepare(samples, sampleRate)
	if err != nil {
		return err
	}
	frames, err := fp.Builder().Build(prepared, fp.Config().Spectrogram.SampleRate)
	if err != nil {
		return err
	}
	peaks, err := fingerprint.NewExtractor(fp.Config()).Extract(frames)
	if err != nil {
		return err
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := png.Encode(f, PeakMap(frames, peaks)); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}
