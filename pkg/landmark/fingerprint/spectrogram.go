package fingerprint

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Frame is one column of the spectrogram.
type Frame struct {
	Index      int
	Timestamp  float64
	Magnitudes []float64
}

// Builder turns mono PCM samples into magnitude frames.
type Builder struct {
	cfg    SpectrogramConfig
	window []float64
	bins   int
}

func NewBuilder(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := cfg.Spectrogram
	var win []float64
	switch s.Window {
	case WindowHamming:
		win = Hamming(s.WindowSize)
	default:
		win = Hann(s.WindowSize)
	}
	return &Builder{cfg: s, window: win, bins: s.NumBins()}, nil
}

// NumBins is the length of every Frame.Magnitudes produced by b.
func (b *Builder) NumBins() int { return b.bins }

func Hamming(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func Hann(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// spectrumFunc returns at least the first n/2 DFT coefficients of a real frame.
type spectrumFunc func(frame []float64) []complex128

// newSpectrumFunc returns a transform that is safe to use from a single
// goroutine. Each worker asks for its own.
func (b *Builder) newSpectrumFunc() spectrumFunc {
	if b.cfg.Backend == BackendGonum {
		plan := fourier.NewFFT(b.cfg.WindowSize)
		buf := make([]complex128, b.cfg.WindowSize/2+1)
		return func(frame []float64) []complex128 {
			return plan.Coefficients(buf, frame)
		}
	}
	return fft.FFTReal
}

func (b *Builder) checkRate(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if sampleRate != b.cfg.SampleRate {
		return fmt.Errorf("sample rate %d does not match configured %d, resample first", sampleRate, b.cfg.SampleRate)
	}
	return nil
}

// FrameCount is floor((n-window)/hop)+1, or 0 when n is shorter than one window.
func (b *Builder) FrameCount(n int) int {
	if n < b.cfg.WindowSize {
		return 0
	}
	return (n-b.cfg.WindowSize)/b.cfg.HopSize + 1
}

// Build computes every frame of samples. Input shorter than one window
// fails with ErrInsufficientSignal.
func (b *Builder) Build(samples []float64, sampleRate int) ([]Frame, error) {
	if err := b.checkRate(sampleRate); err != nil {
		return nil, err
	}
	n := b.FrameCount(len(samples))
	if n == 0 {
		return nil, fmt.Errorf("%d samples, need at least %d: %w", len(samples), b.cfg.WindowSize, ErrInsufficientSignal)
	}

	frames := make([]Frame, n)
	workers := b.cfg.Parallelism
	if workers <= 1 {
		spectrum := b.newSpectrumFunc()
		scratch := make([]float64, b.cfg.WindowSize)
		for i := range frames {
			frames[i] = b.frame(i, samples, scratch, spectrum)
		}
		return frames, nil
	}

	// Frames are independent; split them into contiguous chunks, one
	// transform and scratch buffer per chunk.
	var g errgroup.Group
	g.SetLimit(workers)
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, min(lo+chunk, n)
		g.Go(func() error {
			spectrum := b.newSpectrumFunc()
			scratch := make([]float64, b.cfg.WindowSize)
			for i := lo; i < hi; i++ {
				frames[i] = b.frame(i, samples, scratch, spectrum)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frames, nil
}

func (b *Builder) frame(index int, samples, scratch []float64, spectrum spectrumFunc) Frame {
	start := index * b.cfg.HopSize
	return Frame{
		Index:      index,
		Timestamp:  float64(start) / float64(b.cfg.SampleRate),
		Magnitudes: b.magnitudes(samples[start:start+b.cfg.WindowSize], scratch, spectrum),
	}
}

func (b *Builder) magnitudes(window, scratch []float64, spectrum spectrumFunc) []float64 {
	for i, w := range b.window {
		scratch[i] = window[i] * w
	}
	return MagnitudeSpectrum(spectrum(scratch), b.bins)
}

// MagnitudeSpectrum returns |X[k]| for the first n coefficients.
func MagnitudeSpectrum(spectrum []complex128, n int) []float64 {
	if n > len(spectrum) {
		n = len(spectrum)
	}
	mag := make([]float64, n)
	for i := 0; i < n; i++ {
		mag[i] = cmplx.Abs(spectrum[i])
	}
	return mag
}

// Stream consumes sample chunks of any size from in and emits frames as
// soon as each window is complete. Closing in finalizes the stream: every
// complete window has been emitted by then and a trailing partial window is
// dropped, so the emitted frames equal Build over the concatenated input.
// The error channel receives at most one value and is closed with the frame
// channel.
func (b *Builder) Stream(ctx context.Context, sampleRate int, in <-chan []float64) (<-chan Frame, <-chan error) {
	out := make(chan Frame, streamBuffer)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(out)

		if err := b.checkRate(sampleRate); err != nil {
			errc <- err
			return
		}

		var (
			ws       = b.cfg.WindowSize
			hop      = b.cfg.HopSize
			buf      = make([]float64, 0, 2*ws)
			scratch  = make([]float64, ws)
			spectrum = b.newSpectrumFunc()
			index    int
			consumed int // samples dropped from the front of buf
		)

		for {
			var (
				chunk []float64
				ok    bool
			)
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			case chunk, ok = <-in:
			}
			if !ok {
				break
			}
			buf = append(buf, chunk...)

			for len(buf) >= ws {
				f := Frame{
					Index:      index,
					Timestamp:  float64(consumed) / float64(b.cfg.SampleRate),
					Magnitudes: b.magnitudes(buf[:ws], scratch, spectrum),
				}
				select {
				case out <- f:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
				index++
				consumed += hop
				buf = buf[:copy(buf, buf[hop:])]
			}
		}

		if index == 0 {
			errc <- fmt.Errorf("stream ended after %d samples, need at least %d: %w", consumed+len(buf), ws, ErrInsufficientSignal)
		}
	}()

	return out, errc
}

// streamBuffer bounds the number of frames a slow consumer can fall behind.
const streamBuffer = 16

// CollectStream drains a Stream into a slice.
func CollectStream(frames <-chan Frame, errc <-chan error) ([]Frame, error) {
	var out []Frame
	for f := range frames {
		out = append(out, f)
	}
	if err, ok := <-errc; ok && err != nil {
		return out, err
	}
	return out, nil
}
