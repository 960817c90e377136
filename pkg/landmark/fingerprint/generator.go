package fingerprint

import (
	"context"
	"fmt"
)

// Fingerprinter runs the whole pipeline: preprocess, spectrogram, peaks, hashes.
type Fingerprinter struct {
	cfg       Config
	builder   *Builder
	extractor *Extractor
	hasher    *Hasher
}

func NewFingerprinter(cfg Config) (*Fingerprinter, error) {
	b, err := NewBuilder(cfg)
	if err != nil {
		return nil, err
	}
	return &Fingerprinter{
		cfg:       cfg,
		builder:   b,
		extractor: NewExtractor(cfg),
		hasher:    NewHasher(cfg),
	}, nil
}

func (f *Fingerprinter) Config() Config   { return f.cfg }
func (f *Fingerprinter) Builder() *Builder { return f.builder }
func (f *Fingerprinter) Hasher() *Hasher   { return f.hasher }

// Prepare converts samples to the configured rate. When downsampling, the
// configured low-pass filter runs first.
func (f *Fingerprinter) Prepare(samples []float64, sampleRate int) ([]float64, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	target := f.cfg.Spectrogram.SampleRate
	if sampleRate == target {
		return samples, nil
	}
	if sampleRate > target && f.cfg.Spectrogram.LowPassHz > 0 {
		samples = LowPass(samples, sampleRate, f.cfg.Spectrogram.LowPassHz)
	}
	return Resample(samples, sampleRate, target), nil
}

// Peaks runs the pipeline up to peak extraction.
func (f *Fingerprinter) Peaks(samples []float64, sampleRate int) ([]Peak, error) {
	prepared, err := f.Prepare(samples, sampleRate)
	if err != nil {
		return nil, err
	}
	frames, err := f.builder.Build(prepared, f.cfg.Spectrogram.SampleRate)
	if err != nil {
		return nil, err
	}
	return f.extractor.Extract(frames)
}

// Fingerprint returns the landmarks of samples. Either every landmark is
// returned or an error is, never a partial set.
func (f *Fingerprinter) Fingerprint(samples []float64, sampleRate int) ([]Landmark, error) {
	peaks, err := f.Peaks(samples, sampleRate)
	if err != nil {
		return nil, err
	}
	return f.hasher.Hash(peaks), nil
}

// FingerprintStream fingerprints samples arriving over in, already at the
// configured rate. Frames are built while samples arrive; peaks and hashes
// are computed once the stream ends.
func (f *Fingerprinter) FingerprintStream(ctx context.Context, in <-chan []float64) ([]Landmark, error) {
	frames, err := CollectStream(f.builder.Stream(ctx, f.cfg.Spectrogram.SampleRate, in))
	if err != nil {
		return nil, err
	}
	peaks, err := f.extractor.Extract(frames)
	if err != nil {
		return nil, err
	}
	return f.hasher.Hash(peaks), nil
}
