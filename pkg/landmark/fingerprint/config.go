package fingerprint

import (
	"fmt"
)

// Window selects the smoothing window applied to every analysis frame.
type Window string

const (
	WindowHann    Window = "hann"
	WindowHamming Window = "hamming"
)

// FFTBackend selects the DFT implementation used by the Builder.
type FFTBackend string

const (
	BackendGoDSP FFTBackend = "godsp"
	BackendGonum FFTBackend = "gonum"
)

// SpectrogramConfig controls framing and the spectral transform.
type SpectrogramConfig struct {
	SampleRate   int        `mapstructure:"sample_rate" yaml:"sample_rate"`
	WindowSize   int        `mapstructure:"window_size" yaml:"window_size"`
	HopSize      int        `mapstructure:"hop_size" yaml:"hop_size"`
	MaxFrequency float64    `mapstructure:"max_frequency" yaml:"max_frequency"`
	Window       Window     `mapstructure:"window" yaml:"window"`
	Backend      FFTBackend `mapstructure:"backend" yaml:"backend"`
	// Parallelism is the number of goroutines used to transform frames; 0 or 1 is sequential.
	Parallelism int `mapstructure:"parallelism" yaml:"parallelism"`
	// LowPassHz is the cutoff of the anti-alias filter applied before downsampling. 0 disables it.
	LowPassHz float64 `mapstructure:"low_pass_hz" yaml:"low_pass_hz"`
}

// BinHz is the width of one frequency bin.
func (c SpectrogramConfig) BinHz() float64 {
	return float64(c.SampleRate) / float64(c.WindowSize)
}

// NumBins is the number of bins kept per frame: the lower half of the
// spectrum, truncated at MaxFrequency.
func (c SpectrogramConfig) NumBins() int {
	half := c.WindowSize / 2
	maxBin := int(c.MaxFrequency/c.BinHz()) + 1
	if maxBin < half {
		return maxBin
	}
	return half
}

// FrameSeconds is the time between two consecutive frames.
func (c SpectrogramConfig) FrameSeconds() float64 {
	return float64(c.HopSize) / float64(c.SampleRate)
}

// PeakConfig controls peak picking.
type PeakConfig struct {
	// Bands are ascending band edges in Hz; n edges describe n-1 bands.
	Bands              []float64 `mapstructure:"bands" yaml:"bands"`
	NeighborhoodFrames int       `mapstructure:"neighborhood_frames" yaml:"neighborhood_frames"`
	NeighborhoodBins   int       `mapstructure:"neighborhood_bins" yaml:"neighborhood_bins"`
	EnergyWindowFrames int       `mapstructure:"energy_window_frames" yaml:"energy_window_frames"`
	ThresholdRatio     float64   `mapstructure:"threshold_ratio" yaml:"threshold_ratio"`
	MinMagnitude       float64   `mapstructure:"min_magnitude" yaml:"min_magnitude"`
	MaxPeaksPerBand    int       `mapstructure:"max_peaks_per_band" yaml:"max_peaks_per_band"`
	MinPeaks           int       `mapstructure:"min_peaks" yaml:"min_peaks"`
}

// HashConfig controls the target zone and the packed hash layout.
type HashConfig struct {
	FreqBits       uint `mapstructure:"freq_bits" yaml:"freq_bits"`
	DeltaBits      uint `mapstructure:"delta_bits" yaml:"delta_bits"`
	FreqStep       int  `mapstructure:"freq_step" yaml:"freq_step"`
	DeltaStep      int  `mapstructure:"delta_step" yaml:"delta_step"`
	MinDeltaFrames int  `mapstructure:"min_delta_frames" yaml:"min_delta_frames"`
	MaxDeltaFrames int  `mapstructure:"max_delta_frames" yaml:"max_delta_frames"`
	MaxFreqDelta   int  `mapstructure:"max_freq_delta" yaml:"max_freq_delta"`
	FanOut         int  `mapstructure:"fan_out" yaml:"fan_out"`
}

// Layout returns the bit layout described by the config.
func (c HashConfig) Layout() HashLayout {
	return HashLayout{FreqBits: c.FreqBits, DeltaBits: c.DeltaBits}
}

// MatchConfig controls offset-histogram voting and the acceptance test.
// MinVotes is a floor the winning bucket must exceed, not just reach.
type MatchConfig struct {
	BucketSeconds float64 `mapstructure:"bucket_seconds" yaml:"bucket_seconds"`
	MinVotes      int     `mapstructure:"min_votes" yaml:"min_votes"`
	MinMargin     int     `mapstructure:"min_margin" yaml:"min_margin"`
	MinRatio      float64 `mapstructure:"min_ratio" yaml:"min_ratio"`
	TopK          int     `mapstructure:"top_k" yaml:"top_k"`
}

// Config is the complete, immutable parameter set of the pipeline. It is
// passed by value into every component and never modified afterwards.
type Config struct {
	Spectrogram SpectrogramConfig `mapstructure:"spectrogram" yaml:"spectrogram"`
	Peaks       PeakConfig        `mapstructure:"peaks" yaml:"peaks"`
	Hash        HashConfig        `mapstructure:"hash" yaml:"hash"`
	Match       MatchConfig       `mapstructure:"match" yaml:"match"`
}

func DefaultConfig() Config {
	return Config{
		Spectrogram: SpectrogramConfig{
			SampleRate:   11025,
			WindowSize:   1024,
			HopSize:      256,
			MaxFrequency: 5000,
			Window:       WindowHann,
			Backend:      BackendGoDSP,
			Parallelism:  1,
			LowPassHz:    5000,
		},
		Peaks: PeakConfig{
			Bands:              []float64{0, 300, 2000, 5000},
			NeighborhoodFrames: 3,
			NeighborhoodBins:   8,
			EnergyWindowFrames: 25,
			ThresholdRatio:     2.0,
			MinMagnitude:       1e-3,
			MaxPeaksPerBand:    5,
			MinPeaks:           10,
		},
		Hash: HashConfig{
			FreqBits:       16,
			DeltaBits:      14,
			FreqStep:       1,
			DeltaStep:      1,
			MinDeltaFrames: 1,
			MaxDeltaFrames: 64,
			MaxFreqDelta:   128,
			FanOut:         5,
		},
		Match: MatchConfig{
			BucketSeconds: 0.05,
			MinVotes:      5,
			MinMargin:     3,
			MinRatio:      1.5,
			TopK:          5,
		},
	}
}

// Validate checks the config for internal consistency. A valid config
// guarantees that every quantized hash field fits its bit width.
func (c Config) Validate() error {
	s := c.Spectrogram
	switch {
	case s.SampleRate <= 0:
		return fmt.Errorf("invalid config: sample rate must be positive, got %d", s.SampleRate)
	case s.WindowSize < 2:
		return fmt.Errorf("invalid config: window size must be at least 2, got %d", s.WindowSize)
	case s.HopSize <= 0 || s.HopSize > s.WindowSize:
		return fmt.Errorf("invalid config: hop size must be in (0, %d], got %d", s.WindowSize, s.HopSize)
	case s.MaxFrequency <= 0:
		return fmt.Errorf("invalid config: max frequency must be positive, got %g", s.MaxFrequency)
	case s.Window != WindowHann && s.Window != WindowHamming:
		return fmt.Errorf("invalid config: unknown window %q", s.Window)
	case s.Backend != BackendGoDSP && s.Backend != BackendGonum:
		return fmt.Errorf("invalid config: unknown fft backend %q", s.Backend)
	case s.Parallelism < 0:
		return fmt.Errorf("invalid config: parallelism must not be negative, got %d", s.Parallelism)
	case s.LowPassHz < 0:
		return fmt.Errorf("invalid config: low-pass cutoff must not be negative, got %g", s.LowPassHz)
	}

	p := c.Peaks
	if len(p.Bands) < 2 {
		return fmt.Errorf("invalid config: need at least two band edges, got %d", len(p.Bands))
	}
	for i := 1; i < len(p.Bands); i++ {
		if p.Bands[i] <= p.Bands[i-1] {
			return fmt.Errorf("invalid config: band edges must be strictly increasing at index %d", i)
		}
	}
	switch {
	case p.Bands[0] < 0:
		return fmt.Errorf("invalid config: band edges must not be negative")
	case p.NeighborhoodFrames < 0 || p.NeighborhoodBins < 0:
		return fmt.Errorf("invalid config: neighborhood must not be negative")
	case p.EnergyWindowFrames < 0:
		return fmt.Errorf("invalid config: energy window must not be negative, got %d", p.EnergyWindowFrames)
	case p.ThresholdRatio < 0 || p.MinMagnitude < 0:
		return fmt.Errorf("invalid config: thresholds must not be negative")
	case p.MaxPeaksPerBand < 1:
		return fmt.Errorf("invalid config: max peaks per band must be at least 1, got %d", p.MaxPeaksPerBand)
	case p.MinPeaks < 1:
		return fmt.Errorf("invalid config: min peaks must be at least 1, got %d", p.MinPeaks)
	}

	h := c.Hash
	switch {
	case h.FreqBits == 0 || h.DeltaBits == 0:
		return fmt.Errorf("invalid config: hash fields need at least one bit")
	case 2*h.FreqBits+h.DeltaBits > 64:
		return fmt.Errorf("invalid config: hash layout needs %d bits, only 64 available", 2*h.FreqBits+h.DeltaBits)
	case h.FreqStep < 1 || h.DeltaStep < 1:
		return fmt.Errorf("invalid config: quantization steps must be at least 1")
	case h.MinDeltaFrames < 0 || h.MaxDeltaFrames < 1 || h.MinDeltaFrames > h.MaxDeltaFrames:
		return fmt.Errorf("invalid config: target zone [%d, %d] frames is empty", h.MinDeltaFrames, h.MaxDeltaFrames)
	case h.MaxFreqDelta < 0:
		return fmt.Errorf("invalid config: max frequency delta must not be negative")
	case h.FanOut < 1:
		return fmt.Errorf("invalid config: fan-out must be at least 1, got %d", h.FanOut)
	}
	if q := uint64((s.NumBins() - 1) / h.FreqStep); q >= 1<<h.FreqBits {
		return fmt.Errorf("invalid config: %d frequency bins do not fit in %d bits", s.NumBins(), h.FreqBits)
	}
	if q := uint64(h.MaxDeltaFrames / h.DeltaStep); q >= 1<<h.DeltaBits {
		return fmt.Errorf("invalid config: max delta %d frames does not fit in %d bits", h.MaxDeltaFrames, h.DeltaBits)
	}

	m := c.Match
	switch {
	case m.BucketSeconds <= 0:
		return fmt.Errorf("invalid config: bucket width must be positive, got %g", m.BucketSeconds)
	case m.MinVotes < 1:
		return fmt.Errorf("invalid config: min votes must be at least 1, got %d", m.MinVotes)
	case m.MinMargin < 0 || m.MinRatio < 0:
		return fmt.Errorf("invalid config: margins must not be negative")
	case m.TopK < 1:
		return fmt.Errorf("invalid config: top-k must be at least 1, got %d", m.TopK)
	}
	return nil
}
