package fingerprint

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Peak is a locally dominant time-frequency point.
type Peak struct {
	TimeFrame int
	FreqBin   int
	Magnitude float64
}

// Extractor picks peaks with band-relative thresholds.
type Extractor struct {
	cfg   PeakConfig
	binHz float64
}

func NewExtractor(cfg Config) *Extractor {
	p := cfg.Peaks
	p.Bands = append([]float64(nil), p.Bands...)
	return &Extractor{cfg: p, binHz: cfg.Spectrogram.BinHz()}
}

// bandRanges converts the Hz band edges into [lo, hi) bin ranges for a
// frame of nBins bins. The last band always extends to the top bin.
func (e *Extractor) bandRanges(nBins int) [][2]int {
	edges := e.cfg.Bands
	ranges := make([][2]int, 0, len(edges)-1)
	for i := 0; i+1 < len(edges); i++ {
		lo := int(math.Round(edges[i] / e.binHz))
		hi := int(math.Round(edges[i+1] / e.binHz))
		if i+2 == len(edges) || hi > nBins {
			hi = nBins
		}
		if lo >= nBins || hi <= lo {
			continue
		}
		ranges = append(ranges, [2]int{lo, hi})
	}
	return ranges
}

// Extract returns the peaks of frames ordered by time then frequency. The
// result depends only on the frame contents.
func (e *Extractor) Extract(frames []Frame) ([]Peak, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames: %w", ErrInsufficientSignal)
	}
	nT := len(frames)
	nB := len(frames[0].Magnitudes)
	for _, f := range frames {
		if len(f.Magnitudes) != nB {
			return nil, fmt.Errorf("frame %d has %d bins, expected %d", f.Index, len(f.Magnitudes), nB)
		}
	}
	bands := e.bandRanges(nB)

	// prefix[b][t] is the sum of the per-frame band means of frames [0, t).
	prefix := make([][]float64, len(bands))
	for bi, band := range bands {
		sums := make([]float64, nT+1)
		for t, f := range frames {
			sums[t+1] = sums[t] + stat.Mean(f.Magnitudes[band[0]:band[1]], nil)
		}
		prefix[bi] = sums
	}

	w := e.cfg.EnergyWindowFrames
	peaks := make([]Peak, 0, nT*len(bands))
	candidates := make([]Peak, 0, 16)
	for t, f := range frames {
		for bi, band := range bands {
			lo, hi := max(0, t-w), min(nT, t+w+1)
			typical := (prefix[bi][hi] - prefix[bi][lo]) / float64(hi-lo)
			threshold := math.Max(e.cfg.ThresholdRatio*typical, e.cfg.MinMagnitude)

			candidates = candidates[:0]
			for k := band[0]; k < band[1]; k++ {
				m := f.Magnitudes[k]
				if m <= threshold || !e.isLocalMax(frames, t, k, m) {
					continue
				}
				candidates = append(candidates, Peak{TimeFrame: t, FreqBin: k, Magnitude: m})
			}
			if len(candidates) > e.cfg.MaxPeaksPerBand {
				sort.Slice(candidates, func(i, j int) bool {
					if candidates[i].Magnitude == candidates[j].Magnitude {
						return candidates[i].FreqBin < candidates[j].FreqBin
					}
					return candidates[i].Magnitude > candidates[j].Magnitude
				})
				candidates = candidates[:e.cfg.MaxPeaksPerBand]
			}
			peaks = append(peaks, candidates...)
		}
	}

	SortPeaks(peaks)

	if len(peaks) < e.cfg.MinPeaks {
		return nil, fmt.Errorf("found %d peaks, need at least %d: %w", len(peaks), e.cfg.MinPeaks, ErrInsufficientSignal)
	}
	return peaks, nil
}

// isLocalMax reports whether m is strictly greater than every other cell of
// the (t ± frames, k ± bins) neighborhood. Equal neighbors disqualify both.
func (e *Extractor) isLocalMax(frames []Frame, t, k int, m float64) bool {
	nT, nB := len(frames), len(frames[t].Magnitudes)
	for dt := -e.cfg.NeighborhoodFrames; dt <= e.cfg.NeighborhoodFrames; dt++ {
		ti := t + dt
		if ti < 0 || ti >= nT {
			continue
		}
		row := frames[ti].Magnitudes
		for df := -e.cfg.NeighborhoodBins; df <= e.cfg.NeighborhoodBins; df++ {
			fi := k + df
			if fi < 0 || fi >= nB || (dt == 0 && df == 0) {
				continue
			}
			if row[fi] >= m {
				return false
			}
		}
	}
	return true
}

// SortPeaks orders peaks by time frame, then frequency bin.
func SortPeaks(peaks []Peak) {
	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].TimeFrame == peaks[j].TimeFrame {
			return peaks[i].FreqBin < peaks[j].FreqBin
		}
		return peaks[i].TimeFrame < peaks[j].TimeFrame
	})
}
