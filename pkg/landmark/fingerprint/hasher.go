package fingerprint

import (
	"strconv"
)

// Hash is a packed landmark: anchor frequency, target frequency and time
// delta, each quantized into a fixed-width field.
type Hash uint64

func (h Hash) String() string { return strconv.FormatUint(uint64(h), 10) }

// ParseHash parses the decimal form produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Hash(v), nil
}

// Landmark is a hash together with the anchor time in seconds.
type Landmark struct {
	Hash   Hash
	Offset float64
}

// HashLayout describes the bit layout
//
//	[anchor: FreqBits][target: FreqBits][delta: DeltaBits]
//
// with delta in the least significant bits.
type HashLayout struct {
	FreqBits  uint
	DeltaBits uint
}

// Pack combines already quantized fields. Values wider than their field are
// masked; a validated Config never produces such values.
func (l HashLayout) Pack(anchorQ, targetQ, deltaQ uint64) Hash {
	freqMask := uint64(1)<<l.FreqBits - 1
	deltaMask := uint64(1)<<l.DeltaBits - 1
	return Hash((anchorQ&freqMask)<<(l.FreqBits+l.DeltaBits) |
		(targetQ&freqMask)<<l.DeltaBits |
		deltaQ&deltaMask)
}

// Unpack is the inverse of Pack.
func (l HashLayout) Unpack(h Hash) (anchorQ, targetQ, deltaQ uint64) {
	freqMask := uint64(1)<<l.FreqBits - 1
	deltaMask := uint64(1)<<l.DeltaBits - 1
	v := uint64(h)
	return (v >> (l.FreqBits + l.DeltaBits)) & freqMask, (v >> l.DeltaBits) & freqMask, v & deltaMask
}

// Fields is a decoded hash in bins and frames, at quantization resolution.
type Fields struct {
	AnchorBin   int
	TargetBin   int
	DeltaFrames int
}

// Hasher pairs peaks inside the target zone and packs each pair.
type Hasher struct {
	cfg        HashConfig
	layout     HashLayout
	hop        int
	sampleRate int
}

func NewHasher(cfg Config) *Hasher {
	return &Hasher{
		cfg:        cfg.Hash,
		layout:     cfg.Hash.Layout(),
		hop:        cfg.Spectrogram.HopSize,
		sampleRate: cfg.Spectrogram.SampleRate,
	}
}

// Encode quantizes and packs one anchor/target pair.
func (h *Hasher) Encode(anchorBin, targetBin, deltaFrames int) Hash {
	return h.layout.Pack(
		uint64(anchorBin/h.cfg.FreqStep),
		uint64(targetBin/h.cfg.FreqStep),
		uint64(deltaFrames/h.cfg.DeltaStep),
	)
}

// Decode recovers the quantized fields of a hash built with the same config.
func (h *Hasher) Decode(hash Hash) Fields {
	a, t, d := h.layout.Unpack(hash)
	return Fields{
		AnchorBin:   int(a) * h.cfg.FreqStep,
		TargetBin:   int(t) * h.cfg.FreqStep,
		DeltaFrames: int(d) * h.cfg.DeltaStep,
	}
}

// Hash emits one landmark per (anchor, target) pair. Targets are the first
// FanOut peaks after the anchor, in time then frequency order, that lie
// within [MinDeltaFrames, MaxDeltaFrames] frames and MaxFreqDelta bins.
// Duplicate (hash, anchor frame) pairs are emitted once.
func (h *Hasher) Hash(peaks []Peak) []Landmark {
	sorted := make([]Peak, len(peaks))
	copy(sorted, peaks)
	SortPeaks(sorted)

	type key struct {
		hash  Hash
		frame int
	}
	seen := make(map[key]struct{}, len(sorted)*h.cfg.FanOut)
	out := make([]Landmark, 0, len(sorted)*h.cfg.FanOut)

	for i, anchor := range sorted {
		paired := 0
		for j := i + 1; j < len(sorted) && paired < h.cfg.FanOut; j++ {
			target := sorted[j]
			dt := target.TimeFrame - anchor.TimeFrame
			if dt > h.cfg.MaxDeltaFrames {
				break
			}
			if dt < h.cfg.MinDeltaFrames || (dt == 0 && target.FreqBin == anchor.FreqBin) {
				continue
			}
			if df := target.FreqBin - anchor.FreqBin; df > h.cfg.MaxFreqDelta || -df > h.cfg.MaxFreqDelta {
				continue
			}
			paired++

			k := key{hash: h.Encode(anchor.FreqBin, target.FreqBin, dt), frame: anchor.TimeFrame}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, Landmark{Hash: k.hash, Offset: h.FrameOffset(anchor.TimeFrame)})
		}
	}
	return out
}

// FrameOffset converts a frame index to seconds, matching Frame.Timestamp.
func (h *Hasher) FrameOffset(frame int) float64 {
	return float64(frame*h.hop) / float64(h.sampleRate)
}
