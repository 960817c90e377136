package fingerprint

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestHashLayoutRoundTrip(t *testing.T) {
	layout := DefaultConfig().Hash.Layout()

	tests := []struct {
		anchor, target, delta uint64
	}{
		{0, 0, 0},
		{1, 2, 3},
		{464, 300, 64},
		{1<<16 - 1, 1<<16 - 1, 1<<14 - 1},
	}

	for _, tt := range tests {
		h := layout.Pack(tt.anchor, tt.target, tt.delta)
		a, tg, d := layout.Unpack(h)
		if a != tt.anchor || tg != tt.target || d != tt.delta {
			t.Errorf("Pack/Unpack(%d,%d,%d) = (%d,%d,%d)", tt.anchor, tt.target, tt.delta, a, tg, d)
		}
	}

	if got := layout.Pack(1, 0, 0); got != Hash(1)<<30 {
		t.Errorf("Expected anchor field at bit 30, got %#x", uint64(got))
	}
}

func TestHasherDecodeRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hash.FreqStep = 2
	cfg.Hash.DeltaStep = 4
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config invalid: %v", err)
	}
	h := NewHasher(cfg)

	for _, tt := range []struct{ anchor, target, delta int }{
		{100, 140, 12},
		{101, 141, 15},
		{0, 464, 64},
	} {
		f := h.Decode(h.Encode(tt.anchor, tt.target, tt.delta))
		want := Fields{
			AnchorBin:   tt.anchor / 2 * 2,
			TargetBin:   tt.target / 2 * 2,
			DeltaFrames: tt.delta / 4 * 4,
		}
		if f != want {
			t.Errorf("Decode(Encode(%v)) = %+v, want %+v", tt, f, want)
		}
	}
}

func TestHashTargetZone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hash.FanOut = 2
	cfg.Hash.MaxDeltaFrames = 10
	cfg.Hash.MaxFreqDelta = 50
	h := NewHasher(cfg)

	peaks := []Peak{
		{TimeFrame: 0, FreqBin: 100},
		{TimeFrame: 0, FreqBin: 100}, // duplicate of the anchor
		{TimeFrame: 0, FreqBin: 120}, // same frame, below MinDeltaFrames
		{TimeFrame: 2, FreqBin: 200}, // too far in frequency
		{TimeFrame: 3, FreqBin: 130},
		{TimeFrame: 5, FreqBin: 90},
		{TimeFrame: 6, FreqBin: 110}, // beyond fan-out for the first anchor
		{TimeFrame: 20, FreqBin: 100},
	}

	landmarks := h.Hash(peaks)

	var fromFirst []Fields
	for _, lm := range landmarks {
		if lm.Offset == 0 {
			fromFirst = append(fromFirst, h.Decode(lm.Hash))
		}
	}
	want := []Fields{
		{AnchorBin: 100, TargetBin: 130, DeltaFrames: 3},
		{AnchorBin: 100, TargetBin: 90, DeltaFrames: 5},
		{AnchorBin: 120, TargetBin: 130, DeltaFrames: 3},
		{AnchorBin: 120, TargetBin: 90, DeltaFrames: 5},
	}
	if !reflect.DeepEqual(fromFirst, want) {
		t.Errorf("anchors at frame 0 produced %+v, want %+v", fromFirst, want)
	}

	for _, lm := range landmarks {
		if f := h.Decode(lm.Hash); f.DeltaFrames > 10 || f.DeltaFrames < 1 {
			t.Errorf("landmark outside target zone: %+v", f)
		}
	}
}

func TestHashOrderIndependent(t *testing.T) {
	h := NewHasher(DefaultConfig())
	r := rand.New(rand.NewSource(42))

	peaks := make([]Peak, 200)
	for i := range peaks {
		peaks[i] = Peak{TimeFrame: r.Intn(300), FreqBin: r.Intn(465), Magnitude: r.Float64()}
	}
	want := h.Hash(peaks)

	shuffled := append([]Peak(nil), peaks...)
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	got := h.Hash(shuffled)

	if !reflect.DeepEqual(want, got) {
		t.Error("Hash output depends on peak order")
	}
	if len(want) == 0 {
		t.Fatal("Expected landmarks")
	}
}

func TestHashOffsets(t *testing.T) {
	h := NewHasher(DefaultConfig())
	landmarks := h.Hash([]Peak{{TimeFrame: 1292, FreqBin: 50}, {TimeFrame: 1295, FreqBin: 60}})

	if len(landmarks) != 1 {
		t.Fatalf("Expected 1 landmark, got %d", len(landmarks))
	}
	if want := float64(1292*256) / 11025; landmarks[0].Offset != want {
		t.Errorf("Expected offset %f, got %f", want, landmarks[0].Offset)
	}
}

func TestParseHash(t *testing.T) {
	for _, h := range []Hash{0, 42, 1<<63 | 5, ^Hash(0)} {
		got, err := ParseHash(h.String())
		if err != nil {
			t.Fatalf("ParseHash(%s) failed: %v", h, err)
		}
		if got != h {
			t.Errorf("ParseHash(%s) = %d", h, got)
		}
	}
	if _, err := ParseHash("not-a-number"); err == nil {
		t.Error("Expected error for invalid hash")
	}
}
