// Package audio turns files into mono float samples and back.
//
// WAV is decoded natively; anything else goes through ffmpeg first.
package audio

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/utils"
)

// Clip is decoded mono audio.
type Clip struct {
	Samples    []float64
	SampleRate int
	// Channels and BitDepth describe the source before downmixing.
	Channels int
	BitDepth int
}

func (c Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

func (c Clip) DurationMs() int {
	return int(math.Round(c.Duration() * 1000))
}

func decodeErr(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", what, fingerprint.ErrDecode)
	}
	return fmt.Errorf("%s: %w: %w", what, fingerprint.ErrDecode, err)
}

// ReadWAV decodes a PCM WAV file into mono samples in [-1, 1].
func ReadWAV(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, decodeErr("opening "+filepath.Base(path), err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV decodes PCM WAV from r. Multi-channel audio is averaged to mono.
func DecodeWAV(r io.ReadSeeker) (Clip, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return Clip{}, decodeErr("not a valid WAV file", decoder.Err())
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return Clip{}, decodeErr("reading PCM data", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels == 0 {
		return Clip{}, decodeErr("missing format chunk", nil)
	}

	channels := buf.Format.NumChannels
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(decoder.BitDepth)
	}
	if depth <= 0 || depth > 32 {
		return Clip{}, decodeErr(fmt.Sprintf("unsupported bit depth %d", depth), nil)
	}

	scale := float64(int64(1) << (depth - 1))
	// 8-bit WAV is unsigned.
	var bias float64
	if depth == 8 {
		bias = 128
	}

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += (float64(buf.Data[i*channels+c]) - bias) / scale
		}
		samples[i] = sum / float64(channels)
	}

	return Clip{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   channels,
		BitDepth:   depth,
	}, nil
}

// WriteWAV encodes samples as 16-bit mono PCM. Values are clipped to [-1, 1].
func WriteWAV(path string, samples []float64, sampleRate int) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := utils.MakeDir(dir); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(math.Max(-1, math.Min(1, s)) * math.MaxInt16))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing wav: %w", err)
	}
	return f.Close()
}
