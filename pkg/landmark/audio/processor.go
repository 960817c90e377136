package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/himanishpuri/landmarkdna/pkg/utils"
)

type ConvertWAVConfig struct {
	SampleRate int
	// Timeout applies when ctx has no deadline.
	Timeout time.Duration
}

// ConvertToMonoWAV runs ffmpeg to produce a mono 16-bit WAV in outputDir
// and returns its path. The caller owns the file.
func ConvertToMonoWAV(
	ctx context.Context,
	inputPath string,
	outputDir string,
	cfg ConvertWAVConfig,
) (string, error) {

	if cfg.SampleRate == 0 {
		cfg.SampleRate = 11025
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return "", err
	}

	// A unique name keeps concurrent conversions of same-named files apart.
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(outputDir, fmt.Sprintf("%s-%s.wav", base, uuid.NewString()[:8]))

	tmpPath := outputPath + ".tmp.wav"
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(
		ctx,
		"ffmpeg",
		"-y",
		"-v", "error",
		"-i", inputPath,
		"-vn",
		"-ac", "1", // mono
		"-ar", fmt.Sprintf("%d", cfg.SampleRate),
		"-c:a", "pcm_s16le",
		tmpPath,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", decodeErr("ffmpeg", fmt.Errorf("%v (%s)", err, strings.TrimSpace(string(out))))
	}

	if err := utils.MoveFile(tmpPath, outputPath); err != nil {
		return "", err
	}

	return outputPath, nil
}

// Load decodes any audio file into a mono clip. WAV files are read directly;
// other formats are converted with ffmpeg into tempDir at sampleRate and the
// intermediate file is removed.
func Load(ctx context.Context, path, tempDir string, sampleRate int) (Clip, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		clip, err := ReadWAV(path)
		if err == nil {
			return clip, nil
		}
		// Fall through: some .wav files carry compressed payloads ffmpeg can read.
		if !FFmpegAvailable() {
			return Clip{}, err
		}
	}

	if tempDir == "" {
		tempDir = os.TempDir()
	}
	wavPath, err := ConvertToMonoWAV(ctx, path, tempDir, ConvertWAVConfig{SampleRate: sampleRate})
	if err != nil {
		return Clip{}, err
	}
	defer os.Remove(wavPath)
	return ReadWAV(wavPath)
}

// FFmpegAvailable reports whether ffmpeg is on PATH.
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}
