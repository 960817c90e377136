package landmark

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/audio"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
)

// Evaluate cuts random snippets from each file, optionally adds white noise,
// and checks that each snippet is recognized as the file's song at the
// snippet's start time. Files are matched to catalog songs by the checksum
// recorded at ingestion. Files not in the catalog, or shorter than one
// snippet, count as skipped. A snippet too quiet to fingerprint counts as no
// match; any other recognition failure is counted separately.
func (s *landmarkService) Evaluate(ctx context.Context, paths []string, opts EvalOptions) (EvalReport, error) {
	opts = opts.withDefaults()
	report := EvalReport{RunID: uuid.NewString()}

	songs, err := s.storage.ListSongs(ctx)
	if err != nil {
		return report, err
	}
	byChecksum := make(map[uint64]storage.Song, len(songs))
	for _, song := range songs {
		byChecksum[song.Checksum] = song
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var offsetErrSum float64
	var offsetErrN int

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fe := FileEval{Path: path}

		clip, err := audio.Load(ctx, path, s.config.TempDir, s.config.Fingerprint.Spectrogram.SampleRate)
		if err != nil {
			fe.Err = err.Error()
			report.Skipped++
			report.Files = append(report.Files, fe)
			continue
		}
		song, ok := byChecksum[audio.Checksum(clip.Samples)]
		if !ok {
			fe.Err = "not in catalog"
			report.Skipped++
			report.Files = append(report.Files, fe)
			continue
		}
		fe.SongID = song.ID

		span := clip.Duration() - opts.SnippetSeconds
		if span < 0 {
			fe.Err = fmt.Sprintf("shorter than %.1fs", opts.SnippetSeconds)
			report.Skipped++
			report.Files = append(report.Files, fe)
			continue
		}

		for i := 0; i < opts.Snippets; i++ {
			from := rng.Float64() * span
			lo := int(from * float64(clip.SampleRate))
			hi := lo + int(opts.SnippetSeconds*float64(clip.SampleRate))
			if hi > len(clip.Samples) {
				hi = len(clip.Samples)
			}
			snippet := make([]float64, hi-lo)
			copy(snippet, clip.Samples[lo:hi])
			if opts.AddNoise {
				addNoise(rng, snippet, opts.SNR)
			}
			// Use the sample-aligned start for the offset check.
			from = float64(lo) / float64(clip.SampleRate)

			res, err := s.RecognizeSamples(ctx, snippet, clip.SampleRate)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			if err != nil && !errors.Is(err, fingerprint.ErrInsufficientSignal) {
				s.log.Warnf("Snippet %d of %s failed: %v", i, path, err)
				fe.Errors++
				continue
			}
			report.Snippets++
			switch {
			case err != nil, !res.Matched:
				fe.NoMatch++
			case res.SongID != song.ID:
				fe.Wrong++
			default:
				offErr := math.Abs(res.AlignedOffsetSeconds - from)
				offsetErrSum += offErr
				offsetErrN++
				if offErr <= opts.OffsetTolerance {
					fe.Correct++
				} else {
					fe.Misalign++
				}
			}
		}

		report.Correct += fe.Correct
		report.Wrong += fe.Wrong
		report.NoMatch += fe.NoMatch
		report.Misaligned += fe.Misalign
		report.Errors += fe.Errors
		report.Files = append(report.Files, fe)
	}

	if report.Snippets > 0 {
		report.Accuracy = float64(report.Correct) / float64(report.Snippets)
	}
	if offsetErrN > 0 {
		report.MeanOffsetError = offsetErrSum / float64(offsetErrN)
	}
	s.log.Infof("Evaluation %s: %d/%d correct, %d wrong, %d no match, %d failed, %d skipped",
		report.RunID, report.Correct, report.Snippets, report.Wrong, report.NoMatch, report.Errors, report.Skipped)
	return report, nil
}

// addNoise adds Gaussian white noise to x at snrDB relative to x's RMS.
func addNoise(rng *rand.Rand, x []float64, snrDB float64) {
	if len(x) == 0 {
		return
	}
	rms := math.Sqrt(floats.Dot(x, x) / float64(len(x)))
	sigma := rms / math.Pow(10, snrDB/20)
	for i := range x {
		x[i] += sigma * rng.NormFloat64()
	}
}
