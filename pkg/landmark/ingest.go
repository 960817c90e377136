package landmark

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/audio"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
	"github.com/himanishpuri/landmarkdna/pkg/utils"
)

// IngestSamples fingerprints samples and stores them under the song
// described by info. Fingerprinting runs before anything is written, so a
// clip that is too short leaves the catalog untouched. Ingesting the same
// title and artist again reuses the existing song; the insert is idempotent.
func (s *landmarkService) IngestSamples(ctx context.Context, samples []float64, sampleRate int, info storage.SongInfo) (IngestResult, error) {
	start := time.Now()

	landmarks, err := s.fp.Fingerprint(samples, sampleRate)
	if err != nil {
		return IngestResult{}, fmt.Errorf("fingerprinting %q: %w", info.Title, err)
	}
	if err := ctx.Err(); err != nil {
		return IngestResult{}, err
	}

	if info.DurationMs == 0 && sampleRate > 0 {
		info.DurationMs = int(float64(len(samples)) / float64(sampleRate) * 1000)
	}
	if info.Checksum == 0 {
		info.Checksum = audio.Checksum(samples)
	}

	song, created, err := s.storage.RegisterSong(ctx, info)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to register song: %w", err)
	}

	records := make([]storage.Record, len(landmarks))
	for i, lm := range landmarks {
		records[i] = storage.Record{Hash: lm.Hash, Offset: lm.Offset}
	}
	if err := s.storage.InsertBatch(ctx, song.ID, records); err != nil {
		// Only roll back a song this call created; an existing song keeps
		// whatever it already had.
		if created {
			if derr := s.storage.DeleteSong(context.WithoutCancel(ctx), song.ID); derr != nil {
				s.log.Warnf("Rollback of song %d failed: %v", song.ID, derr)
			}
		}
		return IngestResult{}, fmt.Errorf("failed to store fingerprints: %w", err)
	}

	if created {
		s.log.Infof("Added song ID=%d %q by %q with %d landmarks", song.ID, song.Title, song.Artist, len(landmarks))
	} else {
		s.log.Debugf("Song ID=%d %q already present, re-inserted %d landmarks", song.ID, song.Title, len(landmarks))
	}
	return IngestResult{
		Song:      song,
		Created:   created,
		Landmarks: len(landmarks),
		Elapsed:   time.Since(start),
	}, nil
}

// AddSong processes an audio file and stores its fingerprints.
func (s *landmarkService) AddSong(ctx context.Context, audioPath, title, artist string) (IngestResult, error) {
	s.log.Debugf("Processing %s", audioPath)

	clip, err := audio.Load(ctx, audioPath, s.config.TempDir, s.config.Fingerprint.Spectrogram.SampleRate)
	if err != nil {
		return IngestResult{}, fmt.Errorf("loading %s: %w", audioPath, err)
	}

	if title == "" || artist == "" {
		tags, err := audio.ReadTags(audioPath)
		if err != nil {
			s.log.Debugf("No readable tags in %s: %v", audioPath, err)
		}
		if title == "" {
			title = tags.Title
		}
		if artist == "" {
			artist = tags.Artist
		}
	}
	if title == "" {
		title = utils.TitleFromPath(audioPath)
	}

	res, err := s.IngestSamples(ctx, clip.Samples, clip.SampleRate, storage.SongInfo{
		Title:      title,
		Artist:     artist,
		DurationMs: clip.DurationMs(),
		Checksum:   audio.Checksum(clip.Samples),
	})
	res.Path = audioPath
	return res, err
}

// IngestFiles ingests paths with at most Workers files in flight. progress,
// if not nil, is called once per file from a single goroutine at a time.
// The returned slice is in the order of paths. The error is non-nil only
// when ctx ends before every file was processed.
func (s *landmarkService) IngestFiles(ctx context.Context, paths []string, progress func(IngestResult)) ([]IngestResult, error) {
	results := make([]IngestResult, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for i, path := range paths {
		i, path := i, path
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.AddSong(gctx, path, "", "")
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				s.log.Warnf("Skipping %s: %v", path, err)
				res = IngestResult{Path: path, Err: err, Error: err.Error()}
			}
			results[i] = res
			if progress != nil {
				mu.Lock()
				progress(res)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
