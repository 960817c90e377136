package landmark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/audio"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
)

// MatchSong identifies the song a query audio file was taken from.
func (s *landmarkService) MatchSong(ctx context.Context, audioPath string) (MatchResult, error) {
	s.log.Debugf("Matching audio: %s", audioPath)

	clip, err := audio.Load(ctx, audioPath, s.config.TempDir, s.config.Fingerprint.Spectrogram.SampleRate)
	if err != nil {
		return MatchResult{}, fmt.Errorf("loading %s: %w", audioPath, err)
	}
	return s.RecognizeSamples(ctx, clip.Samples, clip.SampleRate)
}

func (s *landmarkService) RecognizeSamples(ctx context.Context, samples []float64, sampleRate int) (MatchResult, error) {
	start := time.Now()
	landmarks, err := s.fp.Fingerprint(samples, sampleRate)
	if err != nil {
		return MatchResult{}, err
	}
	res, err := s.recognize(ctx, landmarks, start)
	if sampleRate > 0 {
		res.QuerySeconds = float64(len(samples)) / float64(sampleRate)
	}
	return res, err
}

func (s *landmarkService) MatchLandmarks(ctx context.Context, landmarks []fingerprint.Landmark) (MatchResult, error) {
	return s.recognize(ctx, landmarks, time.Now())
}

func (s *landmarkService) recognize(ctx context.Context, landmarks []fingerprint.Landmark, start time.Time) (MatchResult, error) {
	r, err := s.matcher.Recognize(ctx, landmarks)
	if err != nil {
		return MatchResult{}, err
	}
	res := MatchResult{Result: r}
	if r.Matched {
		song, err := s.storage.GetSong(ctx, r.SongID)
		switch {
		case err == nil:
			res.Title, res.Artist = song.Title, song.Artist
		case errors.Is(err, storage.ErrSongNotFound):
			// Deleted between lookup and now.
			s.log.Warnf("Matched song %d is no longer in the catalog", r.SongID)
		default:
			return MatchResult{}, err
		}
	}
	res.Elapsed = time.Since(start)
	s.log.Infof("Query %d hashes, %d rows: %s", r.QueryHashes, r.MatchedRows, r)
	return res, nil
}
