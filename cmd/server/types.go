package main

import (
	"fmt"

	"github.com/himanishpuri/landmarkdna/pkg/landmark"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/match"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
)

// Landmark limit constants for validation
const (
	// MaxLandmarksHardLimit is the absolute maximum allowed (a few minutes of audio)
	MaxLandmarksHardLimit = 100000

	// LandmarkWarningThreshold triggers logging for large batches
	LandmarkWarningThreshold = 20000
)

// LandmarkDTO is one landmark on the wire. Hashes use 64 bits, more than
// a JSON number carries exactly, so they travel as decimal strings.
type LandmarkDTO struct {
	Hash   string  `json:"hash"`
	Offset float64 `json:"offset"`
}

// MatchLandmarksRequest is the request body for POST /api/match/landmarks
type MatchLandmarksRequest struct {
	Landmarks []LandmarkDTO `json:"landmarks"`
}

// Validate checks the request and converts it. Hashes are checked against
// the server's hash layout so landmarks built with a different config are
// rejected instead of silently never matching.
func (r *MatchLandmarksRequest) Validate(cfg fingerprint.Config) ([]fingerprint.Landmark, error) {
	if len(r.Landmarks) == 0 {
		return nil, fmt.Errorf("landmarks cannot be empty")
	}
	if len(r.Landmarks) > MaxLandmarksHardLimit {
		return nil, fmt.Errorf("too many landmarks: %d (maximum: %d)", len(r.Landmarks), MaxLandmarksHardLimit)
	}

	hasher := fingerprint.NewHasher(cfg)
	width := 2*cfg.Hash.FreqBits + cfg.Hash.DeltaBits
	out := make([]fingerprint.Landmark, len(r.Landmarks))
	for i, dto := range r.Landmarks {
		h, err := fingerprint.ParseHash(dto.Hash)
		if err != nil {
			return nil, fmt.Errorf("landmark %d: invalid hash %q", i, dto.Hash)
		}
		if width < 64 && uint64(h)>>width != 0 {
			return nil, fmt.Errorf("landmark %d: hash %s wider than %d bits", i, dto.Hash, width)
		}
		if d := hasher.Decode(h).DeltaFrames; d > cfg.Hash.MaxDeltaFrames {
			return nil, fmt.Errorf("landmark %d: time delta %d outside target zone", i, d)
		}
		if dto.Offset < 0 {
			return nil, fmt.Errorf("landmark %d: negative offset", i)
		}
		out[i] = fingerprint.Landmark{Hash: h, Offset: dto.Offset}
	}
	return out, nil
}

// MatchResponse is the response for both match endpoints. Matched is false
// for a confident "not in the catalog" answer.
type MatchResponse struct {
	Matched              bool              `json:"matched"`
	SongID               uint32            `json:"song_id,omitempty"`
	Title                string            `json:"title,omitempty"`
	Artist               string            `json:"artist,omitempty"`
	Votes                int               `json:"votes"`
	RunnerUpVotes        int               `json:"runner_up_votes"`
	Confidence           float64           `json:"confidence"`
	AlignedOffsetSeconds float64           `json:"aligned_offset_seconds"`
	QueryHashes          int               `json:"query_hashes"`
	ElapsedMs            int64             `json:"elapsed_ms"`
	Candidates           []match.Candidate `json:"candidates,omitempty"`
}

func newMatchResponse(res landmark.MatchResult) MatchResponse {
	return MatchResponse{
		Matched:              res.Matched,
		SongID:               res.SongID,
		Title:                res.Title,
		Artist:               res.Artist,
		Votes:                res.Votes,
		RunnerUpVotes:        res.RunnerUpVotes,
		Confidence:           res.Confidence,
		AlignedOffsetSeconds: res.AlignedOffsetSeconds,
		QueryHashes:          res.QueryHashes,
		ElapsedMs:            res.Elapsed.Milliseconds(),
		Candidates:           res.Candidates,
	}
}

// AddSongResponse is the response for successful song addition
type AddSongResponse struct {
	Message   string `json:"message"`
	ID        uint32 `json:"id"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Created   bool   `json:"created"`
	Landmarks int    `json:"landmarks"`
}

// SongDTO represents a song in API responses
type SongDTO struct {
	ID               uint32 `json:"id"`
	Title            string `json:"title"`
	Artist           string `json:"artist"`
	DurationMs       int    `json:"duration_ms"`
	Checksum         string `json:"checksum,omitempty"`
	FingerprintCount *int   `json:"fingerprint_count,omitempty"`
}

func newSongDTO(song storage.Song) SongDTO {
	return SongDTO{
		ID:         song.ID,
		Title:      song.Title,
		Artist:     song.Artist,
		DurationMs: song.DurationMs,
		Checksum:   fmt.Sprintf("%016x", song.Checksum),
	}
}

// ListSongsResponse is the response for GET /api/songs
type ListSongsResponse struct {
	Songs []SongDTO `json:"songs"`
	Count int       `json:"count"`
}

// DeleteSongResponse is the response for DELETE /api/songs/{id}
type DeleteSongResponse struct {
	Message string `json:"message"`
	ID      uint32 `json:"id"`
}

// MetricsResponse provides server health and database metrics
type MetricsResponse struct {
	Status           string `json:"status"`
	StorageDriver    string `json:"storage_driver"`
	SongCount        int    `json:"song_count"`
	FingerprintCount int    `json:"fingerprint_count"`
	SampleRate       int    `json:"sample_rate"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Code      int    `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
