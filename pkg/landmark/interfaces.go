package landmark

import (
	"context"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
)

// Service is the entry point used by the CLI, the HTTP server and tests.
type Service interface {
	// AddSong decodes a file and ingests it. Empty title and artist are
	// taken from embedded tags, then from the file name.
	AddSong(ctx context.Context, audioPath, title, artist string) (IngestResult, error)
	// IngestSamples ingests decoded mono samples.
	IngestSamples(ctx context.Context, samples []float64, sampleRate int, info storage.SongInfo) (IngestResult, error)
	// IngestFiles ingests files concurrently. A failing file does not stop
	// the others; its error is recorded in its result.
	IngestFiles(ctx context.Context, paths []string, progress func(IngestResult)) ([]IngestResult, error)

	MatchSong(ctx context.Context, audioPath string) (MatchResult, error)
	RecognizeSamples(ctx context.Context, samples []float64, sampleRate int) (MatchResult, error)
	// MatchLandmarks recognizes landmarks computed elsewhere, such as in a browser.
	MatchLandmarks(ctx context.Context, landmarks []fingerprint.Landmark) (MatchResult, error)

	// Evaluate measures recognition accuracy on random snippets of files
	// that are already ingested.
	Evaluate(ctx context.Context, paths []string, opts EvalOptions) (EvalReport, error)

	GetSongByID(ctx context.Context, id uint32) (storage.Song, error)
	ListSongs(ctx context.Context) ([]storage.Song, error)
	DeleteSong(ctx context.Context, id uint32) error
	Stats(ctx context.Context) (storage.Stats, error)

	Fingerprinter() *fingerprint.Fingerprinter
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
