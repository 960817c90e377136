package landmark

import (
	"time"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/match"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
)

// IngestResult describes one ingested song.
type IngestResult struct {
	Path      string        `json:"path,omitempty"`
	Song      storage.Song  `json:"song"`
	Created   bool          `json:"created"`
	Landmarks int           `json:"landmarks"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	// Err is set by IngestFiles for files that failed; Error is its text.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// MatchResult is a match.Result with the matched song's catalog entry.
type MatchResult struct {
	match.Result
	Title        string        `json:"title,omitempty"`
	Artist       string        `json:"artist,omitempty"`
	QuerySeconds float64       `json:"query_seconds,omitempty"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// EvalOptions controls Evaluate.
type EvalOptions struct {
	// Snippets is the number of random snippets per file.
	Snippets int
	// SnippetSeconds is the length of each snippet.
	SnippetSeconds float64
	// SNR adds white noise at this signal-to-noise ratio in dB when AddNoise is set.
	AddNoise bool
	SNR      float64
	Seed     int64
	// OffsetTolerance is the largest offset error still counted as correct.
	OffsetTolerance float64
}

func (o EvalOptions) withDefaults() EvalOptions {
	if o.Snippets <= 0 {
		o.Snippets = 5
	}
	if o.SnippetSeconds <= 0 {
		o.SnippetSeconds = 5
	}
	if o.OffsetTolerance <= 0 {
		o.OffsetTolerance = 0.5
	}
	return o
}

// FileEval is the outcome for one evaluated file.
type FileEval struct {
	Path     string `json:"path"`
	SongID   uint32 `json:"song_id"`
	Correct  int    `json:"correct"`
	Wrong    int    `json:"wrong"`
	NoMatch  int    `json:"no_match"`
	Misalign int    `json:"misaligned"`
	Errors   int    `json:"errors"`
	Err      string `json:"error,omitempty"`
}

// EvalReport aggregates Evaluate over all files. Snippets whose recognition
// failed are counted in Errors and left out of Snippets and Accuracy.
type EvalReport struct {
	RunID           string     `json:"run_id"`
	Snippets        int        `json:"snippets"`
	Correct         int        `json:"correct"`
	Wrong           int        `json:"wrong"`
	NoMatch         int        `json:"no_match"`
	Misaligned      int        `json:"misaligned"`
	Errors          int        `json:"errors"`
	Skipped         int        `json:"skipped"`
	Accuracy        float64    `json:"accuracy"`
	MeanOffsetError float64    `json:"mean_offset_error"`
	Files           []FileEval `json:"files"`
}
