package match

import "fmt"

// Candidate is one song's strongest time-alignment hypothesis.
type Candidate struct {
	SongID uint32 `json:"song_id"`
	// Bucket is the winning offset bucket; OffsetSeconds = Bucket * BucketSeconds.
	Bucket        int     `json:"bucket"`
	OffsetSeconds float64 `json:"offset_seconds"`
	// Votes is the count in the winning bucket, TotalVotes the count over all buckets.
	Votes      int `json:"votes"`
	TotalVotes int `json:"total_votes"`
}

// Result is the outcome of one recognition call. Matched is false for
// NoMatch, in which case SongID, Votes and the offset are zero but
// Candidates still describe what was considered.
type Result struct {
	Matched              bool        `json:"matched"`
	SongID               uint32      `json:"song_id,omitempty"`
	Votes                int         `json:"votes"`
	RunnerUpVotes        int         `json:"runner_up_votes"`
	TotalVotes           int         `json:"total_votes"`
	Confidence           float64     `json:"confidence"`
	AlignedOffsetSeconds float64     `json:"aligned_offset_seconds"`
	QueryHashes          int         `json:"query_hashes"`
	MatchedRows          int         `json:"matched_rows"`
	Candidates           []Candidate `json:"candidates,omitempty"`
}

// NoMatch reports whether the pipeline ran but found no confident song.
func (r Result) NoMatch() bool { return !r.Matched }

func (r Result) String() string {
	if !r.Matched {
		return fmt.Sprintf("no match (%d candidates, best %d votes)", len(r.Candidates), bestVotes(r.Candidates))
	}
	return fmt.Sprintf("song %d at %.2fs (votes=%d runner-up=%d confidence=%.2f)",
		r.SongID, r.AlignedOffsetSeconds, r.Votes, r.RunnerUpVotes, r.Confidence)
}

func bestVotes(c []Candidate) int {
	if len(c) == 0 {
		return 0
	}
	return c[0].Votes
}
