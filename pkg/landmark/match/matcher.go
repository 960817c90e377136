// Package match recognizes a query by offset-histogram voting.
//
// Every stored row sharing a hash with the query votes for the time
// alignment db_offset - query_offset of its song. A real match piles its
// votes into one alignment bucket; accidental collisions scatter.
package match

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
)

// Matcher is safe for concurrent use; it holds no per-query state.
type Matcher struct {
	store storage.Store
	cfg   fingerprint.MatchConfig
}

func New(store storage.Store, cfg fingerprint.MatchConfig) *Matcher {
	if cfg.BucketSeconds <= 0 {
		cfg.BucketSeconds = fingerprint.DefaultConfig().Match.BucketSeconds
	}
	return &Matcher{store: store, cfg: cfg}
}

func (m *Matcher) Config() fingerprint.MatchConfig { return m.cfg }

// Recognize looks up the query's hashes and votes. A query with no
// landmarks fails with ErrInsufficientSignal; a store failure wraps
// ErrStorage; no rows or no confident winner is a NoMatch result.
func (m *Matcher) Recognize(ctx context.Context, query []fingerprint.Landmark) (Result, error) {
	if len(query) == 0 {
		return Result{}, fmt.Errorf("empty query: %w", fingerprint.ErrInsufficientSignal)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	index := indexQuery(query)
	hashes := make([]fingerprint.Hash, 0, len(index))
	for h := range index {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })

	rows, err := m.store.Lookup(ctx, hashes)
	if err != nil {
		if !errors.Is(err, fingerprint.ErrStorage) {
			err = fmt.Errorf("lookup: %w: %w", fingerprint.ErrStorage, err)
		}
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := m.decide(index, rows)
	res.QueryHashes = len(hashes)
	return res, nil
}

// Vote scores already-retrieved rows against a query without touching the
// store.
func (m *Matcher) Vote(query []fingerprint.Landmark, rows []storage.Row) Result {
	index := indexQuery(query)
	res := m.decide(index, rows)
	res.QueryHashes = len(index)
	return res
}

func indexQuery(query []fingerprint.Landmark) map[fingerprint.Hash][]float64 {
	index := make(map[fingerprint.Hash][]float64, len(query))
	for _, lm := range query {
		index[lm.Hash] = append(index[lm.Hash], lm.Offset)
	}
	return index
}

type histogram struct {
	buckets map[int]int
	total   int
}

func (m *Matcher) bucket(delta float64) int {
	return int(math.Round(delta / m.cfg.BucketSeconds))
}

func (m *Matcher) decide(index map[fingerprint.Hash][]float64, rows []storage.Row) Result {
	hists := make(map[uint32]*histogram)
	matched := 0
	for _, r := range rows {
		offsets, ok := index[r.Hash]
		if !ok {
			continue
		}
		matched++
		h := hists[r.SongID]
		if h == nil {
			h = &histogram{buckets: make(map[int]int)}
			hists[r.SongID] = h
		}
		for _, q := range offsets {
			h.buckets[m.bucket(r.Offset-q)]++
			h.total++
		}
	}

	candidates := make([]Candidate, 0, len(hists))
	for id, h := range hists {
		b, votes := bestBucket(h.buckets)
		candidates = append(candidates, Candidate{
			SongID:        id,
			Bucket:        b,
			OffsetSeconds: float64(b) * m.cfg.BucketSeconds,
			Votes:         votes,
			TotalVotes:    h.total,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Votes != b.Votes {
			return a.Votes > b.Votes
		}
		if a.TotalVotes != b.TotalVotes {
			return a.TotalVotes > b.TotalVotes
		}
		return a.SongID < b.SongID
	})

	res := Result{MatchedRows: matched}
	if len(candidates) == 0 {
		return res
	}
	best := candidates[0]
	if len(candidates) > 1 {
		res.RunnerUpVotes = candidates[1].Votes
	}
	if m.cfg.TopK > 0 && len(candidates) > m.cfg.TopK {
		candidates = candidates[:m.cfg.TopK]
	}
	res.Candidates = candidates

	if !m.accept(best.Votes, res.RunnerUpVotes) {
		return res
	}
	res.Matched = true
	res.SongID = best.SongID
	res.Votes = best.Votes
	res.TotalVotes = best.TotalVotes
	res.Confidence = float64(best.Votes) / float64(best.TotalVotes)
	res.AlignedOffsetSeconds = best.OffsetSeconds
	return res
}

// accept applies the absolute floor and both runner-up margins. The winning
// count must exceed MinVotes.
func (m *Matcher) accept(best, runnerUp int) bool {
	if best <= m.cfg.MinVotes {
		return false
	}
	if best-runnerUp < m.cfg.MinMargin {
		return false
	}
	return float64(best) >= m.cfg.MinRatio*float64(runnerUp)
}

// bestBucket picks the fullest bucket; ties go to the bucket closest to
// zero, then to the lower one.
func bestBucket(buckets map[int]int) (bucket, votes int) {
	first := true
	for b, n := range buckets {
		if first || n > votes || (n == votes && closer(b, bucket)) {
			bucket, votes, first = b, n, false
		}
	}
	return bucket, votes
}

func closer(a, b int) bool {
	aa, ab := abs(a), abs(b)
	if aa != ab {
		return aa < ab
	}
	return a < b
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
