package landmark

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/himanishpuri/landmarkdna/internal/testsignal"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/audio"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
	"github.com/himanishpuri/landmarkdna/pkg/logger"
)

const sampleRate = 11025

// setupTestService creates a service over an in-memory store.
func setupTestService(t *testing.T, opts ...Option) Service {
	t.Helper()

	opts = append([]Option{
		WithDriver("memory"),
		WithTempDir(t.TempDir()),
		WithWorkers(2),
		WithLogger(logger.Nop()),
	}, opts...)
	svc, err := NewService(opts...)
	if err != nil {
		t.Fatalf("Failed to create test service: %v", err)
	}
	t.Cleanup(func() {
		svc.Close()
	})
	return svc
}

// writeSong writes a synthetic song as a WAV file under dir.
func writeSong(t *testing.T, dir, name string, seed int64, seconds float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := audio.WriteWAV(path, testsignal.Song(seed, seconds, sampleRate), sampleRate); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// failingInserts rejects every InsertBatch.
type failingInserts struct {
	*storage.MemoryStore
}

func (failingInserts) InsertBatch(context.Context, uint32, []storage.Record) error {
	return errors.New("disk full")
}

// failingLookups rejects every Lookup with err.
type failingLookups struct {
	*storage.MemoryStore
	err error
}

func (f failingLookups) Lookup(context.Context, []fingerprint.Hash) ([]storage.Row, error) {
	return nil, f.err
}

// TestNewService tests service initialization and option validation
func TestNewService(t *testing.T) {
	svc := setupTestService(t)
	if svc.Fingerprinter() == nil {
		t.Fatal("Expected non-nil fingerprinter")
	}

	bad := fingerprint.DefaultConfig()
	bad.Spectrogram.HopSize = 0
	if _, err := NewService(WithDriver("memory"), WithFingerprintConfig(bad)); err == nil {
		t.Error("Expected error for invalid fingerprint config")
	}
	if _, err := NewService(WithDriver("cassette")); err == nil {
		t.Error("Expected error for unknown driver")
	}
}

// TestIngestAndRecognize tests the full pipeline on in-memory samples
func TestIngestAndRecognize(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	songA := testsignal.Song(1, 40, sampleRate)
	songB := testsignal.Song(2, 40, sampleRate)

	resA, err := svc.IngestSamples(ctx, songA, sampleRate, storage.SongInfo{Title: "Alpha", Artist: "Tester"})
	if err != nil {
		t.Fatalf("Failed to ingest Alpha: %v", err)
	}
	if !resA.Created || resA.Landmarks == 0 {
		t.Fatalf("Unexpected ingest result %+v", resA)
	}
	if resA.Song.DurationMs != 40000 {
		t.Errorf("Expected duration 40000ms, got %d", resA.Song.DurationMs)
	}
	if resA.Song.Checksum != audio.Checksum(songA) {
		t.Errorf("Expected checksum of the samples, got %d", resA.Song.Checksum)
	}
	if _, err := svc.IngestSamples(ctx, songB, sampleRate, storage.SongInfo{Title: "Beta"}); err != nil {
		t.Fatalf("Failed to ingest Beta: %v", err)
	}

	res, err := svc.RecognizeSamples(ctx, testsignal.Slice(songA, sampleRate, 12, 18), sampleRate)
	if err != nil {
		t.Fatalf("RecognizeSamples failed: %v", err)
	}
	if !res.Matched || res.SongID != resA.Song.ID {
		t.Fatalf("Expected match on song %d, got %s", resA.Song.ID, res)
	}
	if res.Title != "Alpha" || res.Artist != "Tester" {
		t.Errorf("Expected Alpha by Tester, got %q by %q", res.Title, res.Artist)
	}
	if math.Abs(res.AlignedOffsetSeconds-12) > 0.5 {
		t.Errorf("Expected offset near 12s, got %.3f", res.AlignedOffsetSeconds)
	}
	if math.Abs(res.QuerySeconds-6) > 0.01 {
		t.Errorf("Expected 6s query, got %.3f", res.QuerySeconds)
	}
}

// TestIngestIdempotent tests that re-ingesting a song adds nothing
func TestIngestIdempotent(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	song := testsignal.Song(3, 20, sampleRate)

	first, err := svc.IngestSamples(ctx, song, sampleRate, storage.SongInfo{Title: "Gamma"})
	if err != nil {
		t.Fatalf("First ingest failed: %v", err)
	}
	before, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	second, err := svc.IngestSamples(ctx, song, sampleRate, storage.SongInfo{Title: "  GAMMA "})
	if err != nil {
		t.Fatalf("Second ingest failed: %v", err)
	}
	if second.Created || second.Song.ID != first.Song.ID {
		t.Errorf("Expected existing song %d, got %+v", first.Song.ID, second)
	}
	after, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if after != before {
		t.Errorf("Expected stats unchanged %+v, got %+v", before, after)
	}
}

// TestIngestInsufficientSignal tests that a clip too short to fingerprint leaves no song behind
func TestIngestInsufficientSignal(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	_, err := svc.IngestSamples(ctx, testsignal.Song(4, 0.05, sampleRate), sampleRate, storage.SongInfo{Title: "Blip"})
	if !errors.Is(err, fingerprint.ErrInsufficientSignal) {
		t.Fatalf("Expected ErrInsufficientSignal, got %v", err)
	}
	songs, err := svc.ListSongs(ctx)
	if err != nil {
		t.Fatalf("ListSongs failed: %v", err)
	}
	if len(songs) != 0 {
		t.Errorf("Expected empty catalog, got %v", songs)
	}
}

// TestIngestRollback tests that a failed insert removes the new song
func TestIngestRollback(t *testing.T) {
	mem := storage.NewMemoryStore()
	svc := setupTestService(t, WithBackend(failingInserts{mem}))
	ctx := context.Background()

	_, err := svc.IngestSamples(ctx, testsignal.Song(5, 10, sampleRate), sampleRate, storage.SongInfo{Title: "Delta"})
	if err == nil {
		t.Fatal("Expected insert failure")
	}
	songs, err := mem.ListSongs(ctx)
	if err != nil {
		t.Fatalf("ListSongs failed: %v", err)
	}
	if len(songs) != 0 {
		t.Errorf("Expected rollback to remove the song, got %v", songs)
	}
}

// TestMatchLandmarksEmpty tests that an empty landmark query is rejected
func TestMatchLandmarksEmpty(t *testing.T) {
	svc := setupTestService(t)
	_, err := svc.MatchLandmarks(context.Background(), nil)
	if !errors.Is(err, fingerprint.ErrInsufficientSignal) {
		t.Fatalf("Expected ErrInsufficientSignal, got %v", err)
	}
}

// TestRecognizeNoise tests that noise against a populated catalog is NoMatch, not an error
func TestRecognizeNoise(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	if _, err := svc.IngestSamples(ctx, testsignal.Song(6, 30, sampleRate), sampleRate, storage.SongInfo{Title: "Epsilon"}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	res, err := svc.RecognizeSamples(ctx, testsignal.Noise(99, 6, sampleRate, 0.5), sampleRate)
	if err != nil {
		t.Fatalf("RecognizeSamples failed: %v", err)
	}
	if !res.NoMatch() {
		t.Errorf("Expected no match, got %s", res)
	}
}

// TestAddSongAndMatchFile tests file ingestion with a title taken from the file name
func TestAddSongAndMatchFile(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	dir := t.TempDir()

	full := testsignal.Song(7, 30, sampleRate)
	songPath := filepath.Join(dir, "night_drive.wav")
	if err := audio.WriteWAV(songPath, full, sampleRate); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
	queryPath := filepath.Join(dir, "query.wav")
	if err := audio.WriteWAV(queryPath, testsignal.Slice(full, sampleRate, 5, 11), sampleRate); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}

	added, err := svc.AddSong(ctx, songPath, "", "")
	if err != nil {
		t.Fatalf("AddSong failed: %v", err)
	}
	if added.Song.Title != "night drive" {
		t.Errorf("Expected title from file name, got %q", added.Song.Title)
	}
	if added.Path != songPath {
		t.Errorf("Expected path %s, got %s", songPath, added.Path)
	}

	res, err := svc.MatchSong(ctx, queryPath)
	if err != nil {
		t.Fatalf("MatchSong failed: %v", err)
	}
	if !res.Matched || res.SongID != added.Song.ID {
		t.Fatalf("Expected match on %d, got %s", added.Song.ID, res)
	}
	if math.Abs(res.AlignedOffsetSeconds-5) > 0.5 {
		t.Errorf("Expected offset near 5s, got %.3f", res.AlignedOffsetSeconds)
	}
}

// TestMatchSongDecodeError tests that unreadable input surfaces ErrDecode
func TestMatchSongDecodeError(t *testing.T) {
	svc := setupTestService(t)
	path := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(path, []byte("RIFF nonsense"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if audio.FFmpegAvailable() {
		t.Skip("ffmpeg would attempt a fallback decode")
	}
	_, err := svc.MatchSong(context.Background(), path)
	if !errors.Is(err, fingerprint.ErrDecode) {
		t.Fatalf("Expected ErrDecode, got %v", err)
	}
}

// TestIngestFiles tests concurrent ingestion with one bad file
func TestIngestFiles(t *testing.T) {
	svc := setupTestService(t)
	dir := t.TempDir()

	paths := []string{
		writeSong(t, dir, "one.wav", 11, 15),
		filepath.Join(dir, "missing.wav"),
		writeSong(t, dir, "two.wav", 12, 15),
		writeSong(t, dir, "three.wav", 13, 15),
	}

	var calls atomic.Int32
	results, err := svc.IngestFiles(context.Background(), paths, func(IngestResult) {
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("IngestFiles failed: %v", err)
	}
	if int(calls.Load()) != len(paths) {
		t.Errorf("Expected %d progress calls, got %d", len(paths), calls.Load())
	}
	for i, res := range results {
		if i == 1 {
			if res.Err == nil {
				t.Errorf("Expected error for missing file")
			}
			continue
		}
		if res.Err != nil || res.Path != paths[i] || !res.Created {
			t.Errorf("Unexpected result %d: %+v", i, res)
		}
	}

	songs, err := svc.ListSongs(context.Background())
	if err != nil {
		t.Fatalf("ListSongs failed: %v", err)
	}
	if len(songs) != 3 {
		t.Errorf("Expected 3 songs, got %d", len(songs))
	}
}

// TestIngestFilesCanceled tests that a canceled context stops ingestion
func TestIngestFilesCanceled(t *testing.T) {
	svc := setupTestService(t)
	dir := t.TempDir()
	paths := []string{writeSong(t, dir, "a.wav", 21, 10), writeSong(t, dir, "b.wav", 22, 10)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.IngestFiles(ctx, paths, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

// TestDeleteSong tests catalog removal
func TestDeleteSong(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	res, err := svc.IngestSamples(ctx, testsignal.Song(8, 15, sampleRate), sampleRate, storage.SongInfo{Title: "Zeta"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if err := svc.DeleteSong(ctx, res.Song.ID); err != nil {
		t.Fatalf("DeleteSong failed: %v", err)
	}
	if _, err := svc.GetSongByID(ctx, res.Song.ID); !errors.Is(err, storage.ErrSongNotFound) {
		t.Errorf("Expected ErrSongNotFound, got %v", err)
	}
	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Fingerprints != 0 {
		t.Errorf("Expected no fingerprints, got %d", stats.Fingerprints)
	}
}

// TestEvaluate tests accuracy measurement on ingested and unknown files
func TestEvaluate(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	dir := t.TempDir()

	known := writeSong(t, dir, "known.wav", 31, 40)
	unknown := writeSong(t, dir, "unknown.wav", 32, 40)
	if _, err := svc.AddSong(ctx, known, "Known", ""); err != nil {
		t.Fatalf("AddSong failed: %v", err)
	}

	report, err := svc.Evaluate(ctx, []string{known, unknown}, EvalOptions{Snippets: 4, SnippetSeconds: 6, Seed: 1})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if report.RunID == "" {
		t.Error("Expected a run ID")
	}
	if report.Snippets != 4 || report.Skipped != 1 {
		t.Errorf("Expected 4 snippets and 1 skipped file, got %+v", report)
	}
	if report.Correct != 4 {
		t.Errorf("Expected 4 correct, got %+v", report.Files)
	}
	if report.Accuracy != 1 {
		t.Errorf("Expected accuracy 1, got %.2f", report.Accuracy)
	}
}

// TestEvaluateLookupFailure tests that storage failures are not reported as no match
func TestEvaluateLookupFailure(t *testing.T) {
	mem := storage.NewMemoryStore()
	svc := setupTestService(t, WithBackend(failingLookups{mem, errors.New("connection reset")}))
	ctx := context.Background()
	dir := t.TempDir()

	path := writeSong(t, dir, "known.wav", 33, 30)
	if _, err := svc.AddSong(ctx, path, "Known", ""); err != nil {
		t.Fatalf("AddSong failed: %v", err)
	}

	report, err := svc.Evaluate(ctx, []string{path}, EvalOptions{Snippets: 3, SnippetSeconds: 5, Seed: 2})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if report.Errors != 3 || report.Files[0].Errors != 3 {
		t.Errorf("Expected 3 failed snippets, got %+v", report)
	}
	if report.NoMatch != 0 || report.Snippets != 0 {
		t.Errorf("Expected failures outside no match and snippet counts, got %+v", report)
	}
	if report.Accuracy != 0 {
		t.Errorf("Expected accuracy 0, got %.2f", report.Accuracy)
	}
}

// TestEvaluateCanceled tests that a canceled lookup stops the evaluation
func TestEvaluateCanceled(t *testing.T) {
	mem := storage.NewMemoryStore()
	svc := setupTestService(t, WithBackend(failingLookups{mem, context.Canceled}))
	ctx := context.Background()
	dir := t.TempDir()

	path := writeSong(t, dir, "known.wav", 34, 30)
	if _, err := svc.AddSong(ctx, path, "Known", ""); err != nil {
		t.Fatalf("AddSong failed: %v", err)
	}

	report, err := svc.Evaluate(ctx, []string{path}, EvalOptions{Snippets: 3, SnippetSeconds: 5, Seed: 2})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if report.NoMatch != 0 {
		t.Errorf("Expected no snippets counted as no match, got %d", report.NoMatch)
	}
}

// TestAddNoise tests the noise level relative to the signal
func TestAddNoise(t *testing.T) {
	x := make([]float64, 20000)
	for i := range x {
		x[i] = 1
	}
	noisy := append([]float64(nil), x...)
	addNoise(rand.New(rand.NewSource(5)), noisy, 20)

	var power float64
	for i := range x {
		d := noisy[i] - x[i]
		power += d * d
	}
	rms := math.Sqrt(power / float64(len(x)))
	if math.Abs(rms-0.1) > 0.01 {
		t.Errorf("Expected noise RMS near 0.1 at 20 dB, got %.4f", rms)
	}
}
