// Package storage persists landmark fingerprints and the song catalog.
//
// Every backend implements Backend. The fingerprint half (Store) is the only
// part the matcher depends on: an idempotent batch insert keyed by
// (song_id, offset, hash) and a lookup by hash across all songs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
)

// Record is one fingerprint of a song, without the song.
type Record struct {
	Hash   fingerprint.Hash
	Offset float64
}

// Row is a stored fingerprint returned by Lookup.
type Row struct {
	SongID uint32
	Hash   fingerprint.Hash
	Offset float64
}

// Store is the fingerprint contract used by ingestion and matching.
type Store interface {
	// InsertBatch stores records under songID. Re-inserting an existing
	// (songID, offset, hash) triple is a no-op. Safe for concurrent use
	// with different song IDs.
	InsertBatch(ctx context.Context, songID uint32, records []Record) error
	// Lookup returns every stored row whose hash is in hashes, in no
	// particular order.
	Lookup(ctx context.Context, hashes []fingerprint.Hash) ([]Row, error)
}

// SongInfo describes a song to register.
type SongInfo struct {
	Title      string
	Artist     string
	DurationMs int
	Checksum   uint64
}

type Song struct {
	ID         uint32    `json:"id"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	DurationMs int       `json:"duration_ms"`
	Checksum   uint64    `json:"checksum,string"`
	CreatedAt  time.Time `json:"created_at"`
}

// Stats summarises a backend.
type Stats struct {
	Songs        int `json:"songs"`
	Fingerprints int `json:"fingerprints"`
}

// Catalog manages songs.
type Catalog interface {
	// RegisterSong returns the song with the same title and artist (compared
	// case-insensitively) if one exists, otherwise creates it. The bool
	// reports whether a new song was created.
	RegisterSong(ctx context.Context, info SongInfo) (Song, bool, error)
	GetSong(ctx context.Context, id uint32) (Song, error)
	ListSongs(ctx context.Context) ([]Song, error)
	// DeleteSong removes the song and all of its fingerprints.
	DeleteSong(ctx context.Context, id uint32) error
	FingerprintCount(ctx context.Context, id uint32) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// Backend is a complete storage implementation.
type Backend interface {
	Store
	Catalog
	Close() error
}

// ErrSongNotFound is returned by catalog operations on unknown IDs.
var ErrSongNotFound = errors.New("song not found")

var errStoreClosed = errors.New("store is closed")

const errDBClientNil = "db client is nil"

// lookupChunk bounds the number of bound parameters per SQL lookup.
const lookupChunk = 900

// insertChunk is the number of rows per INSERT statement.
const insertChunk = 500

// SongKey is the identity of a song for idempotent registration.
func SongKey(title, artist string) string {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(title)) + "\x00" + fold.String(strings.TrimSpace(artist))
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, fingerprint.ErrStorage, err)
}

// Config selects and opens a backend.
type Config struct {
	// Driver is one of "sqlite" (gorm, pure Go), "sqlite3" (database/sql,
	// cgo), "badger", "mongo" or "memory".
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DSN is a file path for sqlite/sqlite3, a directory for badger and a
	// connection URI for mongo.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
	// Database names the mongo database.
	Database string `mapstructure:"database" yaml:"database"`
}

// Open opens the backend described by cfg.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		b, err = asBackend(NewSQLiteStore(cfg.DSN))
	case "sqlite3":
		b, err = asBackend(NewSQLite3Store(cfg.DSN))
	case "badger":
		b, err = asBackend(NewBadgerStore(cfg.DSN))
	case "mongo", "mongodb":
		b, err = asBackend(NewMongoStore(ctx, cfg.DSN, cfg.Database))
	case "memory":
		b = NewMemoryStore()
	default:
		err = fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// asBackend keeps a failed constructor from producing a typed nil Backend.
func asBackend[T Backend](b T, err error) (Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}

func chunkHashes(hashes []fingerprint.Hash, size int, fn func([]fingerprint.Hash) error) error {
	for lo := 0; lo < len(hashes); lo += size {
		if err := fn(hashes[lo:min(lo+size, len(hashes))]); err != nil {
			return err
		}
	}
	return nil
}

func dedupHashes(hashes []fingerprint.Hash) []fingerprint.Hash {
	seen := make(map[fingerprint.Hash]struct{}, len(hashes))
	out := make([]fingerprint.Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
