package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
)

// SQLite3Store is a Backend over database/sql and the cgo sqlite3 driver.
type SQLite3Store struct {
	db *sql.DB
}

func NewSQLite3Store(dataSourceName string) (*SQLite3Store, error) {
	if dataSourceName == "" {
		dataSourceName = DefaultDBFile
	}
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	if !strings.Contains(dataSourceName, "_busy_timeout") {
		sep := "?"
		if strings.Contains(dataSourceName, "?") {
			sep = "&"
		}
		dataSourceName += sep + "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 db: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite3Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS songs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			artist TEXT NOT NULL DEFAULT '',
			song_key TEXT NOT NULL UNIQUE,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			checksum INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fingerprints (
			song_id INTEGER NOT NULL REFERENCES songs(id) ON DELETE CASCADE,
			absolute_time_offset REAL NOT NULL,
			hash INTEGER NOT NULL,
			PRIMARY KEY (song_id, absolute_time_offset, hash)
		) WITHOUT ROWID`,
		`CREATE INDEX IF NOT EXISTS idx_fingerprints_hash ON fingerprints(hash)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
	}
	return nil
}

func (c *SQLite3Store) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLite3Store) InsertBatch(ctx context.Context, songID uint32, records []Record) error {
	if c == nil || c.db == nil {
		return storageErr("insert batch", errors.New(errDBClientNil))
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("starting transaction", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO fingerprints (song_id, absolute_time_offset, hash) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return storageErr("preparing statement", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, songID, r.Offset, int64(r.Hash)); err != nil {
			tx.Rollback()
			return storageErr("inserting fingerprint", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("committing fingerprints", err)
	}
	return nil
}

func (c *SQLite3Store) Lookup(ctx context.Context, hashes []fingerprint.Hash) ([]Row, error) {
	if c == nil || c.db == nil {
		return nil, storageErr("lookup", errors.New(errDBClientNil))
	}

	var out []Row
	err := chunkHashes(dedupHashes(hashes), lookupChunk, func(chunk []fingerprint.Hash) error {
		args := make([]any, len(chunk))
		for i, h := range chunk {
			args[i] = int64(h)
		}
		query := "SELECT song_id, absolute_time_offset, hash FROM fingerprints WHERE hash IN (?" +
			strings.Repeat(",?", len(chunk)-1) + ")"
		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r    Row
				hash int64
			)
			if err := rows.Scan(&r.SongID, &r.Offset, &hash); err != nil {
				return err
			}
			r.Hash = fingerprint.Hash(hash)
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storageErr("querying fingerprints", err)
	}
	return out, nil
}

const songColumns = "id, title, artist, duration_ms, checksum, created_at"

func scanSong(row interface{ Scan(...any) error }) (Song, error) {
	var (
		s        Song
		checksum int64
	)
	if err := row.Scan(&s.ID, &s.Title, &s.Artist, &s.DurationMs, &checksum, &s.CreatedAt); err != nil {
		return Song{}, err
	}
	s.Checksum = uint64(checksum)
	return s, nil
}

func (c *SQLite3Store) RegisterSong(ctx context.Context, info SongInfo) (Song, bool, error) {
	if c == nil || c.db == nil {
		return Song{}, false, storageErr("register song", errors.New(errDBClientNil))
	}
	key := SongKey(info.Title, info.Artist)

	res, err := c.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO songs (title, artist, song_key, duration_ms, checksum, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		info.Title, info.Artist, key, info.DurationMs, int64(info.Checksum), time.Now().UTC())
	if err != nil {
		return Song{}, false, storageErr("creating song", err)
	}
	created := false
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		created = true
	}

	song, err := scanSong(c.db.QueryRowContext(ctx, "SELECT "+songColumns+" FROM songs WHERE song_key = ?", key))
	if err != nil {
		return Song{}, false, storageErr("querying song", err)
	}
	return song, created, nil
}

func (c *SQLite3Store) GetSong(ctx context.Context, id uint32) (Song, error) {
	if c == nil || c.db == nil {
		return Song{}, storageErr("get song", errors.New(errDBClientNil))
	}
	song, err := scanSong(c.db.QueryRowContext(ctx, "SELECT "+songColumns+" FROM songs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Song{}, ErrSongNotFound
	}
	if err != nil {
		return Song{}, storageErr("querying song", err)
	}
	return song, nil
}

func (c *SQLite3Store) ListSongs(ctx context.Context) ([]Song, error) {
	if c == nil || c.db == nil {
		return nil, storageErr("list songs", errors.New(errDBClientNil))
	}
	rows, err := c.db.QueryContext(ctx, "SELECT "+songColumns+" FROM songs ORDER BY id")
	if err != nil {
		return nil, storageErr("listing songs", err)
	}
	defer rows.Close()

	var out []Song
	for rows.Next() {
		s, err := scanSong(rows)
		if err != nil {
			return nil, storageErr("scanning song", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("listing songs", err)
	}
	return out, nil
}

func (c *SQLite3Store) DeleteSong(ctx context.Context, id uint32) error {
	if c == nil || c.db == nil {
		return storageErr("delete song", errors.New(errDBClientNil))
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("starting transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM fingerprints WHERE song_id = ?", id); err != nil {
		return storageErr("deleting fingerprints", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM songs WHERE id = ?", id)
	if err != nil {
		return storageErr("deleting song", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSongNotFound
	}
	if err := tx.Commit(); err != nil {
		return storageErr("committing delete", err)
	}
	return nil
}

func (c *SQLite3Store) FingerprintCount(ctx context.Context, id uint32) (int, error) {
	if c == nil || c.db == nil {
		return 0, storageErr("fingerprint count", errors.New(errDBClientNil))
	}
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fingerprints WHERE song_id = ?", id).Scan(&n); err != nil {
		return 0, storageErr("counting fingerprints", err)
	}
	return n, nil
}

func (c *SQLite3Store) Stats(ctx context.Context) (Stats, error) {
	if c == nil || c.db == nil {
		return Stats{}, storageErr("stats", errors.New(errDBClientNil))
	}
	var s Stats
	err := c.db.QueryRowContext(ctx,
		"SELECT (SELECT COUNT(*) FROM songs), (SELECT COUNT(*) FROM fingerprints)").Scan(&s.Songs, &s.Fingerprints)
	if err != nil {
		return Stats{}, storageErr("counting rows", err)
	}
	return s, nil
}
