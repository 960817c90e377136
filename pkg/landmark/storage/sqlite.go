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

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
)

const DefaultDBFile = "landmarkdna.sqlite3"

type songModel struct {
	ID         uint32 `gorm:"primaryKey;autoIncrement"`
	Title      string `gorm:"not null"`
	Artist     string
	SongKey    string `gorm:"uniqueIndex:idx_songs_key;not null"`
	DurationMs int
	Checksum   int64
	CreatedAt  time.Time
}

func (songModel) TableName() string { return "songs" }

func (m songModel) toSong() Song {
	return Song{
		ID:         m.ID,
		Title:      m.Title,
		Artist:     m.Artist,
		DurationMs: m.DurationMs,
		Checksum:   uint64(m.Checksum),
		CreatedAt:  m.CreatedAt,
	}
}

// fingerprintModel stores the 64-bit hash bit-cast to int64, since SQL
// integers are signed.
type fingerprintModel struct {
	SongID uint32  `gorm:"primaryKey;autoIncrement:false"`
	Offset float64 `gorm:"primaryKey;column:absolute_time_offset"`
	Hash   int64   `gorm:"primaryKey;autoIncrement:false;index:idx_fingerprints_hash"`
}

func (fingerprintModel) TableName() string { return "fingerprints" }

// SQLiteStore is the default Backend: gorm over the pure-Go glebarez driver.
type SQLiteStore struct {
	DB *gorm.DB
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !os.IsExist(err) {
		if filepath.Dir(dbPath) != "." {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&songModel{}, &fingerprintModel{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &SQLiteStore{DB: db, db: sqlDB}, nil
}

func (c *SQLiteStore) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLiteStore) InsertBatch(ctx context.Context, songID uint32, records []Record) error {
	if c == nil || c.DB == nil {
		return storageErr("insert batch", errors.New(errDBClientNil))
	}
	if len(records) == 0 {
		return nil
	}

	rows := make([]fingerprintModel, len(records))
	for i, r := range records {
		rows[i] = fingerprintModel{SongID: songID, Offset: r.Offset, Hash: int64(r.Hash)}
	}
	err := c.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, insertChunk).Error
	if err != nil {
		return storageErr(fmt.Sprintf("inserting %d fingerprints for song %d", len(rows), songID), err)
	}
	return nil
}

func (c *SQLiteStore) Lookup(ctx context.Context, hashes []fingerprint.Hash) ([]Row, error) {
	if c == nil || c.DB == nil {
		return nil, storageErr("lookup", errors.New(errDBClientNil))
	}

	var out []Row
	err := chunkHashes(dedupHashes(hashes), lookupChunk, func(chunk []fingerprint.Hash) error {
		keys := make([]int64, len(chunk))
		for i, h := range chunk {
			keys[i] = int64(h)
		}
		var rows []fingerprintModel
		if err := c.DB.WithContext(ctx).Where("hash IN ?", keys).Find(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			out = append(out, Row{SongID: r.SongID, Hash: fingerprint.Hash(r.Hash), Offset: r.Offset})
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("batch querying fingerprints", err)
	}
	return out, nil
}

func (c *SQLiteStore) RegisterSong(ctx context.Context, info SongInfo) (Song, bool, error) {
	if c == nil || c.DB == nil {
		return Song{}, false, storageErr("register song", errors.New(errDBClientNil))
	}

	key := SongKey(info.Title, info.Artist)
	var song songModel
	err := c.DB.WithContext(ctx).Where("song_key = ?", key).First(&song).Error
	if err == nil {
		return song.toSong(), false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Song{}, false, storageErr("querying existing song", err)
	}

	song = songModel{
		Title:      info.Title,
		Artist:     info.Artist,
		SongKey:    key,
		DurationMs: info.DurationMs,
		Checksum:   int64(info.Checksum),
	}
	err = c.DB.WithContext(ctx).Create(&song).Error
	if err != nil {
		// Lost a race with a concurrent registration of the same song.
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
			if fetchErr := c.DB.WithContext(ctx).Where("song_key = ?", key).First(&song).Error; fetchErr != nil {
				return Song{}, false, storageErr("fetching song after constraint violation", fetchErr)
			}
			return song.toSong(), false, nil
		}
		return Song{}, false, storageErr("creating song", err)
	}
	return song.toSong(), true, nil
}

func (c *SQLiteStore) GetSong(ctx context.Context, id uint32) (Song, error) {
	if c == nil || c.DB == nil {
		return Song{}, storageErr("get song", errors.New(errDBClientNil))
	}
	var song songModel
	err := c.DB.WithContext(ctx).First(&song, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Song{}, ErrSongNotFound
	}
	if err != nil {
		return Song{}, storageErr("querying song", err)
	}
	return song.toSong(), nil
}

func (c *SQLiteStore) ListSongs(ctx context.Context) ([]Song, error) {
	if c == nil || c.DB == nil {
		return nil, storageErr("list songs", errors.New(errDBClientNil))
	}
	var rows []songModel
	if err := c.DB.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, storageErr("listing songs", err)
	}
	out := make([]Song, len(rows))
	for i, r := range rows {
		out[i] = r.toSong()
	}
	return out, nil
}

func (c *SQLiteStore) DeleteSong(ctx context.Context, id uint32) error {
	if c == nil || c.DB == nil {
		return storageErr("delete song", errors.New(errDBClientNil))
	}
	var deleted int64
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("song_id = ?", id).Delete(&fingerprintModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&songModel{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return storageErr("deleting song", err)
	}
	if deleted == 0 {
		return ErrSongNotFound
	}
	return nil
}

func (c *SQLiteStore) FingerprintCount(ctx context.Context, id uint32) (int, error) {
	if c == nil || c.DB == nil {
		return 0, storageErr("fingerprint count", errors.New(errDBClientNil))
	}
	var n int64
	if err := c.DB.WithContext(ctx).Model(&fingerprintModel{}).Where("song_id = ?", id).Count(&n).Error; err != nil {
		return 0, storageErr("counting fingerprints", err)
	}
	return int(n), nil
}

func (c *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	if c == nil || c.DB == nil {
		return Stats{}, storageErr("stats", errors.New(errDBClientNil))
	}
	var songs, fps int64
	if err := c.DB.WithContext(ctx).Model(&songModel{}).Count(&songs).Error; err != nil {
		return Stats{}, storageErr("counting songs", err)
	}
	if err := c.DB.WithContext(ctx).Model(&fingerprintModel{}).Count(&fps).Error; err != nil {
		return Stats{}, storageErr("counting fingerprints", err)
	}
	return Stats{Songs: int(songs), Fingerprints: int(fps)}, nil
}
