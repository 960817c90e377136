package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
)

// Badger key layout. All integers are big-endian so that prefix scans
// return a hash's rows together.
//
//	f | hash(8) | song(4) | offset bits(8)   fingerprint, empty value
//	r | song(4) | hash(8) | offset bits(8)   reverse index, empty value
//	s | song(4)                              JSON Song
//	k | song key                             song id(4)
const (
	prefixFingerprint = 'f'
	prefixReverse     = 'r'
	prefixSong        = 's'
	prefixSongKey     = 'k'
)

var songSequenceKey = []byte("!seq:songs")

// BadgerStore is an embedded key-value Backend.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerStore opens a store in dir, or an in-memory store when dir is empty.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	seq, err := db.GetSequence(songSequenceKey, 16)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badger sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func fingerprintKey(hash fingerprint.Hash, song uint32, offset float64) []byte {
	k := make([]byte, 21)
	k[0] = prefixFingerprint
	binary.BigEndian.PutUint64(k[1:], uint64(hash))
	binary.BigEndian.PutUint32(k[9:], song)
	binary.BigEndian.PutUint64(k[13:], math.Float64bits(offset))
	return k
}

func reverseKey(song uint32, hash fingerprint.Hash, offset float64) []byte {
	k := make([]byte, 21)
	k[0] = prefixReverse
	binary.BigEndian.PutUint32(k[1:], song)
	binary.BigEndian.PutUint64(k[5:], uint64(hash))
	binary.BigEndian.PutUint64(k[13:], math.Float64bits(offset))
	return k
}

func songKeyBytes(id uint32) []byte {
	k := make([]byte, 5)
	k[0] = prefixSong
	binary.BigEndian.PutUint32(k[1:], id)
	return k
}

func songIndexKey(key string) []byte {
	return append([]byte{prefixSongKey}, key...)
}

func (b *BadgerStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	if b.seq != nil {
		b.seq.Release()
	}
	return b.db.Close()
}

func (b *BadgerStore) InsertBatch(ctx context.Context, songID uint32, records []Record) error {
	if b == nil || b.db == nil {
		return storageErr("insert batch", errors.New(errDBClientNil))
	}
	if err := ctx.Err(); err != nil {
		return storageErr("insert batch", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range records {
		if err := wb.Set(fingerprintKey(r.Hash, songID, r.Offset), nil); err != nil {
			return storageErr("batch set", err)
		}
		if err := wb.Set(reverseKey(songID, r.Hash, r.Offset), nil); err != nil {
			return storageErr("batch set", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return storageErr("batch flush", err)
	}
	return nil
}

func (b *BadgerStore) Lookup(ctx context.Context, hashes []fingerprint.Hash) ([]Row, error) {
	if b == nil || b.db == nil {
		return nil, storageErr("lookup", errors.New(errDBClientNil))
	}

	var out []Row
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()

		prefix := make([]byte, 9)
		prefix[0] = prefixFingerprint
		for _, h := range dedupHashes(hashes) {
			if err := ctx.Err(); err != nil {
				return err
			}
			binary.BigEndian.PutUint64(prefix[1:], uint64(h))
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				k := it.Item().Key()
				out = append(out, Row{
					SongID: binary.BigEndian.Uint32(k[9:]),
					Hash:   h,
					Offset: math.Float64frombits(binary.BigEndian.Uint64(k[13:])),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("lookup", err)
	}
	return out, nil
}

func (b *BadgerStore) RegisterSong(ctx context.Context, info SongInfo) (Song, bool, error) {
	if b == nil || b.db == nil {
		return Song{}, false, storageErr("register song", errors.New(errDBClientNil))
	}
	key := songIndexKey(SongKey(info.Title, info.Artist))

	for attempt := 0; ; attempt++ {
		var (
			song    Song
			created bool
		)
		err := b.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err == nil {
				var id []byte
				if id, err = item.ValueCopy(nil); err != nil {
					return err
				}
				song, err = getSong(txn, binary.BigEndian.Uint32(id))
				return err
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			next, err := b.seq.Next()
			if err != nil {
				return err
			}
			song = Song{
				ID:         uint32(next + 1),
				Title:      info.Title,
				Artist:     info.Artist,
				DurationMs: info.DurationMs,
				Checksum:   info.Checksum,
				CreatedAt:  time.Now().UTC(),
			}
			data, err := json.Marshal(song)
			if err != nil {
				return err
			}
			if err := txn.Set(songKeyBytes(song.ID), data); err != nil {
				return err
			}
			id := make([]byte, 4)
			binary.BigEndian.PutUint32(id, song.ID)
			created = true
			return txn.Set(key, id)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < 5 {
			continue
		}
		if err != nil {
			return Song{}, false, storageErr("register song", err)
		}
		return song, created, nil
	}
}

func getSong(txn *badger.Txn, id uint32) (Song, error) {
	item, err := txn.Get(songKeyBytes(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Song{}, ErrSongNotFound
	}
	if err != nil {
		return Song{}, err
	}
	var song Song
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &song)
	})
	return song, err
}

func (b *BadgerStore) GetSong(ctx context.Context, id uint32) (Song, error) {
	if b == nil || b.db == nil {
		return Song{}, storageErr("get song", errors.New(errDBClientNil))
	}
	var song Song
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		song, err = getSong(txn, id)
		return err
	})
	if errors.Is(err, ErrSongNotFound) {
		return Song{}, err
	}
	if err != nil {
		return Song{}, storageErr("get song", err)
	}
	return song, nil
}

func (b *BadgerStore) ListSongs(ctx context.Context) ([]Song, error) {
	if b == nil || b.db == nil {
		return nil, storageErr("list songs", errors.New(errDBClientNil))
	}
	var out []Song
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixSong}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var song Song
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &song)
			}); err != nil {
				return err
			}
			out = append(out, song)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list songs", err)
	}
	return out, nil
}

// reverseKeys returns the reverse-index keys of a song.
func (b *BadgerStore) reverseKeys(id uint32) ([][]byte, error) {
	prefix := make([]byte, 5)
	prefix[0] = prefixReverse
	binary.BigEndian.PutUint32(prefix[1:], id)

	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: false})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

func (b *BadgerStore) DeleteSong(ctx context.Context, id uint32) error {
	if b == nil || b.db == nil {
		return storageErr("delete song", errors.New(errDBClientNil))
	}
	song, err := b.GetSong(ctx, id)
	if err != nil {
		return err
	}

	keys, err := b.reverseKeys(id)
	if err != nil {
		return storageErr("scanning fingerprints", err)
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, rk := range keys {
		hash := fingerprint.Hash(binary.BigEndian.Uint64(rk[5:]))
		offset := math.Float64frombits(binary.BigEndian.Uint64(rk[13:]))
		if err := wb.Delete(fingerprintKey(hash, id, offset)); err != nil {
			return storageErr("batch delete", err)
		}
		if err := wb.Delete(rk); err != nil {
			return storageErr("batch delete", err)
		}
	}
	if err := wb.Delete(songKeyBytes(id)); err != nil {
		return storageErr("batch delete", err)
	}
	if err := wb.Delete(songIndexKey(SongKey(song.Title, song.Artist))); err != nil {
		return storageErr("batch delete", err)
	}
	if err := wb.Flush(); err != nil {
		return storageErr("batch flush", err)
	}
	return nil
}

func (b *BadgerStore) FingerprintCount(ctx context.Context, id uint32) (int, error) {
	if b == nil || b.db == nil {
		return 0, storageErr("fingerprint count", errors.New(errDBClientNil))
	}
	keys, err := b.reverseKeys(id)
	if err != nil {
		return 0, storageErr("fingerprint count", err)
	}
	return len(keys), nil
}

func (b *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	if b == nil || b.db == nil {
		return Stats{}, storageErr("stats", errors.New(errDBClientNil))
	}
	var s Stats
	err := b.db.View(func(txn *badger.Txn) error {
		count := func(p byte) int {
			prefix := []byte{p}
			it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: false})
			defer it.Close()
			n := 0
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				n++
			}
			return n
		}
		s.Songs = count(prefixSong)
		s.Fingerprints = count(prefixFingerprint)
		return nil
	})
	if err != nil {
		return Stats{}, storageErr("stats", err)
	}
	return s, nil
}
