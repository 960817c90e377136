package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
)

type triple struct {
	song   uint32
	offset float64
	hash   fingerprint.Hash
}

// MemoryStore is an in-process Backend, used in tests and for throwaway
// indexes. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	byHash  map[fingerprint.Hash][]Row
	triples map[triple]struct{}
	perSong map[uint32][]triple
	songs   map[uint32]Song
	keys    map[string]uint32
	nextID  uint32
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash:  make(map[fingerprint.Hash][]Row),
		triples: make(map[triple]struct{}),
		perSong: make(map[uint32][]triple),
		songs:   make(map[uint32]Song),
		keys:    make(map[string]uint32),
	}
}

func (m *MemoryStore) InsertBatch(ctx context.Context, songID uint32, records []Record) error {
	if err := ctx.Err(); err != nil {
		return storageErr("insert batch", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return storageErr("insert batch", errStoreClosed)
	}

	for _, r := range records {
		k := triple{song: songID, offset: r.Offset, hash: r.Hash}
		if _, ok := m.triples[k]; ok {
			continue
		}
		m.triples[k] = struct{}{}
		m.perSong[songID] = append(m.perSong[songID], k)
		m.byHash[r.Hash] = append(m.byHash[r.Hash], Row{SongID: songID, Hash: r.Hash, Offset: r.Offset})
	}
	return nil
}

func (m *MemoryStore) Lookup(ctx context.Context, hashes []fingerprint.Hash) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("lookup", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, storageErr("lookup", errStoreClosed)
	}

	var out []Row
	for _, h := range dedupHashes(hashes) {
		out = append(out, m.byHash[h]...)
	}
	return out, nil
}

func (m *MemoryStore) RegisterSong(ctx context.Context, info SongInfo) (Song, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := SongKey(info.Title, info.Artist)
	if id, ok := m.keys[key]; ok {
		return m.songs[id], false, nil
	}
	m.nextID++
	song := Song{
		ID:         m.nextID,
		Title:      info.Title,
		Artist:     info.Artist,
		DurationMs: info.DurationMs,
		Checksum:   info.Checksum,
		CreatedAt:  time.Now().UTC(),
	}
	m.songs[song.ID] = song
	m.keys[key] = song.ID
	return song, true, nil
}

func (m *MemoryStore) GetSong(ctx context.Context, id uint32) (Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	song, ok := m.songs[id]
	if !ok {
		return Song{}, ErrSongNotFound
	}
	return song, nil
}

func (m *MemoryStore) ListSongs(ctx context.Context) ([]Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Song, 0, len(m.songs))
	for _, s := range m.songs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteSong(ctx context.Context, id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	song, ok := m.songs[id]
	if !ok {
		return ErrSongNotFound
	}

	for _, k := range m.perSong[id] {
		delete(m.triples, k)
		rows := m.byHash[k.hash]
		kept := rows[:0]
		for _, r := range rows {
			if r.SongID != id {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(m.byHash, k.hash)
		} else {
			m.byHash[k.hash] = kept
		}
	}
	delete(m.perSong, id)
	delete(m.keys, SongKey(song.Title, song.Artist))
	delete(m.songs, id)
	return nil
}

func (m *MemoryStore) FingerprintCount(ctx context.Context, id uint32) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.perSong[id]), nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Songs: len(m.songs), Fingerprints: len(m.triples)}, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
