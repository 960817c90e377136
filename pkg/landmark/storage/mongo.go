package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
)

const DefaultMongoDatabase = "landmarkdna"

type mongoSong struct {
	ID         int64     `bson:"_id"`
	Title      string    `bson:"title"`
	Artist     string    `bson:"artist"`
	SongKey    string    `bson:"song_key"`
	DurationMs int       `bson:"duration_ms"`
	Checksum   int64     `bson:"checksum"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (m mongoSong) toSong() Song {
	return Song{
		ID:         uint32(m.ID),
		Title:      m.Title,
		Artist:     m.Artist,
		DurationMs: m.DurationMs,
		Checksum:   uint64(m.Checksum),
		CreatedAt:  m.CreatedAt,
	}
}

type mongoFingerprint struct {
	SongID int64   `bson:"song_id"`
	Offset float64 `bson:"offset"`
	Hash   int64   `bson:"hash"`
}

// MongoStore is a Backend on MongoDB. Fingerprints live in one collection
// with a unique (song_id, offset, hash) index and a secondary hash index.
type MongoStore struct {
	client       *mongo.Client
	songs        *mongo.Collection
	fingerprints *mongo.Collection
	counters     *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	if database == "" {
		database = DefaultMongoDatabase
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:       client,
		songs:        db.Collection("songs"),
		fingerprints: db.Collection("fingerprints"),
		counters:     db.Collection("counters"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.fingerprints.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "song_id", Value: 1}, {Key: "offset", Value: 1}, {Key: "hash", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("pk_fingerprints"),
		},
		{
			Keys:    bson.D{{Key: "hash", Value: 1}},
			Options: options.Index().SetName("idx_fingerprints_hash"),
		},
	})
	if err != nil {
		return fmt.Errorf("creating fingerprint indexes: %w", err)
	}
	_, err = s.songs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "song_key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("idx_songs_key"),
	})
	if err != nil {
		return fmt.Errorf("creating song index: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) InsertBatch(ctx context.Context, songID uint32, records []Record) error {
	if s == nil || s.client == nil {
		return storageErr("insert batch", errors.New(errDBClientNil))
	}
	for lo := 0; lo < len(records); lo += insertChunk {
		chunk := records[lo:min(lo+insertChunk, len(records))]
		models := make([]mongo.WriteModel, len(chunk))
		for i, r := range chunk {
			doc := mongoFingerprint{SongID: int64(songID), Offset: r.Offset, Hash: int64(r.Hash)}
			models[i] = mongo.NewUpdateOneModel().
				SetFilter(bson.D{{Key: "song_id", Value: doc.SongID}, {Key: "offset", Value: doc.Offset}, {Key: "hash", Value: doc.Hash}}).
				SetUpdate(bson.D{{Key: "$setOnInsert", Value: doc}}).
				SetUpsert(true)
		}
		_, err := s.fingerprints.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
		// Two concurrent upserts of the same triple can race on the unique index.
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			return storageErr(fmt.Sprintf("inserting fingerprints for song %d", songID), err)
		}
	}
	return nil
}

func (s *MongoStore) Lookup(ctx context.Context, hashes []fingerprint.Hash) ([]Row, error) {
	if s == nil || s.client == nil {
		return nil, storageErr("lookup", errors.New(errDBClientNil))
	}
	var out []Row
	err := chunkHashes(dedupHashes(hashes), lookupChunk, func(chunk []fingerprint.Hash) error {
		keys := make([]int64, len(chunk))
		for i, h := range chunk {
			keys[i] = int64(h)
		}
		cur, err := s.fingerprints.Find(ctx, bson.M{"hash": bson.M{"$in": keys}})
		if err != nil {
			return err
		}
		var docs []mongoFingerprint
		if err := cur.All(ctx, &docs); err != nil {
			return err
		}
		for _, d := range docs {
			out = append(out, Row{SongID: uint32(d.SongID), Hash: fingerprint.Hash(d.Hash), Offset: d.Offset})
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("querying fingerprints", err)
	}
	return out, nil
}

func (s *MongoStore) nextSongID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "songs"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	return counter.Seq, err
}

func (s *MongoStore) RegisterSong(ctx context.Context, info SongInfo) (Song, bool, error) {
	if s == nil || s.client == nil {
		return Song{}, false, storageErr("register song", errors.New(errDBClientNil))
	}
	key := SongKey(info.Title, info.Artist)

	var existing mongoSong
	err := s.songs.FindOne(ctx, bson.M{"song_key": key}).Decode(&existing)
	if err == nil {
		return existing.toSong(), false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return Song{}, false, storageErr("querying existing song", err)
	}

	id, err := s.nextSongID(ctx)
	if err != nil {
		return Song{}, false, storageErr("allocating song id", err)
	}
	doc := mongoSong{
		ID:         id,
		Title:      info.Title,
		Artist:     info.Artist,
		SongKey:    key,
		DurationMs: info.DurationMs,
		Checksum:   int64(info.Checksum),
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.songs.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if err := s.songs.FindOne(ctx, bson.M{"song_key": key}).Decode(&existing); err != nil {
				return Song{}, false, storageErr("fetching song after duplicate key", err)
			}
			return existing.toSong(), false, nil
		}
		return Song{}, false, storageErr("creating song", err)
	}
	return doc.toSong(), true, nil
}

func (s *MongoStore) GetSong(ctx context.Context, id uint32) (Song, error) {
	if s == nil || s.client == nil {
		return Song{}, storageErr("get song", errors.New(errDBClientNil))
	}
	var doc mongoSong
	err := s.songs.FindOne(ctx, bson.M{"_id": int64(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Song{}, ErrSongNotFound
	}
	if err != nil {
		return Song{}, storageErr("querying song", err)
	}
	return doc.toSong(), nil
}

func (s *MongoStore) ListSongs(ctx context.Context) ([]Song, error) {
	if s == nil || s.client == nil {
		return nil, storageErr("list songs", errors.New(errDBClientNil))
	}
	cur, err := s.songs.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, storageErr("listing songs", err)
	}
	var docs []mongoSong
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storageErr("decoding songs", err)
	}
	out := make([]Song, len(docs))
	for i, d := range docs {
		out[i] = d.toSong()
	}
	return out, nil
}

func (s *MongoStore) DeleteSong(ctx context.Context, id uint32) error {
	if s == nil || s.client == nil {
		return storageErr("delete song", errors.New(errDBClientNil))
	}
	if _, err := s.fingerprints.DeleteMany(ctx, bson.M{"song_id": int64(id)}); err != nil {
		return storageErr("deleting fingerprints", err)
	}
	res, err := s.songs.DeleteOne(ctx, bson.M{"_id": int64(id)})
	if err != nil {
		return storageErr("deleting song", err)
	}
	if res.DeletedCount == 0 {
		return ErrSongNotFound
	}
	return nil
}

func (s *MongoStore) FingerprintCount(ctx context.Context, id uint32) (int, error) {
	if s == nil || s.client == nil {
		return 0, storageErr("fingerprint count", errors.New(errDBClientNil))
	}
	n, err := s.fingerprints.CountDocuments(ctx, bson.M{"song_id": int64(id)})
	if err != nil {
		return 0, storageErr("counting fingerprints", err)
	}
	return int(n), nil
}

func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	if s == nil || s.client == nil {
		return Stats{}, storageErr("stats", errors.New(errDBClientNil))
	}
	songs, err := s.songs.EstimatedDocumentCount(ctx)
	if err != nil {
		return Stats{}, storageErr("counting songs", err)
	}
	fps, err := s.fingerprints.EstimatedDocumentCount(ctx)
	if err != nil {
		return Stats{}, storageErr("counting fingerprints", err)
	}
	return Stats{Songs: int(songs), Fingerprints: int(fps)}, nil
}

// Drop removes every collection. Used by tests against a shared server.
func (s *MongoStore) Drop(ctx context.Context) error {
	for _, c := range []*mongo.Collection{s.songs, s.fingerprints, s.counters} {
		if err := c.Drop(ctx); err != nil {
			return err
		}
	}
	return nil
}
