// Package landmark ties decoding, fingerprinting, storage and matching into
// one service.
package landmark

import (
	"context"
	"fmt"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/match"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
	"github.com/himanishpuri/landmarkdna/pkg/logger"
)

// landmarkService is the default implementation of Service.
type landmarkService struct {
	storage storage.Backend
	fp      *fingerprint.Fingerprinter
	matcher *match.Matcher
	log     Logger
	config  *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	fp, err := fingerprint.NewFingerprinter(cfg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("invalid fingerprint config: %w", err)
	}

	stor := cfg.Backend
	if stor == nil {
		stor, err = storage.Open(context.Background(), storage.Config{
			Driver:   cfg.Driver,
			DSN:      cfg.DBPath,
			Database: cfg.Database,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	return &landmarkService{
		storage: stor,
		fp:      fp,
		matcher: match.New(stor, cfg.Fingerprint.Match),
		log:     cfg.Logger,
		config:  cfg,
	}, nil
}

func (s *landmarkService) Fingerprinter() *fingerprint.Fingerprinter {
	return s.fp
}

func (s *landmarkService) GetSongByID(ctx context.Context, id uint32) (storage.Song, error) {
	return s.storage.GetSong(ctx, id)
}

func (s *landmarkService) ListSongs(ctx context.Context) ([]storage.Song, error) {
	return s.storage.ListSongs(ctx)
}

// DeleteSong removes a song and all its fingerprints.
func (s *landmarkService) DeleteSong(ctx context.Context, id uint32) error {
	if err := s.storage.DeleteSong(ctx, id); err != nil {
		return err
	}
	s.log.Infof("Deleted song ID=%d", id)
	return nil
}

func (s *landmarkService) Stats(ctx context.Context) (storage.Stats, error) {
	return s.storage.Stats(ctx)
}

// Close releases all resources held by the service.
func (s *landmarkService) Close() error {
	return s.storage.Close()
}
