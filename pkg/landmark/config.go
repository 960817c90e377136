package landmark

import (
	"os"
	"runtime"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
)

type Config struct {
	DBPath      string
	Driver      string
	Database    string
	TempDir     string
	Workers     int
	Fingerprint fingerprint.Config
	Logger      Logger
	Backend     storage.Backend
}

type Option func(*Config)

// WithDBPath sets the file path, directory or URI of the storage backend.
func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

// WithDriver selects the storage driver: sqlite, sqlite3, badger, mongo or memory.
func WithDriver(driver string) Option {
	return func(c *Config) {
		c.Driver = driver
	}
}

// WithDatabase names the MongoDB database.
func WithDatabase(name string) Option {
	return func(c *Config) {
		c.Database = name
	}
}

// WithBackend injects an already open backend. The service closes it.
func WithBackend(b storage.Backend) Option {
	return func(c *Config) {
		c.Backend = b
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithFingerprintConfig(cfg fingerprint.Config) Option {
	return func(c *Config) {
		c.Fingerprint = cfg
	}
}

// WithWorkers bounds concurrent ingestion.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:      storage.DefaultDBFile,
		Driver:      "sqlite",
		TempDir:     os.TempDir(),
		Workers:     runtime.NumCPU(),
		Fingerprint: fingerprint.DefaultConfig(),
	}
}
