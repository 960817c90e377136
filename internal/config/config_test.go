package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/logger"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(cfg.Fingerprint, fingerprint.DefaultConfig()) {
		t.Errorf("Expected default fingerprint config, got %+v", cfg.Fingerprint)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Expected sqlite driver, got %q", cfg.Storage.Driver)
	}
	if cfg.Server.Port != 8080 || cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("Unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Level() != logger.INFO {
		t.Errorf("Expected INFO, got %v", cfg.Level())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LANDMARK_STORAGE_DRIVER", "badger")
	t.Setenv("LANDMARK_FINGERPRINT_MATCH_MIN_VOTES", "9")
	t.Setenv("LANDMARK_FINGERPRINT_SPECTROGRAM_WINDOW", "hamming")
	t.Setenv("LANDMARK_SERVER_WRITE_TIMEOUT", "45s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Driver != "badger" {
		t.Errorf("Expected badger, got %q", cfg.Storage.Driver)
	}
	if cfg.Fingerprint.Match.MinVotes != 9 {
		t.Errorf("Expected min_votes 9, got %d", cfg.Fingerprint.Match.MinVotes)
	}
	if cfg.Fingerprint.Spectrogram.Window != fingerprint.WindowHamming {
		t.Errorf("Expected hamming window, got %q", cfg.Fingerprint.Spectrogram.Window)
	}
	if cfg.Server.WriteTimeout != 45*time.Second {
		t.Errorf("Expected 45s, got %v", cfg.Server.WriteTimeout)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LANDMARK_LOG_LEVEL=debug\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("LANDMARK_LOG_LEVEL") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Level() != logger.DEBUG {
		t.Errorf("Expected DEBUG from .env, got %v", cfg.Level())
	}
}

func TestLoadFile(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.yaml")
	yml := `
workers: 3
storage:
  driver: memory
fingerprint:
  hash:
    fan_out: 8
  peaks:
    bands: [0, 500, 5000]
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != 3 || cfg.Storage.Driver != "memory" {
		t.Errorf("Unexpected top-level values %+v", cfg)
	}
	if cfg.Fingerprint.Hash.FanOut != 8 {
		t.Errorf("Expected fan_out 8, got %d", cfg.Fingerprint.Hash.FanOut)
	}
	if !reflect.DeepEqual(cfg.Fingerprint.Peaks.Bands, []float64{0, 500, 5000}) {
		t.Errorf("Unexpected bands %v", cfg.Fingerprint.Peaks.Bands)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Fingerprint.Hash.MaxDeltaFrames != fingerprint.DefaultConfig().Hash.MaxDeltaFrames {
		t.Errorf("Expected default max_delta_frames, got %d", cfg.Fingerprint.Hash.MaxDeltaFrames)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"bad fingerprint", func(c *Config) { c.Fingerprint.Spectrogram.HopSize = 0 }, "fingerprint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromViper(NewViper(filepath.Join(t.TempDir(), "unused.yaml")))
			if err != nil {
				t.Fatalf("FromViper failed: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDump(t *testing.T) {
	cfg, err := FromViper(NewViper(""))
	if err != nil {
		t.Fatalf("FromViper failed: %v", err)
	}
	var buf bytes.Buffer
	if err := cfg.Dump(&buf); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"min_votes: 5", "driver: sqlite", "read_timeout: 30s", "window: hann"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in dump:\n%s", want, out)
		}
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}
