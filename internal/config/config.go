// Package config loads settings for the landmarkdna binaries from defaults,
// an optional landmark.yaml, a .env file and LANDMARK_* environment
// variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
	"github.com/himanishpuri/landmarkdna/pkg/logger"
)

const (
	EnvPrefix  = "LANDMARK"
	ConfigName = "landmark"
)

type Config struct {
	LogLevel    string             `mapstructure:"log_level" yaml:"log_level"`
	TempDir     string             `mapstructure:"temp_dir" yaml:"temp_dir"`
	Workers     int                `mapstructure:"workers" yaml:"workers"`
	Storage     storage.Config     `mapstructure:"storage" yaml:"storage"`
	Server      ServerConfig       `mapstructure:"server" yaml:"server"`
	Fingerprint fingerprint.Config `mapstructure:"fingerprint" yaml:"fingerprint"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	MaxUploadMB     int64         `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AccessLog       bool          `mapstructure:"access_log" yaml:"access_log"`
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("temp_dir", os.TempDir())
	v.SetDefault("workers", runtime.NumCPU())

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", storage.DefaultDBFile)
	v.SetDefault("storage.database", storage.DefaultMongoDatabase)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.access_log", true)

	fp := fingerprint.DefaultConfig()
	s := fp.Spectrogram
	v.SetDefault("fingerprint.spectrogram.sample_rate", s.SampleRate)
	v.SetDefault("fingerprint.spectrogram.window_size", s.WindowSize)
	v.SetDefault("fingerprint.spectrogram.hop_size", s.HopSize)
	v.SetDefault("fingerprint.spectrogram.max_frequency", s.MaxFrequency)
	v.SetDefault("fingerprint.spectrogram.window", string(s.Window))
	v.SetDefault("fingerprint.spectrogram.backend", string(s.Backend))
	v.SetDefault("fingerprint.spectrogram.parallelism", s.Parallelism)
	v.SetDefault("fingerprint.spectrogram.low_pass_hz", s.LowPassHz)

	p := fp.Peaks
	v.SetDefault("fingerprint.peaks.bands", p.Bands)
	v.SetDefault("fingerprint.peaks.neighborhood_frames", p.NeighborhoodFrames)
	v.SetDefault("fingerprint.peaks.neighborhood_bins", p.NeighborhoodBins)
	v.SetDefault("fingerprint.peaks.energy_window_frames", p.EnergyWindowFrames)
	v.SetDefault("fingerprint.peaks.threshold_ratio", p.ThresholdRatio)
	v.SetDefault("fingerprint.peaks.min_magnitude", p.MinMagnitude)
	v.SetDefault("fingerprint.peaks.max_peaks_per_band", p.MaxPeaksPerBand)
	v.SetDefault("fingerprint.peaks.min_peaks", p.MinPeaks)

	h := fp.Hash
	v.SetDefault("fingerprint.hash.freq_bits", h.FreqBits)
	v.SetDefault("fingerprint.hash.delta_bits", h.DeltaBits)
	v.SetDefault("fingerprint.hash.freq_step", h.FreqStep)
	v.SetDefault("fingerprint.hash.delta_step", h.DeltaStep)
	v.SetDefault("fingerprint.hash.min_delta_frames", h.MinDeltaFrames)
	v.SetDefault("fingerprint.hash.max_delta_frames", h.MaxDeltaFrames)
	v.SetDefault("fingerprint.hash.max_freq_delta", h.MaxFreqDelta)
	v.SetDefault("fingerprint.hash.fan_out", h.FanOut)

	m := fp.Match
	v.SetDefault("fingerprint.match.bucket_seconds", m.BucketSeconds)
	v.SetDefault("fingerprint.match.min_votes", m.MinVotes)
	v.SetDefault("fingerprint.match.min_margin", m.MinMargin)
	v.SetDefault("fingerprint.match.min_ratio", m.MinRatio)
	v.SetDefault("fingerprint.match.top_k", m.TopK)
}

// NewViper returns a viper instance with defaults and environment binding.
// configFile may be empty to search ./, ./configs and ~/.config/landmarkdna.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "landmarkdna"))
		}
	}
	return v
}

// Load reads .env (if present), the config file and the environment.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	v := NewViper(configFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server max_upload_mb must be positive")
	}
	if err := c.Fingerprint.Validate(); err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() logger.LogLevel {
	lvl, _ := logger.ParseLevel(c.LogLevel)
	return lvl
}

// Dump writes the effective configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
