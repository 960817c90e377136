package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/landmarkdna/internal/config"
	"github.com/himanishpuri/landmarkdna/pkg/landmark"
	"github.com/himanishpuri/landmarkdna/pkg/logger"
)

// Global flags
var (
	configFile string
	logLevel   string
	driver     string
	dbPath     string
	tempDir    string
	workers    int
	jsonOutput bool
	noBanner   bool

	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "landmarkdna",
	Short: "Landmark audio fingerprinting CLI",
	Long: `landmarkdna indexes audio files by spectral-peak landmarks and identifies
short, possibly noisy recordings against the indexed catalog.

Settings come from landmark.yaml, a .env file and LANDMARK_* environment
variables; the flags below override them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeConfig(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "config file (default: search ./, ./configs, ~/.config/landmarkdna for landmark.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&driver, "driver", "", "storage driver (sqlite, sqlite3, badger, mongo, memory)")
	pf.StringVar(&dbPath, "db", "", "database file, directory or URI")
	pf.StringVar(&tempDir, "temp", "", "directory for temporary audio conversion files")
	pf.IntVarP(&workers, "workers", "w", 0, "concurrent ingestion workers")
	pf.BoolVar(&jsonOutput, "json", false, "print results as JSON")
	pf.BoolVar(&noBanner, "no-banner", false, "do not print the banner")

	rootCmd.AddCommand(
		newAddCmd(),
		newIngestCmd(),
		newMatchCmd(),
		newEvaluateCmd(),
		newListCmd(),
		newDeleteCmd(),
		newRenderCmd(),
		newConfigCmd(),
	)
}

// initializeConfig loads the configuration and applies flag overrides.
func initializeConfig(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(configFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("driver") {
		cfg.Storage.Driver = driver
	}
	if flags.Changed("db") {
		cfg.Storage.DSN = dbPath
	}
	if flags.Changed("temp") {
		cfg.TempDir = tempDir
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log = logger.GetLogger()
	log.SetLevel(cfg.Level())

	if !noBanner && !jsonOutput && cmd.Name() != "config" {
		printBanner()
	}
	return nil
}

// createService creates a service from the loaded configuration
func createService() (landmark.Service, error) {
	return landmark.NewService(
		landmark.WithDriver(cfg.Storage.Driver),
		landmark.WithDBPath(cfg.Storage.DSN),
		landmark.WithDatabase(cfg.Storage.Database),
		landmark.WithTempDir(cfg.TempDir),
		landmark.WithWorkers(cfg.Workers),
		landmark.WithFingerprintConfig(cfg.Fingerprint),
		landmark.WithLogger(log.With("service")),
	)
}

// withService runs fn with a fresh service and closes it afterwards.
func withService(fn func(svc landmark.Service) error) error {
	svc, err := createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()
	return fn(svc)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBanner() {
	banner := `
 _                 _                      _     _
| | __ _ _ __   __| |_ __ ___   __ _ _ __| | __| |_ __   __ _
| |/ _' | '_ \ / _' | '_ ' _ \ / _' | '__| |/ _' | '_ \ / _' |
| | (_| | | | | (_| | | | | | | (_| | |  |   <(_| | | | | (_| |
|_|\__,_|_| |_|\__,_|_| |_| |_|\__,_|_|  |_|\_\__,_|_| |_|\__,_|

           Landmark Audio Fingerprinting
`
	fmt.Fprintln(os.Stderr, banner)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
