package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath   string `long:"db-path" env:"DB_PATH" default:"newsblock.sqlite" description:"SQLite database file"`
	CacheDir string `long:"cache-dir" env:"CACHE_DIR" default:"./data/cache" description:"Directory for rendered feed cache files"`
	BlobDir  string `long:"blob-dir" env:"BLOB_DIR" default:"./data/blobs" description:"Directory for downloaded images and attachments"`

	// Application configuration
	BlocksDir     string `long:"blocks-dir" env:"BLOCKS_DIR" default:"./blocks" description:"Directory containing block configuration files"`
	Port          string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl       string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://news.example.com)"`
	BatchSchedule string `long:"batch-schedule" env:"BATCH_SCHEDULE" default:"@every 5m" description:"Cron spec for the feed refresh batch"`
	BatchSize     int    `long:"batch-size" env:"BATCH_SIZE" default:"50" description:"Maximum number of sources refreshed per batch"`
	APIAccessKey  string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	SourceLease   bool   `long:"source-lease" env:"SOURCE_LEASE" description:"Take a database lease per source before refreshing it"`

	// Refresh policy
	RefreshInterval int `long:"refresh-interval" env:"REFRESH_INTERVAL" default:"14400" description:"Minimum seconds between refreshes of a healthy source"`
	FetchTimeout    int `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"8" description:"Per-feed fetch timeout in seconds"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Newsblock/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return load(nil)
}

func load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if raw.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", raw.BatchSize)
	}
	if raw.RefreshInterval < 0 || raw.FetchTimeout <= 0 {
		return nil, fmt.Errorf("refresh interval must be non-negative and fetch timeout positive")
	}

	cfg := &Cfg{
		DBPath:          raw.DBPath,
		CacheDir:        raw.CacheDir,
		BlobDir:         raw.BlobDir,
		BlocksDir:       raw.BlocksDir,
		Port:            raw.Port,
		BaseUrl:         raw.BaseUrl,
		BatchSchedule:   raw.BatchSchedule,
		BatchSize:       raw.BatchSize,
		APIAccessKey:    raw.APIAccessKey,
		SourceLease:     raw.SourceLease,
		RefreshInterval: time.Duration(raw.RefreshInterval) * time.Second,
		FetchTimeout:    time.Duration(raw.FetchTimeout) * time.Second,
		UserAgent:       raw.UserAgent,
		Timezone:        raw.Timezone,
		Debug:           raw.Debug,
		Version:         GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
