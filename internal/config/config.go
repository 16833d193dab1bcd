package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Push    PushConfig    `mapstructure:"push"`
	Log     LogConfig     `mapstructure:"log"`
}

// APIConfig for the remote catalog API.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// StreamConfig for the live-subscription connection.
type StreamConfig struct {
	URL            string        `mapstructure:"url"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// StorageConfig for local paths.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	DBFile  string `mapstructure:"db_file"`
}

// DBPath resolves the catalog database location.
func (s StorageConfig) DBPath() string {
	if filepath.IsAbs(s.DBFile) {
		return s.DBFile
	}
	return filepath.Join(s.DataDir, s.DBFile)
}

// SyncConfig for engine behavior.
type SyncConfig struct {
	PageLimit         int           `mapstructure:"page_limit"`
	FullSyncThreshold time.Duration `mapstructure:"full_sync_threshold"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	BackgroundBudget  time.Duration `mapstructure:"background_budget"`
}

// PushConfig for the push-notification trigger path.
type PushConfig struct {
	// Hex-encoded HMAC key for payload signatures; empty disables checking.
	SignatureKey string `mapstructure:"signature_key"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
	File   string `mapstructure:"file"`   // empty = stderr
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".catsync"

	return &Config{
		API: APIConfig{
			BaseURL:    "https://connect.squareup.com",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: time.Second,
			UserAgent:  "catsync/1.0",
		},
		Stream: StreamConfig{
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
			ReconnectDelay: 5 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
			DBFile:  "catalog.db",
		},
		Sync: SyncConfig{
			PageLimit:         200,
			FullSyncThreshold: 7 * 24 * time.Hour,
			RunTimeout:        5 * time.Minute,
			BackgroundBudget:  25 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries cannot be negative")
	}
	if c.Sync.PageLimit <= 0 || c.Sync.PageLimit > 1000 {
		return fmt.Errorf("sync.page_limit must be in (0, 1000], got %d", c.Sync.PageLimit)
	}
	if c.Sync.RunTimeout <= 0 {
		return errors.New("sync.run_timeout must be positive")
	}
	if c.Sync.FullSyncThreshold <= 0 {
		return errors.New("sync.full_sync_threshold must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Storage.DataDir, filepath.Dir(c.Storage.DBPath())}
	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
