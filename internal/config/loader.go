package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional file plus CATSYNC_* environment
// variables, layered over DefaultConfig. An explicit path must exist; the
// default locations are probed silently.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("catsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("$HOME", ".config", "catsync"))

		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("api.base_url", def.API.BaseURL)
	v.SetDefault("api.token", def.API.Token)
	v.SetDefault("api.timeout", def.API.Timeout.String())
	v.SetDefault("api.max_retries", def.API.MaxRetries)
	v.SetDefault("api.retry_delay", def.API.RetryDelay.String())
	v.SetDefault("api.user_agent", def.API.UserAgent)

	v.SetDefault("stream.url", def.Stream.URL)
	v.SetDefault("stream.ping_interval", def.Stream.PingInterval.String())
	v.SetDefault("stream.pong_timeout", def.Stream.PongTimeout.String())
	v.SetDefault("stream.reconnect_delay", def.Stream.ReconnectDelay.String())

	v.SetDefault("storage.data_dir", def.Storage.DataDir)
	v.SetDefault("storage.db_file", def.Storage.DBFile)

	v.SetDefault("sync.page_limit", def.Sync.PageLimit)
	v.SetDefault("sync.full_sync_threshold", def.Sync.FullSyncThreshold.String())
	v.SetDefault("sync.run_timeout", def.Sync.RunTimeout.String())
	v.SetDefault("sync.background_budget", def.Sync.BackgroundBudget.String())

	v.SetDefault("push.signature_key", "")

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.file", "")
}

// streamURLFor derives the default stream endpoint from the API base URL
// when none is configured.
func streamURLFor(apiBaseURL string) string {
	u := apiBaseURL
	if strings.HasPrefix(u, "http") {
		u = "ws" + u[len("http"):]
	}
	return u + "/v2/stream"
}

// ResolveStreamURL returns the configured stream URL or the derived default.
func (c *Config) ResolveStreamURL() string {
	if c.Stream.URL != "" {
		return c.Stream.URL
	}
	return streamURLFor(c.API.BaseURL)
}
