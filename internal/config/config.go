// Package config loads zencache configuration from a YAML file and
// ZENCACHE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the CLI and daemon need.
type Config struct {
	// Token is the ZenMoney OAuth2 bearer token. Required for sync.
	Token string `mapstructure:"token"`

	// APIURL is the diff endpoint.
	APIURL string `mapstructure:"api_url"`

	// DBPath is the SQLite cache location.
	DBPath string `mapstructure:"db_path"`

	// Timeout bounds one diff exchange.
	Timeout time.Duration `mapstructure:"timeout"`

	// Daemon settings.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	LogFile      string        `mapstructure:"log_file"`

	// DashboardPort is the WebSocket dashboard listen port (0 disables).
	DashboardPort int `mapstructure:"dashboard_port"`
}

// Dir returns the zencache config directory, honoring XDG conventions.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config dir: %w", err)
	}
	return filepath.Join(base, "zencache"), nil
}

// Load reads configuration from the given file, or from the default
// location when path is empty. A missing config file is fine, env vars
// and defaults still apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("api_url", "https://api.zenmoney.ru/v8/diff/")
	v.SetDefault("timeout", 60*time.Second)
	v.SetDefault("sync_interval", 30*time.Minute)
	v.SetDefault("dashboard_port", 8090)

	dir, err := Dir()
	if err == nil {
		v.SetDefault("db_path", filepath.Join(dir, "cache.db"))
		v.SetDefault("log_file", filepath.Join(dir, "zencache.log"))
	}

	v.SetEnvPrefix("ZENCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so keys
	// without a default (token, log_file on odd platforms) must be bound
	// explicitly or the env override never reaches Unmarshal.
	for _, key := range []string{
		"token", "api_url", "db_path", "timeout",
		"sync_interval", "log_file", "dashboard_port",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if dir != "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
