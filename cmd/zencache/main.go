// Command zencache maintains a local SQLite cache of a ZenMoney account
// and answers analytics queries against it.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/avolkov/zencache/internal/config"
	"github.com/avolkov/zencache/internal/store"
	"github.com/avolkov/zencache/internal/syncer"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "zencache",
	Short: "Local ZenMoney cache and analytics",
	Long: `zencache keeps a local SQLite mirror of your ZenMoney data via the
incremental diff API, and answers net-worth, spending, budget, and
recurring-payment queries without touching the network.

Configuration comes from ` + "`config.yaml`" + ` in the user config
directory (or --config), overridable with ZENCACHE_* env vars. The only
required setting is the OAuth token (ZENCACHE_TOKEN).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
}

// loadConfig reads configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// openStore opens the cache database, creating its directory and schema
// on first use.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db_path not configured")
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// newEngine builds a sync engine from configuration.
func newEngine(cfg *config.Config, cache syncer.Cache, logger *log.Logger) (*syncer.Engine, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("no token configured (set ZENCACHE_TOKEN or token in config.yaml)")
	}
	return syncer.New(cache, syncer.Config{
		APIURL:  cfg.APIURL,
		Token:   cfg.Token,
		Timeout: cfg.Timeout,
		Logger:  logger,
	}), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
