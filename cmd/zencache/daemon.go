package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avolkov/zencache/internal/daemon"
	"github.com/avolkov/zencache/internal/dashboard"
	"github.com/avolkov/zencache/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Keep the local cache fresh by syncing on a fixed interval.

The daemon syncs immediately on startup and then every sync_interval
(default 30m). Transient network failures are retried with backoff;
storage failures abort the cycle and are retried on the next tick.

With --dashboard, a WebSocket server broadcasts sync results and cache
statistics to connected clients (ws://localhost:<port>/ws).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		cache, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer cache.Close()

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		engine, err := newEngine(cfg, cache, logger)
		if err != nil {
			return err
		}

		var events *dashboard.Handler
		if withDashboard && cfg.DashboardPort > 0 {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.DashboardPort,
				Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("start dashboard: %w", err)
			}
			defer server.Stop()
			events = dashboard.NewHandler(server)
			fmt.Printf("%s Dashboard: ws://localhost:%d/ws\n", ui.RenderAccent("●"), cfg.DashboardPort)
		}

		d, err := daemon.New(engine, cache, events, &daemon.Config{
			SyncInterval: cfg.SyncInterval,
			LogFile:      cfg.LogFile,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s Daemon running (interval %s), Ctrl+C to stop\n",
			ui.RenderPass("✓"), cfg.SyncInterval)
		return d.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the WebSocket dashboard")
	rootCmd.AddCommand(daemonCmd)
}
