package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avolkov/zencache/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the WebSocket dashboard server standalone",
	Long: `Start the dashboard WebSocket server without the sync daemon.

Useful when another process (or another machine's daemon) is doing the
syncing and you only want the broadcast endpoint:

  zencache dashboard --port 9000

Connect with any WebSocket client at ws://localhost:<port>/ws. Messages
are JSON with a "type" of sync_complete, sync_failed, or stats.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			port = cfg.DashboardPort
		}

		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("start dashboard: %w", err)
		}

		fmt.Printf("Dashboard listening on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down...")
		return server.Stop()
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 0, "Port to listen on (default from config)")
	rootCmd.AddCommand(dashboardCmd)
}
