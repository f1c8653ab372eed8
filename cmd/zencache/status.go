package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avolkov/zencache/internal/analytics"
	"github.com/avolkov/zencache/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache freshness and row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		cache, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer cache.Close()

		svc := analytics.New(cache, nil)
		st, err := svc.Status(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%s\n", ui.RenderBold("Cache status"))
		fmt.Printf("   Database: %s\n", st.DBPath)
		if st.NeverSynced {
			fmt.Printf("   %s never synced (run `zencache sync`)\n", ui.RenderWarn("!"))
			return nil
		}

		stale := time.Duration(st.StaleSeconds) * time.Second
		mark := ui.RenderPass("✓")
		if stale > time.Hour {
			mark = ui.RenderWarn("!")
		}
		fmt.Printf("   %s last sync %s ago (watermark %d)\n", mark, stale.Round(time.Second), st.Watermark)

		for _, table := range []string{"accounts", "transactions", "tags", "budgets", "reminders"} {
			n, err := cache.CountTable(ctx, table)
			if err != nil {
				continue
			}
			fmt.Printf("   %s: %d\n", table, n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
