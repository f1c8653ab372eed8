package main

import (
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/avolkov/zencache/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the local cache from the server",
	Long: `Run one sync cycle against the ZenMoney diff API.

An incremental sync fetches only entities changed since the last applied
server timestamp. Use --full to discard the watermark and re-download
everything; existing rows are overwritten in place, so a full sync also
repairs a cache that has drifted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")

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

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		engine, err := newEngine(cfg, cache, logger)
		if err != nil {
			return err
		}

		mode := "incremental"
		if full {
			mode = "full"
		}
		fmt.Printf("%s Starting %s sync...\n", ui.RenderAccent("🔄"), mode)

		res, err := engine.Sync(ctx, full)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("%s Sync complete in %s\n", ui.RenderPass("✓"),
			(time.Duration(res.DurationMS) * time.Millisecond).Round(time.Millisecond))
		printCounts("Updated", res.Updated)
		printCounts("Deleted", res.Deleted)
		if res.Skipped > 0 {
			fmt.Printf("   %s %d malformed records skipped\n", ui.RenderWarn("!"), res.Skipped)
		}
		fmt.Printf("   Watermark: %d\n", res.NewWatermark)
		return nil
	},
}

func printCounts(label string, counts map[string]int) {
	total := 0
	names := make([]string, 0, len(counts))
	for name, n := range counts {
		if n > 0 {
			names = append(names, name)
		}
		total += n
	}
	sort.Strings(names)

	fmt.Printf("   %s: %d\n", label, total)
	for _, name := range names {
		fmt.Printf("      %s: %d\n", ui.RenderDim(name), counts[name])
	}
}

func init() {
	syncCmd.Flags().Bool("full", false, "Discard the watermark and re-download everything")
	rootCmd.AddCommand(syncCmd)
}
