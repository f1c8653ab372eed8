package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/avolkov/zencache/internal/syncer"
	"github.com/avolkov/zencache/internal/ui"
)

var replayCmd = &cobra.Command{
	Use:   "replay <payload.json> [payload.json ...]",
	Short: "Apply captured diff payloads without network access",
	Long: `Merge one or more saved diff response bodies into the cache.

Each file must be a raw /v8/diff/ response as the server sent it. Files
are applied in argument order; the watermark advances with each payload
that carries a serverTimestamp. Useful for seeding a cache from backups
or debugging server payloads offline.`,
	Args: cobra.MinimumNArgs(1),
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

		// No token needed: the engine never touches the network here.
		engine := syncer.New(cache, syncer.Config{
			Logger: log.New(os.Stderr, "[replay] ", log.LstdFlags),
		})

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			payload, err := syncer.ParsePayload(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}

			res, err := engine.ApplyPayload(ctx, payload)
			if err != nil {
				return fmt.Errorf("apply %s: %w", path, err)
			}

			fmt.Printf("%s %s applied\n", ui.RenderPass("✓"), path)
			printCounts("Updated", res.Updated)
			printCounts("Deleted", res.Deleted)
			if res.Skipped > 0 {
				fmt.Printf("   %s %d records skipped\n", ui.RenderWarn("!"), res.Skipped)
			}
			if res.NewWatermark > 0 {
				fmt.Printf("   Watermark: %d\n", res.NewWatermark)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
