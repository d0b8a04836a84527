package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmcdole/folio/internal/adapter"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the persistent cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show persistent cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		svc, tier, err := buildService(cfg, logger)
		if err != nil {
			return err
		}
		defer closeTier(tier, logger)
		defer svc.Close()

		stats, err := svc.CacheStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read cache stats: %w", err)
		}

		fmt.Printf("Cache directory: %s\n", adapter.GetCachePath())
		fmt.Printf("  Books:     %d\n", stats.MetadataCount)
		fmt.Printf("  Sections:  %d\n", stats.SectionCount)
		fmt.Printf("  Resources: %d\n", stats.ResourceCount)
		fmt.Printf("  Size:      %.1f MB\n", float64(stats.TotalSizeBytes)/(1<<20))
		return nil
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove entries past the configured expiry window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		svc, tier, err := buildService(cfg, logger)
		if err != nil {
			return err
		}
		defer closeTier(tier, logger)
		defer svc.Close()

		removed, err := svc.CleanupExpired(cmd.Context())
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		fmt.Printf("Removed %d expired entries\n", removed)
		return nil
	},
}

var clearBookID string

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the persistent cache, or one book's entries with --book",
	RunE: func(cmd *cobra.Command, args []string) error {
		if clearBookID != "" {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			svc, tier, err := buildService(cfg, logger)
			if err != nil {
				return err
			}
			defer closeTier(tier, logger)
			defer svc.Close()

			if err := svc.ClearBookCache(cmd.Context(), clearBookID); err != nil {
				return fmt.Errorf("failed to clear book cache: %w", err)
			}
			fmt.Printf("Cleared cached entries for %s\n", clearBookID)
			return nil
		}

		if err := adapter.ClearCache(); err != nil {
			return err
		}
		fmt.Println("Cache cleared")
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().StringVar(&clearBookID, "book", "", "clear only this book id")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
