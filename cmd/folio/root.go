package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mmcdole/folio/internal/adapter"
	"github.com/mmcdole/folio/internal/domain"
	"github.com/mmcdole/folio/internal/engine"
	"github.com/mmcdole/folio/internal/engine/epub"
	"github.com/mmcdole/folio/internal/library"
	"github.com/mmcdole/folio/internal/service"
	"github.com/mmcdole/folio/internal/store"
	"github.com/mmcdole/folio/internal/tui"
)

var libraryDir string

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Terminal e-book reader with tiered section caching",
	Long: `Folio is a terminal e-book reader. Sections render progressively as you
scroll, backed by in-memory caches and a persistent tier so reopening a
book never reparses what it already knows.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if libraryDir != "" {
			cfg.Library.Dir = libraryDir
		}

		svc, tier, err := buildService(cfg, logger)
		if err != nil {
			return err
		}
		defer closeTier(tier, logger)
		defer svc.Close()

		scanner := library.NewScanner(cfg.Library.Dir, svc, logger)
		if cfg.Library.Watch {
			if err := scanner.Watch(); err != nil {
				logger.Warn("library watch unavailable", "error", err)
			}
			defer scanner.Close()
		}

		logger.Info("starting folio", "version", Version, "library", cfg.Library.Dir)
		return tui.Run(cfg, svc, scanner, logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&libraryDir, "library", "", "book directory (default from config)",
	)

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads configuration and the file logger.
func setup() (*adapter.Config, *slog.Logger, error) {
	cfg, err := adapter.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := adapter.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = adapter.NullLogger()
	}
	slog.SetDefault(logger)

	return cfg, logger, nil
}

// buildService wires the engine registry, the persistent tier and the reader
// service. An empty cache dir disables the persistent tier.
func buildService(cfg *adapter.Config, logger *slog.Logger) (*service.ReaderService, *store.Store, error) {
	engines := engine.NewRegistry(epub.New())

	var tier *store.Store
	if cfg.Cache.Dir != "" {
		var err error
		tier, err = store.New(cfg.Cache.Dir, logger, store.WithHotLayerMB(cfg.Cache.ResourceCacheMB))
		if err != nil {
			// The reader works without persistence, just slower on reopen.
			logger.Warn("persistent tier unavailable", "error", err)
			tier = nil
		}
	}

	svcCfg := service.Config{
		SectionCacheMB:  cfg.Cache.SectionCacheMB,
		ResourceCacheMB: cfg.Cache.ResourceCacheMB,
		CacheExpiryDays: cfg.Cache.ExpiryDays,
		PreloadBudgetMB: cfg.Cache.PreloadBudgetMB,
	}

	// A typed nil must not reach the interface parameter.
	var tierIface domain.PersistentTier
	if tier != nil {
		tierIface = tier
	}
	return service.NewReaderService(engines, tierIface, svcCfg, logger), tier, nil
}

func closeTier(tier *store.Store, logger *slog.Logger) {
	if tier == nil {
		return
	}
	if err := tier.Close(); err != nil {
		logger.Warn("store close failed", "error", err)
	}
}
