package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mmcdole/folio/internal/library"
	"github.com/mmcdole/folio/internal/tui"
)

var readCmd = &cobra.Command{
	Use:   "read <book>",
	Short: "Open a single book directly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		path, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}

		svc, tier, err := buildService(cfg, logger)
		if err != nil {
			return err
		}
		defer closeTier(tier, logger)
		defer svc.Close()

		scanner := library.NewScanner(filepath.Dir(path), svc, logger)
		return tui.RunBook(cfg, svc, scanner, path, logger)
	},
}
