package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/kubewatch/internal/toggle"
)

func newThawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thaw",
		Short: "Resume watching after a freeze",
		Long: `Remove the freeze marker so watches resume. Each resumed watch starts
with a fresh listing.

Examples:
  kubewatch thaw`,
		Args: cobra.NoArgs,
		RunE: runThaw,
	}
}

func runThaw(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	removed, err := toggle.RemoveMarker(cc.Cfg.FreezeFile)
	if err != nil {
		return fmt.Errorf("removing freeze marker: %w", err)
	}

	if !removed {
		cc.Statusf("Watching is not frozen\n")

		return nil
	}

	cc.Statusf("Watching thawed\n")
	notifyDaemon(cc)

	return nil
}
