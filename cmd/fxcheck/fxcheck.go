// Package fxcheck implements the stripdeck fxcheck subcommand, reporting
// which effect plugins are installed.
package fxcheck

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stripdeck/stripdeck/internal/conf"
	"github.com/stripdeck/stripdeck/internal/engine"
	"github.com/stripdeck/stripdeck/internal/strip"
)

// Command creates the fxcheck subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "fxcheck",
		Short: "Check effect plugin availability",
		Long:  "Report, per effect, whether its LADSPA plugin binary is present in the configured plugin directories.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(settings)
		},
	}
}

func execute(settings *conf.Settings) error {
	availability := engine.PluginAvailability(settings.FX.PluginDirs)

	missing := 0
	for _, kind := range strip.EffectOrder() {
		path := availability[kind]
		if path == "" {
			fmt.Printf("  %-18s MISSING\n", string(kind))
			missing++
			continue
		}
		fmt.Printf("  %-18s %s\n", string(kind), path)
	}

	if missing > 0 {
		fmt.Printf("\n%d effect(s) unavailable; their chain stages will be skipped.\n", missing)
	}
	return nil
}
