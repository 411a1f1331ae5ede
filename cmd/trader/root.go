package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "trader",
		Short:        "Autonomous AI paper-trading agent",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	root.AddCommand(
		newRunCmd(&configPath),
		newCycleCmd(&configPath),
		newStatusCmd(&configPath),
		newForecastCmd(&configPath),
		newBenchmarkCmd(&configPath),
		newEvaluateCmd(&configPath),
		newEodCmd(&configPath),
		newModeCmd(&configPath),
		newOverrideCmd(&configPath),
		newResetCmd(&configPath),
	)
	return root
}
