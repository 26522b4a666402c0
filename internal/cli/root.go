package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "foresight",
	Short: "Predictive memory engine",
	Long: "Foresight stores content across fast, durable and archival tiers, learns\n" +
		"when each user reaches for what, and warms the fast tier ahead of time.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $FORESIGHT_CONFIG, ./foresight.yaml, /etc/foresight/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(statusCmd)
}
