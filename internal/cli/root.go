package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/lexflow/lexflow/internal/cli.version=1.2.3"
	version = "0.4.0"

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "lexflow",
	Short: "lexflow - conversational intake funnel for legal practices",
	Long: color.CyanString("lexflow") + " runs the AI-driven intake and qualification funnel\n" +
		"behind a legal practice's messaging channel.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "lexflow.json", "Path to the configuration file")
}
