package commands

import (
	"context"
	"fmt"
	"os"

	"hdx-scraper-iati/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages and dump http traffic.")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/project_configuration.json5", "The project configuration file.")
}

var rootCmd = &cobra.Command{
	Use:   "hdx-scraper-iati",
	Short: "hdx-scraper-iati publishes current IATI aid activities per country to HDX.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
