package commands

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"hdx-scraper-iati/lib/notify"
	"hdx-scraper-iati/lib/restyutil"
	"hdx-scraper-iati/lib/runstore"
	"hdx-scraper-iati/lib/serviceutil"
	"hdx-scraper-iati/lib/telemetry"
	"hdx-scraper-iati/services/iati"

	"github.com/spf13/cobra"
)

var runOpts iati.Options

func init() {
	runCmd.Flags().BoolVar(&runOpts.Save, "save", false, "Save downloaded data to the saved data directory.")
	runCmd.Flags().BoolVar(&runOpts.UseSaved, "use-saved", false, "Use saved data instead of downloading.")
	runCmd.Flags().BoolVar(&runOpts.DryRun, "dry-run", false, "Generate datasets without creating them in HDX.")
	runCmd.Flags().StringSliceVar(&runOpts.Countries, "countries", nil, "Only process these countries (codes or names).")
	runCmd.Flags().StringVar(&runOpts.WhereToStart, "where-to-start", "", "Skip countries before this ISO3 code, RESET processes everything.")
	runCmd.Flags().IntVar(&runOpts.Workers, "workers", 0, "How many countries to generate concurrently.")
	runCmd.MarkFlagsMutuallyExclusive("save", "use-saved")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--save | --use-saved] [--countries AFG,KEN] [--where-to-start ISO3] [--dry-run]",
	Short: "Generates the IATI dataset of every country and creates it in HDX.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		tel, err := telemetry.SetupFromEnv(ctx, "hdx-scraper-iati")
		if err != nil {
			serviceutil.Fatal("failed to setup telemetry", err)
		}
		defer tel.Shutdown(ctx)
		telemetry.InstrumentPerfStats(ctx)

		config, err := readConfig(configPath)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		var output restyutil.InstrumentOutput
		if verbose {
			fsOutput, err := restyutil.NewFilesystemOutput(filepath.Join(".dev", "resty"))
			if err != nil {
				serviceutil.Fatal("failed to create http dump directory", err)
			}
			output = fsOutput
		}

		userAgent, err := resolveUserAgent(config)
		if err != nil {
			serviceutil.Fatal("failed to resolve user agent", err)
		}
		deps := iati.Dependencies{HTTP: newHTTPClient(userAgent, output)}

		hdxClient, err := newHdxClient(config, userAgent, runOpts.DryRun, output)
		if err != nil {
			serviceutil.Fatal("failed to create hdx client", err)
		}
		if !runOpts.DryRun && hdxClient.ReadOnly() {
			serviceutil.Fatal("cannot create datasets", fmt.Errorf("no hdx api key, set HDX_KEY or %s", config.Hdx.KeyFile))
		}
		deps.HDX = hdxClient

		if config.Database.Enabled() {
			db, err := config.Database.OpenDB()
			if err != nil {
				serviceutil.Fatal("failed to open run store", err)
			}
			defer db.Close()
			store := runstore.NewStore(db)
			err = store.Migrate(ctx)
			if err != nil {
				serviceutil.Fatal("failed to migrate run store", err)
			}
			deps.Store = &store
		}

		if config.Email.Enabled() {
			mailer := notify.NewMailer(config.Email)
			deps.Mailer = &mailer
		}

		scraper := iati.NewScraper(config, deps)
		summary, err := scraper.Run(ctx, runOpts)
		slog.Info(
			"run finished",
			"batch", summary.Batch,
			"countries", len(summary.Countries),
			"failed", summary.Failed(),
			"duration", summary.Duration.Round(time.Second),
		)
		if err != nil {
			tel.Shutdown(ctx)
			serviceutil.Fatal("run failed", err)
		}
	},
}
