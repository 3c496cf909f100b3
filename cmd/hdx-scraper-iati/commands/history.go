package commands

import (
	"time"

	"hdx-scraper-iati/lib/runstore"
	"hdx-scraper-iati/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	historyRun   int64
	historyLimit int
)

func init() {
	historyCmd.Flags().Int64Var(&historyRun, "run", 0, "Show the country outcomes of this run.")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "How many recent runs to list.")
	rootCmd.AddCommand(historyCmd)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

var historyCmd = &cobra.Command{
	Use:   "history [--run <id>] [--limit <n>]",
	Short: "Lists past runs, or the country outcomes of one run.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		config, err := readConfig(configPath)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
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

		t := newTable(cmd.OutOrStdout())
		if historyRun > 0 {
			results, err := store.ListResults(ctx, historyRun)
			if err != nil {
				serviceutil.Fatal("failed to list results", err)
			}
			t.AppendHeader(table.Row{"Country", "Status", "Dataset", "Activities", "Locations", "Finished", "Error"})
			for _, r := range results {
				t.AppendRow(table.Row{
					r.ISO3, r.Status, r.Dataset, r.Activities, r.Locations, formatTime(r.FinishedAt), r.Error,
				})
			}
			t.Render()
			return
		}

		runs, err := store.ListRuns(ctx, historyLimit)
		if err != nil {
			serviceutil.Fatal("failed to list runs", err)
		}
		t.AppendHeader(table.Row{"Run", "Batch", "Started", "Finished", "Dry run", "Status", "Countries", "Failed"})
		for _, r := range runs {
			t.AppendRow(table.Row{
				r.ID, r.Batch, formatTime(r.StartedAt), formatTime(r.FinishedAt),
				r.DryRun, r.Status, r.Countries, r.Failed,
			})
		}
		t.Render()
	},
}
