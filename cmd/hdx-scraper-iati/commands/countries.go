package commands

import (
	"fmt"
	"strings"

	"hdx-scraper-iati/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	countriesMatch    string
	countriesFilter   string
	countriesUseSaved bool
)

func init() {
	countriesCmd.Flags().StringVar(&countriesMatch, "match", "", "Fuzzy match a country name instead of listing every country.")
	countriesCmd.Flags().StringVar(&countriesFilter, "filter", "", "Only list countries whose name contains this text.")
	countriesCmd.Flags().BoolVar(&countriesUseSaved, "use-saved", false, "Read the saved country table instead of downloading it.")
	rootCmd.AddCommand(countriesCmd)
}

var countriesCmd = &cobra.Command{
	Use:   "countries [--match <name> | --filter <text>]",
	Short: "Lists the countries datasets are generated for.",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := readConfig(configPath)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		countries, err := loadCountries(cmd.Context(), config, countriesUseSaved)
		if err != nil {
			serviceutil.Fatal("failed to load countries", err)
		}

		t := newTable(cmd.OutOrStdout())
		if countriesMatch != "" {
			match, similarity, err := countries.Fuzzy(countriesMatch)
			if err != nil {
				serviceutil.Fatal("no matching country", err)
			}
			t.AppendHeader(table.Row{"ISO3", "ISO2", "Name", "Similarity"})
			t.AppendRow(table.Row{match.ISO3, match.ISO2, match.Name, fmt.Sprintf("%.2f", similarity)})
			t.Render()
			return
		}

		list := countries.All()
		if countriesFilter != "" {
			list = countries.Filter(countriesFilter)
		}
		t.AppendHeader(table.Row{"ISO3", "ISO2", "Name", "Dataset"})
		for _, c := range list {
			t.AppendRow(table.Row{c.ISO3, c.ISO2, c.Name, "iati-" + strings.ToLower(c.ISO3)})
		}
		t.AppendFooter(table.Row{"", "", "Total", len(list)})
		t.Render()
	},
}
