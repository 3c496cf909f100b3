package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"hdx-scraper-iati/lib/configutil"
	"hdx-scraper-iati/lib/country"
	"hdx-scraper-iati/lib/hdx"
	"hdx-scraper-iati/lib/restyutil"
	"hdx-scraper-iati/lib/retriever"
	"hdx-scraper-iati/services/iati"

	"github.com/go-resty/resty/v2"
	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}

func readConfig(path string) (iati.Config, error) {
	config, err := configutil.ReadConfig[iati.Config](path)
	if err != nil {
		return iati.Config{}, err
	}
	err = configutil.Validate(config)
	if err != nil {
		return iati.Config{}, err
	}
	return config, nil
}

func savedDir(config iati.Config) string {
	if config.SavedDir == "" {
		return iati.DefaultSavedDir
	}
	return config.SavedDir
}

// loadCountries reads the country table, from the saved copy when asked to
// or when the download fails.
func loadCountries(ctx context.Context, config iati.Config, useSaved bool) (*country.Countries, error) {
	userAgent, err := resolveUserAgent(config)
	if err != nil {
		return nil, err
	}
	r, err := retriever.New(retriever.Options{
		Client:      newHTTPClient(userAgent, nil),
		SavedDir:    savedDir(config),
		TempDir:     os.TempDir(),
		FallbackDir: savedDir(config),
		UseSaved:    useSaved,
	})
	if err != nil {
		return nil, err
	}
	return country.Load(ctx, r, config.CountriesUrl)
}

// resolveUserAgent looks up the user agent in the user agents file, falling
// back to the configured one. Downloads and HDX calls share it.
func resolveUserAgent(config iati.Config) (string, error) {
	userAgent, err := hdx.LoadUserAgent(config.Hdx.UserAgentFile, config.Hdx.UserAgentLookup, config.Hdx.UserAgent)
	if err != nil {
		return "", fmt.Errorf("load user agent: %w", err)
	}
	return userAgent, nil
}

func newHTTPClient(userAgent string, output restyutil.InstrumentOutput) *resty.Client {
	client := resty.New()
	client.SetTimeout(time.Minute * 5)
	client.SetRetryCount(2)
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	restyutil.InstrumentClient(client, nil, output)
	return client
}

func newHdxClient(config iati.Config, userAgent string, readOnly bool, output restyutil.InstrumentOutput) (*hdx.Client, error) {
	key, err := hdx.ReadAPIKey(config.Hdx.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read hdx api key: %w", err)
	}
	return hdx.NewClient(hdx.ClientOptions{
		Site:             config.Hdx.Site,
		APIKey:           key,
		UserAgent:        userAgent,
		ReadOnly:         readOnly || key == "",
		InstrumentOutput: output,
	})
}
