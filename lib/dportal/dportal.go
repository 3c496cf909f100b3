// Package dportal queries the D-Portal IATI database, which answers SQL
// queries with csv.
package dportal

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"hdx-scraper-iati/lib/retriever"
	"hdx-scraper-iati/lib/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("hdx-scraper-iati/lib/dportal")

// DayEndThreshold is the earliest end day (2017-11-30) an activity can have
// to still be considered current.
const DayEndThreshold = 17500

// one row per activity/sector combination
const SQLActivities = "SELECT * FROM act " +
	"LEFT JOIN sector ON act.aid = sector.aid " +
	"JOIN country ON act.aid = country.aid " +
	"WHERE country.country_code = '{iso2}' " +
	"AND day_end >= {threshold}"

// one row per activity location, activities without locations are omitted
const SQLLocations = "SELECT * FROM act " +
	"JOIN country ON act.aid = country.aid " +
	"JOIN location ON act.aid = location.aid " +
	"WHERE country.country_code = '{iso2}' " +
	"AND day_end >= {threshold}"

const (
	PrefixActivities = "iati-activities"
	PrefixLocations  = "iati-locations"
)

var iso2Regex = regexp.MustCompile(`^[A-Z]{2}$`)

type Client struct {
	baseUrl   string
	retriever *retriever.Retriever
	threshold int
}

type Options struct {
	BaseUrl   string
	Retriever *retriever.Retriever
	// defaults to DayEndThreshold
	DayEndThreshold int
}

func NewClient(opts Options) (Client, error) {
	if _, err := url.Parse(opts.BaseUrl); err != nil || opts.BaseUrl == "" {
		return Client{}, fmt.Errorf("invalid d-portal base url %q", opts.BaseUrl)
	}
	if opts.Retriever == nil {
		return Client{}, fmt.Errorf("d-portal client needs a retriever")
	}
	threshold := opts.DayEndThreshold
	if threshold == 0 {
		threshold = DayEndThreshold
	}
	return Client{
		baseUrl:   opts.BaseUrl,
		retriever: opts.Retriever,
		threshold: threshold,
	}, nil
}

// Threshold is the day end threshold used in queries.
func (c Client) Threshold() int {
	return c.threshold
}

// BuildSQL fills a query template. The country code is validated since it
// ends up inside the SQL text.
func (c Client) BuildSQL(template, iso2 string) (string, error) {
	iso2 = strings.ToUpper(strings.TrimSpace(iso2))
	if !iso2Regex.MatchString(iso2) {
		return "", fmt.Errorf("invalid iso2 country code %q", iso2)
	}
	sql := strings.ReplaceAll(template, "{iso2}", iso2)
	sql = strings.ReplaceAll(sql, "{threshold}", fmt.Sprint(c.threshold))
	return sql, nil
}

// QueryUrl is the csv download url for a query.
func (c Client) QueryUrl(template, iso2 string) (string, error) {
	sql, err := c.BuildSQL(template, iso2)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("form", "csv")
	params.Set("human", "1")
	params.Set("sql", sql)

	separator := "?"
	if strings.Contains(c.baseUrl, "?") {
		separator = "&"
	}
	return c.baseUrl + separator + params.Encode(), nil
}

// Fetch runs a query for a country, saving the csv as `<prefix>-<iso2>.csv`.
func (c Client) Fetch(ctx context.Context, template, iso2, prefix string) (Table, error) {
	ctx, span := tracer.Start(ctx, "dportal:Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("dportal.iso2", iso2),
		attribute.String("dportal.prefix", prefix),
	)

	link, err := c.QueryUrl(template, iso2)
	if err != nil {
		span.SetStatus(codes.Error, "failed to build query")
		return Table{}, err
	}

	filename := fmt.Sprintf("%s-%s.csv", prefix, strings.ToLower(iso2))
	raw, err := c.retriever.DownloadText(ctx, link, filename, retriever.WithLogString(filename))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to download query")
		return Table{}, fmt.Errorf("query %s for %s: %w", prefix, iso2, err)
	}

	table, err := ParseCSV(strings.NewReader(raw))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse csv")
		return Table{}, fmt.Errorf("parse %s: %w", filename, err)
	}
	span.SetAttributes(attribute.Int("dportal.rows", table.Len()))
	return table, nil
}

func (c Client) Activities(ctx context.Context, iso2 string) (Table, error) {
	return c.Fetch(ctx, SQLActivities, iso2, PrefixActivities)
}

func (c Client) Locations(ctx context.Context, iso2 string) (Table, error) {
	return c.Fetch(ctx, SQLLocations, iso2, PrefixLocations)
}
