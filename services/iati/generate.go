package iati

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hdx-scraper-iati/lib/country"
	"hdx-scraper-iati/lib/dportal"
	"hdx-scraper-iati/lib/hdx"
	"hdx-scraper-iati/lib/telemetry"
	"hdx-scraper-iati/lib/textutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("hdx-scraper-iati/services/iati")

const countryPlaceholder = "country"

type Generator struct {
	config     Config
	dportal    dportal.Client
	folder     string
	vocabulary hdx.Vocabulary
	now        func() time.Time
}

func NewGenerator(config Config, client dportal.Client, folder string, vocabulary hdx.Vocabulary) Generator {
	return Generator{
		config:     config,
		dportal:    client,
		folder:     folder,
		vocabulary: vocabulary,
		now:        time.Now,
	}
}

type generated struct {
	dataset    *hdx.Dataset
	activities int
	locations  int
}

// GenerateDataset builds the dataset of a country, it returns a nil dataset
// when d-portal has no current activities for the country.
func (g Generator) GenerateDataset(ctx context.Context, c country.Country) (*hdx.Dataset, error) {
	out, err := g.generate(ctx, c)
	return out.dataset, err
}

func (g Generator) generate(ctx context.Context, c country.Country) (generated, error) {
	ctx, span := tracer.Start(ctx, "GenerateDataset")
	defer span.End()
	span.SetAttributes(attribute.String("iso3", c.ISO3))

	activities, err := g.dportal.Activities(ctx, c.ISO2)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch activities")
		return generated{}, err
	}
	if activities.Len() == 0 {
		return generated{}, nil
	}
	locations, err := g.dportal.Locations(ctx, c.ISO2)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch locations")
		return generated{}, err
	}

	title := textutil.ReplacePlaceholder(g.config.Title, countryPlaceholder, c.Name)
	slog.InfoContext(ctx, "creating dataset", "title", title)

	dataset := hdx.NewDataset("iati-"+strings.ToLower(c.ISO3), title)
	err = dataset.AddCountryLocation(c.ISO3)
	if err != nil {
		return generated{}, err
	}
	rejected := dataset.AddTags(g.config.Tags, g.vocabulary)
	if len(rejected) > 0 {
		slog.WarnContext(ctx, "tags not in approved vocabulary", "iso3", c.ISO3, "tags", rejected)
	}

	start, end := g.timePeriod(activities)
	err = dataset.SetTimePeriod(start, end)
	if err != nil {
		return generated{}, err
	}

	err = g.addResource(dataset, c, g.config.Activities, activities)
	if err != nil {
		return generated{}, err
	}
	if locations.Len() > 0 {
		err = g.addResource(dataset, c, g.config.Locations, locations)
		if err != nil {
			return generated{}, err
		}
	} else {
		slog.InfoContext(ctx, "no activity locations", "iso3", c.ISO3)
	}

	span.SetAttributes(
		attribute.Int("activities", activities.Len()),
		attribute.Int("locations", locations.Len()),
	)
	return generated{
		dataset:    dataset,
		activities: activities.Len(),
		locations:  locations.Len(),
	}, nil
}

func (g Generator) addResource(dataset *hdx.Dataset, c country.Country, config ResourceConfig, table dportal.Table) error {
	name := textutil.ReplacePlaceholder(config.Title, countryPlaceholder, c.Name)
	return dataset.GenerateResourceFromRows(
		g.folder,
		hdx.Slugify(name)+".csv",
		table.Headers,
		table.Rows,
		g.config.HxlTags,
		hdx.Resource{
			Name:        name,
			Description: textutil.ReplacePlaceholder(config.Description, countryPlaceholder, c.Name),
		},
	)
}

// timePeriod spans the earliest activity start to the latest activity end.
func (g Generator) timePeriod(activities dportal.Table) (time.Time, time.Time) {
	var start, end time.Time
	if starts, ok := activities.Column("day_start"); ok {
		for _, v := range starts {
			t, ok := dportal.ParseDay(v)
			if ok && (start.IsZero() || t.Before(start)) {
				start = t
			}
		}
	}
	if ends, ok := activities.Column("day_end"); ok {
		for _, v := range ends {
			t, ok := dportal.ParseDay(v)
			if ok && t.After(end) {
				end = t
			}
		}
	}

	if start.IsZero() {
		start = dportal.DayToTime(g.dportal.Threshold())
	}
	if end.IsZero() {
		end = g.now()
	}
	if end.Before(start) {
		end = start
	}
	return start, end
}

// finalize merges the static metadata. The notes keep their literal
// `(country)` text.
func finalize(dataset *hdx.Dataset, staticPath string) error {
	err := dataset.UpdateFromYAML(staticPath)
	if err != nil {
		return fmt.Errorf("static metadata: %w", err)
	}
	return nil
}
