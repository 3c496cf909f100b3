package iati

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hdx-scraper-iati/lib/batch"
	"hdx-scraper-iati/lib/country"
	"hdx-scraper-iati/lib/dportal"
	"hdx-scraper-iati/lib/hdx"
	"hdx-scraper-iati/lib/notify"
	"hdx-scraper-iati/lib/retriever"
	"hdx-scraper-iati/lib/runstore"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultFolder   = "hdx-scraper-iati"
	DefaultSavedDir = "saved_data"
	DefaultWorkers  = 4

	UpdatedByScript = "HDX Scraper: iati"
)

type Options struct {
	Save     bool
	UseSaved bool
	// generate datasets without creating them in HDX
	DryRun bool
	// codes or names, empty means every country
	Countries    []string
	WhereToStart string
	Workers      int
	// batch folder under the temp directory
	Folder string
}

// Scraper dependencies, HDX is required unless every run is a dry run and
// Store and Mailer may be nil.
type Dependencies struct {
	HTTP   *resty.Client
	HDX    *hdx.Client
	Store  *runstore.Store
	Mailer *notify.Mailer
}

type Scraper struct {
	config Config
	deps   Dependencies
}

func NewScraper(config Config, deps Dependencies) Scraper {
	if deps.HTTP == nil {
		deps.HTTP = resty.New()
	}
	return Scraper{config: config, deps: deps}
}

type countryJob struct {
	country country.Country
	skipped bool
	out     generated
	err     error
}

func (s Scraper) vocabulary(ctx context.Context) hdx.Vocabulary {
	fallback := hdx.Vocabulary{ID: s.config.Hdx.VocabularyID}
	if s.deps.HDX == nil {
		return fallback
	}
	vocabulary, err := s.deps.HDX.ApprovedVocabulary(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch approved vocabulary, tags are not checked", "err", err)
		return fallback
	}
	return vocabulary
}

// Run generates the dataset of every selected country and creates it in HDX.
// A failed country does not stop the run, the returned error joins every
// failure.
func (s Scraper) Run(ctx context.Context, opts Options) (notify.Summary, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	if !opts.DryRun && s.deps.HDX == nil {
		return notify.Summary{}, fmt.Errorf("an hdx client is required unless dry running")
	}
	if opts.Folder == "" {
		opts.Folder = DefaultFolder
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = s.config.Workers
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	info, err := batch.Start(opts.Folder, opts.WhereToStart)
	if err != nil {
		return notify.Summary{}, err
	}
	summary := notify.Summary{
		Batch:     info.Batch,
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
	}

	savedDir := s.config.SavedDir
	if savedDir == "" {
		savedDir = DefaultSavedDir
	}
	fallbackDir := s.config.FallbackDir
	if fallbackDir == "" {
		fallbackDir = info.Folder
	}
	r, err := retriever.New(retriever.Options{
		Client:      s.deps.HTTP,
		SavedDir:    savedDir,
		TempDir:     info.Folder,
		FallbackDir: fallbackDir,
		Save:        opts.Save,
		UseSaved:    opts.UseSaved,
	})
	if err != nil {
		return summary, err
	}

	countries, err := country.Load(ctx, r, s.config.CountriesUrl)
	if err != nil {
		return summary, err
	}
	selected, err := countries.Resolve(opts.Countries)
	if err != nil {
		return summary, err
	}
	keys := make([]string, len(selected))
	for i, c := range selected {
		keys[i] = c.ISO3
	}
	info.Resolve(keys)

	client, err := dportal.NewClient(dportal.Options{
		BaseUrl:         s.config.BaseUrl,
		Retriever:       r,
		DayEndThreshold: s.config.DayEndThreshold,
	})
	if err != nil {
		return summary, err
	}
	generator := NewGenerator(s.config, client, info.Folder, s.vocabulary(ctx))

	var runID int64
	if s.deps.Store != nil {
		runID, err = s.deps.Store.StartRun(ctx, info.Batch, opts.DryRun, summary.StartedAt)
		if err != nil {
			return summary, fmt.Errorf("start run: %w", err)
		}
	}

	jobs := make([]*countryJob, len(selected))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i, c := range selected {
		job := &countryJob{country: c}
		jobs[i] = job
		if info.ShouldSkip(c.ISO3) {
			job.skipped = true
			continue
		}
		group.Go(func() error {
			job.out, job.err = generator.generate(groupCtx, job.country)
			// only cancellation stops the other countries
			if errors.Is(job.err, context.Canceled) {
				return job.err
			}
			return nil
		})
	}
	err = group.Wait()
	if err != nil {
		s.abort(ctx, runID, &summary, jobs, err)
		return summary, err
	}

	var errs []error
	for _, job := range jobs {
		outcome := s.publish(ctx, info, opts, job)
		if outcome.Error != "" {
			errs = append(errs, fmt.Errorf("%s: %s", job.country.ISO3, outcome.Error))
		}
		summary.Countries = append(summary.Countries, outcome)

		s.record(context.WithoutCancel(ctx), runID, outcome)
	}
	summary.Duration = time.Since(summary.StartedAt)

	if s.deps.Store != nil {
		status := runstore.StatusFinished
		if len(errs) > 0 {
			status = runstore.StatusFailed
		}
		err = s.deps.Store.FinishRun(context.WithoutCancel(ctx), runID, status, time.Now())
		if err != nil {
			slog.WarnContext(ctx, "failed to finish run", "run", runID, "err", err)
		}
	}
	if s.deps.Mailer != nil {
		err = s.deps.Mailer.SendSummary(ctx, summary)
		if err != nil {
			slog.WarnContext(ctx, "failed to email summary", "err", err)
		}
	}

	if len(errs) > 0 {
		slog.WarnContext(ctx, "keeping batch folder after failures", "folder", info.Folder)
		return summary, errors.Join(errs...)
	}
	err = info.Cleanup()
	if err != nil {
		slog.WarnContext(ctx, "failed to remove batch folder", "folder", info.Folder, "err", err)
	}
	return summary, nil
}

func (s Scraper) record(ctx context.Context, runID int64, outcome notify.CountryOutcome) {
	if s.deps.Store == nil {
		return
	}
	err := s.deps.Store.RecordCountry(ctx, runstore.CountryResult{
		RunID:      runID,
		ISO3:       outcome.ISO3,
		Status:     runstore.Status(outcome.Status),
		Dataset:    outcome.Dataset,
		Activities: outcome.Activities,
		Locations:  outcome.Locations,
		Error:      outcome.Error,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to record country", "iso3", outcome.ISO3, "err", err)
	}
}

// abort closes a run stopped during generation. Nothing is published,
// countries that were not skipped are stored as failed with the error that
// stopped them.
func (s Scraper) abort(ctx context.Context, runID int64, summary *notify.Summary, jobs []*countryJob, cause error) {
	ctx = context.WithoutCancel(ctx)
	slog.WarnContext(ctx, "run stopped before publishing", "err", cause)

	for _, job := range jobs {
		outcome := notify.CountryOutcome{
			ISO3:       job.country.ISO3,
			Status:     string(runstore.StatusFailed),
			Activities: job.out.activities,
			Locations:  job.out.locations,
			Error:      cause.Error(),
		}
		switch {
		case job.skipped:
			outcome.Status = string(runstore.StatusSkipped)
			outcome.Error = ""
		case job.err != nil:
			outcome.Error = job.err.Error()
		}
		summary.Countries = append(summary.Countries, outcome)
		s.record(ctx, runID, outcome)
	}
	summary.Duration = time.Since(summary.StartedAt)

	if s.deps.Store != nil {
		err := s.deps.Store.FinishRun(ctx, runID, runstore.StatusFailed, time.Now())
		if err != nil {
			slog.WarnContext(ctx, "failed to finish run", "run", runID, "err", err)
		}
	}
}

// publish finishes a generated dataset and creates it in HDX.
func (s Scraper) publish(ctx context.Context, info *batch.Info, opts Options, job *countryJob) notify.CountryOutcome {
	outcome := notify.CountryOutcome{
		ISO3:       job.country.ISO3,
		Activities: job.out.activities,
		Locations:  job.out.locations,
	}
	switch {
	case job.skipped:
		outcome.Status = string(runstore.StatusSkipped)
		return outcome
	case job.err != nil:
		slog.ErrorContext(ctx, "failed to generate dataset", "iso3", job.country.ISO3, "err", job.err)
		outcome.Status = string(runstore.StatusFailed)
		outcome.Error = job.err.Error()
		return outcome
	case job.out.dataset == nil:
		slog.WarnContext(ctx, "no current activities, skipping", "iso3", job.country.ISO3)
		outcome.Status = string(runstore.StatusEmpty)
		return outcome
	}

	dataset := job.out.dataset
	outcome.Dataset = dataset.Name
	err := finalize(dataset, s.config.Hdx.StaticMetadata)
	if err != nil {
		outcome.Status = string(runstore.StatusFailed)
		outcome.Error = err.Error()
		return outcome
	}

	if opts.DryRun {
		slog.InfoContext(ctx, "dry run, not creating dataset", "dataset", dataset.Name, "resources", len(dataset.Resources))
		outcome.Status = string(runstore.StatusDryRun)
		return outcome
	}

	result, err := s.deps.HDX.CreateInHDX(ctx, dataset, hdx.CreateOptions{
		RemoveAdditionalResources: true,
		MatchResourceOrder:        false,
		HXLUpdate:                 false,
		UpdatedByScript:           UpdatedByScript,
		Batch:                     info.Batch,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create dataset", "dataset", dataset.Name, "err", err)
		outcome.Status = string(runstore.StatusFailed)
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Status = string(runstore.StatusUpdated)
	if result.Created {
		outcome.Status = string(runstore.StatusCreated)
	}
	slog.InfoContext(ctx, "dataset in hdx", "dataset", dataset.Name, "status", outcome.Status)
	return outcome
}
