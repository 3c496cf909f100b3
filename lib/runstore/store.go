package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hdx-scraper-iati/lib/runstore/db"
	"hdx-scraper-iati/lib/telemetry"
)

var tracer = telemetry.Tracer("hdx-scraper-iati/lib/runstore")

var ErrRunNotFound = errors.New("run not found")

// Status is the outcome of a run or of a single country within it.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"

	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
	StatusEmpty   Status = "empty"
	StatusSkipped Status = "skipped"
	StatusDryRun  Status = "dry-run"
)

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

// Migrate creates any missing tables.
func (s Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, db.Schema)
	return err
}

func (s Store) Close() error {
	return s.db.Close()
}

type Run struct {
	ID         int64
	Batch      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Status     Status

	Countries int
	Failed    int
}

type CountryResult struct {
	RunID      int64
	ISO3       string
	Status     Status
	Dataset    string
	Activities int
	Locations  int
	Error      string
	FinishedAt time.Time
}

func (s Store) StartRun(ctx context.Context, batch string, dryRun bool, startedAt time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "runstore:StartRun")
	defer span.End()

	res, err := s.db.ExecContext(
		ctx,
		"insert into run(batch, started_at, dry_run, status) values (?, ?, ?, ?)",
		batch, startedAt.Unix(), dryRun, string(StatusRunning),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordCountry stores the outcome for a country, a second record for the
// same country in a run replaces the first.
func (s Store) RecordCountry(ctx context.Context, result CountryResult) error {
	ctx, span := tracer.Start(ctx, "runstore:RecordCountry")
	defer span.End()

	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}
	_, err := s.db.ExecContext(
		ctx,
		`insert or replace into country_result(
			run_id, iso3, status, dataset, activities, locations, error, finished_at
		) values (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID,
		result.ISO3,
		string(result.Status),
		result.Dataset,
		result.Activities,
		result.Locations,
		result.Error,
		result.FinishedAt.Unix(),
	)
	return err
}

func (s Store) FinishRun(ctx context.Context, runID int64, status Status, finishedAt time.Time) error {
	ctx, span := tracer.Start(ctx, "runstore:FinishRun")
	defer span.End()

	res, err := s.db.ExecContext(
		ctx,
		"update run set status = ?, finished_at = ? where id = ?",
		string(status), finishedAt.Unix(), runID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	ctx, span := tracer.Start(ctx, "runstore:ListRuns")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`select
			run.id, run.batch, run.started_at, run.finished_at, run.dry_run, run.status,
			count(country_result.iso3),
			coalesce(sum(case when country_result.status = 'failed' then 1 else 0 end), 0)
		from run
		left join country_result on country_result.run_id = run.id
		group by run.id
		order by run.id desc
		limit ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt int64
		var finishedAt sql.NullInt64
		var status string
		err = rows.Scan(
			&run.ID, &run.Batch, &startedAt, &finishedAt, &run.DryRun, &status,
			&run.Countries, &run.Failed,
		)
		if err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(startedAt, 0)
		if finishedAt.Valid {
			run.FinishedAt = time.Unix(finishedAt.Int64, 0)
		}
		run.Status = Status(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListResults returns the country outcomes of a run ordered by ISO3.
func (s Store) ListResults(ctx context.Context, runID int64) ([]CountryResult, error) {
	ctx, span := tracer.Start(ctx, "runstore:ListResults")
	defer span.End()

	rows, err := s.db.QueryContext(
		ctx,
		`select iso3, status, dataset, activities, locations, error, finished_at
		from country_result
		where run_id = ?
		order by iso3`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CountryResult
	for rows.Next() {
		result := CountryResult{RunID: runID}
		var status string
		var finishedAt int64
		err = rows.Scan(
			&result.ISO3, &status, &result.Dataset,
			&result.Activities, &result.Locations, &result.Error, &finishedAt,
		)
		if err != nil {
			return nil, err
		}
		result.Status = Status(status)
		result.FinishedAt = time.Unix(finishedAt, 0)
		results = append(results, result)
	}
	return results, rows.Err()
}
