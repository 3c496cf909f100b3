package runstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"hdx-scraper-iati/lib/runstore/db"
	"hdx-scraper-iati/lib/testutil"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "runstore",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)
	return NewStore(res.DB)
}

func TestStore(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	started := time.Date(2025, 12, 15, 10, 0, 0, 0, time.UTC)
	first, err := store.StartRun(ctx, "batch-1", false, started)
	require.NoError(t, err)
	second, err := store.StartRun(ctx, "batch-2", true, started.Add(time.Hour))
	require.NoError(t, err)
	require.Greater(t, second, first)

	require.NoError(t, store.RecordCountry(ctx, CountryResult{
		RunID: first, ISO3: "KEN", Status: StatusFailed, Error: "timeout",
	}))
	require.NoError(t, store.RecordCountry(ctx, CountryResult{
		RunID: first, ISO3: "AFG", Status: StatusCreated, Dataset: "iati-afg",
		Activities: 12, Locations: 3,
	}))
	// replaces the failure
	require.NoError(t, store.RecordCountry(ctx, CountryResult{
		RunID: first, ISO3: "KEN", Status: StatusUpdated, Dataset: "iati-ken", Activities: 4,
	}))
	require.NoError(t, store.RecordCountry(ctx, CountryResult{
		RunID: second, ISO3: "SOM", Status: StatusFailed, Error: "boom",
	}))

	require.NoError(t, store.FinishRun(ctx, first, StatusFinished, started.Add(time.Minute)))
	err = store.FinishRun(ctx, 999, StatusFinished, started)
	require.True(t, errors.Is(err, ErrRunNotFound))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, second, runs[0].ID)
	require.True(t, runs[0].DryRun)
	require.Equal(t, StatusRunning, runs[0].Status)
	require.True(t, runs[0].FinishedAt.IsZero())
	require.Equal(t, 1, runs[0].Countries)
	require.Equal(t, 1, runs[0].Failed)

	require.Equal(t, "batch-1", runs[1].Batch)
	require.Equal(t, StatusFinished, runs[1].Status)
	require.Equal(t, started.Add(time.Minute).Unix(), runs[1].FinishedAt.Unix())
	require.Equal(t, 2, runs[1].Countries)
	require.Equal(t, 0, runs[1].Failed)

	runs, err = store.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	results, err := store.ListResults(ctx, first)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "AFG", results[0].ISO3)
	require.Equal(t, 3, results[0].Locations)
	require.Equal(t, "KEN", results[1].ISO3)
	require.Equal(t, StatusUpdated, results[1].Status)
	require.Equal(t, "", results[1].Error)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	database, err := Config{File: path}.OpenDB()
	require.NoError(t, err)
	defer database.Close()

	store := NewStore(database)
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Migrate(context.Background()))

	_, err = Config{}.OpenDB()
	require.Error(t, err)
	require.False(t, Config{}.Enabled())
}
