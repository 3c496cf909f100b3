package iati

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hdx-scraper-iati/lib/configutil"
	"hdx-scraper-iati/lib/country"
	"hdx-scraper-iati/lib/dportal"
	"hdx-scraper-iati/lib/hdx"
	"hdx-scraper-iati/lib/retriever"
	"hdx-scraper-iati/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

const (
	configPath = "../../config/project_configuration.json5"
	staticPath = "../../config/hdx_dataset_static.yaml"
	savedDir   = "testdata/saved_data"
	vocabID    = "b891512e-9516-4bf5-962a-7a289772a2a1"
)

var afghanistan = country.Country{ISO2: "AF", ISO3: "AFG", Name: "Afghanistan"}

func testVocabulary() hdx.Vocabulary {
	return hdx.Vocabulary{
		ID:   vocabID,
		Name: "approved",
		Tags: []hdx.Tag{
			{Name: "funding"},
			{Name: "hxl"},
			{Name: "who is doing what and where-3w-4w-5w"},
		},
	}
}

func readTestConfig(t testing.TB) Config {
	config, err := configutil.ReadConfig[Config](configPath)
	require.NoError(t, err)
	require.NoError(t, configutil.Validate(config))
	config.SavedDir = savedDir
	config.Hdx.StaticMetadata = staticPath
	return config
}

func newTestGenerator(t *testing.T, config Config, folder string) Generator {
	r, err := retriever.New(retriever.Options{
		SavedDir: savedDir,
		TempDir:  folder,
		UseSaved: true,
	})
	require.NoError(t, err)
	client, err := dportal.NewClient(dportal.Options{
		BaseUrl:   config.BaseUrl,
		Retriever: r,
	})
	require.NoError(t, err)
	return NewGenerator(config, client, folder, testVocabulary())
}

func TestGenerateDataset(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:iati")
	defer cleanup()

	config := readTestConfig(t)
	folder := t.TempDir()
	generator := newTestGenerator(t, config, folder)

	dataset, err := generator.GenerateDataset(context.Background(), afghanistan)
	require.NoError(t, err)
	require.NotNil(t, dataset)
	require.NoError(t, dataset.UpdateFromYAML(staticPath))

	require.Equal(t, "iati-afg", dataset.Name)
	require.Equal(t, "Current IATI Aid Activities in Afghanistan", dataset.Title)
	require.Equal(t, "[1986-01-01T00:00:00 TO 2025-12-15T23:59:59]", dataset.DatasetDate)
	require.Equal(t, []hdx.Group{{Name: "afg"}}, dataset.Groups)
	require.Equal(t, []hdx.Tag{
		{Name: "funding", VocabularyID: vocabID},
		{Name: "hxl", VocabularyID: vocabID},
		{Name: "who is doing what and where-3w-4w-5w", VocabularyID: vocabID},
	}, dataset.Tags)
	require.Equal(t, "hdx-other", dataset.LicenseID)
	require.Equal(t, "Registry", dataset.Methodology)
	require.Equal(t, "Various IATI reporting organisations http://www.d-portal.org/about.html#sources", dataset.DatasetSource)
	require.Equal(t, "HDX Data Systems Team", dataset.PackageCreator)
	require.False(t, dataset.Private)
	require.Equal(t, "6b297b9d-ead6-458d-ae1b-1b9e9f61dd00", dataset.Maintainer)
	require.Equal(t, "87f30a06-6085-473d-87d8-ab4c3aa36817", dataset.OwnerOrg)
	require.Equal(t, "1", dataset.DataUpdateFrequency)
	require.True(t, strings.HasPrefix(dataset.Caveats, "Information originates from multiple IATI reporting organisations"))
	require.True(t, strings.HasSuffix(dataset.Caveats, "Start and end dates of activities within the dataset will differ.\n"))

	expected := []hdx.Resource{
		{
			Name:         "IATI activities in Afghanistan (no location information)",
			Description:  "Currently-active IATI activities in Afghanistan, in 3W/4W style with HXL hashtags. This dataset contains one unique activity/sector combination on each row. It is suitable for counting the total number of reported activities, or for aggregating activities by sector, reporting organisation, etc.",
			Format:       "csv",
			ResourceType: "file.upload",
			URLType:      "upload",
		},
		{
			Name:         "IATI activity locations in Afghanistan",
			Description:  "Current IATI activity locations in Afghanistan, in 3W/4W style with HXL hashtags. This dataset contains one row per location, so activities with multiple locations are repeated, and activities without location information are omitted. It is suitable for applications that want to show activity locations on a map, or find the closest geolocated activities to a settlement or camp.",
			Format:       "csv",
			ResourceType: "file.upload",
			URLType:      "upload",
		},
	}
	resources := dataset.GetResources()
	if diff := cmp.Diff(expected, resources, cmpopts.IgnoreFields(hdx.Resource{}, "FilePath")); diff != "" {
		t.Fatal(diff)
	}

	require.Equal(t, filepath.Join(folder, "iati-activities-in-afghanistan-no-location-information.csv"), resources[0].FilePath)
	contents, err := os.ReadFile(resources[0].FilePath)
	require.NoError(t, err)
	lines := strings.Split(string(contents), "\n")
	require.Equal(t, "aid,title,reporting,status_code,day_start,day_end,commitment,spend,aid.1,sector_code,sector_percent,aid.2,country_code,country_percent", lines[0])
	require.Equal(t, "#activity+code,#activity+title,#org+name+reporting,#status+code,#date+start,#date+end,#value+committed+usd,#value+spent+usd,,#sector+code,#sector+pct,,#country+code,#country+pct", lines[1])
	// header, hashtags, 4 rows and the trailing newline
	require.Len(t, lines, 7)

	require.Equal(t, filepath.Join(folder, "iati-activity-locations-in-afghanistan.csv"), resources[1].FilePath)
	contents, err = os.ReadFile(resources[1].FilePath)
	require.NoError(t, err)
	require.Contains(t, string(contents), "#loc+name,#geo+lat,#geo+lon")
	require.Contains(t, string(contents), "Kabul,34.52813,69.17233")
}

func TestGenerateDatasetNoActivities(t *testing.T) {
	config := readTestConfig(t)
	generator := newTestGenerator(t, config, t.TempDir())

	dataset, err := generator.GenerateDataset(context.Background(), country.Country{
		ISO2: "KE", ISO3: "KEN", Name: "Kenya",
	})
	require.NoError(t, err)
	require.Nil(t, dataset)
}

func TestGenerateDatasetNotSaved(t *testing.T) {
	config := readTestConfig(t)
	generator := newTestGenerator(t, config, t.TempDir())

	_, err := generator.GenerateDataset(context.Background(), country.Country{
		ISO2: "SO", ISO3: "SOM", Name: "Somalia",
	})
	require.ErrorIs(t, err, retriever.ErrNotSaved)
}

func TestTimePeriod(t *testing.T) {
	config := readTestConfig(t)
	generator := newTestGenerator(t, config, t.TempDir())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	generator.now = func() time.Time { return now }

	testCases := []struct {
		name  string
		table dportal.Table
		start string
		end   string
	}{
		{
			name: "dates and day numbers",
			table: dportal.Table{
				Headers: []string{"day_start", "day_end"},
				Rows: [][]string{
					{"2019-01-01", "17600"},
					{"17000", "2024-06-30"},
				},
			},
			start: "2016-07-18",
			end:   "2024-06-30",
		},
		{
			name: "no parsable dates",
			table: dportal.Table{
				Headers: []string{"day_start", "day_end"},
				Rows:    [][]string{{"", "unknown"}},
			},
			start: "2017-11-30",
			end:   "2026-03-01",
		},
		{
			name: "missing columns",
			table: dportal.Table{
				Headers: []string{"aid"},
				Rows:    [][]string{{"XM-1"}},
			},
			start: "2017-11-30",
			end:   "2026-03-01",
		},
		{
			name: "end before start",
			table: dportal.Table{
				Headers: []string{"day_start", "day_end"},
				Rows:    [][]string{{"2020-01-01", "2019-01-01"}},
			},
			start: "2020-01-01",
			end:   "2020-01-01",
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			start, end := generator.timePeriod(test.table)
			require.Equal(t, test.start, start.Format(time.DateOnly))
			require.Equal(t, test.end, end.Format(time.DateOnly))
		})
	}
}

func TestFinalize(t *testing.T) {
	dataset := hdx.NewDataset("iati-afg", "")
	require.NoError(t, finalize(dataset, staticPath))
	require.True(t, strings.HasPrefix(dataset.Notes, "List of active aid activities for (country) shared via"))

	require.Error(t, finalize(dataset, "missing.yaml"))
}
