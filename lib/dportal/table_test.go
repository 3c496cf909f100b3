package dportal

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	raw := "aid,title,aid,sector_code,aid\n" +
		"XM-1,\"Water, sanitation\",XM-1,140,XM-1\n" +
		"XM-2,Health\n"

	table, err := ParseCSV(strings.NewReader(raw))
	require.NoError(t, err)

	require.Equal(t, []string{"aid", "title", "aid.1", "sector_code", "aid.2"}, table.Headers)
	diff := cmp.Diff([][]string{
		{"XM-1", "Water, sanitation", "XM-1", "140", "XM-1"},
		{"XM-2", "Health", "", "", ""},
	}, table.Rows)
	require.Empty(t, diff)
	require.Equal(t, 2, table.Len())

	titles, ok := table.Column("title")
	require.True(t, ok)
	require.Equal(t, []string{"Water, sanitation", "Health"}, titles)

	_, ok = table.Column("missing")
	require.False(t, ok)

	records := table.Records()
	require.Equal(t, "140", records[0]["sector_code"])
	require.Equal(t, "", records[1]["sector_code"])
}

func TestParseCSVEmpty(t *testing.T) {
	table, err := ParseCSV(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, 0, table.Len())
	require.Empty(t, table.Headers)

	table, err = ParseCSV(strings.NewReader("aid,title\n"))
	require.NoError(t, err)
	require.Equal(t, 0, table.Len())
	require.Equal(t, []string{"aid", "title"}, table.Headers)
}

func TestParseCSVTooManyFields(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("aid,title\nA1,Water,EXTRA\n"))
	require.ErrorContains(t, err, "read csv row 1: expected 2 fields, saw 3")
}

func TestDedupeHeaders(t *testing.T) {
	require.Equal(
		t,
		[]string{"a", "a.2", "a.1", "a.1.1"},
		dedupeHeaders([]string{"a", "a", "a.1", "a.1"}),
	)
}

func TestParseDay(t *testing.T) {
	testCases := []struct {
		value    string
		expected time.Time
		ok       bool
	}{
		{value: "17500", expected: time.Date(2017, 11, 30, 0, 0, 0, 0, time.UTC), ok: true},
		{value: "0", expected: time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), ok: true},
		{value: "2025-12-15", expected: time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC), ok: true},
		{value: " 1986-01-01T00:00:00 ", expected: time.Date(1986, 1, 1, 0, 0, 0, 0, time.UTC), ok: true},
		{value: ""},
		{value: "soon"},
	}

	for _, test := range testCases {
		day, ok := ParseDay(test.value)
		require.Equal(t, test.ok, ok, test.value)
		if test.ok {
			require.True(t, test.expected.Equal(day), "%s: %s", test.value, day)
		}
	}
}
