package dportal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Table is a parsed csv response, every row has exactly len(Headers) cells
// and missing values are empty strings.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ParseCSV reads a csv with a header row. Repeated header names, which
// d-portal produces for `SELECT *` over joins, get a `.1`, `.2`... suffix.
func ParseCSV(reader io.Reader) (Table, error) {
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true

	header, err := csvReader.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("read csv header: %w", err)
	}

	table := Table{Headers: dedupeHeaders(header)}
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read csv row %d: %w", len(table.Rows)+1, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) > len(table.Headers) {
			return Table{}, fmt.Errorf(
				"read csv row %d: expected %d fields, saw %d",
				len(table.Rows)+1, len(table.Headers), len(record),
			)
		}
		// short rows are padded with empty cells
		row := make([]string, len(table.Headers))
		copy(row, record)
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

func dedupeHeaders(header []string) []string {
	out := make([]string, len(header))
	seen := map[string]bool{}
	for _, h := range header {
		seen[strings.TrimSpace(h)] = true
	}

	counts := map[string]int{}
	used := map[string]bool{}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if !used[h] {
			out[i] = h
			used[h] = true
			continue
		}
		for {
			counts[h]++
			candidate := fmt.Sprintf("%s.%d", h, counts[h])
			if !used[candidate] && !seen[candidate] {
				out[i] = candidate
				used[candidate] = true
				break
			}
		}
	}
	return out
}

func (t Table) Len() int {
	return len(t.Rows)
}

func (t Table) columnIndex(name string) int {
	for i, h := range t.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// Column returns every value of a column.
func (t Table) Column(name string) ([]string, bool) {
	idx := t.columnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Records returns the rows keyed by header.
func (t Table) Records() []map[string]string {
	out := make([]map[string]string, len(t.Rows))
	for i, row := range t.Rows {
		record := make(map[string]string, len(t.Headers))
		for j, h := range t.Headers {
			record[h] = row[j]
		}
		out[i] = record
	}
	return out
}

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// DayToTime converts a d-portal day number (days since 1970-01-01).
func DayToTime(day int) time.Time {
	return epoch.AddDate(0, 0, day)
}

// ParseDay accepts either a d-portal day number or an ISO date, which is
// what d-portal returns for day columns with `human=1`.
func ParseDay(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	if day, err := strconv.Atoi(value); err == nil {
		return DayToTime(day), true
	}
	if len(value) >= 10 {
		t, err := time.Parse(time.DateOnly, value[:10])
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
