// Package country loads the HXL tagged countries and territories table and
// looks countries up by code or (fuzzy) name.
package country

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"hdx-scraper-iati/lib/retriever"
	"hdx-scraper-iati/lib/textutil"

	"github.com/antzucaro/matchr"
)

const (
	TagISO2 = "#country+code+v_iso2"
	TagISO3 = "#country+code+v_iso3"
	TagName = "#country+name+preferred"
)

// minimum jaro-winkler similarity for a fuzzy match to be accepted
const fuzzyThreshold = 0.85

var ErrUnknownCountry = errors.New("unknown country")

type Country struct {
	ISO2 string `json:"iso2"`
	ISO3 string `json:"iso3"`
	Name string `json:"name"`
}

type Countries struct {
	list   []Country
	byISO2 map[string]Country
	byISO3 map[string]Country
	byName map[string]Country
}

// Load downloads the countries table through the retriever.
func Load(ctx context.Context, r *retriever.Retriever, url string) (*Countries, error) {
	text, err := r.DownloadText(
		ctx, url, "countries.csv",
		retriever.WithFallback(),
		retriever.WithLogString("countries data"),
	)
	if err != nil {
		return nil, fmt.Errorf("load countries: %w", err)
	}
	return Parse(strings.NewReader(text))
}

// Parse reads a csv whose first or second row holds HXL hashtags.
func Parse(reader io.Reader) (*Countries, error) {
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1

	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, err
	}

	hxlRow := -1
	for i := 0; i < len(rows) && i < 2; i++ {
		if len(rows[i]) > 0 && strings.HasPrefix(strings.TrimSpace(rows[i][0]), "#") {
			hxlRow = i
			break
		}
	}
	if hxlRow < 0 {
		return nil, fmt.Errorf("countries table has no hxl hashtag row")
	}

	columns := map[string]int{}
	for i, tag := range rows[hxlRow] {
		tag = strings.TrimSpace(tag)
		if _, exists := columns[tag]; !exists {
			columns[tag] = i
		}
	}
	for _, tag := range []string{TagISO2, TagISO3, TagName} {
		if _, ok := columns[tag]; !ok {
			return nil, fmt.Errorf("countries table is missing column %s", tag)
		}
	}

	cell := func(row []string, tag string) string {
		idx := columns[tag]
		if idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var list []Country
	for _, row := range rows[hxlRow+1:] {
		c := Country{
			ISO2: strings.ToUpper(cell(row, TagISO2)),
			ISO3: strings.ToUpper(cell(row, TagISO3)),
			Name: cell(row, TagName),
		}
		if c.ISO3 == "" {
			continue
		}
		list = append(list, c)
	}

	return New(list), nil
}

// New indexes a list of countries, ordered by ISO3.
func New(list []Country) *Countries {
	list = slices.Clone(list)
	slices.SortFunc(list, func(a, b Country) int {
		return strings.Compare(a.ISO3, b.ISO3)
	})

	c := &Countries{
		byISO2: map[string]Country{},
		byISO3: map[string]Country{},
		byName: map[string]Country{},
	}
	for _, country := range list {
		if _, dup := c.byISO3[country.ISO3]; dup {
			continue
		}
		c.list = append(c.list, country)
		c.byISO3[country.ISO3] = country
		if country.ISO2 != "" {
			c.byISO2[country.ISO2] = country
		}
		c.byName[textutil.NormalizeName(country.Name)] = country
	}
	return c
}

func (c *Countries) All() []Country {
	return slices.Clone(c.list)
}

func (c *Countries) Len() int {
	return len(c.list)
}

func (c *Countries) ByISO2(iso2 string) (Country, bool) {
	country, ok := c.byISO2[strings.ToUpper(strings.TrimSpace(iso2))]
	return country, ok
}

func (c *Countries) ByISO3(iso3 string) (Country, bool) {
	country, ok := c.byISO3[strings.ToUpper(strings.TrimSpace(iso3))]
	return country, ok
}

func (c *Countries) NameFromISO2(iso2 string) (string, error) {
	country, ok := c.ByISO2(iso2)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCountry, iso2)
	}
	return country.Name, nil
}

// Fuzzy resolves a code or name to a country, returning the similarity of
// the match (1 for exact matches).
func (c *Countries) Fuzzy(name string) (Country, float64, error) {
	name = strings.TrimSpace(name)
	if country, ok := c.ByISO3(name); ok && len(name) == 3 {
		return country, 1, nil
	}
	if country, ok := c.ByISO2(name); ok && len(name) == 2 {
		return country, 1, nil
	}

	normalized := textutil.NormalizeName(name)
	if normalized == "" {
		return Country{}, 0, fmt.Errorf("%w: %q", ErrUnknownCountry, name)
	}
	if country, ok := c.byName[normalized]; ok {
		return country, 1, nil
	}

	var best Country
	var bestSimilarity float64
	for _, country := range c.list {
		similarity := matchr.JaroWinkler(normalized, textutil.NormalizeName(country.Name), false)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			best = country
		}
	}
	if bestSimilarity < fuzzyThreshold {
		return Country{}, bestSimilarity, fmt.Errorf("%w: %q", ErrUnknownCountry, name)
	}
	return best, bestSimilarity, nil
}

// Filter returns the countries whose name contains `term`, ignoring case,
// accents and punctuation.
func (c *Countries) Filter(term string) []Country {
	needle := textutil.NormalizeName(term)
	var out []Country
	for _, country := range c.list {
		if textutil.MatchName(country.Name, []string{needle}) {
			out = append(out, country)
		}
	}
	return out
}

// Resolve turns user given codes or names into countries, in table order.
// An empty selector list selects every country.
func (c *Countries) Resolve(selectors []string) ([]Country, error) {
	if len(selectors) == 0 {
		return c.All(), nil
	}

	selected := map[string]bool{}
	var errs []error
	for _, s := range selectors {
		if strings.TrimSpace(s) == "" {
			continue
		}
		country, _, err := c.Fuzzy(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		selected[country.ISO3] = true
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var out []Country
	for _, country := range c.list {
		if selected[country.ISO3] {
			out = append(out, country)
		}
	}
	return out, nil
}
