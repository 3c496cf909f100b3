package hdx

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"
)

type Tag struct {
	Name         string `json:"name" yaml:"name"`
	VocabularyID string `json:"vocabulary_id,omitempty" yaml:"vocabulary_id,omitempty"`
}

type Group struct {
	Name string `json:"name" yaml:"name"`
}

// Dataset mirrors the fields of an HDX (CKAN) package that this scraper
// sets. Fields tagged `yaml:"-"` cannot come from static metadata.
type Dataset struct {
	ID                  string  `json:"id,omitempty" yaml:"-"`
	Name                string  `json:"name" yaml:"name,omitempty"`
	Title               string  `json:"title" yaml:"title,omitempty"`
	Notes               string  `json:"notes,omitempty" yaml:"notes,omitempty"`
	Caveats             string  `json:"caveats,omitempty" yaml:"caveats,omitempty"`
	DatasetDate         string  `json:"dataset_date,omitempty" yaml:"-"`
	Tags                []Tag   `json:"tags,omitempty" yaml:"tags,omitempty"`
	LicenseID           string  `json:"license_id,omitempty" yaml:"license_id,omitempty"`
	LicenseOther        string  `json:"license_other,omitempty" yaml:"license_other,omitempty"`
	Methodology         string  `json:"methodology,omitempty" yaml:"methodology,omitempty"`
	MethodologyOther    string  `json:"methodology_other,omitempty" yaml:"methodology_other,omitempty"`
	DatasetSource       string  `json:"dataset_source,omitempty" yaml:"dataset_source,omitempty"`
	Groups              []Group `json:"groups,omitempty" yaml:"groups,omitempty"`
	PackageCreator      string  `json:"package_creator,omitempty" yaml:"package_creator,omitempty"`
	Private             bool    `json:"private" yaml:"private,omitempty"`
	Maintainer          string  `json:"maintainer,omitempty" yaml:"maintainer,omitempty"`
	OwnerOrg            string  `json:"owner_org,omitempty" yaml:"owner_org,omitempty"`
	DataUpdateFrequency string  `json:"data_update_frequency,omitempty" yaml:"data_update_frequency,omitempty"`
	Subnational         string  `json:"subnational,omitempty" yaml:"subnational,omitempty"`

	UpdatedByScript string     `json:"updated_by_script,omitempty" yaml:"-"`
	Batch           string     `json:"batch,omitempty" yaml:"-"`
	Resources       []Resource `json:"resources,omitempty" yaml:"-"`
}

func NewDataset(name, title string) *Dataset {
	return &Dataset{Name: name, Title: title}
}

// Slugify makes a CKAN compatible name out of a title.
func Slugify(s string) string {
	return slug.Make(s)
}

var iso3Regex = regexp.MustCompile(`^[A-Za-z]{3}$`)

// AddCountryLocation adds the country group for an ISO3 code.
func (d *Dataset) AddCountryLocation(iso3 string) error {
	iso3 = strings.TrimSpace(iso3)
	if !iso3Regex.MatchString(iso3) {
		return fmt.Errorf("invalid iso3 country code %q", iso3)
	}
	name := strings.ToLower(iso3)
	for _, g := range d.Groups {
		if g.Name == name {
			return nil
		}
	}
	d.Groups = append(d.Groups, Group{Name: name})
	return nil
}

// AddTags adds tags under the given vocabulary. When the vocabulary knows
// its approved tags, unapproved tags are not added and are returned.
func (d *Dataset) AddTags(tags []string, vocabulary Vocabulary) (rejected []string) {
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if !vocabulary.Approved(tag) {
			rejected = append(rejected, tag)
			continue
		}
		exists := slices.ContainsFunc(d.Tags, func(t Tag) bool {
			return t.Name == tag
		})
		if exists {
			continue
		}
		d.Tags = append(d.Tags, Tag{Name: tag, VocabularyID: vocabulary.ID})
	}
	return rejected
}

// SetTimePeriod sets dataset_date to whole days from start to end inclusive.
func (d *Dataset) SetTimePeriod(start, end time.Time) error {
	startDay := start.UTC().Format(time.DateOnly)
	endDay := end.UTC().Format(time.DateOnly)
	if endDay < startDay {
		return fmt.Errorf("time period end %s is before start %s", endDay, startDay)
	}
	d.DatasetDate = fmt.Sprintf("[%sT00:00:00 TO %sT23:59:59]", startDay, endDay)
	return nil
}

// TimePeriod parses dataset_date back into its start and end days.
func (d *Dataset) TimePeriod() (time.Time, time.Time, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(d.DatasetDate, "["), "]")
	startRaw, endRaw, found := strings.Cut(inner, " TO ")
	if !found {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed dataset date %q", d.DatasetDate)
	}
	start, err := time.Parse("2006-01-02T15:04:05", startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse("2006-01-02T15:04:05", endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// UpdateFromYAML merges static metadata from a yaml file, values present in
// the file override the dataset's.
func (d *Dataset) UpdateFromYAML(path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var static Dataset
	err = yaml.Unmarshal(contents, &static)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return mergo.Merge(d, static, mergo.WithOverride)
}

// Resources returns a copy of the dataset's resources.
func (d *Dataset) GetResources() []Resource {
	return slices.Clone(d.Resources)
}

var ErrNoRows = errors.New("no data rows")
