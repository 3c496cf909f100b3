package iati

import (
	"hdx-scraper-iati/lib/notify"
	"hdx-scraper-iati/lib/runstore"
)

type ResourceConfig struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
}

type HdxConfig struct {
	// prod, stage, feature, demo or a url
	Site string `json:"site"`
	// file holding the api key, HDX_KEY takes precedence
	KeyFile string `json:"key_file"`
	// yaml file of user agents keyed by UserAgentLookup
	UserAgentFile   string `json:"user_agent_file"`
	UserAgentLookup string `json:"user_agent_lookup"`
	UserAgent       string `json:"user_agent"`
	// used when the approved vocabulary cannot be fetched from the site
	VocabularyID   string `json:"vocabulary_id"`
	StaticMetadata string `json:"static_metadata" validate:"required"`
}

type Config struct {
	BaseUrl         string `json:"base_url" validate:"required,url"`
	CountriesUrl    string `json:"countries_url" validate:"required,url"`
	DayEndThreshold int    `json:"day_end_threshold" validate:"min=0"`

	Title      string            `json:"title" validate:"required"`
	Activities ResourceConfig    `json:"activities"`
	Locations  ResourceConfig    `json:"locations"`
	Tags       []string          `json:"tags" validate:"required,min=1"`
	HxlTags    map[string]string `json:"hxl_tags"`

	SavedDir    string `json:"saved_dir"`
	FallbackDir string `json:"fallback_dir"`
	Workers     int    `json:"workers" validate:"min=0,max=32"`

	Hdx      HdxConfig         `json:"hdx"`
	Database runstore.Config   `json:"database"`
	Email    notify.SmtpConfig `json:"email"`
}
