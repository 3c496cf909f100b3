package hdx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// base urls of the HDX environments
var Sites = map[string]string{
	"prod":    "https://data.humdata.org",
	"stage":   "https://stage.data-humdata-org.ahconu.org",
	"feature": "https://feature.data-humdata-org.ahconu.org",
	"demo":    "https://demo.data-humdata-org.ahconu.org",
}

// APIKeyEnv is checked before the key file.
const APIKeyEnv = "HDX_KEY"

// SiteUrl resolves a site name, anything that is not a known site name is
// treated as a url.
func SiteUrl(site string) (string, error) {
	if site == "" {
		site = "prod"
	}
	if u, ok := Sites[site]; ok {
		return u, nil
	}
	if strings.HasPrefix(site, "http://") || strings.HasPrefix(site, "https://") {
		return strings.TrimSuffix(site, "/"), nil
	}
	return "", fmt.Errorf("unknown hdx site %q", site)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// ReadAPIKey returns the HDX_KEY env var, or else the contents of `path`
// (usually ~/.hdxkey). A missing file yields an empty key.
func ReadAPIKey(path string) (string, error) {
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		return key, nil
	}
	if path == "" {
		return "", nil
	}
	path, err := expandHome(path)
	if err != nil {
		return "", err
	}
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(contents)), nil
}

type userAgentEntry struct {
	UserAgent string `yaml:"user_agent"`
	Preprefix string `yaml:"preprefix"`
}

// LoadUserAgent looks `lookup` up in a user agents yaml file
// (usually ~/.useragents.yaml) of the form
//
//	hdx-scraper-iati:
//	  preprefix: ORG
//	  user_agent: scraper
//
// and returns "ORG:scraper". Without a file or entry, `fallback` is used.
func LoadUserAgent(path, lookup, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	path, err := expandHome(path)
	if err != nil {
		return "", err
	}
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}

	var entries map[string]userAgentEntry
	err = yaml.Unmarshal(contents, &entries)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	entry, ok := entries[lookup]
	if !ok || entry.UserAgent == "" {
		return fallback, nil
	}
	if entry.Preprefix != "" {
		return entry.Preprefix + ":" + entry.UserAgent, nil
	}
	return entry.UserAgent, nil
}
