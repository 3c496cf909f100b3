package configutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	BaseUrl string            `json:"base_url" validate:"required,url"`
	Workers int               `json:"workers" validate:"min=1"`
	Tags    []string          `json:"tags"`
	HxlTags map[string]string `json:"hxl_tags"`
	Nested  struct {
		Site string `json:"site" validate:"oneof=prod stage"`
	} `json:"nested"`
}

func TestLocalPath(t *testing.T) {
	require.Equal(t, filepath.Join("config", "project.local.json5"), LocalPath("config/project.json5"))
	require.Equal(t, filepath.Join("config", "project.local"), LocalPath("config/project"))
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "project.json5")

	_, err := ReadConfig[testConfig](name)
	require.True(t, os.IsNotExist(err))

	err = os.WriteFile(name, []byte(`{
		// comments are allowed
		base_url: "https://d-portal.org/q",
		workers: 2,
		tags: ["funding"],
	}`), 0600)
	require.NoError(t, err)

	cfg, err := ReadConfig[testConfig](name)
	require.NoError(t, err)
	require.Equal(t, "https://d-portal.org/q", cfg.BaseUrl)
	require.Equal(t, 2, cfg.Workers)

	err = os.WriteFile(LocalPath(name), []byte(`{workers: 8}`), 0600)
	require.NoError(t, err)

	cfg, err = ReadConfig[testConfig](name)
	require.NoError(t, err)
	require.Equal(t, "https://d-portal.org/q", cfg.BaseUrl)
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, []string{"funding"}, cfg.Tags)
}

func TestValidate(t *testing.T) {
	cfg := testConfig{BaseUrl: "not a url", Workers: 0}
	cfg.Nested.Site = "prod"

	err := Validate(cfg)
	require.Error(t, err)

	var valErr ValidationError
	require.True(t, errors.As(err, &valErr))
	require.Equal(t, map[string]string{
		"base_url": "must be a valid url",
		"workers":  "must be at least 1",
	}, valErr.Fields)
	require.Equal(t, "invalid config: base_url: must be a valid url; workers: must be at least 1", err.Error())

	cfg.BaseUrl = "https://d-portal.org/q"
	cfg.Workers = 1
	cfg.Nested.Site = "moon"
	err = Validate(cfg)
	require.True(t, errors.As(err, &valErr))
	require.Equal(t, "must be one of [prod stage]", valErr.Fields["nested.site"])
}
