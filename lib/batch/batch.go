// Package batch groups every dataset update of one scraper run under a
// shared working folder and batch id.
package batch

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// WhereToStartEnv names the env var that resumes a run from a given key.
const WhereToStartEnv = "WHERETOSTART"

type Info struct {
	Folder string
	Batch  string

	whereToStart string
	started      bool
}

// Start creates (or reuses) `folder` under the system temp directory and
// generates a new batch id. `whereToStart` overrides the WHERETOSTART env var.
func Start(folder, whereToStart string) (*Info, error) {
	dir := filepath.Join(os.TempDir(), folder)
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return nil, err
	}

	if whereToStart == "" {
		whereToStart = os.Getenv(WhereToStartEnv)
	}
	whereToStart = strings.TrimSpace(whereToStart)
	if strings.EqualFold(whereToStart, "RESET") {
		whereToStart = ""
	}
	if whereToStart != "" {
		slog.Info("resuming run", "where_to_start", whereToStart)
	}

	return &Info{
		Folder:       dir,
		Batch:        uuid.NewString(),
		whereToStart: whereToStart,
		started:      whereToStart == "",
	}, nil
}

// ShouldSkip reports whether `key` comes before the where-to-start key.
// Keys are compared case insensitively and must be fed in run order.
func (i *Info) ShouldSkip(key string) bool {
	if i.started {
		return false
	}
	if strings.EqualFold(key, i.whereToStart) {
		i.started = true
		return false
	}
	return true
}

// Resolve checks that the where-to-start key is one of `keys`, if it isn't
// skipping is disabled so a typo does not silently skip the whole run.
func (i *Info) Resolve(keys []string) {
	if i.started {
		return
	}
	for _, k := range keys {
		if strings.EqualFold(k, i.whereToStart) {
			return
		}
	}
	slog.Warn("where to start key not found, processing everything", "where_to_start", i.whereToStart)
	i.started = true
}

func (i *Info) Cleanup() error {
	return os.RemoveAll(i.Folder)
}
