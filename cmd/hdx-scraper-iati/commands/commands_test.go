package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"hdx-scraper-iati/services/iati"

	"github.com/stretchr/testify/require"
)

func TestCommandsResolve(t *testing.T) {
	for _, name := range []string{"run", "countries", "history", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		require.Equal(t, name, cmd.Name())
		require.NotNil(t, cmd.Run, name)
	}

	flags := runCmd.Flags()
	for _, name := range []string{"save", "use-saved", "dry-run", "countries", "where-to-start", "workers"} {
		require.NotNil(t, flags.Lookup(name), name)
	}
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	require.NotEmpty(t, strings.TrimSpace(out.String()))
}

func TestClientsShareUserAgent(t *testing.T) {
	t.Setenv("HDX_KEY", "secret")

	var lock sync.Mutex
	agents := map[string]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lock.Lock()
		agents[r.URL.Path] = r.Header.Get("User-Agent")
		lock.Unlock()
		if strings.HasPrefix(r.URL.Path, "/api/action/") {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success": true, "result": {"id": "pkg-1", "name": "iati-afg"}}`))
			return
		}
		w.Write([]byte("aid,title\n"))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), ".useragents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"hdx-scraper-iati:\n  preprefix: HDXINTERNAL\n  user_agent: iati\n",
	), 0644))

	config := iati.Config{Hdx: iati.HdxConfig{
		Site:            server.URL,
		UserAgentFile:   path,
		UserAgentLookup: "hdx-scraper-iati",
		UserAgent:       "fallback",
	}}
	userAgent, err := resolveUserAgent(config)
	require.NoError(t, err)
	require.Equal(t, "HDXINTERNAL:iati", userAgent)

	_, err = newHTTPClient(userAgent, nil).R().Get(server.URL + "/q")
	require.NoError(t, err)

	hdxClient, err := newHdxClient(config, userAgent, false, nil)
	require.NoError(t, err)
	_, err = hdxClient.PackageShow(context.Background(), "iati-afg")
	require.NoError(t, err)

	require.Equal(t, map[string]string{
		"/q":                       "HDXINTERNAL:iati",
		"/api/action/package_show": "HDXINTERNAL:iati",
	}, agents)
}
