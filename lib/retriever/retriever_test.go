package retriever

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, hits *int64) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		switch r.URL.Path {
		case "/countries.json":
			w.Write([]byte(`{"data": [{"iso2": "AF"}, {"iso2": "KE"}]}`))
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte("aid,title\n"))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDownloadSave(t *testing.T) {
	var hits int64
	server := newServer(t, &hits)
	saved := filepath.Join(t.TempDir(), "saved_data")

	r, err := New(Options{SavedDir: saved, TempDir: t.TempDir(), Save: true})
	require.NoError(t, err)

	text, err := r.DownloadText(context.Background(), server.URL+"/q", "iati-activities-af.csv")
	require.NoError(t, err)
	require.Equal(t, "aid,title\n", text)

	contents, err := os.ReadFile(filepath.Join(saved, "iati-activities-af.csv"))
	require.NoError(t, err)
	require.Equal(t, "aid,title\n", string(contents))

	replay, err := New(Options{SavedDir: saved, UseSaved: true})
	require.NoError(t, err)
	text, err = replay.DownloadText(context.Background(), server.URL+"/q", "iati-activities-af.csv")
	require.NoError(t, err)
	require.Equal(t, "aid,title\n", text)
	require.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestDownloadTemp(t *testing.T) {
	var hits int64
	server := newServer(t, &hits)
	temp := t.TempDir()

	r, err := New(Options{SavedDir: filepath.Join(t.TempDir(), "unused"), TempDir: temp})
	require.NoError(t, err)

	path, err := r.DownloadFile(context.Background(), server.URL+"/q", "../escape.csv")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(temp, "escape.csv"), path)
}

func TestDownloadJSON(t *testing.T) {
	var hits int64
	server := newServer(t, &hits)

	r, err := New(Options{TempDir: t.TempDir()})
	require.NoError(t, err)

	var out struct {
		Data []struct {
			Iso2 string `json:"iso2"`
		} `json:"data"`
	}
	err = r.DownloadJSON(context.Background(), server.URL+"/countries.json", "countries.json", &out)
	require.NoError(t, err)
	require.Len(t, out.Data, 2)
	require.Equal(t, "KE", out.Data[1].Iso2)
}

func TestUseSavedMissing(t *testing.T) {
	r, err := New(Options{SavedDir: t.TempDir(), UseSaved: true})
	require.NoError(t, err)

	_, err = r.DownloadText(context.Background(), "http://unused.invalid", "missing.csv")
	require.True(t, errors.Is(err, ErrNotSaved))
}

func TestFallback(t *testing.T) {
	var hits int64
	server := newServer(t, &hits)
	fallback := t.TempDir()
	err := os.WriteFile(filepath.Join(fallback, "data.csv"), []byte("from fallback"), 0644)
	require.NoError(t, err)

	r, err := New(Options{TempDir: t.TempDir(), FallbackDir: fallback})
	require.NoError(t, err)

	_, err = r.DownloadText(context.Background(), server.URL+"/broken", "data.csv")
	require.Error(t, err)

	text, err := r.DownloadText(context.Background(), server.URL+"/broken", "data.csv", WithFallback())
	require.NoError(t, err)
	require.Equal(t, "from fallback", text)
}

func TestSaveAndUseSavedExclusive(t *testing.T) {
	_, err := New(Options{Save: true, UseSaved: true})
	require.Error(t, err)
}
