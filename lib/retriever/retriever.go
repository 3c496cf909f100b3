// Package retriever downloads source files while optionally saving them for
// later offline runs, replaying previously saved copies, or falling back to
// a local copy when the source is unavailable.
package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"hdx-scraper-iati/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("hdx-scraper-iati/lib/retriever")

// ErrNotSaved is returned in use-saved mode when no saved copy exists.
var ErrNotSaved = errors.New("no saved copy of file")

type Options struct {
	Client *resty.Client
	// directory downloads are saved to with Save, and read from with UseSaved
	SavedDir string
	// directory downloads are written to otherwise
	TempDir string
	// directory holding copies used by WithFallback
	FallbackDir string
	Save        bool
	UseSaved    bool
}

type Retriever struct {
	client      *resty.Client
	savedDir    string
	tempDir     string
	fallbackDir string
	save        bool
	useSaved    bool
}

func New(opts Options) (*Retriever, error) {
	if opts.Save && opts.UseSaved {
		return nil, fmt.Errorf("save and use saved are mutually exclusive")
	}
	if opts.Client == nil {
		opts.Client = resty.New()
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Save {
		err := os.MkdirAll(opts.SavedDir, 0777)
		if err != nil {
			return nil, err
		}
	}
	return &Retriever{
		client:      opts.Client,
		savedDir:    opts.SavedDir,
		tempDir:     opts.TempDir,
		fallbackDir: opts.FallbackDir,
		save:        opts.Save,
		useSaved:    opts.UseSaved,
	}, nil
}

type downloadOptions struct {
	fallback  bool
	logString string
}

type DownloadOption func(o *downloadOptions)

// WithFallback reads the file from the fallback directory if downloading fails.
func WithFallback() DownloadOption {
	return func(o *downloadOptions) {
		o.fallback = true
	}
}

// WithLogString sets the label used when logging the download.
func WithLogString(s string) DownloadOption {
	return func(o *downloadOptions) {
		o.logString = s
	}
}

func (r *Retriever) download(ctx context.Context, url, filename string, opts []DownloadOption) ([]byte, string, error) {
	ctx, span := tracer.Start(ctx, "retriever:download")
	defer span.End()

	filename = filepath.Base(filename)
	o := downloadOptions{logString: filename}
	for _, opt := range opts {
		opt(&o)
	}
	span.SetAttributes(
		attribute.String("retriever.url", url),
		attribute.String("retriever.filename", filename),
	)

	if r.useSaved {
		path := filepath.Join(r.savedDir, filename)
		contents, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			span.SetStatus(codes.Error, "saved file missing")
			return nil, "", fmt.Errorf("%w: %s", ErrNotSaved, path)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read saved file")
			return nil, "", err
		}
		slog.InfoContext(ctx, "using saved file", "what", o.logString, "path", path)
		return contents, path, nil
	}

	slog.InfoContext(ctx, "downloading", "what", o.logString, "url", url)
	contents, err := r.fetch(ctx, url)
	if err != nil {
		if !o.fallback || r.fallbackDir == "" {
			span.RecordError(err)
			span.SetStatus(codes.Error, "download failed")
			return nil, "", err
		}
		path := filepath.Join(r.fallbackDir, filename)
		slog.WarnContext(ctx, "download failed, using fallback", "what", o.logString, "path", path, "err", err)
		contents, ferr := os.ReadFile(path)
		if ferr != nil {
			span.RecordError(ferr)
			span.SetStatus(codes.Error, "fallback failed")
			return nil, "", errors.Join(err, ferr)
		}
		return contents, path, nil
	}

	dir := r.tempDir
	if r.save {
		dir = r.savedDir
	}
	path := filepath.Join(dir, filename)
	err = os.WriteFile(path, contents, 0644)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write download")
		return nil, "", err
	}

	return contents, path, nil
}

func (r *Retriever) fetch(ctx context.Context, url string) ([]byte, error) {
	res, err := r.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("download %s: unexpected status %s", url, res.Status())
	}
	return res.Body(), nil
}

// DownloadFile downloads `url` to a file called `filename` and returns its path.
func (r *Retriever) DownloadFile(ctx context.Context, url, filename string, opts ...DownloadOption) (string, error) {
	_, path, err := r.download(ctx, url, filename, opts)
	return path, err
}

func (r *Retriever) DownloadText(ctx context.Context, url, filename string, opts ...DownloadOption) (string, error) {
	contents, _, err := r.download(ctx, url, filename, opts)
	if err != nil {
		return "", err
	}
	return string(contents), nil
}

func (r *Retriever) DownloadJSON(ctx context.Context, url, filename string, out any, opts ...DownloadOption) error {
	contents, path, err := r.download(ctx, url, filename, opts)
	if err != nil {
		return err
	}
	err = json.Unmarshal(contents, out)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
