package hdx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	"hdx-scraper-iati/lib/restyutil"
	"hdx-scraper-iati/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("hdx-scraper-iati/lib/hdx")

var (
	ErrNotFound = errors.New("not found")
	ErrReadOnly = errors.New("hdx client is read only")
)

// actions that can be called by a read only client
var readActions = map[string]bool{
	"package_show":    true,
	"vocabulary_show": true,
	"site_read":       true,
}

// APIError is an unsuccessful CKAN action response.
type APIError struct {
	Action  string
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hdx %s: %s (%d): %s", e.Action, e.Type, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound || e.Type == "Not Found Error" {
		return ErrNotFound
	}
	return nil
}

type ClientOptions struct {
	// site name (prod, stage, ...) or url
	Site      string
	APIKey    string
	UserAgent string
	ReadOnly  bool
	Timeout   time.Duration
	// dumps full http messages when debug logging is enabled
	InstrumentOutput restyutil.InstrumentOutput
}

// Client calls the CKAN action api of an HDX site.
type Client struct {
	http     *resty.Client
	siteUrl  string
	readOnly bool
}

// shouldRetry retries failed read actions only. A write that failed with a
// 5xx may still have been committed, so repeating it can create duplicates.
func shouldRetry(res *resty.Response, err error) bool {
	if res == nil || res.Request == nil {
		return false
	}
	action := path.Base(strings.TrimSuffix(res.Request.URL, "/"))
	if !readActions[action] {
		return false
	}
	return err != nil || res.StatusCode() >= 500
}

func NewClient(opts ClientOptions) (*Client, error) {
	siteUrl, err := SiteUrl(opts.Site)
	if err != nil {
		return nil, err
	}
	if !opts.ReadOnly && opts.APIKey == "" {
		return nil, fmt.Errorf("an hdx api key is required unless read only")
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Minute * 5
	}

	client := resty.New()
	client.SetBaseURL(siteUrl)
	client.SetTimeout(opts.Timeout)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(time.Second * 2)
	client.AddRetryCondition(shouldRetry)
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.APIKey != "" {
		client.SetHeader("Authorization", opts.APIKey)
	}
	restyutil.InstrumentClient(client, tracer, opts.InstrumentOutput)

	return &Client{
		http:     client,
		siteUrl:  siteUrl,
		readOnly: opts.ReadOnly,
	}, nil
}

func (c *Client) SiteUrl() string {
	return c.siteUrl
}

func (c *Client) ReadOnly() bool {
	return c.readOnly
}

type actionResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   map[string]any  `json:"error"`
}

func parseActionError(action string, status int, fields map[string]any) *APIError {
	apiErr := &APIError{Action: action, Status: status}
	if t, ok := fields["__type"].(string); ok {
		apiErr.Type = t
	}
	if m, ok := fields["message"].(string); ok {
		apiErr.Message = m
		return apiErr
	}

	// validation errors come as {"field": ["problem", ...]}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "__type" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, fields[k]))
	}
	apiErr.Message = strings.Join(parts, "; ")
	return apiErr
}

func (c *Client) checkWrite(action string) error {
	if c.readOnly && !readActions[action] {
		return fmt.Errorf("%s: %w", action, ErrReadOnly)
	}
	return nil
}

func (c *Client) decode(action string, res *resty.Response, out any) error {
	var body actionResponse
	err := json.Unmarshal(res.Body(), &body)
	if err != nil {
		return &APIError{
			Action:  action,
			Status:  res.StatusCode(),
			Type:    "Invalid Response",
			Message: err.Error(),
		}
	}
	if !body.Success || res.IsError() {
		return parseActionError(action, res.StatusCode(), body.Error)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body.Result, out)
}

// action calls a CKAN action with a json body.
func (c *Client) action(ctx context.Context, action string, payload any, out any) error {
	ctx, span := tracer.Start(ctx, "hdx:"+action)
	defer span.End()

	err := c.checkWrite(action)
	if err != nil {
		span.SetStatus(codes.Error, "read only")
		return err
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post("/api/action/" + action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("hdx %s: %w", action, err)
	}

	err = c.decode(action, res, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "action failed")
		return err
	}
	return nil
}

// upload calls a resource action with the resource file as multipart data.
func (c *Client) upload(ctx context.Context, action string, resource Resource) (Resource, error) {
	ctx, span := tracer.Start(ctx, "hdx:"+action)
	defer span.End()
	span.SetAttributes(attribute.String("hdx.resource", resource.Name))

	err := c.checkWrite(action)
	if err != nil {
		span.SetStatus(codes.Error, "read only")
		return Resource{}, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(resource.formData())
	if resource.FilePath != "" {
		req.SetFile("upload", resource.FilePath)
	}
	res, err := req.Post("/api/action/" + action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return Resource{}, fmt.Errorf("hdx %s: %w", action, err)
	}

	var out Resource
	err = c.decode(action, res, &out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "action failed")
		return Resource{}, err
	}
	out.FilePath = resource.FilePath
	return out, nil
}

// PackageShow fetches a dataset by name or id, ErrNotFound if there is none.
func (c *Client) PackageShow(ctx context.Context, id string) (*Dataset, error) {
	var out Dataset
	err := c.action(ctx, "package_show", map[string]string{"id": id}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Vocabulary is a CKAN tag vocabulary.
type Vocabulary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tags []Tag  `json:"tags"`
}

// Approved reports whether a tag belongs to the vocabulary, a vocabulary
// without tags approves everything.
func (v Vocabulary) Approved(tag string) bool {
	if len(v.Tags) == 0 {
		return true
	}
	return slices.ContainsFunc(v.Tags, func(t Tag) bool {
		return t.Name == tag
	})
}

// ApprovedVocabularyName is the vocabulary HDX accepts dataset tags from.
const ApprovedVocabularyName = "Topics"

func (c *Client) ApprovedVocabulary(ctx context.Context) (Vocabulary, error) {
	var out Vocabulary
	err := c.action(ctx, "vocabulary_show", map[string]string{"id": ApprovedVocabularyName}, &out)
	return out, err
}
