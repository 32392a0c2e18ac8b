// Package fetch retrieves the full event catalog from the event API.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	appLog "eventscope/internal/log"
	"eventscope/internal/model"
)

// CatalogPath is appended to the configured base URL.
const CatalogPath = "/api/events/all"

const defaultTimeout = 30 * time.Second

// Fetcher is the external fetch collaborator: one round trip, one snapshot.
type Fetcher interface {
	FetchCatalog(ctx context.Context) (*model.CatalogSnapshot, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (*model.CatalogSnapshot, error)

func (f FetcherFunc) FetchCatalog(ctx context.Context) (*model.CatalogSnapshot, error) {
	return f(ctx)
}

// Kind classifies fetch failures.
type Kind string

const (
	// KindNetwork: transport error, timeout, or the API rejected the request
	// with a non-2xx status.
	KindNetwork Kind = "network"
	// KindMalformed: the body does not parse or does not have the catalog shape.
	KindMalformed Kind = "malformed"
)

// Error is returned for every failed fetch.
type Error struct {
	Kind       Kind
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch events (%s, HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch events (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNetwork reports whether err is a NetworkFailure.
func IsNetwork(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindNetwork
}

// IsMalformed reports whether err is a MalformedResponse.
func IsMalformed(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindMalformed
}

// HTTPClient fetches the catalog over HTTP. Requests are never retried;
// recovery is a new session.
type HTTPClient struct {
	baseURL string
	client  *resty.Client
}

// NewHTTPClient targets baseURL (e.g. "http://localhost:5000"). A zero
// timeout selects the 30s default.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL = strings.TrimRight(baseURL, "/")
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "eventscope/1")
	return &HTTPClient{baseURL: baseURL, client: c}
}

// URL returns the full catalog endpoint.
func (c *HTTPClient) URL() string {
	return c.baseURL + CatalogPath
}

func (c *HTTPClient) FetchCatalog(ctx context.Context) (*model.CatalogSnapshot, error) {
	appLog.Info("events fetch start", "url", redactURL(c.URL()))

	resp, err := c.client.R().
		SetContext(ctx).
		Get(CatalogPath)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &Error{Kind: KindNetwork, StatusCode: resp.StatusCode(), Err: errors.New(statusMessage(resp))}
	}

	snapshot, err := Decode(resp.Body())
	if err != nil {
		return nil, &Error{Kind: KindMalformed, StatusCode: resp.StatusCode(), Err: err}
	}

	appLog.Info("events fetch success",
		"url", redactURL(c.URL()),
		"status", resp.StatusCode(),
		"categories", len(snapshot.CategoryGroups),
		"events", snapshot.TotalEvents(),
		"duration", resp.Time().Round(time.Millisecond),
	)
	if mm := snapshot.CountMismatches(); len(mm) > 0 {
		appLog.Debug("catalog count invariant violated", "mismatches", len(mm), "first", mm[0].Category)
	}
	return snapshot, nil
}

// Decode parses a catalog body and checks the minimal shape contract:
// a JSON object with a category_groups object and no "success": false.
func Decode(body []byte) (*model.CatalogSnapshot, error) {
	var envelope struct {
		Success        *bool           `json:"success"`
		Error          string          `json:"error"`
		CategoryGroups json.RawMessage `json:"category_groups"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if envelope.Success != nil && !*envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = "unspecified error"
		}
		return nil, fmt.Errorf("api reported failure: %s", msg)
	}
	if len(envelope.CategoryGroups) == 0 || string(envelope.CategoryGroups) == "null" {
		return nil, errors.New("response has no category_groups")
	}

	var snapshot model.CatalogSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if snapshot.CategoryCounts == nil {
		snapshot.CategoryCounts = map[model.Category]int{}
	}
	return &snapshot, nil
}

func statusMessage(resp *resty.Response) string {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(resp.Body(), &errResp) == nil && errResp.Error != "" {
		return errResp.Error
	}
	return resp.Status()
}

// redactURL drops credentials and query strings before logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(unparseable url)"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
