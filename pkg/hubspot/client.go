// Package hubspot provides a typed client for the HubSpot CRM v3
// company-record operations used by the cleanse pipelines.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/crm-cleanse/internal/resilience"
)

// Default base URL for the HubSpot CRM API.
const defaultBaseURL = "https://api.hubapi.com"

// requestTimeout bounds every outbound call to the CRM.
const requestTimeout = 15 * time.Second

const companiesPath = "/crm/v3/objects/companies"

// Client defines the CRM company-record operations used by the pipelines.
type Client interface {
	// Search returns company records matching the filter groups. Groups are
	// OR-combined; filters within a group are AND-combined.
	Search(ctx context.Context, req SearchRequest) ([]Record, error)
	// Fetch returns the record with the given id, including the requested
	// properties. A missing record is reported via IsNotFound.
	Fetch(ctx context.Context, id string, properties []string) (*Record, error)
	// Exists reports whether a record with the given id exists. A 404 from
	// the store is not an error here.
	Exists(ctx context.Context, id string) (bool, error)
	// Update patches the given properties onto the record.
	Update(ctx context.Context, id string, properties map[string]string) error
	// Merge merges mergedID into primaryID; primaryID survives.
	Merge(ctx context.Context, primaryID, mergedID string) error
	// Archive soft-deletes the record.
	Archive(ctx context.Context, id string) error
}

// APIError is returned when the CRM responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hubspot: HTTP %d: %s", e.StatusCode, e.Body)
}

// TimeoutError is returned when a CRM call exceeds the request timeout.
// It is distinct from APIError so callers can tell a slow store from a
// rejecting one.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("hubspot: %s timed out after %s", e.Op, requestTimeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 from the CRM.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsTimeout reports whether err is a CRM request timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets a per-second rate limit for CRM calls. A burst equal
// to the integer portion of rps is allowed.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new HubSpot client authenticated with a private app
// access token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// readRetry is the retry policy for idempotent read operations. Writes are
// never retried automatically.
var readRetry = resilience.RetryConfig{
	MaxAttempts:    2,
	InitialBackoff: 250 * time.Millisecond,
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) ([]Record, error) {
	var resp searchResponse
	err := resilience.Do(ctx, readRetry, func(ctx context.Context) error {
		return c.post(ctx, companiesPath+"/search", req, &resp)
	})
	if err != nil {
		return nil, eris.Wrap(err, "hubspot: search companies")
	}
	return resp.Results, nil
}

func (c *httpClient) Fetch(ctx context.Context, id string, properties []string) (*Record, error) {
	path := companiesPath + "/" + url.PathEscape(id)
	if len(properties) > 0 {
		path += "?properties=" + url.QueryEscape(strings.Join(properties, ","))
	}

	var rec Record
	err := resilience.Do(ctx, readRetry, func(ctx context.Context) error {
		return c.get(ctx, path, &rec)
	})
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("hubspot: fetch company %s", id))
	}
	return &rec, nil
}

func (c *httpClient) Exists(ctx context.Context, id string) (bool, error) {
	var rec Record
	err := resilience.Do(ctx, readRetry, func(ctx context.Context) error {
		return c.get(ctx, companiesPath+"/"+url.PathEscape(id), &rec)
	})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, eris.Wrap(err, fmt.Sprintf("hubspot: check company %s", id))
	}
	return true, nil
}

func (c *httpClient) Update(ctx context.Context, id string, properties map[string]string) error {
	body := updateRequest{Properties: properties}
	if err := c.patch(ctx, companiesPath+"/"+url.PathEscape(id), body, nil); err != nil {
		return eris.Wrap(err, fmt.Sprintf("hubspot: update company %s", id))
	}
	return nil
}

func (c *httpClient) Merge(ctx context.Context, primaryID, mergedID string) error {
	body := mergeRequest{PrimaryObjectID: primaryID, ObjectIDToMerge: mergedID}
	if err := c.post(ctx, companiesPath+"/merge", body, nil); err != nil {
		return eris.Wrap(err, fmt.Sprintf("hubspot: merge %s into %s", mergedID, primaryID))
	}
	return nil
}

func (c *httpClient) Archive(ctx context.Context, id string) error {
	if err := c.delete(ctx, companiesPath+"/"+url.PathEscape(id)); err != nil {
		return eris.Wrap(err, fmt.Sprintf("hubspot: archive company %s", id))
	}
	return nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	return c.send(ctx, http.MethodPost, path, body, out)
}

func (c *httpClient) patch(ctx context.Context, path string, body any, out any) error {
	return c.send(ctx, http.MethodPatch, path, body, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	return c.send(ctx, http.MethodGet, path, nil, out)
}

func (c *httpClient) delete(ctx context.Context, path string) error {
	return c.send(ctx, http.MethodDelete, path, nil, nil)
}

func (c *httpClient) send(ctx context.Context, method, path string, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit")
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			return &TimeoutError{Op: method + " " + path, Err: err}
		}
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
