// Package metering talks to the external credit-ledger service that gates
// and records pipeline usage.
package metering

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-cleanse/internal/resilience"
)

// MeterKey identifies a billable pipeline on the ledger.
const (
	MeterMerge = "company_merge"
	MeterClean = "company_clean"
	MeterPurge = "company_purge"
)

// Access is the ledger's answer to a pre-flight credit check.
type Access struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

// Key describes a validated API key.
type Key struct {
	UserID string `json:"userId"`
	Valid  bool   `json:"valid"`
}

// Client defines the ledger operations the server consults around each
// pipeline run.
type Client interface {
	// ValidateKey resolves an API key to its owning user.
	ValidateKey(ctx context.Context, apiKey string) (*Key, error)
	// CheckAccess reports whether the user has credit left on the meter.
	CheckAccess(ctx context.Context, userID, meterKey string) (*Access, error)
	// TrackUsage deducts amount units from the user's meter.
	TrackUsage(ctx context.Context, userID, meterKey string, amount int) error
}

// APIError is returned when the ledger responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("metering: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the ledger base URL.
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

type httpClient struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient creates a ledger client authenticated with a service secret.
func NewClient(baseURL, secret string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		secret:  secret,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) ValidateKey(ctx context.Context, apiKey string) (*Key, error) {
	var key Key
	body := map[string]string{"apiKey": apiKey}
	if err := c.post(ctx, "/v1/keys/validate", body, &key); err != nil {
		return nil, eris.Wrap(err, "metering: validate key")
	}
	return &key, nil
}

func (c *httpClient) CheckAccess(ctx context.Context, userID, meterKey string) (*Access, error) {
	var access Access
	body := map[string]string{"userId": userID, "meterKey": meterKey}
	if err := c.post(ctx, "/v1/access/check", body, &access); err != nil {
		return nil, eris.Wrap(err, "metering: check access")
	}
	return &access, nil
}

// trackRetry retries usage tracking so transient ledger hiccups do not lose
// billable events. Tracking is additive on the ledger side, so a duplicate
// delivery after an ambiguous failure over-charges rather than under-charges.
var trackRetry = resilience.RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
}

func (c *httpClient) TrackUsage(ctx context.Context, userID, meterKey string, amount int) error {
	body := map[string]any{"userId": userID, "meterKey": meterKey, "amount": amount}
	err := resilience.Do(ctx, trackRetry, func(ctx context.Context) error {
		return c.post(ctx, "/v1/usage/track", body, nil)
	})
	if err != nil {
		return eris.Wrap(err, "metering: track usage")
	}
	return nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
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
