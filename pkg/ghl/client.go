// Package ghl provides a rate-limited client for the upstream CRM REST API.
// Each client owns one account's credentials; a migration holds two clients,
// one for the child (source) account and one for the master (target) account.
package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/resilience"
)

// DefaultBaseURL is the upstream REST endpoint.
const DefaultBaseURL = "https://rest.gohighlevel.com/v1"

// Client defines the upstream API operations used by the migration engine.
type Client interface {
	// ListCustomFields returns contact and opportunity custom field
	// definitions for the account.
	ListCustomFields(ctx context.Context) ([]model.CustomField, error)
	// CreateCustomField creates a field and returns its new ID.
	CreateCustomField(ctx context.Context, field model.CustomField) (string, error)
	// ListPipelines returns all pipelines with their stages.
	ListPipelines(ctx context.Context) ([]model.Pipeline, error)
	// CreateStage creates a stage in a pipeline and returns its new ID.
	CreateStage(ctx context.Context, pipelineID string, stage model.Stage) (string, error)
	// SearchContacts runs a fuzzy text search. Results are candidates only;
	// callers must verify matches locally.
	SearchContacts(ctx context.Context, query string, limit int) ([]model.Contact, error)
	// CreateContact creates a contact and returns its new ID.
	CreateContact(ctx context.Context, contact model.Contact) (string, error)
	// ContactsPager iterates the account's contacts in pages.
	ContactsPager(pageSize int) *Pager[model.Contact]
	// OpportunitiesPager iterates a pipeline's opportunities in pages.
	OpportunitiesPager(pipelineID string, pageSize int) *Pager[model.Opportunity]
	// CreateOpportunity creates an opportunity in a pipeline and returns its
	// new ID. Duplicate-opportunity rejections surface as a ValidationError
	// with Duplicate set.
	CreateOpportunity(ctx context.Context, pipelineID string, req OpportunityRequest) (string, error)
}

// OpportunityRequest is the create-opportunity payload. IDs reference the
// target account namespace.
type OpportunityRequest struct {
	Title         string             `json:"title"`
	Name          string             `json:"name,omitempty"`
	Status        string             `json:"status"`
	StageID       string             `json:"stageId"`
	ContactID     string             `json:"contactId"`
	MonetaryValue model.Money        `json:"monetaryValue"`
	AssignedTo    string             `json:"assignedTo,omitempty"`
	CompanyName   string             `json:"companyName,omitempty"`
	Source        string             `json:"source,omitempty"`
	Tags          []string           `json:"tags,omitempty"`
	CustomFields  []model.FieldValue `json:"customFields,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRequestRate sets the minimum spacing between requests. The default of
// 5 req/s keeps one migration worker under the upstream account limit.
func WithRequestRate(r rate.Limit, burst int) Option {
	return func(c *httpClient) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithRetryConfig overrides the 429 retry ladder (useful in tests to shrink
// the backoff delays).
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

// WithAccountLabel tags log lines with the account role ("child"/"master").
func WithAccountLabel(label string) Option {
	return func(c *httpClient) { c.account = label }
}

type httpClient struct {
	apiKey  string
	baseURL string
	account string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// New creates a client for one account, authenticated by bearer token.
func New(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		account: "account",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rateLimitedAttempt marks a 429 response inside the retry loop so the
// ladder keeps going; it converts to a RateLimitError on exhaustion.
type rateLimitedAttempt struct {
	method string
	path   string
}

func (e *rateLimitedAttempt) Error() string {
	return fmt.Sprintf("ghl: %s %s throttled (429)", e.method, e.path)
}

// request performs one API call with pacing, the 429 backoff ladder, a single
// immediate retry on 5xx, and error classification.
func (c *httpClient) request(ctx context.Context, method, path string, body any, params url.Values) (json.RawMessage, error) {
	cfg := c.retry
	cfg.ShouldRetry = func(err error) bool {
		var rl *rateLimitedAttempt
		return errors.As(err, &rl) || resilience.IsTransient(err)
	}
	cfg.OnRetry = resilience.RetryLogger(c.account, method+" "+path)

	attempts := 0
	raw, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (json.RawMessage, error) {
		attempts++
		return c.send(ctx, method, path, body, params)
	})
	if err != nil {
		var rl *rateLimitedAttempt
		if errors.As(err, &rl) {
			return nil, &RateLimitError{Method: method, Path: path, Attempts: attempts}
		}
		return nil, err
	}
	return raw, nil
}

// send performs a single paced HTTP exchange. 5xx responses get one
// immediate resend before the error propagates to the retry ladder.
func (c *httpClient) send(ctx context.Context, method, path string, body any, params url.Values) (json.RawMessage, error) {
	serverRetried := false

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ghl: rate limiter")
		}

		req, err := c.newRequest(ctx, method, path, body, params)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Network failure: retryable.
			return nil, resilience.NewTransientError(eris.Wrapf(err, "ghl: %s %s", method, path), 0)
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if readErr != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(readErr, "ghl: %s %s: read body", method, path), 0)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &rateLimitedAttempt{method: method, path: path}

		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			// Server-side trouble (5xx, 408): one immediate resend, then
			// propagate without further retries.
			if !serverRetried {
				serverRetried = true
				continue
			}
			return nil, eris.Errorf("ghl: %s %s: upstream error %d", method, path, resp.StatusCode)

		case resp.StatusCode >= 400:
			return nil, &ValidationError{
				StatusCode: resp.StatusCode,
				Method:     method,
				Path:       path,
				Message:    validationMessage(respBody),
				Duplicate:  duplicateOpportunityBody(respBody),
			}
		}

		if len(respBody) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return json.RawMessage(respBody), nil
	}
}

func (c *httpClient) newRequest(ctx context.Context, method, path string, body any, params url.Values) (*http.Request, error) {
	u := c.baseURL + "/" + trimLeadingSlash(path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, eris.Wrapf(err, "ghl: marshal %s %s body", method, path)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, eris.Wrapf(err, "ghl: build %s %s", method, path)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func trimLeadingSlash(path string) string {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return path
}
