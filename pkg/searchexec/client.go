// Package searchexec is the HTTP client for the external search executor
// that discovers candidate business sites.
package searchexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout-cli/internal/resilience"
)

// Executor status values reported for a submitted query.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Client defines the search executor API operations.
type Client interface {
	SubmitQuery(ctx context.Context, req QueryRequest) (*SubmitResponse, error)
	GetStatus(ctx context.Context, handle string, cursor int) (*StatusResponse, error)
}

// QueryRequest is the body for POST /queries: the expansion of a discovery
// profile into keywords x locations x source types plus exclusion rules.
type QueryRequest struct {
	Keywords           []string `json:"keywords"`
	Locations          []string `json:"locations,omitempty"`
	SourceTypes        []string `json:"sourceTypes,omitempty"`
	RadiusKM           float64  `json:"radiusKm,omitempty"`
	MaxResultsPerQuery int      `json:"maxResultsPerQuery,omitempty"`
	ExcludedDomains    []string `json:"excludedDomains,omitempty"`
	ExcludedKeywords   []string `json:"excludedKeywords,omitempty"`
	RequiredKeywords   []string `json:"requiredKeywords,omitempty"`
	MustHaveWebsite    bool     `json:"mustHaveWebsite,omitempty"`
}

// SubmitResponse is the response from POST /queries.
type SubmitResponse struct {
	Success bool   `json:"success"`
	Handle  string `json:"id"`
}

// CandidateRow is one discovered site with its executor-computed match
// score.
type CandidateRow struct {
	Domain      string `json:"domain"`
	URL         string `json:"url"`
	CompanyName string `json:"companyName"`
	SourceType  string `json:"sourceType"`
	Location    string `json:"location,omitempty"`
	Score       int    `json:"score"`
}

// SourceTypeStats is the executor's per-source-type accounting.
type SourceTypeStats struct {
	QueriesIssued int `json:"queriesIssued"`
	RawResults    int `json:"rawResults"`
}

// StatusResponse is the response from GET /queries/{handle}. Rows contains
// results after the requested cursor; NextCursor is the offset to request
// next time.
type StatusResponse struct {
	Status     string                     `json:"status"`
	Rows       []CandidateRow             `json:"rows,omitempty"`
	NextCursor int                        `json:"nextCursor"`
	Stats      map[string]SourceTypeStats `json:"stats,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// APIError is returned when the executor responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("searchexec: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRetry overrides the retry policy for individual requests.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	baseURL string
	apiKey  string
	retry   resilience.RetryConfig
	http    *http.Client
}

// NewClient creates a search executor client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		retry:   resilience.DefaultRetryConfig(),
		http: &http.Client{
			Timeout: 30 * time.Second,
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

func (c *httpClient) SubmitQuery(ctx context.Context, req QueryRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.post(ctx, "/queries", req, &resp); err != nil {
		return nil, eris.Wrap(err, "searchexec: submit query")
	}
	return &resp, nil
}

func (c *httpClient) GetStatus(ctx context.Context, handle string, cursor int) (*StatusResponse, error) {
	var resp StatusResponse
	path := fmt.Sprintf("/queries/%s?cursor=%d", handle, cursor)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("searchexec: get status %s", handle))
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}
	return c.do(ctx, http.MethodPost, path, buf, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do sends the request, retrying 429/5xx responses and network failures.
// The request is rebuilt per attempt so the body reader is fresh.
func (c *httpClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

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

		if err := json.Unmarshal(data, out); err != nil {
			return eris.Wrap(err, "decode response")
		}
		return nil
	})
}
