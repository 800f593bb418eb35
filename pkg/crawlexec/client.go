// Package crawlexec is the HTTP client for the external crawl executor
// that scrapes a fixed set of sites and extracts contact data.
package crawlexec

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

// Executor status values reported for a submitted job.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Client defines the crawl executor API operations.
type Client interface {
	SubmitJob(ctx context.Context, req JobRequest) (*SubmitResponse, error)
	GetStatus(ctx context.Context, handle string, cursor int) (*StatusResponse, error)
	Cancel(ctx context.Context, handle string) error
}

// Target is one site in a job's crawl set.
type Target struct {
	Domain string `json:"domain"`
	URL    string `json:"url"`
}

// ProfileSpec carries the crawl parameters for a job. ScoringRules and
// Selectors are opaque documents interpreted only by the executor.
type ProfileSpec struct {
	MaxPagesPerSite int             `json:"maxPagesPerSite,omitempty"`
	MaxDepth        int             `json:"maxDepth,omitempty"`
	Concurrency     int             `json:"concurrency,omitempty"`
	RequestDelayMS  int             `json:"requestDelayMs,omitempty"`
	FollowLinks     bool            `json:"followLinks,omitempty"`
	RespectRobots   bool            `json:"respectRobots,omitempty"`
	UserAgent       string          `json:"userAgent,omitempty"`
	PathAllowlist   []string        `json:"pathAllowlist,omitempty"`
	ExtractFields   []string        `json:"extractFields,omitempty"`
	Keywords        []string        `json:"keywords,omitempty"`
	ScoringRules    json.RawMessage `json:"scoringRules,omitempty"`
	Selectors       json.RawMessage `json:"selectors,omitempty"`
}

// JobRequest is the body for POST /jobs.
type JobRequest struct {
	Targets []Target    `json:"targets"`
	Profile ProfileSpec `json:"profile"`
}

// SubmitResponse is the response from POST /jobs.
type SubmitResponse struct {
	Success bool   `json:"success"`
	Handle  string `json:"id"`
}

// LeadRow is one extracted contact record.
type LeadRow struct {
	CompanyName string   `json:"companyName"`
	Website     string   `json:"website"`
	Emails      []string `json:"emails,omitempty"`
	Phones      []string `json:"phones,omitempty"`
	Country     string   `json:"country,omitempty"`
	Score       int      `json:"score"`
}

// Progress is the executor's absolute progress accounting for a job.
type Progress struct {
	SitesScraped   int      `json:"sitesScraped"`
	SitesSkipped   int      `json:"sitesSkipped"`
	PagesScraped   int      `json:"pagesScraped"`
	PagesFailed    int      `json:"pagesFailed"`
	ScrapedDomains []string `json:"scrapedDomains,omitempty"`
}

// StatusResponse is the response from GET /jobs/{handle}. Rows contains
// leads after the requested cursor.
type StatusResponse struct {
	Status     string    `json:"status"`
	Rows       []LeadRow `json:"rows,omitempty"`
	NextCursor int       `json:"nextCursor"`
	Progress   Progress  `json:"progress"`
	Error      string    `json:"error,omitempty"`
}

// APIError is returned when the executor responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crawlexec: HTTP %d: %s", e.StatusCode, e.Body)
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

// NewClient creates a crawl executor client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		retry:   resilience.DefaultRetryConfig(),
		http: &http.Client{
			Timeout: 60 * time.Second,
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

func (c *httpClient) SubmitJob(ctx context.Context, req JobRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.post(ctx, "/jobs", req, &resp); err != nil {
		return nil, eris.Wrap(err, "crawlexec: submit job")
	}
	return &resp, nil
}

func (c *httpClient) GetStatus(ctx context.Context, handle string, cursor int) (*StatusResponse, error) {
	var resp StatusResponse
	path := fmt.Sprintf("/jobs/%s?cursor=%d", handle, cursor)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("crawlexec: get status %s", handle))
	}
	return &resp, nil
}

// Cancel asks the executor to stop a job. Cancellation is cooperative:
// in-flight page fetches finish, and the job reports cancelled on a later
// status poll.
func (c *httpClient) Cancel(ctx context.Context, handle string) error {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, fmt.Sprintf("/jobs/%s/cancel", handle), struct{}{}, &resp); err != nil {
		return eris.Wrap(err, fmt.Sprintf("crawlexec: cancel %s", handle))
	}
	return nil
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
