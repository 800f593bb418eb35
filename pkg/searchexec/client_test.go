package searchexec

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout-cli/internal/resilience"
)

func TestSubmitQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/queries", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req QueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"film studio"}, req.Keywords)

		json.NewEncoder(w).Encode(SubmitResponse{Success: true, Handle: "q-123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	resp, err := c.SubmitQuery(context.Background(), QueryRequest{Keywords: []string{"film studio"}})

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "q-123", resp.Handle)
}

func TestGetStatus_PagedRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/queries/q-123", r.URL.Path)
		assert.Equal(t, "40", r.URL.Query().Get("cursor"))

		json.NewEncoder(w).Encode(StatusResponse{
			Status:     StatusRunning,
			Rows:       []CandidateRow{{Domain: "acme.com", CompanyName: "Acme", Score: 82}},
			NextCursor: 41,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	resp, err := c.GetStatus(context.Background(), "q-123", 40)

	require.NoError(t, err)
	assert.Equal(t, StatusRunning, resp.Status)
	assert.Equal(t, 41, resp.NextCursor)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "acme.com", resp.Rows[0].Domain)
}

func TestAPIError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}))
	_, err := c.SubmitQuery(context.Background(), QueryRequest{})

	// A persistent 429 exhausts retries and surfaces the API error.
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, int32(2), attempts.Load())
}
