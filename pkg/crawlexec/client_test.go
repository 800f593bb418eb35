package crawlexec

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

func TestSubmitJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/jobs", r.URL.Path)

		var req JobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Targets, 2)
		assert.Equal(t, "acme.com", req.Targets[0].Domain)
		assert.Equal(t, 10, req.Profile.MaxPagesPerSite)

		json.NewEncoder(w).Encode(SubmitResponse{Success: true, Handle: "j-9"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	resp, err := c.SubmitJob(context.Background(), JobRequest{
		Targets: []Target{{Domain: "acme.com", URL: "https://acme.com"}, {Domain: "b.com", URL: "https://b.com"}},
		Profile: ProfileSpec{MaxPagesPerSite: 10},
	})

	require.NoError(t, err)
	assert.Equal(t, "j-9", resp.Handle)
}

func TestCancel(t *testing.T) {
	var cancelled atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/j-9/cancel", r.URL.Path)
		cancelled.Store(true)
		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	require.NoError(t, c.Cancel(context.Background(), "j-9"))
	assert.True(t, cancelled.Load())
}

func TestSubmitJobRetriesTransientStatus(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(SubmitResponse{Success: true, Handle: "j-2"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithRetry(resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}))
	resp, err := c.SubmitJob(context.Background(), JobRequest{
		Targets: []Target{{Domain: "acme.com", URL: "https://acme.com"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "j-2", resp.Handle)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestGetStatus_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	_, err := c.GetStatus(context.Background(), "missing", 0)

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestPollJob_DrainsRowsUntilTerminal(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		switch n {
		case 1:
			assert.Equal(t, "0", r.URL.Query().Get("cursor"))
			json.NewEncoder(w).Encode(StatusResponse{
				Status:     StatusRunning,
				Rows:       []LeadRow{{CompanyName: "Acme", Website: "acme.com"}},
				NextCursor: 1,
			})
		default:
			assert.Equal(t, "1", r.URL.Query().Get("cursor"))
			json.NewEncoder(w).Encode(StatusResponse{
				Status:     StatusCompleted,
				NextCursor: 1,
				Progress:   Progress{SitesScraped: 1, PagesScraped: 4},
			})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	var collected []LeadRow
	status, err := PollJob(context.Background(), c, "j-1",
		func(rows []LeadRow) { collected = append(collected, rows...) },
		WithPollInterval(time.Millisecond), WithPollCap(2*time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.Status)
	assert.Equal(t, 1, status.Progress.SitesScraped)
	require.Len(t, collected, 1)
	assert.Equal(t, "Acme", collected[0].CompanyName)
}
