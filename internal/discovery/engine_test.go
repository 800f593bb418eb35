package discovery

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/store"
	"github.com/sells-group/leadscout-cli/pkg/searchexec"
)

type fakeSearchExec struct {
	submitErr error
	handle    string
	submits   int

	statuses map[int]*searchexec.StatusResponse
}

func (f *fakeSearchExec) SubmitQuery(_ context.Context, _ searchexec.QueryRequest) (*searchexec.SubmitResponse, error) {
	f.submits++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &searchexec.SubmitResponse{Success: true, Handle: f.handle}, nil
}

func (f *fakeSearchExec) GetStatus(_ context.Context, _ string, cursor int) (*searchexec.StatusResponse, error) {
	if resp, ok := f.statuses[cursor]; ok {
		return resp, nil
	}
	return &searchexec.StatusResponse{Status: searchexec.StatusRunning, NextCursor: cursor}, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProfile(t *testing.T, s store.Store, mutate func(*model.DiscoveryProfile)) int64 {
	t.Helper()
	p := &model.DiscoveryProfile{
		Name:        "hvac-austin",
		Keywords:    []string{"hvac", "air conditioning"},
		Locations:   []string{"Austin, TX"},
		SourceTypes: []string{"maps", "web"},
		Enabled:     true,
	}
	if mutate != nil {
		mutate(p)
	}
	id, err := s.PutDiscoveryProfile(context.Background(), p)
	require.NoError(t, err)
	return id
}

func TestCreateRunRejectsDisabledProfile(t *testing.T) {
	s := newTestStore(t)
	id := seedProfile(t, s, func(p *model.DiscoveryProfile) { p.Enabled = false })

	eng := New(s, &fakeSearchExec{handle: "h1"})
	_, err := eng.CreateRun(context.Background(), id, "cli")
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestCreateRunRejectsEmptyKeywords(t *testing.T) {
	s := newTestStore(t)
	id := seedProfile(t, s, func(p *model.DiscoveryProfile) { p.Keywords = nil })

	eng := New(s, &fakeSearchExec{handle: "h1"})
	_, err := eng.CreateRun(context.Background(), id, "cli")
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestCreateRunDispatches(t *testing.T) {
	s := newTestStore(t)
	id := seedProfile(t, s, nil)
	exec := &fakeSearchExec{handle: "task-1"}

	eng := New(s, exec)
	run, err := eng.CreateRun(context.Background(), id, "cli")
	require.NoError(t, err)
	assert.Equal(t, 1, exec.submits)
	assert.Equal(t, "task-1", run.ExecutorHandle)

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, got.Status)
	assert.Equal(t, "task-1", got.ExecutorHandle)
}

func TestCreateRunSurvivesExecutorOutage(t *testing.T) {
	s := newTestStore(t)
	id := seedProfile(t, s, nil)
	exec := &fakeSearchExec{submitErr: syscall.ECONNREFUSED}

	eng := New(s, exec)
	run, err := eng.CreateRun(context.Background(), id, "cli")
	require.NoError(t, err)

	// The run exists and stays queued with no handle; a later dispatch
	// picks it up once the executor is back.
	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, got.Status)
	assert.Empty(t, got.ExecutorHandle)

	exec.submitErr = nil
	exec.handle = "task-2"
	require.NoError(t, eng.Dispatch(context.Background(), got))

	got, err = s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "task-2", got.ExecutorHandle)
}

func TestApplyStatusIngestsAndFilters(t *testing.T) {
	s := newTestStore(t)
	id := seedProfile(t, s, func(p *model.DiscoveryProfile) {
		p.MinDiscoveryScore = 30
		p.ExcludedDomains = []string{"yelp.com"}
		p.ExcludedKeywords = []string{"supply"}
		p.MustHaveWebsite = true
	})
	eng := New(s, &fakeSearchExec{handle: "task-1"})

	run, err := eng.CreateRun(context.Background(), id, "cli")
	require.NoError(t, err)

	st := &searchexec.StatusResponse{
		Status:     searchexec.StatusRunning,
		NextCursor: 6,
		Rows: []searchexec.CandidateRow{
			{Domain: "acmehvac.com", URL: "https://acmehvac.com", CompanyName: "Acme HVAC", SourceType: "maps", Score: 85},
			{Domain: "biz.yelp.com", CompanyName: "Listing", SourceType: "maps", Score: 70},          // excluded domain
			{Domain: "hvacsupply.com", CompanyName: "HVAC Supply Co", SourceType: "maps", Score: 60}, // excluded keyword
			{Domain: "weakmatch.com", CompanyName: "Weak Match", SourceType: "web", Score: 10},
			{Domain: "broken.com", CompanyName: "Broken", SourceType: "web", Score: 250}, // out of range
			{CompanyName: "No Website LLC", SourceType: "web", Score: 55},               // must have website
		},
	}
	require.NoError(t, eng.ApplyStatus(context.Background(), run, st))

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, 2, got.SitesFound)
	assert.Equal(t, 6, got.IngestCursor)
	assert.Equal(t, 1, got.SourceStats["maps"].RowsInserted)
	assert.Equal(t, 2, got.SourceStats["maps"].RowsFiltered)
	assert.Equal(t, 1, got.SourceStats["web"].RowsInserted)
	assert.Equal(t, 2, got.SourceStats["web"].RowsFiltered)

	// The weak match is stored despite scoring under the profile floor;
	// the floor applies when a scrape job selects candidates, not here.
	cands, err := s.ListCandidates(context.Background(), run.ID, store.CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "acmehvac.com", cands[0].Domain)
	assert.Equal(t, "weakmatch.com", cands[1].Domain)

	floor := 30
	floored, err := s.ListCandidates(context.Background(), run.ID, store.CandidateFilter{MinScore: &floor})
	require.NoError(t, err)
	require.Len(t, floored, 1)
	assert.Equal(t, "acmehvac.com", floored[0].Domain)
}

func TestApplyStatusCompletesOnce(t *testing.T) {
	s := newTestStore(t)
	id := seedProfile(t, s, nil)
	eng := New(s, &fakeSearchExec{handle: "task-1"})

	run, err := eng.CreateRun(context.Background(), id, "cli")
	require.NoError(t, err)

	done := &searchexec.StatusResponse{
		Status: searchexec.StatusCompleted,
		Stats: map[string]searchexec.SourceTypeStats{
			"maps": {QueriesIssued: 4, RawResults: 40},
		},
	}
	require.NoError(t, eng.ApplyStatus(context.Background(), run, done))

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, 4, got.SourceStats["maps"].QueriesIssued)

	// A duplicate terminal poll changes nothing.
	require.NoError(t, eng.ApplyStatus(context.Background(), run, done))
	again, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, got.FinishedAt, again.FinishedAt)
}

func TestApplyStatusFailure(t *testing.T) {
	s := newTestStore(t)
	id := seedProfile(t, s, nil)
	eng := New(s, &fakeSearchExec{handle: "task-1"})

	run, err := eng.CreateRun(context.Background(), id, "cli")
	require.NoError(t, err)

	require.NoError(t, eng.ApplyStatus(context.Background(), run, &searchexec.StatusResponse{
		Status: searchexec.StatusFailed,
		Error:  "quota exhausted",
	}))

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "quota exhausted", got.ErrorMessage)
}

func TestAcceptRowRequiredKeywords(t *testing.T) {
	p := &model.DiscoveryProfile{RequiredKeywords: []string{"plumbing"}}

	ok := acceptRow(p, searchexec.CandidateRow{Domain: "a.com", CompanyName: "Apex Plumbing", Score: 50})
	assert.True(t, ok)

	ok = acceptRow(p, searchexec.CandidateRow{Domain: "b.com", CompanyName: "Apex Roofing", Score: 50})
	assert.False(t, ok)
}

func TestAcceptRowSubdomainExclusion(t *testing.T) {
	p := &model.DiscoveryProfile{ExcludedDomains: []string{"yelp.com"}}

	assert.False(t, acceptRow(p, searchexec.CandidateRow{Domain: "www.yelp.com", CompanyName: "x", Score: 50}))
	assert.False(t, acceptRow(p, searchexec.CandidateRow{Domain: "biz.yelp.com", CompanyName: "x", Score: 50}))
	assert.True(t, acceptRow(p, searchexec.CandidateRow{Domain: "notyelp.com", CompanyName: "x", Score: 50}))
}
