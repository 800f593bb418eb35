package monitor

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout-cli/internal/config"
	"github.com/sells-group/leadscout-cli/internal/discovery"
	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/scrape"
	"github.com/sells-group/leadscout-cli/internal/store"
	"github.com/sells-group/leadscout-cli/pkg/crawlexec"
	"github.com/sells-group/leadscout-cli/pkg/searchexec"
)

type fakeSearchExec struct {
	submitErr   error
	statusErr   error
	statuses    map[string]*searchexec.StatusResponse
	statusCalls int
}

func (f *fakeSearchExec) SubmitQuery(context.Context, searchexec.QueryRequest) (*searchexec.SubmitResponse, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &searchexec.SubmitResponse{Success: true, Handle: "query-1"}, nil
}

func (f *fakeSearchExec) GetStatus(_ context.Context, handle string, _ int) (*searchexec.StatusResponse, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if st, ok := f.statuses[handle]; ok {
		return st, nil
	}
	return &searchexec.StatusResponse{Status: searchexec.StatusRunning}, nil
}

type fakeCrawlExec struct {
	submitErr error
	statuses  map[string]*crawlexec.StatusResponse
}

func (f *fakeCrawlExec) SubmitJob(context.Context, crawlexec.JobRequest) (*crawlexec.SubmitResponse, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &crawlexec.SubmitResponse{Success: true, Handle: "crawl-1"}, nil
}

func (f *fakeCrawlExec) GetStatus(_ context.Context, handle string, _ int) (*crawlexec.StatusResponse, error) {
	if st, ok := f.statuses[handle]; ok {
		return st, nil
	}
	return &crawlexec.StatusResponse{Status: crawlexec.StatusRunning}, nil
}

func (f *fakeCrawlExec) Cancel(context.Context, string) error { return nil }

type fixture struct {
	store     *store.SQLiteStore
	search    *fakeSearchExec
	crawl     *fakeCrawlExec
	discovery *discovery.Engine
	scrape    *scrape.Engine
	monitor   *Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	search := &fakeSearchExec{statuses: map[string]*searchexec.StatusResponse{}}
	crawl := &fakeCrawlExec{statuses: map[string]*crawlexec.StatusResponse{}}
	runs := discovery.New(st, search)
	jobs := scrape.New(st, crawl)

	return &fixture{
		store:     st,
		search:    search,
		crawl:     crawl,
		discovery: runs,
		scrape:    jobs,
		monitor: New(st, runs, jobs, search, crawl, config.MonitorConfig{
			MaxParallel:      4,
			FailureThreshold: 2,
			ResetTimeoutSecs: 300,
		}),
	}
}

// seedProfiles creates a scrape profile and a discovery profile that
// auto-starts scraping with it.
func seedProfiles(t *testing.T, f *fixture, autoStart bool) int64 {
	t.Helper()
	ctx := context.Background()

	scrapeID, err := f.store.PutScrapeProfile(ctx, &model.ScrapeProfile{
		Name:            "crawl",
		MaxPagesPerSite: 5,
	})
	require.NoError(t, err)

	p := &model.DiscoveryProfile{
		Name:              "hvac-ontario",
		Keywords:          []string{"hvac"},
		MinDiscoveryScore: 70,
		Enabled:           true,
	}
	if autoStart {
		p.AutoStartScraping = true
		p.DefaultScrapeProfileID = &scrapeID
	}
	id, err := f.store.PutDiscoveryProfile(ctx, p)
	require.NoError(t, err)
	return id
}

func TestSweepRedispatchesQueuedRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	profileID := seedProfiles(t, f, false)

	// Executor down at creation: the run lands queued without a handle.
	f.search.submitErr = syscall.ECONNREFUSED
	run, err := f.discovery.CreateRun(ctx, profileID, "test")
	require.NoError(t, err)

	// Still down: the sweep tries and gives up until next time.
	require.NoError(t, f.monitor.Sweep(ctx))
	got, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ExecutorHandle)

	f.search.submitErr = nil
	require.NoError(t, f.monitor.Sweep(ctx))
	got, err = f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "query-1", got.ExecutorHandle)
}

func TestSweepCompletesRunAndAutoStartsScrape(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	profileID := seedProfiles(t, f, true)

	run, err := f.discovery.CreateRun(ctx, profileID, "test")
	require.NoError(t, err)

	f.search.statuses["query-1"] = &searchexec.StatusResponse{
		Status: searchexec.StatusCompleted,
		Rows: []searchexec.CandidateRow{
			{Domain: "acme.example", URL: "https://acme.example", CompanyName: "Acme", SourceType: "web", Score: 80},
			{Domain: "beta.example", URL: "https://beta.example", CompanyName: "Beta", SourceType: "web", Score: 65},
		},
		NextCursor: 2,
		Stats:      map[string]searchexec.SourceTypeStats{"web": {QueriesIssued: 4, RawResults: 2}},
	}

	require.NoError(t, f.monitor.Sweep(ctx))

	got, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, 2, got.SitesFound)
	assert.Equal(t, 1, got.SitesSelected)

	// Completion chained straight into a dispatched scrape job over the
	// candidates clearing the profile's floor; the weaker one stays
	// stored but unselected.
	jobs, err := f.store.ListJobs(ctx, store.JobFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobKindDiscovery, jobs[0].Kind)
	assert.Equal(t, "monitor", jobs[0].CreatedBy)
	assert.Equal(t, "crawl-1", jobs[0].ExecutorHandle)
	assert.Equal(t, 1, jobs[0].Stats.SitesTotal)

	// The completed run drops out of the sweep; the job keeps being polled.
	f.crawl.statuses["crawl-1"] = &crawlexec.StatusResponse{
		Status: crawlexec.StatusRunning,
		Progress: crawlexec.Progress{
			SitesScraped: 1, PagesScraped: 4,
			ScrapedDomains: []string{"acme.example"},
		},
	}
	require.NoError(t, f.monitor.Sweep(ctx))

	job, err := f.store.GetJob(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, job.Status)
	assert.Equal(t, 4, job.Stats.PagesScraped)
}

func TestSweepFinalizesJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedProfiles(t, f, true)

	run, err := f.discovery.CreateRun(ctx, 1, "test")
	require.NoError(t, err)
	f.search.statuses["query-1"] = &searchexec.StatusResponse{
		Status: searchexec.StatusCompleted,
		Rows: []searchexec.CandidateRow{
			{Domain: "acme.example", URL: "https://acme.example", CompanyName: "Acme", SourceType: "web", Score: 80},
		},
		NextCursor: 1,
	}
	require.NoError(t, f.monitor.Sweep(ctx))

	jobs, err := f.store.ListJobs(ctx, store.JobFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	f.crawl.statuses["crawl-1"] = &crawlexec.StatusResponse{
		Status: crawlexec.StatusCompleted,
		Rows: []crawlexec.LeadRow{
			{CompanyName: "Acme", Website: "https://acme.example", Emails: []string{"info@acme.example"}, Score: 80},
		},
		NextCursor: 1,
		Progress:   crawlexec.Progress{SitesScraped: 1, PagesScraped: 5, ScrapedDomains: []string{"acme.example"}},
	}
	require.NoError(t, f.monitor.Sweep(ctx))

	job, err := f.store.GetJob(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Stats.LeadsFound)
	assert.Equal(t, 5, job.Stats.PagesScraped)

	leads, err := f.store.ListLeads(ctx, store.LeadFilter{JobID: job.ID})
	require.NoError(t, err)
	assert.Len(t, leads, 1)

	// Terminal job drops out of later sweeps.
	active, err := f.store.ListActiveJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSweepCircuitBreaker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	profileID := seedProfiles(t, f, false)

	_, err := f.discovery.CreateRun(ctx, profileID, "test")
	require.NoError(t, err)

	f.search.statusErr = syscall.ECONNRESET

	// Threshold is 2: two failing sweeps open the circuit.
	require.NoError(t, f.monitor.Sweep(ctx))
	require.NoError(t, f.monitor.Sweep(ctx))
	assert.Equal(t, 2, f.search.statusCalls)

	// Open circuit short-circuits the poll without hitting the executor.
	require.NoError(t, f.monitor.Sweep(ctx))
	assert.Equal(t, 2, f.search.statusCalls)
}
