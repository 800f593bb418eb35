package scrape

import (
	"context"
	"fmt"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/store"
	"github.com/sells-group/leadscout-cli/pkg/crawlexec"
)

type fakeCrawlExec struct {
	submitErr error
	handle    string
	submits   []crawlexec.JobRequest
	cancelled []string
	cancelErr error
	statuses  []*crawlexec.StatusResponse
}

func (f *fakeCrawlExec) SubmitJob(_ context.Context, req crawlexec.JobRequest) (*crawlexec.SubmitResponse, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submits = append(f.submits, req)
	handle := f.handle
	if handle == "" {
		handle = fmt.Sprintf("crawl-%d", len(f.submits))
	}
	return &crawlexec.SubmitResponse{Success: true, Handle: handle}, nil
}

func (f *fakeCrawlExec) GetStatus(context.Context, string, int) (*crawlexec.StatusResponse, error) {
	if len(f.statuses) > 0 {
		st := f.statuses[0]
		f.statuses = f.statuses[1:]
		return st, nil
	}
	return &crawlexec.StatusResponse{Status: crawlexec.StatusRunning}, nil
}

func (f *fakeCrawlExec) Cancel(_ context.Context, handle string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, handle)
	return nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "scrape.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedScrapeProfile(t *testing.T, st store.Store, mutate func(*model.ScrapeProfile)) int64 {
	t.Helper()
	p := &model.ScrapeProfile{
		Name:            "default-crawl",
		MaxPagesPerSite: 10,
		MaxDepth:        2,
		Concurrency:     4,
		RespectRobots:   true,
		ExtractFields:   []string{"emails", "phones"},
	}
	if mutate != nil {
		mutate(p)
	}
	id, err := st.PutScrapeProfile(context.Background(), p)
	require.NoError(t, err)
	return id
}

// seedRun creates a discovery run with n ingested candidates scored
// 50, 60, 70, ... and optionally completes it.
func seedRun(t *testing.T, st store.Store, n int, complete bool) string {
	t.Helper()
	ctx := context.Background()

	_, err := st.PutDiscoveryProfile(ctx, &model.DiscoveryProfile{
		Name:     "seed",
		Keywords: []string{"hvac"},
		Enabled:  true,
	})
	require.NoError(t, err)

	run := &model.DiscoveryRun{ProfileID: 1, CreatedBy: "test"}
	require.NoError(t, st.CreateRun(ctx, run))

	if n > 0 {
		cands := make([]model.SiteCandidate, n)
		for i := range cands {
			cands[i] = model.SiteCandidate{
				RunID:       run.ID,
				Domain:      fmt.Sprintf("site%d.example.com", i),
				HomepageURL: fmt.Sprintf("https://site%d.example.com", i),
				CompanyName: fmt.Sprintf("Site %d", i),
				SourceType:  "web",
				MatchScore:  50 + i*10,
			}
		}
		_, err = st.IngestCandidates(ctx, run.ID, cands, nil)
		require.NoError(t, err)
	}
	if complete {
		_, err = st.CompleteRun(ctx, run.ID, nil)
		require.NoError(t, err)
	}
	return run.ID
}

func intp(v int) *int { return &v }

func TestStartFromDiscoveryRunNotReady(t *testing.T) {
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, nil)
	runID := seedRun(t, st, 2, false) // still running

	eng := New(st, &fakeCrawlExec{})
	_, err := eng.StartFromDiscovery(context.Background(), runID, profileID, Selection{MinScore: intp(0)}, nil, "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunNotReady)
}

func TestStartFromDiscoveryClaimsAndDispatches(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, nil)
	runID := seedRun(t, st, 3, true) // scores 50, 60, 70

	exec := &fakeCrawlExec{}
	eng := New(st, exec)

	job, err := eng.StartFromDiscovery(ctx, runID, profileID, Selection{MinScore: intp(60)}, nil, "test")
	require.NoError(t, err)
	assert.Equal(t, model.JobKindDiscovery, job.Kind)
	require.NotNil(t, job.RunID)
	assert.Equal(t, runID, *job.RunID)
	assert.NotEmpty(t, job.ExecutorHandle)

	// Snapshot holds only the two candidates at or above the threshold.
	sites, err := st.ListJobSites(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	for _, site := range sites {
		require.NotNil(t, site.CandidateID)
		assert.False(t, site.Scraped)
	}
	require.Len(t, exec.submits, 1)
	assert.Len(t, exec.submits[0].Targets, 2)

	run, err := st.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.SitesSelected)

	// Everything above the threshold is claimed now.
	_, err = eng.StartFromDiscovery(ctx, runID, profileID, Selection{MinScore: intp(60)}, nil, "test")
	assert.ErrorIs(t, err, ErrEmptySelection)

	// The remaining candidate can still be claimed by id.
	leftover, err := st.ListCandidates(ctx, runID, store.CandidateFilter{Selected: func() *bool { b := false; return &b }()})
	require.NoError(t, err)
	require.Len(t, leftover, 1)
	job2, err := eng.StartFromDiscovery(ctx, runID, profileID, Selection{CandidateIDs: []int64{leftover[0].ID}}, nil, "test")
	require.NoError(t, err)
	sites2, err := st.ListJobSites(ctx, job2.ID)
	require.NoError(t, err)
	assert.Len(t, sites2, 1)
}

func TestStartFromDiscoveryDefaultsToProfileFloor(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, nil)

	_, err := st.PutDiscoveryProfile(ctx, &model.DiscoveryProfile{
		Name:              "floored",
		Keywords:          []string{"hvac"},
		MinDiscoveryScore: 65,
		Enabled:           true,
	})
	require.NoError(t, err)
	run := &model.DiscoveryRun{ProfileID: 1, CreatedBy: "test"}
	require.NoError(t, st.CreateRun(ctx, run))
	_, err = st.IngestCandidates(ctx, run.ID, []model.SiteCandidate{
		{RunID: run.ID, Domain: "weak.example.com", HomepageURL: "https://weak.example.com", SourceType: "web", MatchScore: 50},
		{RunID: run.ID, Domain: "mid.example.com", HomepageURL: "https://mid.example.com", SourceType: "web", MatchScore: 60},
		{RunID: run.ID, Domain: "strong.example.com", HomepageURL: "https://strong.example.com", SourceType: "web", MatchScore: 70},
	}, nil)
	require.NoError(t, err)
	_, err = st.CompleteRun(ctx, run.ID, nil)
	require.NoError(t, err)

	eng := New(st, &fakeCrawlExec{})

	// No ids and no explicit floor: the run profile's own floor applies.
	job, err := eng.StartFromDiscovery(ctx, run.ID, profileID, Selection{}, nil, "test")
	require.NoError(t, err)
	sites, err := st.ListJobSites(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "strong.example.com", sites[0].Domain)

	// An explicit floor still wins over the profile's.
	job2, err := eng.StartFromDiscovery(ctx, run.ID, profileID, Selection{MinScore: intp(0)}, nil, "test")
	require.NoError(t, err)
	sites2, err := st.ListJobSites(ctx, job2.ID)
	require.NoError(t, err)
	assert.Len(t, sites2, 2)
}

func TestStartFromDiscoveryExecutorOutage(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, nil)
	runID := seedRun(t, st, 1, true)

	exec := &fakeCrawlExec{submitErr: syscall.ECONNREFUSED}
	eng := New(st, exec)

	// Outage is not an error: the job is recorded queued without a handle.
	job, err := eng.StartFromDiscovery(ctx, runID, profileID, Selection{MinScore: intp(0)}, nil, "test")
	require.NoError(t, err)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, got.Status)
	assert.Empty(t, got.ExecutorHandle)

	// The monitor re-dispatches once the executor is back.
	exec.submitErr = nil
	require.NoError(t, eng.Dispatch(ctx, got))
	got, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ExecutorHandle)
}

func TestStartFromSource(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, nil)

	srcID, err := st.PutScrapeSource(ctx, &model.ScrapeSource{
		Name:     "yellow-pages",
		BaseURL:  "https://www.Yellow-Pages.example/listings",
		MaxPages: 40,
		Enabled:  true,
	})
	require.NoError(t, err)
	disabledID, err := st.PutScrapeSource(ctx, &model.ScrapeSource{
		Name:    "retired-source",
		BaseURL: "https://old.example",
	})
	require.NoError(t, err)

	exec := &fakeCrawlExec{}
	eng := New(st, exec)

	_, err = eng.StartFromSource(ctx, disabledID, profileID, nil, "test")
	require.Error(t, err)

	job, err := eng.StartFromSource(ctx, srcID, profileID, nil, "test")
	require.NoError(t, err)
	assert.Equal(t, model.JobKindSource, job.Kind)
	require.NotNil(t, job.SourceID)

	sites, err := st.ListJobSites(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "yellow-pages.example", sites[0].Domain)

	// The source's page cap becomes the job override.
	require.Len(t, exec.submits, 1)
	assert.Equal(t, 40, exec.submits[0].Profile.MaxPagesPerSite)
}

func TestStartRescrape(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, nil)

	exec := &fakeCrawlExec{}
	eng := New(st, exec)

	_, err := eng.StartRescrape(ctx, nil, profileID, model.ThoroughnessQuick, "test")
	assert.ErrorIs(t, err, ErrEmptySelection)

	leads := []model.StagedLead{
		{Website: "https://acme.example/contact", WebsiteNorm: "acme.example"},
		{Website: "https://www.acme.example", WebsiteNorm: "acme.example"}, // same site
		{Website: "https://other.example"},
		{CompanyName: "No Site LLC"}, // skipped
	}
	job, err := eng.StartRescrape(ctx, leads, profileID, model.ThoroughnessQuick, "test")
	require.NoError(t, err)
	assert.Equal(t, model.JobKindRescrape, job.Kind)
	assert.Nil(t, job.RunID)
	assert.Nil(t, job.SourceID)

	sites, err := st.ListJobSites(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, sites, 2)

	// The quick preset tightens the crawl parameters.
	require.Len(t, exec.submits, 1)
	assert.Equal(t, 3, exec.submits[0].Profile.MaxPagesPerSite)
	assert.Equal(t, 1, exec.submits[0].Profile.MaxDepth)

	_, err = eng.StartRescrape(ctx, leads, profileID, model.Thoroughness("frantic"), "test")
	require.Error(t, err)
}

func TestApplyStatusIngestsWithGates(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, func(p *model.ScrapeProfile) {
		p.MinMatchScore = 40
		p.RequireEmail = true
		p.ExcludedDomains = []string{"facebook.com"}
	})
	runID := seedRun(t, st, 2, true)

	exec := &fakeCrawlExec{}
	eng := New(st, exec)
	job, err := eng.StartFromDiscovery(ctx, runID, profileID, Selection{MinScore: intp(0)}, nil, "test")
	require.NoError(t, err)

	rows := []crawlexec.LeadRow{
		{CompanyName: "Acme HVAC", Website: "https://www.acme.example", Emails: []string{"info@acme.example"}, Score: 80},
		{CompanyName: "Acme HVAC", Website: "acme.example/about", Emails: []string{"sales@acme.example"}, Score: 75}, // same site
		{CompanyName: "No Email Co", Website: "https://noemail.example", Score: 90},
		{CompanyName: "Weak Match", Website: "https://weak.example", Emails: []string{"a@weak.example"}, Score: 20},
		{CompanyName: "Social Page", Website: "https://pages.facebook.com/acme", Emails: []string{"x@y.example"}, Score: 70},
		{CompanyName: "Broken Row", Website: "https://broken.example", Emails: []string{"b@broken.example"}, Score: 150},
	}
	err = eng.ApplyStatus(ctx, job, &crawlexec.StatusResponse{
		Status:     crawlexec.StatusRunning,
		Rows:       rows,
		NextCursor: len(rows),
		Progress: crawlexec.Progress{
			SitesScraped:   1,
			PagesScraped:   9,
			PagesFailed:    1,
			ScrapedDomains: []string{"site0.example.com"},
		},
	})
	require.NoError(t, err)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, got.Status)
	assert.Equal(t, 1, got.Stats.LeadsFound)
	assert.Equal(t, 4, got.Stats.LeadsFiltered)
	assert.Equal(t, 1, got.Stats.DuplicatesSkipped)
	assert.Equal(t, 9, got.Stats.PagesScraped)
	assert.Equal(t, len(rows), got.IngestCursor)

	staged, err := st.ListLeads(ctx, store.LeadFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "acme.example", staged[0].WebsiteNorm)
	assert.Equal(t, model.LeadStatusPending, staged[0].Status)

	remaining, err := st.UnscrapedSites(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	// Executor re-delivery of the same page changes nothing but the
	// duplicate counter.
	err = eng.ApplyStatus(ctx, got, &crawlexec.StatusResponse{
		Status:     crawlexec.StatusCompleted,
		Rows:       rows[:1],
		NextCursor: len(rows),
		Progress: crawlexec.Progress{
			SitesScraped: 2,
			PagesScraped: 17,
			PagesFailed:  2,
		},
	})
	require.NoError(t, err)

	got, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
	// Executor absolutes win; engine lead counters survive.
	assert.Equal(t, 17, got.Stats.PagesScraped)
	assert.Equal(t, 2, got.Stats.SitesScraped)
	assert.Equal(t, 1, got.Stats.LeadsFound)
	assert.Equal(t, 2, got.Stats.DuplicatesSkipped)

	staged, err = st.ListLeads(ctx, store.LeadFilter{JobID: job.ID})
	require.NoError(t, err)
	assert.Len(t, staged, 1)
}

func TestWaitJobStagesRowsAndCompletes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, nil)
	runID := seedRun(t, st, 2, true)

	exec := &fakeCrawlExec{statuses: []*crawlexec.StatusResponse{
		{
			Status: crawlexec.StatusRunning,
			Rows: []crawlexec.LeadRow{{
				CompanyName: "Site 0",
				Website:     "https://site0.example.com",
				Emails:      []string{"info@site0.example.com"},
				Score:       55,
			}},
			NextCursor: 1,
		},
		{
			Status:     crawlexec.StatusCompleted,
			NextCursor: 1,
			Progress:   crawlexec.Progress{SitesScraped: 2, PagesScraped: 6},
		},
	}}
	eng := New(st, exec)

	job, err := eng.StartFromDiscovery(ctx, runID, profileID, Selection{MinScore: intp(0)}, nil, "test")
	require.NoError(t, err)

	settled, err := eng.WaitJob(ctx, job.ID,
		crawlexec.WithPollInterval(time.Millisecond), crawlexec.WithPollCap(2*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, settled.Status)
	assert.Equal(t, 2, settled.Stats.SitesScraped)
	assert.Equal(t, 1, settled.Stats.LeadsFound)
	assert.Equal(t, 1, settled.IngestCursor)

	leads, err := st.ListLeads(ctx, store.LeadFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "site0.example.com", leads[0].WebsiteNorm)
}

func TestWaitJobQueued(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, nil)
	runID := seedRun(t, st, 1, true)

	exec := &fakeCrawlExec{submitErr: syscall.ECONNREFUSED}
	eng := New(st, exec)

	job, err := eng.StartFromDiscovery(ctx, runID, profileID, Selection{MinScore: intp(0)}, nil, "test")
	require.NoError(t, err)

	// Nothing to poll until the monitor dispatches it.
	_, err = eng.WaitJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotDispatched)
}

func TestApplyStatusFailure(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, nil)
	runID := seedRun(t, st, 1, true)

	eng := New(st, &fakeCrawlExec{})
	job, err := eng.StartFromDiscovery(ctx, runID, profileID, Selection{MinScore: intp(0)}, nil, "test")
	require.NoError(t, err)

	err = eng.ApplyStatus(ctx, job, &crawlexec.StatusResponse{
		Status: crawlexec.StatusFailed,
		Error:  "crawler crashed",
	})
	require.NoError(t, err)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "crawler crashed", got.ErrorMessage)
}

func TestCancelJob(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, nil)
	runID := seedRun(t, st, 1, true)

	exec := &fakeCrawlExec{}
	eng := New(st, exec)
	job, err := eng.StartFromDiscovery(ctx, runID, profileID, Selection{MinScore: intp(0)}, nil, "test")
	require.NoError(t, err)

	require.NoError(t, eng.CancelJob(ctx, job.ID))
	assert.Len(t, exec.cancelled, 1)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.False(t, got.Status.Terminal())

	// The executor acknowledges on a later poll.
	require.NoError(t, eng.ApplyStatus(ctx, got, &crawlexec.StatusResponse{Status: crawlexec.StatusCancelled}))
	got, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)

	err = eng.CancelJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotActive)
}

func TestCancelQueuedJobBeforeDispatch(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, nil)
	runID := seedRun(t, st, 1, true)

	exec := &fakeCrawlExec{submitErr: syscall.ECONNREFUSED}
	eng := New(st, exec)
	job, err := eng.StartFromDiscovery(ctx, runID, profileID, Selection{MinScore: intp(0)}, nil, "test")
	require.NoError(t, err)

	// Never reached the executor, so it is cancelled locally.
	require.NoError(t, eng.CancelJob(ctx, job.ID))
	assert.Empty(t, exec.cancelled)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
}

func TestRetryJob(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profileID := seedScrapeProfile(t, st, nil)
	runID := seedRun(t, st, 3, true)

	exec := &fakeCrawlExec{}
	eng := New(st, exec)
	job, err := eng.StartFromDiscovery(ctx, runID, profileID, Selection{MinScore: intp(0)}, nil, "test")
	require.NoError(t, err)

	_, err = eng.RetryJob(ctx, job.ID, "test")
	assert.ErrorIs(t, err, ErrJobActive)

	require.NoError(t, st.MarkSitesScraped(ctx, job.ID, []string{"site0.example.com"}))
	_, err = st.FailJob(ctx, job.ID, "executor crashed")
	require.NoError(t, err)

	retry, err := eng.RetryJob(ctx, job.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, job.ID, retry.RetryOf)
	assert.Equal(t, model.JobKindDiscovery, retry.Kind)
	require.NotNil(t, retry.RunID)
	assert.Equal(t, runID, *retry.RunID)

	// Only the unprocessed remainder is carried over, and the parent's
	// snapshot is untouched.
	retrySites, err := st.ListJobSites(ctx, retry.ID)
	require.NoError(t, err)
	assert.Len(t, retrySites, 2)
	parentSites, err := st.ListJobSites(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, parentSites, 3)

	// A fully processed job has nothing left to retry.
	require.NoError(t, st.MarkSitesScraped(ctx, retry.ID, []string{"site1.example.com", "site2.example.com"}))
	_, err = st.CompleteJob(ctx, retry.ID, model.JobStats{})
	require.NoError(t, err)
	_, err = eng.RetryJob(ctx, retry.ID, "test")
	assert.ErrorIs(t, err, ErrNothingToRetry)
}

func TestPassesGates(t *testing.T) {
	profile := &model.ScrapeProfile{
		MinMatchScore:   50,
		RequireWebsite:  true,
		RequirePhone:    true,
		ExcludedDomains: []string{"yelp.com"},
	}
	ok := crawlexec.LeadRow{
		Website: "https://good.example",
		Phones:  []string{"+1 555 0100"},
		Score:   60,
	}

	assert.True(t, passesGates(profile, ok))

	noSite := ok
	noSite.Website = "  "
	assert.False(t, passesGates(profile, noSite))

	noPhone := ok
	noPhone.Phones = nil
	assert.False(t, passesGates(profile, noPhone))

	subdomain := ok
	subdomain.Website = "https://biz.yelp.com/acme"
	assert.False(t, passesGates(profile, subdomain))

	weak := ok
	weak.Score = 49
	assert.False(t, passesGates(profile, weak))

	invalid := ok
	invalid.Score = -1
	assert.False(t, passesGates(profile, invalid))
}
