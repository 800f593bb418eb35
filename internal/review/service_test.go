package review

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout-cli/internal/config"
	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/scrape"
	"github.com/sells-group/leadscout-cli/internal/store"
	"github.com/sells-group/leadscout-cli/pkg/crawlexec"
	"github.com/sells-group/leadscout-cli/pkg/salesforce"
)

// fakeSF is an in-memory salesforce.Client. Companies listed in dup trip
// the duplicate rule.
type fakeSF struct {
	mu      sync.Mutex
	inserts []map[string]any
	dup     map[string]bool
}

func (f *fakeSF) InsertOne(_ context.Context, _ string, record map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	company, _ := record["LastName"].(string)
	if f.dup[company] {
		return "", eris.New("DUPLICATES_DETECTED: use one of these records?")
	}
	f.inserts = append(f.inserts, record)
	return fmt.Sprintf("SF-%03d", len(f.inserts)), nil
}

func (f *fakeSF) Query(_ context.Context, _ string, out any) error {
	buf, err := json.Marshal(map[string]any{"Records": []map[string]string{}})
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}

func (f *fakeSF) UpdateOne(context.Context, string, string, map[string]any) error { return nil }

type fakeCrawlExec struct{ submits []crawlexec.JobRequest }

func (f *fakeCrawlExec) SubmitJob(_ context.Context, req crawlexec.JobRequest) (*crawlexec.SubmitResponse, error) {
	f.submits = append(f.submits, req)
	return &crawlexec.SubmitResponse{Success: true, Handle: "crawl-1"}, nil
}

func (f *fakeCrawlExec) GetStatus(context.Context, string, int) (*crawlexec.StatusResponse, error) {
	return &crawlexec.StatusResponse{Status: crawlexec.StatusRunning}, nil
}

func (f *fakeCrawlExec) Cancel(context.Context, string) error { return nil }

type fixture struct {
	store   *store.SQLiteStore
	sf      *fakeSF
	crawl   *fakeCrawlExec
	service *Service
	jobID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	profileID, err := st.PutScrapeProfile(ctx, &model.ScrapeProfile{Name: "crawl"})
	require.NoError(t, err)
	job := &model.ScrapeJob{Kind: model.JobKindRescrape, ProfileID: profileID, CreatedBy: "test"}
	require.NoError(t, st.CreateJob(ctx, job, []model.JobSite{{Domain: "seed.example", URL: "https://seed.example"}}))

	sf := &fakeSF{dup: map[string]bool{}}
	crawl := &fakeCrawlExec{}
	eng := scrape.New(st, crawl)

	return &fixture{
		store: st,
		sf:    sf,
		crawl: crawl,
		service: New(st, sf, eng, config.ReviewConfig{
			SourceTag:   "leadscout",
			MaxParallel: 2,
		}),
		jobID: job.ID,
	}
}

func (f *fixture) seedLead(t *testing.T, company, website, email string) int64 {
	t.Helper()
	lead := &model.StagedLead{
		JobID:       f.jobID,
		CompanyName: company,
		Website:     website,
		WebsiteNorm: model.NormalizeWebsite(website),
		MatchScore:  70,
	}
	if email != "" {
		lead.Emails = []string{email}
	}
	inserted, err := f.store.InsertLead(context.Background(), lead)
	require.NoError(t, err)
	require.True(t, inserted)
	return lead.ID
}

func TestApproveBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	plain := f.seedLead(t, "Acme HVAC", "https://acme.example", "info@acme.example")
	dup := f.seedLead(t, "Known Co", "https://known.example", "sales@known.example")
	rejected := f.seedLead(t, "Noise LLC", "https://noise.example", "")

	f.sf.dup["Known Co"] = true

	_, err := f.store.TransitionLead(ctx, rejected, model.LeadStatusPending, model.LeadStatusRejected, "")
	require.NoError(t, err)

	res, err := f.service.Approve(ctx, []int64{plain, dup, rejected}, []string{"Q1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Approved)
	require.Len(t, res.Errors, 2)

	errsByLead := map[int64]error{}
	for _, le := range res.Errors {
		errsByLead[le.LeadID] = le.Err
	}
	assert.ErrorIs(t, errsByLead[dup], salesforce.ErrDuplicateContact)
	assert.ErrorIs(t, errsByLead[rejected], ErrInvalidState)

	got, err := f.store.GetLead(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusApproved, got.Status)
	assert.NotEmpty(t, got.ContactID)
	require.NotNil(t, got.ReviewedAt)

	// The duplicate stays pending for a manual Merge or Reject.
	pending, err := f.store.GetLead(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusPending, pending.Status)
	assert.Empty(t, pending.ContactID)

	// Only the plain lead produced a CRM insert, caller tags plus source.
	require.Len(t, f.sf.inserts, 1)
	assert.Equal(t, "Acme HVAC", f.sf.inserts[0]["LastName"])
	assert.Equal(t, "Q1;leadscout", f.sf.inserts[0]["Lead_Tags__c"])
}

func TestRejectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id := f.seedLead(t, "Noise LLC", "https://noise.example", "")
	approved := f.seedLead(t, "Good Co", "https://good.example", "a@good.example")

	res, err := f.service.Approve(ctx, []int64{approved}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Approved)

	res, err = f.service.Reject(ctx, []int64{id})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	assert.Empty(t, res.Errors)

	// Second reject is a counted no-op; rejecting an approved lead is not.
	res, err = f.service.Reject(ctx, []int64{id, approved})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0].Err, ErrInvalidState)
}

func TestMergeExplicit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id := f.seedLead(t, "Acme HVAC", "https://acme.example", "info@acme.example")

	require.NoError(t, f.service.Merge(ctx, id, "SF-TARGET"))
	got, err := f.store.GetLead(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusMerged, got.Status)
	assert.Equal(t, "SF-TARGET", got.ContactID)

	err = f.service.Merge(ctx, id, "SF-OTHER")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRescrapeByFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.seedLead(t, "Has Email", "https://mail.example", "a@mail.example")
	f.seedLead(t, "No Email One", "https://one.example", "")
	f.seedLead(t, "No Email Two", "https://two.example", "")

	job, err := f.service.Rescrape(ctx, store.LeadFilter{MissingEmail: true}, 1, model.ThoroughnessThorough, "test")
	require.NoError(t, err)
	assert.Equal(t, model.JobKindRescrape, job.Kind)

	sites, err := f.store.ListJobSites(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, sites, 2)

	require.Len(t, f.crawl.submits, 1)
	assert.Equal(t, 25, f.crawl.submits[0].Profile.MaxPagesPerSite)

	_, err = f.service.Rescrape(ctx, store.LeadFilter{ScoreBelow: func() *int { v := 10; return &v }()}, 1, "", "test")
	assert.ErrorIs(t, err, scrape.ErrEmptySelection)
}
