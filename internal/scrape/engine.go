// Package scrape orchestrates scrape jobs: snapshotting target sites,
// dispatching crawls to the external executor, and staging extracted leads
// behind the profile's acceptance gates.
package scrape

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/resilience"
	"github.com/sells-group/leadscout-cli/internal/store"
	"github.com/sells-group/leadscout-cli/pkg/crawlexec"
)

var (
	// ErrRunNotReady is returned when a scrape is started from a discovery
	// run that has not completed.
	ErrRunNotReady = eris.New("scrape: discovery run not ready")
	// ErrEmptySelection is returned when the requested target selection
	// resolves to zero sites.
	ErrEmptySelection = eris.New("scrape: empty selection")
	// ErrNothingToRetry is returned when a retry is requested for a job
	// whose snapshot was fully processed.
	ErrNothingToRetry = eris.New("scrape: nothing to retry")
	// ErrJobActive is returned for operations that need a terminal job.
	ErrJobActive = eris.New("scrape: job still active")
	// ErrJobNotActive is returned when cancelling a job that already
	// finished.
	ErrJobNotActive = eris.New("scrape: job not active")
	// ErrJobNotDispatched is returned when waiting on a queued job that
	// has no executor handle yet.
	ErrJobNotDispatched = eris.New("scrape: job not dispatched")
)

// Selection picks candidates from a completed discovery run. Explicit IDs
// win; otherwise MinScore selects every unclaimed candidate at or above
// the threshold.
type Selection struct {
	CandidateIDs []int64
	MinScore     *int
}

// Engine drives scrape jobs against the crawl executor.
type Engine struct {
	store store.Store
	exec  crawlexec.Client
}

// New creates a scrape engine.
func New(st store.Store, exec crawlexec.Client) *Engine {
	return &Engine{store: st, exec: exec}
}

// StartFromDiscovery creates a scrape job over candidates of a completed
// discovery run. Claiming is first-come-first-served: candidates already
// targeted by another job are silently excluded, and a selection that
// yields nothing returns ErrEmptySelection.
func (e *Engine) StartFromDiscovery(ctx context.Context, runID string, profileID int64, sel Selection, override *model.ScrapeOverride, createdBy string) (*model.ScrapeJob, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: load run %s", runID)
	}
	if run.Status != model.RunStatusCompleted {
		return nil, eris.Wrapf(ErrRunNotReady, "run %s is %s", runID, run.Status)
	}
	if _, err := e.store.GetScrapeProfile(ctx, profileID); err != nil {
		return nil, eris.Wrapf(err, "scrape: load profile %d", profileID)
	}

	ids := sel.CandidateIDs
	if len(ids) == 0 {
		minScore := sel.MinScore
		if minScore == nil {
			// Without an explicit floor, the run's own profile decides
			// which candidates are worth scraping.
			dp, err := e.store.GetDiscoveryProfile(ctx, run.ProfileID)
			if err != nil {
				return nil, eris.Wrapf(err, "scrape: load discovery profile %d", run.ProfileID)
			}
			minScore = &dp.MinDiscoveryScore
		}
		unclaimed := false
		cands, err := e.store.ListCandidates(ctx, runID, store.CandidateFilter{
			MinScore: minScore,
			Selected: &unclaimed,
		})
		if err != nil {
			return nil, eris.Wrap(err, "scrape: list candidates")
		}
		for _, c := range cands {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return nil, eris.Wrapf(ErrEmptySelection, "run %s", runID)
	}

	claimed, err := e.store.ClaimCandidates(ctx, runID, ids)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: claim candidates")
	}
	if len(claimed) == 0 {
		return nil, eris.Wrapf(ErrEmptySelection, "run %s: all selected candidates already claimed", runID)
	}

	sites := make([]model.JobSite, len(claimed))
	for i, c := range claimed {
		id := c.ID
		sites[i] = model.JobSite{CandidateID: &id, Domain: c.Domain, URL: c.HomepageURL}
	}

	job := &model.ScrapeJob{
		Kind:      model.JobKindDiscovery,
		RunID:     &runID,
		ProfileID: profileID,
		Override:  override,
		CreatedBy: createdBy,
	}
	return e.createAndDispatch(ctx, job, sites)
}

// StartFromSource creates a scrape job seeded by a legacy scrape source.
func (e *Engine) StartFromSource(ctx context.Context, sourceID, profileID int64, override *model.ScrapeOverride, createdBy string) (*model.ScrapeJob, error) {
	src, err := e.store.GetScrapeSource(ctx, sourceID)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: load source %d", sourceID)
	}
	if !src.Enabled {
		return nil, eris.Errorf("scrape: source %q is disabled", src.Name)
	}
	if _, err := e.store.GetScrapeProfile(ctx, profileID); err != nil {
		return nil, eris.Wrapf(err, "scrape: load profile %d", profileID)
	}

	if override == nil && src.MaxPages > 0 {
		override = &model.ScrapeOverride{MaxPages: src.MaxPages}
	}

	job := &model.ScrapeJob{
		Kind:      model.JobKindSource,
		SourceID:  &sourceID,
		ProfileID: profileID,
		Override:  override,
		CreatedBy: createdBy,
	}
	sites := []model.JobSite{{Domain: model.NormalizeWebsite(src.BaseURL), URL: src.BaseURL}}
	return e.createAndDispatch(ctx, job, sites)
}

// StartRescrape creates a job that re-crawls the source sites of existing
// staged leads, typically to fill in missing contact fields. Duplicate
// sites across the selected leads collapse to one target.
func (e *Engine) StartRescrape(ctx context.Context, leads []model.StagedLead, profileID int64, thoroughness model.Thoroughness, createdBy string) (*model.ScrapeJob, error) {
	if len(leads) == 0 {
		return nil, eris.Wrap(ErrEmptySelection, "rescrape")
	}
	if _, err := e.store.GetScrapeProfile(ctx, profileID); err != nil {
		return nil, eris.Wrapf(err, "scrape: load profile %d", profileID)
	}

	var override *model.ScrapeOverride
	if thoroughness != "" {
		if !thoroughness.Valid() {
			return nil, eris.Errorf("scrape: unknown thoroughness %q", thoroughness)
		}
		override = thoroughness.Override()
	}

	seen := map[string]bool{}
	var sites []model.JobSite
	for _, lead := range leads {
		domain := lead.WebsiteNorm
		if domain == "" {
			domain = model.NormalizeWebsite(lead.Website)
		}
		if domain == "" || seen[domain] {
			continue
		}
		seen[domain] = true
		url := lead.Website
		if url == "" {
			url = "https://" + domain
		}
		sites = append(sites, model.JobSite{Domain: domain, URL: url})
	}
	if len(sites) == 0 {
		return nil, eris.Wrap(ErrEmptySelection, "rescrape: no lead has a website")
	}

	job := &model.ScrapeJob{
		Kind:      model.JobKindRescrape,
		ProfileID: profileID,
		Override:  override,
		CreatedBy: createdBy,
	}
	return e.createAndDispatch(ctx, job, sites)
}

// RetryJob creates a fresh job over the unprocessed remainder of a
// terminal job's snapshot. The original job and its snapshot are left
// untouched; the new job records its parent in RetryOf.
func (e *Engine) RetryJob(ctx context.Context, jobID, createdBy string) (*model.ScrapeJob, error) {
	parent, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: load job %s", jobID)
	}
	if !parent.Status.Terminal() {
		return nil, eris.Wrapf(ErrJobActive, "job %s is %s", jobID, parent.Status)
	}

	remaining, err := e.store.UnscrapedSites(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: load unscraped sites")
	}
	if len(remaining) == 0 {
		return nil, eris.Wrapf(ErrNothingToRetry, "job %s", jobID)
	}

	sites := make([]model.JobSite, len(remaining))
	for i, site := range remaining {
		sites[i] = model.JobSite{CandidateID: site.CandidateID, Domain: site.Domain, URL: site.URL}
	}

	job := &model.ScrapeJob{
		Kind:      parent.Kind,
		RunID:     parent.RunID,
		SourceID:  parent.SourceID,
		ProfileID: parent.ProfileID,
		RetryOf:   parent.ID,
		Override:  parent.Override,
		CreatedBy: createdBy,
	}
	return e.createAndDispatch(ctx, job, sites)
}

// CancelJob requests cooperative cancellation of an active job. A queued
// job that never reached the executor is cancelled immediately; otherwise
// the executor acknowledges on a later status poll and the monitor applies
// the terminal state.
func (e *Engine) CancelJob(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "scrape: load job %s", jobID)
	}
	if job.Status.Terminal() {
		return eris.Wrapf(ErrJobNotActive, "job %s is %s", jobID, job.Status)
	}

	if job.ExecutorHandle == "" {
		if _, err := e.store.MarkJobCancelled(ctx, jobID); err != nil {
			return eris.Wrap(err, "scrape: cancel queued job")
		}
		zap.L().Info("scrape job cancelled before dispatch", zap.String("job_id", jobID))
		return nil
	}

	if err := e.exec.Cancel(ctx, job.ExecutorHandle); err != nil {
		return eris.Wrapf(err, "scrape: cancel job %s", jobID)
	}
	if err := e.store.SetJobCancelRequested(ctx, jobID); err != nil {
		return eris.Wrap(err, "scrape: record cancel request")
	}
	zap.L().Info("scrape job cancel requested", zap.String("job_id", jobID))
	return nil
}

func (e *Engine) createAndDispatch(ctx context.Context, job *model.ScrapeJob, sites []model.JobSite) (*model.ScrapeJob, error) {
	if err := e.store.CreateJob(ctx, job, sites); err != nil {
		return nil, eris.Wrap(err, "scrape: create job")
	}

	if err := e.Dispatch(ctx, job); err != nil {
		if resilience.IsTransient(err) {
			zap.L().Warn("crawl executor unavailable, job stays queued",
				zap.String("job_id", job.ID), zap.Error(err))
			return job, nil
		}
		msg := eris.ToString(err, false)
		if _, failErr := e.store.FailJob(ctx, job.ID, msg); failErr != nil {
			zap.L().Error("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		job.Status = model.JobStatusFailed
		job.ErrorMessage = msg
		return job, eris.Wrap(err, "scrape: dispatch job")
	}
	return job, nil
}

// Dispatch submits the job's snapshot and crawl parameters to the
// executor and records the handle. Safe to call again for a queued job
// whose first dispatch never reached the executor.
func (e *Engine) Dispatch(ctx context.Context, job *model.ScrapeJob) error {
	profile, err := e.store.GetScrapeProfile(ctx, job.ProfileID)
	if err != nil {
		return eris.Wrapf(err, "scrape: load profile %d", job.ProfileID)
	}
	sites, err := e.store.ListJobSites(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "scrape: load snapshot")
	}

	spec := buildProfileSpec(profile, job.Override)
	if job.SourceID != nil {
		src, err := e.store.GetScrapeSource(ctx, *job.SourceID)
		if err != nil {
			return eris.Wrapf(err, "scrape: load source %d", *job.SourceID)
		}
		spec.Selectors = src.Selectors
	}

	targets := make([]crawlexec.Target, len(sites))
	for i, site := range sites {
		targets[i] = crawlexec.Target{Domain: site.Domain, URL: site.URL}
	}

	resp, err := e.exec.SubmitJob(ctx, crawlexec.JobRequest{Targets: targets, Profile: spec})
	if err != nil {
		var apiErr *crawlexec.APIError
		if eris.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return eris.Wrap(resilience.ErrExecutorUnavailable, apiErr.Error())
		}
		if resilience.IsTransient(err) {
			return eris.Wrap(resilience.ErrExecutorUnavailable, err.Error())
		}
		return eris.Wrap(err, "scrape: submit job")
	}
	if !resp.Success || resp.Handle == "" {
		return eris.New("scrape: executor accepted nothing")
	}

	if err := e.store.SetJobHandle(ctx, job.ID, resp.Handle); err != nil {
		return eris.Wrap(err, "scrape: record handle")
	}
	job.ExecutorHandle = resp.Handle

	zap.L().Info("scrape job dispatched",
		zap.String("job_id", job.ID),
		zap.String("handle", resp.Handle),
		zap.Int("sites", len(targets)))
	return nil
}

// WaitJob blocks until the executor finishes the job, staging pages of
// extracted rows as they stream in. The final status is folded in the
// same way a monitor sweep would, and the settled job is returned.
func (e *Engine) WaitJob(ctx context.Context, jobID string, opts ...crawlexec.PollOption) (*model.ScrapeJob, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: load job %s", jobID)
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if job.ExecutorHandle == "" {
		return nil, eris.Wrapf(ErrJobNotDispatched, "job %s", jobID)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ingestErr error
	opts = append(opts, crawlexec.WithPollCursor(job.IngestCursor))
	final, err := crawlexec.PollJob(pollCtx, e.exec, job.ExecutorHandle, func(rows []crawlexec.LeadRow) {
		if ingestErr == nil {
			if ingestErr = e.ingestLeads(ctx, job, rows); ingestErr != nil {
				cancel()
			}
		}
	}, opts...)
	if ingestErr != nil {
		return nil, ingestErr
	}
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: wait for job %s", jobID)
	}

	// Rows were already staged page by page.
	final.Rows = nil
	if err := e.ApplyStatus(ctx, job, final); err != nil {
		return nil, err
	}
	return e.store.GetJob(ctx, jobID)
}

// ApplyStatus folds one executor status poll into the job: extracted rows
// pass the profile's gates and are staged, scraped sites are flagged in
// the snapshot, progress counters are refreshed, and a terminal executor
// status finalizes the job. Called by the monitor each sweep.
func (e *Engine) ApplyStatus(ctx context.Context, job *model.ScrapeJob, st *crawlexec.StatusResponse) error {
	if st.Status == crawlexec.StatusRunning {
		if err := e.store.MarkJobRunning(ctx, job.ID); err != nil {
			return err
		}
	}

	if len(st.Rows) > 0 {
		if err := e.ingestLeads(ctx, job, st.Rows); err != nil {
			return err
		}
	}

	if len(st.Progress.ScrapedDomains) > 0 {
		if err := e.store.MarkSitesScraped(ctx, job.ID, st.Progress.ScrapedDomains); err != nil {
			return eris.Wrap(err, "scrape: flag scraped sites")
		}
	}
	if err := e.store.SetJobProgress(ctx, job.ID,
		st.Progress.SitesScraped, st.Progress.SitesSkipped,
		st.Progress.PagesScraped, st.Progress.PagesFailed); err != nil {
		return eris.Wrap(err, "scrape: record progress")
	}
	if st.NextCursor > job.IngestCursor {
		if err := e.store.SetJobCursor(ctx, job.ID, st.NextCursor); err != nil {
			return eris.Wrap(err, "scrape: advance cursor")
		}
		job.IngestCursor = st.NextCursor
	}

	switch st.Status {
	case crawlexec.StatusCompleted:
		ok, err := e.store.CompleteJob(ctx, job.ID, model.JobStats{
			PagesScraped: st.Progress.PagesScraped,
			PagesFailed:  st.Progress.PagesFailed,
			SitesScraped: st.Progress.SitesScraped,
			SitesSkipped: st.Progress.SitesSkipped,
		})
		if err != nil {
			return eris.Wrap(err, "scrape: complete job")
		}
		if ok {
			zap.L().Info("scrape job completed", zap.String("job_id", job.ID))
		}
	case crawlexec.StatusFailed:
		msg := st.Error
		if msg == "" {
			msg = "executor reported failure"
		}
		ok, err := e.store.FailJob(ctx, job.ID, msg)
		if err != nil {
			return eris.Wrap(err, "scrape: fail job")
		}
		if ok {
			zap.L().Warn("scrape job failed", zap.String("job_id", job.ID), zap.String("error", msg))
		}
	case crawlexec.StatusCancelled:
		ok, err := e.store.MarkJobCancelled(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "scrape: mark cancelled")
		}
		if ok {
			zap.L().Info("scrape job cancelled", zap.String("job_id", job.ID))
		}
	}
	return nil
}

// ingestLeads stages one page of extracted rows. Gate rejections count as
// filtered; rows whose normalized website already has a lead in this job
// count as duplicates. Executor re-deliveries therefore change nothing.
func (e *Engine) ingestLeads(ctx context.Context, job *model.ScrapeJob, rows []crawlexec.LeadRow) error {
	profile, err := e.store.GetScrapeProfile(ctx, job.ProfileID)
	if err != nil {
		return eris.Wrapf(err, "scrape: load profile %d", job.ProfileID)
	}

	var found, filtered, duplicates int
	for _, row := range rows {
		if !passesGates(profile, row) {
			filtered++
			continue
		}
		lead := &model.StagedLead{
			JobID:       job.ID,
			CompanyName: row.CompanyName,
			Website:     row.Website,
			WebsiteNorm: model.NormalizeWebsite(row.Website),
			Emails:      row.Emails,
			Phones:      row.Phones,
			Country:     row.Country,
			MatchScore:  row.Score,
		}
		inserted, err := e.store.InsertLead(ctx, lead)
		if err != nil {
			return eris.Wrapf(err, "scrape: stage lead %s", lead.WebsiteNorm)
		}
		if inserted {
			found++
		} else {
			duplicates++
		}
	}

	if err := e.store.AddLeadStats(ctx, job.ID, found, filtered, duplicates); err != nil {
		return eris.Wrap(err, "scrape: record lead stats")
	}
	zap.L().Debug("ingested lead page",
		zap.String("job_id", job.ID),
		zap.Int("staged", found),
		zap.Int("filtered", filtered),
		zap.Int("duplicates", duplicates))
	return nil
}

func buildProfileSpec(p *model.ScrapeProfile, override *model.ScrapeOverride) crawlexec.ProfileSpec {
	spec := crawlexec.ProfileSpec{
		MaxPagesPerSite: p.MaxPagesPerSite,
		MaxDepth:        p.MaxDepth,
		Concurrency:     p.Concurrency,
		RequestDelayMS:  p.RequestDelayMS,
		FollowLinks:     p.FollowInternalLinks,
		RespectRobots:   p.RespectRobots,
		UserAgent:       p.UserAgent,
		PathAllowlist:   p.PathAllowlist,
		ExtractFields:   p.ExtractFields,
		Keywords:        p.Keywords,
		ScoringRules:    p.ScoringRules,
	}
	if override != nil {
		if override.MaxPages > 0 {
			spec.MaxPagesPerSite = override.MaxPages
		}
		if override.MaxDepth > 0 {
			spec.MaxDepth = override.MaxDepth
		}
		if override.FollowLinks != nil {
			spec.FollowLinks = *override.FollowLinks
		}
	}
	return spec
}
