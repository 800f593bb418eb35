// Package store persists the pipeline's entities. Two drivers implement
// the same Store interface: postgres (pgx) for production and sqlite
// (modernc) for local runs. All entities survive process restarts; runs
// and jobs keep their executor handles and ingest cursors so the monitor
// can re-attach after a restart.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout-cli/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = eris.New("store: not found")

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// RunFilter specifies criteria for listing discovery runs.
type RunFilter struct {
	ProfileID int64           `json:"profile_id,omitempty"`
	Status    model.RunStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// JobFilter specifies criteria for listing scrape jobs.
type JobFilter struct {
	RunID  string          `json:"run_id,omitempty"`
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// CandidateFilter is the query contract for listing site candidates.
type CandidateFilter struct {
	MinScore *int   `json:"min_score,omitempty"`
	Selected *bool  `json:"selected,omitempty"`
	SortBy   string `json:"sort_by,omitempty"` // "score" (default), "name", "created"
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// LeadFilter is the query contract for listing staged leads. The Missing*
// and ScoreBelow predicates drive targeted rescrapes.
type LeadFilter struct {
	JobID          string           `json:"job_id,omitempty"`
	Status         model.LeadStatus `json:"status,omitempty"`
	MissingEmail   bool             `json:"missing_email,omitempty"`
	MissingPhone   bool             `json:"missing_phone,omitempty"`
	MissingCountry bool             `json:"missing_country,omitempty"`
	ScoreBelow     *int             `json:"score_below,omitempty"`
	Limit          int              `json:"limit,omitempty"`
	Offset         int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the pipeline.
type Store interface {
	// Profiles and sources. Put upserts by name and returns the row id.
	PutDiscoveryProfile(ctx context.Context, p *model.DiscoveryProfile) (int64, error)
	GetDiscoveryProfile(ctx context.Context, id int64) (*model.DiscoveryProfile, error)
	ListDiscoveryProfiles(ctx context.Context) ([]model.DiscoveryProfile, error)
	DeleteDiscoveryProfile(ctx context.Context, id int64) error
	PutScrapeProfile(ctx context.Context, p *model.ScrapeProfile) (int64, error)
	GetScrapeProfile(ctx context.Context, id int64) (*model.ScrapeProfile, error)
	ListScrapeProfiles(ctx context.Context) ([]model.ScrapeProfile, error)
	PutScrapeSource(ctx context.Context, s *model.ScrapeSource) (int64, error)
	GetScrapeSource(ctx context.Context, id int64) (*model.ScrapeSource, error)
	ListScrapeSources(ctx context.Context, enabledOnly bool) ([]model.ScrapeSource, error)

	// Discovery runs. CreateRun assigns the run ID and created_at.
	CreateRun(ctx context.Context, run *model.DiscoveryRun) error
	GetRun(ctx context.Context, id string) (*model.DiscoveryRun, error)
	ListRuns(ctx context.Context, f RunFilter) ([]model.DiscoveryRun, error)
	ListActiveRuns(ctx context.Context) ([]model.DiscoveryRun, error)
	SetRunHandle(ctx context.Context, id, handle string) error
	SetRunCursor(ctx context.Context, id string, cursor int) error
	// IngestCandidates inserts candidates and applies the per-source stat
	// deltas in one transaction. Re-delivered rows (same run and domain)
	// are ignored. The first ingestion moves a queued run to running.
	IngestCandidates(ctx context.Context, runID string, cands []model.SiteCandidate, delta map[string]model.SourceStats) (int, error)
	// CompleteRun and FailRun are terminal and idempotent: they return
	// false without error when the run is already terminal.
	CompleteRun(ctx context.Context, runID string, final map[string]model.SourceStats) (bool, error)
	FailRun(ctx context.Context, runID, errMsg string) (bool, error)

	// Site candidates.
	ListCandidates(ctx context.Context, runID string, f CandidateFilter) ([]model.SiteCandidate, error)
	GetCandidates(ctx context.Context, ids []int64) ([]model.SiteCandidate, error)
	// ClaimCandidates sets is_selected_for_scraping on each not-yet-selected
	// candidate and returns only the rows this call claimed, so two
	// concurrent job creations cannot double-claim a site. The run's
	// sites_selected counter advances by the claimed count in the same
	// transaction.
	ClaimCandidates(ctx context.Context, runID string, ids []int64) ([]model.SiteCandidate, error)

	// Scrape jobs. CreateJob writes the job and its immutable site snapshot
	// in one transaction; the snapshot rows are never replaced afterwards.
	CreateJob(ctx context.Context, job *model.ScrapeJob, sites []model.JobSite) error
	GetJob(ctx context.Context, id string) (*model.ScrapeJob, error)
	ListJobs(ctx context.Context, f JobFilter) ([]model.ScrapeJob, error)
	ListActiveJobs(ctx context.Context) ([]model.ScrapeJob, error)
	SetJobHandle(ctx context.Context, id, handle string) error
	SetJobCursor(ctx context.Context, id string, cursor int) error
	MarkJobRunning(ctx context.Context, id string) error
	SetJobCancelRequested(ctx context.Context, id string) error
	CompleteJob(ctx context.Context, id string, final model.JobStats) (bool, error)
	FailJob(ctx context.Context, id, errMsg string) (bool, error)
	MarkJobCancelled(ctx context.Context, id string) (bool, error)
	SetJobProgress(ctx context.Context, id string, sitesScraped, sitesSkipped, pagesScraped, pagesFailed int) error
	AddLeadStats(ctx context.Context, id string, found, filtered, duplicates int) error
	ListJobSites(ctx context.Context, jobID string) ([]model.JobSite, error)
	MarkSitesScraped(ctx context.Context, jobID string, domains []string) error
	UnscrapedSites(ctx context.Context, jobID string) ([]model.JobSite, error)

	// Staged leads. InsertLead reports false when the job already has a
	// lead with the same normalized website.
	InsertLead(ctx context.Context, lead *model.StagedLead) (bool, error)
	GetLead(ctx context.Context, id int64) (*model.StagedLead, error)
	GetLeads(ctx context.Context, ids []int64) ([]model.StagedLead, error)
	ListLeads(ctx context.Context, f LeadFilter) ([]model.StagedLead, error)
	// TransitionLead performs a compare-and-set status change, which
	// serializes concurrent reviews of the same lead.
	TransitionLead(ctx context.Context, id int64, from, to model.LeadStatus, contactID string) (bool, error)

	// Lead lists.
	CreateList(ctx context.Context, list *model.LeadList, leadIDs []int64) error
	GetList(ctx context.Context, id string) (*model.LeadList, error)
	ListLists(ctx context.Context) ([]model.LeadList, error)
	// AdvanceListStatus moves the list to the target status only when its
	// current status is one of from; list statuses never regress.
	AdvanceListStatus(ctx context.Context, id string, from []model.ListStatus, to model.ListStatus) (bool, error)
	AddListMembers(ctx context.Context, listID string, leadIDs []int64) (int, error)
	RemoveListMembers(ctx context.Context, listID string, leadIDs []int64) (int, error)
	ListMembers(ctx context.Context, listID string) ([]model.StagedLead, error)
	// TryAddImportFingerprint records an import row's idempotency key and
	// reports false when the list has already imported an equivalent row.
	TryAddImportFingerprint(ctx context.Context, listID, fingerprint string) (bool, error)
	// HasImportFingerprint reports whether the list has already imported
	// a row with this key, without recording anything.
	HasImportFingerprint(ctx context.Context, listID, fingerprint string) (bool, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
