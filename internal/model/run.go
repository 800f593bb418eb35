package model

import "time"

// RunStatus is the lifecycle status of a discovery run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the run status permits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// SourceStats tracks per-source-type counters on a discovery run.
type SourceStats struct {
	QueriesIssued int `json:"queries_issued"`
	RawResults    int `json:"raw_results"`
	RowsInserted  int `json:"rows_inserted"`
	RowsFiltered  int `json:"rows_filtered"`
}

// Add returns the element-wise sum of two stat sets.
func (s SourceStats) Add(o SourceStats) SourceStats {
	return SourceStats{
		QueriesIssued: s.QueriesIssued + o.QueriesIssued,
		RawResults:    s.RawResults + o.RawResults,
		RowsInserted:  s.RowsInserted + o.RowsInserted,
		RowsFiltered:  s.RowsFiltered + o.RowsFiltered,
	}
}

// DiscoveryRun is one execution of a DiscoveryProfile. It is created queued,
// mutated only through the engine's ingest/complete/fail callbacks, and is
// never reopened once terminal.
type DiscoveryRun struct {
	ID            string                 `json:"id" db:"id"`
	ProfileID     int64                  `json:"profile_id" db:"profile_id"`
	Status        RunStatus              `json:"status" db:"status"`
	SitesFound    int                    `json:"sites_found" db:"sites_found"`
	SitesSelected int                    `json:"sites_selected" db:"sites_selected"`
	SourceStats   map[string]SourceStats `json:"source_stats" db:"source_stats"`
	ErrorMessage  string                 `json:"error_message,omitempty" db:"error_message"`

	// ExecutorHandle is the opaque task reference returned by the search
	// executor; empty until dispatch succeeds.
	ExecutorHandle string `json:"executor_handle,omitempty" db:"executor_handle"`
	// IngestCursor is the offset of the last result page pulled from the
	// executor, so polling can resume after a restart.
	IngestCursor int `json:"ingest_cursor" db:"ingest_cursor"`

	CreatedBy  string     `json:"created_by" db:"created_by"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// Elapsed returns how long the run has been (or was) active.
func (r *DiscoveryRun) Elapsed(now time.Time) time.Duration {
	start := r.CreatedAt
	if r.StartedAt != nil {
		start = *r.StartedAt
	}
	end := now
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	return end.Sub(start)
}

// SiteCandidate is a discovered website with a computed relevance score.
// Immutable after insertion except for the Selected flag, which is claimed
// exactly once when a scrape job targets the site.
type SiteCandidate struct {
	ID          int64     `json:"id" db:"id"`
	RunID       string    `json:"run_id" db:"run_id"`
	Domain      string    `json:"domain" db:"domain"`
	HomepageURL string    `json:"homepage_url" db:"homepage_url"`
	CompanyName string    `json:"company_name" db:"company_name"`
	SourceType  string    `json:"source_type" db:"source_type"`
	Location    string    `json:"location,omitempty" db:"location"`
	MatchScore  int       `json:"match_score" db:"match_score"`
	Selected    bool      `json:"is_selected_for_scraping" db:"is_selected_for_scraping"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
