package model

import "time"

// JobStatus is the lifecycle status of a scrape job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobKind records where a scrape job's target set came from.
type JobKind string

const (
	// JobKindDiscovery targets candidates selected from a discovery run.
	JobKindDiscovery JobKind = "discovery"
	// JobKindSource targets a legacy scrape source.
	JobKindSource JobKind = "source"
	// JobKindRescrape targets the source sites of existing staged leads.
	JobKindRescrape JobKind = "rescrape"
)

// JobStats holds the counters reported for a scrape job. Page and site
// counters are executor-reported absolutes; lead counters are maintained by
// the engine as rows are ingested.
type JobStats struct {
	PagesScraped      int `json:"pages_scraped"`
	PagesFailed       int `json:"pages_failed"`
	LeadsFound        int `json:"leads_found"`
	LeadsFiltered     int `json:"leads_filtered"`
	SitesScraped      int `json:"sites_scraped"`
	SitesTotal        int `json:"sites_total"`
	SitesSkipped      int `json:"sites_skipped"`
	DuplicatesSkipped int `json:"duplicates_skipped"`
}

// ScrapeOverride carries per-job overrides of the applied scrape profile,
// e.g. a page-count cap on a source job or a thoroughness preset on a
// rescrape. Zero values mean "no override".
type ScrapeOverride struct {
	MaxPages    int   `json:"max_pages,omitempty"`
	MaxDepth    int   `json:"max_depth,omitempty"`
	FollowLinks *bool `json:"follow_links,omitempty"`
}

// ScrapeJob is one execution that crawls a fixed set of sites. Exactly one
// of RunID/SourceID is set for discovery- and source-lineage jobs; rescrape
// jobs carry neither and the site snapshot is the authoritative target
// record. The snapshot is frozen at creation and never mutated; retrying
// unprocessed sites always produces a brand-new job with RetryOf set.
type ScrapeJob struct {
	ID        string          `json:"id" db:"id"`
	Kind      JobKind         `json:"kind" db:"kind"`
	RunID     *string         `json:"run_id,omitempty" db:"run_id"`
	SourceID  *int64          `json:"source_id,omitempty" db:"source_id"`
	ProfileID int64           `json:"profile_id" db:"profile_id"`
	RetryOf   string          `json:"retry_of,omitempty" db:"retry_of"`
	Override  *ScrapeOverride `json:"override,omitempty" db:"override"`

	Status          JobStatus `json:"status" db:"status"`
	Stats           JobStats  `json:"stats" db:"stats"`
	ErrorMessage    string    `json:"error_message,omitempty" db:"error_message"`
	CancelRequested bool      `json:"cancel_requested" db:"cancel_requested"`

	ExecutorHandle string `json:"executor_handle,omitempty" db:"executor_handle"`
	IngestCursor   int    `json:"ingest_cursor" db:"ingest_cursor"`

	CreatedBy  string     `json:"created_by" db:"created_by"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// Elapsed returns how long the job has been (or was) active.
func (j *ScrapeJob) Elapsed(now time.Time) time.Duration {
	start := j.CreatedAt
	if j.StartedAt != nil {
		start = *j.StartedAt
	}
	end := now
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	return end.Sub(start)
}

// JobSite is one row of a scrape job's immutable target snapshot. Only the
// Scraped flag changes, via executor progress reports.
type JobSite struct {
	JobID       string `json:"job_id" db:"job_id"`
	CandidateID *int64 `json:"candidate_id,omitempty" db:"candidate_id"`
	Domain      string `json:"domain" db:"domain"`
	URL         string `json:"url" db:"url"`
	Scraped     bool   `json:"scraped" db:"scraped"`
}

// Thoroughness is a named crawl-depth/page-count preset for targeted
// rescrapes.
type Thoroughness string

const (
	ThoroughnessQuick    Thoroughness = "quick"
	ThoroughnessStandard Thoroughness = "standard"
	ThoroughnessThorough Thoroughness = "thorough"
	ThoroughnessDeep     Thoroughness = "deep"
)

// Valid reports whether t is a known preset.
func (t Thoroughness) Valid() bool {
	switch t {
	case ThoroughnessQuick, ThoroughnessStandard, ThoroughnessThorough, ThoroughnessDeep:
		return true
	}
	return false
}

// Override maps the preset to concrete profile overrides.
func (t Thoroughness) Override() *ScrapeOverride {
	follow := func(b bool) *bool { return &b }
	switch t {
	case ThoroughnessQuick:
		return &ScrapeOverride{MaxPages: 3, MaxDepth: 1, FollowLinks: follow(false)}
	case ThoroughnessThorough:
		return &ScrapeOverride{MaxPages: 25, MaxDepth: 3, FollowLinks: follow(true)}
	case ThoroughnessDeep:
		return &ScrapeOverride{MaxPages: 75, MaxDepth: 5, FollowLinks: follow(true)}
	default: // standard
		return &ScrapeOverride{MaxPages: 10, MaxDepth: 2, FollowLinks: follow(true)}
	}
}
