// Package model defines the core entities of the lead discovery and
// scraping pipeline: search/crawl profiles, discovery runs, scrape jobs,
// staged leads, and lead lists.
package model

import (
	"encoding/json"
	"time"
)

// Score bounds enforced on every candidate and staged lead.
const (
	MinScore = 0
	MaxScore = 100
)

// ValidScore reports whether a match score is within the allowed range.
func ValidScore(score int) bool {
	return score >= MinScore && score <= MaxScore
}

// DiscoveryProfile describes what to search for. It is operator-owned
// configuration; the discovery engine never mutates it.
type DiscoveryProfile struct {
	ID                     int64    `json:"id" db:"id"`
	Name                   string   `json:"name" db:"name"`
	Keywords               []string `json:"keywords" db:"keywords"`
	Locations              []string `json:"locations" db:"locations"`
	SourceTypes            []string `json:"source_types" db:"source_types"`
	RadiusKM               float64  `json:"radius_km" db:"radius_km"`
	MustHaveWebsite        bool     `json:"must_have_website" db:"must_have_website"`
	RequiredKeywords       []string `json:"required_keywords" db:"required_keywords"`
	ExcludedKeywords       []string `json:"excluded_keywords" db:"excluded_keywords"`
	ExcludedDomains        []string `json:"excluded_domains" db:"excluded_domains"`
	MaxResultsPerQuery     int      `json:"max_results_per_query" db:"max_results_per_query"`
	AutoStartScraping      bool     `json:"auto_start_scraping" db:"auto_start_scraping"`
	DefaultScrapeProfileID *int64   `json:"default_scrape_profile_id,omitempty" db:"default_scrape_profile_id"`
	MinDiscoveryScore      int      `json:"min_discovery_score" db:"min_discovery_score"`
	Enabled                bool     `json:"enabled" db:"enabled"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ScrapeProfile describes how to crawl a site. ScoringRules is an opaque
// structured document interpreted by the crawl executor, never by the
// orchestrator.
type ScrapeProfile struct {
	ID                  int64           `json:"id" db:"id"`
	Name                string          `json:"name" db:"name"`
	MaxPagesPerSite     int             `json:"max_pages_per_site" db:"max_pages_per_site"`
	PathAllowlist       []string        `json:"path_allowlist" db:"path_allowlist"`
	ExtractFields       []string        `json:"extract_fields" db:"extract_fields"`
	FollowInternalLinks bool            `json:"follow_internal_links" db:"follow_internal_links"`
	MaxDepth            int             `json:"max_depth" db:"max_depth"`
	Concurrency         int             `json:"concurrency" db:"concurrency"`
	RequestDelayMS      int             `json:"request_delay_ms" db:"request_delay_ms"`
	RespectRobots       bool            `json:"respect_robots" db:"respect_robots"`
	UserAgent           string          `json:"user_agent,omitempty" db:"user_agent"`
	MinMatchScore       int             `json:"min_match_score" db:"min_match_score"`
	RequireEmail        bool            `json:"require_email" db:"require_email"`
	RequirePhone        bool            `json:"require_phone" db:"require_phone"`
	RequireWebsite      bool            `json:"require_website" db:"require_website"`
	ExcludedDomains     []string        `json:"excluded_domains" db:"excluded_domains"`
	Keywords            []string        `json:"keywords" db:"keywords"`
	ScoringRules        json.RawMessage `json:"scoring_rules,omitempty" db:"scoring_rules"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ScrapeSource is the legacy seed for a scrape job when no discovery run is
// used: a single base URL with an extraction selector document.
type ScrapeSource struct {
	ID           int64           `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	BaseURL      string          `json:"base_url" db:"base_url"`
	SourceType   string          `json:"source_type" db:"source_type"`
	Selectors    json.RawMessage `json:"selectors,omitempty" db:"selectors"`
	MaxPages     int             `json:"max_pages" db:"max_pages"`
	RateLimitRPM int             `json:"rate_limit_rpm" db:"rate_limit_rpm"`
	Enabled      bool            `json:"enabled" db:"enabled"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
