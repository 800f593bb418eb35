package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout-cli/internal/db"
	"github.com/sells-group/leadscout-cli/internal/model"
)

const jobColumns = `id, kind, run_id, source_id, profile_id, retry_of, override, status, stats,
	error_message, cancel_requested, executor_handle, ingest_cursor, created_by, created_at, started_at, finished_at`

// CreateJob writes the job row and its target site snapshot in one
// transaction. The snapshot is bulk-loaded with COPY and is never
// rewritten afterwards.
func (s *PostgresStore) CreateJob(ctx context.Context, job *model.ScrapeJob, sites []model.JobSite) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = model.JobStatusQueued
	job.CreatedAt = time.Now().UTC()
	job.Stats.SitesTotal = len(sites)

	override := job.Override
	if override == nil {
		override = &model.ScrapeOverride{}
	}
	overrideJSON, err := json.Marshal(override)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job override")
	}
	statsJSON, err := json.Marshal(job.Stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job stats")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create job")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO scrape_jobs
		 (id, kind, run_id, source_id, profile_id, retry_of, override, status, stats, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, string(job.Kind), job.RunID, job.SourceID, job.ProfileID, job.RetryOf,
		overrideJSON, string(job.Status), statsJSON, job.CreatedBy, job.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert job %s", job.ID)
	}

	rows := make([][]any, len(sites))
	for i, site := range sites {
		candidateID := int64(0)
		if site.CandidateID != nil {
			candidateID = *site.CandidateID
		}
		rows[i] = []any{job.ID, candidateID, site.Domain, site.URL, false}
	}
	if _, err := db.CopyRows(ctx, tx, "scrape_job_sites",
		[]string{"job_id", "candidate_id", "domain", "url", "scraped"}, rows); err != nil {
		return eris.Wrapf(err, "postgres: snapshot sites for job %s", job.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit create job")
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.ScrapeJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ScrapeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) ListActiveJobs(ctx context.Context) ([]model.ScrapeJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs
		 WHERE status IN ('queued', 'running') ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active jobs")
	}
	defer rows.Close()

	var jobs []model.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan active job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list active jobs iterate")
}

func (s *PostgresStore) SetJobHandle(ctx context.Context, id, handle string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET executor_handle = $1 WHERE id = $2`, handle, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job handle %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetJobCursor(ctx context.Context, id string, cursor int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET ingest_cursor = $1 WHERE id = $2`, cursor, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job cursor %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkJobRunning moves a queued job to running. A job already past queued
// is left alone; the monitor may observe the same transition twice.
func (s *PostgresStore) MarkJobRunning(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET status = 'running', started_at = $1
		 WHERE id = $2 AND status = 'queued'`,
		time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "postgres: mark job running %s", id)
}

func (s *PostgresStore) SetJobCancelRequested(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET cancel_requested = TRUE WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set cancel requested %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteJob finalizes a job, taking the executor's page and site
// counters as authoritative while keeping the engine-maintained lead
// counters. Idempotent: returns false when the job is already terminal.
func (s *PostgresStore) CompleteJob(ctx context.Context, id string, final model.JobStats) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin complete job")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status string
	var statsJSON []byte
	err = tx.QueryRow(ctx,
		`SELECT status, stats FROM scrape_jobs WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status, &statsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, eris.Wrapf(err, "postgres: lock job %s", id)
	}
	if model.JobStatus(status).Terminal() {
		return false, nil
	}

	var stats model.JobStats
	if err := json.Unmarshal(statsJSON, &stats); err != nil {
		return false, eris.Wrap(err, "postgres: unmarshal job stats")
	}
	stats.PagesScraped = final.PagesScraped
	stats.PagesFailed = final.PagesFailed
	stats.SitesScraped = final.SitesScraped
	stats.SitesSkipped = final.SitesSkipped
	merged, err := json.Marshal(stats)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal job stats")
	}

	_, err = tx.Exec(ctx,
		`UPDATE scrape_jobs SET status = 'completed', stats = $1, finished_at = $2 WHERE id = $3`,
		merged, time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: complete job %s", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: commit complete job")
	}
	return true, nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id, errMsg string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET status = 'failed', error_message = $1, finished_at = $2
		 WHERE id = $3 AND status IN ('queued', 'running')`,
		errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: fail job %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkJobCancelled(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET status = 'cancelled', finished_at = $1
		 WHERE id = $2 AND status IN ('queued', 'running')`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: cancel job %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

// SetJobProgress overwrites the executor-reported absolutes on a live job.
func (s *PostgresStore) SetJobProgress(ctx context.Context, id string, sitesScraped, sitesSkipped, pagesScraped, pagesFailed int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET stats = stats
		   || jsonb_build_object('sites_scraped', $1::int, 'sites_skipped', $2::int,
		                         'pages_scraped', $3::int, 'pages_failed', $4::int)
		 WHERE id = $5 AND status IN ('queued', 'running')`,
		sitesScraped, sitesSkipped, pagesScraped, pagesFailed, id,
	)
	return eris.Wrapf(err, "postgres: set job progress %s", id)
}

// AddLeadStats accumulates the lead counters as the engine ingests rows.
func (s *PostgresStore) AddLeadStats(ctx context.Context, id string, found, filtered, duplicates int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET stats = stats
		   || jsonb_build_object(
		        'leads_found', COALESCE((stats->>'leads_found')::int, 0) + $1,
		        'leads_filtered', COALESCE((stats->>'leads_filtered')::int, 0) + $2,
		        'duplicates_skipped', COALESCE((stats->>'duplicates_skipped')::int, 0) + $3)
		 WHERE id = $4`,
		found, filtered, duplicates, id,
	)
	return eris.Wrapf(err, "postgres: add lead stats %s", id)
}

func (s *PostgresStore) ListJobSites(ctx context.Context, jobID string) ([]model.JobSite, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, candidate_id, domain, url, scraped FROM scrape_job_sites
		 WHERE job_id = $1 ORDER BY domain`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list job sites")
	}
	defer rows.Close()
	return collectJobSites(rows)
}

func (s *PostgresStore) MarkSitesScraped(ctx context.Context, jobID string, domains []string) error {
	if len(domains) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE scrape_job_sites SET scraped = TRUE WHERE job_id = $1 AND domain = ANY($2)`,
		jobID, domains,
	)
	return eris.Wrapf(err, "postgres: mark sites scraped %s", jobID)
}

func (s *PostgresStore) UnscrapedSites(ctx context.Context, jobID string) ([]model.JobSite, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, candidate_id, domain, url, scraped FROM scrape_job_sites
		 WHERE job_id = $1 AND NOT scraped ORDER BY domain`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: unscraped sites")
	}
	defer rows.Close()
	return collectJobSites(rows)
}

func collectJobSites(rows pgx.Rows) ([]model.JobSite, error) {
	var sites []model.JobSite
	for rows.Next() {
		var site model.JobSite
		var candidateID int64
		if err := rows.Scan(&site.JobID, &candidateID, &site.Domain, &site.URL, &site.Scraped); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job site")
		}
		if candidateID != 0 {
			site.CandidateID = &candidateID
		}
		sites = append(sites, site)
	}
	return sites, eris.Wrap(rows.Err(), "postgres: job sites iterate")
}

func scanJob(row pgx.Row) (*model.ScrapeJob, error) {
	var j model.ScrapeJob
	var overrideJSON, statsJSON []byte
	err := row.Scan(&j.ID, &j.Kind, &j.RunID, &j.SourceID, &j.ProfileID, &j.RetryOf,
		&overrideJSON, &j.Status, &statsJSON, &j.ErrorMessage, &j.CancelRequested,
		&j.ExecutorHandle, &j.IngestCursor, &j.CreatedBy, &j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	var override model.ScrapeOverride
	if err := json.Unmarshal(overrideJSON, &override); err != nil {
		return nil, eris.Wrap(err, "unmarshal job override")
	}
	if override != (model.ScrapeOverride{}) {
		j.Override = &override
	}
	if err := json.Unmarshal(statsJSON, &j.Stats); err != nil {
		return nil, eris.Wrap(err, "unmarshal job stats")
	}
	return &j, nil
}
