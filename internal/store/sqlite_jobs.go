package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout-cli/internal/model"
)

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.ScrapeJob, sites []model.JobSite) error {
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
		return eris.Wrap(err, "sqlite: marshal job override")
	}
	statsJSON, err := json.Marshal(job.Stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job stats")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create job")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scrape_jobs
		 (id, kind, run_id, source_id, profile_id, retry_of, override, status, stats, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), job.RunID, job.SourceID, job.ProfileID, job.RetryOf,
		string(overrideJSON), string(job.Status), string(statsJSON), job.CreatedBy, job.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
	}

	for _, site := range sites {
		candidateID := int64(0)
		if site.CandidateID != nil {
			candidateID = *site.CandidateID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scrape_job_sites (job_id, candidate_id, domain, url, scraped)
			 VALUES (?, ?, ?, ?, FALSE)`,
			job.ID, candidateID, site.Domain, site.URL,
		); err != nil {
			return eris.Wrapf(err, "sqlite: snapshot site %s", site.Domain)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit create job")
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.ScrapeJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = ?`, id)
	job, err := scanJobSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ScrapeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE true`
	args := []any{}

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.ScrapeJob
	for rows.Next() {
		job, err := scanJobSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) ListActiveJobs(ctx context.Context) ([]model.ScrapeJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs
		 WHERE status IN ('queued', 'running') ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active jobs")
	}
	defer rows.Close()

	var jobs []model.ScrapeJob
	for rows.Next() {
		job, err := scanJobSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan active job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list active jobs iterate")
}

func (s *SQLiteStore) SetJobHandle(ctx context.Context, id, handle string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET executor_handle = ? WHERE id = ?`, handle, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job handle %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) SetJobCursor(ctx context.Context, id string, cursor int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET ingest_cursor = ? WHERE id = ?`, cursor, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job cursor %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) MarkJobRunning(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET status = 'running', started_at = ?
		 WHERE id = ? AND status = 'queued'`,
		time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: mark job running %s", id)
}

func (s *SQLiteStore) SetJobCancelRequested(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET cancel_requested = TRUE WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set cancel requested %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, final model.JobStats) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin complete job")
	}
	defer tx.Rollback() //nolint:errcheck

	var status, statsJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT status, stats FROM scrape_jobs WHERE id = ?`, id,
	).Scan(&status, &statsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, eris.Wrapf(err, "sqlite: read job %s", id)
	}
	if model.JobStatus(status).Terminal() {
		return false, nil
	}

	var stats model.JobStats
	if err := json.Unmarshal([]byte(statsJSON), &stats); err != nil {
		return false, eris.Wrap(err, "sqlite: unmarshal job stats")
	}
	stats.PagesScraped = final.PagesScraped
	stats.PagesFailed = final.PagesFailed
	stats.SitesScraped = final.SitesScraped
	stats.SitesSkipped = final.SitesSkipped
	merged, err := json.Marshal(stats)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal job stats")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE scrape_jobs SET status = 'completed', stats = ?, finished_at = ? WHERE id = ?`,
		string(merged), time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit complete job")
	}
	return true, nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, id, errMsg string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET status = 'failed', error_message = ?, finished_at = ?
		 WHERE id = ? AND status IN ('queued', 'running')`,
		errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkJobCancelled(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET status = 'cancelled', finished_at = ?
		 WHERE id = ? AND status IN ('queued', 'running')`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: cancel job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) SetJobProgress(ctx context.Context, id string, sitesScraped, sitesSkipped, pagesScraped, pagesFailed int) error {
	return s.updateStats(ctx, id, true, func(stats *model.JobStats) {
		stats.SitesScraped = sitesScraped
		stats.SitesSkipped = sitesSkipped
		stats.PagesScraped = pagesScraped
		stats.PagesFailed = pagesFailed
	})
}

func (s *SQLiteStore) AddLeadStats(ctx context.Context, id string, found, filtered, duplicates int) error {
	return s.updateStats(ctx, id, false, func(stats *model.JobStats) {
		stats.LeadsFound += found
		stats.LeadsFiltered += filtered
		stats.DuplicatesSkipped += duplicates
	})
}

// updateStats applies fn to the job's stats document in a transaction.
// With liveOnly, terminal jobs are left untouched.
func (s *SQLiteStore) updateStats(ctx context.Context, id string, liveOnly bool, fn func(*model.JobStats)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin update stats")
	}
	defer tx.Rollback() //nolint:errcheck

	var status, statsJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT status, stats FROM scrape_jobs WHERE id = ?`, id,
	).Scan(&status, &statsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return eris.Wrapf(err, "sqlite: read job %s", id)
	}
	if liveOnly && model.JobStatus(status).Terminal() {
		return nil
	}

	var stats model.JobStats
	if err := json.Unmarshal([]byte(statsJSON), &stats); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal job stats")
	}
	fn(&stats)
	merged, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job stats")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE scrape_jobs SET stats = ? WHERE id = ?`, string(merged), id,
	); err != nil {
		return eris.Wrapf(err, "sqlite: update job stats %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit update stats")
}

func (s *SQLiteStore) ListJobSites(ctx context.Context, jobID string) ([]model.JobSite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, candidate_id, domain, url, scraped FROM scrape_job_sites
		 WHERE job_id = ? ORDER BY domain`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list job sites")
	}
	defer rows.Close()
	return collectJobSitesSQLite(rows)
}

func (s *SQLiteStore) MarkSitesScraped(ctx context.Context, jobID string, domains []string) error {
	if len(domains) == 0 {
		return nil
	}
	args := make([]any, 0, len(domains)+1)
	args = append(args, jobID)
	for _, d := range domains {
		args = append(args, d)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE scrape_job_sites SET scraped = TRUE
		 WHERE job_id = ? AND domain IN (`+placeholders(len(domains))+`)`,
		args...,
	)
	return eris.Wrapf(err, "sqlite: mark sites scraped %s", jobID)
}

func (s *SQLiteStore) UnscrapedSites(ctx context.Context, jobID string) ([]model.JobSite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, candidate_id, domain, url, scraped FROM scrape_job_sites
		 WHERE job_id = ? AND NOT scraped ORDER BY domain`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: unscraped sites")
	}
	defer rows.Close()
	return collectJobSitesSQLite(rows)
}

func collectJobSitesSQLite(rows *sql.Rows) ([]model.JobSite, error) {
	var sites []model.JobSite
	for rows.Next() {
		var site model.JobSite
		var candidateID int64
		if err := rows.Scan(&site.JobID, &candidateID, &site.Domain, &site.URL, &site.Scraped); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job site")
		}
		if candidateID != 0 {
			site.CandidateID = &candidateID
		}
		sites = append(sites, site)
	}
	return sites, eris.Wrap(rows.Err(), "sqlite: job sites iterate")
}

func scanJobSQLite(row rowScanner) (*model.ScrapeJob, error) {
	var j model.ScrapeJob
	var overrideJSON, statsJSON string
	var runID sql.NullString
	var sourceID sql.NullInt64
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(&j.ID, &j.Kind, &runID, &sourceID, &j.ProfileID, &j.RetryOf,
		&overrideJSON, &j.Status, &statsJSON, &j.ErrorMessage, &j.CancelRequested,
		&j.ExecutorHandle, &j.IngestCursor, &j.CreatedBy, &j.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	if runID.Valid {
		j.RunID = &runID.String
	}
	if sourceID.Valid {
		j.SourceID = &sourceID.Int64
	}
	var override model.ScrapeOverride
	if err := json.Unmarshal([]byte(overrideJSON), &override); err != nil {
		return nil, eris.Wrap(err, "unmarshal job override")
	}
	if override != (model.ScrapeOverride{}) {
		j.Override = &override
	}
	if err := json.Unmarshal([]byte(statsJSON), &j.Stats); err != nil {
		return nil, eris.Wrap(err, "unmarshal job stats")
	}
	j.StartedAt = nullableTime(startedAt)
	j.FinishedAt = nullableTime(finishedAt)
	return &j, nil
}
