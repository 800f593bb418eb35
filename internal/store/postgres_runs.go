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

	"github.com/sells-group/leadscout-cli/internal/model"
)

const runColumns = `id, profile_id, status, sites_found, sites_selected, source_stats,
	error_message, executor_handle, ingest_cursor, created_by, created_at, started_at, finished_at`

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.DiscoveryRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.Status = model.RunStatusQueued
	run.CreatedAt = time.Now().UTC()
	if run.SourceStats == nil {
		run.SourceStats = map[string]model.SourceStats{}
	}

	statsJSON, err := json.Marshal(run.SourceStats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal source stats")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO discovery_runs (id, profile_id, status, source_stats, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.ProfileID, string(run.Status), statsJSON, run.CreatedBy, run.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert run for profile %d", run.ProfileID)
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.DiscoveryRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM discovery_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.DiscoveryRun, error) {
	query := `SELECT ` + runColumns + ` FROM discovery_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ProfileID != 0 {
		query += fmt.Sprintf(` AND profile_id = $%d`, argIdx)
		args = append(args, filter.ProfileID)
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
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.DiscoveryRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) ListActiveRuns(ctx context.Context) ([]model.DiscoveryRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM discovery_runs
		 WHERE status IN ('queued', 'running') ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active runs")
	}
	defer rows.Close()

	var runs []model.DiscoveryRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan active run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list active runs iterate")
}

func (s *PostgresStore) SetRunHandle(ctx context.Context, id, handle string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_runs SET executor_handle = $1 WHERE id = $2`, handle, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set run handle %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetRunCursor(ctx context.Context, id string, cursor int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_runs SET ingest_cursor = $1 WHERE id = $2`, cursor, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set run cursor %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IngestCandidates inserts a page of accepted candidates, folds the
// per-source counters into the run, and bumps sites_found, all in one
// transaction. Rows the executor re-delivers collide on (run_id, domain)
// and are ignored; RowsInserted is corrected to what actually landed.
func (s *PostgresStore) IngestCandidates(ctx context.Context, runID string, cands []model.SiteCandidate, delta map[string]model.SourceStats) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin ingest")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	insertedBySource := map[string]int{}
	total := 0
	for _, c := range cands {
		tag, err := tx.Exec(ctx,
			`INSERT INTO site_candidates
			 (run_id, domain, homepage_url, company_name, source_type, location, match_score, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (run_id, domain) DO NOTHING`,
			runID, c.Domain, c.HomepageURL, c.CompanyName, c.SourceType, c.Location, c.MatchScore, time.Now().UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: insert candidate %s", c.Domain)
		}
		if tag.RowsAffected() > 0 {
			insertedBySource[c.SourceType]++
			total++
		}
	}

	var status string
	var statsJSON []byte
	err = tx.QueryRow(ctx,
		`SELECT status, source_stats FROM discovery_runs WHERE id = $1 FOR UPDATE`, runID,
	).Scan(&status, &statsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, eris.Wrapf(err, "postgres: lock run %s", runID)
	}

	stats := map[string]model.SourceStats{}
	if err := json.Unmarshal(statsJSON, &stats); err != nil {
		return 0, eris.Wrap(err, "postgres: unmarshal source stats")
	}
	for src, d := range delta {
		d.RowsInserted = insertedBySource[src]
		stats[src] = stats[src].Add(d)
	}
	merged, err := json.Marshal(stats)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal source stats")
	}

	if status == string(model.RunStatusQueued) {
		_, err = tx.Exec(ctx,
			`UPDATE discovery_runs
			 SET source_stats = $1, sites_found = sites_found + $2, status = 'running', started_at = $3
			 WHERE id = $4`,
			merged, total, time.Now().UTC(), runID,
		)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE discovery_runs SET source_stats = $1, sites_found = sites_found + $2 WHERE id = $3`,
			merged, total, runID,
		)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: update run stats %s", runID)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit ingest")
	}
	return total, nil
}

// CompleteRun finalizes a run. The executor's final counters for queries
// issued and raw results are authoritative; the row-level counters were
// accumulated during ingestion and are kept.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, final map[string]model.SourceStats) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin complete run")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status string
	var statsJSON []byte
	err = tx.QueryRow(ctx,
		`SELECT status, source_stats FROM discovery_runs WHERE id = $1 FOR UPDATE`, runID,
	).Scan(&status, &statsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, eris.Wrapf(err, "postgres: lock run %s", runID)
	}
	if model.RunStatus(status).Terminal() {
		return false, nil
	}

	stats := map[string]model.SourceStats{}
	if err := json.Unmarshal(statsJSON, &stats); err != nil {
		return false, eris.Wrap(err, "postgres: unmarshal source stats")
	}
	for src, f := range final {
		cur := stats[src]
		if f.QueriesIssued > 0 {
			cur.QueriesIssued = f.QueriesIssued
		}
		if f.RawResults > 0 {
			cur.RawResults = f.RawResults
		}
		stats[src] = cur
	}
	merged, err := json.Marshal(stats)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal source stats")
	}

	_, err = tx.Exec(ctx,
		`UPDATE discovery_runs SET status = 'completed', source_stats = $1, finished_at = $2 WHERE id = $3`,
		merged, time.Now().UTC(), runID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: commit complete run")
	}
	return true, nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID, errMsg string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_runs SET status = 'failed', error_message = $1, finished_at = $2
		 WHERE id = $3 AND status IN ('queued', 'running')`,
		errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	return tag.RowsAffected() > 0, nil
}

const candidateColumns = `id, run_id, domain, homepage_url, company_name, source_type, location, match_score, is_selected, created_at`

func (s *PostgresStore) ListCandidates(ctx context.Context, runID string, f CandidateFilter) ([]model.SiteCandidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM site_candidates WHERE run_id = $1`
	args := []any{runID}
	argIdx := 2

	if f.MinScore != nil {
		query += fmt.Sprintf(` AND match_score >= $%d`, argIdx)
		args = append(args, *f.MinScore)
		argIdx++
	}
	if f.Selected != nil {
		query += fmt.Sprintf(` AND is_selected = $%d`, argIdx)
		args = append(args, *f.Selected)
		argIdx++
	}

	switch f.SortBy {
	case "name":
		query += ` ORDER BY company_name, domain`
	case "created":
		query += ` ORDER BY created_at, id`
	default:
		query += ` ORDER BY match_score DESC, domain`
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if f.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var out []model.SiteCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list candidates iterate")
}

func (s *PostgresStore) GetCandidates(ctx context.Context, ids []int64) ([]model.SiteCandidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM site_candidates WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get candidates")
	}
	defer rows.Close()

	var out []model.SiteCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get candidates iterate")
}

// ClaimCandidates flips is_selected on each not-yet-claimed candidate and
// returns exactly the rows this call won. The CAS in the UPDATE is what
// prevents two concurrent job creations from targeting the same site.
func (s *PostgresStore) ClaimCandidates(ctx context.Context, runID string, ids []int64) ([]model.SiteCandidate, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin claim")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var claimed []model.SiteCandidate
	for _, id := range ids {
		row := tx.QueryRow(ctx,
			`UPDATE site_candidates SET is_selected = TRUE
			 WHERE id = $1 AND run_id = $2 AND is_selected = FALSE
			 RETURNING `+candidateColumns,
			id, runID,
		)
		c, err := scanCandidate(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue // already claimed, or not part of this run
			}
			return nil, eris.Wrapf(err, "postgres: claim candidate %d", id)
		}
		claimed = append(claimed, *c)
	}

	if len(claimed) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE discovery_runs SET sites_selected = sites_selected + $1 WHERE id = $2`,
			len(claimed), runID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: bump sites_selected %s", runID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit claim")
	}
	return claimed, nil
}

func scanRun(row pgx.Row) (*model.DiscoveryRun, error) {
	var r model.DiscoveryRun
	var statsJSON []byte
	err := row.Scan(&r.ID, &r.ProfileID, &r.Status, &r.SitesFound, &r.SitesSelected, &statsJSON,
		&r.ErrorMessage, &r.ExecutorHandle, &r.IngestCursor, &r.CreatedBy, &r.CreatedAt, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(statsJSON, &r.SourceStats); err != nil {
		return nil, eris.Wrap(err, "unmarshal source stats")
	}
	return &r, nil
}

func scanCandidate(row pgx.Row) (*model.SiteCandidate, error) {
	var c model.SiteCandidate
	err := row.Scan(&c.ID, &c.RunID, &c.Domain, &c.HomepageURL, &c.CompanyName,
		&c.SourceType, &c.Location, &c.MatchScore, &c.Selected, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
