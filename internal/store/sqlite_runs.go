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

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.DiscoveryRun) error {
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
		return eris.Wrap(err, "sqlite: marshal source stats")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discovery_runs (id, profile_id, status, source_stats, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProfileID, string(run.Status), string(statsJSON), run.CreatedBy, run.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert run for profile %d", run.ProfileID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.DiscoveryRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM discovery_runs WHERE id = ?`, id)
	run, err := scanRunSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.DiscoveryRun, error) {
	query := `SELECT ` + runColumns + ` FROM discovery_runs WHERE true`
	args := []any{}

	if filter.ProfileID != 0 {
		query += ` AND profile_id = ?`
		args = append(args, filter.ProfileID)
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
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.DiscoveryRun
	for rows.Next() {
		run, err := scanRunSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ListActiveRuns(ctx context.Context) ([]model.DiscoveryRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM discovery_runs
		 WHERE status IN ('queued', 'running') ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active runs")
	}
	defer rows.Close()

	var runs []model.DiscoveryRun
	for rows.Next() {
		run, err := scanRunSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan active run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list active runs iterate")
}

func (s *SQLiteStore) SetRunHandle(ctx context.Context, id, handle string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_runs SET executor_handle = ? WHERE id = ?`, handle, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set run handle %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) SetRunCursor(ctx context.Context, id string, cursor int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_runs SET ingest_cursor = ? WHERE id = ?`, cursor, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set run cursor %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) IngestCandidates(ctx context.Context, runID string, cands []model.SiteCandidate, delta map[string]model.SourceStats) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin ingest")
	}
	defer tx.Rollback() //nolint:errcheck

	insertedBySource := map[string]int{}
	total := 0
	for _, c := range cands {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO site_candidates
			 (run_id, domain, homepage_url, company_name, source_type, location, match_score, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (run_id, domain) DO NOTHING`,
			runID, c.Domain, c.HomepageURL, c.CompanyName, c.SourceType, c.Location, c.MatchScore, time.Now().UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert candidate %s", c.Domain)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		if n > 0 {
			insertedBySource[c.SourceType]++
			total++
		}
	}

	var status, statsJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT status, source_stats FROM discovery_runs WHERE id = ?`, runID,
	).Scan(&status, &statsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, eris.Wrapf(err, "sqlite: read run %s", runID)
	}

	stats := map[string]model.SourceStats{}
	if err := json.Unmarshal([]byte(statsJSON), &stats); err != nil {
		return 0, eris.Wrap(err, "sqlite: unmarshal source stats")
	}
	for src, d := range delta {
		d.RowsInserted = insertedBySource[src]
		stats[src] = stats[src].Add(d)
	}
	merged, err := json.Marshal(stats)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal source stats")
	}

	if status == string(model.RunStatusQueued) {
		_, err = tx.ExecContext(ctx,
			`UPDATE discovery_runs
			 SET source_stats = ?, sites_found = sites_found + ?, status = 'running', started_at = ?
			 WHERE id = ?`,
			string(merged), total, time.Now().UTC(), runID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE discovery_runs SET source_stats = ?, sites_found = sites_found + ? WHERE id = ?`,
			string(merged), total, runID,
		)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: update run stats %s", runID)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit ingest")
	}
	return total, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, final map[string]model.SourceStats) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin complete run")
	}
	defer tx.Rollback() //nolint:errcheck

	var status, statsJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT status, source_stats FROM discovery_runs WHERE id = ?`, runID,
	).Scan(&status, &statsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, eris.Wrapf(err, "sqlite: read run %s", runID)
	}
	if model.RunStatus(status).Terminal() {
		return false, nil
	}

	stats := map[string]model.SourceStats{}
	if err := json.Unmarshal([]byte(statsJSON), &stats); err != nil {
		return false, eris.Wrap(err, "sqlite: unmarshal source stats")
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
		return false, eris.Wrap(err, "sqlite: marshal source stats")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE discovery_runs SET status = 'completed', source_stats = ?, finished_at = ? WHERE id = ?`,
		string(merged), time.Now().UTC(), runID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit complete run")
	}
	return true, nil
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID, errMsg string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_runs SET status = 'failed', error_message = ?, finished_at = ?
		 WHERE id = ? AND status IN ('queued', 'running')`,
		errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, runID string, f CandidateFilter) ([]model.SiteCandidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM site_candidates WHERE run_id = ?`
	args := []any{runID}

	if f.MinScore != nil {
		query += ` AND match_score >= ?`
		args = append(args, *f.MinScore)
	}
	if f.Selected != nil {
		query += ` AND is_selected = ?`
		args = append(args, *f.Selected)
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
	query += ` LIMIT ?`
	args = append(args, limit)

	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close()

	var out []model.SiteCandidate
	for rows.Next() {
		c, err := scanCandidateSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list candidates iterate")
}

func (s *SQLiteStore) GetCandidates(ctx context.Context, ids []int64) ([]model.SiteCandidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+candidateColumns+` FROM site_candidates WHERE id IN (`+placeholders(len(ids))+`)`,
		int64Args(ids)...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get candidates")
	}
	defer rows.Close()

	var out []model.SiteCandidate
	for rows.Next() {
		c, err := scanCandidateSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get candidates iterate")
}

func (s *SQLiteStore) ClaimCandidates(ctx context.Context, runID string, ids []int64) ([]model.SiteCandidate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin claim")
	}
	defer tx.Rollback() //nolint:errcheck

	var claimed []model.SiteCandidate
	for _, id := range ids {
		row := tx.QueryRowContext(ctx,
			`UPDATE site_candidates SET is_selected = TRUE
			 WHERE id = ? AND run_id = ? AND is_selected = FALSE
			 RETURNING `+candidateColumns,
			id, runID,
		)
		c, err := scanCandidateSQLite(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, eris.Wrapf(err, "sqlite: claim candidate %d", id)
		}
		claimed = append(claimed, *c)
	}

	if len(claimed) > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE discovery_runs SET sites_selected = sites_selected + ? WHERE id = ?`,
			len(claimed), runID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: bump sites_selected %s", runID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim")
	}
	return claimed, nil
}

func scanRunSQLite(row rowScanner) (*model.DiscoveryRun, error) {
	var r model.DiscoveryRun
	var statsJSON string
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(&r.ID, &r.ProfileID, &r.Status, &r.SitesFound, &r.SitesSelected, &statsJSON,
		&r.ErrorMessage, &r.ExecutorHandle, &r.IngestCursor, &r.CreatedBy, &r.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(statsJSON), &r.SourceStats); err != nil {
		return nil, eris.Wrap(err, "unmarshal source stats")
	}
	r.StartedAt = nullableTime(startedAt)
	r.FinishedAt = nullableTime(finishedAt)
	return &r, nil
}

func scanCandidateSQLite(row rowScanner) (*model.SiteCandidate, error) {
	var c model.SiteCandidate
	err := row.Scan(&c.ID, &c.RunID, &c.Domain, &c.HomepageURL, &c.CompanyName,
		&c.SourceType, &c.Location, &c.MatchScore, &c.Selected, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
