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

func (s *SQLiteStore) InsertLead(ctx context.Context, lead *model.StagedLead) (bool, error) {
	lead.Status = model.LeadStatusPending
	lead.CreatedAt = time.Now().UTC()

	emailsJSON, err := json.Marshal(emptyIfNil(lead.Emails))
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal emails")
	}
	phonesJSON, err := json.Marshal(emptyIfNil(lead.Phones))
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal phones")
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO staged_leads
		 (job_id, company_name, website, website_norm, emails, phones, country, match_score, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id, website_norm) DO NOTHING
		 RETURNING id`,
		lead.JobID, lead.CompanyName, lead.Website, leadNorm(lead),
		string(emailsJSON), string(phonesJSON), lead.Country, lead.MatchScore, string(lead.Status), lead.CreatedAt,
	).Scan(&lead.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, eris.Wrapf(err, "sqlite: insert lead %s", lead.WebsiteNorm)
	}
	return true, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id int64) (*model.StagedLead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM staged_leads WHERE id = ?`, id)
	lead, err := scanLeadSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get lead %d", id)
	}
	return lead, nil
}

func (s *SQLiteStore) GetLeads(ctx context.Context, ids []int64) ([]model.StagedLead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM staged_leads WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`,
		int64Args(ids)...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get leads")
	}
	defer rows.Close()
	return collectLeadsSQLite(rows)
}

func (s *SQLiteStore) ListLeads(ctx context.Context, f LeadFilter) ([]model.StagedLead, error) {
	query := `SELECT ` + leadColumns + ` FROM staged_leads WHERE true`
	args := []any{}

	if f.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, f.JobID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.MissingEmail {
		query += ` AND emails = '[]'`
	}
	if f.MissingPhone {
		query += ` AND phones = '[]'`
	}
	if f.MissingCountry {
		query += ` AND country = ''`
	}
	if f.ScoreBelow != nil {
		query += ` AND match_score < ?`
		args = append(args, *f.ScoreBelow)
	}
	query += ` ORDER BY match_score DESC, id`

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
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()
	return collectLeadsSQLite(rows)
}

func (s *SQLiteStore) TransitionLead(ctx context.Context, id int64, from, to model.LeadStatus, contactID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE staged_leads SET status = ?, contact_id = ?, reviewed_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), contactID, time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition lead %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) CreateList(ctx context.Context, list *model.LeadList, leadIDs []int64) error {
	if list.ID == "" {
		list.ID = uuid.New().String()
	}
	if list.Type == "" {
		list.Type = model.ListTypeManual
	}
	list.Status = model.ListStatusRaw
	now := time.Now().UTC()
	list.CreatedAt = now
	list.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create list")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO lead_lists (id, name, description, list_type, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		list.ID, list.Name, list.Description, string(list.Type), string(list.Status), now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert list %s", list.Name)
	}

	for _, leadID := range leadIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lead_list_members (list_id, lead_id) VALUES (?, ?)
			 ON CONFLICT DO NOTHING`,
			list.ID, leadID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: add member %d", leadID)
		}
	}
	list.MemberCount = len(leadIDs)

	return eris.Wrap(tx.Commit(), "sqlite: commit create list")
}

func (s *SQLiteStore) GetList(ctx context.Context, id string) (*model.LeadList, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT l.id, l.name, l.description, l.list_type, l.status, l.created_at, l.updated_at,
		        (SELECT COUNT(*) FROM lead_list_members m WHERE m.list_id = l.id)
		 FROM lead_lists l WHERE l.id = ?`,
		id,
	)
	list, err := scanListSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get list %s", id)
	}
	return list, nil
}

func (s *SQLiteStore) ListLists(ctx context.Context) ([]model.LeadList, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.name, l.description, l.list_type, l.status, l.created_at, l.updated_at,
		        (SELECT COUNT(*) FROM lead_list_members m WHERE m.list_id = l.id)
		 FROM lead_lists l ORDER BY l.created_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list lists")
	}
	defer rows.Close()

	var lists []model.LeadList
	for rows.Next() {
		list, err := scanListSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan list")
		}
		lists = append(lists, *list)
	}
	return lists, eris.Wrap(rows.Err(), "sqlite: list lists iterate")
}

func (s *SQLiteStore) AdvanceListStatus(ctx context.Context, id string, from []model.ListStatus, to model.ListStatus) (bool, error) {
	args := []any{string(to), time.Now().UTC(), id}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE lead_lists SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: advance list %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) AddListMembers(ctx context.Context, listID string, leadIDs []int64) (int, error) {
	added := 0
	for _, leadID := range leadIDs {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO lead_list_members (list_id, lead_id) VALUES (?, ?)
			 ON CONFLICT DO NOTHING`,
			listID, leadID,
		)
		if err != nil {
			return added, eris.Wrapf(err, "sqlite: add list member %d", leadID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return added, eris.Wrap(err, "sqlite: rows affected")
		}
		added += int(n)
	}
	return added, nil
}

func (s *SQLiteStore) RemoveListMembers(ctx context.Context, listID string, leadIDs []int64) (int, error) {
	if len(leadIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(leadIDs)+1)
	args = append(args, listID)
	args = append(args, int64Args(leadIDs)...)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM lead_list_members WHERE list_id = ? AND lead_id IN (`+placeholders(len(leadIDs))+`)`,
		args...,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: remove list members %s", listID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) ListMembers(ctx context.Context, listID string) ([]model.StagedLead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+qualifiedLeadColumns()+` FROM staged_leads sl
		 JOIN lead_list_members m ON m.lead_id = sl.id
		 WHERE m.list_id = ? ORDER BY sl.id`,
		listID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list members")
	}
	defer rows.Close()
	return collectLeadsSQLite(rows)
}

func (s *SQLiteStore) TryAddImportFingerprint(ctx context.Context, listID, fingerprint string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_list_imports (list_id, fingerprint) VALUES (?, ?)
		 ON CONFLICT DO NOTHING`,
		listID, fingerprint,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: add import fingerprint %s", listID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) HasImportFingerprint(ctx context.Context, listID, fingerprint string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM lead_list_imports WHERE list_id = ? AND fingerprint = ?`,
		listID, fingerprint,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check import fingerprint %s", listID)
	}
	return true, nil
}

func scanLeadSQLite(row rowScanner) (*model.StagedLead, error) {
	var l model.StagedLead
	var emailsJSON, phonesJSON string
	var reviewedAt sql.NullTime
	err := row.Scan(&l.ID, &l.JobID, &l.CompanyName, &l.Website, &l.WebsiteNorm,
		&emailsJSON, &phonesJSON, &l.Country, &l.MatchScore, &l.Status, &l.ContactID,
		&l.CreatedAt, &reviewedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(emailsJSON), &l.Emails); err != nil {
		return nil, eris.Wrap(err, "unmarshal emails")
	}
	if err := json.Unmarshal([]byte(phonesJSON), &l.Phones); err != nil {
		return nil, eris.Wrap(err, "unmarshal phones")
	}
	l.ReviewedAt = nullableTime(reviewedAt)
	return &l, nil
}

func collectLeadsSQLite(rows *sql.Rows) ([]model.StagedLead, error) {
	var leads []model.StagedLead
	for rows.Next() {
		lead, err := scanLeadSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: leads iterate")
}

func scanListSQLite(row rowScanner) (*model.LeadList, error) {
	var l model.LeadList
	err := row.Scan(&l.ID, &l.Name, &l.Description, &l.Type, &l.Status,
		&l.CreatedAt, &l.UpdatedAt, &l.MemberCount)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
