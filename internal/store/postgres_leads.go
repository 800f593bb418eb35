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

const leadColumns = `id, job_id, company_name, website, COALESCE(website_norm, '') AS website_norm,
	emails, phones, country, match_score, status, contact_id, created_at, reviewed_at`

// leadNorm maps an empty normalized website to NULL so leads without a
// website never trip the per-job uniqueness rule.
func leadNorm(lead *model.StagedLead) *string {
	if lead.WebsiteNorm == "" {
		return nil
	}
	return &lead.WebsiteNorm
}

// InsertLead stages an extracted lead. Returns false when the job already
// has a lead with the same normalized website; leads without a website
// are always staged.
func (s *PostgresStore) InsertLead(ctx context.Context, lead *model.StagedLead) (bool, error) {
	lead.Status = model.LeadStatusPending
	lead.CreatedAt = time.Now().UTC()

	emailsJSON, err := json.Marshal(emptyIfNil(lead.Emails))
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal emails")
	}
	phonesJSON, err := json.Marshal(emptyIfNil(lead.Phones))
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal phones")
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO staged_leads
		 (job_id, company_name, website, website_norm, emails, phones, country, match_score, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (job_id, website_norm) DO NOTHING
		 RETURNING id`,
		lead.JobID, lead.CompanyName, lead.Website, leadNorm(lead),
		emailsJSON, phonesJSON, lead.Country, lead.MatchScore, string(lead.Status), lead.CreatedAt,
	).Scan(&lead.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, eris.Wrapf(err, "postgres: insert lead %s", lead.WebsiteNorm)
	}
	return true, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id int64) (*model.StagedLead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM staged_leads WHERE id = $1`, id)
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get lead %d", id)
	}
	return lead, nil
}

func (s *PostgresStore) GetLeads(ctx context.Context, ids []int64) ([]model.StagedLead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM staged_leads WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get leads")
	}
	defer rows.Close()
	return collectLeads(rows)
}

func (s *PostgresStore) ListLeads(ctx context.Context, f LeadFilter) ([]model.StagedLead, error) {
	query := `SELECT ` + leadColumns + ` FROM staged_leads WHERE true`
	args := []any{}
	argIdx := 1

	if f.JobID != "" {
		query += fmt.Sprintf(` AND job_id = $%d`, argIdx)
		args = append(args, f.JobID)
		argIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.MissingEmail {
		query += ` AND emails = '[]'::jsonb`
	}
	if f.MissingPhone {
		query += ` AND phones = '[]'::jsonb`
	}
	if f.MissingCountry {
		query += ` AND country = ''`
	}
	if f.ScoreBelow != nil {
		query += fmt.Sprintf(` AND match_score < $%d`, argIdx)
		args = append(args, *f.ScoreBelow)
		argIdx++
	}
	query += ` ORDER BY match_score DESC, id`

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
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()
	return collectLeads(rows)
}

// TransitionLead performs a compare-and-set on the lead's review status.
// Returns false when the lead was not in the expected from status, which
// serializes concurrent reviews of the same lead.
func (s *PostgresStore) TransitionLead(ctx context.Context, id int64, from, to model.LeadStatus, contactID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE staged_leads SET status = $1, contact_id = $2, reviewed_at = $3
		 WHERE id = $4 AND status = $5`,
		string(to), contactID, time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition lead %d", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CreateList(ctx context.Context, list *model.LeadList, leadIDs []int64) error {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create list")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO lead_lists (id, name, description, list_type, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		list.ID, list.Name, list.Description, string(list.Type), string(list.Status), now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert list %s", list.Name)
	}

	for _, leadID := range leadIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO lead_list_members (list_id, lead_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			list.ID, leadID,
		); err != nil {
			return eris.Wrapf(err, "postgres: add member %d", leadID)
		}
	}
	list.MemberCount = len(leadIDs)

	return eris.Wrap(tx.Commit(ctx), "postgres: commit create list")
}

func (s *PostgresStore) GetList(ctx context.Context, id string) (*model.LeadList, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT l.id, l.name, l.description, l.list_type, l.status, l.created_at, l.updated_at,
		        (SELECT COUNT(*) FROM lead_list_members m WHERE m.list_id = l.id)
		 FROM lead_lists l WHERE l.id = $1`,
		id,
	)
	list, err := scanList(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get list %s", id)
	}
	return list, nil
}

func (s *PostgresStore) ListLists(ctx context.Context) ([]model.LeadList, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.id, l.name, l.description, l.list_type, l.status, l.created_at, l.updated_at,
		        (SELECT COUNT(*) FROM lead_list_members m WHERE m.list_id = l.id)
		 FROM lead_lists l ORDER BY l.created_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list lists")
	}
	defer rows.Close()

	var lists []model.LeadList
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan list")
		}
		lists = append(lists, *list)
	}
	return lists, eris.Wrap(rows.Err(), "postgres: list lists iterate")
}

// AdvanceListStatus moves the list forward only when its current status is
// one of from. Returns false otherwise; list statuses never regress.
func (s *PostgresStore) AdvanceListStatus(ctx context.Context, id string, from []model.ListStatus, to model.ListStatus) (bool, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE lead_lists SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
		string(to), time.Now().UTC(), id, states,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: advance list %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) AddListMembers(ctx context.Context, listID string, leadIDs []int64) (int, error) {
	added := 0
	for _, leadID := range leadIDs {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO lead_list_members (list_id, lead_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			listID, leadID,
		)
		if err != nil {
			return added, eris.Wrapf(err, "postgres: add list member %d", leadID)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

func (s *PostgresStore) RemoveListMembers(ctx context.Context, listID string, leadIDs []int64) (int, error) {
	if len(leadIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM lead_list_members WHERE list_id = $1 AND lead_id = ANY($2)`,
		listID, leadIDs,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: remove list members %s", listID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, listID string) ([]model.StagedLead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+qualifiedLeadColumns()+` FROM staged_leads sl
		 JOIN lead_list_members m ON m.lead_id = sl.id
		 WHERE m.list_id = $1 ORDER BY sl.id`,
		listID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list members")
	}
	defer rows.Close()
	return collectLeads(rows)
}

func (s *PostgresStore) TryAddImportFingerprint(ctx context.Context, listID, fingerprint string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO lead_list_imports (list_id, fingerprint) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		listID, fingerprint,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: add import fingerprint %s", listID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) HasImportFingerprint(ctx context.Context, listID, fingerprint string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lead_list_imports WHERE list_id = $1 AND fingerprint = $2)`,
		listID, fingerprint,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check import fingerprint %s", listID)
	}
	return exists, nil
}

func qualifiedLeadColumns() string {
	return `sl.id, sl.job_id, sl.company_name, sl.website, COALESCE(sl.website_norm, '') AS website_norm,
	sl.emails, sl.phones, sl.country, sl.match_score, sl.status, sl.contact_id, sl.created_at, sl.reviewed_at`
}

func scanLead(row pgx.Row) (*model.StagedLead, error) {
	var l model.StagedLead
	var emailsJSON, phonesJSON []byte
	err := row.Scan(&l.ID, &l.JobID, &l.CompanyName, &l.Website, &l.WebsiteNorm,
		&emailsJSON, &phonesJSON, &l.Country, &l.MatchScore, &l.Status, &l.ContactID,
		&l.CreatedAt, &l.ReviewedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(emailsJSON, &l.Emails); err != nil {
		return nil, eris.Wrap(err, "unmarshal emails")
	}
	if err := json.Unmarshal(phonesJSON, &l.Phones); err != nil {
		return nil, eris.Wrap(err, "unmarshal phones")
	}
	return &l, nil
}

func collectLeads(rows pgx.Rows) ([]model.StagedLead, error) {
	var leads []model.StagedLead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: leads iterate")
}

func scanList(row pgx.Row) (*model.LeadList, error) {
	var l model.LeadList
	err := row.Scan(&l.ID, &l.Name, &l.Description, &l.Type, &l.Status,
		&l.CreatedAt, &l.UpdatedAt, &l.MemberCount)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
