package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadscout-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// A single writer avoids SQLITE_BUSY under the monitor's concurrent sweeps.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrationsSQLite)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) PutDiscoveryProfile(ctx context.Context, p *model.DiscoveryProfile) (int64, error) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	doc, err := json.Marshal(p)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal discovery profile")
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO discovery_profiles (name, enabled, doc, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET enabled = excluded.enabled, doc = excluded.doc, updated_at = excluded.updated_at
		 RETURNING id`,
		p.Name, p.Enabled, string(doc), now, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: put discovery profile %s", p.Name)
	}
	p.ID = id
	return id, nil
}

func (s *SQLiteStore) GetDiscoveryProfile(ctx context.Context, id int64) (*model.DiscoveryProfile, error) {
	var doc string
	var p model.DiscoveryProfile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, enabled, doc, created_at, updated_at FROM discovery_profiles WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.Enabled, &doc, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get discovery profile %d", id)
	}
	return decodeDiscoveryProfile(&p, []byte(doc))
}

func (s *SQLiteStore) ListDiscoveryProfiles(ctx context.Context) ([]model.DiscoveryProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, enabled, doc, created_at, updated_at FROM discovery_profiles ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list discovery profiles")
	}
	defer rows.Close()

	var out []model.DiscoveryProfile
	for rows.Next() {
		var p model.DiscoveryProfile
		var doc string
		if err := rows.Scan(&p.ID, &p.Enabled, &doc, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan discovery profile")
		}
		decoded, err := decodeDiscoveryProfile(&p, []byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, *decoded)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list discovery profiles iterate")
}

func (s *SQLiteStore) DeleteDiscoveryProfile(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM discovery_profiles WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete discovery profile %d", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) PutScrapeProfile(ctx context.Context, p *model.ScrapeProfile) (int64, error) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	doc, err := json.Marshal(p)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal scrape profile")
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO scrape_profiles (name, doc, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
		 RETURNING id`,
		p.Name, string(doc), now, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: put scrape profile %s", p.Name)
	}
	p.ID = id
	return id, nil
}

func (s *SQLiteStore) GetScrapeProfile(ctx context.Context, id int64) (*model.ScrapeProfile, error) {
	var doc string
	var p model.ScrapeProfile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, doc, created_at, updated_at FROM scrape_profiles WHERE id = ?`,
		id,
	).Scan(&p.ID, &doc, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get scrape profile %d", id)
	}
	return decodeScrapeProfile(&p, []byte(doc))
}

func (s *SQLiteStore) ListScrapeProfiles(ctx context.Context) ([]model.ScrapeProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc, created_at, updated_at FROM scrape_profiles ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scrape profiles")
	}
	defer rows.Close()

	var out []model.ScrapeProfile
	for rows.Next() {
		var p model.ScrapeProfile
		var doc string
		if err := rows.Scan(&p.ID, &doc, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scrape profile")
		}
		decoded, err := decodeScrapeProfile(&p, []byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, *decoded)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list scrape profiles iterate")
}

func (s *SQLiteStore) PutScrapeSource(ctx context.Context, src *model.ScrapeSource) (int64, error) {
	now := time.Now().UTC()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}

	doc, err := json.Marshal(src)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal scrape source")
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO scrape_sources (name, enabled, doc, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET enabled = excluded.enabled, doc = excluded.doc, updated_at = excluded.updated_at
		 RETURNING id`,
		src.Name, src.Enabled, string(doc), now, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: put scrape source %s", src.Name)
	}
	src.ID = id
	return id, nil
}

func (s *SQLiteStore) GetScrapeSource(ctx context.Context, id int64) (*model.ScrapeSource, error) {
	var doc string
	var src model.ScrapeSource
	err := s.db.QueryRowContext(ctx,
		`SELECT id, enabled, doc, created_at FROM scrape_sources WHERE id = ?`,
		id,
	).Scan(&src.ID, &src.Enabled, &doc, &src.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get scrape source %d", id)
	}
	return decodeScrapeSource(&src, []byte(doc))
}

func (s *SQLiteStore) ListScrapeSources(ctx context.Context, enabledOnly bool) ([]model.ScrapeSource, error) {
	query := `SELECT id, enabled, doc, created_at FROM scrape_sources`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scrape sources")
	}
	defer rows.Close()

	var out []model.ScrapeSource
	for rows.Next() {
		var src model.ScrapeSource
		var doc string
		if err := rows.Scan(&src.ID, &src.Enabled, &doc, &src.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scrape source")
		}
		decoded, err := decodeScrapeSource(&src, []byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, *decoded)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list scrape sources iterate")
}

// checkRowsAffected maps a zero-row update to ErrNotFound.
func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// placeholders returns "?, ?, ..." for n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
