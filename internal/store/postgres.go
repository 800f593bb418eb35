package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout-cli/internal/db"
	"github.com/sells-group/leadscout-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationsPostgres)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Profiles are stored as JSON documents alongside the columns queries
// filter on, so adding a profile knob never needs a schema change.

func (s *PostgresStore) PutDiscoveryProfile(ctx context.Context, p *model.DiscoveryProfile) (int64, error) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	doc, err := json.Marshal(p)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal discovery profile")
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO discovery_profiles (name, enabled, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (name) DO UPDATE SET enabled = $2, doc = $3, updated_at = $4
		 RETURNING id`,
		p.Name, p.Enabled, doc, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: put discovery profile %s", p.Name)
	}
	p.ID = id
	return id, nil
}

func (s *PostgresStore) GetDiscoveryProfile(ctx context.Context, id int64) (*model.DiscoveryProfile, error) {
	var doc []byte
	var p model.DiscoveryProfile
	err := s.pool.QueryRow(ctx,
		`SELECT id, enabled, doc, created_at, updated_at FROM discovery_profiles WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Enabled, &doc, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get discovery profile %d", id)
	}
	return decodeDiscoveryProfile(&p, doc)
}

func (s *PostgresStore) ListDiscoveryProfiles(ctx context.Context) ([]model.DiscoveryProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, enabled, doc, created_at, updated_at FROM discovery_profiles ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list discovery profiles")
	}
	defer rows.Close()

	var out []model.DiscoveryProfile
	for rows.Next() {
		var p model.DiscoveryProfile
		var doc []byte
		if err := rows.Scan(&p.ID, &p.Enabled, &doc, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan discovery profile")
		}
		decoded, err := decodeDiscoveryProfile(&p, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *decoded)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list discovery profiles iterate")
}

func (s *PostgresStore) DeleteDiscoveryProfile(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM discovery_profiles WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete discovery profile %d", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PutScrapeProfile(ctx context.Context, p *model.ScrapeProfile) (int64, error) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	doc, err := json.Marshal(p)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal scrape profile")
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO scrape_profiles (name, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (name) DO UPDATE SET doc = $2, updated_at = $3
		 RETURNING id`,
		p.Name, doc, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: put scrape profile %s", p.Name)
	}
	p.ID = id
	return id, nil
}

func (s *PostgresStore) GetScrapeProfile(ctx context.Context, id int64) (*model.ScrapeProfile, error) {
	var doc []byte
	var p model.ScrapeProfile
	err := s.pool.QueryRow(ctx,
		`SELECT id, doc, created_at, updated_at FROM scrape_profiles WHERE id = $1`,
		id,
	).Scan(&p.ID, &doc, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get scrape profile %d", id)
	}
	return decodeScrapeProfile(&p, doc)
}

func (s *PostgresStore) ListScrapeProfiles(ctx context.Context) ([]model.ScrapeProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, doc, created_at, updated_at FROM scrape_profiles ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scrape profiles")
	}
	defer rows.Close()

	var out []model.ScrapeProfile
	for rows.Next() {
		var p model.ScrapeProfile
		var doc []byte
		if err := rows.Scan(&p.ID, &doc, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scrape profile")
		}
		decoded, err := decodeScrapeProfile(&p, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *decoded)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list scrape profiles iterate")
}

func (s *PostgresStore) PutScrapeSource(ctx context.Context, src *model.ScrapeSource) (int64, error) {
	now := time.Now().UTC()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}

	doc, err := json.Marshal(src)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal scrape source")
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO scrape_sources (name, enabled, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (name) DO UPDATE SET enabled = $2, doc = $3, updated_at = $4
		 RETURNING id`,
		src.Name, src.Enabled, doc, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: put scrape source %s", src.Name)
	}
	src.ID = id
	return id, nil
}

func (s *PostgresStore) GetScrapeSource(ctx context.Context, id int64) (*model.ScrapeSource, error) {
	var doc []byte
	var src model.ScrapeSource
	err := s.pool.QueryRow(ctx,
		`SELECT id, enabled, doc, created_at FROM scrape_sources WHERE id = $1`,
		id,
	).Scan(&src.ID, &src.Enabled, &doc, &src.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get scrape source %d", id)
	}
	return decodeScrapeSource(&src, doc)
}

func (s *PostgresStore) ListScrapeSources(ctx context.Context, enabledOnly bool) ([]model.ScrapeSource, error) {
	query := `SELECT id, enabled, doc, created_at FROM scrape_sources`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scrape sources")
	}
	defer rows.Close()

	var out []model.ScrapeSource
	for rows.Next() {
		var src model.ScrapeSource
		var doc []byte
		if err := rows.Scan(&src.ID, &src.Enabled, &doc, &src.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scrape source")
		}
		decoded, err := decodeScrapeSource(&src, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *decoded)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list scrape sources iterate")
}

// decode helpers keep the column values authoritative over whatever the
// JSON document recorded at write time.

func decodeDiscoveryProfile(p *model.DiscoveryProfile, doc []byte) (*model.DiscoveryProfile, error) {
	id, enabled, created, updated := p.ID, p.Enabled, p.CreatedAt, p.UpdatedAt
	if err := json.Unmarshal(doc, p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal discovery profile")
	}
	p.ID, p.Enabled, p.CreatedAt, p.UpdatedAt = id, enabled, created, updated
	return p, nil
}

func decodeScrapeProfile(p *model.ScrapeProfile, doc []byte) (*model.ScrapeProfile, error) {
	id, created, updated := p.ID, p.CreatedAt, p.UpdatedAt
	if err := json.Unmarshal(doc, p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal scrape profile")
	}
	p.ID, p.CreatedAt, p.UpdatedAt = id, created, updated
	return p, nil
}

func decodeScrapeSource(src *model.ScrapeSource, doc []byte) (*model.ScrapeSource, error) {
	id, enabled, created := src.ID, src.Enabled, src.CreatedAt
	if err := json.Unmarshal(doc, src); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal scrape source")
	}
	src.ID, src.Enabled, src.CreatedAt = id, enabled, created
	return src, nil
}
