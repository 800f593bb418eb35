package store

// migrationsPostgres holds the schema for the postgres driver. Profiles
// are stored as JSONB documents alongside the columns the queries need;
// everything queried or CAS-updated gets its own column.
const migrationsPostgres = `
CREATE TABLE IF NOT EXISTS discovery_profiles (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	doc JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS scrape_profiles (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	doc JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS scrape_sources (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	doc JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS discovery_runs (
	id TEXT PRIMARY KEY,
	profile_id BIGINT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	sites_found INTEGER NOT NULL DEFAULT 0,
	sites_selected INTEGER NOT NULL DEFAULT 0,
	source_stats JSONB NOT NULL DEFAULT '{}',
	error_message TEXT NOT NULL DEFAULT '',
	executor_handle TEXT NOT NULL DEFAULT '',
	ingest_cursor INTEGER NOT NULL DEFAULT 0,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_discovery_runs_status ON discovery_runs (status);
CREATE INDEX IF NOT EXISTS idx_discovery_runs_profile ON discovery_runs (profile_id);

CREATE TABLE IF NOT EXISTS site_candidates (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES discovery_runs(id),
	domain TEXT NOT NULL,
	homepage_url TEXT NOT NULL DEFAULT '',
	company_name TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	match_score INTEGER NOT NULL DEFAULT 0,
	is_selected BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (run_id, domain)
);
CREATE INDEX IF NOT EXISTS idx_site_candidates_run ON site_candidates (run_id);

CREATE TABLE IF NOT EXISTS scrape_jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	run_id TEXT,
	source_id BIGINT,
	profile_id BIGINT NOT NULL,
	retry_of TEXT NOT NULL DEFAULT '',
	override JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'queued',
	stats JSONB NOT NULL DEFAULT '{}',
	error_message TEXT NOT NULL DEFAULT '',
	cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
	executor_handle TEXT NOT NULL DEFAULT '',
	ingest_cursor INTEGER NOT NULL DEFAULT 0,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status ON scrape_jobs (status);
CREATE INDEX IF NOT EXISTS idx_scrape_jobs_run ON scrape_jobs (run_id);

CREATE TABLE IF NOT EXISTS scrape_job_sites (
	job_id TEXT NOT NULL REFERENCES scrape_jobs(id),
	candidate_id BIGINT NOT NULL DEFAULT 0,
	domain TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	scraped BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (job_id, domain)
);

CREATE TABLE IF NOT EXISTS staged_leads (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES scrape_jobs(id),
	company_name TEXT NOT NULL DEFAULT '',
	website TEXT NOT NULL DEFAULT '',
	website_norm TEXT,
	emails JSONB NOT NULL DEFAULT '[]',
	phones JSONB NOT NULL DEFAULT '[]',
	country TEXT NOT NULL DEFAULT '',
	match_score INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	contact_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	reviewed_at TIMESTAMPTZ,
	UNIQUE (job_id, website_norm)
);
CREATE INDEX IF NOT EXISTS idx_staged_leads_job ON staged_leads (job_id);
CREATE INDEX IF NOT EXISTS idx_staged_leads_status ON staged_leads (status);

CREATE TABLE IF NOT EXISTS lead_lists (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	list_type TEXT NOT NULL DEFAULT 'manual',
	status TEXT NOT NULL DEFAULT 'raw',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS lead_list_members (
	list_id TEXT NOT NULL REFERENCES lead_lists(id),
	lead_id BIGINT NOT NULL REFERENCES staged_leads(id),
	PRIMARY KEY (list_id, lead_id)
);

CREATE TABLE IF NOT EXISTS lead_list_imports (
	list_id TEXT NOT NULL REFERENCES lead_lists(id),
	fingerprint TEXT NOT NULL,
	PRIMARY KEY (list_id, fingerprint)
);
`

// migrationsSQLite mirrors the postgres schema for the sqlite driver.
const migrationsSQLite = `
CREATE TABLE IF NOT EXISTS discovery_profiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	enabled INTEGER NOT NULL DEFAULT 1,
	doc TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scrape_profiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	doc TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scrape_sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	enabled INTEGER NOT NULL DEFAULT 1,
	doc TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS discovery_runs (
	id TEXT PRIMARY KEY,
	profile_id INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	sites_found INTEGER NOT NULL DEFAULT 0,
	sites_selected INTEGER NOT NULL DEFAULT 0,
	source_stats TEXT NOT NULL DEFAULT '{}',
	error_message TEXT NOT NULL DEFAULT '',
	executor_handle TEXT NOT NULL DEFAULT '',
	ingest_cursor INTEGER NOT NULL DEFAULT 0,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	started_at TIMESTAMP,
	finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_discovery_runs_status ON discovery_runs (status);
CREATE INDEX IF NOT EXISTS idx_discovery_runs_profile ON discovery_runs (profile_id);

CREATE TABLE IF NOT EXISTS site_candidates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES discovery_runs(id),
	domain TEXT NOT NULL,
	homepage_url TEXT NOT NULL DEFAULT '',
	company_name TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	match_score INTEGER NOT NULL DEFAULT 0,
	is_selected INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (run_id, domain)
);
CREATE INDEX IF NOT EXISTS idx_site_candidates_run ON site_candidates (run_id);

CREATE TABLE IF NOT EXISTS scrape_jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	run_id TEXT,
	source_id INTEGER,
	profile_id INTEGER NOT NULL,
	retry_of TEXT NOT NULL DEFAULT '',
	override TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'queued',
	stats TEXT NOT NULL DEFAULT '{}',
	error_message TEXT NOT NULL DEFAULT '',
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	executor_handle TEXT NOT NULL DEFAULT '',
	ingest_cursor INTEGER NOT NULL DEFAULT 0,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	started_at TIMESTAMP,
	finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status ON scrape_jobs (status);
CREATE INDEX IF NOT EXISTS idx_scrape_jobs_run ON scrape_jobs (run_id);

CREATE TABLE IF NOT EXISTS scrape_job_sites (
	job_id TEXT NOT NULL REFERENCES scrape_jobs(id),
	candidate_id INTEGER NOT NULL DEFAULT 0,
	domain TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	scraped INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (job_id, domain)
);

CREATE TABLE IF NOT EXISTS staged_leads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES scrape_jobs(id),
	company_name TEXT NOT NULL DEFAULT '',
	website TEXT NOT NULL DEFAULT '',
	website_norm TEXT,
	emails TEXT NOT NULL DEFAULT '[]',
	phones TEXT NOT NULL DEFAULT '[]',
	country TEXT NOT NULL DEFAULT '',
	match_score INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	contact_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	reviewed_at TIMESTAMP,
	UNIQUE (job_id, website_norm)
);
CREATE INDEX IF NOT EXISTS idx_staged_leads_job ON staged_leads (job_id);
CREATE INDEX IF NOT EXISTS idx_staged_leads_status ON staged_leads (status);

CREATE TABLE IF NOT EXISTS lead_lists (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	list_type TEXT NOT NULL DEFAULT 'manual',
	status TEXT NOT NULL DEFAULT 'raw',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS lead_list_members (
	list_id TEXT NOT NULL REFERENCES lead_lists(id),
	lead_id INTEGER NOT NULL REFERENCES staged_leads(id),
	PRIMARY KEY (list_id, lead_id)
);

CREATE TABLE IF NOT EXISTS lead_list_imports (
	list_id TEXT NOT NULL REFERENCES lead_lists(id),
	fingerprint TEXT NOT NULL,
	PRIMARY KEY (list_id, fingerprint)
);
`
