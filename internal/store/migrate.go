package store

const postgresMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id     TEXT NOT NULL,
	location_id TEXT NOT NULL,
	industry    TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, location_id, industry)
);

CREATE TABLE IF NOT EXISTS discovery_runs (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	dataset_id     TEXT REFERENCES datasets(id),
	user_id        TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'running', 'completed', 'failed')),
	request        JSONB,
	stats          JSONB,
	cost_estimates JSONB,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_discovery_runs_status ON discovery_runs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_discovery_runs_dataset ON discovery_runs(dataset_id);

CREATE TABLE IF NOT EXISTS businesses (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	external_id      TEXT NOT NULL UNIQUE,
	source           TEXT NOT NULL,
	name             TEXT NOT NULL,
	address          TEXT,
	postal_code      TEXT,
	location_id      TEXT NOT NULL CHECK (location_id <> ''),
	industry         TEXT,
	website          TEXT,
	domain           TEXT,
	phone            TEXT,
	email            TEXT,
	place_id         TEXT,
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION,
	dataset_id       TEXT REFERENCES datasets(id),
	discovery_run_id TEXT REFERENCES discovery_runs(id),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_businesses_location_industry ON businesses(location_id, industry);
CREATE INDEX IF NOT EXISTS idx_businesses_run ON businesses(discovery_run_id);
CREATE INDEX IF NOT EXISTS idx_businesses_dataset ON businesses(dataset_id);

CREATE TABLE IF NOT EXISTS crawl_jobs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	business_id   TEXT NOT NULL REFERENCES businesses(id),
	website_url   TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued'
		CHECK (status IN ('queued', 'running', 'success', 'failed')),
	pages_crawled INT NOT NULL DEFAULT 0,
	pages_limit   INT NOT NULL DEFAULT 25,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	CHECK (pages_crawled >= 0 AND pages_crawled <= pages_limit)
);

CREATE INDEX IF NOT EXISTS idx_crawl_jobs_status ON crawl_jobs(status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_crawl_jobs_active_business
	ON crawl_jobs(business_id) WHERE status IN ('queued', 'running');

CREATE TABLE IF NOT EXISTS crawl_pages (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	crawl_job_id TEXT NOT NULL REFERENCES crawl_jobs(id),
	url          TEXT NOT NULL,
	final_url    TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	html         TEXT NOT NULL,
	fetched_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (crawl_job_id, url)
);

CREATE TABLE IF NOT EXISTS extraction_jobs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	business_id   TEXT NOT NULL UNIQUE REFERENCES businesses(id),
	status        TEXT NOT NULL DEFAULT 'queued'
		CHECK (status IN ('queued', 'running', 'success', 'failed')),
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_extraction_jobs_status ON extraction_jobs(status, created_at);

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	type       TEXT NOT NULL CHECK (type IN ('email', 'phone')),
	value      TEXT NOT NULL,
	is_generic BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (type, value)
);

CREATE TABLE IF NOT EXISTS contact_sources (
	contact_id   TEXT NOT NULL REFERENCES contacts(id),
	business_id  TEXT NOT NULL REFERENCES businesses(id),
	source_url   TEXT NOT NULL,
	page_type    TEXT NOT NULL
		CHECK (page_type IN ('homepage', 'contact', 'about', 'company', 'footer')),
	content_hash TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (contact_id, business_id)
);

CREATE TABLE IF NOT EXISTS social_links (
	business_id TEXT NOT NULL REFERENCES businesses(id),
	platform    TEXT NOT NULL,
	url         TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (business_id, platform, url)
);
`
