package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/db"
	"github.com/sells-group/prospector/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres wraps an open pool. closeFn, when non-nil, runs on Close.
func NewPostgres(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn}
}

// Pool returns the underlying database pool for subsystems that run their
// own queries (business and contact stores).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Migrate creates all pipeline tables. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// --- discovery runs ---

const runColumns = `id, COALESCE(dataset_id, ''), user_id, status, request, stats, cost_estimates, error_message, created_at, started_at, completed_at`

func scanRun(row pgx.Row) (*model.DiscoveryRun, error) {
	var r model.DiscoveryRun
	var status string
	var request, stats, costs []byte
	if err := row.Scan(&r.ID, &r.DatasetID, &r.UserID, &status, &request, &stats, &costs,
		&r.ErrorMessage, &r.CreatedAt, &r.StartedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.Request, r.Stats, r.CostEstimates = request, stats, costs
	return &r, nil
}

// CreateRun inserts a pending run. datasetID may be empty until discovery
// resolves one.
func (s *PostgresStore) CreateRun(ctx context.Context, datasetID, userID string, request json.RawMessage) (*model.DiscoveryRun, error) {
	if userID == "" {
		return nil, eris.New("postgres: create run: user id is required")
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO discovery_runs (id, dataset_id, user_id, status, request, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, nullString(datasetID), userID, string(model.RunStatusPending), nullJSON(request), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.DiscoveryRun{
		ID:        id,
		DatasetID: datasetID,
		UserID:    userID,
		Status:    model.RunStatusPending,
		Request:   request,
		CreatedAt: now,
	}, nil
}

// StartRun moves a pending run to running and stamps started_at.
func (s *PostgresStore) StartRun(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_runs SET status = 'running', started_at = COALESCE(started_at, now()) WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrInvalidTransition, "postgres: start run %s: not pending", id)
	}
	return nil
}

// ClaimPendingRun atomically starts the oldest pending run. It returns nil
// when none is available.
func (s *PostgresStore) ClaimPendingRun(ctx context.Context) (*model.DiscoveryRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `
		UPDATE discovery_runs SET status = 'running', started_at = COALESCE(started_at, now())
		WHERE id = (
			SELECT id FROM discovery_runs WHERE status = 'pending'
			ORDER BY created_at LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+runColumns))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim pending run")
	}
	return run, nil
}

// SetRunDataset records the dataset a run resolved to.
func (s *PostgresStore) SetRunDataset(ctx context.Context, id, datasetID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE discovery_runs SET dataset_id = $2 WHERE id = $1`, id, datasetID)
	return eris.Wrapf(err, "postgres: set run dataset %s", id)
}

// SaveRunStats stores discovery statistics while the run is still open.
func (s *PostgresStore) SaveRunStats(ctx context.Context, id string, stats, costs json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE discovery_runs SET stats = COALESCE($2, stats), cost_estimates = COALESCE($3, cost_estimates) WHERE id = $1`,
		id, nullJSON(stats), nullJSON(costs),
	)
	return eris.Wrapf(err, "postgres: save run stats %s", id)
}

// FinishRun writes a terminal status. started_at is back-filled so a run
// that failed before starting still carries both timestamps. Only a running
// run may complete; pending or running runs may fail.
func (s *PostgresStore) FinishRun(ctx context.Context, id string, out RunOutcome) error {
	if !out.Status.Terminal() {
		return eris.Wrapf(model.ErrInvalidTransition, "postgres: finish run %s: %q is not terminal", id, out.Status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE discovery_runs SET
			status = $2,
			error_message = $3,
			stats = COALESCE($4, stats),
			cost_estimates = COALESCE($5, cost_estimates),
			started_at = COALESCE(started_at, now()),
			completed_at = now()
		WHERE id = $1
		  AND (status = 'running' OR (status = 'pending' AND $2 = 'failed'))`,
		id, string(out.Status), nullString(out.ErrorMessage), nullJSON(out.Stats), nullJSON(out.CostEstimates),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrInvalidTransition, "postgres: finish run %s as %s", id, out.Status)
	}
	return nil
}

// GetRun loads one run.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.DiscoveryRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM discovery_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	return run, nil
}

// ListRunsByDataset returns a dataset's runs, newest first.
func (s *PostgresStore) ListRunsByDataset(ctx context.Context, datasetID string, limit int) ([]model.DiscoveryRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM discovery_runs WHERE dataset_id = $1 ORDER BY created_at DESC LIMIT $2`,
		datasetID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.DiscoveryRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// CloseRunIfDone completes or fails a running run once none of its
// businesses has an outstanding crawl or extraction job. The check and the
// transition are one statement, so concurrent callers close a run at most
// once. The run fails when any of its extraction jobs failed.
func (s *PostgresStore) CloseRunIfDone(ctx context.Context, runID string) (bool, model.RunStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, `
		WITH failed AS (
			SELECT count(*) AS n FROM extraction_jobs e
			JOIN businesses b ON b.id = e.business_id
			WHERE b.discovery_run_id = $1 AND e.status = 'failed'
		)
		UPDATE discovery_runs r SET
			status = CASE WHEN (SELECT n FROM failed) > 0 THEN 'failed' ELSE 'completed' END,
			error_message = CASE WHEN (SELECT n FROM failed) > 0
				THEN (SELECT n FROM failed)::text || ' extraction job(s) failed'
				ELSE r.error_message END,
			completed_at = now()
		WHERE r.id = $1
		  AND r.status = 'running'
		  AND NOT EXISTS (
			SELECT 1 FROM extraction_jobs e
			JOIN businesses b ON b.id = e.business_id
			WHERE b.discovery_run_id = r.id AND e.status IN ('queued', 'running')
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM crawl_jobs c
			JOIN businesses b ON b.id = c.business_id
			WHERE b.discovery_run_id = r.id AND c.status IN ('queued', 'running')
		  )
		RETURNING r.status`, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", eris.Wrapf(err, "postgres: close run %s", runID)
	}

	zap.L().Info("discovery run closed", zap.String("run_id", runID), zap.String("status", status))
	return true, model.RunStatus(status), nil
}

// --- crawl jobs ---

const crawlJobColumns = `id, business_id, website_url, status, pages_crawled, pages_limit, error_message, created_at, started_at, completed_at`

func scanCrawlJob(row pgx.Row) (*model.CrawlJob, error) {
	var j model.CrawlJob
	var status string
	if err := row.Scan(&j.ID, &j.BusinessID, &j.WebsiteURL, &status, &j.PagesCrawled, &j.PagesLimit,
		&j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.Status = model.CrawlStatus(status)
	return &j, nil
}

// EnqueueCrawlJob queues a crawl unless the business already has a queued or
// running one. It reports whether a job was created.
func (s *PostgresStore) EnqueueCrawlJob(ctx context.Context, businessID, websiteURL string, pagesLimit int) (bool, error) {
	if pagesLimit <= 0 {
		pagesLimit = model.DefaultPagesLimit
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_jobs (id, business_id, website_url, status, pages_limit, created_at)
		SELECT $1, $2, $3, 'queued', $4, now()
		WHERE NOT EXISTS (
			SELECT 1 FROM crawl_jobs WHERE business_id = $2 AND status IN ('queued', 'running')
		)
		ON CONFLICT DO NOTHING`,
		uuid.New().String(), businessID, websiteURL, pagesLimit,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: enqueue crawl job for %s", businessID)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimCrawlJobs moves up to limit queued jobs to running. Rows locked by a
// concurrent claimer are skipped, so no job is handed out twice.
func (s *PostgresStore) ClaimCrawlJobs(ctx context.Context, limit int) ([]model.CrawlJob, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE crawl_jobs SET status = 'running', started_at = now()
		WHERE id IN (
			SELECT id FROM crawl_jobs WHERE status = 'queued'
			ORDER BY created_at LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+crawlJobColumns, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim crawl jobs")
	}
	defer rows.Close()

	var jobs []model.CrawlJob
	for rows.Next() {
		j, err := scanCrawlJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan crawl job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: claim crawl jobs iterate")
}

// ClaimCrawlJob claims one specific job. A caller that loses the race gets
// ErrNotClaimed.
func (s *PostgresStore) ClaimCrawlJob(ctx context.Context, id string) (*model.CrawlJob, error) {
	j, err := scanCrawlJob(s.pool.QueryRow(ctx, `
		UPDATE crawl_jobs SET status = 'running', started_at = now()
		WHERE id = $1 AND status = 'queued'
		RETURNING `+crawlJobColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotClaimed, "postgres: claim crawl job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: claim crawl job %s", id)
	}
	return j, nil
}

// FinishCrawlJob writes a terminal status. pages_crawled is clamped to the
// job's pages_limit.
func (s *PostgresStore) FinishCrawlJob(ctx context.Context, id string, status model.CrawlStatus, pagesCrawled int, errMsg string) error {
	if !status.Terminal() {
		return eris.Wrapf(model.ErrInvalidTransition, "postgres: finish crawl job %s: %q is not terminal", id, status)
	}
	if pagesCrawled < 0 {
		pagesCrawled = 0
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_jobs SET
			status = $2,
			pages_crawled = LEAST($3, pages_limit),
			error_message = $4,
			completed_at = now()
		WHERE id = $1 AND status = 'running'`,
		id, string(status), pagesCrawled, nullString(errMsg),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish crawl job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotClaimed, "postgres: finish crawl job %s: not running", id)
	}
	return nil
}

// SaveCrawlPage stores a page snapshot. A second write for the same
// (job, url) is a no-op and reports false.
func (s *PostgresStore) SaveCrawlPage(ctx context.Context, p model.CrawlPage) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.FetchedAt.IsZero() {
		p.FetchedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_pages (id, crawl_job_id, url, final_url, content_hash, html, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (crawl_job_id, url) DO NOTHING`,
		p.ID, p.CrawlJobID, p.URL, p.FinalURL, p.ContentHash, p.HTML, p.FetchedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: save crawl page %s", p.URL)
	}
	return tag.RowsAffected() > 0, nil
}

// LatestCrawlPages returns the pages of the business's most recently
// finished crawl, in fetch order.
func (s *PostgresStore) LatestCrawlPages(ctx context.Context, businessID string) ([]model.CrawlPage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.crawl_job_id, p.url, p.final_url, p.content_hash, p.html, p.fetched_at
		FROM crawl_pages p
		WHERE p.crawl_job_id = (
			SELECT id FROM crawl_jobs
			WHERE business_id = $1 AND status IN ('success', 'failed')
			ORDER BY completed_at DESC NULLS LAST
			LIMIT 1
		)
		ORDER BY p.fetched_at, p.url`, businessID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest crawl pages %s", businessID)
	}
	defer rows.Close()

	var pages []model.CrawlPage
	for rows.Next() {
		var p model.CrawlPage
		if err := rows.Scan(&p.ID, &p.CrawlJobID, &p.URL, &p.FinalURL, &p.ContentHash, &p.HTML, &p.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan crawl page")
		}
		pages = append(pages, p)
	}
	return pages, eris.Wrap(rows.Err(), "postgres: latest crawl pages iterate")
}

// --- extraction jobs ---

// ResetExtractionJob creates the business's extraction job or puts the
// existing one back to queued.
func (s *PostgresStore) ResetExtractionJob(ctx context.Context, businessID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO extraction_jobs (id, business_id, status, created_at)
		VALUES ($1, $2, 'queued', now())
		ON CONFLICT (business_id) DO UPDATE SET
			status = 'queued',
			error_message = NULL,
			started_at = NULL,
			completed_at = NULL`,
		uuid.New().String(), businessID,
	)
	return eris.Wrapf(err, "postgres: reset extraction job for %s", businessID)
}

// ClaimExtractionJobs moves up to limit queued jobs to running.
func (s *PostgresStore) ClaimExtractionJobs(ctx context.Context, limit int) ([]model.ExtractionJob, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE extraction_jobs SET status = 'running', started_at = now()
		WHERE id IN (
			SELECT id FROM extraction_jobs WHERE status = 'queued'
			ORDER BY created_at LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, business_id, status, error_message, created_at, started_at, completed_at`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim extraction jobs")
	}
	defer rows.Close()

	var jobs []model.ExtractionJob
	for rows.Next() {
		var j model.ExtractionJob
		var status string
		if err := rows.Scan(&j.ID, &j.BusinessID, &status, &j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction job")
		}
		j.Status = model.ExtractionStatus(status)
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: claim extraction jobs iterate")
}

// FinishExtractionJob writes a terminal status. If the job was reset while
// it ran, ErrNotClaimed is returned and the queued reset wins.
func (s *PostgresStore) FinishExtractionJob(ctx context.Context, id string, status model.ExtractionStatus, errMsg string) error {
	if !status.Terminal() {
		return eris.Wrapf(model.ErrInvalidTransition, "postgres: finish extraction job %s: %q is not terminal", id, status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE extraction_jobs SET status = $2, error_message = $3, completed_at = now()
		WHERE id = $1 AND status = 'running'`,
		id, string(status), nullString(errMsg),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish extraction job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotClaimed, "postgres: finish extraction job %s: not running", id)
	}
	return nil
}

// --- progress ---

const progressQuery = `
	SELECT 'crawl', c.status, count(*) FROM crawl_jobs c
	JOIN businesses b ON b.id = c.business_id
	WHERE ($1 = '' OR b.dataset_id = $1)
	GROUP BY c.status
	UNION ALL
	SELECT 'extraction', e.status, count(*) FROM extraction_jobs e
	JOIN businesses b ON b.id = e.business_id
	WHERE ($1 = '' OR b.dataset_id = $1)
	GROUP BY e.status`

// DatasetProgress counts the dataset's crawl and extraction jobs by status.
func (s *PostgresStore) DatasetProgress(ctx context.Context, datasetID string) (Progress, error) {
	if datasetID == "" {
		return NewProgress(), eris.New("postgres: dataset progress: dataset id is required")
	}
	return s.progress(ctx, datasetID)
}

// QueueDepth counts all crawl and extraction jobs by status.
func (s *PostgresStore) QueueDepth(ctx context.Context) (Progress, error) {
	return s.progress(ctx, "")
}

func (s *PostgresStore) progress(ctx context.Context, datasetID string) (Progress, error) {
	p := NewProgress()
	rows, err := s.pool.Query(ctx, progressQuery, datasetID)
	if err != nil {
		return p, eris.Wrap(err, "postgres: progress")
	}
	defer rows.Close()

	for rows.Next() {
		var kind, status string
		var n int64
		if err := rows.Scan(&kind, &status, &n); err != nil {
			return p, eris.Wrap(err, "postgres: scan progress")
		}
		switch kind {
		case "crawl":
			p.Crawl[model.CrawlStatus(status)] = int(n)
		case "extraction":
			p.Extraction[model.ExtractionStatus(status)] = int(n)
		}
	}
	return p, eris.Wrap(rows.Err(), "postgres: progress iterate")
}
