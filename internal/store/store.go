// Package store persists discovery runs, crawl jobs, crawl pages and
// extraction jobs. Postgres is the only coordination point between workers:
// every claim and terminal transition is a conditional update.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrNotClaimed is returned when a conditional update matched no row
	// because another worker already moved the job.
	ErrNotClaimed = eris.New("store: job not claimed")
)

// RunOutcome carries the terminal data written by FinishRun.
type RunOutcome struct {
	Status        model.RunStatus
	ErrorMessage  string
	Stats         json.RawMessage
	CostEstimates json.RawMessage
}

// Progress counts jobs by status.
type Progress struct {
	Crawl      map[model.CrawlStatus]int      `json:"crawl"`
	Extraction map[model.ExtractionStatus]int `json:"extraction"`
}

// NewProgress returns a Progress with empty maps.
func NewProgress() Progress {
	return Progress{
		Crawl:      map[model.CrawlStatus]int{},
		Extraction: map[model.ExtractionStatus]int{},
	}
}

// Outstanding is the number of crawl and extraction jobs not yet terminal.
func (p Progress) Outstanding() int {
	return p.Crawl[model.CrawlStatusQueued] + p.Crawl[model.CrawlStatusRunning] +
		p.Extraction[model.ExtractionStatusQueued] + p.Extraction[model.ExtractionStatusRunning]
}

// Total is the number of jobs counted.
func (p Progress) Total() int {
	n := 0
	for _, c := range p.Crawl {
		n += c
	}
	for _, c := range p.Extraction {
		n += c
	}
	return n
}

// RunStore manages discovery runs.
type RunStore interface {
	CreateRun(ctx context.Context, datasetID, userID string, request json.RawMessage) (*model.DiscoveryRun, error)
	StartRun(ctx context.Context, id string) error
	ClaimPendingRun(ctx context.Context) (*model.DiscoveryRun, error)
	SetRunDataset(ctx context.Context, id, datasetID string) error
	SaveRunStats(ctx context.Context, id string, stats, costs json.RawMessage) error
	FinishRun(ctx context.Context, id string, out RunOutcome) error
	GetRun(ctx context.Context, id string) (*model.DiscoveryRun, error)
	ListRunsByDataset(ctx context.Context, datasetID string, limit int) ([]model.DiscoveryRun, error)
	CloseRunIfDone(ctx context.Context, runID string) (bool, model.RunStatus, error)
}

// CrawlStore manages crawl jobs and their pages.
type CrawlStore interface {
	EnqueueCrawlJob(ctx context.Context, businessID, websiteURL string, pagesLimit int) (bool, error)
	ClaimCrawlJobs(ctx context.Context, limit int) ([]model.CrawlJob, error)
	ClaimCrawlJob(ctx context.Context, id string) (*model.CrawlJob, error)
	FinishCrawlJob(ctx context.Context, id string, status model.CrawlStatus, pagesCrawled int, errMsg string) error
	SaveCrawlPage(ctx context.Context, page model.CrawlPage) (bool, error)
	LatestCrawlPages(ctx context.Context, businessID string) ([]model.CrawlPage, error)
}

// ExtractionStore manages extraction jobs.
type ExtractionStore interface {
	ResetExtractionJob(ctx context.Context, businessID string) error
	ClaimExtractionJobs(ctx context.Context, limit int) ([]model.ExtractionJob, error)
	FinishExtractionJob(ctx context.Context, id string, status model.ExtractionStatus, errMsg string) error
}

// Store is the full job store.
type Store interface {
	RunStore
	CrawlStore
	ExtractionStore

	DatasetProgress(ctx context.Context, datasetID string) (Progress, error)
	QueueDepth(ctx context.Context) (Progress, error)

	Migrate(ctx context.Context) error
	Close() error
}
