package model

import "github.com/rotisserie/eris"

// RunStatus is the lifecycle state of a discovery run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// CanTransition reports whether a run may move from s to next.
// A pending run may fail directly when discovery errors before it starts.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunStatusPending:
		return next == RunStatusRunning || next == RunStatusFailed
	case RunStatusRunning:
		return next == RunStatusCompleted || next == RunStatusFailed
	}
	return false
}

// CrawlStatus is the lifecycle state of a crawl job.
type CrawlStatus string

const (
	CrawlStatusQueued  CrawlStatus = "queued"
	CrawlStatusRunning CrawlStatus = "running"
	CrawlStatusSuccess CrawlStatus = "success"
	CrawlStatusFailed  CrawlStatus = "failed"
)

// Valid reports whether s is a known crawl status.
func (s CrawlStatus) Valid() bool {
	switch s {
	case CrawlStatusQueued, CrawlStatusRunning, CrawlStatusSuccess, CrawlStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the crawl job is finished.
func (s CrawlStatus) Terminal() bool {
	return s == CrawlStatusSuccess || s == CrawlStatusFailed
}

// CanTransition reports whether a crawl job may move from s to next.
func (s CrawlStatus) CanTransition(next CrawlStatus) bool {
	switch s {
	case CrawlStatusQueued:
		return next == CrawlStatusRunning
	case CrawlStatusRunning:
		return next.Terminal()
	}
	return false
}

// ExtractionStatus is the lifecycle state of an extraction job.
type ExtractionStatus string

const (
	ExtractionStatusQueued  ExtractionStatus = "queued"
	ExtractionStatusRunning ExtractionStatus = "running"
	ExtractionStatusSuccess ExtractionStatus = "success"
	ExtractionStatusFailed  ExtractionStatus = "failed"
)

// Valid reports whether s is a known extraction status.
func (s ExtractionStatus) Valid() bool {
	switch s {
	case ExtractionStatusQueued, ExtractionStatusRunning, ExtractionStatusSuccess, ExtractionStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the extraction job is finished.
func (s ExtractionStatus) Terminal() bool {
	return s == ExtractionStatusSuccess || s == ExtractionStatusFailed
}

// CanTransition reports whether an extraction job may move from s to next.
// Any state may be reset to queued: a fresh crawl re-arms extraction.
func (s ExtractionStatus) CanTransition(next ExtractionStatus) bool {
	if next == ExtractionStatusQueued {
		return true
	}
	switch s {
	case ExtractionStatusQueued:
		return next == ExtractionStatusRunning
	case ExtractionStatusRunning:
		return next.Terminal()
	}
	return false
}

// ErrInvalidTransition is returned when a status change violates the state machine.
var ErrInvalidTransition = eris.New("invalid status transition")

// CheckTerminal returns ErrInvalidTransition unless status is a terminal state.
// Stores call it before writing a finish transition.
func CheckTerminal[S interface{ Terminal() bool }](status S) error {
	if !status.Terminal() {
		return eris.Wrapf(ErrInvalidTransition, "status %v is not terminal", status)
	}
	return nil
}
