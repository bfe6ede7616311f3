package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		ok       bool
	}{
		{RunStatusPending, RunStatusRunning, true},
		{RunStatusPending, RunStatusFailed, true},
		{RunStatusPending, RunStatusCompleted, false},
		{RunStatusRunning, RunStatusCompleted, true},
		{RunStatusRunning, RunStatusFailed, true},
		{RunStatusRunning, RunStatusPending, false},
		{RunStatusCompleted, RunStatusFailed, false},
		{RunStatusFailed, RunStatusCompleted, false},
		{RunStatusFailed, RunStatusRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.False(t, RunStatus("bogus").Valid())
}

func TestCrawlStatus_Transitions(t *testing.T) {
	assert.True(t, CrawlStatusQueued.CanTransition(CrawlStatusRunning))
	assert.False(t, CrawlStatusQueued.CanTransition(CrawlStatusSuccess))
	assert.True(t, CrawlStatusRunning.CanTransition(CrawlStatusSuccess))
	assert.True(t, CrawlStatusRunning.CanTransition(CrawlStatusFailed))
	assert.False(t, CrawlStatusSuccess.CanTransition(CrawlStatusRunning))
	assert.False(t, CrawlStatusFailed.CanTransition(CrawlStatusQueued))
}

func TestExtractionStatus_ResetFromAnyState(t *testing.T) {
	for _, s := range []ExtractionStatus{
		ExtractionStatusQueued, ExtractionStatusRunning,
		ExtractionStatusSuccess, ExtractionStatusFailed,
	} {
		assert.True(t, s.CanTransition(ExtractionStatusQueued), "reset from %s", s)
	}
	assert.False(t, ExtractionStatusSuccess.CanTransition(ExtractionStatusRunning))
	assert.True(t, ExtractionStatusQueued.CanTransition(ExtractionStatusRunning))
}

func TestCheckTerminal(t *testing.T) {
	assert.NoError(t, CheckTerminal(CrawlStatusSuccess))
	assert.NoError(t, CheckTerminal(ExtractionStatusFailed))

	err := CheckTerminal(CrawlStatusRunning)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}
