package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

// scriptedProgress replays progress snapshots, repeating the last one.
type scriptedProgress struct {
	mu    sync.Mutex
	steps []progressStep
	calls int
}

type progressStep struct {
	outstanding int
	err         error
}

func (s *scriptedProgress) DatasetProgress(context.Context, string) (store.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	if step.err != nil {
		return store.Progress{}, step.err
	}
	p := store.NewProgress()
	p.Crawl[model.CrawlStatusRunning] = step.outstanding
	p.Extraction[model.ExtractionStatusSuccess] = 2
	return p, nil
}

func TestAwait_Settles(t *testing.T) {
	src := &scriptedProgress{steps: []progressStep{{outstanding: 3}, {err: errors.New("timeout")}, {outstanding: 1}, {outstanding: 0}}}

	p, done, err := Await(context.Background(), src, "ds-1", AwaitConfig{MaxWait: 5 * time.Second, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Zero(t, p.Outstanding())
	assert.Equal(t, 4, src.calls)
}

func TestAwait_ProceedsOnTimeout(t *testing.T) {
	src := &scriptedProgress{steps: []progressStep{{outstanding: 5}}}

	p, done, err := Await(context.Background(), src, "ds-1", AwaitConfig{MaxWait: 40 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 5, p.Outstanding())
}

func TestAwait_Cancelled(t *testing.T) {
	src := &scriptedProgress{steps: []progressStep{{outstanding: 5}}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, done, err := Await(ctx, src, "ds-1", AwaitConfig{MaxWait: time.Minute, PollInterval: 5 * time.Millisecond})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, done)
}
