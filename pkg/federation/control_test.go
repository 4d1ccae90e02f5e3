package federation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// recordingExecutor reports completion for the members listed in stopAt.
type recordingExecutor struct {
	mu      sync.Mutex
	seen    []string
	stopAt  map[string]bool
	delay   map[string]time.Duration
	aborted atomic.Int32
}

func (e *recordingExecutor) Method() string { return "Test" }

func (e *recordingExecutor) Invoke(ctx context.Context, m Member) bool {
	if d := e.delay[m.ID]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			e.aborted.Add(1)
			return false
		}
	}
	e.mu.Lock()
	e.seen = append(e.seen, m.ID)
	e.mu.Unlock()
	return e.stopAt[m.ID]
}

func (e *recordingExecutor) visited() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.seen...)
}

func named(ids ...string) []Member {
	out := make([]Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, Member{ID: id})
	}
	return out
}

func TestSequential(t *testing.T) {
	ctx := context.Background()

	t.Run("visits in order until complete", func(t *testing.T) {
		ex := &recordingExecutor{stopAt: map[string]bool{"b": true}}
		Sequential(ctx, named("a", "b", "c"), ex)
		assert.Equal(t, []string{"a", "b"}, ex.visited())
	})

	t.Run("visits everyone when nobody completes", func(t *testing.T) {
		ex := &recordingExecutor{}
		Sequential(ctx, named("a", "b", "c"), ex)
		assert.Equal(t, []string{"a", "b", "c"}, ex.visited())
	})

	t.Run("stops when the context is done", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		ex := &recordingExecutor{}
		Sequential(cctx, named("a", "b"), ex)
		assert.Empty(t, ex.visited())
	})

	t.Run("no members", func(t *testing.T) {
		ex := &recordingExecutor{}
		Sequential(ctx, nil, ex)
		assert.Empty(t, ex.visited())
	})
}

func TestParallel(t *testing.T) {
	ctx := context.Background()

	t.Run("waits for every member", func(t *testing.T) {
		ex := &recordingExecutor{delay: map[string]time.Duration{"b": 20 * time.Millisecond}}
		Parallel(ctx, named("a", "b", "c"), ex)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, ex.visited())
	})

	t.Run("returns early and cancels the rest", func(t *testing.T) {
		ex := &recordingExecutor{
			stopAt: map[string]bool{"a": true},
			delay:  map[string]time.Duration{"b": time.Minute},
		}
		start := time.Now()
		Parallel(ctx, named("a", "b"), ex)
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, []string{"a"}, ex.visited())
		assert.Eventually(t, func() bool { return ex.aborted.Load() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("honours the caller's deadline", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		ex := &recordingExecutor{delay: map[string]time.Duration{"a": time.Minute}}
		Parallel(cctx, named("a"), ex)
		assert.Empty(t, ex.visited())
	})
}
