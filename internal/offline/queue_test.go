package offline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/convoport/convoport/internal/security"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(NewMemoryStore(), nil, zap.NewNop())
	require.NoError(t, err)
	return q
}

func enqueue(t *testing.T, q *Queue, kind string, priority Priority) *Action {
	t.Helper()
	a, err := q.Enqueue(context.Background(), kind, []byte(`{}`), priority)
	require.NoError(t, err)
	return a
}

func TestEnqueueOrdersByPriorityThenFIFO(t *testing.T) {
	q := newTestQueue(t)

	first := enqueue(t, q, "notify", PriorityNormal)
	enqueue(t, q, "sync", PriorityCritical)
	enqueue(t, q, "cleanup", PriorityLow)
	enqueue(t, q, "alert", PriorityHigh)
	second := enqueue(t, q, "notify", PriorityNormal)

	pending := q.Pending()
	require.Len(t, pending, 5)
	assert.Equal(t, PriorityCritical, pending[0].Priority)
	assert.Equal(t, PriorityHigh, pending[1].Priority)
	assert.Equal(t, first.ID, pending[2].ID, "FIFO within the normal tier")
	assert.Equal(t, second.ID, pending[3].ID)
	assert.Equal(t, PriorityLow, pending[4].Priority)
}

func TestReplayDrainsQueueAndStore(t *testing.T) {
	store := NewMemoryStore()
	q, err := NewQueue(store, nil, zap.NewNop())
	require.NoError(t, err)

	enqueue(t, q, "a", PriorityNormal)
	enqueue(t, q, "b", PriorityHigh)

	var attempted []string
	q.SetAttempt(func(ctx context.Context, action *Action) error {
		attempted = append(attempted, action.Kind)
		return nil
	})

	require.NoError(t, q.Replay(context.Background()))

	assert.Equal(t, []string{"b", "a"}, attempted, "high priority replays first")
	assert.Zero(t, q.Len())
	remaining, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, remaining, "replayed actions leave the durable store")
}

func TestReplayRetriesUpToCeilingThenDrops(t *testing.T) {
	store := NewMemoryStore()
	events := security.NewEventLog(nil, zap.NewNop())
	t.Cleanup(events.Close)

	q, err := NewQueue(store, events, zap.NewNop())
	require.NoError(t, err)
	enqueue(t, q, "doomed", PriorityNormal)

	attempts := 0
	q.SetAttempt(func(ctx context.Context, action *Action) error {
		attempts++
		return errors.New("still offline")
	})

	// Three failing passes bump the retry count to the ceiling.
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Replay(context.Background()))
		assert.Equal(t, 1, q.Len(), "action stays queued below the ceiling")
		assert.Equal(t, i+1, q.Pending()[0].RetryCount)
	}

	// The fourth failure drops the action.
	require.NoError(t, q.Replay(context.Background()))
	assert.Equal(t, 4, attempts)
	assert.Zero(t, q.Len())

	remaining, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, remaining)

	counts := events.KindCounts(0)
	assert.Equal(t, 1, counts[security.EventOfflineActionDropped])
}

func TestReplaySnapshotExcludesNewEnqueues(t *testing.T) {
	q := newTestQueue(t)
	enqueue(t, q, "original", PriorityNormal)

	var attempted []string
	q.SetAttempt(func(ctx context.Context, action *Action) error {
		attempted = append(attempted, action.Kind)
		if action.Kind == "original" {
			enqueue(t, q, "late", PriorityCritical)
		}
		return nil
	})

	require.NoError(t, q.Replay(context.Background()))

	assert.Equal(t, []string{"original"}, attempted, "actions enqueued mid-pass wait for the next pass")
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "late", q.Pending()[0].Kind)
}

func TestOnlyOneReplayPassRuns(t *testing.T) {
	q := newTestQueue(t)
	enqueue(t, q, "slow", PriorityNormal)

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	attempts := 0
	q.SetAttempt(func(ctx context.Context, action *Action) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		close(started)
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Replay(context.Background())
	}()

	<-started
	// A second trigger while the pass is blocked must be a no-op.
	q.TriggerReplay()
	mu.Lock()
	assert.Equal(t, 1, attempts)
	mu.Unlock()

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("replay pass did not finish")
	}
}

func TestReplayStopsOnCancelledContext(t *testing.T) {
	q := newTestQueue(t)
	enqueue(t, q, "a", PriorityNormal)
	enqueue(t, q, "b", PriorityNormal)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	q.SetAttempt(func(ctx context.Context, action *Action) error {
		attempts++
		cancel()
		return nil
	})

	err := q.Replay(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, q.Len(), "the unattempted action stays queued")
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityCritical, ParsePriority("critical"))
	assert.Equal(t, PriorityNormal, ParsePriority(""))
	assert.Equal(t, PriorityNormal, ParsePriority("bogus"))
}
