package offline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBadgerStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBadgerStore(dir)
	require.NoError(t, err)

	q, err := NewQueue(store, nil, zap.NewNop())
	require.NoError(t, err)

	low, err := q.Enqueue(context.Background(), "report", []byte(`{"week":12}`), PriorityLow)
	require.NoError(t, err)
	critical, err := q.Enqueue(context.Background(), "order", []byte(`{"id":7}`), PriorityCritical)
	require.NoError(t, err)
	require.NoError(t, q.Close())

	// Simulated restart: reopen the same directory and rehydrate.
	store, err = NewBadgerStore(dir)
	require.NoError(t, err)
	q, err = NewQueue(store, nil, zap.NewNop())
	require.NoError(t, err)
	defer q.Close()

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, critical.ID, pending[0].ID, "priority ordering survives the restart")
	assert.Equal(t, low.ID, pending[1].ID)
	assert.JSONEq(t, `{"id":7}`, string(pending[0].Payload))

	var attempted []string
	q.SetAttempt(func(ctx context.Context, action *Action) error {
		attempted = append(attempted, action.Kind)
		return nil
	})
	require.NoError(t, q.Replay(context.Background()))
	assert.Equal(t, []string{"order", "report"}, attempted)
}

func TestBadgerStoreDeleteIsIdempotent(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	action := NewAction("notify", []byte(`{}`), PriorityNormal, time.Now())
	require.NoError(t, store.Save(action))
	require.NoError(t, store.Delete(action))
	require.NoError(t, store.Delete(action), "deleting a missing action is not an error")

	actions, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestBadgerStoreLoadOrdersAcrossTiers(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	base := time.Now()
	older := NewAction("n1", []byte(`{}`), PriorityNormal, base)
	newer := NewAction("n2", []byte(`{}`), PriorityNormal, base.Add(time.Second))
	urgent := NewAction("c1", []byte(`{}`), PriorityCritical, base.Add(2*time.Second))
	for _, a := range []*Action{newer, urgent, older} {
		require.NoError(t, store.Save(a))
	}

	actions, err := store.Load()
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "c1", actions[0].Kind)
	assert.Equal(t, "n1", actions[1].Kind)
	assert.Equal(t, "n2", actions[2].Kind)
}
