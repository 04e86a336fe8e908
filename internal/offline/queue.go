package offline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/convoport/convoport/internal/security"
)

var (
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "convoport",
			Subsystem: "offline",
			Name:      "queue_depth",
			Help:      "Actions currently awaiting replay",
		},
	)

	queueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convoport",
			Subsystem: "offline",
			Name:      "enqueued_total",
			Help:      "Actions enqueued by priority",
		},
		[]string{"priority"},
	)

	queueReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "convoport",
			Subsystem: "offline",
			Name:      "replayed_total",
			Help:      "Actions replayed successfully",
		},
	)

	queueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "convoport",
			Subsystem: "offline",
			Name:      "dropped_total",
			Help:      "Actions dropped after exceeding the retry ceiling",
		},
	)
)

// AttemptFunc delivers one action during replay. A nil error removes
// the action from the queue.
type AttemptFunc func(ctx context.Context, action *Action) error

// Queue is the durable, priority-ordered offline action queue. The
// in-memory queue is rehydrated from the store at construction, before
// any replay can run.
type Queue struct {
	mu      sync.Mutex
	actions []*Action

	store   Store
	events  *security.EventLog
	attempt AttemptFunc
	logger  *zap.Logger
	now     func() time.Time

	replaying atomic.Bool
}

// NewQueue builds a queue and rehydrates it from the store. events may
// be nil. attempt may be set later via SetAttempt during wiring.
func NewQueue(store Store, events *security.EventLog, logger *zap.Logger) (*Queue, error) {
	q := &Queue{
		store:  store,
		events: events,
		logger: logger.Named("offline-queue"),
		now:    time.Now,
	}
	actions, err := store.Load()
	if err != nil {
		return nil, err
	}
	sortActions(actions)
	q.actions = actions
	queueDepth.Set(float64(len(actions)))
	if len(actions) > 0 {
		q.logger.Info("rehydrated offline queue", zap.Int("actions", len(actions)))
	}
	return q, nil
}

// SetAttempt wires the delivery function used during replay.
func (q *Queue) SetAttempt(attempt AttemptFunc) { q.attempt = attempt }

// Enqueue persists an action durably and inserts it into the in-memory
// queue at its priority position.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload []byte, priority Priority) (*Action, error) {
	action := NewAction(kind, payload, priority, q.now())
	if err := q.store.Save(action); err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.insertLocked(action)
	depth := len(q.actions)
	q.mu.Unlock()

	queueEnqueued.WithLabelValues(string(priority)).Inc()
	queueDepth.Set(float64(depth))
	q.logger.Debug("queued offline action",
		zap.String("action_id", action.ID),
		zap.String("kind", kind),
		zap.String("priority", string(priority)))
	return action, nil
}

// QueueFailed lets the delivery executor hand over a payload whose
// retries were exhausted.
func (q *Queue) QueueFailed(ctx context.Context, target string, payload []byte, priority string) error {
	_, err := q.Enqueue(ctx, target, payload, ParsePriority(priority))
	return err
}

// Len reports how many actions await replay.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Pending returns a copy of the queued actions in replay order.
func (q *Queue) Pending() []*Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Action, len(q.actions))
	for i, a := range q.actions {
		cp := *a
		out[i] = &cp
	}
	return out
}

// TriggerReplay starts a replay pass unless one is already running;
// a second trigger during a running pass is a no-op.
func (q *Queue) TriggerReplay() {
	_ = q.Replay(context.Background())
}

// Replay drains a snapshot of the queue through the attempt function.
// Actions enqueued during the pass wait for the next one. Failed
// actions are re-enqueued with an incremented retry count until the
// ceiling, then dropped and logged.
func (q *Queue) Replay(ctx context.Context) error {
	if q.attempt == nil {
		return nil
	}
	if !q.replaying.CompareAndSwap(false, true) {
		return nil
	}
	defer q.replaying.Store(false)

	q.mu.Lock()
	snapshot := q.actions
	q.actions = nil
	q.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}
	q.logger.Info("replaying offline queue", zap.Int("actions", len(snapshot)))

	for i, action := range snapshot {
		if ctx.Err() != nil {
			q.requeue(snapshot[i:])
			return ctx.Err()
		}

		err := q.attempt(ctx, action)
		if err == nil {
			if delErr := q.store.Delete(action); delErr != nil {
				q.logger.Warn("failed to delete replayed action",
					zap.String("action_id", action.ID), zap.Error(delErr))
			}
			queueReplayed.Inc()
			continue
		}

		if action.RetryCount >= maxRetries {
			q.drop(action, err)
			continue
		}

		action.RetryCount++
		if saveErr := q.store.Save(action); saveErr != nil {
			q.logger.Warn("failed to persist retry count",
				zap.String("action_id", action.ID), zap.Error(saveErr))
		}
		q.requeue([]*Action{action})
		q.logger.Debug("replay attempt failed, re-queued",
			zap.String("action_id", action.ID),
			zap.Int("retry_count", action.RetryCount),
			zap.Error(err))
	}

	queueDepth.Set(float64(q.Len()))
	return nil
}

// Close releases the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}

func (q *Queue) insertLocked(action *Action) {
	idx := len(q.actions)
	for i, existing := range q.actions {
		if existing.Priority.rank() > action.Priority.rank() {
			idx = i
			break
		}
	}
	q.actions = append(q.actions, nil)
	copy(q.actions[idx+1:], q.actions[idx:])
	q.actions[idx] = action
}

func (q *Queue) requeue(actions []*Action) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, a := range actions {
		q.insertLocked(a)
	}
}

func (q *Queue) drop(action *Action, cause error) {
	if delErr := q.store.Delete(action); delErr != nil {
		q.logger.Warn("failed to delete dropped action",
			zap.String("action_id", action.ID), zap.Error(delErr))
	}
	queueDropped.Inc()
	q.logger.Error("dropping offline action after retry ceiling",
		zap.String("action_id", action.ID),
		zap.String("kind", action.Kind),
		zap.Int("retry_count", action.RetryCount),
		zap.Error(cause))
	if q.events != nil {
		q.events.Log(security.EventOfflineActionDropped, map[string]interface{}{
			"action_id":   action.ID,
			"kind":        action.Kind,
			"priority":    string(action.Priority),
			"retry_count": action.RetryCount,
			"error":       cause.Error(),
		})
	}
}
