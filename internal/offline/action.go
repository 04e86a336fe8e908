// Package offline holds mutating actions that could not be delivered
// and replays them, in priority order, when connectivity returns.
package offline

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority orders queued actions across tiers. Within a tier, replay is
// strictly FIFO.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// ParsePriority maps a free-form label onto a tier, defaulting to normal.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s)
	default:
		return PriorityNormal
	}
}

// rank gives the sort position of a tier, lower first.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}

// maxRetries is the replay ceiling. An action failing with this many
// prior retries is dropped and logged.
const maxRetries = 3

// Action is one undelivered mutating operation.
type Action struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Priority   Priority        `json:"priority"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
}

// NewAction builds an action with a fresh id.
func NewAction(kind string, payload []byte, priority Priority, now time.Time) *Action {
	return &Action{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: now,
	}
}
