// types.go: Core types and interfaces for admission-side rate limiting
package ratelimit

import (
	"context"
	"time"
)

// Key kinds understood by the rule config loader
const (
	KeyIP       = "ip"
	KeyUser     = "user"
	KeyEndpoint = "endpoint"
	KeyGlobal   = "global"
	KeyLogin    = "login"
)

// RequestInfo carries the request attributes a rule may derive its
// limiting key from. The HTTP layer fills it in; the limiter never
// touches *http.Request directly.
type RequestInfo struct {
	ClientIP  string
	UserID    string
	Method    string
	Path      string
	UserAgent string
}

// KeyFunc maps a request to a limiting key. An empty return value means
// the rule does not apply to this request.
type KeyFunc func(req *RequestInfo) string

// Rule holds config for a single rate limit rule
// (per user, per IP, per endpoint, global burst, login guard).
// Rules are immutable after creation; replace the whole set to reconfigure.
type Rule struct {
	Name   string
	Window time.Duration
	Max    int64
	Key    KeyFunc

	// SkipSuccessful defers the counter increment until RecordOutcome
	// reports failure: only failed operations count against the limit.
	// SkipFailed is the inverse. At most one of the two is set.
	SkipSuccessful bool
	SkipFailed     bool

	Enabled bool
}

// deferred reports whether the rule's increment is conditioned on the
// outcome of the guarded operation.
func (r *Rule) deferred() bool {
	return r.SkipSuccessful || r.SkipFailed
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed    bool
	Rule       string        // name of the denying rule, or "" when allowed
	Reason     string        // "rate_limited", "ip_blocked", or "" when allowed
	RetryAfter time.Duration // positive when denied by a rate limit
	BlockInfo  string        // block reason when Reason == "ip_blocked"
}

// WindowStore is the pluggable counter backend for fixed-window counters.
// Incr atomically increments the counter for key, creating the window on
// first use, and returns the new count plus the remaining window time.
// Peek reads without incrementing.
type WindowStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
	Peek(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
	Reset(ctx context.Context, key string) error
}

// BlockChecker is consulted before any counter; a blocked source is
// rejected without touching the window store.
type BlockChecker interface {
	IsBlocked(ip string) (blocked bool, reason string)
}
