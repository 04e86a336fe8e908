// Package ratelimit provides the admission-side rate limiter for the
// convoport service boundary: named rules evaluated against a pluggable
// window store, with a blocked-IP check that always runs first.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("ratelimit")

// Limiter evaluates the configured rules against the window store.
// Rules combine with logical AND: every applicable rule must pass.
type Limiter struct {
	mu    sync.RWMutex
	rules []*Rule

	store   WindowStore
	blocker BlockChecker
	logger  *zap.Logger
}

// NewLimiter creates a limiter. blocker may be nil when no abuse tracker
// is wired (tests, library use).
func NewLimiter(store WindowStore, blocker BlockChecker, rules []*Rule, logger *zap.Logger) *Limiter {
	return &Limiter{
		rules:   rules,
		store:   store,
		blocker: blocker,
		logger:  logger.Named("ratelimit"),
	}
}

// SetRules atomically replaces the rule set (config hot reload).
func (l *Limiter) SetRules(rules []*Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules = rules
}

// Rules returns the current rule set.
func (l *Limiter) Rules() []*Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Rule, len(l.rules))
	copy(out, l.rules)
	return out
}

// Admit decides whether the request may proceed. A blocked IP is rejected
// before any counter is consulted. Rules whose increment is deferred to
// RecordOutcome are only peeked here.
func (l *Limiter) Admit(ctx context.Context, req *RequestInfo) (Decision, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.Admit")
	defer span.End()

	start := time.Now()
	outcome := "allowed"
	defer func() {
		admissionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if l.blocker != nil && req.ClientIP != "" {
		if blocked, reason := l.blocker.IsBlocked(req.ClientIP); blocked {
			span.SetAttributes(attribute.String("deny_reason", "ip_blocked"))
			blockedRejections.Inc()
			outcome = "blocked"
			return Decision{
				Allowed:   false,
				Reason:    "ip_blocked",
				BlockInfo: reason,
			}, nil
		}
	}

	for _, rule := range l.Rules() {
		if !rule.Enabled {
			continue
		}
		key := rule.Key(req)
		if key == "" {
			continue
		}
		storeKey := rule.Name + ":" + key

		var count int64
		var remaining time.Duration
		var err error
		denied := false
		if rule.deferred() {
			// A deferred rule denies once the limit is reached; the slot
			// for the current attempt is claimed later by RecordOutcome.
			count, remaining, err = l.store.Peek(ctx, storeKey, rule.Window)
			denied = err == nil && count >= rule.Max
		} else {
			count, remaining, err = l.store.Incr(ctx, storeKey, rule.Window)
			denied = err == nil && count > rule.Max
		}
		if err != nil {
			// The failover store absorbs backend outages; an error here
			// means even the local fallback failed, which should not stop
			// admission entirely.
			l.logger.Error("window store unavailable, admitting without count",
				zap.String("rule", rule.Name),
				zap.Error(err))
			admissionChecks.WithLabelValues(rule.Name, "error").Inc()
			continue
		}

		if denied {
			span.SetAttributes(
				attribute.String("deny_reason", "rate_limited"),
				attribute.String("rule", rule.Name),
			)
			admissionChecks.WithLabelValues(rule.Name, "denied").Inc()
			outcome = "denied"
			return Decision{
				Allowed:    false,
				Rule:       rule.Name,
				Reason:     "rate_limited",
				RetryAfter: remaining,
			}, nil
		}
		admissionChecks.WithLabelValues(rule.Name, "allowed").Inc()
	}

	return Decision{Allowed: true}, nil
}

// RecordOutcome applies the deferred increments for rules that only count
// one outcome class, e.g. a login brute-force guard that counts failed
// attempts only.
func (l *Limiter) RecordOutcome(ctx context.Context, req *RequestInfo, success bool) {
	for _, rule := range l.Rules() {
		if !rule.Enabled || !rule.deferred() {
			continue
		}
		if rule.SkipSuccessful && success {
			continue
		}
		if rule.SkipFailed && !success {
			continue
		}
		key := rule.Key(req)
		if key == "" {
			continue
		}
		storeKey := rule.Name + ":" + key
		if _, _, err := l.store.Incr(ctx, storeKey, rule.Window); err != nil {
			l.logger.Warn("deferred increment failed",
				zap.String("rule", rule.Name),
				zap.Error(err))
		}
	}
}

// RetryAfterSeconds converts a denial's RetryAfter to whole seconds,
// rounding up so a caller never retries inside the same window.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// --- Key derivation functions for the standard rules ---

// IPKey limits per source IP.
func IPKey(req *RequestInfo) string {
	return req.ClientIP
}

// UserKey limits per authenticated user; unauthenticated requests skip
// the rule.
func UserKey(req *RequestInfo) string {
	return req.UserID
}

// EndpointKey limits per endpoint+IP, so one busy route cannot exhaust a
// caller's budget elsewhere.
func EndpointKey(req *RequestInfo) string {
	if req.ClientIP == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", req.Method, req.Path, req.ClientIP)
}

// GlobalKey applies one shared ceiling across all traffic.
func GlobalKey(req *RequestInfo) string {
	return "all"
}

// LoginKey guards authentication endpoints per IP.
func LoginKey(req *RequestInfo) string {
	if req.Path != "/api/v1/auth/login" {
		return ""
	}
	return req.ClientIP
}

// keyFuncFor resolves a config key kind to its derivation function.
func keyFuncFor(kind string) (KeyFunc, error) {
	switch kind {
	case KeyIP:
		return IPKey, nil
	case KeyUser:
		return UserKey, nil
	case KeyEndpoint:
		return EndpointKey, nil
	case KeyGlobal:
		return GlobalKey, nil
	case KeyLogin:
		return LoginKey, nil
	default:
		return nil, fmt.Errorf("unknown key kind: %s", kind)
	}
}

// DefaultRules returns the standard rule set: per-IP, per-user,
// per-endpoint, a global burst ceiling, and a login brute-force guard
// that counts failed attempts only.
func DefaultRules() []*Rule {
	return []*Rule{
		{Name: "per_ip", Window: time.Minute, Max: 120, Key: IPKey, Enabled: true},
		{Name: "per_user", Window: time.Minute, Max: 240, Key: UserKey, Enabled: true},
		{Name: "per_endpoint", Window: time.Minute, Max: 60, Key: EndpointKey, Enabled: true},
		{Name: "global_burst", Window: time.Second, Max: 500, Key: GlobalKey, Enabled: true},
		{Name: "login_guard", Window: 15 * time.Minute, Max: 5, Key: LoginKey, SkipSuccessful: true, Enabled: true},
	}
}
