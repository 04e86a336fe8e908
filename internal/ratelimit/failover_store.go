// failover_store.go: Fail-safe wrapper that degrades to a local
// in-process store when the shared backend is unreachable, so the
// limiter's own availability never depends on the external store.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FailoverStore tries the primary (shared) store first and falls back to
// the local store on error. Fallback counts are per-instance, which is an
// accepted degradation: limiting stays enforced, only cross-instance
// accuracy is lost until the backend recovers.
type FailoverStore struct {
	primary  WindowStore
	fallback WindowStore
	logger   *zap.Logger

	// degraded is flipped on the first primary failure so the recovery
	// transition can be logged once rather than per request.
	degraded atomic.Bool
}

// NewFailoverStore wraps primary with a local fallback.
func NewFailoverStore(primary, fallback WindowStore, logger *zap.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger.Named("ratelimit-failover"),
	}
}

// Incr increments via the primary store, degrading to the local store on
// backend error.
func (fs *FailoverStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, remaining, err := fs.primary.Incr(ctx, key, window)
	if err == nil {
		fs.markHealthy()
		return count, remaining, nil
	}
	fs.markDegraded(err)
	storeFailovers.Inc()
	return fs.fallback.Incr(ctx, key, window)
}

// Peek reads via the primary store, degrading to the local store on error.
func (fs *FailoverStore) Peek(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, remaining, err := fs.primary.Peek(ctx, key, window)
	if err == nil {
		fs.markHealthy()
		return count, remaining, nil
	}
	fs.markDegraded(err)
	storeFailovers.Inc()
	return fs.fallback.Peek(ctx, key, window)
}

// Reset clears the key in both stores; a primary failure does not stop
// the local reset.
func (fs *FailoverStore) Reset(ctx context.Context, key string) error {
	primaryErr := fs.primary.Reset(ctx, key)
	if err := fs.fallback.Reset(ctx, key); err != nil {
		return err
	}
	return primaryErr
}

// Degraded reports whether the store is currently serving from the local
// fallback.
func (fs *FailoverStore) Degraded() bool {
	return fs.degraded.Load()
}

func (fs *FailoverStore) markDegraded(err error) {
	if fs.degraded.CompareAndSwap(false, true) {
		fs.logger.Warn("shared counter backend unreachable, degrading to local counters",
			zap.Error(err))
	}
}

func (fs *FailoverStore) markHealthy() {
	if fs.degraded.CompareAndSwap(true, false) {
		fs.logger.Info("shared counter backend recovered")
	}
}
