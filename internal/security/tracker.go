// Package security provides the abuse-defense layer of the admission
// core: per-IP suspicious-activity tracking with auto-escalation to
// blocking, and the bounded security event log.
package security

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// BlockReasonExcessive is the reason recorded for auto-escalated blocks.
	BlockReasonExcessive = "excessive suspicious activity"

	maxActivityHistory = 10
)

// TrackerConfig holds abuse tracker tunables. The auto-block threshold
// preserves an operational default, not a correctness requirement.
type TrackerConfig struct {
	AutoBlockThreshold int           `json:"auto_block_threshold"`
	AutoBlockDuration  time.Duration `json:"auto_block_duration"`
	SweepInterval      time.Duration `json:"sweep_interval"`
	RecordMaxAge       time.Duration `json:"record_max_age"`
	RecordMinCount     int           `json:"record_min_count"`
}

// DefaultTrackerConfig returns the standard tracker tuning.
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		AutoBlockThreshold: 10,
		AutoBlockDuration:  time.Hour,
		SweepInterval:      time.Hour,
		RecordMaxAge:       time.Hour,
		RecordMinCount:     5,
	}
}

// ActivityEntry is one suspicious-activity observation.
type ActivityEntry struct {
	Descriptor string    `json:"descriptor"`
	SeenAt     time.Time `json:"seen_at"`
}

// SuspiciousActivityRecord accumulates signals for one IP. The count is
// monotonically non-decreasing until the record is garbage collected.
type SuspiciousActivityRecord struct {
	IP         string          `json:"ip"`
	Count      int             `json:"count"`
	Activities []ActivityEntry `json:"activities"`
	FirstSeen  time.Time       `json:"first_seen"`
}

// BlockedIPRecord describes an active block. A nil ExpiresAt means the
// block is permanent.
type BlockedIPRecord struct {
	IP        string     `json:"ip"`
	Reason    string     `json:"reason"`
	BlockedAt time.Time  `json:"blocked_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// expired reports whether a finite block has lapsed.
func (b *BlockedIPRecord) expired(now time.Time) bool {
	return b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

// Tracker accumulates suspicious-activity signals per IP and escalates
// to blocking. Safe for concurrent use; implements the limiter's
// BlockChecker contract.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*SuspiciousActivityRecord
	blocked map[string]*BlockedIPRecord

	config *TrackerConfig
	events *EventLog
	logger *zap.Logger
	now    func() time.Time

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	stopOnce    sync.Once
}

// NewTracker creates a tracker with its periodic record sweep running.
// events may be nil when no event log is wired.
func NewTracker(config *TrackerConfig, events *EventLog, logger *zap.Logger) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}
	t := &Tracker{
		records:   make(map[string]*SuspiciousActivityRecord),
		blocked:   make(map[string]*BlockedIPRecord),
		config:    config,
		events:    events,
		logger:    logger.Named("abuse-tracker"),
		now:       time.Now,
		stopSweep: make(chan struct{}),
	}
	t.sweepTicker = time.NewTicker(config.SweepInterval)
	go t.sweepRoutine()
	return t
}

// Track appends an activity observation for ip, trimming history to the
// last 10 entries, and auto-blocks once the count reaches the threshold.
// An already-blocked IP is never blocked a second time.
func (t *Tracker) Track(ip, activityDescriptor string) {
	now := t.now()

	t.mu.Lock()
	rec, ok := t.records[ip]
	if !ok {
		rec = &SuspiciousActivityRecord{IP: ip, FirstSeen: now}
		t.records[ip] = rec
	}
	rec.Count++
	rec.Activities = append(rec.Activities, ActivityEntry{Descriptor: activityDescriptor, SeenAt: now})
	if len(rec.Activities) > maxActivityHistory {
		rec.Activities = rec.Activities[len(rec.Activities)-maxActivityHistory:]
	}

	shouldBlock := rec.Count >= t.config.AutoBlockThreshold
	if shouldBlock {
		if existing, blocked := t.blocked[ip]; blocked && !existing.expired(now) {
			shouldBlock = false
		}
	}
	if shouldBlock {
		expires := now.Add(t.config.AutoBlockDuration)
		t.blocked[ip] = &BlockedIPRecord{
			IP:        ip,
			Reason:    BlockReasonExcessive,
			BlockedAt: now,
			ExpiresAt: &expires,
		}
	}
	count := rec.Count
	t.mu.Unlock()

	if t.events != nil {
		t.events.Log(EventSuspiciousActivity, map[string]interface{}{
			"ip":         ip,
			"descriptor": activityDescriptor,
			"count":      count,
		})
	}

	if shouldBlock {
		t.logger.Warn("auto-blocking IP",
			zap.String("ip", ip),
			zap.Int("count", count),
			zap.Duration("duration", t.config.AutoBlockDuration))
		if t.events != nil {
			t.events.Log(EventIPBlocked, map[string]interface{}{
				"ip":     ip,
				"reason": BlockReasonExcessive,
				"auto":   true,
			})
		}
	}
}

// IsBlocked reports whether ip has a live block, lazily deleting expired
// ones. The reason of the active block is returned for the refusal body.
func (t *Tracker) IsBlocked(ip string) (bool, string) {
	now := t.now()

	t.mu.RLock()
	rec, ok := t.blocked[ip]
	t.mu.RUnlock()
	if !ok {
		return false, ""
	}
	if !rec.expired(now) {
		return true, rec.Reason
	}

	t.mu.Lock()
	// Re-check under the write lock; the record may have been replaced.
	if rec, ok = t.blocked[ip]; ok && rec.expired(now) {
		delete(t.blocked, ip)
	}
	t.mu.Unlock()
	return false, ""
}

// Block imposes an explicit administrative block. A zero duration makes
// the block permanent.
func (t *Tracker) Block(ip, reason string, duration time.Duration) {
	now := t.now()
	rec := &BlockedIPRecord{IP: ip, Reason: reason, BlockedAt: now}
	if duration > 0 {
		expires := now.Add(duration)
		rec.ExpiresAt = &expires
	}

	t.mu.Lock()
	t.blocked[ip] = rec
	t.mu.Unlock()

	t.logger.Info("IP blocked",
		zap.String("ip", ip),
		zap.String("reason", reason),
		zap.Duration("duration", duration))
	if t.events != nil {
		t.events.Log(EventIPBlocked, map[string]interface{}{
			"ip":     ip,
			"reason": reason,
			"auto":   false,
		})
	}
}

// Unblock removes any block for ip.
func (t *Tracker) Unblock(ip string) {
	t.mu.Lock()
	_, existed := t.blocked[ip]
	delete(t.blocked, ip)
	t.mu.Unlock()

	if existed {
		t.logger.Info("IP unblocked", zap.String("ip", ip))
	}
}

// BlockedIPs returns the currently blocked IPs, skipping (and removing)
// expired records.
func (t *Tracker) BlockedIPs() []*BlockedIPRecord {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*BlockedIPRecord, 0, len(t.blocked))
	for ip, rec := range t.blocked {
		if rec.expired(now) {
			delete(t.blocked, ip)
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// Record returns a copy of the activity record for ip, or nil.
func (t *Tracker) Record(ip string) *SuspiciousActivityRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[ip]
	if !ok {
		return nil
	}
	cp := *rec
	cp.Activities = append([]ActivityEntry(nil), rec.Activities...)
	return &cp
}

// Close stops the periodic sweep.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() {
		close(t.stopSweep)
	})
}

func (t *Tracker) sweepRoutine() {
	for {
		select {
		case <-t.sweepTicker.C:
			t.sweepStale()
		case <-t.stopSweep:
			t.sweepTicker.Stop()
			return
		}
	}
}

// sweepStale removes aged, low-count activity records to bound memory.
// High-count records survive until they age out naturally through the
// same path once their count drops below the floor, which only happens
// by record replacement.
func (t *Tracker) sweepStale() {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for ip, rec := range t.records {
		if now.Sub(rec.FirstSeen) > t.config.RecordMaxAge && rec.Count < t.config.RecordMinCount {
			delete(t.records, ip)
			removed++
		}
	}
	if removed > 0 {
		t.logger.Debug("swept stale activity records", zap.Int("removed", removed))
	}
}
