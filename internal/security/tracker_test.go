package security

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker(t *testing.T, clock *fakeClock) *Tracker {
	t.Helper()
	tr := NewTracker(DefaultTrackerConfig(), nil, zap.NewNop())
	tr.now = clock.Now
	t.Cleanup(tr.Close)
	return tr
}

func TestTrackAutoBlocksAtThreshold(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(t, clock)

	for i := 0; i < 9; i++ {
		tr.Track("10.0.0.1", "repeated 429")
	}
	blocked, _ := tr.IsBlocked("10.0.0.1")
	assert.False(t, blocked, "nine signals must not block")

	tr.Track("10.0.0.1", "repeated 429")
	blocked, reason := tr.IsBlocked("10.0.0.1")
	assert.True(t, blocked, "tenth signal must auto-block")
	assert.Equal(t, BlockReasonExcessive, reason)

	blockedAt := tr.BlockedIPs()[0].BlockedAt

	// Further signals while blocked must not reset the block.
	clock.Advance(10 * time.Minute)
	tr.Track("10.0.0.1", "repeated 429")

	records := tr.BlockedIPs()
	require.Len(t, records, 1)
	assert.Equal(t, blockedAt, records[0].BlockedAt, "existing block must not be replaced")
}

func TestAutoBlockExpires(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(t, clock)

	for i := 0; i < 10; i++ {
		tr.Track("10.0.0.2", "malformed payloads")
	}
	blocked, _ := tr.IsBlocked("10.0.0.2")
	require.True(t, blocked)

	clock.Advance(time.Hour + time.Second)
	blocked, _ = tr.IsBlocked("10.0.0.2")
	assert.False(t, blocked, "block must lapse after its duration")
	assert.Empty(t, tr.BlockedIPs())
}

func TestExplicitBlockWithoutExpiry(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(t, clock)

	tr.Block("203.0.113.7", "manual review", 0)

	clock.Advance(365 * 24 * time.Hour)
	blocked, reason := tr.IsBlocked("203.0.113.7")
	assert.True(t, blocked, "a zero-duration block is permanent")
	assert.Equal(t, "manual review", reason)

	tr.Unblock("203.0.113.7")
	blocked, _ = tr.IsBlocked("203.0.113.7")
	assert.False(t, blocked)
}

func TestActivityHistoryTrimmedToLastTen(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(t, clock)

	for i := 0; i < 15; i++ {
		tr.Track("10.0.0.3", fmt.Sprintf("signal-%d", i))
	}

	rec := tr.Record("10.0.0.3")
	require.NotNil(t, rec)
	assert.Equal(t, 15, rec.Count, "count keeps growing past the history cap")
	require.Len(t, rec.Activities, 10)
	assert.Equal(t, "signal-5", rec.Activities[0].Descriptor)
	assert.Equal(t, "signal-14", rec.Activities[9].Descriptor)
}

func TestSweepRemovesStaleLowCountRecords(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(t, clock)

	tr.Track("10.0.0.4", "one-off probe")
	for i := 0; i < 6; i++ {
		tr.Track("10.0.0.5", "persistent probing")
	}

	clock.Advance(2 * time.Hour)
	tr.sweepStale()

	assert.Nil(t, tr.Record("10.0.0.4"), "aged low-count record must be swept")
	assert.NotNil(t, tr.Record("10.0.0.5"), "high-count record survives the sweep")
}

func TestTrackEmitsEvents(t *testing.T) {
	clock := newFakeClock()
	el := NewEventLog(nil, zap.NewNop())
	el.now = clock.Now
	t.Cleanup(el.Close)

	tr := NewTracker(DefaultTrackerConfig(), el, zap.NewNop())
	tr.now = clock.Now
	t.Cleanup(tr.Close)

	for i := 0; i < 10; i++ {
		tr.Track("10.0.0.6", "credential stuffing")
	}

	counts := el.KindCounts(0)
	assert.Equal(t, 10, counts[EventSuspiciousActivity])
	assert.Equal(t, 1, counts[EventIPBlocked], "exactly one block event for the escalation")
}
