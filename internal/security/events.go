// events.go: Append-only bounded security event log with an optional
// asynchronous durable mirror.
package security

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// EventKind classifies security events.
type EventKind string

const (
	EventRateLimitExceeded     EventKind = "rate_limit_exceeded"
	EventBlockedRequestAttempt EventKind = "blocked_request_attempt"
	EventIPBlocked             EventKind = "ip_blocked"
	EventSuspiciousActivity    EventKind = "suspicious_activity"
	EventOfflineActionDropped  EventKind = "offline_action_dropped"
)

// maxEvents bounds the in-memory log.
const maxEvents = 1000

var (
	securityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convoport",
			Subsystem: "security",
			Name:      "events_total",
			Help:      "Security events by kind",
		},
		[]string{"kind"},
	)

	securityEventsTrimmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "convoport",
			Subsystem: "security",
			Name:      "events_trimmed_total",
			Help:      "Events evicted from the bounded in-memory log",
		},
	)

	securityMirrorDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "convoport",
			Subsystem: "security",
			Name:      "mirror_dropped_total",
			Help:      "Events not mirrored to the durable sink (queue full or write error)",
		},
	)
)

// Event is one security event. Detail is opaque structured metadata
// supplied by the caller.
type Event struct {
	ID        string                 `json:"id"`
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// Sink is a durable mirror for security events. Write failures are
// captured locally and never surface to the logging caller.
type Sink interface {
	Write(event *Event) error
}

// EventLog keeps the most recent 1,000 events in memory and mirrors each
// event to the sink asynchronously. Log never blocks on the mirror.
type EventLog struct {
	mu     sync.RWMutex
	events []*Event

	trimmed       atomic.Int64
	mirrorDropped atomic.Int64

	sink     Sink
	mirrorCh chan *Event
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once

	logger *zap.Logger
	now    func() time.Time
}

// NewEventLog creates an event log. sink may be nil, in which case no
// mirroring happens.
func NewEventLog(sink Sink, logger *zap.Logger) *EventLog {
	el := &EventLog{
		events:   make([]*Event, 0, maxEvents),
		sink:     sink,
		mirrorCh: make(chan *Event, maxEvents),
		stop:     make(chan struct{}),
		logger:   logger.Named("security-events"),
		now:      time.Now,
	}
	if sink != nil {
		el.wg.Add(1)
		go el.mirrorWorker()
	}
	return el
}

// Log appends an event, trims the in-memory log to the most recent
// 1,000, and hands the event to the mirror worker without blocking.
func (el *EventLog) Log(kind EventKind, detail map[string]interface{}) {
	event := &Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: el.now(),
		Detail:    detail,
	}

	el.mu.Lock()
	el.events = append(el.events, event)
	if len(el.events) > maxEvents {
		evicted := len(el.events) - maxEvents
		el.events = el.events[evicted:]
		el.trimmed.Add(int64(evicted))
		securityEventsTrimmed.Add(float64(evicted))
	}
	el.mu.Unlock()

	securityEvents.WithLabelValues(string(kind)).Inc()

	el.logger.Info("security event",
		zap.String("event_id", event.ID),
		zap.String("kind", string(kind)),
		zap.Any("detail", detail))

	if el.sink == nil {
		return
	}
	select {
	case el.mirrorCh <- event:
	default:
		el.mirrorDropped.Add(1)
		securityMirrorDropped.Inc()
		el.logger.Warn("mirror queue full, event not mirrored",
			zap.String("event_id", event.ID))
	}
}

// KindCounts returns event counts by kind within the window ending now.
// A zero window counts everything retained.
func (el *EventLog) KindCounts(window time.Duration) map[EventKind]int {
	cutoff := time.Time{}
	if window > 0 {
		cutoff = el.now().Add(-window)
	}

	el.mu.RLock()
	defer el.mu.RUnlock()

	counts := make(map[EventKind]int)
	for _, ev := range el.events {
		if ev.Timestamp.After(cutoff) {
			counts[ev.Kind]++
		}
	}
	return counts
}

// Recent returns up to n most recent events, newest last.
func (el *EventLog) Recent(n int) []*Event {
	el.mu.RLock()
	defer el.mu.RUnlock()

	if n <= 0 || n > len(el.events) {
		n = len(el.events)
	}
	out := make([]*Event, n)
	copy(out, el.events[len(el.events)-n:])
	return out
}

// TrimmedCount returns how many events were evicted from the bounded log.
func (el *EventLog) TrimmedCount() int64 {
	return el.trimmed.Load()
}

// MirrorDroppedCount returns how many events missed the durable mirror.
func (el *EventLog) MirrorDroppedCount() int64 {
	return el.mirrorDropped.Load()
}

// Close drains the mirror worker.
func (el *EventLog) Close() {
	el.stopOnce.Do(func() {
		close(el.stop)
	})
	el.wg.Wait()
}

func (el *EventLog) mirrorWorker() {
	defer el.wg.Done()
	for {
		select {
		case event := <-el.mirrorCh:
			if err := el.sink.Write(event); err != nil {
				el.mirrorDropped.Add(1)
				securityMirrorDropped.Inc()
				el.logger.Warn("durable mirror write failed",
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		case <-el.stop:
			// Drain whatever is already queued, then exit.
			for {
				select {
				case event := <-el.mirrorCh:
					if err := el.sink.Write(event); err != nil {
						el.mirrorDropped.Add(1)
						securityMirrorDropped.Inc()
					}
				default:
					return
				}
			}
		}
	}
}
