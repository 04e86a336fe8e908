package security

import (
	"sort"
	"time"
)

// KindCount pairs an event kind with its count, for ranked reporting.
type KindCount struct {
	Kind  EventKind `json:"kind"`
	Count int       `json:"count"`
}

// StatsReport is the operator-facing snapshot served by the admin API.
type StatsReport struct {
	GeneratedAt   time.Time         `json:"generated_at"`
	EventsLastHr  int               `json:"events_last_hour"`
	EventsLastDay int               `json:"events_last_day"`
	ByKindLastDay map[EventKind]int `json:"by_kind_last_day"`
	TopKinds      []KindCount       `json:"top_kinds"`
	BlockedIPs    []*BlockedIPRecord `json:"blocked_ips"`
	TrackedIPs    int               `json:"tracked_ips"`
}

// BuildStats assembles a stats report from the event log and tracker.
// Either may be nil; the corresponding sections are left empty.
func BuildStats(events *EventLog, tracker *Tracker) *StatsReport {
	report := &StatsReport{
		GeneratedAt:   time.Now(),
		ByKindLastDay: make(map[EventKind]int),
	}

	if events != nil {
		report.GeneratedAt = events.now()
		hour := events.KindCounts(time.Hour)
		day := events.KindCounts(24 * time.Hour)
		for _, n := range hour {
			report.EventsLastHr += n
		}
		for kind, n := range day {
			report.EventsLastDay += n
			report.ByKindLastDay[kind] = n
		}
		report.TopKinds = rankKinds(day, 5)
	}

	if tracker != nil {
		report.BlockedIPs = tracker.BlockedIPs()
		tracker.mu.RLock()
		report.TrackedIPs = len(tracker.records)
		tracker.mu.RUnlock()
	}

	return report
}

func rankKinds(counts map[EventKind]int, limit int) []KindCount {
	ranked := make([]KindCount, 0, len(counts))
	for kind, n := range counts {
		ranked = append(ranked, KindCount{Kind: kind, Count: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Kind < ranked[j].Kind
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
