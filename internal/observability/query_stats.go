// Package observability provides field-access statistics and Prometheus
// metrics for stream queries.
package observability

import (
	"sort"
	"sync"
	"time"
)

// Field access roles.
const (
	RolePredicate = "predicate"
	RoleSelect    = "select"
)

// QueryStats tracks which fields queries read and how much of each stream
// they decode.
type QueryStats struct {
	mu        sync.RWMutex
	fieldFreq map[string]*FieldStats
	scans     ScanTotals
	window    time.Duration
}

// FieldStats holds statistics for one "Owner.Field".
type FieldStats struct {
	Field     string
	Frequency int64
	LastSeen  time.Time
	Roles     map[string]int // role → count (e.g., "predicate" → 5, "select" → 2)
}

// ScanTotals accumulates per-scan counters across every recorded scan.
type ScanTotals struct {
	Scans       int64
	Decoded     int64
	TypeSkipped int64
	Filtered    int64
	Yielded     int64
	Bytes       int64
	Elapsed     time.Duration
}

// NewQueryStats creates a new query statistics tracker.
// window: time duration for pruning old field entries (e.g., 1 hour)
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		fieldFreq: make(map[string]*FieldStats),
		window:    window,
	}
}

// RecordField records one query reading field in the given role.
// This method is O(1) and thread-safe.
func (q *QueryStats) RecordField(field, role string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats, exists := q.fieldFreq[field]
	if !exists {
		stats = &FieldStats{
			Field: field,
			Roles: make(map[string]int),
		}
		q.fieldFreq[field] = stats
	}

	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.Roles[role]++
}

// RecordScan adds one finished scan to the totals.
func (q *QueryStats) RecordScan(decoded, typeSkipped, filtered, yielded, bytes int64, elapsed time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.scans.Scans++
	q.scans.Decoded += decoded
	q.scans.TypeSkipped += typeSkipped
	q.scans.Filtered += filtered
	q.scans.Yielded += yielded
	q.scans.Bytes += bytes
	q.scans.Elapsed += elapsed
}

// Totals returns the accumulated scan counters.
func (q *QueryStats) Totals() ScanTotals {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.scans
}

// GetTopFields returns the top N fields by frequency.
// Returns a copy of the stats sorted by frequency (descending), ties by name.
func (q *QueryStats) GetTopFields(n int) []FieldStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.fieldFreq) == 0 {
		return []FieldStats{}
	}

	stats := make([]FieldStats, 0, len(q.fieldFreq))
	for _, s := range q.fieldFreq {
		// Deep copy to prevent external modification
		statsCopy := FieldStats{
			Field:     s.Field,
			Frequency: s.Frequency,
			LastSeen:  s.LastSeen,
			Roles:     make(map[string]int, len(s.Roles)),
		}
		for role, count := range s.Roles {
			statsCopy.Roles[role] = count
		}
		stats = append(stats, statsCopy)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Field < stats[j].Field
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes field entries where time.Since(LastSeen) > window.
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := time.Now().Add(-q.window)
	for field, stats := range q.fieldFreq {
		if stats.LastSeen.Before(threshold) {
			delete(q.fieldFreq, field)
		}
	}
}
