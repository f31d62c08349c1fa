// Package metrics keeps in-process latency percentiles and counters for the
// pipeline stages, oracle tiers and worker jobs.
package metrics

import (
	"database/sql"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Latency
// =============================================================================

// LatencyTracker keeps the most recent samples in a ring buffer.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	count   int64
}

// NewLatencyTracker creates a tracker keeping windowSize samples.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{samples: make([]time.Duration, windowSize)}
}

func (t *LatencyTracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples[t.next] = d
	t.next = (t.next + 1) % len(t.samples)
	if t.next == 0 {
		t.full = true
	}
	t.count++
}

// LatencyStats holds latency statistics over the retained window.
type LatencyStats struct {
	Count   int64   `json:"count"`
	Samples int     `json:"samples"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
	MaxMS   float64 `json:"max_ms"`
}

func (t *LatencyTracker) Stats() LatencyStats {
	t.mu.Lock()
	n := t.next
	if t.full {
		n = len(t.samples)
	}
	window := make([]time.Duration, n)
	copy(window, t.samples[:n])
	count := t.count
	t.mu.Unlock()

	if n == 0 {
		return LatencyStats{Count: count}
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	var sum time.Duration
	for _, d := range window {
		sum += d
	}
	pct := func(p float64) float64 { return ms(window[int(float64(n-1)*p)]) }
	return LatencyStats{
		Count:   count,
		Samples: n,
		AvgMS:   ms(sum / time.Duration(n)),
		P50MS:   pct(0.50),
		P95MS:   pct(0.95),
		P99MS:   pct(0.99),
		MaxMS:   ms(window[n-1]),
	}
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// =============================================================================
// Registry
// =============================================================================

// Registry holds named latency trackers and counters.
type Registry struct {
	mu       sync.RWMutex
	window   int
	trackers map[string]*LatencyTracker
	counters map[string]*atomic.Int64
}

func NewRegistry(windowSize int) *Registry {
	return &Registry{
		window:   windowSize,
		trackers: make(map[string]*LatencyTracker),
		counters: make(map[string]*atomic.Int64),
	}
}

// Observe records a latency for name.
func (r *Registry) Observe(name string, d time.Duration) {
	r.mu.RLock()
	t, ok := r.trackers[name]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if t, ok = r.trackers[name]; !ok {
			t = NewLatencyTracker(r.window)
			r.trackers[name] = t
		}
		r.mu.Unlock()
	}
	t.Record(d)
}

// Since records the time elapsed since start. Use with defer.
func (r *Registry) Since(name string, start time.Time) {
	r.Observe(name, time.Since(start))
}

// Inc increments the counter name.
func (r *Registry) Inc(name string) {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if c, ok = r.counters[name]; !ok {
			c = &atomic.Int64{}
			r.counters[name] = c
		}
		r.mu.Unlock()
	}
	c.Add(1)
}

// Snapshot is the JSON view of a Registry.
type Snapshot struct {
	Latency  map[string]LatencyStats `json:"latency"`
	Counters map[string]int64        `json:"counters"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot{
		Latency:  make(map[string]LatencyStats, len(r.trackers)),
		Counters: make(map[string]int64, len(r.counters)),
	}
	for name, t := range r.trackers {
		s.Latency[name] = t.Stats()
	}
	for name, c := range r.counters {
		s.Counters[name] = c.Load()
	}
	return s
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() { global = NewRegistry(1000) })
	return global
}

// =============================================================================
// Database Pool
// =============================================================================

// DBPoolStats holds database connection pool statistics.
type DBPoolStats struct {
	OpenConnections    int   `json:"open_connections"`
	InUse              int   `json:"in_use"`
	Idle               int   `json:"idle"`
	MaxOpenConnections int   `json:"max_open_connections"`
	WaitCount          int64 `json:"wait_count"`
	WaitDurationMS     int64 `json:"wait_duration_ms"`
}

func GetDBPoolStats(db *sql.DB) DBPoolStats {
	if db == nil {
		return DBPoolStats{}
	}
	st := db.Stats()
	return DBPoolStats{
		OpenConnections:    st.OpenConnections,
		InUse:              st.InUse,
		Idle:               st.Idle,
		MaxOpenConnections: st.MaxOpenConnections,
		WaitCount:          st.WaitCount,
		WaitDurationMS:     st.WaitDuration.Milliseconds(),
	}
}
