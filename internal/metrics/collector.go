// Package metrics provides in-memory runtime statistics for analysis runs.
package metrics

import (
	"maps"
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated timing for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	Errors      int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64
}

// Snapshot is the collector state at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Operations    map[string]OperationSnapshot
	Counters      map[string]int64
}

// Operation names.
const (
	OpUpload        = "upload"
	OpTrigger       = "trigger_processing"
	OpStatusPoll    = "status_poll"
	OpProcessedData = "processed_data"
	OpCreateProject = "create_project"
)

// Counter names.
const (
	CounterPollErrors       = "poll_errors"
	CounterStaleResponses   = "stale_responses"
	CounterTimeouts         = "timeouts"
	CounterExtractionPrefix = "extraction_"
	CounterSchemaRejects    = "schema_rejects"
)

// Collector aggregates in-memory runtime statistics.
// All methods are safe for concurrent use and are no-ops on a nil Collector,
// so components may run without one.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	counters  map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		counters:  make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records one call of op. A non-nil err counts as a failure.
func (c *Collector) RecordTiming(op string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration
	if err != nil {
		m.Errors++
	}
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// Time starts timing op; call the returned func with the outcome.
func (c *Collector) Time(op string) func(err error) {
	start := time.Now()
	return func(err error) {
		c.RecordTiming(op, time.Since(start), err)
	}
}

// Inc increments a named counter.
func (c *Collector) Inc(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[name]++
	c.mu.Unlock()
}

// Counter returns the current value of a named counter.
func (c *Collector) Counter(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// snapshotOp creates a snapshot for an operation.
func snapshotOp(m *OperationMetrics) OperationSnapshot {
	snap := OperationSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
	if m.Count > 0 {
		snap.AvgTimeMs = float64(m.TotalTime.Milliseconds()) / float64(m.Count)
		snap.MinTimeMs = m.MinTime.Milliseconds()
	}
	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops := make(map[string]OperationSnapshot, len(c.ops))
	for name, m := range c.ops {
		ops[name] = snapshotOp(m)
	}
	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Operations:    ops,
		Counters:      maps.Clone(c.counters),
	}
}
