// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	dbErrors "github.com/qolzam/dbtable/errors"
)

// OpMetrics aggregates the statements issued for one operation label.
type OpMetrics struct {
	Op            string
	Count         int64
	Failed        int64
	TotalDuration time.Duration
	LastErrorCode string
}

// Average returns the mean statement duration.
func (m OpMetrics) Average() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.Count)
}

// Collector handles statement metrics collection and reporting
type Collector struct {
	totalStatements  int64
	failedStatements int64
	totalDuration    int64 // nanoseconds
	mu               sync.RWMutex
	ops              map[string]*OpMetrics
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		ops: make(map[string]*OpMetrics),
	}
}

// Global metrics collector instance
var globalMetrics = NewCollector()

// Global returns the process wide collector
func Global() *Collector {
	return globalMetrics
}

// Record adds one finished statement for op. err may be nil.
func (c *Collector) Record(op string, d time.Duration, err error) {
	atomic.AddInt64(&c.totalStatements, 1)
	atomic.AddInt64(&c.totalDuration, int64(d))
	if err != nil {
		atomic.AddInt64(&c.failedStatements, 1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.ops[op]
	if !ok {
		m = &OpMetrics{Op: op}
		c.ops[op] = m
	}
	m.Count++
	m.TotalDuration += d
	if err != nil {
		m.Failed++
		m.LastErrorCode = dbErrors.ToResponse(err).Code
	}
}

// Op returns a copy of the metrics for op.
func (c *Collector) Op(op string) (OpMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.ops[op]; ok {
		return *m, true
	}
	return OpMetrics{}, false
}

// Snapshot is a point in time copy of the collector.
type Snapshot struct {
	Total           int64
	Failed          int64
	AverageDuration time.Duration
	SuccessRate     float64
	Ops             []OpMetrics
}

// Snapshot returns global statement statistics, ops sorted by label.
func (c *Collector) Snapshot() Snapshot {
	total := atomic.LoadInt64(&c.totalStatements)
	failed := atomic.LoadInt64(&c.failedStatements)
	totalDur := atomic.LoadInt64(&c.totalDuration)

	s := Snapshot{Total: total, Failed: failed}
	if total > 0 {
		s.AverageDuration = time.Duration(totalDur / total)
		s.SuccessRate = float64(total-failed) / float64(total) * 100
	}

	c.mu.RLock()
	for _, m := range c.ops {
		s.Ops = append(s.Ops, *m)
	}
	c.mu.RUnlock()
	sort.Slice(s.Ops, func(i, j int) bool { return s.Ops[i].Op < s.Ops[j].Op })
	return s
}

// Reset clears every counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	atomic.StoreInt64(&c.totalStatements, 0)
	atomic.StoreInt64(&c.failedStatements, 0)
	atomic.StoreInt64(&c.totalDuration, 0)
	c.ops = make(map[string]*OpMetrics)
}
