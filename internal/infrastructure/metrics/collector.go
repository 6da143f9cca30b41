package metrics

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arkova/substrate/internal/repositories"
)

// Collector collects and aggregates metrics for the application.
type Collector struct {
	// API metrics
	apiRequests sync.Map // map[string]*uint64 - route -> count
	apiErrors   sync.Map // map[string]*uint64 - route -> error count
	apiDuration sync.Map // map[string]*durationValue - route -> total duration in seconds

	// Audit log reference (optional, for querying log-size metrics)
	activities repositories.ActivityRepository
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// AuditMetrics holds audit log size metrics.
type AuditMetrics struct {
	LiveRecords     int64
	ArchivedRecords int64
}

// APIMetrics holds API request metrics.
type APIMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	TotalDurationSeconds map[string]float64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetActivityRepository sets the audit log source for log-size metrics.
func (c *Collector) SetActivityRepository(activities repositories.ActivityRepository) {
	c.activities = activities
}

// RecordRequest records an API request.
func (c *Collector) RecordRequest(route string) {
	counter := c.getOrCreateCounter(&c.apiRequests, route)
	atomic.AddUint64(counter, 1)
}

// RecordError records an API error.
func (c *Collector) RecordError(route string) {
	counter := c.getOrCreateCounter(&c.apiErrors, route)
	atomic.AddUint64(counter, 1)
}

// RecordDuration records the duration of an API call in seconds.
func (c *Collector) RecordDuration(route string, durationSeconds float64) {
	val, _ := c.apiDuration.LoadOrStore(route, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// GetAuditMetrics returns current audit log sizes.
func (c *Collector) GetAuditMetrics(ctx context.Context) *AuditMetrics {
	if c.activities == nil {
		return &AuditMetrics{}
	}

	live, archived, err := c.activities.Counts(ctx)
	if err != nil {
		return &AuditMetrics{}
	}
	return &AuditMetrics{LiveRecords: live, ArchivedRecords: archived}
}

// GetAPIMetrics returns current API metrics.
func (c *Collector) GetAPIMetrics() *APIMetrics {
	result := &APIMetrics{
		RequestCounts:        make(map[string]uint64),
		ErrorCounts:          make(map[string]uint64),
		TotalDurationSeconds: make(map[string]float64),
	}

	// Collect request counts
	c.apiRequests.Range(func(key, value interface{}) bool {
		route := key.(string)
		count := atomic.LoadUint64(value.(*uint64))
		result.RequestCounts[route] = count
		return true
	})

	// Collect error counts
	c.apiErrors.Range(func(key, value interface{}) bool {
		route := key.(string)
		count := atomic.LoadUint64(value.(*uint64))
		result.ErrorCounts[route] = count
		return true
	})

	// Collect duration totals
	c.apiDuration.Range(func(key, value interface{}) bool {
		route := key.(string)
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[route] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})

	return result
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}
