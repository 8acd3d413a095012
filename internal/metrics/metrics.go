// Package metrics collects and exposes memory-manager observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (atomic counters + a minute-bucketed
//     time series of low-memory activity) for cheap introspection by the
//     host process without a scrape loop.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// # Concurrency — hot path
//
// RecordAlloc and RecordLowMemRound are called from the allocation
// front-end and the apportioner on paths that may run under the low-mem
// mutex, so they must not block. Counters are atomic; the time-series
// bucket update is dispatched onto a buffered channel and applied by a
// single background goroutine, exactly so the recording call never
// blocks on a lock.
//
// # Invariants
//
//   - LowMemHandled + LowMemFailed == LowMemInvocations.
//   - The time-series ring buffer holds at most timeSeriesBucketCount
//     buckets (24 * 60 = 1440 for the last 24 hours at 1-minute
//     granularity).
//   - tsChan capacity is 4096 events; events dropped when full are
//     counted in TSDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores low-memory activity for a single minute.
type TimeSeriesBucket struct {
	Timestamp     time.Time
	LowMemEvents  int64
	GCEvents      int64
	ReclaimedByte int64
}

// Metrics collects and exposes memory-manager runtime metrics.
type Metrics struct {
	// Allocation front-end
	AllocTotal   atomic.Int64
	AllocFailed  atomic.Int64
	FreeTotal    atomic.Int64
	DeferredOK   atomic.Int64
	DeferredFail atomic.Int64

	// Apportioner / low-mem handling
	LowMemInvocations atomic.Int64
	LowMemHandled      atomic.Int64
	LowMemFailed       atomic.Int64
	LowMemRetries      atomic.Int64

	// Reserves
	ReserveLevel      atomic.Int32
	CommitLimitBytes  atomic.Int64
	CommittedBytes    atomic.Int64

	// Garbage collection
	GCRuns            atomic.Int64
	GCReclaimedBytes  atomic.Int64
	GCTotalMs         atomic.Int64

	// PS-calculator
	PSCalcCompileFail atomic.Int64
	PSCalcExecOK      atomic.Int64
	PSCalcExecErr     atomic.Int64

	// Call-cache
	CallCacheHits   atomic.Int64
	CallCacheMisses atomic.Int64

	// Per-pool-type metrics
	poolMetrics sync.Map // pool type name -> *PoolMetrics

	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

type timeSeriesEvent struct {
	lowMem    bool
	gc        bool
	reclaimed int64
}

// PoolMetrics tracks metrics for a single pool type.
type PoolMetrics struct {
	Managed atomic.Int64
	Free    atomic.Int64
	Allocs  atomic.Int64
	Frees   atomic.Int64
}

var global = &Metrics{startTime: time.Now()}

func init() {
	global.tsChan = make(chan timeSeriesEvent, 4096)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics { return global }

// StartTime returns when the metrics subsystem was initialized.
func StartTime() time.Time { return global.startTime }

// RecordAlloc records an allocation attempt against a pool type.
func (m *Metrics) RecordAlloc(poolType string, ok bool) {
	if ok {
		m.AllocTotal.Add(1)
	} else {
		m.AllocFailed.Add(1)
	}
	pm := m.getPoolMetrics(poolType)
	if ok {
		pm.Allocs.Add(1)
	}
	RecordPrometheusAlloc(poolType, ok)
}

// RecordFree records a free against a pool type.
func (m *Metrics) RecordFree(poolType string) {
	m.FreeTotal.Add(1)
	m.getPoolMetrics(poolType).Frees.Add(1)
	RecordPrometheusFree(poolType)
}

// SetPoolSize records current managed/free bytes for a pool type.
func (m *Metrics) SetPoolSize(poolType string, managed, free int64) {
	pm := m.getPoolMetrics(poolType)
	pm.Managed.Store(managed)
	pm.Free.Store(free)
	RecordPrometheusPoolSize(poolType, managed, free)
}

// RecordDeferred records the outcome of a deferred-allocation realize call.
func (m *Metrics) RecordDeferred(ok bool) {
	if ok {
		m.DeferredOK.Add(1)
	} else {
		m.DeferredFail.Add(1)
	}
}

// RecordLowMemRound records one apportioner tier round.
func (m *Metrics) RecordLowMemRound(tier string, handled bool, retry bool) {
	m.LowMemInvocations.Add(1)
	if handled {
		m.LowMemHandled.Add(1)
	} else {
		m.LowMemFailed.Add(1)
	}
	if retry {
		m.LowMemRetries.Add(1)
	}
	m.enqueueTimeSeries(timeSeriesEvent{lowMem: true})
	RecordPrometheusLowMem(tier, handled)
}

// SetReserveLevel records the current held reserve slot index.
func (m *Metrics) SetReserveLevel(level int32) {
	m.ReserveLevel.Store(level)
	RecordPrometheusReserveLevel(level)
}

// SetCommit records the arena's current commit limit and committed bytes.
func (m *Metrics) SetCommit(limit, committed int64) {
	m.CommitLimitBytes.Store(limit)
	m.CommittedBytes.Store(committed)
	RecordPrometheusCommit(limit, committed)
}

// RecordGC records a completed garbage-collection pass.
func (m *Metrics) RecordGC(durationMs int64, reclaimedBytes int64) {
	m.GCRuns.Add(1)
	m.GCTotalMs.Add(durationMs)
	m.GCReclaimedBytes.Add(reclaimedBytes)
	m.enqueueTimeSeries(timeSeriesEvent{gc: true, reclaimed: reclaimedBytes})
	RecordPrometheusGC(durationMs, reclaimedBytes)
}

// RecordPSCalcCompile records a compile failure (compile never raises an
// error; it simply declines and the caller falls back).
func (m *Metrics) RecordPSCalcCompileFail() {
	m.PSCalcCompileFail.Add(1)
}

// RecordPSCalcExec records the outcome of executing a compiled procedure.
func (m *Metrics) RecordPSCalcExec(ok bool) {
	if ok {
		m.PSCalcExecOK.Add(1)
	} else {
		m.PSCalcExecErr.Add(1)
	}
	RecordPrometheusPSCalcExec(ok)
}

// RecordCallCacheLookup records a call-cache lookup outcome.
func (m *Metrics) RecordCallCacheLookup(hit bool) {
	if hit {
		m.CallCacheHits.Add(1)
	} else {
		m.CallCacheMisses.Add(1)
	}
	RecordPrometheusCallCacheLookup(hit)
}

func (m *Metrics) enqueueTimeSeries(evt timeSeriesEvent) {
	select {
	case m.tsChan <- evt:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt)
	}
}

func (m *Metrics) applyTimeSeriesEvent(evt timeSeriesEvent) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)
		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.initTimeSeriesLocked(now)
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) == 0 {
		return
	}
	bucket := m.timeSeries[len(m.timeSeries)-1]
	if evt.lowMem {
		bucket.LowMemEvents++
	}
	if evt.gc {
		bucket.GCEvents++
		bucket.ReclaimedByte += evt.reclaimed
	}
}

func (m *Metrics) initTimeSeriesLocked(now time.Time) {
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

func (m *Metrics) getPoolMetrics(poolType string) *PoolMetrics {
	if v, ok := m.poolMetrics.Load(poolType); ok {
		return v.(*PoolMetrics)
	}
	pm := &PoolMetrics{}
	actual, _ := m.poolMetrics.LoadOrStore(poolType, pm)
	return actual.(*PoolMetrics)
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"alloc": map[string]interface{}{
			"total":  m.AllocTotal.Load(),
			"failed": m.AllocFailed.Load(),
			"free":   m.FreeTotal.Load(),
		},
		"deferred": map[string]interface{}{
			"ok":   m.DeferredOK.Load(),
			"fail": m.DeferredFail.Load(),
		},
		"lowmem": map[string]interface{}{
			"invocations": m.LowMemInvocations.Load(),
			"handled":     m.LowMemHandled.Load(),
			"failed":      m.LowMemFailed.Load(),
			"retries":     m.LowMemRetries.Load(),
		},
		"reserve": map[string]interface{}{
			"level":          m.ReserveLevel.Load(),
			"commit_limit":   m.CommitLimitBytes.Load(),
			"committed":      m.CommittedBytes.Load(),
		},
		"gc": map[string]interface{}{
			"runs":             m.GCRuns.Load(),
			"reclaimed_bytes":  m.GCReclaimedBytes.Load(),
			"total_ms":         m.GCTotalMs.Load(),
		},
		"pscalc": map[string]interface{}{
			"compile_fail": m.PSCalcCompileFail.Load(),
			"exec_ok":      m.PSCalcExecOK.Load(),
			"exec_err":     m.PSCalcExecErr.Load(),
		},
		"callcache": map[string]interface{}{
			"hits":   m.CallCacheHits.Load(),
			"misses": m.CallCacheMisses.Load(),
		},
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}
}

// PoolStats returns per-pool-type metrics.
func (m *Metrics) PoolStats() map[string]interface{} {
	result := make(map[string]interface{})
	m.poolMetrics.Range(func(key, value interface{}) bool {
		poolType := key.(string)
		pm := value.(*PoolMetrics)
		result[poolType] = map[string]interface{}{
			"managed": pm.Managed.Load(),
			"free":    pm.Free.Load(),
			"allocs":  pm.Allocs.Load(),
			"frees":   pm.Frees.Load(),
		}
		return true
	})
	return result
}

// JSONHandler returns an HTTP handler that exposes metrics as JSON.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["pools"] = m.PoolStats()
		json.NewEncoder(w).Encode(result)
	})
}

// TimeSeries returns minute-level low-mem/GC activity for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		result[i] = map[string]interface{}{
			"timestamp":       bucket.Timestamp.Format(time.RFC3339),
			"low_mem_events":  bucket.LowMemEvents,
			"gc_events":       bucket.GCEvents,
			"reclaimed_bytes": bucket.ReclaimedByte,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for the low-mem activity time series.
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}
