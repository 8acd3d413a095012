package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for memory-manager metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	allocTotal  *prometheus.CounterVec
	freeTotal   *prometheus.CounterVec
	poolManaged *prometheus.GaugeVec
	poolFree    *prometheus.GaugeVec

	lowMemTotal   *prometheus.CounterVec
	reserveLevel  prometheus.Gauge
	commitLimit   prometheus.Gauge
	committed     prometheus.Gauge

	gcDuration  prometheus.Histogram
	gcReclaimed prometheus.Counter

	pscalcExecTotal     *prometheus.CounterVec
	callCacheLookupTotal *prometheus.CounterVec

	uptime prometheus.GaugeFunc
}

var defaultGCBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem under the
// given namespace (e.g. "mm"), registering the Go/process collectors
// alongside the memory-manager-specific ones.
func InitPrometheus(namespace string, gcBuckets []float64) {
	if len(gcBuckets) == 0 {
		gcBuckets = defaultGCBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		allocTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alloc_total", Help: "Total allocation attempts by pool type and outcome.",
		}, []string{"pool_type", "outcome"}),

		freeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "free_total", Help: "Total frees by pool type.",
		}, []string{"pool_type"}),

		poolManaged: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_managed_bytes", Help: "Bytes currently managed by a pool.",
		}, []string{"pool_type"}),

		poolFree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_free_bytes", Help: "Bytes currently free within a pool.",
		}, []string{"pool_type"}),

		lowMemTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "lowmem_handler_invocations_total", Help: "Apportioner tier rounds by tier and outcome.",
		}, []string{"tier", "outcome"}),

		reserveLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "reserve_level", Help: "Index of the currently held reserve slot.",
		}),

		commitLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "commit_limit_bytes", Help: "Current arena commit limit.",
		}),

		committed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "committed_bytes", Help: "Current arena committed bytes.",
		}),

		gcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "gc_duration_ms", Help: "Garbage collection pass duration in milliseconds.",
			Buckets: gcBuckets,
		}),

		gcReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_reclaimed_bytes_total", Help: "Total bytes reclaimed by garbage collection.",
		}),

		pscalcExecTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pscalc_exec_total", Help: "PS-calculator executions by result.",
		}, []string{"result"}),

		callCacheLookupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "callcache_lookup_total", Help: "Call-cache lookups by hit/miss.",
		}, []string{"hit"}),
	}

	pm.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "uptime_seconds", Help: "Seconds since the metrics subsystem started.",
	}, func() float64 { return time.Since(global.startTime).Seconds() })

	registry.MustRegister(
		pm.allocTotal, pm.freeTotal, pm.poolManaged, pm.poolFree,
		pm.lowMemTotal, pm.reserveLevel, pm.commitLimit, pm.committed,
		pm.gcDuration, pm.gcReclaimed, pm.pscalcExecTotal, pm.callCacheLookupTotal,
		pm.uptime,
	)

	promMetrics = pm
}

// Handler returns the Prometheus scrape HTTP handler. Returns nil if
// InitPrometheus has not been called.
func Handler() http.Handler {
	if promMetrics == nil {
		return nil
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

func RecordPrometheusAlloc(poolType string, ok bool) {
	if promMetrics == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "fail"
	}
	promMetrics.allocTotal.WithLabelValues(poolType, outcome).Inc()
}

func RecordPrometheusFree(poolType string) {
	if promMetrics == nil {
		return
	}
	promMetrics.freeTotal.WithLabelValues(poolType).Inc()
}

func RecordPrometheusPoolSize(poolType string, managed, free int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.poolManaged.WithLabelValues(poolType).Set(float64(managed))
	promMetrics.poolFree.WithLabelValues(poolType).Set(float64(free))
}

func RecordPrometheusLowMem(tier string, handled bool) {
	if promMetrics == nil {
		return
	}
	outcome := "handled"
	if !handled {
		outcome = "failed"
	}
	promMetrics.lowMemTotal.WithLabelValues(tier, outcome).Inc()
}

func RecordPrometheusReserveLevel(level int32) {
	if promMetrics == nil {
		return
	}
	promMetrics.reserveLevel.Set(float64(level))
}

func RecordPrometheusCommit(limit, committed int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.commitLimit.Set(float64(limit))
	promMetrics.committed.Set(float64(committed))
}

func RecordPrometheusGC(durationMs int64, reclaimedBytes int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.gcDuration.Observe(float64(durationMs))
	promMetrics.gcReclaimed.Add(float64(reclaimedBytes))
}

func RecordPrometheusPSCalcExec(ok bool) {
	if promMetrics == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	promMetrics.pscalcExecTotal.WithLabelValues(result).Inc()
}

func RecordPrometheusCallCacheLookup(hit bool) {
	if promMetrics == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	promMetrics.callCacheLookupTotal.WithLabelValues(label).Inc()
}
