// Package metrics registers the process-wide Prometheus collectors this
// module exposes, grounded on _examples/vjache-cie/pkg/ingestion, which
// registers counters against github.com/prometheus/client_golang and
// serves them over /metrics via promhttp.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LimiterRejections counts memory/table growth rejections (spec.md §4.1).
	LimiterRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "datafusion_udf_wasm",
		Subsystem: "limiter",
		Name:      "rejections_total",
		Help:      "Guest memory or table growth requests rejected by the resource limiter.",
	})

	// VFSQuotaRejections counts VFS operations rejected by a quota check (spec.md §4.2).
	VFSQuotaRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datafusion_udf_wasm",
		Subsystem: "vfs",
		Name:      "quota_rejections_total",
		Help:      "Virtual filesystem operations rejected by a quota check, labeled by the quota name.",
	}, []string{"quota"})

	// TrustedDataRejections counts decoder LimitExceeded errors (spec.md §4.3).
	TrustedDataRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datafusion_udf_wasm",
		Subsystem: "trustdata",
		Name:      "limit_exceeded_total",
		Help:      "Trusted-data decoder rejections, labeled by the limit name.",
	}, []string{"limit"})

	// InvokeLatency measures wall-clock time of invoke_with_args calls (spec.md §4.6).
	InvokeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "datafusion_udf_wasm",
		Subsystem: "udf",
		Name:      "invoke_seconds",
		Help:      "Wall-clock duration of a single UDF invocation, including epoch-deadline overhead.",
		Buckets:   prometheus.DefBuckets,
	})

	// CompilationCache tracks hit/miss counts for the precompile cache (spec.md §4.7).
	CompilationCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datafusion_udf_wasm",
		Subsystem: "compile",
		Name:      "cache_total",
		Help:      "Compilation cache lookups, labeled hit or miss.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		LimiterRejections,
		VFSQuotaRejections,
		TrustedDataRejections,
		InvokeLatency,
		CompilationCache,
	)
}
