package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ttsd",
		Subsystem: "synth",
		Name:      "cache_hits_total",
		Help:      "Requests served from the fingerprint cache or a shared computation",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ttsd",
		Subsystem: "synth",
		Name:      "cache_misses_total",
		Help:      "Requests that owned a fresh inference",
	})

	inferencesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ttsd",
		Subsystem: "synth",
		Name:      "inferences_total",
		Help:      "Engine inference calls by outcome",
	}, []string{"model", "device", "status"})

	inferenceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ttsd",
		Subsystem: "synth",
		Name:      "inference_duration_seconds",
		Help:      "Duration of engine inference calls in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"model", "device"})

	admissionRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ttsd",
		Subsystem: "synth",
		Name:      "admission_rejected_total",
		Help:      "Requests rejected by admission control",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, inferencesTotal, inferenceDuration, admissionRejected)
}
