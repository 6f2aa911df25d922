package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "doodle"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"method", "path"},
	)

	gallerySaves = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gallery",
			Name:      "saves_total",
			Help:      "Total number of doodles published to the gallery.",
		},
	)

	galleryLikes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gallery",
			Name:      "like_ops_total",
			Help:      "Total number of like and unlike operations applied.",
		},
		[]string{"op"},
	)

	galleryEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gallery",
			Name:      "evictions_total",
			Help:      "Total number of index entries removed by capacity sweeps.",
		},
	)

	gallerySweepConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gallery",
			Name:      "sweep_conflicts_total",
			Help:      "Total number of sweeps aborted because the gallery changed underneath.",
		},
	)

	emails = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "requests_total",
			Help:      "Email requests by outcome.",
		},
		[]string{"outcome"},
	)

	critiques = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "critique",
			Name:      "requests_total",
			Help:      "Critique requests by outcome.",
		},
		[]string{"outcome"},
	)

	critiqueDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "critique",
			Name:      "duration_seconds",
			Help:      "Duration of AI completion calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~64s
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		gallerySaves,
		galleryLikes,
		galleryEvictions,
		gallerySweepConflicts,
		emails,
		critiques,
		critiqueDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/metrics") {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

func RecordGallerySave() {
	gallerySaves.Inc()
}

func RecordLike(like bool) {
	op := "unlike"
	if like {
		op = "like"
	}
	galleryLikes.WithLabelValues(op).Inc()
}

func RecordEvictions(n int) {
	if n <= 0 {
		return
	}
	galleryEvictions.Add(float64(n))
}

func RecordSweepConflict() {
	gallerySweepConflicts.Inc()
}

// RecordEmail counts an email request; outcome is one of sent, invalid,
// rate_limited, failed.
func RecordEmail(outcome string) {
	emails.WithLabelValues(outcome).Inc()
}

// RecordCritique counts a completion call and its duration.
func RecordCritique(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	critiques.WithLabelValues(outcome).Inc()
	critiqueDuration.Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath collapses request paths onto the fixed route set so label
// cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	trimmed = strings.TrimPrefix(trimmed, "api/")
	if trimmed == "api" {
		trimmed = ""
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "analyze", "email", "health", "ready":
		return "/" + parts[0]
	case "gallery":
		if len(parts) > 1 {
			return "/gallery/:action"
		}
		return "/gallery"
	case "":
		return "/"
	default:
		return "/other"
	}
}
