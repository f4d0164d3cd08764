// Package metrics exposes Prometheus collectors for the collection service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineItemsTotal           *prometheus.CounterVec
	pipelineErrorsTotal          *prometheus.CounterVec
	pipelineStageDurationSeconds *prometheus.HistogramVec
	poolInflight                 *prometheus.GaugeVec
	fetchPagesTotal              *prometheus.CounterVec
	fetchBytesTotal              *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	rateLimitDelaysSeconds       *prometheus.HistogramVec
	geocodeCacheTotal            *prometheus.CounterVec
	robotsIndeterminateTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pipelineItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_pipeline_items_total",
				Help: "Total number of normalized items produced, labeled by region.",
			},
			[]string{"region"},
		)

		pipelineErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_pipeline_errors_total",
				Help: "Total number of non-fatal pipeline errors, labeled by source.",
			},
			[]string{"source"},
		)

		pipelineStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_pipeline_stage_duration_seconds",
				Help:    "Histogram of pipeline stage latencies, labeled by stage.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		)

		poolInflight = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulse_pool_inflight",
				Help: "Number of worker pool tasks currently running, labeled by stage.",
			},
			[]string{"stage"},
		)

		fetchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_fetch_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		geocodeCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_geocode_cache_total",
				Help: "Geocode cache lookups, labeled by result (hit, miss, error).",
			},
			[]string{"result"},
		)

		robotsIndeterminateTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_robots_indeterminate_total",
				Help: "Pages scraped without a readable robots.txt, labeled by site.",
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItems adds n produced items for region.
func ObserveItems(region string, n int) {
	Init()
	if n > 0 {
		pipelineItemsTotal.WithLabelValues(region).Add(float64(n))
	}
}

// ObserveNonFatal increments the non-fatal error counter for source.
func ObserveNonFatal(source string) {
	Init()
	pipelineErrorsTotal.WithLabelValues(source).Inc()
}

// ObserveStage records how long a pipeline or scan stage took.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// TrackInflight increments the pool gauge for stage and returns the matching
// decrement.
func TrackInflight(stage string) func() {
	Init()
	gauge := poolInflight.WithLabelValues(stage)
	gauge.Inc()
	return gauge.Dec
}

// ObserveFetch increments the fetch metrics.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveGeocodeCache counts a geocode cache lookup result.
func ObserveGeocodeCache(result string) {
	Init()
	geocodeCacheTotal.WithLabelValues(result).Inc()
}

// ObserveRobotsIndeterminate counts a page fetched while its site's
// robots.txt could not be read.
func ObserveRobotsIndeterminate(site string) {
	Init()
	robotsIndeterminateTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// Middleware records request counts and latencies per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}
