// Package metrics owns the Prometheus registry served on the admin listener.
//
// Labels are bounded: HTTP metrics use the chi route pattern, never the raw
// path, and health check metrics use the configured check URL, which is a
// fixed set loaded at startup.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	ratelimitDeniedTotal prometheus.Counter
	profilingActive      prometheus.Gauge

	// health check engine
	runsTotal        *prometheus.CounterVec
	runDur           prometheus.Histogram
	checksTotal      *prometheus.CounterVec
	checkDur         *prometheus.HistogramVec
	redirectsTotal   prometheus.Counter
	checksConfigured prometheus.Gauge
	checksSource     *prometheus.GaugeVec
}

func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	probeBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP responses by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the rate limiter",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthcheck_runs_total",
			Help: "Health check runs by result (pass, fail, empty)",
		}, []string{"result"}),
		runDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "healthcheck_run_duration_seconds",
			Help:    "Wall time of a full health check run",
			Buckets: probeBuckets,
		}),
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthcheck_checks_total",
			Help: "Check outcomes by configured url and reason (pass when none)",
		}, []string{"url", "reason"}),
		checkDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthcheck_check_duration_seconds",
			Help:    "Elapsed time of one check across all of its hops",
			Buckets: probeBuckets,
		}, []string{"url"}),
		redirectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthcheck_redirects_total",
			Help: "Redirects followed by health checks",
		}),
		checksConfigured: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "healthcheck_checks_configured",
			Help: "Number of distinct check URLs loaded at startup",
		}),
		checksSource: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "healthcheck_checks_source_info",
			Help: "Where the checks were loaded from (value is always 1)",
		}, []string{"source", "verified"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.profilingActive,
		m.runsTotal,
		m.runDur,
		m.checksTotal,
		m.checkDur,
		m.redirectsTotal,
		m.checksConfigured,
		m.checksSource,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry is exposed for tests and for registering extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

func (m *ServerMetrics) IncRateLimitDenied() { m.ratelimitDeniedTotal.Inc() }

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// SetChecksLoaded records the check set picked up at startup.
func (m *ServerMetrics) SetChecksLoaded(source string, verified bool, n int) {
	m.checksSource.Reset()
	m.checksSource.WithLabelValues(source, strconv.FormatBool(verified)).Set(1)
	m.checksConfigured.Set(float64(n))
}

// ObserveCheck implements healthcheck.Observer.
func (m *ServerMetrics) ObserveCheck(url, reason string, elapsed time.Duration, redirects int) {
	if reason == "" {
		reason = "pass"
	}
	m.checksTotal.WithLabelValues(url, reason).Inc()
	m.checkDur.WithLabelValues(url).Observe(elapsed.Seconds())
	if redirects > 0 {
		m.redirectsTotal.Add(float64(redirects))
	}
}

// ObserveRun implements healthcheck.Observer.
func (m *ServerMetrics) ObserveRun(result string, elapsed time.Duration) {
	m.runsTotal.WithLabelValues(result).Inc()
	m.runDur.Observe(elapsed.Seconds())
}
