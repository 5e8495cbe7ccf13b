package healthcheck

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/checks"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
)

const (
	DefaultTimeout      = 3 * time.Second
	DefaultMaxBodyBytes = 1 << 20
	DefaultUserAgent    = "linnemanlabs-healthchecks"

	tracerName = "github.com/keithlinneman/linnemanlabs-healthchecks/internal/healthcheck"
)

// Run results reported to an Observer.
const (
	RunPassed = "pass"
	RunFailed = "fail"
	RunEmpty  = "empty"
)

// Observer receives per-check and per-run measurements. metrics.ServerMetrics
// implements it.
type Observer interface {
	ObserveCheck(url, reason string, elapsed time.Duration, redirects int)
	ObserveRun(result string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveCheck(string, string, time.Duration, int) {}
func (nopObserver) ObserveRun(string, time.Duration)                {}

type Options struct {
	// Timeout bounds each hop of a check, not the whole redirect chain.
	Timeout time.Duration

	// MaxConcurrency caps in-flight checks per run. 0 means one goroutine per check.
	MaxConcurrency int

	// MaxBodyBytes caps how much of each response body is read for matching.
	MaxBodyBytes int64

	// Transport defaults to a clone of http.DefaultTransport that skips
	// certificate verification. It is always wrapped with otelhttp.
	Transport http.RoundTripper

	UserAgent string
	Logger    log.Logger
	Metrics   Observer
}

// Engine holds an immutable check set and the client used to probe it. It is
// safe for concurrent Runs.
type Engine struct {
	set     *checks.Set
	prober  *prober
	limit   int
	logger  log.Logger
	metrics Observer
	tracer  trace.Tracer
}

func New(set *checks.Set, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopObserver{}
	}
	if opts.Transport == nil {
		opts.Transport = loopbackTransport()
	}

	// redirects are followed by the engine so every hop gets the domain check
	rt := otelhttp.NewTransport(opts.Transport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "healthcheck probe " + r.URL.Path
		}),
	)

	return &Engine{
		set: set,
		prober: &prober{
			rt:        rt,
			timeout:   opts.Timeout,
			maxBody:   opts.MaxBodyBytes,
			userAgent: opts.UserAgent,
		},
		limit:   opts.MaxConcurrency,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// loopback probes dial our own listener, whose certificate names the public
// host and not the loopback address.
func loopbackTransport() http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12} // #nosec G402
	t.MaxIdleConnsPerHost = 16
	return t
}

// Checks returns the configured set.
func (e *Engine) Checks() *checks.Set { return e.set }

// Run probes every check concurrently and waits for all of them. Cancelling
// ctx does not abort a run in progress; each hop is bounded by Options.Timeout.
func (e *Engine) Run(ctx context.Context, lb Loopback) Result {
	start := time.Now()
	n := e.set.Len()

	ctx, span := e.tracer.Start(context.WithoutCancel(ctx), "healthcheck.Run",
		trace.WithAttributes(
			attribute.Int("healthcheck.checks", n),
			attribute.String("healthcheck.loopback", lb.scheme()+"://"+lb.addr()),
		),
	)
	defer span.End()

	outcomes := make([]Outcome, n)
	var g errgroup.Group
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i := range n {
		chk := e.set.At(i)
		g.Go(func() error {
			outcomes[i] = e.check(ctx, chk, lb)
			return nil
		})
	}
	_ = g.Wait()

	res := aggregate(outcomes)

	result := RunPassed
	switch {
	case len(res.Failed) > 0:
		result = RunFailed
		span.SetStatus(codes.Error, "health checks failed")
	case n == 0:
		result = RunEmpty
	}
	span.SetAttributes(
		attribute.Int("healthcheck.passed", len(res.Passed)),
		attribute.Int("healthcheck.failed", len(res.Failed)),
	)
	e.metrics.ObserveRun(result, time.Since(start))
	return res
}

func (e *Engine) check(ctx context.Context, chk checks.Check, lb Loopback) Outcome {
	ctx, span := e.tracer.Start(ctx, "healthcheck.Check",
		trace.WithAttributes(attribute.String("healthcheck.url", chk.URL)),
	)
	defer span.End()

	o := classify(chk, e.follow(ctx, chk.URL, lb))

	span.SetAttributes(
		attribute.Int("http.response.status_code", o.StatusCode),
		attribute.Int("healthcheck.redirects", o.Redirects),
	)
	if !o.Passed() {
		span.SetAttributes(attribute.String("healthcheck.reason", string(o.Reason)))
		span.SetStatus(codes.Error, o.String())
		e.logger.Debug(ctx, "health check failed",
			"url", o.URL,
			"reason", string(o.Reason),
			"status_code", o.StatusCode,
			"elapsed", o.Elapsed,
		)
	}
	e.metrics.ObserveCheck(o.URL, string(o.Reason), o.Elapsed, o.Redirects)
	return o
}
