// Package httpserver is the public listener: probe routes, the aggregate
// health check route, and an optional static site behind the middleware
// stack.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

const (
	healthyPath = "/-/healthy"
	readyPath   = "/-/ready"
	// nobody should be sending request bodies here
	maxRequestBody = 1 << 10
)

// NewHandler builds the routes and middleware. Start owns the *http.Server.
func NewHandler(opts *Options) http.Handler {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Compress(5,
		"text/html",
		"text/plain",
		"text/css",
		"application/javascript",
		"application/json",
		"image/svg+xml",
	))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog(healthyPath, readyPath))
	r.Use(httpmw.MaxBody(maxRequestBody))

	r.Get(healthyPath, health.HealthzHandler(opts.Health))
	r.Get(readyPath, health.ReadyzHandler(opts.Readiness))

	if opts.HealthChecks != nil {
		opts.HealthChecks.RegisterRoutes(r, opts.RateLimitMW)
	}

	if opts.SiteDir != "" {
		site := siteHandler(opts.SiteDir)
		r.NotFound(site.ServeHTTP)
		r.MethodNotAllowed(site.ServeHTTP)
	}

	return httpmw.Chain(r,
		httpmw.SecurityHeaders,
		httpmw.Recover(L, opts.OnPanic),
		httpmw.RequestID("X-Request-Id"),
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		otelHandler,
		httpmw.TraceResponseHeaders(httpmw.DefaultTraceHeader, httpmw.DefaultSpanHeader),
		opts.MetricsMW,
		httpmw.WithLogger(L),
	)
}

// otelHandler traces everything except the probe routes. Loopback
// requests are our own health check probes, so their inbound traceparent
// is trusted and they join the aggregate request's trace.
func otelHandler(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != healthyPath && r.URL.Path != readyPath
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateHTTPRoute renames it to the route pattern later
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(r *http.Request) bool {
			return !fromLoopback(r)
		}),
	)
}

func fromLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Server timeout defaults. WriteTimeout must outlast a full health check
// run, which can take up to the redirect limit times the probe timeout.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start serves the public handler and returns stop(ctx) for graceful
// shutdown.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen for http port on addr=%v", addr)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
