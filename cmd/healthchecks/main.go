package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/healthcheck"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/healthhttp"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/prof"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/ratelimit"
	v "github.com/keithlinneman/linnemanlabs-healthchecks/internal/version"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

const component = "healthchecks"

func main() {
	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging. Validate already rejected bad level names.
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSON:            conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"checks", conf.Checks,
		"checks_signing_key_arn", conf.ChecksSigningKeyARN,
		"check_timeout", conf.CheckTimeout.Duration(),
		"max_concurrency", conf.MaxConcurrency,
		"healthchecks_path", conf.HealthChecksPath,
		"site_dir", conf.SiteDir,
		"ratelimit_rps", conf.RateLimitRPS,
		"trusted_proxy_hops", conf.TrustedProxyHops,
	)

	if err := run(ctx, L, conf, vi); err != nil {
		L.Error(context.Background(), err, "healthchecks exited")
		_ = lg.Sync()
		os.Exit(1)
	}
	L.Info(context.Background(), "shutdown complete")
}

// stopper is one component to shut down, in registration order.
type stopper struct {
	name string
	stop func(context.Context) error
}

// run starts every component, blocks until ctx is cancelled, then drains
// and stops them. Startup errors are returned before anything listens.
func run(ctx context.Context, L log.Logger, conf cfg.App, vi v.Info) error {
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": component,
			"version":   vi.Version,
			"commit":    vi.ShortCommit(),
			"build_id":  vi.BuildId,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		// profiling is optional, keep serving
		L.Warn(ctx, "pyroscope failed to start", "error", err)
	}
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: component,
		Version:   vi.Version,
		UserAgent: vi.UserAgent(),
	})
	if err != nil {
		return xerrors.Wrap(err, "initialize tracing")
	}

	// a bad source fails the process so a broken deploy never reports
	// healthy
	loaded := health.NewFlag("checks not loaded")
	lc, err := loadChecks(ctx, L, conf)
	if err != nil {
		return xerrors.Wrapf(err, "load health checks from %s", conf.Checks)
	}
	loaded.Set()
	m.SetChecksLoaded(lc.source.String(), lc.verified, lc.set.Len())
	L.Info(ctx, "health checks loaded",
		"source", lc.source.String(),
		"verified", lc.verified,
		"count", lc.set.Len(),
	)

	hc, err := healthhttp.NewHandler(healthhttp.Options{
		Runner: healthcheck.New(lc.set, healthcheck.Options{
			Timeout:        conf.CheckTimeout.Duration(),
			MaxConcurrency: conf.MaxConcurrency,
			MaxBodyBytes:   conf.MaxBodyBytes,
			UserAgent:      vi.UserAgent(),
			Logger:         L.With("component", "healthcheck"),
			Metrics:        m,
		}),
		Logger:   L,
		Path:     conf.HealthChecksPath,
		OnFailed: logFailed,
	})
	if err != nil {
		return err
	}

	var gate health.ShutdownGate
	readiness := health.All(gate.Probe(), loaded.Probe())

	siteStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		HealthChecks: hc,
		RateLimitMW:  newRateLimit(ctx, L, conf, m),
		MetricsMW:    m.Middleware,
		OnPanic:      m.IncHttpPanic,
		SiteDir:      conf.SiteDir,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
	})
	if err != nil {
		return err
	}

	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		_ = siteStop(context.Background())
		return err
	}

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "error", err)
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	drain(L, &gate, conf.DrainDelay)
	shutdown(L, 10*time.Second,
		stopper{"app http server", siteStop},
		stopper{"ops http server", opsStop},
		stopper{"otel", shutdownOTEL},
	)
	return nil
}

// newRateLimit limits the health checks route per client IP. It returns nil
// when the rate is 0.
func newRateLimit(ctx context.Context, L log.Logger, conf cfg.App, m *metrics.ServerMetrics) func(http.Handler) http.Handler {
	if conf.RateLimitRPS <= 0 {
		return nil
	}
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit exceeded", "client.address", ip)
		}),
		ratelimit.WithOnCapacity(func(n int) {
			L.Warn(ctx, "rate limiter at capacity, denying new clients", "visitors", n)
		}),
	)
	return limiter.Middleware
}

// drain fails readiness and waits delay so load balancers stop routing here
// before listeners close. A second signal ends the wait early.
func drain(L log.Logger, gate *health.ShutdownGate, delay time.Duration) {
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "drain_delay", delay)
	if delay <= 0 {
		return
	}

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

// shutdown stops each component in order under one shared deadline. Errors
// are logged and do not stop later components.
func shutdown(L log.Logger, timeout time.Duration, stoppers ...stopper) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, s := range stoppers {
		if err := s.stop(ctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
	}
}

// logFailed runs after the response has been written, with the request
// context.
func logFailed(ctx context.Context, failed []healthcheck.Outcome) {
	L := log.FromContext(ctx)
	out := make([]string, 0, len(failed))
	for _, o := range failed {
		out = append(out, o.String())
	}
	L.Warn(ctx, "health checks failed", "failed", out, "count", len(failed))
}

func notifySystemd() error {
	// NOTIFY_SOCKET is only set under a Type=notify unit
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
