// Package cfg holds the process configuration: flags registered on a
// FlagSet, filled from HEALTHCHECKS_* environment variables, then
// validated as a whole.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/checks"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
)

const (
	EnvPrefix = "HEALTHCHECKS_"

	DefaultCheckTimeout     = 3 * time.Second
	DefaultHealthChecksPath = "/_healthchecks"
	DefaultChecksSource     = "healthchecks.conf"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string
	HTTPPort        int
	AdminPort       int
	EnablePprof     bool
	EnableTracing   bool
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	// Checks is a file path, file://path, s3://bucket/key or ssm:/name.
	Checks              string
	ChecksSigningKeyARN string
	CheckTimeout        Timeout
	MaxConcurrency      int
	MaxBodyBytes        int64
	HealthChecksPath    string
	SiteDir             string

	RateLimitRPS     float64
	RateLimitBurst   int
	TrustedProxyHops int
	DrainDelay       time.Duration
}

// Timeout is a flag.Value accepting a Go duration ("3s", "250ms") or a bare
// number of milliseconds ("3000").
type Timeout time.Duration

func (t *Timeout) String() string { return time.Duration(*t).String() }

func (t *Timeout) Set(s string) error {
	d, err := ParseTimeout(s)
	if err != nil {
		return err
	}
	*t = Timeout(d)
	return nil
}

func (t Timeout) Duration() time.Duration { return time.Duration(t) }

// ParseTimeout parses a positive timeout. An empty string yields the
// default.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultCheckTimeout, nil
	}
	var d time.Duration
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(ms) * time.Millisecond
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid timeout %q: want a duration like 3s or milliseconds", s)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid timeout %q: must be positive", s)
	}
	return d, nil
}

// Register binds all config fields to fs with defaults inline.
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "plaintext gRPC to the OTLP endpoint (local collector)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")

	fs.StringVar(&c.Checks, "checks", DefaultChecksSource, "checks source: path, file://path, s3://bucket/key or ssm:/parameter/name")
	fs.StringVar(&c.ChecksSigningKeyARN, "checks-signing-key-arn", "", "KMS key ARN verifying the detached signature of s3 checks files")
	c.CheckTimeout = Timeout(DefaultCheckTimeout)
	fs.Var(&c.CheckTimeout, "check-timeout", "per-hop probe timeout (duration, or bare milliseconds)")
	fs.IntVar(&c.MaxConcurrency, "max-concurrency", 0, "max probes in flight per request (0 = unbounded)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 1<<20, "max response body bytes read per probe")
	fs.StringVar(&c.HealthChecksPath, "healthchecks-path", DefaultHealthChecksPath, "path serving the aggregate health checks")
	fs.StringVar(&c.SiteDir, "site-dir", "", "optional directory of static files served on the public port")

	fs.Float64Var(&c.RateLimitRPS, "ratelimit-rps", 1, "per-ip refill rate on the health checks route (0 disables)")
	fs.IntVar(&c.RateLimitBurst, "ratelimit-burst", 5, "per-ip burst on the health checks route")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "reverse proxies in front of the public port (for X-Forwarded-For)")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 5*time.Second, "time between failing readiness and stopping listeners")
}

// FillFromEnv sets any flag not passed on the CLI from the environment.
// Flag "foo-bar" maps to PREFIX_FOO_BAR. Precedence: cli > env > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

// Validate returns every invalid field joined, or nil.
func Validate(c App) error {
	var errs []error

	if !validPort(c.HTTPPort) {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if !validPort(c.AdminPort) {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, errors.New("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, errors.New("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, errors.New("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	if src, err := checks.ParseSource(c.Checks); err != nil {
		errs = append(errs, fmt.Errorf("invalid CHECKS: %w", err))
	} else if c.ChecksSigningKeyARN != "" && src.Kind != checks.SourceS3 {
		errs = append(errs, fmt.Errorf("CHECKS_SIGNING_KEY_ARN only applies to s3 sources (got %s)", src))
	}
	if c.ChecksSigningKeyARN != "" && !strings.HasPrefix(c.ChecksSigningKeyARN, "arn:") {
		errs = append(errs, fmt.Errorf("CHECKS_SIGNING_KEY_ARN must be an ARN (got %q)", c.ChecksSigningKeyARN))
	}

	if c.CheckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid CHECK_TIMEOUT %s (must be positive)", c.CheckTimeout.Duration()))
	}
	if c.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_CONCURRENCY %d (must be >= 0)", c.MaxConcurrency))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES %d (must be positive)", c.MaxBodyBytes))
	}
	if !strings.HasPrefix(c.HealthChecksPath, "/") {
		errs = append(errs, fmt.Errorf("HEALTHCHECKS_PATH must start with / (got %q)", c.HealthChecksPath))
	} else if c.HealthChecksPath == "/-/healthy" || c.HealthChecksPath == "/-/ready" {
		errs = append(errs, fmt.Errorf("HEALTHCHECKS_PATH %q collides with a probe route", c.HealthChecksPath))
	}
	if c.SiteDir != "" {
		if fi, err := os.Stat(c.SiteDir); err != nil || !fi.IsDir() {
			errs = append(errs, fmt.Errorf("SITE_DIR %q is not a directory", c.SiteDir))
		}
	}

	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_RPS %.3f (must be >= 0)", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_BURST %d (must be >= 1)", c.RateLimitBurst))
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 8 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_PROXY_HOPS %d (must be 0..8)", c.TrustedProxyHops))
	}
	if c.DrainDelay < 0 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_DELAY %s (must be >= 0)", c.DrainDelay))
	}

	return errors.Join(errs...)
}
