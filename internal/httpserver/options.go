package httpserver

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/healthhttp"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
)

const DefaultPort = 8080

type Options struct {
	Logger    log.Logger
	Port      int
	Health    health.Probe
	Readiness health.Probe

	// HealthChecks serves the aggregate run. RateLimitMW, when set, wraps
	// only that route; plain probe and site traffic is not limited.
	HealthChecks *healthhttp.Handler
	RateLimitMW  func(http.Handler) http.Handler

	MetricsMW func(http.Handler) http.Handler
	OnPanic   func()

	// SiteDir, when set, serves static files for every unmatched route.
	SiteDir      string
	ClientIPOpts httpmw.ClientIPOptions
}
