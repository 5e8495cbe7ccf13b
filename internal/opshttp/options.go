package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
)

const DefaultPort = 9000

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic is called after a recovered panic, usually to count it.
	OnPanic func()
}
