package healthhttp

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/healthcheck"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
)

// DefaultPath is where the health check route is mounted.
const DefaultPath = "/_healthchecks"

// Runner executes one health check run. *healthcheck.Engine implements it.
type Runner interface {
	Run(ctx context.Context, lb healthcheck.Loopback) healthcheck.Result
}

// FailedFunc is told about failing checks after the response has been written.
type FailedFunc func(ctx context.Context, failed []healthcheck.Outcome)

type Options struct {
	Runner   Runner
	Renderer *Renderer
	Logger   log.Logger
	OnFailed FailedFunc
	Path     string
}

type Handler struct {
	runner   Runner
	renderer *Renderer
	logger   log.Logger
	onFailed FailedFunc
	path     string
}

func NewHandler(opts Options) (*Handler, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("healthhttp: runner is required")
	}
	if opts.Renderer == nil {
		r, err := NewRenderer()
		if err != nil {
			return nil, err
		}
		opts.Renderer = r
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	return &Handler{
		runner:   opts.Runner,
		renderer: opts.Renderer,
		logger:   opts.Logger,
		onFailed: opts.OnFailed,
		path:     opts.Path,
	}, nil
}

// Path is the route the handler registers.
func (h *Handler) Path() string { return h.path }

// RegisterRoutes mounts the handler on r. mws wrap only this route; nil
// entries are skipped.
func (h *Handler) RegisterRoutes(r chi.Router, mws ...func(http.Handler) http.Handler) {
	use := make([]func(http.Handler) http.Handler, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			use = append(use, mw)
		}
	}
	rt := r.With(use...)
	rt.Get(h.path, h.ServeHTTP)
	rt.Head(h.path, h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := h.logger
	if l := log.FromContext(ctx); l != log.Nop() {
		L = l
	}

	res := h.runner.Run(ctx, LoopbackFromRequest(r))
	L.Info(ctx, fmt.Sprintf("%d passed and %d failed", len(res.Passed), len(res.Failed)),
		"passed", len(res.Passed),
		"failed", len(res.Failed),
	)

	if err := h.renderer.Render(w, r, res); err != nil {
		L.Error(ctx, err, "render health check result")
	}

	if len(res.Failed) == 0 || h.onFailed == nil {
		return
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	h.onFailed(ctx, res.Failed)
}

// LoopbackFromRequest targets the listener that accepted r: its local
// address, https when the connection is TLS, and the request id assigned by
// httpmw.RequestID (or the inbound header).
func LoopbackFromRequest(r *http.Request) healthcheck.Loopback {
	ctx := r.Context()
	lb := healthcheck.Loopback{
		Protocol:  "http",
		RequestID: httpmw.RequestIDFromContext(ctx),
	}
	if lb.RequestID == "" {
		lb.RequestID = r.Header.Get("X-Request-Id")
	}
	if r.TLS != nil {
		lb.Protocol = "https"
	}

	if addr, ok := ctx.Value(http.LocalAddrContextKey).(net.Addr); ok && addr != nil {
		if host, port, err := net.SplitHostPort(addr.String()); err == nil {
			lb.Host, lb.Port = loopbackHost(host), port
		}
	}
	if lb.Port == "" {
		if _, port, err := net.SplitHostPort(r.Host); err == nil {
			lb.Port = port
		}
	}
	return lb
}

func loopbackHost(host string) string {
	ip := net.ParseIP(host)
	switch {
	case ip == nil:
		return host
	case ip.IsUnspecified() && ip.To4() != nil:
		return "127.0.0.1"
	case ip.IsUnspecified():
		return "::1"
	default:
		return host
	}
}
