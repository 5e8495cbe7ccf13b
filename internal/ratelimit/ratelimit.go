package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpmw"
)

const (
	DefaultPerSecond   = 1
	DefaultBurst       = 5
	DefaultTTL         = 5 * time.Minute
	DefaultMaxVisitors = 10000
	DefaultRetryAfter  = 30 * time.Second
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged is reset when the visitor is evicted and re-created
	logged bool
}

// IPLimiter holds a token bucket per client ip and evicts idle ones in the
// background.
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	full     bool

	perSecond   rate.Limit
	burst       int
	ttl         time.Duration
	maxVisitors int
	retryAfter  time.Duration

	onFirstDenied func(ip string)
	onDenied      func(ip string)
	onCapacity    func(n int)
}

type Option func(*IPLimiter)

// WithRate sets the refill rate and bucket size. WithRate(1, 5) allows five
// requests at once, then one per second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL controls how long an idle ip stays tracked.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) { l.ttl = d }
}

// WithMaxVisitors bounds the number of tracked ips. New ips beyond the bound
// are denied until eviction frees room; 0 disables the bound.
func WithMaxVisitors(n int) Option {
	return func(l *IPLimiter) { l.maxVisitors = n }
}

func WithRetryAfter(d time.Duration) Option {
	return func(l *IPLimiter) { l.retryAfter = d }
}

// WithOnFirstDenied is called once per visitor lifetime, for logging.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.onFirstDenied = fn }
}

// WithOnDenied is called on every denial, for counting.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.onDenied = fn }
}

// WithOnCapacity is called when the visitor table first fills up. It fires
// again only after eviction has brought the table below the bound.
func WithOnCapacity(fn func(n int)) Option {
	return func(l *IPLimiter) { l.onCapacity = fn }
}

// New starts the eviction goroutine, which stops when ctx is done.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		visitors:    make(map[string]*visitor),
		perSecond:   DefaultPerSecond,
		burst:       DefaultBurst,
		ttl:         DefaultTTL,
		maxVisitors: DefaultMaxVisitors,
		retryAfter:  DefaultRetryAfter,
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup(ctx)
	return l
}

// Len is the number of tracked visitors.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// allow reports whether ip may proceed. Hooks run after the lock is
// released.
func (l *IPLimiter) allow(ip string) bool {
	var (
		allowed    bool
		first      bool
		capacityAt int
	)

	l.mu.Lock()
	v, ok := l.visitors[ip]
	switch {
	case ok:
	case l.maxVisitors > 0 && len(l.visitors) >= l.maxVisitors:
		if !l.full {
			l.full = true
			capacityAt = len(l.visitors)
		}
	default:
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}
	if v != nil {
		v.lastSeen = time.Now()
		allowed = v.limiter.Allow()
		if !allowed && !v.logged {
			v.logged = true
			first = true
		}
	}
	l.mu.Unlock()

	if capacityAt > 0 && l.onCapacity != nil {
		l.onCapacity(capacityAt)
	}
	if allowed {
		return true
	}
	if first && l.onFirstDenied != nil {
		l.onFirstDenied(ip)
	}
	if l.onDenied != nil {
		l.onDenied(ip)
	}
	return false
}

// cleanup evicts visitors idle longer than the ttl, checking every ttl/2.
func (l *IPLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for ip, v := range l.visitors {
				if now.Sub(v.lastSeen) > l.ttl {
					delete(l.visitors, ip)
				}
			}
			if l.maxVisitors <= 0 || len(l.visitors) < l.maxVisitors {
				l.full = false
			}
			l.mu.Unlock()
		}
	}
}

// Middleware answers 429 with a JSON body once the caller's bucket is
// empty. The client ip comes from httpmw.ClientIP.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(l.retryAfter.Round(time.Second) / time.Second))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(httpmw.ClientIPFromContext(r.Context())) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", retryAfter)
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
