package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/checks"
)

func loopbackFor(t *testing.T, srv *httptest.Server) Loopback {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return Loopback{Protocol: "http", Host: u.Hostname(), Port: u.Port()}
}

func mustSet(t *testing.T, cs ...checks.Check) *checks.Set {
	t.Helper()
	set, err := checks.NewSet(cs)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	return set
}

func check(u string, expected ...string) checks.Check {
	return checks.Check{URL: u, Expected: expected}
}

func runOne(t *testing.T, srv *httptest.Server, opts Options, c checks.Check) Outcome {
	t.Helper()
	res := New(mustSet(t, c), opts).Run(t.Context(), loopbackFor(t, srv))
	if res.Total() != 1 {
		t.Fatalf("Total() = %d, want 1", res.Total())
	}
	if len(res.Passed) == 1 {
		return res.Passed[0]
	}
	return res.Failed[0]
}

// engine.go - Run

func TestRun_NoContentPasses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	o := runOne(t, srv, Options{}, check("/empty"))
	if !o.Passed() {
		t.Fatalf("204 should pass, got %s", o)
	}
	if o.StatusCode != http.StatusNoContent {
		t.Fatalf("StatusCode = %d", o.StatusCode)
	}
}

func TestRun_Scenarios(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			w.Write([]byte("anything"))
		case "/b":
			w.Write([]byte("bar"))
		case "/c":
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer is not a hijacker")
				return
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Error(err)
				return
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetLinger(0)
			}
			conn.Close()
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	lb := loopbackFor(t, srv)

	t.Run("a passes", func(t *testing.T) {
		res := New(mustSet(t, check("/a")), Options{}).Run(t.Context(), lb)
		if len(res.Passed) != 1 || res.Passed[0].URL != "/a" || len(res.Failed) != 0 {
			t.Fatalf("result = %+v", res)
		}
		if res.StatusCode() != http.StatusOK {
			t.Fatalf("StatusCode() = %d", res.StatusCode())
		}
	})

	t.Run("empty set", func(t *testing.T) {
		res := New(mustSet(t), Options{}).Run(t.Context(), lb)
		if len(res.Passed) != 0 || len(res.Failed) != 0 {
			t.Fatalf("result = %+v", res)
		}
		if res.StatusCode() != http.StatusNotFound {
			t.Fatalf("StatusCode() = %d", res.StatusCode())
		}
	})

	t.Run("b body mismatch", func(t *testing.T) {
		res := New(mustSet(t, check("/b", "foo")), Options{}).Run(t.Context(), lb)
		if len(res.Failed) != 1 {
			t.Fatalf("result = %+v", res)
		}
		o := res.Failed[0]
		if o.Reason != ReasonBodyMismatch {
			t.Fatalf("Reason = %q", o.Reason)
		}
		if o.StatusCode != http.StatusOK || o.Body != "bar" {
			t.Fatalf("diagnostics = %d %q", o.StatusCode, o.Body)
		}
		if len(o.Missing) != 1 || o.Missing[0] != "foo" {
			t.Fatalf("Missing = %v", o.Missing)
		}
		if res.StatusCode() != http.StatusInternalServerError {
			t.Fatalf("StatusCode() = %d", res.StatusCode())
		}
	})

	t.Run("c reset", func(t *testing.T) {
		res := New(mustSet(t, check("/c")), Options{}).Run(t.Context(), lb)
		if len(res.Failed) != 1 {
			t.Fatalf("result = %+v", res)
		}
		o := res.Failed[0]
		if o.Reason != ReasonError {
			t.Fatalf("Reason = %q (%v)", o.Reason, o.Err)
		}
		var te *TransportError
		if !errors.As(o.Err, &te) {
			t.Fatalf("Err = %T, want *TransportError", o.Err)
		}
		if !strings.HasPrefix(o.String(), "/c => ") {
			t.Fatalf("String() = %q", o.String())
		}
		if res.StatusCode() != http.StatusInternalServerError {
			t.Fatalf("StatusCode() = %d", res.StatusCode())
		}
	})
}

func TestRun_StatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o := runOne(t, srv, Options{}, check("/down", "down"))
	if o.Reason != ReasonStatusCode || o.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("outcome = %s", o)
	}
	if o.String() != "/down => 503" {
		t.Fatalf("String() = %q", o.String())
	}
}

func TestRun_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		http.Error(w, "late", http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := runOne(t, srv, Options{Timeout: 50 * time.Millisecond}, check("/slow"))
	if o.Reason != ReasonTimeout {
		t.Fatalf("Reason = %q, want timeout", o.Reason)
	}
	var te *TimeoutError
	if !errors.As(o.Err, &te) || te.Limit != 50*time.Millisecond {
		t.Fatalf("Err = %v", o.Err)
	}
	if o.Elapsed < 50*time.Millisecond || o.Elapsed > time.Second {
		t.Fatalf("Elapsed = %s", o.Elapsed)
	}
	if o.String() != "/slow => timeout" {
		t.Fatalf("String() = %q", o.String())
	}
}

func TestRun_IgnoresCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	res := New(mustSet(t, check("/a")), Options{}).Run(ctx, loopbackFor(t, srv))
	if len(res.Passed) != 1 {
		t.Fatalf("run should complete after caller cancel, got %+v", res.Failed)
	}
}

// redirect.go - follow

func TestRun_SameDomainRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		switch r.URL.Path {
		case "/start":
			http.Redirect(w, r, "/middle", http.StatusFound)
		case "/middle":
			http.Redirect(w, r, "/end?done=1", http.StatusMovedPermanently)
		case "/end":
			w.Write([]byte("arrived " + r.URL.RawQuery))
		}
	}))
	defer srv.Close()

	o := runOne(t, srv, Options{}, check("/start", "arrived done=1"))
	if !o.Passed() {
		t.Fatalf("outcome = %s", o)
	}
	if o.URL != "/start" {
		t.Fatalf("URL = %q, want the configured URL", o.URL)
	}
	if o.Redirects != 2 || len(o.Hops) != 3 {
		t.Fatalf("Redirects = %d Hops = %+v", o.Redirects, o.Hops)
	}
	var sum time.Duration
	for _, h := range o.Hops {
		sum += h.Elapsed
	}
	if o.Elapsed < sum || o.Elapsed < 15*time.Millisecond {
		t.Fatalf("Elapsed = %s, hop sum = %s", o.Elapsed, sum)
	}
	if o.Hops[0].StatusCode != http.StatusFound || o.Hops[2].StatusCode != http.StatusOK {
		t.Fatalf("Hops = %+v", o.Hops)
	}
}

func redirectChain() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/r/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if n == 0 {
			w.Write([]byte("end of chain"))
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/r/%d", n-1), http.StatusTemporaryRedirect)
	})
}

func TestRun_RedirectLimit(t *testing.T) {
	srv := httptest.NewServer(redirectChain())
	defer srv.Close()

	o := runOne(t, srv, Options{}, check("/r/10", "end of chain"))
	if !o.Passed() || o.Redirects != MaxRedirects {
		t.Fatalf("10 redirects should pass, got %s after %d", o, o.Redirects)
	}

	o = runOne(t, srv, Options{}, check("/r/11"))
	if o.Reason != ReasonTooManyRedirects {
		t.Fatalf("Reason = %q, want tooManyRedirects", o.Reason)
	}
	var tm *TooManyRedirectsError
	if !errors.As(o.Err, &tm) || tm.Hops != MaxRedirects {
		t.Fatalf("Err = %v", o.Err)
	}
	if len(o.Hops) != MaxRedirects+1 {
		t.Fatalf("len(Hops) = %d", len(o.Hops))
	}
}

func TestRun_CrossDomainRedirectNotFollowed(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "https://elsewhere.test/login", http.StatusFound)
	}))
	defer srv.Close()

	o := runOne(t, srv, Options{}, check("/away"))
	if !o.Passed() {
		t.Fatalf("unfollowed 302 with no expected text should pass, got %s", o)
	}
	if o.StatusCode != http.StatusFound || o.Redirects != 0 {
		t.Fatalf("StatusCode = %d Redirects = %d", o.StatusCode, o.Redirects)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hit %d times, want 1", hits.Load())
	}
}

func TestRun_SubdomainRedirectUsesHostHeader(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Host+" "+r.Header.Get("X-Forwarded-Proto")+" "+r.URL.Path)
		mu.Unlock()
		switch r.Host {
		case "example.com":
			http.Redirect(w, r, "https://api.example.com/v1/status", http.StatusSeeOther)
		case "api.example.com":
			w.Write([]byte("api ok"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o := runOne(t, srv, Options{}, check("http://example.com/", "api ok"))
	if !o.Passed() {
		t.Fatalf("outcome = %s", o)
	}
	want := []string{"example.com http /", "api.example.com https /v1/status"}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(seen, "|") != strings.Join(want, "|") {
		t.Fatalf("requests = %q, want %q", seen, want)
	}
}

func TestRun_InvalidLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://[::1")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	o := runOne(t, srv, Options{}, check("/bad"))
	if o.Reason != ReasonError || !errors.Is(o.Err, ErrInvalidURL) {
		t.Fatalf("outcome = %s (%v)", o, o.Err)
	}
}

func TestRun_NonHTTPRedirectIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "ftp://files.example/")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	o := runOne(t, srv, Options{}, check("/download"))
	if !o.Passed() || o.StatusCode != http.StatusFound || o.Redirects != 0 {
		t.Fatalf("outcome = %s (%v) code=%d redirects=%d", o, o.Err, o.StatusCode, o.Redirects)
	}
}

func TestRun_HostHeaderDropsPort(t *testing.T) {
	var host atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host.Store(r.Host)
	}))
	defer srv.Close()

	if o := runOne(t, srv, Options{}, check("http://www.example.com:8443/")); !o.Passed() {
		t.Fatalf("outcome = %s", o)
	}
	if got, _ := host.Load().(string); got != "www.example.com" {
		t.Fatalf("Host = %q, want www.example.com", got)
	}
}

func TestRun_RedirectWithoutLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	o := runOne(t, srv, Options{}, check("/nowhere"))
	if !o.Passed() || o.StatusCode != http.StatusFound {
		t.Fatalf("outcome = %s code=%d", o, o.StatusCode)
	}
}

// probe.go - probe

func TestRun_ProbeHeaders(t *testing.T) {
	var (
		mu   sync.Mutex
		got  http.Header
		host string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		got = r.Header.Clone()
		host = r.Host
	}))
	defer srv.Close()

	lb := loopbackFor(t, srv)
	lb.RequestID = "req-123"
	res := New(mustSet(t, check("https://secure.example.com/p")), Options{UserAgent: "probe/1"}).Run(t.Context(), lb)
	if len(res.Passed) != 1 {
		t.Fatalf("result = %+v", res)
	}
	mu.Lock()
	defer mu.Unlock()
	if host != "secure.example.com" {
		t.Errorf("Host = %q", host)
	}
	if got.Get("X-Forwarded-Proto") != "https" {
		t.Errorf("X-Forwarded-Proto = %q", got.Get("X-Forwarded-Proto"))
	}
	if got.Get("X-Request-Id") != "req-123" {
		t.Errorf("X-Request-Id = %q", got.Get("X-Request-Id"))
	}
	if got.Get("User-Agent") != "probe/1" {
		t.Errorf("User-Agent = %q", got.Get("User-Agent"))
	}
}

func TestRun_NoRequestIDHeaderWhenUnset(t *testing.T) {
	var had atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Header["X-Request-Id"]
		had.Store(ok)
	}))
	defer srv.Close()

	runOne(t, srv, Options{}, check("/"))
	if had.Load() {
		t.Fatal("X-Request-Id should not be sent when the run has none")
	}
}

func TestRun_MaxBodyBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100) + "marker"))
	}))
	defer srv.Close()

	if o := runOne(t, srv, Options{}, check("/big", "marker")); !o.Passed() {
		t.Fatalf("default limit: %s", o)
	}
	if o := runOne(t, srv, Options{MaxBodyBytes: 50}, check("/big", "marker")); o.Reason != ReasonBodyMismatch {
		t.Fatalf("text past the limit should not match, got %s", o)
	}
}

// aggregate.go - ordering and cardinality

func TestRun_SortedAndComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/fail") {
			http.Error(w, "no", http.StatusBadGateway)
			return
		}
		// finish in reverse order of path
		if r.URL.Path == "/a" {
			time.Sleep(30 * time.Millisecond)
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	set := mustSet(t,
		check("/z"), check("/fail/2"), check("/a", "ok"), check("/m"),
		check("/fail/1"), check("/a", "o"), check("/b"),
	)
	res := New(set, Options{}).Run(t.Context(), loopbackFor(t, srv))

	if res.Total() != set.Len() {
		t.Fatalf("Total() = %d, Set.Len() = %d", res.Total(), set.Len())
	}
	var passed, failed []string
	for _, o := range res.Passed {
		passed = append(passed, o.URL)
	}
	for _, o := range res.Failed {
		failed = append(failed, o.URL)
	}
	if strings.Join(passed, ",") != "/a,/b,/m,/z" {
		t.Fatalf("passed = %v", passed)
	}
	if strings.Join(failed, ",") != "/fail/1,/fail/2" {
		t.Fatalf("failed = %v", failed)
	}
}

func TestRun_Concurrent(t *testing.T) {
	const n = 5
	var arrived atomic.Int32
	all := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if arrived.Add(1) == n {
			close(all)
		}
		select {
		case <-all:
		case <-time.After(time.Second):
			http.Error(w, "probes were serialized", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	var cs []checks.Check
	for i := range n {
		cs = append(cs, check(fmt.Sprintf("/p/%d", i)))
	}
	res := New(mustSet(t, cs...), Options{Timeout: 3 * time.Second}).Run(t.Context(), loopbackFor(t, srv))
	if len(res.Passed) != n {
		t.Fatalf("failed = %v", res.Failed)
	}
}

func TestRun_MaxConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}))
	defer srv.Close()

	var cs []checks.Check
	for i := range 6 {
		cs = append(cs, check(fmt.Sprintf("/p/%d", i)))
	}
	res := New(mustSet(t, cs...), Options{MaxConcurrency: 2}).Run(t.Context(), loopbackFor(t, srv))
	if len(res.Passed) != 6 {
		t.Fatalf("failed = %v", res.Failed)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak in-flight = %d, want <= 2", peak.Load())
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	checks []string
	runs   []string
}

func (r *recordingObserver) ObserveCheck(url, reason string, _ time.Duration, redirects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, fmt.Sprintf("%s:%s:%d", url, reason, redirects))
}

func (r *recordingObserver) ObserveRun(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, result)
}

func TestRun_Observer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/go" {
			http.Redirect(w, r, "/here", http.StatusFound)
			return
		}
		w.Write([]byte("hi"))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	eng := New(mustSet(t, check("/go", "hi")), Options{Metrics: obs})
	eng.Run(t.Context(), loopbackFor(t, srv))
	New(mustSet(t), Options{Metrics: obs}).Run(t.Context(), loopbackFor(t, srv))
	New(mustSet(t, check("/x", "nope")), Options{Metrics: obs}).Run(t.Context(), loopbackFor(t, srv))

	if strings.Join(obs.checks, ",") != "/go::1,/x:bodyMismatch:0" {
		t.Fatalf("checks = %v", obs.checks)
	}
	if strings.Join(obs.runs, ",") != "pass,empty,fail" {
		t.Fatalf("runs = %v", obs.runs)
	}
}
