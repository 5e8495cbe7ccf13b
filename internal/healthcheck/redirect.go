package healthcheck

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// MaxRedirects is how many redirects one check may follow.
const MaxRedirects = 10

// Hop is one probe in a check's redirect chain.
type Hop struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// chain is everything the follower learned about one check.
type chain struct {
	resp      *response
	err       error
	elapsed   time.Duration
	redirects int
	hops      []Hop
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		return true
	}
	return false
}

// follow probes raw and chases redirects that stay inside the same domain
// family. A redirect to anywhere else is returned as the terminal response.
func (e *Engine) follow(ctx context.Context, raw string, lb Loopback) chain {
	var c chain
	t, err := resolve(raw, lb.base(), lb)
	if err != nil {
		c.err = err
		return c
	}

	for hop := 0; ; hop++ {
		resp, elapsed, err := e.prober.probe(ctx, t, lb.RequestID)
		c.elapsed += elapsed
		h := Hop{URL: t.intended.String(), Elapsed: elapsed}
		if resp != nil {
			h.StatusCode = resp.StatusCode
		}
		c.hops = append(c.hops, h)
		if err != nil {
			c.err = err
			return c
		}
		c.resp = resp

		if !isRedirect(resp.StatusCode) {
			return c
		}
		if hop >= MaxRedirects {
			c.err = &TooManyRedirectsError{URL: raw, Hops: hop}
			return c
		}
		loc := resp.Header.Get("Location")
		if loc == "" {
			return c
		}
		next, err := resolve(loc, t.intended, lb)
		if errors.Is(err, errNotHTTP) {
			e.logger.Debug(ctx, "not following non-http redirect", "url", raw, "location", loc)
			return c
		}
		if err != nil {
			c.err = err
			return c
		}
		if !sameDomain(t.intended.Hostname(), next.intended.Hostname()) {
			e.logger.Debug(ctx, "not following cross-domain redirect",
				"url", raw,
				"from", t.intended.String(),
				"location", next.intended.String(),
			)
			return c
		}
		t = next
		c.redirects++
	}
}
