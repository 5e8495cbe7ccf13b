package healthcheck

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// response is what a single probe captured.
type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type prober struct {
	// rt is used directly so a Location header is never parsed or followed
	// by net/http; the engine resolves every hop itself.
	rt        http.RoundTripper
	timeout   time.Duration
	maxBody   int64
	userAgent string
}

// probe issues one GET against t.dial without following redirects. The hop
// gets its own deadline; when it fires the request is cancelled and the
// result is a *TimeoutError even if the server answers later.
func (p *prober) probe(ctx context.Context, t *target, requestID string) (*response, time.Duration, error) {
	start := time.Now()
	hopCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	requestURL := t.intended.String()
	req, err := http.NewRequestWithContext(hopCtx, http.MethodGet, t.dial.String(), nil)
	if err != nil {
		return nil, 0, invalidURL(requestURL, err)
	}
	req.Host = t.hostHeader()
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("X-Forwarded-Proto", t.forwardedProto())
	if requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}

	resp, err := p.rt.RoundTrip(req)
	if err != nil {
		return nil, time.Since(start), p.failure(hopCtx, requestURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody))
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, p.failure(hopCtx, requestURL, err)
	}
	// drain a little so the connection can be reused
	_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)

	return &response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, elapsed, nil
}

func (p *prober) failure(hopCtx context.Context, u string, err error) error {
	if errors.Is(hopCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{URL: u, Limit: p.timeout}
	}
	return &TransportError{URL: u, Err: err}
}
