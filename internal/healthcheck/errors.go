package healthcheck

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidURL is returned when a check URL or redirect Location cannot be
// turned into a loopback request.
var ErrInvalidURL = errors.New("invalid url")

// errNotHTTP marks a URL that parsed but can never be probed.
var errNotHTTP = errors.New("not an http or https url")

// TimeoutError is a probe that did not complete within its timeout.
type TimeoutError struct {
	URL   string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("GET %s: timed out after %s", e.URL, e.Limit)
}

// Timeout reports true so callers can treat it like a net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// TransportError is a DNS, dial, reset or read failure during a probe.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TooManyRedirectsError is a redirect chain that exceeded MaxRedirects.
type TooManyRedirectsError struct {
	URL  string
	Hops int
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("GET %s: stopped after %d redirects", e.URL, e.Hops)
}

func invalidURL(raw string, err error) error {
	if err == nil {
		return fmt.Errorf("%w %q", ErrInvalidURL, raw)
	}
	return fmt.Errorf("%w %q: %w", ErrInvalidURL, raw, err)
}
