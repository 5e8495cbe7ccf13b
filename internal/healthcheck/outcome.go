package healthcheck

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/checks"
)

// Reason is why a check failed. The zero value means it passed.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonTimeout          Reason = "timeout"
	ReasonError            Reason = "error"
	ReasonTooManyRedirects Reason = "tooManyRedirects"
	ReasonStatusCode       Reason = "statusCode"
	ReasonBodyMismatch     Reason = "bodyMismatch"
)

// Outcome is the result of running one check once.
type Outcome struct {
	// URL is the check URL as configured, never the final redirect target.
	URL      string
	Expected []string

	Reason Reason
	Err    error

	// StatusCode of the terminal response, 0 when there was none.
	StatusCode int
	// Body and Missing are only kept for ReasonBodyMismatch.
	Body    string
	Missing []string

	Elapsed   time.Duration
	Redirects int
	Hops      []Hop
}

func (o Outcome) Passed() bool { return o.Reason == ReasonNone }

// String is the one-line form used in text output and failure notifications.
func (o Outcome) String() string {
	switch o.Reason {
	case ReasonNone:
		return o.URL
	case ReasonError:
		if o.Err != nil {
			return o.URL + " => " + o.Err.Error()
		}
	case ReasonStatusCode:
		return o.URL + " => " + strconv.Itoa(o.StatusCode)
	}
	return o.URL + " => " + string(o.Reason)
}

// classify applies the fixed precedence: timeout, transport error, too many
// redirects, status code outside [200,400), missing body text.
func classify(chk checks.Check, c chain) Outcome {
	o := Outcome{
		URL:       chk.URL,
		Expected:  chk.Expected,
		Elapsed:   c.elapsed,
		Redirects: c.redirects,
		Hops:      c.hops,
	}
	if c.resp != nil {
		o.StatusCode = c.resp.StatusCode
	}

	var (
		te *TimeoutError
		tm *TooManyRedirectsError
	)
	switch {
	case errors.As(c.err, &te):
		o.Reason, o.Err = ReasonTimeout, c.err
	case errors.As(c.err, &tm):
		o.Reason, o.Err = ReasonTooManyRedirects, c.err
	case c.err != nil:
		o.Reason, o.Err = ReasonError, c.err
	case o.StatusCode < 200 || o.StatusCode >= 400:
		o.Reason = ReasonStatusCode
	default:
		body := string(c.resp.Body)
		for _, want := range chk.Expected {
			if !strings.Contains(body, want) {
				o.Missing = append(o.Missing, want)
			}
		}
		if len(o.Missing) > 0 {
			o.Reason = ReasonBodyMismatch
			o.Body = body
		}
	}
	return o
}
