package healthcheck

import (
	"net/http"
	"sort"
)

// Result is every Outcome of one run, split by verdict and sorted by URL.
type Result struct {
	Passed []Outcome
	Failed []Outcome
}

func aggregate(outcomes []Outcome) Result {
	var r Result
	for _, o := range outcomes {
		if o.Passed() {
			r.Passed = append(r.Passed, o)
		} else {
			r.Failed = append(r.Failed, o)
		}
	}
	byURL := func(s []Outcome) func(i, j int) bool {
		return func(i, j int) bool { return s[i].URL < s[j].URL }
	}
	sort.SliceStable(r.Passed, byURL(r.Passed))
	sort.SliceStable(r.Failed, byURL(r.Failed))
	return r
}

func (r Result) Total() int { return len(r.Passed) + len(r.Failed) }

// Healthy is true only when at least one check ran and none failed.
func (r Result) Healthy() bool { return len(r.Failed) == 0 && len(r.Passed) > 0 }

// StatusCode is the HTTP status the serving layer reports: 500 when anything
// failed, 404 when no checks are configured, 200 otherwise.
func (r Result) StatusCode() int {
	switch {
	case len(r.Failed) > 0:
		return http.StatusInternalServerError
	case len(r.Passed) == 0:
		return http.StatusNotFound
	default:
		return http.StatusOK
	}
}

// FailedURLs lists the failing check URLs once each, in output order.
func (r Result) FailedURLs() []string {
	out := make([]string, 0, len(r.Failed))
	for _, o := range r.Failed {
		if n := len(out); n > 0 && out[n-1] == o.URL {
			continue
		}
		out = append(out, o.URL)
	}
	return out
}
