package healthhttp

import (
	"errors"
	"net/url"
	"path"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/checks"
)

// CheckNoSelfReference rejects checks that target the health check route
// itself. Each such probe would start another full run and the fan-out
// never terminates.
func CheckNoSelfReference(set *checks.Set, route string) error {
	if route == "" {
		route = DefaultPath
	}
	var errs []error
	for _, raw := range set.URLs() {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if path.Clean(u.Path) == path.Clean(route) {
			errs = append(errs, &checks.ConfigError{
				URL:    raw,
				Reason: "check targets the health check route " + route,
			})
		}
	}
	return errors.Join(errs...)
}
