package checks

import (
	"bufio"
	"errors"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// Check is one configured endpoint and the text its body must contain.
type Check struct {
	URL      string
	Expected []string
}

// Set is an immutable, ordered collection of checks with unique URLs.
type Set struct {
	checks []Check
}

var (
	settingLine = regexp.MustCompile(`^\w+=`)
	checkLine   = regexp.MustCompile(`^(\S+)\s*(.*)$`)
)

// NewSet validates and merges checks in order of first appearance.
func NewSet(in []Check) (*Set, error) {
	var errs []error
	byURL := make(map[string]int, len(in))
	out := make([]Check, 0, len(in))

	for i, c := range in {
		if err := ValidateURL(c.URL); err != nil {
			errs = append(errs, &ConfigError{Line: i + 1, URL: c.URL, Reason: err.Error()})
			continue
		}
		idx, seen := byURL[c.URL]
		if !seen {
			idx = len(out)
			byURL[c.URL] = idx
			out = append(out, Check{URL: c.URL})
		}
		for _, e := range c.Expected {
			if e != "" {
				out[idx].Expected = append(out[idx].Expected, e)
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Set{checks: out}, nil
}

// Parse reads the checks file format from r.
func Parse(r io.Reader) (*Set, error) {
	var (
		errs   []error
		parsed []Check
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		// bufio drops \n; \r-only and \r\n separators still need splitting
		for _, line := range strings.Split(sc.Text(), "\r") {
			line = strings.TrimSpace(line)
			if line == "" || line[0] == '#' || settingLine.MatchString(line) {
				continue
			}
			m := checkLine.FindStringSubmatch(line)
			c := Check{URL: m[1]}
			if m[2] != "" {
				c.Expected = []string{m[2]}
			}
			if err := ValidateURL(c.URL); err != nil {
				errs = append(errs, &ConfigError{Line: n, URL: c.URL, Reason: err.Error()})
				continue
			}
			parsed = append(parsed, c)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, xerrors.Wrap(err, "read checks")
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return NewSet(parsed)
}

// ParseFile opens path and parses it. A missing file is a configuration error.
func ParseFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Reason: err.Error(), Err: err}
	}
	defer f.Close()
	set, err := Parse(f)
	if err != nil {
		return nil, withSource(err, path)
	}
	return set, nil
}

// ValidateURL accepts absolute-path URLs with no scheme or an http(s) scheme.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("check URL does not parse")
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("check URL may only use HTTP/S protocol")
	}
	// http://host is treated as http://host/
	if u.Path == "" && u.Host != "" && u.Opaque == "" {
		return nil
	}
	if !strings.HasPrefix(u.Path, "/") || u.Opaque != "" {
		return errors.New("check URL must have absolute pathname")
	}
	return nil
}

// Len is the number of distinct check URLs.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.checks)
}

// Checks returns a copy of the checks in configuration order.
func (s *Set) Checks() []Check {
	if s == nil {
		return nil
	}
	out := make([]Check, len(s.checks))
	for i, c := range s.checks {
		out[i] = Check{URL: c.URL, Expected: append([]string(nil), c.Expected...)}
	}
	return out
}

// At returns the i-th check. The Expected slice must not be modified.
func (s *Set) At(i int) Check { return s.checks[i] }

// URLs lists check URLs in configuration order.
func (s *Set) URLs() []string {
	out := make([]string, 0, s.Len())
	for i := 0; i < s.Len(); i++ {
		out = append(out, s.checks[i].URL)
	}
	return out
}
