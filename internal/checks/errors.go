package checks

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError is a malformed checks file or entry. It is fatal at startup.
type ConfigError struct {
	Source string
	Line   int
	URL    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("checks")
	if e.Source != "" {
		b.WriteString(" ")
		b.WriteString(e.Source)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d", e.Line)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, ": %q", e.URL)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err (or any joined error) is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// withSource stamps the source name on every ConfigError inside err
func withSource(err error, source string) error {
	type multi interface{ Unwrap() []error }
	if m, ok := err.(multi); ok {
		for _, e := range m.Unwrap() {
			withSource(e, source)
		}
		return err
	}
	var ce *ConfigError
	if errors.As(err, &ce) && ce.Source == "" {
		ce.Source = source
	}
	return err
}
