package healthcheck

import (
	"net"
	"net/url"
	"strings"
)

// DefaultHost is the intended host for checks that do not name one.
const DefaultHost = "localhost"

// Loopback describes the listener a run should target. It comes from the
// request that triggered the run, not from the public address clients used.
type Loopback struct {
	Protocol  string // http or https, defaults to http
	Host      string // listener address, defaults to localhost
	Port      string
	RequestID string // propagated as X-Request-Id when set
}

func (lb Loopback) scheme() string {
	if strings.EqualFold(lb.Protocol, "https") {
		return "https"
	}
	return "http"
}

func (lb Loopback) addr() string {
	host := lb.Host
	if host == "" {
		host = DefaultHost
	}
	if lb.Port == "" {
		if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, lb.Port)
}

// base is what a check URL without scheme or host is resolved against.
func (lb Loopback) base() *url.URL {
	return &url.URL{Scheme: lb.scheme(), Host: DefaultHost, Path: "/"}
}

// target is one resolved hop: the URL the check author meant, and the
// loopback URL that is actually dialed.
type target struct {
	intended *url.URL
	dial     *url.URL
}

// hostHeader is the Host the probe presents so virtual hosts route
// correctly. Any port in the check URL is dropped.
func (t *target) hostHeader() string { return t.intended.Hostname() }

// forwardedProto is what the server would have seen from a proxy.
func (t *target) forwardedProto() string { return t.intended.Scheme }

// resolve turns raw, relative to base, into a loopback target. Path, query
// and fragment are preserved; scheme and host only feed the Host and
// X-Forwarded-Proto headers.
func resolve(raw string, base *url.URL, lb Loopback) (*target, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, invalidURL(raw, err)
	}
	if ref.Opaque != "" {
		return nil, invalidURL(raw, errNotHTTP)
	}
	intended := base.ResolveReference(ref)
	switch intended.Scheme {
	case "http", "https":
	default:
		return nil, invalidURL(raw, errNotHTTP)
	}
	if intended.Host == "" {
		intended.Host = DefaultHost
	}
	if intended.Path == "" {
		intended.Path = "/"
	}

	dial := &url.URL{
		Scheme:   lb.scheme(),
		Host:     lb.addr(),
		Path:     intended.Path,
		RawPath:  intended.RawPath,
		RawQuery: intended.RawQuery,
		Fragment: intended.Fragment,
	}
	return &target{intended: intended, dial: dial}, nil
}

// sameDomain reports whether b is a, a subdomain of a, or a parent of a.
// IP literals only match themselves.
func sameDomain(a, b string) bool {
	a = strings.ToLower(strings.TrimSuffix(a, "."))
	b = strings.ToLower(strings.TrimSuffix(b, "."))
	if a == "" || b == "" {
		return false
	}
	if ipA, ipB := net.ParseIP(a), net.ParseIP(b); ipA != nil || ipB != nil {
		return ipA != nil && ipB != nil && ipA.Equal(ipB)
	}
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}
