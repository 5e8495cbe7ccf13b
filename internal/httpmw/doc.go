// Package httpmw holds the middleware used by the public listener.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request id, client ip, rate limiting, OpenTelemetry,
// trace response headers, metrics, request-scoped logging, then the chi
// router with route annotation and the access log.
//
// Loopback health check probes arrive from 127.0.0.1 or ::1 with Host and
// X-Forwarded-Proto set to what the check intended. ClientIP keeps those
// headers for loopback peers so handlers see the same request a proxy
// would have forwarded.
package httpmw
