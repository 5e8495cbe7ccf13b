// Package healthcheck runs a checks.Set against the server it is embedded in.
//
// Every check is resolved onto the loopback address of the listener that
// received the triggering request, probed with a per-hop timeout, and its
// redirects are followed while they stay inside the same domain family
// (same host, a subdomain, or a parent domain) up to MaxRedirects hops.
// Each check produces exactly one Outcome. Failures are data: Run never
// returns an error.
//
// Typical wiring:
//
//	eng := healthcheck.New(set, healthcheck.Options{Timeout: 3 * time.Second, Logger: logger})
//	res := eng.Run(ctx, healthcheck.Loopback{Protocol: "http", Host: "127.0.0.1", Port: "8080"})
//	w.WriteHeader(res.StatusCode())
package healthcheck
