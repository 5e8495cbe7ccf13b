// Package ratelimit is per-client-ip rate limiting for the health check
// route. One aggregate request fans out into a probe per configured check,
// so the route is far more expensive than the requests it answers and gets
// a token bucket per caller.
//
// The state is in memory and local to one process. Distributed abuse is
// left to whatever sits upstream.
package ratelimit
