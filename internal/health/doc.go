// Package health has the liveness and readiness probes served on
// /-/healthy and /-/ready by both listeners.
//
// A [Probe] is evaluated per request. [All] and [Any] compose them, [Fixed]
// is constant, and [CheckFunc] adapts a function. [Flag] reports not ready
// until startup marks it set, and [ShutdownGate] fails readiness while the
// process drains so load balancers stop routing to it first.
//
// These probes describe this process only. The aggregate health checks of
// other services live in healthcheck and healthhttp.
package health
