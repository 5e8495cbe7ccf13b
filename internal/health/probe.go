package health

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// Probe returns nil when healthy, or the reason it is not.
type Probe interface{ Check(context.Context) error }

type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	err := xerrors.New(reason)
	return func(context.Context) error { return err }
}

// All passes when every probe passes and returns the first failure. nil
// probes are skipped.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes when one probe passes; otherwise it returns the last failure.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		var last error
		for _, p := range ps {
			if p == nil {
				continue
			}
			err := p.Check(ctx)
			if err == nil {
				return nil
			}
			last = err
		}
		if last == nil {
			return xerrors.New("no healthy probes")
		}
		return last
	}
}

// Flag fails with its reason until Set is called. The zero value is unset.
type Flag struct {
	set    atomic.Bool
	reason string
}

func NewFlag(reason string) *Flag {
	return &Flag{reason: reason}
}

func (f *Flag) Set()        { f.set.Store(true) }
func (f *Flag) IsSet() bool { return f.set.Load() }

func (f *Flag) Probe() CheckFunc {
	return func(context.Context) error {
		if f.set.Load() {
			return nil
		}
		if f.reason == "" {
			return xerrors.New("not ready")
		}
		return xerrors.New(f.reason)
	}
}

// ShutdownGate flips readiness to failing during drain.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(reason)
	g.draining.Store(true)
}

func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.reason.Store("")
}

func (g *ShutdownGate) Draining() bool { return g.draining.Load() }

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}
