// Package xerrors attaches call-site information to errors so the logger can
// report where a failure originated without every caller formatting it.
//
// New and Newf capture a stack. Wrap and Wrapf record only the caller PC,
// which keeps wrapping cheap on paths that run once per probe.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries the full call stack captured when the error was created.
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

// wrapped prefixes an error with context and remembers one frame.
type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
func (w *wrapped) PC() uintptr   { return w.pc }

// skip counts frames above the exported function that called us
func stack(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(3+skip, pcs)
	return pcs[:n]
}

func caller(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(3+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// New returns an error with the given message and the caller's stack.
func New(msg string) error {
	return &stacked{err: errors.New(msg), pcs: stack(0)}
}

// Newf is New with fmt formatting. %w verbs are honored.
func Newf(format string, args ...any) error {
	return &stacked{err: fmt.Errorf(format, args...), pcs: stack(0)}
}

// Wrap returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: caller(0)}
}

// Wrapf returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: caller(0)}
}

// EnsureTrace attaches a stack unless one is already present in the chain.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return &stacked{err: err, pcs: stack(0)}
}
