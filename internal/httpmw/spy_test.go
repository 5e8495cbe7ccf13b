package httpmw

import (
	"context"
	"sync"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
)

type spyEntry struct {
	level string
	msg   string
	err   error
	kv    []any
}

// spyLogger records calls; With returns a child that shares the record and
// remembers its fields.
type spyLogger struct {
	mu      *sync.Mutex
	entries *[]spyEntry
	fields  []any
}

func newSpyLogger() *spyLogger {
	return &spyLogger{mu: &sync.Mutex{}, entries: &[]spyEntry{}}
}

func (s *spyLogger) record(level string, err error, msg string, kv []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(append([]any{}, s.fields...), kv...)
	*s.entries = append(*s.entries, spyEntry{level: level, msg: msg, err: err, kv: all})
}

func (s *spyLogger) With(kv ...any) log.Logger {
	return &spyLogger{mu: s.mu, entries: s.entries, fields: append(append([]any{}, s.fields...), kv...)}
}
func (s *spyLogger) Debug(_ context.Context, msg string, kv ...any) { s.record("debug", nil, msg, kv) }
func (s *spyLogger) Info(_ context.Context, msg string, kv ...any)  { s.record("info", nil, msg, kv) }
func (s *spyLogger) Warn(_ context.Context, msg string, kv ...any)  { s.record("warn", nil, msg, kv) }
func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.record("error", err, msg, kv)
}
func (s *spyLogger) Sync() error { return nil }

func (s *spyLogger) all() []spyEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spyEntry(nil), *s.entries...)
}

// field returns the value logged for key, searching pairs in order.
func (e spyEntry) field(key string) (any, bool) {
	for i := 0; i+1 < len(e.kv); i += 2 {
		if k, ok := e.kv[i].(string); ok && k == key {
			return e.kv[i+1], true
		}
	}
	return nil, false
}
