package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

type recoverWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *recoverWriter) WriteHeader(code int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *recoverWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *recoverWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.wrote = true
		f.Flush()
	}
}

func (w *recoverWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Recover logs a handler panic with its stack, calls onPanic, and answers 500
// when nothing was written yet. http.ErrAbortHandler is re-raised so the
// server aborts the connection as the handler asked.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &recoverWriter{ResponseWriter: w}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				err, ok := v.(error)
				if !ok {
					err = fmt.Errorf("%v", v)
				}
				ctx := r.Context()
				logger.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"request_id", RequestIDFromContext(ctx),
				).Error(ctx, xerrors.Wrap(err, "panic"), "httpserver panic recovered",
					"panic.stack", string(debug.Stack()),
				)
				if onPanic != nil {
					onPanic()
				}
				if !rw.wrote {
					http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}
