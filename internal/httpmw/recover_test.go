package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecover_NoPanic(t *testing.T) {
	spy := newSpyLogger()
	called := false
	h := Recover(spy, func() { called = true })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if called || len(spy.all()) != 0 {
		t.Fatal("no panic should mean no log and no callback")
	}
}

func TestRecover_PanicBeforeWrite(t *testing.T) {
	spy := newSpyLogger()
	panics := 0
	h := Recover(spy, func() { panics++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/_healthchecks", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-1"))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if panics != 1 {
		t.Fatalf("onPanic called %d times, want 1", panics)
	}
	entries := spy.all()
	if len(entries) != 1 || entries[0].level != "error" {
		t.Fatalf("entries = %+v", entries)
	}
	e := entries[0]
	if !strings.Contains(e.err.Error(), "boom") {
		t.Fatalf("err = %v", e.err)
	}
	if v, _ := e.field("request_id"); v != "req-1" {
		t.Fatalf("request_id = %v", v)
	}
	if v, _ := e.field("panic.stack"); !strings.Contains(v.(string), "goroutine") {
		t.Fatal("stack missing")
	}
}

func TestRecover_PanicAfterWrite(t *testing.T) {
	h := Recover(newSpyLogger(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("partial"))
		panic("late")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want the handler's 202", rec.Code)
	}
	if rec.Body.String() != "partial" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestRecover_ErrAbortHandler(t *testing.T) {
	spy := newSpyLogger()
	h := Recover(spy, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if v := recover(); v != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", v)
		}
		if len(spy.all()) != 0 {
			t.Fatal("abort should not be logged")
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
