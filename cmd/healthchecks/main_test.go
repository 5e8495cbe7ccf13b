package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/checks"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/metrics"
)

func writeChecks(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "healthchecks.conf")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

// checks.go - loadChecks

func TestLoadChecks_File(t *testing.T) {
	p := writeChecks(t, "/ Welcome\n/about.html\n")

	lc, err := loadChecks(context.Background(), log.Nop(), cfg.App{
		Checks:           p,
		HealthChecksPath: cfg.DefaultHealthChecksPath,
	})
	if err != nil {
		t.Fatalf("loadChecks: %v", err)
	}
	if lc.set.Len() != 2 {
		t.Fatalf("Len = %d, want 2", lc.set.Len())
	}
	if lc.verified {
		t.Fatal("file source reported as verified")
	}
	if lc.source.Kind != checks.SourceFile {
		t.Fatalf("Kind = %q, want file", lc.source.Kind)
	}
}

func TestLoadChecks_FileURL(t *testing.T) {
	p := writeChecks(t, "/\n")

	lc, err := loadChecks(context.Background(), log.Nop(), cfg.App{Checks: "file://" + p})
	if err != nil {
		t.Fatalf("loadChecks: %v", err)
	}
	if lc.source.String() != p {
		t.Fatalf("source = %q, want %q", lc.source.String(), p)
	}
}

func TestLoadChecks_Missing(t *testing.T) {
	_, err := loadChecks(context.Background(), log.Nop(), cfg.App{
		Checks: filepath.Join(t.TempDir(), "nope.conf"),
	})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !checks.IsConfigError(err) {
		t.Fatalf("expected config error, got %T: %v", err, err)
	}
}

func TestLoadChecks_InvalidSource(t *testing.T) {
	if _, err := loadChecks(context.Background(), log.Nop(), cfg.App{Checks: ""}); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestLoadChecks_SelfReference(t *testing.T) {
	p := writeChecks(t, "/\n/status/\n")

	_, err := loadChecks(context.Background(), log.Nop(), cfg.App{
		Checks:           p,
		HealthChecksPath: "/status",
	})
	if err == nil {
		t.Fatal("expected self-reference error")
	}
	if !checks.IsConfigError(err) {
		t.Fatalf("expected config error, got %T: %v", err, err)
	}
}

// main.go - notifySystemd

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if err := notifySystemd(); err == nil {
		t.Fatal("expected error without NOTIFY_SOCKET")
	}
}

func TestNotifySystemd_SendsReady(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram not available: %v", err)
	}
	defer conn.Close()

	t.Setenv("NOTIFY_SOCKET", sock)
	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := conn.ReadFromUnix(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Fatalf("got %q, want READY=1", got)
	}
}

// main.go - drain

func TestDrain_ClosesGate(t *testing.T) {
	var gate health.ShutdownGate
	start := time.Now()
	drain(log.Nop(), &gate, 20*time.Millisecond)
	if !gate.Draining() {
		t.Fatal("gate not set")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("drain returned before the delay")
	}
	if err := gate.Probe()(context.Background()); err == nil || err.Error() != "draining" {
		t.Fatalf("probe = %v, want draining", err)
	}
}

func TestDrain_ZeroDelay(t *testing.T) {
	var gate health.ShutdownGate
	drain(log.Nop(), &gate, 0)
	if !gate.Draining() {
		t.Fatal("gate not set")
	}
}

// main.go - shutdown

func TestShutdown_OrderAndErrors(t *testing.T) {
	var order []string
	mk := func(name string, err error) stopper {
		return stopper{name, func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("%s: no deadline", name)
			}
			order = append(order, name)
			return err
		}}
	}

	shutdown(log.Nop(), time.Second,
		mk("app", nil),
		mk("ops", errors.New("boom")),
		mk("otel", nil),
	)

	if got := strings.Join(order, ","); got != "app,ops,otel" {
		t.Fatalf("order = %s", got)
	}
}

// main.go - newRateLimit

func TestNewRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := metrics.New()

	if mw := newRateLimit(ctx, log.Nop(), cfg.App{RateLimitRPS: 0}, m); mw != nil {
		t.Fatal("expected nil middleware when rate is 0")
	}
	if mw := newRateLimit(ctx, log.Nop(), cfg.App{RateLimitRPS: 1, RateLimitBurst: 1}, m); mw == nil {
		t.Fatal("expected middleware")
	}
}
