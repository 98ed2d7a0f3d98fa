package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fujudge/internal/judge/config"
	appErr "fujudge/pkg/errors"

	"github.com/alicebob/miniredis/v2"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	cfg.Judge.WorkRoot = t.TempDir()
	cfg.Fixture.CacheRoot = t.TempDir()
	return cfg
}

func TestNewLocalOnly(t *testing.T) {
	a, err := New(context.Background(), loadConfig(t))
	if err != nil {
		t.Fatalf("new app failed: %v", err)
	}
	defer a.Close()

	if a.Service == nil || a.Checker == nil {
		t.Fatalf("service and checker must be wired")
	}
	if a.Compiler != nil {
		t.Fatalf("compiler must stay nil without a command")
	}
	if _, err := a.Service.Status(context.Background(), "r"); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("status without redis must be unavailable, got %v", err)
	}
	if err := a.Ping(context.Background()); err != nil {
		t.Fatalf("ping without remote clients must succeed, got %v", err)
	}
	if _, err := a.LoadChecker("tokens"); err != nil {
		t.Fatalf("load built-in checker failed: %v", err)
	}

	handler := a.MetricsHandler()
	if handler == nil {
		t.Fatalf("metrics handler must be served by default")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", rec.Code)
	}
}

func TestNewWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t)
	cfg.Redis.Addr = mr.Addr()
	disabled := false
	cfg.Metrics.Enabled = &disabled

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app failed: %v", err)
	}
	defer a.Close()
	if a.MetricsHandler() != nil {
		t.Fatalf("metrics must be off when disabled")
	}
	if _, err := a.Service.Status(context.Background(), "missing"); !appErr.Is(err, appErr.RunNotFound) {
		t.Fatalf("expected RunNotFound from redis store, got %v", err)
	}

	if err := a.Ping(context.Background()); err != nil {
		t.Fatalf("ping redis failed: %v", err)
	}

	local, err := New(context.Background(), cfg, WithoutRemote())
	if err != nil {
		t.Fatalf("new local app failed: %v", err)
	}
	defer local.Close()
	if _, err := local.Service.Status(context.Background(), "missing"); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("WithoutRemote must skip redis, got %v", err)
	}

	mr.Close()
	if err := a.Ping(context.Background()); err == nil || !strings.Contains(err.Error(), "redis") {
		t.Fatalf("ping must report the lost redis, got %v", err)
	}
	if err := local.Ping(context.Background()); err != nil {
		t.Fatalf("local app has nothing to ping, got %v", err)
	}
}

func TestNewRejectsUnknownChecker(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Checker.Dir = t.TempDir()
	cfg.Checker.Name = "nope"
	if _, err := New(context.Background(), cfg); !appErr.Is(err, appErr.CheckerNotFound) {
		t.Fatalf("expected CheckerNotFound, got %v", err)
	}
}
