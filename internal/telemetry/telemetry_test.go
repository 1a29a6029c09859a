package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestNewMetricsRegistersAll(t *testing.T) {
	m := NewMetrics("test")
	if m.registry == nil {
		t.Fatal("expected non-nil registry")
	}

	if m.CallsTotal == nil {
		t.Error("CallsTotal is nil")
	}
	if m.GasUsed == nil {
		t.Error("GasUsed is nil")
	}
	if m.CodeCacheHits == nil {
		t.Error("CodeCacheHits is nil")
	}
	if m.Evictions == nil {
		t.Error("Evictions is nil")
	}
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()

	// NopMetrics should not panic when used.
	m.CallsTotal.WithLabelValues("call", "success").Inc()
	m.TrapsTotal.WithLabelValues("unreachable").Inc()
	m.GasUsed.Observe(1500)
	m.CodeCacheMisses.Inc()
}

func TestMetricsEndpoint(t *testing.T) {
	m := NewMetrics("test")

	m.CallsTotal.WithLabelValues("instantiate", "trap").Inc()
	m.CodeUploads.Inc()

	handler := promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, `test_execution_dispatches_total{entry="instantiate",result="trap"} 1`) {
		t.Fatalf("dispatch counter missing from output:\n%s", body)
	}
	if !strings.Contains(body, "test_codecache_uploads_total 1") {
		t.Fatal("upload counter missing from output")
	}
}

func TestNewLoggerDevelopment(t *testing.T) {
	logger, err := NewLogger("development", "debug")
	if err != nil {
		t.Fatalf("NewLogger(development): %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if !logger.Core().Enabled(-1) {
		t.Fatal("debug level should be enabled")
	}
}

func TestNewLoggerProduction(t *testing.T) {
	logger, err := NewLogger("production", "")
	if err != nil {
		t.Fatalf("NewLogger(production): %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if logger.Core().Enabled(-1) {
		t.Fatal("debug level should be disabled by default")
	}
}

func TestNewLoggerInvalid(t *testing.T) {
	if _, err := NewLogger("invalid", ""); err == nil {
		t.Fatal("expected error for invalid mode")
	}
	if _, err := NewLogger("production", "loud"); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewNopLogger(t *testing.T) {
	logger := NewNopLogger()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	// Should not panic.
	logger.Info("test message")
}

func TestNewLoggerAliases(t *testing.T) {
	l1, err := NewLogger("dev", "")
	if err != nil {
		t.Fatalf("NewLogger(dev): %v", err)
	}
	if l1 == nil {
		t.Fatal("expected non-nil logger for 'dev'")
	}

	l2, err := NewLogger("prod", "warn")
	if err != nil {
		t.Fatalf("NewLogger(prod): %v", err)
	}
	if l2 == nil {
		t.Fatal("expected non-nil logger for 'prod'")
	}
}
