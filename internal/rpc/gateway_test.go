package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

func serve(gw *Gateway, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	gw.server.Handler.ServeHTTP(w, req)
	return w
}

func TestGatewayHealth(t *testing.T) {
	gw := NewGateway("127.0.0.1:0", testService(t), nil)

	w := serve(gw, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("expected status=ok, got %s", resp["status"])
	}
}

func TestGatewayBalance(t *testing.T) {
	gw := NewGateway("127.0.0.1:0", testService(t), nil)

	w := serve(gw, http.MethodGet, "/balance?address="+originHex)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp GetBalanceResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Balance != "1000000" {
		t.Errorf("expected balance 1000000, got %s", resp.Balance)
	}
}

func TestGatewayBalanceInvalidAddress(t *testing.T) {
	gw := NewGateway("127.0.0.1:0", testService(t), nil)

	w := serve(gw, http.MethodGet, "/balance?address=abc")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGatewayContractAndStorage(t *testing.T) {
	svc := testService(t)
	addr := deployStore(t, svc)
	gw := NewGateway("127.0.0.1:0", svc, nil)

	w := serve(gw, http.MethodGet, "/contract?address="+addr)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var info GetContractResponse
	json.NewDecoder(w.Body).Decode(&info)
	if !info.Found {
		t.Error("expected contract record")
	}

	// "k" = 0x6b
	w = serve(gw, http.MethodGet, "/storage?address="+addr+"&key=6b")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var v GetStorageResponse
	json.NewDecoder(w.Body).Decode(&v)
	if v.Value != "7631" {
		t.Errorf("expected value 7631, got %s", v.Value)
	}
}

func TestGatewayStorageNoKey(t *testing.T) {
	gw := NewGateway("127.0.0.1:0", testService(t), nil)

	w := serve(gw, http.MethodGet, "/storage?address="+originHex)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGatewayMethodNotAllowed(t *testing.T) {
	gw := NewGateway("127.0.0.1:0", testService(t), nil)

	// POST to GET-only endpoint.
	w := serve(gw, http.MethodPost, "/balance")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestGatewayStartStop(t *testing.T) {
	gw := NewGateway("127.0.0.1:0", testService(t), nil)

	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	addr := gw.Addr()
	if addr == "" {
		t.Fatal("expected non-empty address")
	}

	if err := gw.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestGatewayName(t *testing.T) {
	gw := NewGateway("127.0.0.1:0", nil, nil)
	if gw.Name() != "http-gateway" {
		t.Errorf("expected name=http-gateway, got %s", gw.Name())
	}
}
