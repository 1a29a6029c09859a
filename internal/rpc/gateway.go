package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Gateway serves read-only HTTP/JSON queries over the Executive service.
type Gateway struct {
	server  *http.Server
	service *Service
	addr    string
	logger  *zap.Logger
	lis     net.Listener
}

// NewGateway creates an HTTP gateway.
func NewGateway(addr string, service *Service, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}

	gw := &Gateway{
		service: service,
		addr:    addr,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/contract", gw.handleGetContract)
	mux.HandleFunc("/storage", gw.handleGetStorage)
	mux.HandleFunc("/balance", gw.handleGetBalance)
	mux.HandleFunc("/health", gw.handleHealth)

	gw.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return gw
}

// Start begins serving HTTP requests.
func (gw *Gateway) Start(ctx context.Context) error {
	var err error
	gw.lis, err = net.Listen("tcp", gw.addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", gw.addr, err)
	}

	gw.logger.Info("HTTP gateway starting", zap.String("addr", gw.lis.Addr().String()))

	go func() {
		if err := gw.server.Serve(gw.lis); err != nil && err != http.ErrServerClosed {
			gw.logger.Error("HTTP gateway error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the gateway.
func (gw *Gateway) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return gw.server.Shutdown(ctx)
}

// Name returns the service name.
func (gw *Gateway) Name() string {
	return "http-gateway"
}

// Addr returns the actual address the gateway is listening on.
func (gw *Gateway) Addr() string {
	if gw.lis != nil {
		return gw.lis.Addr().String()
	}
	return gw.addr
}

func (gw *Gateway) handleGetContract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := gw.service.GetContract(r.Context(), &GetContractRequest{
		Address: r.URL.Query().Get("address"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (gw *Gateway) handleGetStorage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	if q.Get("key") == "" {
		http.Error(w, "key parameter required", http.StatusBadRequest)
		return
	}

	resp, err := gw.service.GetStorage(r.Context(), &GetStorageRequest{
		Address: q.Get("address"),
		Key:     q.Get("key"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (gw *Gateway) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := gw.service.GetBalance(r.Context(), &GetBalanceRequest{
		Address: r.URL.Query().Get("address"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if status.Code(err) == codes.InvalidArgument {
		code = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": status.Convert(err).Message()})
}
