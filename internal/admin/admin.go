// Package admin serves operator endpoints. They are intended for operators
// on the local host, not exposed publicly.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/echenim/Bedrock/contracts/internal/types"
	"go.uber.org/zap"
)

// CodeCache is the compiled-module cache being administered.
type CodeCache interface {
	Len() int
	Purge()
}

// Evictor removes contracts that can no longer pay rent.
type Evictor interface {
	Evict(block types.BlockContext, addr types.Address) (bool, error)
}

// Digester commits to the persisted contract state.
type Digester interface {
	Digest() (types.Hash, error)
}

// Server provides admin/debug endpoints.
type Server struct {
	httpServer *http.Server
	cache      CodeCache
	evictor    Evictor
	state      Digester
	logger     *zap.Logger
	lis        net.Listener
}

// NewServer creates an admin server. Any collaborator may be nil, in which
// case its endpoint reports it as unavailable.
func NewServer(addr string, cache CodeCache, evictor Evictor, state Digester, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cache:   cache,
		evictor: evictor,
		state:   state,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/codecache", s.handleCodeCache)
	mux.HandleFunc("/admin/codecache/purge", s.handlePurge)
	mux.HandleFunc("/admin/digest", s.handleDigest)
	mux.HandleFunc("/admin/evict", s.handleEvict)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	return s
}

// Start begins serving admin endpoints.
func (s *Server) Start(ctx context.Context) error {
	var err error
	s.lis, err = net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("admin: listen on %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("admin server starting", zap.String("addr", s.lis.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(s.lis); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Name returns the service name.
func (s *Server) Name() string {
	return "admin"
}

// Addr returns the actual address the server is listening on.
func (s *Server) Addr() string {
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.httpServer.Addr
}

func (s *Server) handleCodeCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result := map[string]any{
		"available": s.cache != nil,
	}
	if s.cache != nil {
		result["modules"] = s.cache.Len()
	}

	writeJSON(w, result)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cache == nil {
		http.Error(w, "code cache unavailable", http.StatusServiceUnavailable)
		return
	}

	n := s.cache.Len()
	s.cache.Purge()
	s.logger.Info("code cache purged", zap.Int("modules", n))

	writeJSON(w, map[string]any{"purged": n})
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.state == nil {
		http.Error(w, "state unavailable", http.StatusServiceUnavailable)
		return
	}

	d, err := s.state.Digest()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"digest": d.String()})
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.evictor == nil {
		http.Error(w, "executive unavailable", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	addr, err := types.AddressFromHex(q.Get("address"))
	if err != nil {
		http.Error(w, "invalid address parameter", http.StatusBadRequest)
		return
	}
	height, err := strconv.ParseUint(q.Get("height"), 10, 64)
	if err != nil {
		http.Error(w, "invalid height parameter", http.StatusBadRequest)
		return
	}

	evicted, err := s.evictor.Evict(types.Block{Height: height, Timestamp: uint64(time.Now().Unix())}, addr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"address": addr.String(), "evicted": evicted})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}
