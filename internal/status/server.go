// Package status serves the relay's local operator endpoints: health, metrics
// and the pairing code currently waiting to be scanned.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"warelay/internal/domain"
	"warelay/internal/metrics"
)

// Server keeps the latest QR state and exposes it over HTTP.
type Server struct {
	addr      string
	registry  *metrics.Registry
	connected func() bool
	logger    *slog.Logger

	mu     sync.RWMutex
	qr     *string
	qrAt   time.Time
	server *http.Server
}

type Config struct {
	Addr      string
	Registry  *metrics.Registry // default: metrics.Default
	Connected func() bool       // default: reads metrics.SessionConnected
	Logger    *slog.Logger
}

// QRState is the body of GET /qr.
type QRState struct {
	QR *string `json:"qr"`
	TS *int64  `json:"ts"`
}

func New(cfg Config) *Server {
	if cfg.Registry == nil {
		cfg.Registry = metrics.Default
	}
	if cfg.Connected == nil {
		cfg.Connected = func() bool { return metrics.SessionConnected.Value() == 1 }
	}
	return &Server{
		addr:      cfg.Addr,
		registry:  cfg.Registry,
		connected: cfg.Connected,
		logger:    cfg.Logger,
	}
}

// Observe records QR lifecycle events. It is meant to be subscribed on the bus.
func (s *Server) Observe(ev domain.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e := ev.(type) {
	case domain.QrIssued:
		code := e.Code
		s.qr = &code
		s.qrAt = time.Now()
	case domain.SessionReady:
		s.qr = nil
		s.qrAt = time.Now()
	}
}

// QR returns the current QR state.
func (s *Server) QR() QRState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var state QRState
	if s.qr != nil {
		code := *s.qr
		state.QR = &code
	}
	if !s.qrAt.IsZero() {
		ts := s.qrAt.Unix()
		state.TS = &ts
	}
	return state
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.registry.Handler())
	mux.HandleFunc("GET /qr", s.handleQR)
	mux.HandleFunc("GET /qr/view", s.handleQRView)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("status server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("status server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	}
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, map[string]bool{"ok": true, "connected": s.connected()})
}

func (s *Server) handleQR(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, s.QR())
}

func (s *Server) handleQRView(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(rw, qrViewPage)
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		http.Error(rw, "encode response", http.StatusInternalServerError)
	}
}
