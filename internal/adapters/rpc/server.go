// Package rpc exposes the bridge service over a local HTTP endpoint and a
// WebSocket messaging channel. Both speak the same envelope: inbound
// {type, body}, outbound {type:"response", body} or {type:"error", message}.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"keybridge/go-daemon/internal/bridge"
	"keybridge/go-daemon/internal/lifecycle"
)

const DefaultAddr = "127.0.0.1:21325"

type Server struct {
	httpServer *http.Server
	service    *bridge.Service
	windows    *lifecycle.WindowSupervisor
	handlers   map[string]handlerFunc
	limiter    *requestRateLimiter
	metrics    *serverMetrics

	allowedOrigins   map[string]bool
	wsOriginPatterns []string
	log              *slog.Logger
}

func NewServer(addr string, svc *bridge.Service, windows *lifecycle.WindowSupervisor, allowedOrigins []string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		service:        svc,
		windows:        windows,
		handlers:       newHandlerTable(svc),
		limiter:        newRequestRateLimiter(loadRateLimitConfig()),
		metrics:        newServerMetrics(),
		allowedOrigins: originSet(allowedOrigins),
		log:            slog.Default(),
	}
	s.wsOriginPatterns = wsOriginPatterns(allowedOrigins)

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metrics.handler())
	mux.HandleFunc("/bridge", s.handleBridge)
	mux.HandleFunc("/bridge/ws", s.handleWS)
	mux.HandleFunc("/bridge/ports", s.handlePorts)
	mux.HandleFunc("/bridge/launch", s.handleLaunch)
	mux.HandleFunc("/bridge/window-closed", s.handleWindowClosed)
	return s
}

// Handler exposes the routing mux, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	if err := s.service.Start(ctx); err != nil {
		return err
	}
	if s.windows != nil {
		if err := s.windows.Launch(); err != nil {
			s.log.Warn("window launch failed", "err", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != "" && !s.isAllowedOrigin(origin) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
	return true
}

func (s *Server) isAllowedOrigin(raw string) bool {
	if s.allowedOrigins[raw] {
		return true
	}
	if raw == "null" {
		allowNull, _ := parseBoolEnv("KEYBRIDGE_ALLOW_NULL_ORIGIN")
		return allowNull
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.TrimSpace(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func originSet(origins []string) map[string]bool {
	set := make(map[string]bool, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			set[origin] = true
		}
	}
	return set
}

// wsOriginPatterns converts configured origins into host patterns for the
// websocket accept check, alongside the local-host defaults.
func wsOriginPatterns(origins []string) []string {
	patterns := []string{"localhost:*", "localhost", "127.0.0.1:*", "127.0.0.1"}
	for _, origin := range origins {
		u, err := url.Parse(strings.TrimSpace(origin))
		if err != nil {
			continue
		}
		if host := u.Host; host != "" {
			patterns = append(patterns, host)
		}
	}
	return patterns
}
