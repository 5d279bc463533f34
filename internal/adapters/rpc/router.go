package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"keybridge/go-daemon/internal/bridge"
)

const maxRequestBodyBytes int64 = 1 << 20 // 1 MiB

type handlerFunc func(ctx context.Context, body json.RawMessage) (any, error)

type request struct {
	ID   json.RawMessage `json:"id,omitempty"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

type responseEnvelope struct {
	ID   json.RawMessage `json:"id,omitempty"`
	Type string          `json:"type"`
	Body any             `json:"body"`
}

type errorEnvelope struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
}

// newHandlerTable fixes the request-type to handler mapping. Everything not
// listed here fails with a "no function defined" error at dispatch.
func newHandlerTable(svc *bridge.Service) map[string]handlerFunc {
	return map[string]handlerFunc{
		"enumerate": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return svc.Enumerate(ctx)
		},
		"listen": func(ctx context.Context, body json.RawMessage) (any, error) {
			return svc.Listen(ctx, body)
		},
		"acquire": func(ctx context.Context, body json.RawMessage) (any, error) {
			return svc.Acquire(ctx, body)
		},
		"release": func(ctx context.Context, body json.RawMessage) (any, error) {
			return svc.Release(ctx, body)
		},
		"call": func(ctx context.Context, body json.RawMessage) (any, error) {
			return svc.Call(ctx, body)
		},
		"configure": func(ctx context.Context, body json.RawMessage) (any, error) {
			return svc.Configure(ctx, body)
		},
		"udevStatus": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return svc.UdevStatus(ctx)
		},
		"info": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return svc.Info(ctx)
		},
		"ping": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return svc.Ping(ctx)
		},
	}
}

// dispatch runs one request through the handler table. Handler panics are
// folded into the error channel so every request yields exactly one
// response or one error.
func (s *Server) dispatch(ctx context.Context, req request) (result any, err error) {
	handler, ok := s.handlers[req.Type]
	if !ok {
		return nil, fmt.Errorf("no function defined for %q", req.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("handler failed: %v", r)
		}
	}()
	return handler(ctx, req.Body)
}

func (s *Server) serve(ctx context.Context, req request) any {
	reqID := fmt.Sprintf("req_%d", time.Now().UnixNano())
	started := time.Now()
	s.log.Info("bridge request", "request_id", reqID, "type", req.Type)

	result, err := s.dispatch(ctx, req)
	elapsed := time.Since(started)
	if err != nil {
		s.log.Error("bridge request failed",
			"request_id", reqID, "type", req.Type, "err", err, "latency_ms", elapsed.Milliseconds())
		s.metrics.observe(req.Type, "error", elapsed)
		return errorEnvelope{ID: req.ID, Type: "error", Message: err.Error()}
	}
	s.log.Info("bridge response",
		"request_id", reqID, "type", req.Type, "latency_ms", elapsed.Milliseconds())
	s.metrics.observe(req.Type, "response", elapsed)
	return responseEnvelope{ID: req.ID, Type: "response", Body: result}
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !s.allowRate(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	var req request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeEnvelope(w, errorEnvelope{Type: "error", Message: "request is not valid json"})
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeEnvelope(w, errorEnvelope{Type: "error", Message: "request has trailing data"})
		return
	}

	writeEnvelope(w, s.serve(r.Context(), req))
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !s.allowRate(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	result, err := s.service.SetEmulatorPorts(r.Context(), body)
	if err != nil {
		writeEnvelope(w, errorEnvelope{Type: "error", Message: err.Error()})
		return
	}
	writeEnvelope(w, responseEnvelope{Type: "response", Body: result})
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.windows == nil {
		writeEnvelope(w, errorEnvelope{Type: "error", Message: "no window is configured"})
		return
	}
	if err := s.windows.Launch(); err != nil {
		writeEnvelope(w, errorEnvelope{Type: "error", Message: err.Error()})
		return
	}
	writeEnvelope(w, responseEnvelope{Type: "response", Body: string(s.windows.State())})
}

// handleWindowClosed is pinged by the UI page when it unloads, so the
// supervisor can open a fresh window on the next launch.
func (s *Server) handleWindowClosed(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.windows == nil {
		writeEnvelope(w, errorEnvelope{Type: "error", Message: "no window is configured"})
		return
	}
	s.windows.WindowClosed()
	writeEnvelope(w, responseEnvelope{Type: "response", Body: string(s.windows.State())})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter.allow(rateLimitKey(r), time.Now()) {
		return true
	}
	http.Error(w, "too many requests", http.StatusTooManyRequests)
	return false
}

func writeEnvelope(w http.ResponseWriter, envelope any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope)
}
