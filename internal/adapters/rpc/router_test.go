package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"keybridge/go-daemon/internal/bridge"
	"keybridge/go-daemon/internal/lifecycle"
	"keybridge/go-daemon/internal/manifest"
	"keybridge/go-daemon/internal/storage"
	"keybridge/go-daemon/internal/transport"
)

func newTestServer(t *testing.T, mock *transport.Mock, windows *lifecycle.WindowSupervisor) *Server {
	t.Helper()
	if mock == nil {
		mock = &transport.Mock{}
	}
	svc := bridge.NewService(mock, storage.NewKVStore(),
		manifest.FromBytes([]byte(`{"version":"1.0.4"}`)), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := NewServer(DefaultAddr, svc, windows, nil)
	s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	return s
}

type envelope struct {
	ID      json.RawMessage `json:"id"`
	Type    string          `json:"type"`
	Body    json.RawMessage `json:"body"`
	Message string          `json:"message"`
}

func postBridge(t *testing.T, handler http.Handler, payload string) envelope {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/bridge", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not an envelope: %v body=%s", err, rec.Body.String())
	}
	return env
}

func TestRouterKnownTypesProduceResponseEnvelopes(t *testing.T) {
	mock := &transport.Mock{
		EnumerateFunc: func() ([]transport.Entry, error) {
			return []transport.Entry{{Path: "hid1"}}, nil
		},
	}
	s := newTestServer(t, mock, nil)

	payloads := []string{
		`{"type":"enumerate"}`,
		`{"type":"listen","body":null}`,
		`{"type":"acquire","body":"hid1"}`,
		`{"type":"release","body":"some-session"}`,
		`{"type":"configure","body":"def"}`,
		`{"type":"udevStatus"}`,
		`{"type":"info"}`,
		`{"type":"ping"}`,
	}
	for _, payload := range payloads {
		env := postBridge(t, s.Handler(), payload)
		if env.Type != "response" {
			t.Fatalf("payload %s: expected response, got %+v", payload, env)
		}
	}
}

func TestRouterUnknownTypeFails(t *testing.T) {
	s := newTestServer(t, nil, nil)
	env := postBridge(t, s.Handler(), `{"type":"selfdestruct"}`)
	if env.Type != "error" || !strings.Contains(env.Message, `no function defined for "selfdestruct"`) {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestRouterValidationErrorsBecomeErrorEnvelopes(t *testing.T) {
	s := newTestServer(t, nil, nil)
	cases := []struct {
		payload string
		want    string
	}{
		{`{"type":"release","body":42}`, "device session is strange"},
		{`{"type":"acquire","body":[]}`, "device is strange"},
		{`{"type":"listen","body":["x"]}`, "device is not an object"},
		{`{"type":"call","body":"x"}`, "message is not an object"},
		{`{"type":"call","body":{"id":"s","message":{}}}`, "no type of message"},
		{`{"type":"call","body":{"id":"s","type":"Ping"}}`, "no message body"},
		{`{"type":"configure","body":17}`, "protocol definition is strange"},
	}
	for _, tc := range cases {
		env := postBridge(t, s.Handler(), tc.payload)
		if env.Type != "error" || env.Message != tc.want {
			t.Fatalf("payload %s: got %+v want message %q", tc.payload, env, tc.want)
		}
	}
}

func TestRouterEnumerateBodyCarriesDescriptors(t *testing.T) {
	mock := &transport.Mock{
		EnumerateFunc: func() ([]transport.Entry, error) {
			return []transport.Entry{{Path: "hid1", Session: "s1"}}, nil
		},
	}
	s := newTestServer(t, mock, nil)

	env := postBridge(t, s.Handler(), `{"type":"enumerate"}`)
	var devices []map[string]any
	if err := json.Unmarshal(env.Body, &devices); err != nil {
		t.Fatalf("body is not a device list: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("unexpected device count: %d", len(devices))
	}
	d := devices[0]
	if d["vendor"] != float64(0x534c) || d["product"] != float64(1) || d["serialNumber"] != float64(0) {
		t.Fatalf("descriptor constants missing: %+v", d)
	}
	if d["session"] != "s1" {
		t.Fatalf("session missing: %+v", d)
	}
}

func TestRouterAcquireInputEquivalence(t *testing.T) {
	mock := &transport.Mock{
		AcquireFunc: func(path, previous string) (string, error) {
			return "session-" + path, nil
		},
	}
	s := newTestServer(t, mock, nil)

	for _, payload := range []string{
		`{"type":"acquire","body":"somepath"}`,
		`{"type":"acquire","body":{"path":"somepath"}}`,
	} {
		env := postBridge(t, s.Handler(), payload)
		if env.Type != "response" {
			t.Fatalf("payload %s failed: %+v", payload, env)
		}
		var result struct {
			Session string `json:"session"`
		}
		if err := json.Unmarshal(env.Body, &result); err != nil || result.Session != "session-somepath" {
			t.Fatalf("payload %s: unexpected body %s", payload, env.Body)
		}
	}
}

func TestRouterHandlerPanicBecomesErrorEnvelope(t *testing.T) {
	mock := &transport.Mock{
		EnumerateFunc: func() ([]transport.Entry, error) {
			panic("transport exploded")
		},
	}
	s := newTestServer(t, mock, nil)

	env := postBridge(t, s.Handler(), `{"type":"enumerate"}`)
	if env.Type != "error" || !strings.Contains(env.Message, "transport exploded") {
		t.Fatalf("panic not folded into error envelope: %+v", env)
	}
}

func TestRouterMalformedRequests(t *testing.T) {
	s := newTestServer(t, nil, nil)

	env := postBridge(t, s.Handler(), `{not json`)
	if env.Type != "error" || env.Message == "" {
		t.Fatalf("unexpected envelope for bad json: %+v", env)
	}
	env = postBridge(t, s.Handler(), `{"type":"ping"}{"type":"ping"}`)
	if env.Type != "error" || !strings.Contains(env.Message, "trailing") {
		t.Fatalf("unexpected envelope for trailing data: %+v", env)
	}
}

func TestRouterEchoesRequestID(t *testing.T) {
	s := newTestServer(t, nil, nil)
	env := postBridge(t, s.Handler(), `{"id":7,"type":"ping"}`)
	if string(env.ID) != "7" {
		t.Fatalf("request id not echoed: %+v", env)
	}
	if env.Type != "response" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestRouterCallFlow(t *testing.T) {
	mock := &transport.Mock{
		HasMessagesFunc: func() bool { return true },
		CallFunc: func(_ context.Context, session, messageType string, _ json.RawMessage) (*transport.CallResult, error) {
			return &transport.CallResult{Type: "Features", Message: json.RawMessage(`{"label":"x"}`)}, nil
		},
	}
	s := newTestServer(t, mock, nil)

	env := postBridge(t, s.Handler(), `{"type":"call","body":{"id":"s","type":"Initialize","message":{}}}`)
	if env.Type != "response" {
		t.Fatalf("call failed: %+v", env)
	}
	var result struct {
		Type    string          `json:"type"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(env.Body, &result); err != nil || result.Type != "Features" {
		t.Fatalf("unexpected call body: %s err=%v", env.Body, err)
	}
}

func TestPortsEndpoint(t *testing.T) {
	var applied []int
	mock := &transport.Mock{
		SetPortsFunc: func(ports []int) error {
			applied = ports
			return nil
		},
	}
	s := newTestServer(t, mock, nil)

	req := httptest.NewRequest(http.MethodPost, "/bridge/ports", strings.NewReader(`[21324]`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if len(applied) != 1 || applied[0] != 21324 {
		t.Fatalf("ports not applied: %v", applied)
	}

	req = httptest.NewRequest(http.MethodPost, "/bridge/ports", strings.NewReader(`"nope"`))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil || env.Type != "error" {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
}

func TestLaunchEndpointIsIdempotent(t *testing.T) {
	opened := 0
	windows := lifecycle.NewWindowSupervisor("http://127.0.0.1:21325/", func(lifecycle.Window) error {
		opened++
		return nil
	})
	s := newTestServer(t, nil, windows)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/bridge/launch", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
	}
	if opened != 1 {
		t.Fatalf("expected one window, got %d", opened)
	}
}

func TestWindowClosedEndpointAllowsRelaunch(t *testing.T) {
	opened := 0
	windows := lifecycle.NewWindowSupervisor("http://127.0.0.1:21325/", func(lifecycle.Window) error {
		opened++
		return nil
	})
	s := newTestServer(t, nil, windows)

	post := func(path string) envelope {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", path, rec.Code)
		}
		var env envelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s: bad envelope: %v", path, err)
		}
		return env
	}

	post("/bridge/launch")
	env := post("/bridge/window-closed")
	if env.Type != "response" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var state string
	if err := json.Unmarshal(env.Body, &state); err != nil || state != string(lifecycle.StateClosed) {
		t.Fatalf("unexpected state after close: %s err=%v", env.Body, err)
	}
	post("/bridge/launch")
	if opened != 2 {
		t.Fatalf("expected a second window after close, got %d", opened)
	}
}

func TestOriginPolicy(t *testing.T) {
	svc := bridge.NewService(&transport.Mock{}, storage.NewKVStore(),
		manifest.FromBytes([]byte(`{"version":"1.0.4"}`)), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := NewServer(DefaultAddr, svc, nil, []string{"chrome-extension://trusted"})
	s.log = slog.New(slog.NewTextHandler(io.Discard, nil))

	cases := []struct {
		origin string
		want   int
	}{
		{"chrome-extension://trusted", http.StatusOK},
		{"http://localhost:8080", http.StatusOK},
		{"chrome-extension://evil", http.StatusForbidden},
		{"https://example.com", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/bridge", strings.NewReader(`{"type":"ping"}`))
		req.Header.Set("Origin", tc.origin)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("origin %q: got status %d want %d", tc.origin, rec.Code, tc.want)
		}
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}

	postBridge(t, s.Handler(), `{"type":"ping"}`)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "keybridge_requests_total") {
		t.Fatalf("metrics endpoint missing counters: %d", rec.Code)
	}
}
