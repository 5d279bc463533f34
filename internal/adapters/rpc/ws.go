package rpc

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// handleWS carries the persistent messaging channel. Requests are
// dispatched concurrently and each one writes exactly one envelope back;
// the channel stays open across responses, which is what lets listen
// long-polls overlap with other traffic.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.wsOriginPatterns,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bridge channel closed")
	// Match the HTTP body cap; the default 32 KiB is too small for a
	// configure payload carrying a full protocol definition.
	conn.SetReadLimit(maxRequestBodyBytes)

	ctx := r.Context()
	var writeMu sync.Mutex
	var inflight sync.WaitGroup
	defer inflight.Wait()

	write := func(envelope any) {
		payload, err := json.Marshal(envelope)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.Write(ctx, websocket.MessageText, payload)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			write(errorEnvelope{Type: "error", Message: "request is not valid json"})
			continue
		}
		inflight.Add(1)
		go func(req request) {
			defer inflight.Done()
			write(s.serve(ctx, req))
		}(req)
	}
}
