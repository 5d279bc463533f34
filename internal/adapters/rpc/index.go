package rpc

import (
	"fmt"
	"net/http"
)

// indexPage is the bundled UI surface the window supervisor opens.
const indexPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>keybridge</title></head>
<body>
<h1>keybridge</h1>
<p>The bridge daemon is running. Version %s.</p>
<script>
window.addEventListener('pagehide', function () {
  navigator.sendBeacon('/bridge/window-closed');
});
</script>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	version := "unknown"
	if info, err := s.service.Info(r.Context()); err == nil {
		version = info.Version
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, indexPage, version)
}
