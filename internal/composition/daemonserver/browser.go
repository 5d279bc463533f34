package daemonserver

import (
	"fmt"
	"os/exec"
	"runtime"

	"keybridge/go-daemon/internal/lifecycle"
)

// openBrowser shows the UI page in the platform browser. The spawned
// browser never reports back, so a closed-window event has to come from
// the UI itself.
func openBrowser(w lifecycle.Window) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", w.URL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", w.URL)
	default:
		cmd = exec.Command("xdg-open", w.URL)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening %q: %w", w.URL, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
