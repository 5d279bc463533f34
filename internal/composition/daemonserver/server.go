// Package daemonserver wires the transport, storage, bridge service and
// RPC server into a runnable daemon.
package daemonserver

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"keybridge/go-daemon/internal/adapters/rpc"
	"keybridge/go-daemon/internal/bridge"
	"keybridge/go-daemon/internal/config"
	"keybridge/go-daemon/internal/lifecycle"
	"keybridge/go-daemon/internal/manifest"
	"keybridge/go-daemon/internal/storage"
	"keybridge/go-daemon/internal/transport"
)

const stateFileName = "bridge_state.json"

// NewServerWithOptions builds the daemon. Flag values override the config
// file; empty strings mean "use the configured or default value".
func NewServerWithOptions(addr, configPath, dataDir string) (*rpc.Server, error) {
	cfg := config.LoadFromPath(configPath)
	if addr != "" {
		cfg.Addr = addr
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if cfg.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolving data directory: %w", err)
		}
		cfg.DataDir = filepath.Join(base, "keybridge")
	}

	store, err := storage.NewPersistentKVStore(filepath.Join(cfg.DataDir, stateFileName))
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	mux := transport.NewMux(
		transport.NewHIDBackend(bridge.DeviceVendor, bridge.DeviceProduct),
		transport.NewEmulatorBackend(cfg.EmulatorPorts),
	)
	svc := bridge.NewService(mux, store, manifest.Bundled(), nil)

	var windows *lifecycle.WindowSupervisor
	if !cfg.UIDisabled {
		windows = lifecycle.NewWindowSupervisor(uiURL(cfg.Addr), openBrowser)
	}

	return rpc.NewServer(cfg.Addr, svc, windows, cfg.AllowedOrigins), nil
}

func uiURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}
