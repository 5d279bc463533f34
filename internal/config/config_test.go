package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromPathMissingFileFallsBackToDefaults(t *testing.T) {
	cfg := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.Addr != DefaultAddr {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
}

func TestLoadFromPathParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keybridge.yaml")
	payload := `
addr: "127.0.0.1:9999"
dataDir: "/tmp/keybridge"
allowedOrigins:
  - "chrome-extension://abcdefgh"
emulatorPorts:
  - 21324
`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg := LoadFromPath(path)
	if cfg.Addr != "127.0.0.1:9999" {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
	if cfg.DataDir != "/tmp/keybridge" {
		t.Fatalf("unexpected data dir: %q", cfg.DataDir)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "chrome-extension://abcdefgh" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if len(cfg.EmulatorPorts) != 1 || cfg.EmulatorPorts[0] != 21324 {
		t.Fatalf("unexpected ports: %v", cfg.EmulatorPorts)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keybridge.yaml")
	if err := os.WriteFile(path, []byte(`addr: "127.0.0.1:9999"`), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv(addrEnv, "127.0.0.1:8888")
	t.Setenv(originsEnv, "chrome-extension://a, chrome-extension://b")

	cfg := LoadFromPath(path)
	if cfg.Addr != "127.0.0.1:8888" {
		t.Fatalf("env override lost: %q", cfg.Addr)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadFromPathIgnoresMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keybridge.yaml")
	if err := os.WriteFile(path, []byte("\t not yaml {"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	cfg := LoadFromPath(path)
	if cfg.Addr != DefaultAddr {
		t.Fatalf("malformed file must fall back to defaults, got %q", cfg.Addr)
	}
}
