// Package config loads the daemon configuration from YAML with environment
// overrides layered on top.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr = "127.0.0.1:21325"

	addrEnv    = "KEYBRIDGE_ADDR"
	dataDirEnv = "KEYBRIDGE_DATA_DIR"
	originsEnv = "KEYBRIDGE_ALLOWED_ORIGINS"
	uiEnv      = "KEYBRIDGE_UI_DISABLED"
)

type Config struct {
	Addr           string   `yaml:"addr"`
	DataDir        string   `yaml:"dataDir"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	UIDisabled     bool     `yaml:"uiDisabled"`
	EmulatorPorts  []int    `yaml:"emulatorPorts"`
}

func Default() Config {
	return Config{
		Addr: DefaultAddr,
	}
}

// LoadFromPath reads the first readable candidate config file, then applies
// environment overrides. A missing or unparsable file falls back to
// defaults; the daemon must come up without any configuration present.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/keybridge.yaml",
			"keybridge.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src Config) {
	if src.Addr != "" {
		dst.Addr = src.Addr
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if len(src.AllowedOrigins) > 0 {
		dst.AllowedOrigins = src.AllowedOrigins
	}
	if src.UIDisabled {
		dst.UIDisabled = true
	}
	if len(src.EmulatorPorts) > 0 {
		dst.EmulatorPorts = src.EmulatorPorts
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(addrEnv)); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(dataDirEnv)); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv(originsEnv)); v != "" {
		var origins []string
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		cfg.AllowedOrigins = origins
	}
	if v := strings.TrimSpace(os.Getenv(uiEnv)); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.UIDisabled = parsed
		}
	}
}
