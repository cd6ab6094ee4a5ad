package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "LEXFLOW"

// Load reads the optional JSON config file and applies environment overrides.
// A missing file is not an error — defaults plus environment are enough to run.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG"))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env-only configuration
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the config, group by group.
func applyEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		spec   any
	}{
		{EnvPrefix + "_SERVER", &cfg.Server},
		{EnvPrefix + "_STORE", &cfg.Store},
		{EnvPrefix + "_CHANNEL", &cfg.Channel},
		{EnvPrefix + "_AI_PRIMARY", &cfg.Providers.Primary},
		{EnvPrefix + "_AI_SECONDARY", &cfg.Providers.Secondary},
		{EnvPrefix + "_CALENDAR", &cfg.Calendar},
		{EnvPrefix + "_SIGN", &cfg.Sign},
		{EnvPrefix + "_NOTIFY", &cfg.Notify},
		{EnvPrefix + "_AUDIT", &cfg.Audit},
		{EnvPrefix + "_ENGINE", &cfg.Engine},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return fmt.Errorf("process %s: %w", g.prefix, err)
		}
	}
	return nil
}
