// Package config holds the key manager's identity and endpoint
// configuration. It is loaded in two stages: a YAML file provides the base
// values, then environment variables override them; the session token is
// exclusively environment-sourced so it never lands in a config file.
package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/nicknym/go-keymanager/pkg/keys"
)

// Config is the single, authoritative configuration for a KeyManager
// instance. Address is immutable once the manager is constructed; the
// session token is updated through KeyManager.SetSession, not here.
type Config struct {
	// Address is the user's own address, the identity keys are bound to.
	Address string `yaml:"address"`
	// NickserverURI is the directory endpoint for address→key lookups.
	NickserverURI string `yaml:"nickserver_uri"`
	// APIURI and APIVersion locate the provider API used to publish keys.
	APIURI     string `yaml:"api_uri"`
	APIVersion string `yaml:"api_version"`
	// UID is the provider-assigned user identifier used in publish paths.
	UID string `yaml:"uid"`
	// CACertPath points at the provider CA bundle; required for any network
	// call unless the caller injects its own HTTP client.
	CACertPath string `yaml:"ca_cert_path"`
	// Schemes selects the key-type backends to register.
	Schemes []string `yaml:"schemes"`

	// SessionID is populated from the KEYMANAGER_SESSION_ID env var.
	SessionID string `yaml:"-"`
}

// knownSchemes is the set of scheme names Load accepts.
var knownSchemes = map[string]struct{}{
	string(keys.OpenPGP): {},
	string(keys.JOSE):    {},
}

// Load reads a YAML file, applies environment overrides and validates the
// result.
func Load(path string, logger zerolog.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return Finalize(&cfg, logger)
}

// Finalize applies environment overrides to a base config and validates it.
// Split out of Load so callers that build the base struct themselves (tests,
// embedded YAML) go through the same stage.
func Finalize(cfg *Config, logger zerolog.Logger) (*Config, error) {
	if session := os.Getenv("KEYMANAGER_SESSION_ID"); session != "" {
		logger.Debug().Str("key", "KEYMANAGER_SESSION_ID").Msg("Loaded config value from env")
		cfg.SessionID = session
	}
	if caCert := os.Getenv("KEYMANAGER_CA_CERT"); caCert != "" {
		logger.Debug().Str("key", "KEYMANAGER_CA_CERT").Msg("Overriding config value from env")
		cfg.CACertPath = caCert
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("config: address is required")
	}
	if cfg.NickserverURI == "" {
		return nil, fmt.Errorf("config: nickserver_uri is required")
	}
	if len(cfg.Schemes) == 0 {
		cfg.Schemes = []string{string(keys.OpenPGP)}
	}
	for _, name := range cfg.Schemes {
		if _, ok := knownSchemes[name]; !ok {
			return nil, fmt.Errorf("config: unknown scheme %q", name)
		}
	}

	logger.Debug().
		Str("address", cfg.Address).
		Str("nickserver_uri", cfg.NickserverURI).
		Strs("schemes", cfg.Schemes).
		Msg("Configuration finalized")
	return cfg, nil
}
