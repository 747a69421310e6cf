package nickserver

import (
	"fmt"
	"os"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"gopkg.in/yaml.v3"
)

// Config defines the single, authoritative configuration for the directory
// service.
type Config struct {
	RunMode             string `yaml:"run_mode"`
	ProjectID           string `yaml:"project_id"`
	HTTPListenAddr      string `yaml:"http_listen_addr"`
	FirestoreCollection string `yaml:"firestore_collection"`

	Cors struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`

	// CorsConfig is the processed, ready-to-use middleware config.
	CorsConfig middleware.CorsConfig `yaml:"-"`

	// SessionToken authenticates publish requests; populated from the
	// NICKSERVER_SESSION_TOKEN env var.
	SessionToken string `yaml:"-"`
}

// LoadConfig parses YAML bytes and then overrides fields with environment
// variables.
func LoadConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		cfg.ProjectID = projectID
	}
	if token := os.Getenv("NICKSERVER_SESSION_TOKEN"); token != "" {
		cfg.SessionToken = token
	}

	if cfg.SessionToken == "" {
		return nil, fmt.Errorf("NICKSERVER_SESSION_TOKEN environment variable is not set or is empty")
	}

	cfg.CorsConfig = middleware.CorsConfig{
		AllowedOrigins: cfg.Cors.AllowedOrigins,
		Role:           middleware.CorsRoleDefault,
	}
	return &cfg, nil
}
