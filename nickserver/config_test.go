package nickserver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicknym/go-keymanager/nickserver"
)

const configYAML = `
run_mode: "local"
project_id: "file-project"
http_listen_addr: ":8091"
firestore_collection: "public-keys"
cors:
  allowed_origins:
    - "https://mail.example.org"
`

func TestLoadConfig(t *testing.T) {
	t.Run("loads YAML and applies env overrides", func(t *testing.T) {
		t.Setenv("NICKSERVER_SESSION_TOKEN", "env-token")
		t.Setenv("GCP_PROJECT_ID", "env-project")

		cfg, err := nickserver.LoadConfig([]byte(configYAML))
		require.NoError(t, err)

		assert.Equal(t, "local", cfg.RunMode)
		assert.Equal(t, "env-project", cfg.ProjectID)
		assert.Equal(t, ":8091", cfg.HTTPListenAddr)
		assert.Equal(t, "public-keys", cfg.FirestoreCollection)
		assert.Equal(t, "env-token", cfg.SessionToken)
		assert.Equal(t, []string{"https://mail.example.org"}, cfg.CorsConfig.AllowedOrigins)
	})

	t.Run("requires a session token", func(t *testing.T) {
		t.Setenv("NICKSERVER_SESSION_TOKEN", "")

		_, err := nickserver.LoadConfig([]byte(configYAML))
		assert.ErrorContains(t, err, "NICKSERVER_SESSION_TOKEN")
	})

	t.Run("rejects malformed YAML", func(t *testing.T) {
		t.Setenv("NICKSERVER_SESSION_TOKEN", "env-token")

		_, err := nickserver.LoadConfig([]byte("run_mode: [unclosed"))
		assert.Error(t, err)
	})
}
