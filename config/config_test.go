package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesFileAndAppliesEnvOverride(t *testing.T) {
	path := writeConfigFile(t, `
app:
  name: s2s-edge-client
  env: dev
peers:
  seed_urls:
    - http://localhost:8080
  timeout_seconds: 5
port:
  id: port1
  batch_count: 100
queue:
  path: /tmp/queue.db
  max_rows: 10000
`)

	t.Setenv("S2S_APP_ENV", "prod")

	var cfg Config
	require.NoError(t, Load(path, "S2S_", &cfg))

	assert.Equal(t, "s2s-edge-client", cfg.App.Name)
	assert.Equal(t, "prod", cfg.App.Env, "single-word mapstructure keys survive the env provider's underscore-to-dot transform")
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.Peers.SeedURLs)
	assert.Equal(t, 5, cfg.Peers.TimeoutSeconds)
	assert.Equal(t, "port1", cfg.Port.ID)
	assert.Equal(t, 100, cfg.Port.BatchCount)
	assert.Equal(t, int64(10000), int64(cfg.Queue.MaxRows))
}

func TestDurationHelpersConvertSecondsFields(t *testing.T) {
	cfg := Config{
		Peers: PeersConfig{TimeoutSeconds: 5, UpdateIntervalSeconds: 30},
		Port:  PortConfig{RequestExpirationSeconds: 60, BatchDurationSeconds: 2, MaxTransactionTimeSeconds: 120},
		Queue: QueueConfig{MaxAgeSeconds: 3600, DrainIntervalSeconds: 10},
		Alert: AlertConfig{TimeoutSeconds: 15},
	}

	assert.Equal(t, "5s", cfg.Peers.Timeout().String())
	assert.Equal(t, "30s", cfg.Peers.UpdateInterval().String())
	assert.Equal(t, "1m0s", cfg.Port.RequestExpiration().String())
	assert.Equal(t, "2s", cfg.Port.BatchDuration().String())
	assert.Equal(t, "2m0s", cfg.Port.MaxTransactionTime().String())
	assert.Equal(t, "1h0m0s", cfg.Queue.MaxAge().String())
	assert.Equal(t, "10s", cfg.Queue.DrainInterval().String())
	assert.Equal(t, "15s", cfg.Alert.Timeout().String())
}

func TestSummaryRedactsSecretsAndFlattensNestedFields(t *testing.T) {
	cfg := Config{
		App:   App{Name: "s2s-edge-client"},
		Peers: PeersConfig{SeedURLs: []string{"http://localhost:8080"}, AuthToken: "super-secret"},
		TLS:   TLSConfig{Enabled: true, KeyFile: "/etc/s2s/key.pem"},
	}

	flat, err := Summary(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "s2s-edge-client", flat["App.Name"])
	assert.NotContains(t, flat, "Peers.AuthToken")
	assert.NotContains(t, flat, "TLS.KeyFile")
}
