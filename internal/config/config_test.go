package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, 24*time.Hour, cfg.StaleAfterDuration())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`
storage:
  driver: minio
  minio:
    endpoint: localhost:9000
    bucket: artwork
notifications:
  webhooks:
    - url: http://hooks.local/printflow
      events: [task.validated]
reminders:
  enabled: true
  schedule: "*/30 * * * *"
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data, 0o644))
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "minio", cfg.Storage.Driver)
	assert.Equal(t, "artwork", cfg.Storage.Minio.Bucket)
	require.Len(t, cfg.Notifications.Webhooks, 1)
	assert.True(t, cfg.Notifications.Webhooks[0].Active())
	assert.Equal(t, "/v1", cfg.Server.BasePath)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":   "storage:\n  driver: ftp\n",
		"minio":    "storage:\n  driver: minio\n",
		"webhook":  "notifications:\n  webhooks:\n    - secret: x\n",
		"schedule": "reminders:\n  enabled: true\n  schedule: nope\n",
		"stale":    "reminders:\n  stale_after: soon\n",
		"base":     "server:\n  base_path: v1\n",
		"format":   "logging:\n  format: xml\n",
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(yml))
			assert.Error(t, err)
		})
	}
}

func TestWebhookDisabled(t *testing.T) {
	off := false
	assert.False(t, WebhookConfig{URL: "http://x", Enabled: &off}.Active())
	assert.False(t, WebhookConfig{}.Active())
}
