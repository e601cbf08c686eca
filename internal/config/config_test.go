package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "visor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
version: 1
logger:
  level: debug
  format: json
engine:
  max_retry: 5
  recognition_deadline: 750ms
reactor:
  rules: rules.yml
  mock: true
  interval: 40ms
  mutex_groups:
    - [front-a, front-b]
mqtt:
  enabled: true
  broker_url: tcp://broker:1883
  controllers:
    pad:
      type: gamepad
      command_topic: visor/controllers/pad/commands
      signals: [press, release]
api:
  port: 9090
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, 5, cfg.Engine.MaxRetry)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.RecognitionDeadline)
	assert.Equal(t, int64(1), cfg.Engine.RecognitionSlots)
	assert.True(t, cfg.Reactor.Mock)
	assert.Equal(t, 40*time.Millisecond, cfg.Reactor.Interval)
	assert.Equal(t, [][]string{{"front-a", "front-b"}}, cfg.Reactor.MutexGroups)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "visor/facts", cfg.MQTT.FactsTopic)
	assert.Equal(t, []string{"press", "release"}, cfg.MQTT.Controllers["pad"].Signals)
	assert.Equal(t, 9090, cfg.API.Port)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "version: 1\n"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, 3, cfg.Engine.MaxRetry)
	assert.Equal(t, 2*time.Second, cfg.Engine.RecognitionDeadline)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "visor", cfg.Postgres.Instance)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VISOR_MQTT_URL", "tcp://from-env:1883")
	t.Setenv(EnvPostgresPassword, "s3cret")

	cfg, err := Load(writeConfig(t, "version: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, "tcp://from-env:1883", cfg.MQTT.BrokerURL)
	assert.Contains(t, cfg.PostgresDSN(), "password=s3cret")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"version", "version: 2\n", "unsupported visor.yaml version: 2"},
		{"yaml", "version: [\n", "failed to parse"},
		{"format", "version: 1\nlogger:\n  format: xml\n", "logger.format"},
		{"controller topic", "version: 1\nmqtt:\n  controllers:\n    pad: {signals: [press]}\n", "command_topic is required"},
		{"port", "version: 1\napi:\n  port: 70000\n", "api.port"},
		{"tls pair", "version: 1\napi:\n  tls_cert: /etc/visor/cert.pem\n", "tls_key must be set together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
