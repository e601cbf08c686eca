package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSecret(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolveSecret_EnvOnly(t *testing.T) {
	t.Setenv("TEST_SECRET_ENV_ONLY", "env-value")

	value, err := ResolveSecret("TEST_SECRET_ENV_ONLY")
	require.NoError(t, err)
	assert.Equal(t, "env-value", value)
}

func TestResolveSecret_FileOnly(t *testing.T) {
	t.Setenv("TEST_SECRET_FILE_ONLY_FILE", writeSecret(t, "file-value\n"))

	value, err := ResolveSecret("TEST_SECRET_FILE_ONLY")
	require.NoError(t, err)
	assert.Equal(t, "file-value", value)
}

func TestResolveSecret_FileWinsOverEnv(t *testing.T) {
	t.Setenv("TEST_SECRET_FILE_WINS", "env-value")
	t.Setenv("TEST_SECRET_FILE_WINS_FILE", writeSecret(t, "file-value"))

	value, err := ResolveSecret("TEST_SECRET_FILE_WINS")
	require.NoError(t, err)
	assert.Equal(t, "file-value", value)
}

func TestResolveSecret_Neither(t *testing.T) {
	value, err := ResolveSecret("TEST_SECRET_UNSET_ANYWHERE")
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestResolveSecret_MissingFile(t *testing.T) {
	t.Setenv("TEST_SECRET_MISSING_FILE", filepath.Join(t.TempDir(), "nope"))

	_, err := ResolveSecret("TEST_SECRET_MISSING")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_SECRET_MISSING_FILE")
}

func TestResolveSecrets_FillsPasswords(t *testing.T) {
	t.Setenv(EnvMQTTPassword, "broker-pw")
	t.Setenv(EnvPostgresPassword+"_FILE", writeSecret(t, " pg-pw \n"))
	t.Setenv(EnvAPIPassword, "api-pw")

	cfg := Default()
	require.NoError(t, cfg.ResolveSecrets())
	assert.Equal(t, "broker-pw", cfg.MQTT.Password)
	assert.Equal(t, "pg-pw", cfg.Postgres.Password)
	assert.Equal(t, "api-pw", cfg.API.Password)
}
