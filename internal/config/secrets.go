package config

import (
	"fmt"
	"os"
	"strings"
)

// Secret environment variables. Each also accepts a *_FILE variant.
const (
	EnvMQTTPassword     = "VISOR_MQTT_PASSWORD"
	EnvPostgresPassword = "VISOR_PG_PASSWORD"
	EnvAPIPassword      = "VISOR_API_PASSWORD"
)

// ResolveSecret reads a secret value using the *_FILE convention.
// If envName+"_FILE" is set, the secret is read from that file and trimmed.
// Otherwise the value of envName is returned, possibly empty.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

// ResolveSecrets fills the password fields. Secrets never come from the
// YAML file itself.
func (c *Config) ResolveSecrets() error {
	pw, err := ResolveSecret(EnvMQTTPassword)
	if err != nil {
		return err
	}
	c.MQTT.Password = pw

	pw, err = ResolveSecret(EnvPostgresPassword)
	if err != nil {
		return err
	}
	c.Postgres.Password = pw

	pw, err = ResolveSecret(EnvAPIPassword)
	if err != nil {
		return err
	}
	c.API.Password = pw
	return nil
}
