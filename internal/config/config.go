package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the visor.yaml layout.
type Config struct {
	Version  int            `yaml:"version"`
	Logger   LoggerConfig   `yaml:"logger"`
	Engine   EngineConfig   `yaml:"engine"`
	Reactor  ReactorConfig  `yaml:"reactor"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Postgres PostgresConfig `yaml:"postgres"`
	API      APIConfig      `yaml:"api"`
}

// LoggerConfig controls zap output and file rotation.
type LoggerConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	ServiceName string `yaml:"service_name"`
	AddSource   bool   `yaml:"add_source"`
	LogFile     string `yaml:"log_file"`
	MaxSize     int    `yaml:"max_size"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAge      int    `yaml:"max_age"`
	Compress    bool   `yaml:"compress"`
}

// EngineConfig holds operation graph defaults.
type EngineConfig struct {
	MaxRetry            int           `yaml:"max_retry"`
	RecognitionDeadline time.Duration `yaml:"recognition_deadline"`
	RecognitionSlots    int64         `yaml:"recognition_slots"`
}

// ReactorConfig points at the rules file and tunes the reactive loop.
type ReactorConfig struct {
	Rules string `yaml:"rules"`
	Mock  bool   `yaml:"mock"`
	// Interval overrides the untagged scene interval from the rules file.
	Interval    time.Duration `yaml:"interval"`
	MutexGroups [][]string    `yaml:"mutex_groups"`
}

// MQTTConfig configures fact ingestion and controller commands.
type MQTTConfig struct {
	Enabled       bool                        `yaml:"enabled"`
	BrokerURL     string                      `yaml:"broker_url"`
	ClientID      string                      `yaml:"client_id"`
	Username      string                      `yaml:"username"`
	Password      string                      `yaml:"-"`
	FactsTopic    string                      `yaml:"facts_topic"`
	RegisterTopic string                      `yaml:"register_topic"`
	Timeout       time.Duration               `yaml:"timeout"`
	Controllers   map[string]ControllerConfig `yaml:"controllers"`
}

// ControllerConfig declares a controller known before it registers.
type ControllerConfig struct {
	Type         string   `yaml:"type"`
	CommandTopic string   `yaml:"command_topic"`
	Signals      []string `yaml:"signals"`
	Required     bool     `yaml:"required"`
}

// PostgresConfig configures the telemetry archive.
type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	// Instance labels archived rows so engines can share a database.
	Instance string `yaml:"instance"`
}

// APIConfig configures the read-only telemetry server.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
	// User enables basic auth on everything but /health when the password
	// secret is also set.
	User     string `yaml:"user"`
	Password string `yaml:"-"`
	TLSCert  string `yaml:"tls_cert"`
	TLSKey   string `yaml:"tls_key"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}

// Load reads path, applies defaults and environment overrides, and resolves
// secrets.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported visor.yaml version: %d", cfg.Version)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.ResolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "console"
	}
	if c.Logger.ServiceName == "" {
		c.Logger.ServiceName = "visor"
	}
	if c.Logger.MaxSize == 0 {
		c.Logger.MaxSize = 50
	}
	if c.Engine.MaxRetry == 0 {
		c.Engine.MaxRetry = 3
	}
	if c.Engine.RecognitionDeadline == 0 {
		c.Engine.RecognitionDeadline = 2 * time.Second
	}
	if c.Engine.RecognitionSlots == 0 {
		c.Engine.RecognitionSlots = 1
	}
	if c.MQTT.BrokerURL == "" {
		c.MQTT.BrokerURL = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "visor-engine"
	}
	if c.MQTT.FactsTopic == "" {
		c.MQTT.FactsTopic = "visor/facts"
	}
	if c.MQTT.RegisterTopic == "" {
		c.MQTT.RegisterTopic = "visor/controllers/register"
	}
	if c.MQTT.Timeout == 0 {
		c.MQTT.Timeout = 10 * time.Second
	}
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.User == "" {
		c.Postgres.User = "visor"
	}
	if c.Postgres.DBName == "" {
		c.Postgres.DBName = "visor"
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.Instance == "" {
		c.Postgres.Instance = c.Logger.ServiceName
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

func (c *Config) applyEnv() {
	if url := os.Getenv("VISOR_MQTT_URL"); url != "" {
		c.MQTT.BrokerURL = url
	}
	if host := os.Getenv("VISOR_PG_HOST"); host != "" {
		c.Postgres.Host = host
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format)
	}
	if c.Engine.MaxRetry < 0 {
		return fmt.Errorf("engine.max_retry must not be negative")
	}
	if c.Engine.RecognitionSlots < 1 {
		return fmt.Errorf("engine.recognition_slots must be at least 1")
	}
	if c.Reactor.Interval < 0 {
		return fmt.Errorf("reactor.interval must not be negative")
	}
	for name, ctrl := range c.MQTT.Controllers {
		if ctrl.CommandTopic == "" {
			return fmt.Errorf("mqtt.controllers.%s: command_topic is required", name)
		}
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if (c.API.TLSCert == "") != (c.API.TLSKey == "") {
		return fmt.Errorf("api.tls_cert and api.tls_key must be set together")
	}
	return nil
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	p := c.Postgres
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}
