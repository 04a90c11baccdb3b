package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix prefixes every environment variable override.
const envPrefix = "MQTTSESSION_"

// Config is the root configuration structure for mqttsession.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Logging  LoggingConfig  `yaml:"logging"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Journal  JournalConfig  `yaml:"journal"`
}

// MQTTConfig contains MQTT broker connection and session settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Session   MQTTSessionConfig   `yaml:"session"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	RateLimit MQTTRateLimitConfig `yaml:"rate_limit"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // 0 selects 1883, or 8883 with TLS
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`

	// CACert is the PEM bundle trusted for TLS. Required iff TLS is set.
	CACert        string `yaml:"ca_cert"`
	AcceptBadCert bool   `yaml:"accept_bad_cert"`
	WebSocket     bool   `yaml:"websocket"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTSessionConfig contains session timing settings.
type MQTTSessionConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	WaiterGrace    time.Duration `yaml:"waiter_grace"`
	ReconnectGrace time.Duration `yaml:"reconnect_grace"`
	AutoReconnect  bool          `yaml:"auto_reconnect"`
	Logging        bool          `yaml:"logging"`
}

// MQTTReconnectConfig contains the reconnect circuit breaker settings.
// A zero FailureThreshold disables the breaker.
type MQTTReconnectConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// MQTTRateLimitConfig limits outgoing publishes. Zero disables the limit.
type MQTTRateLimitConfig struct {
	PublishesPerSecond float64 `yaml:"publishes_per_second"`
	Burst              int     `yaml:"burst"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text or console
	Output string `yaml:"output"`
}

// InfluxDBConfig contains InfluxDB connection settings for session telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// JournalConfig contains the SQLite message journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTTSESSION_SECTION_KEY
// For example: MQTTSESSION_MQTT_HOST, MQTTSESSION_JOURNAL_PATH
//
// An empty path skips the file and uses defaults plus environment.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
			},
			QoS: 1,
			Session: MQTTSessionConfig{
				Timeout:        10 * time.Second,
				WaiterGrace:    500 * time.Millisecond,
				ReconnectGrace: time.Second,
				Logging:        true,
			},
			Reconnect: MQTTReconnectConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Journal: JournalConfig{
			Path:        "./data/mqttsession.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTSESSION_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv(envPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv(envPrefix + "MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv(envPrefix + "MQTT_CA_CERT"); v != "" {
		cfg.MQTT.Broker.CACert = v
	}
	if v := os.Getenv(envPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Logging
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// InfluxDB
	if v := os.Getenv(envPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Journal
	if v := os.Getenv(envPrefix + "JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	b := c.MQTT.Broker
	if b.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if b.Port < 0 || b.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 0 and 65535")
	}
	if b.TLS && b.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required when tls is enabled")
	}
	if b.TLS && b.CACert == "" {
		errs = append(errs, "mqtt.broker.ca_cert is required when tls is enabled")
	}
	if !b.TLS && b.CACert != "" {
		errs = append(errs, "mqtt.broker.ca_cert is only valid when tls is enabled")
	}
	if (c.MQTT.Auth.Username == "") != (c.MQTT.Auth.Password == "") {
		errs = append(errs, "mqtt.auth.username and mqtt.auth.password must be set together")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Session.Timeout < 0 {
		errs = append(errs, "mqtt.session.timeout must not be negative")
	}
	if c.MQTT.RateLimit.PublishesPerSecond < 0 || c.MQTT.RateLimit.Burst < 0 {
		errs = append(errs, "mqtt.rate_limit values must not be negative")
	}

	// Logging validation
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text", "console":
	default:
		errs = append(errs, "logging.format must be json, text, or console")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
