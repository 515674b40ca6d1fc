package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport selection values for DeviceConfig.Transport.
const (
	TransportAuto  = "auto"
	TransportLocal = "local"
	TransportCloud = "cloud"
)

// Config is the root configuration structure for the Roborock bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Account  AccountConfig  `yaml:"account"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Local    LocalConfig    `yaml:"local"`
	Requests RequestsConfig `yaml:"requests"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// BridgeConfig contains bridge identity settings.
type BridgeConfig struct {
	ID string `yaml:"id"`
}

// AccountConfig holds the account-level rriot secrets returned by the
// login API. They are used to derive broker credentials and the session
// endpoint id.
type AccountConfig struct {
	// UserID is the rriot "u" value; it is also the account id in topics.
	UserID string `yaml:"user_id"`

	// Secret is the rriot "s" value.
	// WARNING: Never log this value.
	Secret string `yaml:"secret"`

	// HMACKey is the rriot "h" value, kept for the HTTP API collaborator.
	HMACKey string `yaml:"hmac_key"`

	// Key is the rriot "k" value.
	// WARNING: Never log this value.
	Key string `yaml:"key"`

	// MQTTURL is the broker address from rriot "r.m", e.g. "ssl://mqtt-eu-3.roborock.com:8883".
	MQTTURL string `yaml:"mqtt_url"`
}

// Enabled reports whether cloud credentials are present.
func (a AccountConfig) Enabled() bool {
	return a.UserID != "" && a.Secret != "" && a.Key != "" && a.MQTTURL != ""
}

// String returns a string representation with secrets masked.
func (a AccountConfig) String() string {
	return fmt.Sprintf("AccountConfig{UserID:%q, Secret:%s, HMACKey:%s, Key:%s, MQTTURL:%q}",
		a.UserID, redact(a.Secret), redact(a.HMACKey), redact(a.Key), a.MQTTURL)
}

// MarshalJSON implements json.Marshaler to redact secrets in JSON output.
func (a AccountConfig) MarshalJSON() ([]byte, error) {
	type redacted AccountConfig
	safe := redacted(a)
	safe.Secret = redact(safe.Secret)
	safe.HMACKey = redact(safe.HMACKey)
	safe.Key = redact(safe.Key)
	return json.Marshal(safe)
}

// MQTTConfig contains broker session settings. The broker address and
// credentials come from AccountConfig.
type MQTTConfig struct {
	QoS            int                 `yaml:"qos"`
	KeepAlive      int                 `yaml:"keep_alive"`
	ConnectTimeout int                 `yaml:"connect_timeout"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// LocalConfig contains local-network socket settings.
type LocalConfig struct {
	Port             int `yaml:"port"`
	ConnectTimeout   int `yaml:"connect_timeout"`
	WriteTimeout     int `yaml:"write_timeout"`
	PingInterval     int `yaml:"ping_interval"`
	WatchdogInterval int `yaml:"watchdog_interval"`
}

// RequestsConfig contains synchronous call settings.
type RequestsConfig struct {
	// Timeout bounds how long a Get waits for a reply (seconds).
	Timeout int `yaml:"timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DeviceConfig seeds one device into the registry.
type DeviceConfig struct {
	DUID            string `yaml:"duid"`
	Name            string `yaml:"name"`
	Model           string `yaml:"model"`
	LocalKey        string `yaml:"local_key"`
	ProtocolVersion string `yaml:"protocol_version"`
	LocalIP         string `yaml:"local_ip"`

	// Transport is "auto" (local when local_ip is set), "local" or "cloud".
	Transport string `yaml:"transport"`
}

// String returns a string representation with the local key masked.
func (d DeviceConfig) String() string {
	return fmt.Sprintf("DeviceConfig{DUID:%q, Name:%q, LocalKey:%s, ProtocolVersion:%q, LocalIP:%q, Transport:%q}",
		d.DUID, d.Name, redact(d.LocalKey), d.ProtocolVersion, d.LocalIP, d.Transport)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ROBOROCK_SECTION_KEY
// For example: ROBOROCK_DATABASE_PATH, ROBOROCK_ACCOUNT_SECRET
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID: "roborock-bridge-01",
		},
		MQTT: MQTTConfig{
			QoS:            1,
			KeepAlive:      60,
			ConnectTimeout: 10,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Local: LocalConfig{
			Port:             58867,
			ConnectTimeout:   10,
			WriteTimeout:     5,
			PingInterval:     5,
			WatchdogInterval: 3600,
		},
		Requests: RequestsConfig{
			Timeout: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/roborock.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ROBOROCK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Account secrets are expected to come from the environment in production.
	if v := os.Getenv("ROBOROCK_ACCOUNT_USER_ID"); v != "" {
		cfg.Account.UserID = v
	}
	if v := os.Getenv("ROBOROCK_ACCOUNT_SECRET"); v != "" {
		cfg.Account.Secret = v
	}
	if v := os.Getenv("ROBOROCK_ACCOUNT_HMAC_KEY"); v != "" {
		cfg.Account.HMACKey = v
	}
	if v := os.Getenv("ROBOROCK_ACCOUNT_KEY"); v != "" {
		cfg.Account.Key = v
	}
	if v := os.Getenv("ROBOROCK_ACCOUNT_MQTT_URL"); v != "" {
		cfg.Account.MQTTURL = v
	}

	// Database
	if v := os.Getenv("ROBOROCK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("ROBOROCK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("ROBOROCK_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Local.Port < 1 || c.Local.Port > 65535 {
		errs = append(errs, "local.port must be between 1 and 65535")
	}
	if c.Local.PingInterval < 1 {
		errs = append(errs, "local.ping_interval must be at least 1 second")
	}
	if c.Local.WatchdogInterval < 1 {
		errs = append(errs, "local.watchdog_interval must be at least 1 second")
	}
	if c.Requests.Timeout < 1 {
		errs = append(errs, "requests.timeout must be at least 1 second")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateDevices validates device seeds.
func (c *Config) validateDevices() []string {
	var errs []string
	seen := make(map[string]bool)

	for i, d := range c.Devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if d.DUID == "" {
			errs = append(errs, prefix+".duid is required")
		} else if seen[d.DUID] {
			errs = append(errs, fmt.Sprintf("%s.duid %q is duplicated", prefix, d.DUID))
		}
		seen[d.DUID] = true

		if d.LocalKey == "" {
			errs = append(errs, prefix+".local_key is required")
		}

		switch d.Transport {
		case "", TransportAuto:
		case TransportLocal:
			if d.LocalIP == "" {
				errs = append(errs, prefix+".local_ip is required for local transport")
			}
		case TransportCloud:
			if !c.Account.Enabled() {
				errs = append(errs, prefix+" uses cloud transport but account credentials are incomplete")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.transport %q must be auto, local or cloud", prefix, d.Transport))
		}
	}
	return errs
}

// GetRequestTimeout returns the Get reply timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Requests.Timeout) * time.Second
}

// GetPingInterval returns the local keep-alive interval as a Duration.
func (c *Config) GetPingInterval() time.Duration {
	return time.Duration(c.Local.PingInterval) * time.Second
}

// GetWatchdogInterval returns the local reconnect watchdog interval as a Duration.
func (c *Config) GetWatchdogInterval() time.Duration {
	return time.Duration(c.Local.WatchdogInterval) * time.Second
}
