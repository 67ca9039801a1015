package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Table transports.
const (
	TransportUDP      = "udp"
	TransportSerial   = "serial"
	TransportLoopback = "loopback"
)

// Wire codecs.
const (
	CodecText  = "text"
	CodecProto = "proto"
	CodecCBOR  = "cbor"
)

// Status policies applied by the controller to incoming responses.
const (
	StatusPolicyForceOK     = "force_ok"
	StatusPolicyPassThrough = "passthrough"
)

// Config is the root configuration structure for GeoModel Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Table     TableConfig     `yaml:"table"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Script    ScriptConfig    `yaml:"script"`
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies the installation (lab, classroom, exhibit).
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// TableConfig selects how the controller reaches the table.
type TableConfig struct {
	// Transport is one of "udp", "serial" or "loopback".
	Transport string `yaml:"transport"`

	// Codec is one of "text", "proto" or "cbor". The table firmware speaks text.
	Codec string `yaml:"codec"`

	// StatusPolicy is "force_ok" (overwrite every incoming status with OK)
	// or "passthrough" (cache the status the table reported).
	StatusPolicy string `yaml:"status_policy"`

	// AutoConnect connects the controller during startup.
	AutoConnect bool `yaml:"auto_connect"`

	// PollInterval is how often the bridge samples the cache for changes.
	PollInterval time.Duration `yaml:"poll_interval"`

	UDP      TableUDPConfig      `yaml:"udp"`
	Serial   TableSerialConfig   `yaml:"serial"`
	Loopback TableLoopbackConfig `yaml:"loopback"`
}

// TableUDPConfig is the datagram endpoint of the table.
type TableUDPConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// TableSerialConfig is the direct serial link used before the table had a
// network interface.
type TableSerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// TableLoopbackConfig configures the in-process null-modem transport.
type TableLoopbackConfig struct {
	// Echo turns every request around as a response.
	Echo bool `yaml:"echo"`
}

// SimulatorConfig configures cmd/tablesim.
type SimulatorConfig struct {
	Port        int           `yaml:"port"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// ScriptConfig points at an optional command script run against the table.
type ScriptConfig struct {
	File      string `yaml:"file"`
	Autostart bool   `yaml:"autostart"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls the response history kept in SQLite.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APIAuthConfig enables bearer token checks on the API. An empty secret
// leaves the API open, which suits a lab network.
type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// Load builds the configuration: built-in defaults, then the YAML file,
// then GEOMODEL_* environment variables. Unknown YAML keys are errors so a
// misspelt setting does not silently fall back to its default.
//
// Parameters:
//   - path: YAML file, e.g. configs/config.yaml
//
// Returns:
//   - *Config: Validated configuration
//   - error: Read, parse, override or validation failure
func Load(path string) (*Config, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	cfg := defaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration with environment overrides
// applied. The CLI tools use it when no config file is given, so a
// malformed numeric variable is skipped rather than fatal.
func Defaults() *Config {
	cfg := defaultConfig()
	_ = applyEnvOverrides(cfg, os.LookupEnv)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "table-001",
			Name: "GeoModel Table",
		},
		Table: TableConfig{
			Transport:    TransportUDP,
			Codec:        CodecText,
			StatusPolicy: StatusPolicyForceOK,
			AutoConnect:  true,
			PollInterval: 250 * time.Millisecond,
			UDP: TableUDPConfig{
				Host:        "127.0.0.1",
				Port:        4000,
				IdleTimeout: 10 * time.Second,
			},
			Serial: TableSerialConfig{
				Port:        "/dev/ttyUSB0",
				Baud:        9600,
				ReadTimeout: time.Second,
			},
			Loopback: TableLoopbackConfig{Echo: true},
		},
		Simulator: SimulatorConfig{
			Port:        4000,
			IdleTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/geomodel.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "geomodel-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// envOverride binds one GEOMODEL_* variable to a field.
type envOverride struct {
	name  string
	apply func(c *Config, v string) error
}

func setString(field func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

var envOverrides = []envOverride{
	{"GEOMODEL_TABLE_TRANSPORT", setString(func(c *Config) *string { return &c.Table.Transport })},
	{"GEOMODEL_TABLE_HOST", setString(func(c *Config) *string { return &c.Table.UDP.Host })},
	{"GEOMODEL_TABLE_PORT", setInt(func(c *Config) *int { return &c.Table.UDP.Port })},
	{"GEOMODEL_TABLE_SERIAL_PORT", setString(func(c *Config) *string { return &c.Table.Serial.Port })},
	{"GEOMODEL_DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"GEOMODEL_MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"GEOMODEL_MQTT_PORT", setInt(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"GEOMODEL_MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"GEOMODEL_MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"GEOMODEL_API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"GEOMODEL_API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},
	{"GEOMODEL_API_JWT_SECRET", setString(func(c *Config) *string { return &c.API.Auth.JWTSecret })},
	{"GEOMODEL_INFLUXDB_TOKEN", setString(func(c *Config) *string { return &c.InfluxDB.Token })},
}

// applyEnvOverrides applies every set, non-empty override. All malformed
// values are reported together.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, o := range envOverrides {
		v, ok := lookup(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", o.name, v, err))
		}
	}
	return errors.Join(errs...)
}

// Validate reports every problem at once, joined with "; ", so an
// operator can fix a file in one pass.
func (c *Config) Validate() error {
	var errs []string
	check := func(bad bool, msg string) {
		if bad {
			errs = append(errs, msg)
		}
	}

	check(c.Site.ID == "", "site.id is required")
	errs = append(errs, c.Table.validate()...)
	check(c.Simulator.Port < 0 || c.Simulator.Port > 65535, "simulator.port must be between 0 and 65535")
	check(c.Database.Path == "", "database.path is required")
	check(c.MQTT.QoS < 0 || c.MQTT.QoS > 2, "mqtt.qos must be 0, 1, or 2")
	check(c.API.Port < 1 || c.API.Port > 65535, "api.port must be between 1 and 65535")
	check(c.InfluxDB.Enabled && c.InfluxDB.URL == "", "influxdb.url is required when influxdb is enabled")

	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

func (t TableConfig) validate() []string {
	var errs []string

	switch t.Transport {
	case TransportUDP:
		if t.UDP.Host == "" {
			errs = append(errs, "table.udp.host is required")
		}
		if t.UDP.Port < 1 || t.UDP.Port > 65535 {
			errs = append(errs, "table.udp.port must be between 1 and 65535")
		}
		if t.UDP.IdleTimeout <= 0 {
			errs = append(errs, "table.udp.idle_timeout must be positive")
		}
	case TransportSerial:
		if t.Serial.Port == "" {
			errs = append(errs, "table.serial.port is required")
		}
		if t.Serial.Baud <= 0 {
			errs = append(errs, "table.serial.baud must be positive")
		}
	case TransportLoopback:
	default:
		errs = append(errs, fmt.Sprintf("table.transport %q must be udp, serial, or loopback", t.Transport))
	}

	switch t.Codec {
	case CodecText, CodecProto, CodecCBOR:
	default:
		errs = append(errs, fmt.Sprintf("table.codec %q must be text, proto, or cbor", t.Codec))
	}

	switch t.StatusPolicy {
	case StatusPolicyForceOK, StatusPolicyPassThrough:
	default:
		errs = append(errs, fmt.Sprintf("table.status_policy %q must be force_ok or passthrough", t.StatusPolicy))
	}

	if t.PollInterval <= 0 {
		errs = append(errs, "table.poll_interval must be positive")
	}

	return errs
}

// ReadTimeout is timeouts.read as a duration. It also bounds header reads.
func (a APIConfig) ReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// WriteTimeout is timeouts.write as a duration.
func (a APIConfig) WriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// IdleTimeout is timeouts.idle as a duration.
func (a APIConfig) IdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}
