package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/vdba/internal/vdba"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "VDBA_"

// connEnvPrefix prefixes per-connection option overrides:
// VDBA_CONN_<NAME>_<OPTION>.
const connEnvPrefix = EnvPrefix + "CONN_"

// Config is the root configuration structure for vdba.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Logging     LoggingConfig              `yaml:"logging"`
	Connections map[string]ConnectionEntry `yaml:"connections"`
	Events      EventsConfig               `yaml:"events"`
	Metrics     MetricsConfig              `yaml:"metrics"`
	Watch       WatchConfig                `yaml:"watch"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ConnectionEntry describes one named connection.
type ConnectionEntry struct {
	Driver  string            `yaml:"driver"`
	Mode    string            `yaml:"mode"`
	Options map[string]string `yaml:"options"`
}

// EventsConfig contains MQTT lifecycle event publishing settings.
type EventsConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	TopicPrefix string           `yaml:"topic_prefix"`
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

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// WatchConfig contains settings for the watch command.
type WatchConfig struct {
	// Interval is the time between probes of every connection.
	Interval time.Duration `yaml:"interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern VDBA_SECTION_KEY, plus
// VDBA_CONN_<NAME>_<OPTION> for connection options such as DSNs and tokens.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg, os.Environ())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Events: EventsConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vdba",
			},
			QoS:         1,
			TopicPrefix: "vdba",
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
			Path:   "/metrics",
		},
		Watch: WatchConfig{
			Interval: 30 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides from environ
// (KEY=value pairs, as returned by os.Environ).
func applyEnvOverrides(cfg *Config, environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}

	if v := env["VDBA_LOG_LEVEL"]; v != "" {
		cfg.Logging.Level = v
	}

	// Events
	if v := env["VDBA_MQTT_HOST"]; v != "" {
		cfg.Events.Broker.Host = v
	}
	if v := env["VDBA_MQTT_USERNAME"]; v != "" {
		cfg.Events.Auth.Username = v
	}
	if v := env["VDBA_MQTT_PASSWORD"]; v != "" {
		cfg.Events.Auth.Password = v
	}

	// Metrics
	if v := env["VDBA_METRICS_LISTEN"]; v != "" {
		cfg.Metrics.Listen = v
	}

	// Connection options. Longer names are matched first so that "app" does
	// not capture VDBA_CONN_APP_RO_DSN when "app_ro" exists.
	names := cfg.Names()
	slices.SortFunc(names, func(a, b string) int { return len(b) - len(a) })
	for k, v := range env {
		rest, ok := strings.CutPrefix(k, connEnvPrefix)
		if !ok {
			continue
		}
		for _, name := range names {
			option, ok := strings.CutPrefix(rest, envName(name)+"_")
			if !ok || option == "" {
				continue
			}
			entry := cfg.Connections[name]
			if entry.Options == nil {
				entry.Options = make(map[string]string)
			}
			entry.Options[strings.ToLower(option)] = v
			cfg.Connections[name] = entry
			break
		}
	}
}

// envName converts a connection name to its environment variable form.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if len(c.Connections) == 0 {
		errs = append(errs, "at least one connection is required")
	}
	for _, name := range c.Names() {
		entry := c.Connections[name]
		if strings.TrimSpace(entry.Driver) == "" {
			errs = append(errs, fmt.Sprintf("connections.%s.driver is required", name))
		}
		if _, err := vdba.ParseMode(entry.Mode); err != nil {
			errs = append(errs, fmt.Sprintf("connections.%s.mode must be readonly or readwrite", name))
		}
	}

	if c.Events.Enabled {
		if c.Events.Broker.Host == "" {
			errs = append(errs, "events.broker.host is required")
		}
		if c.Events.Broker.Port < 1 || c.Events.Broker.Port > 65535 {
			errs = append(errs, "events.broker.port must be between 1 and 65535")
		}
		if c.Events.QoS < 0 || c.Events.QoS > 2 {
			errs = append(errs, "events.qos must be 0, 1, or 2")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs = append(errs, "metrics.path must start with /")
		}
	}

	if c.Watch.Interval < time.Second {
		errs = append(errs, "watch.interval must be at least 1s")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Names returns the configured connection names, sorted.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ConnectionConfig returns the vdba config for the named connection.
func (c *Config) ConnectionConfig(name string) (vdba.ConnectionConfig, error) {
	entry, ok := c.Connections[name]
	if !ok {
		return vdba.ConnectionConfig{}, fmt.Errorf("connection %q is not configured", name)
	}
	mode, err := vdba.ParseMode(entry.Mode)
	if err != nil {
		return vdba.ConnectionConfig{}, fmt.Errorf("connection %q: %w", name, err)
	}
	cfg, err := vdba.NewConnectionConfig(entry.Driver, mode, entry.Options)
	if err != nil {
		return vdba.ConnectionConfig{}, fmt.Errorf("connection %q: %w", name, err)
	}
	return cfg, nil
}

// ConnectionConfigs converts every connection entry, keyed by name.
func (c *Config) ConnectionConfigs() (map[string]vdba.ConnectionConfig, error) {
	out := make(map[string]vdba.ConnectionConfig, len(c.Connections))
	for _, name := range c.Names() {
		cfg, err := c.ConnectionConfig(name)
		if err != nil {
			return nil, err
		}
		out[name] = cfg
	}
	return out, nil
}
