package vdba

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ConnectionConfig describes how to reach a database: the driver that serves
// it, the open mode, and driver-specific options (paths, URLs, credentials).
//
// A ConnectionConfig is immutable. Options are copied on construction and on
// read, so a single template built at startup can be used to create any
// number of independent connections.
type ConnectionConfig struct {
	driver  string
	mode    Mode
	options map[string]string
}

// NewConnectionConfig creates a config for the named driver. The options map
// is copied; later changes to it do not affect the config.
//
// Returns:
//   - ConnectionConfig: The config
//   - error: If driver is empty or mode is invalid
func NewConnectionConfig(driver string, mode Mode, options map[string]string) (ConnectionConfig, error) {
	cfg := ConnectionConfig{
		driver:  driver,
		mode:    mode,
		options: copyOptions(options),
	}
	if err := cfg.Validate(); err != nil {
		return ConnectionConfig{}, err
	}
	return cfg, nil
}

// MustConnectionConfig is like NewConnectionConfig but panics on error.
// Intended for tests and package-level templates.
func MustConnectionConfig(driver string, mode Mode, options map[string]string) ConnectionConfig {
	cfg, err := NewConnectionConfig(driver, mode, options)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks that the config names a driver and a valid mode.
func (c ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.driver) == "" {
		return fmt.Errorf("%w: driver name is required", ErrUsage)
	}
	if !c.mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, string(c.mode))
	}
	return nil
}

// Driver returns the name of the driver that owns this config.
func (c ConnectionConfig) Driver() string {
	return c.driver
}

// Mode returns the open mode.
func (c ConnectionConfig) Mode() Mode {
	return c.mode
}

// Option returns a driver-specific option.
func (c ConnectionConfig) Option(key string) (string, bool) {
	v, ok := c.options[key]
	return v, ok
}

// OptionDefault returns an option or def when it is unset or empty.
func (c ConnectionConfig) OptionDefault(key, def string) string {
	if v, ok := c.options[key]; ok && v != "" {
		return v
	}
	return def
}

// BoolOption parses a boolean option. Unset options yield def.
func (c ConnectionConfig) BoolOption(key string, def bool) (bool, error) {
	v, ok := c.options[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("option %s: %w", key, err)
	}
	return b, nil
}

// IntOption parses an integer option. Unset options yield def.
func (c ConnectionConfig) IntOption(key string, def int) (int, error) {
	v, ok := c.options[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("option %s: %w", key, err)
	}
	return n, nil
}

// DurationOption parses a time.Duration option ("5s", "250ms").
// Unset options yield def.
func (c ConnectionConfig) DurationOption(key string, def time.Duration) (time.Duration, error) {
	v, ok := c.options[key]
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("option %s: %w", key, err)
	}
	return d, nil
}

// Options returns a copy of all driver-specific options.
func (c ConnectionConfig) Options() map[string]string {
	return copyOptions(c.options)
}

// WithOption returns a new config with key set to value. The receiver is
// not modified.
func (c ConnectionConfig) WithOption(key, value string) ConnectionConfig {
	clone := c.Clone()
	if clone.options == nil {
		clone.options = make(map[string]string, 1)
	}
	clone.options[key] = value
	return clone
}

// Clone returns an independent copy with identical values.
func (c ConnectionConfig) Clone() ConnectionConfig {
	return ConnectionConfig{
		driver:  c.driver,
		mode:    c.mode,
		options: copyOptions(c.options),
	}
}

// Equal reports whether two configs have the same driver, mode and options.
func (c ConnectionConfig) Equal(other ConnectionConfig) bool {
	if c.driver != other.driver || c.mode != other.mode || len(c.options) != len(other.options) {
		return false
	}
	for k, v := range c.options {
		if ov, ok := other.options[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Key identifies the target store of this config: the driver name and its
// options in sorted order. The mode is not part of the key, so readonly and
// readwrite connections to the same store share a key.
func (c ConnectionConfig) Key() string {
	keys := make([]string, 0, len(c.options))
	for k := range c.options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(c.driver)
	for _, k := range keys {
		b.WriteByte(';')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(c.options[k])
	}
	return b.String()
}

// String renders the driver and mode only. Options are left out because
// they routinely carry credentials.
func (c ConnectionConfig) String() string {
	return fmt.Sprintf("%s(%s)", c.driver, c.mode)
}

func copyOptions(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
