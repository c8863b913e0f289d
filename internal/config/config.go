package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key when read from the environment.
const EnvPrefix = "CODEX"

// Configuration keys. With EnvPrefix they map to CODEX_MODEL, CODEX_TIMEOUT, ...
const (
	KeyModel    = "model"
	KeyTimeout  = "timeout"
	KeyBinary   = "bin"
	KeyLogLevel = "log_level"
	KeyEventLog = "event_log"
)

const (
	DefaultModel       = "gpt-5.1"
	DefaultBinary      = "codex"
	DefaultTimeout     = 7200 * time.Second
	DefaultGracePeriod = 5 * time.Second
	DefaultLogLevel    = "info"

	// MillisecondThreshold separates the two units accepted for the timeout:
	// larger values are milliseconds, smaller or equal values are seconds.
	MillisecondThreshold = 10000

	// MaxTimeout is the longest representable timeout.
	MaxTimeout time.Duration = math.MaxInt64
)

// Config is the resolved runtime configuration. It is built once at startup
// and passed down; nothing below the CLI reads the environment.
type Config struct {
	Model        string
	Binary       string
	Timeout      time.Duration
	GracePeriod  time.Duration
	LogLevel     string
	EventLogPath string
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Model:       DefaultModel,
		Binary:      DefaultBinary,
		Timeout:     DefaultTimeout,
		GracePeriod: DefaultGracePeriod,
		LogLevel:    DefaultLogLevel,
	}
}

// NewViper returns a viper instance with defaults registered and the
// CODEX_* environment bound.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault(KeyModel, DefaultModel)
	v.SetDefault(KeyBinary, DefaultBinary)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyTimeout, "")
	v.SetDefault(KeyEventLog, "")
	return v
}

// LoadFile merges an optional config file (YAML, TOML or JSON, chosen by
// extension) into v. Environment variables and bound flags still take precedence.
func LoadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// Load resolves a Config from v. Values that cannot be used fall back to
// their defaults; each fallback is described in the returned warnings so the
// caller can log them once a logger exists.
func Load(v *viper.Viper) (*Config, []string) {
	cfg := Default()
	var warnings []string

	if model := strings.TrimSpace(v.GetString(KeyModel)); model != "" {
		cfg.Model = model
	}
	if bin := strings.TrimSpace(v.GetString(KeyBinary)); bin != "" {
		cfg.Binary = bin
	}
	if level := strings.TrimSpace(v.GetString(KeyLogLevel)); level != "" {
		cfg.LogLevel = level
	}
	cfg.EventLogPath = strings.TrimSpace(v.GetString(KeyEventLog))

	timeout, err := ResolveTimeout(v.GetString(KeyTimeout))
	if err != nil {
		warnings = append(warnings, err.Error())
	}
	cfg.Timeout = timeout

	return cfg, warnings
}

// ResolveTimeout interprets a raw timeout value. Empty means the default.
// Values above MillisecondThreshold are milliseconds, the rest are seconds.
// Non-numeric or non-positive input returns the default together with an
// error describing the fallback. Positive values too large for a
// time.Duration are clamped to MaxTimeout.
func ResolveTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultTimeout, nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if errors.Is(err, strconv.ErrRange) && n > 0 {
		return MaxTimeout, nil
	}
	if err != nil || n <= 0 {
		return DefaultTimeout, fmt.Errorf("invalid %s_TIMEOUT %q, falling back to %s", EnvPrefix, raw, DefaultTimeout)
	}

	unit := time.Second
	if n > MillisecondThreshold {
		unit = time.Millisecond
	}
	if n > int64(MaxTimeout/unit) {
		return MaxTimeout, nil
	}
	return time.Duration(n) * unit, nil
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("configuration error: empty model\n\nHint: unset %s_MODEL to use %q", EnvPrefix, DefaultModel)
	}
	if strings.TrimSpace(c.Binary) == "" {
		return fmt.Errorf("configuration error: empty agent binary\n\nHint: unset %s_BIN to use %q from PATH", EnvPrefix, DefaultBinary)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("configuration error: timeout must be positive, got %s", c.Timeout)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("configuration error: grace period must be positive, got %s", c.GracePeriod)
	}
	if _, _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("configuration error: %w\n\nHint: use one of debug, info, warn, error", err)
	}
	return nil
}
