// Package config loads syncq settings with viper.
//
// Precedence, lowest first: built-in defaults, the config file
// (.syncq/syncq.yaml or syncq.toml, or the --config path), SYNCQ_*
// environment variables, then command-line flags bound with BindFlag.
// Nested keys map to environment variables with dots replaced by
// underscores: sync.max_attempts is SYNCQ_SYNC_MAX_ATTEMPTS.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/invtrack/syncq/internal/mutation"
)

// DirName is the per-project directory holding the queue and config file.
const DirName = ".syncq"

// Config is the effective configuration.
type Config struct {
	DB        DBConfig        `mapstructure:"db" yaml:"db" toml:"db"`
	Remote    RemoteConfig    `mapstructure:"remote" yaml:"remote" toml:"remote"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync" toml:"sync"`
	Conflict  ConflictConfig  `mapstructure:"conflict" yaml:"conflict" toml:"conflict"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard" toml:"dashboard"`
	Log       LogConfig       `mapstructure:"log" yaml:"log" toml:"log"`
}

type DBConfig struct {
	Path string `mapstructure:"path" yaml:"path" toml:"path"`
}

type RemoteConfig struct {
	// BaseURL of the inventory API. Empty runs against an in-process
	// server, which is only useful for demos.
	BaseURL string        `mapstructure:"base_url" yaml:"base_url" toml:"base_url"`
	Token   string        `mapstructure:"token" yaml:"token,omitempty" toml:"token,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" toml:"timeout"`
}

type SyncConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff" toml:"max_backoff"`
	Jitter         float64       `mapstructure:"jitter" yaml:"jitter" toml:"jitter"`
	PurgeTTL       time.Duration `mapstructure:"purge_ttl" yaml:"purge_ttl" toml:"purge_ttl"`
	PurgeInterval  time.Duration `mapstructure:"purge_interval" yaml:"purge_interval" toml:"purge_interval"`
	PingInterval   time.Duration `mapstructure:"ping_interval" yaml:"ping_interval" toml:"ping_interval"`
}

type ConflictConfig struct {
	// CriticalFields overrides the fields checked per entity type. Entity
	// types not listed keep their defaults.
	CriticalFields map[string][]string `mapstructure:"critical_fields" yaml:"critical_fields,omitempty" toml:"critical_fields,omitempty"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port" yaml:"port" toml:"port"`
}

type LogConfig struct {
	// File enables a rotating log file in addition to stderr.
	File       string `mapstructure:"file" yaml:"file,omitempty" toml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" toml:"max_age_days"`
}

// Loader wraps a viper instance configured for syncq.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader with defaults and environment binding set up.
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SYNCQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	dir := DirName
	if found := FindDir(); found != "" {
		dir = found
	}
	v.SetDefault("db.path", filepath.Join(dir, "queue.db"))
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.initial_backoff", 2*time.Second)
	v.SetDefault("sync.max_backoff", 30*time.Second)
	v.SetDefault("sync.jitter", 0.2)
	v.SetDefault("sync.purge_ttl", 7*24*time.Hour)
	v.SetDefault("sync.purge_interval", time.Hour)
	v.SetDefault("sync.ping_interval", 15*time.Second)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads the config file, if any. An explicit path must exist; without
// one the loader looks for syncq.{yaml,toml} in .syncq/ and the working
// directory and carries on with defaults when none is found.
func (l *Loader) Load(path string) error {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return nil
	}

	l.v.SetConfigName("syncq")
	if found := FindDir(); found != "" {
		l.v.AddConfigPath(found)
	}
	l.v.AddConfigPath(DirName)
	l.v.AddConfigPath(".")
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// ConfigFile returns the file that was read, or "" if none was.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// BindFlag makes flag override key when it is set on the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag for config key %s", key)
	}
	if err := l.v.BindPFlag(key, flag); err != nil {
		return fmt.Errorf("failed to bind flag --%s: %w", flag.Name, err)
	}
	return nil
}

// Set overrides key for the rest of the process.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Config decodes and validates the effective configuration.
func (l *Loader) Config() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and the critical field overrides.
func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1 (got %d)", c.Sync.MaxAttempts)
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > 1 {
		return fmt.Errorf("sync.jitter must be between 0 and 1 (got %v)", c.Sync.Jitter)
	}
	if c.Sync.InitialBackoff > c.Sync.MaxBackoff {
		return fmt.Errorf("sync.initial_backoff (%v) exceeds sync.max_backoff (%v)", c.Sync.InitialBackoff, c.Sync.MaxBackoff)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	for et := range c.Conflict.CriticalFields {
		if !mutation.EntityType(et).IsValid() {
			return fmt.Errorf("conflict.critical_fields: unknown entity type %q", et)
		}
	}
	return nil
}

// CriticalFields converts the override map for conflict.NewDetector.
func (c *Config) CriticalFields() map[mutation.EntityType][]string {
	if len(c.Conflict.CriticalFields) == 0 {
		return nil
	}
	out := make(map[mutation.EntityType][]string, len(c.Conflict.CriticalFields))
	for et, fields := range c.Conflict.CriticalFields {
		out[mutation.EntityType(et)] = fields
	}
	return out
}

// Format names an output encoding for Render.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Render encodes the configuration. The remote token is masked.
func (c *Config) Render(format Format) ([]byte, error) {
	shown := *c
	if shown.Remote.Token != "" {
		shown.Remote.Token = "********"
	}

	switch format {
	case FormatYAML, "":
		out, err := yaml.Marshal(&shown)
		if err != nil {
			return nil, fmt.Errorf("failed to encode YAML: %w", err)
		}
		return out, nil
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(shown); err != nil {
			return nil, fmt.Errorf("failed to encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want yaml or toml)", format)
	}
}

// FindDir walks up from the working directory looking for a .syncq
// directory, so commands run from a subdirectory use the project's queue. It
// returns "" when there is none.
func FindDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
