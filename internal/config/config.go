// Package config holds the application configuration loaded through viper.
package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	mu       sync.RWMutex
	once     sync.Once
	loadErr  error
)

// Config is the root configuration structure.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Profiles ProfilesConfig `mapstructure:"profiles"`
	Session  SessionConfig  `mapstructure:"session"`
}

// ColorConfig maps log levels to console color names.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// ProfilesConfig selects the profile layers and where they are read from.
// Dir, PostgresURL and SQLitePath are alternatives; the embedded defaults
// are used when none is set.
type ProfilesConfig struct {
	Dir         string   `mapstructure:"dir"`
	PostgresURL string   `mapstructure:"postgres_url"`
	SQLitePath  string   `mapstructure:"sqlite_path"`
	Base        string   `mapstructure:"base"`
	Browser     string   `mapstructure:"browser"`
	Sites       []string `mapstructure:"sites"`
	Bundles     []string `mapstructure:"bundles"`
}

// SessionConfig holds settings for script sessions.
type SessionConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "hostenv")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("profiles.base", "ecma_standard")
	v.SetDefault("profiles.browser", "chrome_120")
	v.SetDefault("profiles.sites", []string{})
	v.SetDefault("profiles.bundles", []string{})

	v.SetDefault("session.url", "about:blank")
	v.SetDefault("session.timeout", 30*time.Second)
}

// Validate checks the fields the rest of the application relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.Profiles.Base == "" {
		errs = append(errs, errors.New("profiles.base must be set"))
	}
	if c.Session.Timeout <= 0 {
		errs = append(errs, errors.New("session.timeout must be positive"))
	}
	if c.Profiles.PostgresURL != "" && c.Profiles.SQLitePath != "" {
		errs = append(errs, errors.New("profiles.postgres_url and profiles.sqlite_path are mutually exclusive"))
	}
	return errors.Join(errs...)
}

// New unmarshals and validates the configuration held by v.
func New(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load initializes the configuration singleton from Viper. Only the first
// call has any effect.
func Load(v *viper.Viper) error {
	once.Do(func() {
		cfg, err := New(v)
		if err != nil {
			loadErr = err
			return
		}
		Set(cfg)
	})
	return loadErr
}

// Set replaces the configuration instance.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
