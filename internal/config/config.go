package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/runstats/internal/collector"
	"github.com/loykin/runstats/internal/document"
	"github.com/loykin/runstats/internal/history"
	"github.com/loykin/runstats/internal/history/factory"
	"github.com/loykin/runstats/internal/logger"
	itls "github.com/loykin/runstats/internal/tls"
)

// EnvPrefix is the prefix of environment overrides, e.g. RUNSTATS_SERVER_LISTEN.
const EnvPrefix = "RUNSTATS"

// Config represents the top-level TOML structure.
type Config struct {
	Statistics StatisticsConfig `toml:"statistics" mapstructure:"statistics"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
}

type StatisticsConfig struct {
	Path          string        `toml:"path" mapstructure:"path"`
	Format        string        `toml:"format" mapstructure:"format"`
	MinWriteDelay time.Duration `toml:"min_write_delay" mapstructure:"min_write_delay"`
	FlushSchedule string        `toml:"flush_schedule" mapstructure:"flush_schedule"`
}

type ServerConfig struct {
	Listen   string      `toml:"listen" mapstructure:"listen"`
	BasePath string      `toml:"base_path" mapstructure:"base_path"`
	TLS      itls.Config `toml:"tls" mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("statistics.path", "statistics.xml")
	v.SetDefault("statistics.format", "xml")
	v.SetDefault("statistics.min_write_delay", "30s")
	v.SetDefault("statistics.flush_schedule", "@every 30s")
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.sinks", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 0)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", false)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration used when no file is given. Environment
// overrides still apply.
func Default() (*Config, error) {
	return decode(newViper())
}

// Load reads a TOML file, applies defaults and RUNSTATS_* overrides, and validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// comma separated list from the environment
	if len(c.History.Sinks) == 1 && strings.Contains(c.History.Sinks[0], ",") {
		c.History.Sinks = splitList(c.History.Sinks[0])
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks cross-field constraints that decoding alone does not catch.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Statistics.Path) == "" {
		errs = append(errs, errors.New("statistics.path is required"))
	}
	if _, err := document.CodecByName(c.Statistics.Format); err != nil {
		errs = append(errs, fmt.Errorf("statistics.format: %w", err))
	}
	if c.Statistics.MinWriteDelay < 0 {
		errs = append(errs, errors.New("statistics.min_write_delay must not be negative"))
	}
	if c.Statistics.FlushSchedule != "" {
		if err := collector.ValidateSchedule(c.Statistics.FlushSchedule); err != nil {
			errs = append(errs, fmt.Errorf("statistics.flush_schedule: %w", err))
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with '/'", c.Server.BasePath))
	}
	if err := c.Server.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server.%w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logger.FormatText, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	for _, dsn := range c.History.Sinks {
		if strings.TrimSpace(dsn) == "" {
			errs = append(errs, errors.New("history.sinks contains an empty DSN"))
		}
	}
	return errors.Join(errs...)
}

// Codec returns the document codec selected by statistics.format.
func (c *Config) Codec() document.Codec {
	codec, err := document.CodecByName(c.Statistics.Format)
	if err != nil {
		return document.XML{}
	}
	return codec
}

// Logger converts the [log] section to a logger configuration.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		Color:      c.Log.Color,
		TimeStamps: c.Log.TimeStamps,
		File: logger.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// OpenSinks opens every configured history sink. On failure the sinks opened
// so far are closed.
func (c *Config) OpenSinks() ([]history.Sink, error) {
	sinks := make([]history.Sink, 0, len(c.History.Sinks))
	for _, dsn := range c.History.Sinks {
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			CloseSinks(sinks)
			return nil, fmt.Errorf("history sink %q: %w", redact(dsn), err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// CloseSinks closes every sink that has a Close method.
func CloseSinks(sinks []history.Sink) {
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// redact hides credentials in a DSN for error messages.
func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}
