package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the fragment service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Render    RenderConfig    `mapstructure:"render"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// Log levels accepted by general.log_level.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

func (g GeneralConfig) Normalize() GeneralConfig {
	g.LogLevel = strings.ToLower(strings.TrimSpace(g.LogLevel))
	if g.LogLevel == "" {
		g.LogLevel = LogLevelInfo
	}
	return g
}

func (g GeneralConfig) Validate() error {
	switch g.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	default:
		return fmt.Errorf("general.log_level must be one of debug, info, warn, error, got %q", g.LogLevel)
	}
}

// Verbose reports whether debug-only log lines are written.
func (g GeneralConfig) Verbose() bool {
	return g.Debug || g.LogLevel == LogLevelDebug
}

// LogsClientErrors reports whether 4xx responses are logged. Server errors
// are always logged.
func (g GeneralConfig) LogsClientErrors() bool {
	return g.LogLevel == LogLevelDebug || g.LogLevel == LogLevelInfo
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address      string   `mapstructure:"address"`
	FetchPath    string   `mapstructure:"fetch_path"`
	BodyLimit    string   `mapstructure:"body_limit"`
	AllowOrigins []string `mapstructure:"allow_origins"`
	DocsTitle    string   `mapstructure:"docs_title"`
}

// Normalize applies defaults for unset server values.
func (s ServerConfig) Normalize() ServerConfig {
	s.Address = strings.TrimSpace(s.Address)
	if s.Address == "" {
		s.Address = ":10001"
	} else if !strings.Contains(s.Address, ":") {
		s.Address = ":" + s.Address
	}
	s.FetchPath = strings.TrimSpace(s.FetchPath)
	if s.FetchPath == "" {
		s.FetchPath = "/svg"
	}
	if !strings.HasPrefix(s.FetchPath, "/") {
		s.FetchPath = "/" + s.FetchPath
	}
	if strings.TrimSpace(s.BodyLimit) == "" {
		s.BodyLimit = "2M"
	}
	if len(s.AllowOrigins) == 0 {
		s.AllowOrigins = []string{"*"}
	}
	s.DocsTitle = strings.TrimSpace(s.DocsTitle)
	if s.DocsTitle == "" {
		s.DocsTitle = "svgfrag API"
	}
	return s
}

func (s ServerConfig) Validate() error {
	if strings.HasPrefix(s.FetchPath, "/api/") || s.FetchPath == "/api" {
		return fmt.Errorf("server.fetch_path must not live under /api")
	}
	return nil
}

// Indexer kinds accepted by cache.indexer.
const (
	IndexerDocument = "document"
	IndexerWeak     = "weak"
)

// CacheConfig controls the per-document fragment caches
type CacheConfig struct {
	InitialThreshold int    `mapstructure:"initial_threshold"`
	Indexer          string `mapstructure:"indexer"`
}

func (c CacheConfig) Normalize() CacheConfig {
	if c.InitialThreshold <= 0 {
		c.InitialThreshold = 4
	}
	c.Indexer = strings.ToLower(strings.TrimSpace(c.Indexer))
	if c.Indexer == "" {
		c.Indexer = IndexerDocument
	}
	return c
}

func (c CacheConfig) Validate() error {
	switch c.Indexer {
	case IndexerDocument, IndexerWeak:
		return nil
	default:
		return fmt.Errorf("cache.indexer must be %q or %q, got %q", IndexerDocument, IndexerWeak, c.Indexer)
	}
}

// RenderConfig controls the generated image tags
type RenderConfig struct {
	ImageClass  string `mapstructure:"image_class"`
	PrettyPrint bool   `mapstructure:"pretty_print"`
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && !strings.HasPrefix(t.MetricsPath, "/") {
		return fmt.Errorf("telemetry.metrics_path must start with / when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file and SVGFRAG_* environment variables. A
// missing config file is not an error when no explicit path was given.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("svgfrag")
	v.SetConfigType("json")
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", LogLevelInfo)
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.fetch_path", "/svg")
	v.SetDefault("server.docs_title", "svgfrag API")
	v.SetDefault("server.body_limit", "2M")
	v.SetDefault("cache.initial_threshold", 4)
	v.SetDefault("cache.indexer", IndexerDocument)
	v.SetDefault("render.image_class", "svg-image")
	v.SetDefault("render.pretty_print", true)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.metrics_path", "/metrics")

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(exe))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("SVGFRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.General = cfg.General.Normalize()
	cfg.Server = cfg.Server.Normalize()
	cfg.Cache = cfg.Cache.Normalize()

	if err := cfg.General.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Cache.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
