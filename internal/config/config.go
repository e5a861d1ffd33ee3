// Package config provides configuration management for the file server.
// It handles YAML or TOML configuration files layered over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Sentinel errors for configuration validation
var (
	ErrAddrRequired      = errors.New("server address is required")
	ErrAddrInvalid       = errors.New("server address must be host:port with a numeric port")
	ErrRootRequired      = errors.New("root directory is required")
	ErrRawParamRequired  = errors.New("raw query parameter name is required")
	ErrInvalidLogLevel   = errors.New("log level must be one of debug, info, warn, error")
	ErrInvalidLogFormat  = errors.New("log format must be json or text")
	ErrUnsupportedFormat = errors.New("unsupported config file extension")
)

const (
	DefaultAddr     = "127.0.0.1:8080"
	DefaultRoot     = "."
	DefaultRawParam = "raw"
	DefaultTheme    = "dracula"
)

// Config represents the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Highlight HighlightConfig `yaml:"highlight" toml:"highlight"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	AccessLog AccessLogConfig `yaml:"access_log" toml:"access_log"`
}

// ServerConfig holds the listener and served-root settings.
type ServerConfig struct {
	Addr      string `yaml:"addr" toml:"addr"`
	Root      string `yaml:"root" toml:"root"`
	RawParam  string `yaml:"raw_param" toml:"raw_param"`
	ServeHTML bool   `yaml:"serve_html" toml:"serve_html"` // serve .html files as pages instead of source
}

// HighlightConfig controls syntax highlighting.
// Extensions maps a file extension (without dot) to a language name and is
// merged over the built-in table. An empty language disables the extension.
type HighlightConfig struct {
	Theme      string            `yaml:"theme" toml:"theme"`
	Extensions map[string]string `yaml:"extensions" toml:"extensions"`
}

// LoggingConfig represents structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// AccessLogConfig enables the sqlite access log when DatabasePath is set.
type AccessLogConfig struct {
	DatabasePath string `yaml:"database_path" toml:"database_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     DefaultAddr,
			Root:     DefaultRoot,
			RawParam: DefaultRawParam,
		},
		Highlight: HighlightConfig{
			Theme: DefaultTheme,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads a configuration file over the defaults and validates it.
func LoadConfig(filePath string) (*Config, error) {
	cfg, err := DecodeConfig(filePath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DecodeConfig reads a configuration file over the defaults without
// validating it, so callers can apply overrides first.
// The format is chosen by extension: .yaml/.yml or .toml.
func DecodeConfig(filePath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config file %s: %w", filePath, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config file %s: %w", filePath, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return cfg, nil
}

// Validate validates the configuration structure and required fields.
// Whether the root exists is checked later, when the served root is opened.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Validate validates the server section.
func (s *ServerConfig) Validate() error {
	if strings.TrimSpace(s.Addr) == "" {
		return ErrAddrRequired
	}
	if err := ValidateAddr(s.Addr); err != nil {
		return err
	}
	if strings.TrimSpace(s.Root) == "" {
		return ErrRootRequired
	}
	if strings.TrimSpace(s.RawParam) == "" {
		return ErrRawParamRequired
	}
	return nil
}

// Validate validates the logging section.
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, l.Format)
	}
	return nil
}

// ValidateAddr checks that addr is host:port with a port in 0..65535.
func ValidateAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAddrInvalid, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("%w: port %q", ErrAddrInvalid, port)
	}
	return nil
}
