// Package config provides configuration management for hotssr using Viper
// for loading from files, environment variables, and command-line flags.
//
// Values resolve in the order flags > HOTSSR_CONFIG_FILE > HOTSSR_* env
// vars > .hotssr.yml > defaults. The defaults reproduce a plain SSR dev
// server: port 3000, index.html as the shell, <!--main-app--> as the
// placeholder and /src/entry-server.js as the render entry.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

// Default values shared by Load and the init scaffold.
const (
	DefaultHost        = "localhost"
	DefaultPort        = 3000
	DefaultTemplate    = "index.html"
	DefaultPlaceholder = "<!--main-app-->"
	DefaultEntry       = "/src/entry-server.js"
	DefaultTarget      = "es2020"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	App         AppConfig         `mapstructure:"app" yaml:"app"`
	Bundler     BundlerConfig     `mapstructure:"bundler" yaml:"bundler"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Open            bool          `mapstructure:"open" yaml:"open"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type AppConfig struct {
	Root        string `mapstructure:"root" yaml:"root"`
	Template    string `mapstructure:"template" yaml:"template"`
	Placeholder string `mapstructure:"placeholder" yaml:"placeholder"`
	Entry       string `mapstructure:"entry" yaml:"entry"`
}

type BundlerConfig struct {
	Target        string        `mapstructure:"target" yaml:"target"`
	Sourcemap     bool          `mapstructure:"sourcemap" yaml:"sourcemap"`
	Define        []string      `mapstructure:"define" yaml:"define,omitempty"` // KEY=VALUE, VALUE is a JS expression
	RenderTimeout time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
}

type DevelopmentConfig struct {
	HMR      bool          `mapstructure:"hmr" yaml:"hmr"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Ignore   []string      `mapstructure:"ignore" yaml:"ignore"`
	Metrics  bool          `mapstructure:"metrics" yaml:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TemplatePath returns the shell path resolved against the app root.
func (a AppConfig) TemplatePath() string {
	return filepath.Join(a.Root, a.Template)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.open", false)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("app.root", ".")
	v.SetDefault("app.template", DefaultTemplate)
	v.SetDefault("app.placeholder", DefaultPlaceholder)
	v.SetDefault("app.entry", DefaultEntry)

	v.SetDefault("bundler.target", DefaultTarget)
	v.SetDefault("bundler.sourcemap", true)
	v.SetDefault("bundler.render_timeout", 10*time.Second)

	v.SetDefault("development.hmr", true)
	v.SetDefault("development.debounce", 100*time.Millisecond)
	v.SetDefault("development.ignore", DefaultIgnore())
	v.SetDefault("development.metrics", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// DefaultIgnore returns the watch ignore globs applied when none are set.
func DefaultIgnore() []string {
	return []string{"**/node_modules/**", "**/.git/**", "**/.hotssr/**"}
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateAppConfig(&config.App); err != nil {
		return fmt.Errorf("app config: %w", err)
	}
	if err := validateBundlerConfig(&config.Bundler); err != nil {
		return fmt.Errorf("bundler config: %w", err)
	}
	if err := validateDevelopmentConfig(&config.Development); err != nil {
		return fmt.Errorf("development config: %w", err)
	}
	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	return nil
}

var dangerousChars = []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}

func validateServerConfig(config *ServerConfig) error {
	// 0 lets the OS pick a port, which tests rely on
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}

	if config.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative")
	}

	return nil
}

func validateAppConfig(config *AppConfig) error {
	if config.Root == "" {
		return fmt.Errorf("root must not be empty")
	}
	if err := validateRelativePath("template", config.Template); err != nil {
		return err
	}
	if err := validateRelativePath("entry", strings.TrimPrefix(config.Entry, "/")); err != nil {
		return err
	}
	if config.Placeholder == "" {
		return fmt.Errorf("placeholder must not be empty")
	}

	return nil
}

// validateRelativePath rejects empty, absolute and traversing paths.
func validateRelativePath(field, path string) error {
	if path == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("%s should be a path relative to root: %s", field, path)
	}

	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return fmt.Errorf("%s contains path traversal: %s", field, path)
		}
	}

	return nil
}

var supportedTargets = map[string]bool{
	"esnext": true, "es2015": true, "es2016": true, "es2017": true, "es2018": true,
	"es2019": true, "es2020": true, "es2021": true, "es2022": true,
}

func validateBundlerConfig(config *BundlerConfig) error {
	if !supportedTargets[strings.ToLower(config.Target)] {
		return fmt.Errorf("unsupported target %q", config.Target)
	}
	if config.RenderTimeout < 0 {
		return fmt.Errorf("render_timeout must not be negative")
	}
	if _, err := ParseDefines(config.Define); err != nil {
		return err
	}

	return nil
}

// ParseDefines turns KEY=VALUE entries into an esbuild define map.
// process.env.NODE_ENV defaults to "development".
func ParseDefines(entries []string) (map[string]string, error) {
	defines := map[string]string{"process.env.NODE_ENV": `"development"`}

	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("define %q must have the form KEY=VALUE", entry)
		}
		defines[key] = strings.TrimSpace(value)
	}

	return defines, nil
}

func validateDevelopmentConfig(config *DevelopmentConfig) error {
	if config.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative")
	}

	for _, pattern := range config.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}

	return nil
}

func validateLogConfig(config *LogConfig) error {
	switch strings.ToLower(config.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", config.Level)
	}

	switch config.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (supported: text, json)", config.Format)
	}

	return nil
}
