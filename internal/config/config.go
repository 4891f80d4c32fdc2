// Package config provides operator configuration management for sdqctl:
// the session directory, default adapter/model selection, plugin manifest
// location, and logging setup. The workflow file itself is the line-
// oriented directive language of spec §4.1/§6, not TOML; this package
// only covers the surrounding operator config (spec §6 env vars).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the operator-level configuration, loaded once at process
// start and treated as immutable for the process lifetime (spec §9
// "Global state").
type Config struct {
	Session  SessionConfig  `toml:"session"`
	Adapter  AdapterConfig  `toml:"adapter"`
	Models   ModelsConfig   `toml:"models"`
	Plugin   PluginConfig   `toml:"plugin"`
	Logging  LoggingConfig  `toml:"logging"`
	Monitor  MonitorConfig  `toml:"monitor"`
}

// SessionConfig controls where session state is persisted.
type SessionConfig struct {
	Dir string `toml:"dir"`
}

// AdapterConfig selects and configures the default assistant backend.
type AdapterConfig struct {
	Default     string `toml:"default"`      // adapter name, e.g. "anthropic", "gemini", "mock"
	AnthropicKey string `toml:"anthropic_api_key"`
	GeminiKey   string `toml:"gemini_api_key"`
	RequestTimeoutSecs int `toml:"request_timeout_seconds"`
}

// ModelsConfig holds the default model and any SDQCTL_MODEL_ALIAS_<ID>-style
// aliases loaded from the environment (spec §6).
type ModelsConfig struct {
	Default string            `toml:"default"`
	Aliases map[string]string `toml:"aliases"`
}

// PluginConfig points at the workspace plugin manifest (spec §4.8/§6).
type PluginConfig struct {
	ManifestPath string `toml:"manifest_path"`
}

// LoggingConfig mirrors the teacher's arbor-backed logging setup.
type LoggingConfig struct {
	Level      string      `toml:"level"`
	Format     string      `toml:"format"`
	Output     StringSlice `toml:"output"`
	TimeFormat string      `toml:"time_format"`
	MaxSizeMB  int         `toml:"max_size_mb"`
	MaxBackups int         `toml:"max_backups"`
	MaxAgeDays int         `toml:"max_age_days"`
	Compress   bool        `toml:"compress"`
}

// MonitorConfig configures the optional pkg/monitorhttp status surface
// (spec §1 "thin shells", `status --serve`).
type MonitorConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// WantsFile reports whether Output requests a rotating file writer.
func (l LoggingConfig) WantsFile() bool { return l.Output.has("file") }

// WantsConsole reports whether Output requests a console/stdout writer.
func (l LoggingConfig) WantsConsole() bool {
	return l.Output.has("stdout") || l.Output.has("console")
}

// StringSlice unmarshals from either a bare string or a TOML array, so a
// config author can write `output = "stdout"` or `output = ["stdout", "file"]`.
type StringSlice []string

func (s StringSlice) has(name string) bool {
	for _, v := range s {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}

func (s *StringSlice) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		*s = []string{v}
	case []interface{}:
		result := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string in array, got %T", item)
			}
			result[i] = str
		}
		*s = result
	default:
		return fmt.Errorf("expected string or array, got %T", data)
	}
	return nil
}

// DefaultConfig returns defaults with SDQCTL_* environment overrides
// applied (spec §6): SDQCTL_SESSION_DIR, SDQCTL_MODEL_DEFAULT, and any
// SDQCTL_MODEL_ALIAS_<ID> variables.
func DefaultConfig() *Config {
	sessionDir := DefaultSessionDir()
	if v := os.Getenv("SDQCTL_SESSION_DIR"); v != "" {
		sessionDir = v
	}

	cfg := &Config{
		Session: SessionConfig{Dir: sessionDir},
		Adapter: AdapterConfig{
			Default:            "mock",
			AnthropicKey:       os.Getenv("ANTHROPIC_API_KEY"),
			GeminiKey:          os.Getenv("GOOGLE_GEMINI_API_KEY"),
			RequestTimeoutSecs: 120,
		},
		Models: ModelsConfig{
			Default: os.Getenv("SDQCTL_MODEL_DEFAULT"),
			Aliases: modelAliasesFromEnv(),
		},
		Plugin: PluginConfig{
			ManifestPath: filepath.Join(".sdqctl", "directives.yaml"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     StringSlice{"stdout"},
			TimeFormat: "15:04:05.000",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8420,
		},
	}
	return cfg
}

// modelAliasesFromEnv scans the process environment for SDQCTL_MODEL_ALIAS_<ID>
// variables (spec §6) and returns a map of alias name (lower-cased, the
// <ID> portion) to the model id the variable's value names.
func modelAliasesFromEnv() map[string]string {
	const prefix = "SDQCTL_MODEL_ALIAS_"
	aliases := map[string]string{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
		aliases[name] = parts[1]
	}
	return aliases
}

// DefaultSessionDir returns ~/.sdqctl/sessions, matching SDQCTL_SESSION_DIR's
// documented default (spec §6).
func DefaultSessionDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".sdqctl", "sessions")
}

// DefaultConfigPath returns ~/.sdqctl/config.toml unless SDQCTL_CONFIG
// overrides it (spec §6).
func DefaultConfigPath() string {
	if v := os.Getenv("SDQCTL_CONFIG"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".sdqctl", "config.toml")
}

// Load loads configuration from path, merging onto DefaultConfig. A
// missing file is not an error: defaults (with env overrides) are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// Environment always wins over a config file for the session dir and
	// default model, matching the CLI-flag-over-directive precedence the
	// rest of the system uses (spec §4.2/§4.4 priority orders).
	if v := os.Getenv("SDQCTL_SESSION_DIR"); v != "" {
		cfg.Session.Dir = v
	}
	if v := os.Getenv("SDQCTL_MODEL_DEFAULT"); v != "" {
		cfg.Models.Default = v
	}
	for k, v := range modelAliasesFromEnv() {
		if cfg.Models.Aliases == nil {
			cfg.Models.Aliases = map[string]string{}
		}
		cfg.Models.Aliases[k] = v
	}

	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) expandPaths() {
	home, _ := os.UserHomeDir()
	expandTilde := func(path string) string {
		if strings.HasPrefix(path, "~/") {
			return filepath.Join(home, path[2:])
		}
		return path
	}
	c.Session.Dir = expandTilde(c.Session.Dir)
}

// Save writes the configuration to path in TOML format.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Monitor.Enabled {
		if c.Monitor.Port < 1 || c.Monitor.Port > 65535 {
			return fmt.Errorf("config: invalid monitor port: %d", c.Monitor.Port)
		}
	}
	if c.Adapter.RequestTimeoutSecs < 1 {
		return fmt.Errorf("config: adapter.request_timeout_seconds must be at least 1")
	}
	return nil
}

// ResolveModel expands a model alias (as configured or via
// SDQCTL_MODEL_ALIAS_<ID>) to a concrete model id; unaliased names pass
// through unchanged.
func (c *Config) ResolveModel(nameOrAlias string) string {
	if nameOrAlias == "" {
		return c.Models.Default
	}
	if resolved, ok := c.Models.Aliases[strings.ToLower(nameOrAlias)]; ok {
		return resolved
	}
	return nameOrAlias
}

// Address returns the monitor HTTP surface's bind address.
func (c *Config) Address() string {
	return c.Monitor.Host + ":" + strconv.Itoa(c.Monitor.Port)
}
