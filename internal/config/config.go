// Package config handles Skald configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./skald.yaml, ~/.config/skald/skald.yaml, /etc/skald/skald.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"skald.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "skald", "skald.yaml"))
	}

	paths = append(paths, "/etc/skald/skald.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Skald configuration.
type Config struct {
	Listen    ListenConfig  `yaml:"listen"`
	Gateway   GatewayConfig `yaml:"gateway"`
	Agent     AgentConfig   `yaml:"agent"`
	DataDir   string        `yaml:"data_dir"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// GatewayConfig defines the upstream model endpoint settings.
type GatewayConfig struct {
	// BaseURL is the aggregator root. The gateway appends the provider
	// path prefixes (/openrouter/v1, /openai/v1) itself.
	BaseURL string `yaml:"base_url"`
	// APIKey authorizes upstream calls. Empty key puts the gateway in
	// demo mode: no network calls, canned responses.
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// RequestTimeout bounds each upstream HTTP call, fallback included.
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
	// FlattenToolMessages folds tool-role messages into the user role and
	// drops tool-call-only assistant turns before sending, for backends
	// that cannot express the tool role. Off by default: the
	// chat-completions protocol pairs tool calls and results natively.
	FlattenToolMessages bool `yaml:"flatten_tool_messages"`
}

// AgentConfig defines agent loop settings.
type AgentConfig struct {
	// MaxTurns caps model round trips per loop invocation.
	MaxTurns int `yaml:"max_turns"`
	// ToolTimeoutSec bounds each individual tool execution.
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
}

// RequestTimeout returns the gateway timeout as a duration.
func (g GatewayConfig) RequestTimeout() time.Duration {
	if g.RequestTimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(g.RequestTimeoutSec) * time.Second
}

// ToolTimeout returns the per-tool timeout as a duration.
func (a AgentConfig) ToolTimeout() time.Duration {
	if a.ToolTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.ToolTimeoutSec) * time.Second
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks for configuration values that would fail later in
// confusing ways. Cheap structural checks only; reachability of the
// upstream endpoint is probed at runtime.
func (c *Config) Validate() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen port: %d", c.Listen.Port)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %q (expected text or json)", c.LogFormat)
	}
	if c.Agent.MaxTurns < 0 {
		return fmt.Errorf("agent.max_turns must not be negative: %d", c.Agent.MaxTurns)
	}
	return nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8484},
		DataDir: "data",
		Gateway: GatewayConfig{
			BaseURL:           "https://gateway.skald.dev",
			Model:             "openai/gpt-4o-mini",
			MaxTokens:         1024,
			Temperature:       0.7,
			RequestTimeoutSec: 120,
		},
		Agent: AgentConfig{
			MaxTurns:       5,
			ToolTimeoutSec: 30,
		},
	}
}
