// Package config loads and validates the runtime configuration from
// YAML files with environment-variable overrides for API keys.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds every recognized runtime option. Zero values are
// filled in by Sanitize.
type RuntimeConfig struct {
	// APIKeys maps provider name to an explicit API key. Explicit keys
	// override environment variables.
	APIKeys map[string]string `yaml:"apiKeys"`

	// DefaultModel is used when a spawn request omits a model.
	DefaultModel ModelRef `yaml:"defaultModel"`

	// HeartbeatIntervalMs is how often active sessions are touched.
	HeartbeatIntervalMs int `yaml:"heartbeatIntervalMs"`

	// StaleSessionTimeoutMs is the heartbeat age after which an active
	// session is marked stale.
	StaleSessionTimeoutMs int `yaml:"staleSessionTimeoutMs"`

	// KeepaliveMs is how often heartbeat events are emitted on the bus
	// so streaming subscribers behind load balancers don't time out.
	KeepaliveMs int `yaml:"keepaliveMs"`

	// Retry is the model-call retry budget.
	Retry RetryConfig `yaml:"retry"`

	// ResumeOnStartup resumes active sessions when the runtime starts.
	ResumeOnStartup *bool `yaml:"resumeOnStartup"`

	// GatewayEnabled controls construction of the event-bus HTTP
	// adapter. The core runtime never reads it beyond construction.
	GatewayEnabled bool `yaml:"gatewayEnabled"`

	// SubAgents caps the sub-agent tree.
	SubAgents SubAgentConfig `yaml:"subAgents"`

	// ToolTimeoutMs bounds a single tool execution.
	ToolTimeoutMs int `yaml:"toolTimeoutMs"`

	// Store selects and configures the persistence backend.
	Store StoreConfig `yaml:"store"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Tracing configures OTLP export. Empty endpoint disables it.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelRef names a model on a provider.
type ModelRef struct {
	Provider string `yaml:"provider"`
	ModelID  string `yaml:"modelId"`
}

// RetryConfig is the model-call retry budget.
type RetryConfig struct {
	MaxRetries  int `yaml:"maxRetries"`
	BaseDelayMs int `yaml:"baseDelayMs"`
	MaxDelayMs  int `yaml:"maxDelayMs"`
	MaxTotalMs  int `yaml:"maxTotalMs"`
}

// SubAgentConfig caps sub-agent spawning.
type SubAgentConfig struct {
	// MaxDepth is the deepest allowed parent chain, root counting as 1.
	MaxDepth int `yaml:"maxDepth"`
	// MaxChildren is the most active children one session may have.
	MaxChildren int `yaml:"maxChildren"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file. Ignored for memory.
	Path string `yaml:"path"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sampleRate"`
	Environment string  `yaml:"environment"`
	Insecure    bool    `yaml:"insecure"`
}

// Default returns the configuration used when no file is given.
func Default() RuntimeConfig {
	cfg := RuntimeConfig{}
	cfg.Sanitize()
	return cfg
}

// Load reads a YAML config file, applies environment overrides, and
// fills defaults. An empty path yields the default configuration with
// env-sourced API keys.
func Load(path string) (RuntimeConfig, error) {
	var cfg RuntimeConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.Sanitize()
	return cfg, nil
}

// envKeyVars maps provider names to the environment variables consulted
// when no explicit key is configured.
var envKeyVars = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

func (c *RuntimeConfig) applyEnv() {
	if c.APIKeys == nil {
		c.APIKeys = make(map[string]string)
	}
	for provider, envVar := range envKeyVars {
		if c.APIKeys[provider] != "" {
			continue
		}
		if v := os.Getenv(envVar); v != "" {
			c.APIKeys[provider] = v
		}
	}
}

// Sanitize fills zero values with defaults and normalizes fields.
func (c *RuntimeConfig) Sanitize() {
	if c.APIKeys == nil {
		c.APIKeys = make(map[string]string)
	}
	if c.DefaultModel.Provider == "" {
		c.DefaultModel.Provider = "anthropic"
	}
	if c.DefaultModel.ModelID == "" {
		c.DefaultModel.ModelID = "claude-sonnet-4-5"
	}
	if c.HeartbeatIntervalMs <= 0 {
		c.HeartbeatIntervalMs = 30000
	}
	if c.StaleSessionTimeoutMs <= 0 {
		c.StaleSessionTimeoutMs = 300000
	}
	if c.KeepaliveMs <= 0 {
		c.KeepaliveMs = 15000
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = 500
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = 10000
	}
	if c.Retry.MaxTotalMs <= 0 {
		c.Retry.MaxTotalMs = 120000
	}
	if c.ResumeOnStartup == nil {
		t := true
		c.ResumeOnStartup = &t
	}
	if c.SubAgents.MaxDepth <= 0 {
		c.SubAgents.MaxDepth = 3
	}
	if c.SubAgents.MaxChildren <= 0 {
		c.SubAgents.MaxChildren = 5
	}
	if c.ToolTimeoutMs <= 0 {
		c.ToolTimeoutMs = 30000
	}
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "agenticmail.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate rejects configurations the runtime cannot run with.
func (c *RuntimeConfig) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.DefaultModel.Provider == "" || c.DefaultModel.ModelID == "" {
		return fmt.Errorf("defaultModel requires provider and modelId")
	}
	return nil
}

// APIKey resolves the key for a provider: explicit config first, then
// the provider's environment variable.
func (c *RuntimeConfig) APIKey(provider string) string {
	if key := c.APIKeys[provider]; key != "" {
		return key
	}
	if envVar, ok := envKeyVars[provider]; ok {
		return os.Getenv(envVar)
	}
	return ""
}
