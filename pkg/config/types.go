package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netra-ai/netra/pkg/auth"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ProviderMode selects between the legacy shared-singleton resources and the
// per-request factory path during the singleton migration.
type ProviderMode string

const (
	ProviderModeSingleton ProviderMode = "singleton"
	ProviderModeFactory   ProviderMode = "factory"
)

// NetraYAMLConfig represents the complete netra.yaml file structure.
type NetraYAMLConfig struct {
	System    *SystemConfig    `yaml:"system"`
	Session   *SessionConfig   `yaml:"session"`
	WebSocket *WebSocketConfig `yaml:"websocket"`
	Features  *FeaturesConfig  `yaml:"features"`
	LLM       *LLMConfig       `yaml:"llm"`
	Auth      *AuthConfig      `yaml:"auth"`
	Retention *RetentionConfig `yaml:"retention"`
}

// SystemConfig groups system-wide infrastructure settings.
type SystemConfig struct {
	DashboardURL            string   `yaml:"dashboard_url,omitempty"`
	AllowedWSOrigins        []string `yaml:"allowed_ws_origins,omitempty"`
	InsecureWSOrigins       bool     `yaml:"insecure_ws_origins,omitempty"` // dev only
	GracefulShutdownTimeout Duration `yaml:"graceful_shutdown_timeout,omitempty"`
}

// SessionConfig controls the in-memory execution-context continuity store.
type SessionConfig struct {
	ContextTTL    Duration `yaml:"context_ttl,omitempty"`
	SweepInterval Duration `yaml:"sweep_interval,omitempty"`
}

// WebSocketConfig controls the WebSocket connection layer.
type WebSocketConfig struct {
	WriteTimeout Duration `yaml:"write_timeout,omitempty"`
}

// FeaturesConfig gates the singleton → per-request-factory migration.
// RouteOverrides maps a route label to a mode, overriding the global default
// for that route only.
type FeaturesConfig struct {
	ExecutionEngine ProviderMode            `yaml:"execution_engine,omitempty"`
	WebSocketBridge ProviderMode            `yaml:"websocket_bridge,omitempty"`
	RouteOverrides  map[string]ProviderMode `yaml:"route_overrides,omitempty"`
}

// ModeForRoute resolves the provider mode for a route label, falling back to
// the global default for the given resource.
func (f *FeaturesConfig) ModeForRoute(route string, fallback ProviderMode) ProviderMode {
	if f == nil {
		return fallback
	}
	if mode, ok := f.RouteOverrides[route]; ok {
		return mode
	}
	return fallback
}

// LLMConfig configures the LLM manager.
type LLMConfig struct {
	Model       string   `yaml:"model,omitempty"`
	BaseURL     string   `yaml:"base_url,omitempty"`
	APIKeyEnv   string   `yaml:"api_key_env,omitempty"`
	Temperature *float32 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}

// AuthConfig names the environment variables holding service credentials.
// Only the names live in YAML; the values are read from the environment at
// startup and never written to disk or logs.
type AuthConfig struct {
	ServiceIDEnv     string `yaml:"service_id_env,omitempty"`
	ServiceSecretEnv string `yaml:"service_secret_env,omitempty"`
	ServiceTokenEnv  string `yaml:"service_token_env,omitempty"`
}

// RetentionConfig controls background deletion of old conversation data.
// A zero ThreadRetention disables the cleanup loop entirely.
type RetentionConfig struct {
	ThreadRetention Duration `yaml:"thread_retention,omitempty"`
	CleanupInterval Duration `yaml:"cleanup_interval,omitempty"`
}

// Config is the fully resolved runtime configuration.
type Config struct {
	System    SystemConfig
	Session   SessionConfig
	WebSocket WebSocketConfig
	Features  FeaturesConfig
	LLM       LLMConfig
	Auth      AuthConfig
	Retention RetentionConfig
}

// ServiceCredentials reads the configured credential env vars.
func (c *Config) ServiceCredentials() auth.ServiceCredentials {
	return auth.ServiceCredentials{
		ServiceID:     os.Getenv(c.Auth.ServiceIDEnv),
		ServiceSecret: os.Getenv(c.Auth.ServiceSecretEnv),
		ServiceToken:  os.Getenv(c.Auth.ServiceTokenEnv),
	}
}
