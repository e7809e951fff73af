package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

const configFileName = "netra.yaml"

// defaults returns the built-in configuration applied underneath whatever
// netra.yaml provides.
func defaults() *NetraYAMLConfig {
	return &NetraYAMLConfig{
		System: &SystemConfig{
			GracefulShutdownTimeout: Duration(30 * time.Second),
		},
		Session: &SessionConfig{
			ContextTTL:    Duration(30 * time.Minute),
			SweepInterval: Duration(5 * time.Minute),
		},
		WebSocket: &WebSocketConfig{
			WriteTimeout: Duration(10 * time.Second),
		},
		Features: &FeaturesConfig{
			ExecutionEngine: ProviderModeSingleton,
			WebSocketBridge: ProviderModeSingleton,
		},
		LLM: &LLMConfig{
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Auth: &AuthConfig{
			ServiceIDEnv:     "SERVICE_ID",
			ServiceSecretEnv: "SERVICE_SECRET",
			ServiceTokenEnv:  "SERVICE_TOKEN",
		},
		Retention: &RetentionConfig{
			ThreadRetention: Duration(90 * 24 * time.Hour),
			CleanupInterval: Duration(1 * time.Hour),
		},
	}
}

// Initialize loads, merges, validates, and returns ready-to-use configuration.
// A missing netra.yaml is not an error: the built-in defaults apply, which is
// the normal state for local development.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	loaded, err := loadNetraYAML(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	merged := defaults()
	if loaded != nil {
		if err := mergo.Merge(loaded, merged); err != nil {
			return nil, fmt.Errorf("failed to merge configuration defaults: %w", err)
		}
		merged = loaded
	}

	cfg := &Config{
		System:    *merged.System,
		Session:   *merged.Session,
		WebSocket: *merged.WebSocket,
		Features:  *merged.Features,
		LLM:       *merged.LLM,
		Auth:      *merged.Auth,
		Retention: *merged.Retention,
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"context_ttl", cfg.Session.ContextTTL.Std(),
		"execution_engine_mode", cfg.Features.ExecutionEngine,
		"websocket_bridge_mode", cfg.Features.WebSocketBridge)

	return cfg, nil
}

func loadNetraYAML(configDir string) (*NetraYAMLConfig, error) {
	path := filepath.Join(configDir, configFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("No netra.yaml found, using built-in defaults", "path", path)
			return nil, nil
		}
		return nil, NewLoadError(configFileName, err)
	}

	data = ExpandEnv(data)

	var cfg NetraYAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewLoadError(configFileName, fmt.Errorf("%w: %w", ErrInvalidYAML, err))
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	for field, mode := range map[string]ProviderMode{
		"execution_engine": cfg.Features.ExecutionEngine,
		"websocket_bridge": cfg.Features.WebSocketBridge,
	} {
		if mode != ProviderModeSingleton && mode != ProviderModeFactory {
			return &ValidationError{Section: "features", Field: field,
				Err: fmt.Errorf("%w: %q (must be singleton or factory)", ErrInvalidValue, mode)}
		}
	}
	for route, mode := range cfg.Features.RouteOverrides {
		if mode != ProviderModeSingleton && mode != ProviderModeFactory {
			return &ValidationError{Section: "features.route_overrides", Field: route,
				Err: fmt.Errorf("%w: %q (must be singleton or factory)", ErrInvalidValue, mode)}
		}
	}
	if cfg.Session.ContextTTL.Std() <= 0 {
		return &ValidationError{Section: "session", Field: "context_ttl",
			Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
	}
	if cfg.Session.SweepInterval.Std() <= 0 {
		return &ValidationError{Section: "session", Field: "sweep_interval",
			Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
	}
	if cfg.WebSocket.WriteTimeout.Std() <= 0 {
		return &ValidationError{Section: "websocket", Field: "write_timeout",
			Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
	}
	if cfg.LLM.Model == "" {
		return &ValidationError{Section: "llm", Field: "model",
			Err: fmt.Errorf("%w: must not be empty", ErrInvalidValue)}
	}
	if cfg.Retention.ThreadRetention.Std() > 0 && cfg.Retention.CleanupInterval.Std() <= 0 {
		return &ValidationError{Section: "retention", Field: "cleanup_interval",
			Err: fmt.Errorf("%w: must be positive when thread_retention is set", ErrInvalidValue)}
	}
	return nil
}
