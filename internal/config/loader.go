package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Known model names per API. Used by [Validate] to warn about likely typos;
// unknown names are not an error since new models ship constantly.
var (
	knownLiveModels = []string{
		"gemini-2.0-flash-live-001",
		"gemini-2.5-flash-preview-native-audio-dialog",
	}
	knownChatModels = []string{
		"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "o3-mini",
	}
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays credentials from the environment onto cfg. File values
// win over environment values so a config file can pin credentials
// explicitly.
func ApplyEnv(cfg *Config) {
	if cfg.Live.APIKey == "" {
		cfg.Live.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Responder.APIKey == "" {
		cfg.Responder.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Live.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("live.max_reconnect_attempts %d must not be negative", cfg.Live.MaxReconnectAttempts))
	}
	validateModelName("live.model", cfg.Live.Model, knownLiveModels)

	if cfg.Responder.Temperature < 0 || cfg.Responder.Temperature > 2 {
		errs = append(errs, fmt.Errorf("responder.temperature %.2f is out of range [0.0, 2.0]", cfg.Responder.Temperature))
	}
	if cfg.Responder.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("responder.max_tokens %d must not be negative", cfg.Responder.MaxTokens))
	}
	validateModelName("responder.model", cfg.Responder.Model, knownChatModels)

	if cfg.Audio.RingCapacity < 0 {
		errs = append(errs, fmt.Errorf("audio.ring_capacity %d must not be negative", cfg.Audio.RingCapacity))
	}

	if cfg.Scenarios.DefaultID != "" && cfg.Scenarios.LibraryPath == "" {
		errs = append(errs, fmt.Errorf("scenarios.default_id is set but scenarios.library_path is empty"))
	}
	if cfg.Scenarios.LibraryPath == "" {
		slog.Warn("scenarios.library_path is empty; the offline simulator will have no scenarios to run")
	}

	return errors.Join(errs...)
}

// validateModelName logs a warning if name is non-empty and not found in the
// known list.
func validateModelName(field, name string, known []string) {
	if name == "" || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown model name — may be a typo or a newer model",
		"field", field,
		"name", name,
		"known", known,
	)
}
