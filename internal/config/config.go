// Package config provides the configuration schema and loader for the
// negotiation telemetry engine.
package config

// LogLevel controls log verbosity for the engine.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], with credentials overlaid from
// the environment via [ApplyEnv].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Live      LiveConfig      `yaml:"live"`
	Responder ResponderConfig `yaml:"responder"`
	Audio     AudioConfig     `yaml:"audio"`
	Scenarios ScenarioConfig  `yaml:"scenarios"`
}

// ServerConfig holds logging and observability settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address of the Prometheus scrape endpoint
	// (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// LiveConfig configures the bidirectional agent session.
type LiveConfig struct {
	// APIKey authenticates against the live API. Usually supplied through
	// the environment rather than the config file.
	APIKey string `yaml:"api_key"`

	// Model selects the live model (e.g., "gemini-2.0-flash-live-001").
	Model string `yaml:"model"`

	// Voice selects the agent's prebuilt voice (e.g., "Puck").
	Voice string `yaml:"voice"`

	// BaseURL overrides the default API endpoint. Leave empty for the
	// built-in default.
	BaseURL string `yaml:"base_url"`

	// MaxReconnectAttempts bounds automatic reconnection before the link
	// closes terminally. Zero means the default of 3.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// ResponderConfig configures remote text generation for replies and debrief
// reports.
type ResponderConfig struct {
	// APIKey authenticates against the chat completions API. Usually
	// supplied through the environment rather than the config file.
	APIKey string `yaml:"api_key"`

	// Model selects the chat model (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero uses the provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps completion length. Zero uses the model default.
	MaxTokens int `yaml:"max_tokens"`
}

// AudioConfig tunes the capture pipeline.
type AudioConfig struct {
	// RingCapacity is the number of samples buffered before a transport
	// envelope is emitted. Zero means the default of 4096.
	RingCapacity int `yaml:"ring_capacity"`
}

// ScenarioConfig locates the offline scenario library.
type ScenarioConfig struct {
	// LibraryPath is the YAML file holding scenario definitions.
	LibraryPath string `yaml:"library_path"`

	// DefaultID selects the scenario activated at startup. Empty means no
	// scenario is active until one is chosen.
	DefaultID string `yaml:"default_id"`
}
