// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./dcbridge.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - MCP: tool-provider host/port and per-call timeout
//   - Server: proxy listen address, CORS origins, rate limiting
//   - Chat: Gemini model, tool-iteration ceiling, document size cap
//   - Observability: optional OTLP trace endpoint
//
// Security: the Gemini API key is read from GEMINI_API_KEY only, never from
// the config file, and is masked in MarshalJSON().
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidMCPHost indicates the tool-provider host is empty or malformed.
	ErrInvalidMCPHost = errors.New("invalid MCP host")

	// ErrInvalidMCPPort indicates the tool-provider port is out of range.
	ErrInvalidMCPPort = errors.New("invalid MCP port")

	// ErrInvalidListenAddr indicates the proxy listen address is malformed.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidCallTimeout indicates the per-call timeout is out of range.
	ErrInvalidCallTimeout = errors.New("invalid call timeout")

	// ErrInvalidMaxIterations indicates the tool-iteration ceiling is out of range.
	ErrInvalidMaxIterations = errors.New("invalid max tool iterations")

	// ErrInvalidMaxDocumentBytes indicates the document size cap is out of range.
	ErrInvalidMaxDocumentBytes = errors.New("invalid max document bytes")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrMissingAPIKey indicates GEMINI_API_KEY is not set.
	ErrMissingAPIKey = errors.New("missing GEMINI_API_KEY")
)

const (
	// DefaultModelName is the Gemini model used for chat turns.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultCallTimeout bounds a single tool call against the provider.
	DefaultCallTimeout = 120 * time.Second

	// DefaultMaxToolIterations caps model-tool rounds inside one chat turn.
	// The ceiling is a hard contract against runaway tool loops, not a tuning knob.
	DefaultMaxToolIterations = 5

	// DefaultMaxDocumentBytes caps the decoded size of an attached document.
	DefaultMaxDocumentBytes = 10 << 20

	// MaxAllowedToolIterations is the absolute maximum the ceiling may be raised to.
	MaxAllowedToolIterations = 25
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (API keys, tokens), update MarshalJSON.
type Config struct {
	// Tool-provider (MCP server) configuration
	MCPHost     string        `mapstructure:"mcp_host" json:"mcp_host"`
	MCPPort     int           `mapstructure:"mcp_port" json:"mcp_port"`
	CallTimeout time.Duration `mapstructure:"call_timeout" json:"call_timeout"`

	// Proxy HTTP server configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Chat orchestration configuration
	ModelName         string `mapstructure:"model_name" json:"model_name"`
	MaxToolIterations int    `mapstructure:"max_tool_iterations" json:"max_tool_iterations"`
	MaxDocumentBytes  int64  `mapstructure:"max_document_bytes" json:"max_document_bytes"`

	// GeminiAPIKey is read from GEMINI_API_KEY only.
	// SENSITIVE: masked in MarshalJSON. Empty disables chat endpoints;
	// tool endpoints remain usable without it.
	GeminiAPIKey string `mapstructure:"-" json:"gemini_api_key"`

	// OTLPEndpoint enables trace export when non-empty (host:port of an
	// OTLP HTTP collector).
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("dcbridge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"config_name", "dcbridge.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// GEMINI_API_KEY is never stored in the config file.
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// Tool-provider defaults (local datacommons-mcp serve http --port 3000)
	v.SetDefault("mcp_host", "localhost")
	v.SetDefault("mcp_port", 3000)
	v.SetDefault("call_timeout", DefaultCallTimeout)

	// Proxy server defaults
	v.SetDefault("listen_addr", "127.0.0.1:5001")
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("rate_burst", 0)

	// Chat defaults
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("max_tool_iterations", DefaultMaxToolIterations)
	v.SetDefault("max_document_bytes", DefaultMaxDocumentBytes)

	// Observability defaults (empty disables trace export)
	v.SetDefault("otlp_endpoint", "")
}

// bindEnvVariables binds environment overrides explicitly.
// All overrides use the DCBRIDGE_ prefix except GEMINI_API_KEY, which is
// read directly in Load() and OTEL_EXPORTER_OTLP_ENDPOINT which follows
// the OpenTelemetry convention.
func bindEnvVariables(v *viper.Viper) {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key string, envVars ...string) {
		args := append([]string{key}, envVars...)
		if err := v.BindEnv(args...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q: %v", key, err))
		}
	}

	mustBind("mcp_host", "DCBRIDGE_MCP_HOST")
	mustBind("mcp_port", "DCBRIDGE_MCP_PORT")
	mustBind("call_timeout", "DCBRIDGE_CALL_TIMEOUT")
	mustBind("listen_addr", "DCBRIDGE_LISTEN_ADDR")
	mustBind("cors_origins", "DCBRIDGE_CORS_ORIGINS")
	mustBind("rate_burst", "DCBRIDGE_RATE_BURST")
	mustBind("model_name", "DCBRIDGE_MODEL")
	mustBind("max_tool_iterations", "DCBRIDGE_MAX_TOOL_ITERATIONS")
	mustBind("max_document_bytes", "DCBRIDGE_MAX_DOCUMENT_BYTES")
	mustBind("otlp_endpoint", "DCBRIDGE_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// Validate performs fail-fast range checks on all configuration values.
//
// Note: an absent GEMINI_API_KEY is deliberately NOT a validation error.
// Chat endpoints are disabled without it while tool endpoints stay usable;
// ChatEnabled() reports the distinction.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MCPHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidMCPHost)
	}
	if c.MCPPort < 1 || c.MCPPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidMCPPort, c.MCPPort)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidListenAddr, c.ListenAddr, err)
	}
	if c.CallTimeout < time.Second || c.CallTimeout > 10*time.Minute {
		return fmt.Errorf("%w: %s (must be 1s-10m)", ErrInvalidCallTimeout, c.CallTimeout)
	}
	if c.MaxToolIterations < 1 || c.MaxToolIterations > MaxAllowedToolIterations {
		return fmt.Errorf("%w: %d (must be 1-%d)",
			ErrInvalidMaxIterations, c.MaxToolIterations, MaxAllowedToolIterations)
	}
	if c.MaxDocumentBytes < 1 || c.MaxDocumentBytes > 100<<20 {
		return fmt.Errorf("%w: %d (must be 1B-100MiB)",
			ErrInvalidMaxDocumentBytes, c.MaxDocumentBytes)
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	return nil
}

// ChatEnabled reports whether the chat endpoints can be served.
func (c *Config) ChatEnabled() bool {
	return c.GeminiAPIKey != ""
}

// MCPBaseURL returns the tool-provider base URL, e.g. "http://localhost:3000".
func (c *Config) MCPBaseURL() string {
	return "http://" + net.JoinHostPort(c.MCPHost, strconv.Itoa(c.MCPPort))
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid accidental substring matches against
// real secret material.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - GeminiAPIKey
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
