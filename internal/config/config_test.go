package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// validConfig returns a Config that passes Validate().
func validConfig() Config {
	return Config{
		MCPHost:           "localhost",
		MCPPort:           3000,
		CallTimeout:       DefaultCallTimeout,
		ListenAddr:        "127.0.0.1:5001",
		ModelName:         DefaultModelName,
		MaxToolIterations: DefaultMaxToolIterations,
		MaxDocumentBytes:  DefaultMaxDocumentBytes,
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MCPHost != "localhost" {
		t.Errorf("MCPHost = %q, want %q", cfg.MCPHost, "localhost")
	}
	if cfg.MCPPort != 3000 {
		t.Errorf("MCPPort = %d, want 3000", cfg.MCPPort)
	}
	if cfg.ListenAddr != "127.0.0.1:5001" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, "127.0.0.1:5001")
	}
	if cfg.MaxToolIterations != DefaultMaxToolIterations {
		t.Errorf("MaxToolIterations = %d, want %d", cfg.MaxToolIterations, DefaultMaxToolIterations)
	}
	if cfg.CallTimeout != DefaultCallTimeout {
		t.Errorf("CallTimeout = %s, want %s", cfg.CallTimeout, DefaultCallTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DCBRIDGE_MCP_HOST", "provider.internal")
	t.Setenv("DCBRIDGE_MCP_PORT", "3300")
	t.Setenv("DCBRIDGE_CALL_TIMEOUT", "30s")
	t.Setenv("DCBRIDGE_MAX_TOOL_ITERATIONS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MCPHost != "provider.internal" {
		t.Errorf("MCPHost = %q, want %q", cfg.MCPHost, "provider.internal")
	}
	if cfg.MCPPort != 3300 {
		t.Errorf("MCPPort = %d, want 3300", cfg.MCPPort)
	}
	if cfg.CallTimeout != 30*time.Second {
		t.Errorf("CallTimeout = %s, want 30s", cfg.CallTimeout)
	}
	if cfg.MaxToolIterations != 3 {
		t.Errorf("MaxToolIterations = %d, want 3", cfg.MaxToolIterations)
	}
}

func TestLoad_APIKeyFromEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key-abcdef123456")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.ChatEnabled() {
		t.Error("ChatEnabled() = false, want true with GEMINI_API_KEY set")
	}
	if cfg.GeminiAPIKey != "test-key-abcdef123456" {
		t.Errorf("GeminiAPIKey not read from environment")
	}
}

func TestChatEnabled_NoKey(t *testing.T) {
	cfg := validConfig()
	if cfg.ChatEnabled() {
		t.Error("ChatEnabled() = true, want false without API key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"empty host", func(c *Config) { c.MCPHost = " " }, ErrInvalidMCPHost},
		{"port zero", func(c *Config) { c.MCPPort = 0 }, ErrInvalidMCPPort},
		{"port too high", func(c *Config) { c.MCPPort = 70000 }, ErrInvalidMCPPort},
		{"bad listen addr", func(c *Config) { c.ListenAddr = "no-port" }, ErrInvalidListenAddr},
		{"timeout too short", func(c *Config) { c.CallTimeout = time.Millisecond }, ErrInvalidCallTimeout},
		{"iterations zero", func(c *Config) { c.MaxToolIterations = 0 }, ErrInvalidMaxIterations},
		{"iterations excessive", func(c *Config) { c.MaxToolIterations = 100 }, ErrInvalidMaxIterations},
		{"doc bytes zero", func(c *Config) { c.MaxDocumentBytes = 0 }, ErrInvalidMaxDocumentBytes},
		{"empty model", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMCPBaseURL(t *testing.T) {
	cfg := validConfig()
	if got := cfg.MCPBaseURL(); got != "http://localhost:3000" {
		t.Errorf("MCPBaseURL() = %q, want %q", got, "http://localhost:3000")
	}
}

func TestMarshalJSON_MasksAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.GeminiAPIKey = "super-secret-api-key-value"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	if strings.Contains(string(data), "super-secret-api-key-value") {
		t.Error("marshaled config leaks the API key")
	}
	if !strings.Contains(string(data), maskedValue) {
		t.Error("marshaled config does not contain the mask placeholder")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", maskedValue},
		{"12345678", maskedValue},
		{"abcdefghijklmnop", "ab<" + maskedValue + ">op"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestString_NoSecretLeak(t *testing.T) {
	cfg := validConfig()
	cfg.GeminiAPIKey = "another-very-secret-value"

	if strings.Contains(cfg.String(), "another-very-secret-value") {
		t.Error("String() leaks the API key")
	}
}
