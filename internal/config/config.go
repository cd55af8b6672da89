// Package config loads tradedesk settings from defaults, an optional YAML
// file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Server modes.
const (
	ModeSSE   = "sse"
	ModeStdio = "stdio"
)

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
)

// Config is the full application configuration.
type Config struct {
	Broker BrokerConfig `yaml:"broker"`
	Server ServerConfig `yaml:"server"`
	Web    WebConfig    `yaml:"web"`
	LLM    LLMConfig    `yaml:"llm"`
	Redis  RedisConfig  `yaml:"redis"`
}

// BrokerConfig points at the OpenAlgo API.
type BrokerConfig struct {
	APIKey  string        `yaml:"api_key"`
	Host    string        `yaml:"host"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig drives `tradedesk server`.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	Mode     string `yaml:"mode"`
	Debug    bool   `yaml:"debug"`
	Strategy string `yaml:"strategy"`
}

// WebConfig drives `tradedesk web` and the MCP endpoint used by `chat`.
type WebConfig struct {
	Port    int    `yaml:"port"`
	MCPHost string `yaml:"mcp_host"`
	MCPPort int    `yaml:"mcp_port"`
}

// LLMConfig selects the model provider for the agent runtime.
type LLMConfig struct {
	Provider         string `yaml:"provider"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIModel      string `yaml:"openai_model"`
	GroqAPIKey       string `yaml:"groq_api_key"`
	GroqModel        string `yaml:"groq_model"`
	HistoryResponses int    `yaml:"history_responses"`
	ToolCallLimit    int    `yaml:"tool_call_limit"`
}

// RedisConfig enables the Redis turn store when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`

	// EncryptionKey (base64, 32 bytes) seals turn content at rest.
	// FallbackKeys still decrypt logs written before a key rotation.
	EncryptionKey string   `yaml:"encryption_key"`
	FallbackKeys  []string `yaml:"fallback_keys"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Broker: BrokerConfig{
			Host:    "http://127.0.0.1:5000",
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Port:     8001,
			Mode:     ModeSSE,
			Strategy: "Python",
		},
		Web: WebConfig{
			Port:    8000,
			MCPHost: "localhost",
			MCPPort: 8001,
		},
		LLM: LLMConfig{
			Provider:         ProviderOpenAI,
			OpenAIModel:      "gpt-4o",
			GroqModel:        "llama-3.1-70b-versatile",
			HistoryResponses: 10,
			ToolCallLimit:    10,
		},
		Redis: RedisConfig{
			Prefix: "tradedesk:turns:",
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.Environ()); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads the first existing candidate into the process environment
// without overriding variables that are already set. It returns the loaded
// path, or "" when none exists.
func LoadDotEnv(candidates ...string) (string, error) {
	if len(candidates) == 0 {
		candidates = []string{".env", "../.env"}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return p, fmt.Errorf("failed to load %s: %w", p, err)
		}
		return p, nil
	}
	return "", nil
}

// envLayer mirrors the supported environment variables. Pointers let the
// decoder tell "unset" apart from zero values.
type envLayer struct {
	APIKey           *string        `mapstructure:"OPENALGO_API_KEY"`
	APIHost          *string        `mapstructure:"OPENALGO_API_HOST"`
	APITimeout       *time.Duration `mapstructure:"OPENALGO_API_TIMEOUT"`
	ServerPort       *int           `mapstructure:"SERVER_PORT"`
	ServerMode       *string        `mapstructure:"SERVER_MODE"`
	ServerDebug      *bool          `mapstructure:"SERVER_DEBUG"`
	Strategy         *string        `mapstructure:"STRATEGY"`
	WebPort          *int           `mapstructure:"WEB_PORT"`
	MCPHost          *string        `mapstructure:"MCP_HOST"`
	MCPPort          *int           `mapstructure:"MCP_PORT"`
	Provider         *string        `mapstructure:"LLM_PROVIDER"`
	OpenAIAPIKey     *string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel      *string        `mapstructure:"OPENAI_MODEL"`
	GroqAPIKey       *string        `mapstructure:"GROQ_API_KEY"`
	GroqModel        *string        `mapstructure:"GROQ_MODEL"`
	HistoryResponses *int           `mapstructure:"LLM_HISTORY_RESPONSES"`
	ToolCallLimit    *int           `mapstructure:"LLM_TOOL_CALL_LIMIT"`
	RedisAddr        *string        `mapstructure:"REDIS_ADDR"`
	RedisPassword    *string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB          *int           `mapstructure:"REDIS_DB"`
	RedisPrefix      *string        `mapstructure:"REDIS_PREFIX"`
	RedisTTL         *time.Duration `mapstructure:"REDIS_TTL"`
	RedisKey         *string        `mapstructure:"REDIS_ENCRYPTION_KEY"`
	RedisOldKeys     *[]string      `mapstructure:"REDIS_ENCRYPTION_FALLBACK_KEYS"`
}

func applyEnv(cfg *Config, environ []string) error {
	raw := make(map[string]any)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || v == "" {
			continue
		}
		if k == "SERVER_DEBUG" {
			v = normalizeBool(v)
		}
		raw[k] = v
	}

	var env envLayer
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &env,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to build env decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}

	set(&cfg.Broker.APIKey, env.APIKey)
	set(&cfg.Broker.Host, env.APIHost)
	set(&cfg.Broker.Timeout, env.APITimeout)
	set(&cfg.Server.Port, env.ServerPort)
	set(&cfg.Server.Mode, env.ServerMode)
	set(&cfg.Server.Debug, env.ServerDebug)
	set(&cfg.Server.Strategy, env.Strategy)
	set(&cfg.Web.Port, env.WebPort)
	set(&cfg.Web.MCPHost, env.MCPHost)
	set(&cfg.Web.MCPPort, env.MCPPort)
	set(&cfg.LLM.Provider, env.Provider)
	set(&cfg.LLM.OpenAIAPIKey, env.OpenAIAPIKey)
	set(&cfg.LLM.OpenAIModel, env.OpenAIModel)
	set(&cfg.LLM.GroqAPIKey, env.GroqAPIKey)
	set(&cfg.LLM.GroqModel, env.GroqModel)
	set(&cfg.LLM.HistoryResponses, env.HistoryResponses)
	set(&cfg.LLM.ToolCallLimit, env.ToolCallLimit)
	set(&cfg.Redis.Addr, env.RedisAddr)
	set(&cfg.Redis.Password, env.RedisPassword)
	set(&cfg.Redis.DB, env.RedisDB)
	set(&cfg.Redis.Prefix, env.RedisPrefix)
	set(&cfg.Redis.TTL, env.RedisTTL)
	set(&cfg.Redis.EncryptionKey, env.RedisKey)
	set(&cfg.Redis.FallbackKeys, env.RedisOldKeys)

	cfg.Server.Mode = strings.ToLower(cfg.Server.Mode)
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func normalizeBool(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1", "on":
		return "true"
	default:
		return "false"
	}
}

// MCPURL is the SSE endpoint of the tool server as seen by chat clients.
func (w WebConfig) MCPURL() string {
	return fmt.Sprintf("http://%s:%d/sse", w.MCPHost, w.MCPPort)
}

// Model returns the configured model name for the active provider.
func (l LLMConfig) Model() string {
	if l.Provider == ProviderGroq {
		return l.GroqModel
	}
	return l.OpenAIModel
}

// APIKey returns the credential for the active provider.
func (l LLMConfig) APIKey() string {
	if l.Provider == ProviderGroq {
		return l.GroqAPIKey
	}
	return l.OpenAIAPIKey
}

var (
	ErrMissingAPIKey   = errors.New("OPENALGO_API_KEY must be set either in .env file or via command line arguments")
	ErrInvalidMode     = errors.New("server mode must be 'stdio' or 'sse'")
	ErrInvalidProvider = errors.New("LLM provider must be 'openai' or 'groq'")
	ErrMissingLLMKey   = errors.New("missing API key for the selected LLM provider")
)

// ValidateServer checks the settings `tradedesk server` needs.
func (c Config) ValidateServer() error {
	var errs []error
	if c.Broker.APIKey == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if c.Server.Mode != ModeSSE && c.Server.Mode != ModeStdio {
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidMode, c.Server.Mode))
	}
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("invalid server port %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

// ValidateClient checks the settings the chat front ends need.
func (c Config) ValidateClient() error {
	var errs []error
	if c.LLM.Provider != ProviderOpenAI && c.LLM.Provider != ProviderGroq {
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidProvider, c.LLM.Provider))
	} else if c.LLM.APIKey() == "" {
		errs = append(errs, fmt.Errorf("%w (%s)", ErrMissingLLMKey, c.LLM.Provider))
	}
	if c.Web.MCPPort <= 0 {
		errs = append(errs, fmt.Errorf("invalid MCP port %d", c.Web.MCPPort))
	}
	return errors.Join(errs...)
}
