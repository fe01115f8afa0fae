// Package config provides configuration for the chat relay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatrelay/internal/agui"
)

// EnvPrefix prefixes every configuration key read from the environment.
const EnvPrefix = "CHATRELAY"

// Config holds the chat relay configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	WS        WSConfig        `mapstructure:"ws"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AgentConfig describes the agent reported to clients.
type AgentConfig struct {
	ID            string `mapstructure:"id"`
	RationaleMode string `mapstructure:"rationale_mode"`
}

// ProviderConfig selects the completion provider.
type ProviderConfig struct {
	Name      string        `mapstructure:"name"`
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"` // 0 means no timeout
	MaxTokens int           `mapstructure:"max_tokens"`
}

// RateLimitConfig limits outgoing completion calls.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// JournalConfig enables the run journal when DSN is set.
type JournalConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PolicyConfig points at a rego admission policy.
type PolicyConfig struct {
	File string `mapstructure:"file"`
}

// WSConfig tunes the websocket transport.
type WSConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// legacyEnv maps keys to the unprefixed variables the service has always read.
var legacyEnv = map[string]string{
	"server.port": "PORT",
	"log.level":   "LOG_LEVEL",
}

// providerKeyEnv names the variable holding each provider's API key.
var providerKeyEnv = map[string]string{
	llm.ProviderOpenAI:    "OPENAI_API_KEY",
	llm.ProviderCompat:    "OPENAI_API_KEY",
	llm.ProviderAnthropic: "ANTHROPIC_API_KEY",
}

// Load reads defaults, then the optional config file, then the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		if env, ok := providerKeyEnv[cfg.Provider.Name]; ok {
			cfg.Provider.APIKey = os.Getenv(env)
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("agent.id", "perplexity-clone")
	v.SetDefault("agent.rationale_mode", string(agui.RationalePacked))

	v.SetDefault("provider.name", llm.ProviderOpenAI)
	v.SetDefault("provider.model", "gpt-4o")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.timeout", time.Duration(0))
	v.SetDefault("provider.max_tokens", 0)

	v.SetDefault("rate_limit.rps", 0.0)
	v.SetDefault("rate_limit.burst", 1)

	v.SetDefault("journal.dsn", "")
	v.SetDefault("policy.file", "")

	// Use time.Duration defaults; plain integers would become nanoseconds when unmarshaled.
	v.SetDefault("ws.ping_interval", 30*time.Second)
	v.SetDefault("ws.write_timeout", 10*time.Second)
	v.SetDefault("ws.read_timeout", 60*time.Second)
	v.SetDefault("ws.max_message_size", int64(1<<20))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Validate checks a loaded configuration.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	if _, err := agui.ParseRationaleMode(cfg.Agent.RationaleMode); err != nil {
		errs = append(errs, fmt.Errorf("agent.rationale_mode: %w", err))
	}

	switch cfg.Provider.Name {
	case llm.ProviderOpenAI, llm.ProviderAnthropic, llm.ProviderMock:
	case llm.ProviderCompat:
		if cfg.Provider.BaseURL == "" {
			errs = append(errs, errors.New("provider.base_url is required for the compat provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider.name %q", cfg.Provider.Name))
	}
	if cfg.Provider.Model == "" {
		errs = append(errs, errors.New("provider.model is required"))
	}
	if cfg.Provider.Timeout < 0 {
		errs = append(errs, errors.New("provider.timeout must not be negative"))
	}
	if cfg.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("rate_limit.rps must not be negative"))
	}

	if cfg.WS.PingInterval <= 0 || cfg.WS.WriteTimeout <= 0 || cfg.WS.ReadTimeout <= 0 {
		errs = append(errs, errors.New("ws timeouts must be positive"))
	} else if cfg.WS.PingInterval >= cfg.WS.ReadTimeout {
		errs = append(errs, errors.New("ws.ping_interval must be shorter than ws.read_timeout"))
	}
	if cfg.WS.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("ws.max_message_size must be positive"))
	}

	return errors.Join(errs...)
}
