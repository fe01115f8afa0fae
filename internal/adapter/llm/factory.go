package llm

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	// EnvGogoMode is the environment variable name for mode selection.
	EnvGogoMode = "GOGO_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// Provider names accepted by NewClient.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderCompat    = "compat"
	ProviderMock      = "mock"
)

// Options selects and configures a provider.
type Options struct {
	Provider  string
	APIKey    string
	BaseURL   string
	MaxTokens int

	// Timeout bounds each completion call. Zero leaves calls unbounded.
	Timeout time.Duration
	// RateLimit is the sustained number of completion calls per second. Zero disables limiting.
	RateLimit float64
	Burst     int
}

// NewClient builds the configured provider and wraps it with the timeout and
// rate limit middleware. GOGO_MODE=MOCK forces the mock provider.
func NewClient(opts Options, logger *zap.Logger) (Client, error) {
	provider := opts.Provider
	if os.Getenv(EnvGogoMode) == ModeMock {
		logger.Info("GOGO_MODE=MOCK detected, using mock LLM client")
		provider = ProviderMock
	}

	var client Client
	switch provider {
	case "", ProviderOpenAI:
		client = NewOpenAIClient(opts.APIKey, opts.BaseURL)
	case ProviderAnthropic:
		client = NewAnthropicClient(opts.APIKey, opts.BaseURL, opts.MaxTokens)
	case ProviderCompat:
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("provider %q requires a base URL", provider)
		}
		client = NewCompatClient(opts.BaseURL, opts.APIKey, 0)
	case ProviderMock:
		client = NewMockClient()
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	if opts.Timeout > 0 {
		client = WithTimeout(client, opts.Timeout)
	}
	if opts.RateLimit > 0 {
		client = WithRateLimit(client, opts.RateLimit, opts.Burst)
	}

	logger.Info("LLM provider configured",
		zap.String("provider", providerName(provider)),
		zap.Duration("timeout", opts.Timeout),
		zap.Float64("rate_limit", opts.RateLimit),
	)
	return client, nil
}

func providerName(p string) string {
	if p == "" {
		return ProviderOpenAI
	}
	return p
}
