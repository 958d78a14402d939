package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/config"
	"github.com/markdave123-py/diagnovet/pkg/metrics"
)

// FactoryConfig selects and configures one extraction strategy.
type FactoryConfig struct {
	Provider string

	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string
	OpenRouterReferer string

	GeminiAPIKey string
	GeminiModel  string

	Timeout         time.Duration
	RatePerMinute   int
	BreakerFailures uint32

	HTTPClient *http.Client
	Metrics    *metrics.Collector
}

// FactoryConfigFrom maps the LLM section of the process configuration.
func FactoryConfigFrom(c config.LLMConfig, m *metrics.Collector) FactoryConfig {
	return FactoryConfig{
		Provider:          c.Provider,
		OpenRouterAPIKey:  c.OpenRouterAPIKey,
		OpenRouterModel:   c.OpenRouterModel,
		OpenRouterBaseURL: c.OpenRouterBaseURL,
		OpenRouterReferer: c.OpenRouterReferer,
		GeminiAPIKey:      c.GeminiAPIKey,
		GeminiModel:       c.GenModel,
		Timeout:           c.Timeout,
		RatePerMinute:     c.RatePerMinute,
		BreakerFailures:   c.BreakerFailures,
		Metrics:           m,
	}
}

// NewExtractor builds the strategy named by cfg.Provider. Every call returns a
// fresh instance. Hosted providers without a credential fall back to regex.
func NewExtractor(ctx context.Context, cfg FactoryConfig, log *zap.Logger) (Extractor, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenRouter
	}

	switch provider {
	case ProviderRegex:
		return NewRegexExtractor(), nil

	case ProviderOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return regexFallback(provider, log), nil
		}
		client := NewOpenRouterClient(OpenRouterConfig{
			APIKey:     cfg.OpenRouterAPIKey,
			Model:      cfg.OpenRouterModel,
			BaseURL:    cfg.OpenRouterBaseURL,
			Referer:    cfg.OpenRouterReferer,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		}, log)
		return NewLLMExtractor(client, LLMExtractorConfig{
			Name:            ProviderOpenRouter,
			Model:           client.Model(),
			Models:          OpenRouterModels,
			RatePerMinute:   cfg.RatePerMinute,
			BreakerFailures: cfg.BreakerFailures,
		}, cfg.Metrics, log), nil

	case ProviderGemini:
		gem, err := NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if errors.Is(err, ErrMissingCredential) {
			return regexFallback(provider, log), nil
		}
		if err != nil {
			return nil, err
		}
		return NewLLMExtractor(gem, LLMExtractorConfig{
			Name:            ProviderGemini,
			Model:           gem.Model(),
			Models:          []string{gem.Model()},
			RatePerMinute:   cfg.RatePerMinute,
			BreakerFailures: cfg.BreakerFailures,
		}, cfg.Metrics, log), nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
}

func regexFallback(provider string, log *zap.Logger) Extractor {
	log.Warn("llm.factory.regex_fallback",
		zap.String("provider", provider),
		zap.String("reason", "missing API credential"),
	)
	return NewRegexExtractor()
}
