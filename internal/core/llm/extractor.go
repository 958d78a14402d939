package llm

import (
	"context"
	"errors"
	"io"
	"math"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/pkg/metrics"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderRegex      = "regex"

	// defaultLLMConfidence applies when the model does not state a confidence.
	defaultLLMConfidence = 90
	regexConfidence      = 50
)

// Result is a successful structured extraction.
type Result struct {
	Record     Record  `json:"extractedData"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
	// Parsed is false when the reply was unusable and Record is the skeleton.
	Parsed bool `json:"parsed"`
}

// ConnectionStatus is the outcome of a connectivity check.
type ConnectionStatus struct {
	Success  bool   `json:"success"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Error    string `json:"error,omitempty"`
	Reply    string `json:"reply,omitempty"`
}

// Extractor turns raw report text into a structured record.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Result, error)
	TestConnection(ctx context.Context) ConnectionStatus
	AvailableModels() []string
	Provider() string
	Model() string
}

// LLMExtractor drives a hosted model through a rate limiter and a circuit breaker.
// Calls are never retried here.
type LLMExtractor struct {
	provider core.LLMProvider
	name     string
	model    string
	models   []string
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[string]
	metrics  *metrics.Collector
	log      *zap.Logger
}

type LLMExtractorConfig struct {
	Name            string
	Model           string
	Models          []string
	RatePerMinute   int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func NewLLMExtractor(p core.LLMProvider, cfg LLMExtractorConfig, m *metrics.Collector, log *zap.Logger) *LLMExtractor {
	limit := rate.Inf
	burst := 1
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
		burst = max(1, cfg.RatePerMinute/4)
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	l := log.Named("llm").With(zap.String("provider", cfg.Name))
	return &LLMExtractor{
		provider: p,
		name:     cfg.Name,
		model:    cfg.Model,
		models:   cfg.Models,
		limiter:  rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        "llm-" + cfg.Name,
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			IsExcluded: func(err error) bool {
				return errors.Is(err, context.Canceled) || errors.Is(err, ErrMissingCredential)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				l.Warn("llm.breaker.state", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
		metrics: m,
		log:     l,
	}
}

func (e *LLMExtractor) Provider() string          { return e.name }
func (e *LLMExtractor) Model() string             { return e.model }
func (e *LLMExtractor) AvailableModels() []string { return append([]string(nil), e.models...) }

func (e *LLMExtractor) Extract(ctx context.Context, text string) (*Result, error) {
	start := time.Now()
	e.log.Info("llm.extract.start", zap.Int("text_len", len(text)))

	reply, err := e.call(ctx, systemPrompt, BuildPrompt(text))
	if err != nil {
		e.metrics.ObserveLLM(e.name, "error", time.Since(start))
		e.log.Error("llm.extract.failed", zap.Error(err), zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, err
	}

	rec, perr := ParseReply(reply)
	if perr != nil {
		e.metrics.ObserveLLM(e.name, "unparsed", time.Since(start))
		e.log.Warn("llm.extract.unparsed_reply", zap.Error(perr), zap.Int("reply_len", len(reply)))
		return &Result{Record: rec, Confidence: 0, Provider: e.name}, nil
	}

	conf := float64(defaultLLMConfidence)
	if rec.ConfidenceSet {
		conf = math.Max(0, math.Min(100, rec.Confidence))
	}
	rec.Confidence = conf

	e.metrics.ObserveLLM(e.name, "ok", time.Since(start))
	e.log.Info("llm.extract.ok",
		zap.Float64("confidence", conf),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return &Result{Record: rec, Confidence: conf, Provider: e.name, Parsed: true}, nil
}

func (e *LLMExtractor) TestConnection(ctx context.Context) ConnectionStatus {
	st := ConnectionStatus{Provider: e.name, Model: e.model}
	reply, err := e.call(ctx, "", connectionPrompt)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Success = true
	st.Reply = reply
	return st
}

func (e *LLMExtractor) call(ctx context.Context, system, user string) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}
	out, err := e.breaker.Execute(func() (string, error) {
		return e.provider.Generate(ctx, system, user)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", ErrCircuitOpen
	}
	return out, err
}

// Close releases the underlying provider when it holds a client.
func (e *LLMExtractor) Close() error {
	if c, ok := e.provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
