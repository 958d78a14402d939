package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/core"
)

const (
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel   = "meta-llama/llama-3.3-8b-instruct:free"
	appTitle                 = "DiagnoVET"
)

// OpenRouterModels are the free models offered in the settings screen.
var OpenRouterModels = []string{
	"meta-llama/llama-3.3-8b-instruct:free",
	"google/gemma-3-27b-it:free",
}

type OpenRouterConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Referer    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenRouterClient calls the OpenAI-compatible chat completions endpoint of OpenRouter.
type OpenRouterClient struct {
	cfg  OpenRouterConfig
	http *http.Client
	log  *zap.Logger
}

var _ core.LLMProvider = (*OpenRouterClient)(nil)

func NewOpenRouterClient(cfg OpenRouterConfig, log *zap.Logger) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenRouterModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenRouterClient{cfg: cfg, http: hc, log: log.Named("openrouter")}
}

func (c *OpenRouterClient) Model() string { return c.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p,omitempty"`
	FrequencyPenalty float64       `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64       `json:"presence_penalty,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends one chat completion with the extraction sampling settings.
func (c *OpenRouterClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrMissingCredential
	}

	body := chatRequest{
		Model:            c.cfg.Model,
		MaxTokens:        1500,
		Temperature:      0.1,
		TopP:             0.9,
		FrequencyPenalty: 0.1,
		PresencePenalty:  0.1,
	}
	if systemPrompt == "" {
		// connection checks only need a few tokens
		body.MaxTokens = 10
		body.TopP, body.FrequencyPenalty, body.PresencePenalty = 0, 0, 0
	} else {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: userPrompt})

	rid := uuid.NewString()
	start := time.Now()
	c.log.Debug("llm.generate.start",
		zap.String("req_id", rid),
		zap.String("model", c.cfg.Model),
		zap.Int("prompt_len", len(userPrompt)),
	)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error("llm.generate.http_error",
			zap.String("req_id", rid),
			zap.Error(err),
			zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		)
		return "", err
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", &MalformedReplyError{Reason: "Respuesta inválida de OpenRouter", Err: err}
	}
	if len(cc.Choices) == 0 || cc.Choices[0].Message == nil {
		return "", &MalformedReplyError{Reason: "Respuesta inválida de OpenRouter"}
	}

	c.log.Debug("llm.generate.ok",
		zap.String("req_id", rid),
		zap.Int("reply_len", len(cc.Choices[0].Message.Content)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return cc.Choices[0].Message.Content, nil
}

func (c *OpenRouterClient) post(ctx context.Context, url string, body any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("X-Title", appTitle)
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
