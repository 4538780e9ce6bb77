package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/config"
	"github.com/routewise-ai/routewise/internal/metrics"
)

// Message is one turn of a chat completion exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call. Model and Temperature fall back to
// the client's configured values when zero.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client calls the external chat-completion service. Every call carries its
// own bounded timeout so a slow model can never stall a pipeline past its
// deadline; callers pick the timeout from their remaining budget.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	minerModel  string
	temperature float64
	maxTimeout  time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

func NewClient(cfg config.LLMConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		minerModel:  cfg.MinerModel,
		temperature: cfg.Temperature,
		maxTimeout:  cfg.Timeout,
		httpClient:  &http.Client{},
		logger:      logger,
	}
}

// MinerModel returns the model configured for insight extraction.
func (c *Client) MinerModel() string {
	return c.minerModel
}

type wireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete performs one chat completion within the given timeout. The op label
// names the calling stage for metrics. Returns the assistant text.
func (c *Client) Complete(ctx context.Context, op string, req Request, timeout time.Duration) (string, error) {
	if timeout <= 0 || timeout > c.maxTimeout {
		timeout = c.maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.temperature
	}

	body, err := json.Marshal(wireRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: temp,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	metrics.CompletionLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CompletionCalls.WithLabelValues(op, "error").Inc()
		return "", fmt.Errorf("completion call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		metrics.CompletionCalls.WithLabelValues(op, "error").Inc()
		return "", fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.CompletionCalls.WithLabelValues(op, "error").Inc()
		c.logger.Warn("Completion service returned non-OK status",
			zap.String("op", op), zap.Int("status", resp.StatusCode))
		return "", fmt.Errorf("completion service status %d", resp.StatusCode)
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		metrics.CompletionCalls.WithLabelValues(op, "error").Inc()
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if wire.Error != nil {
		metrics.CompletionCalls.WithLabelValues(op, "error").Inc()
		return "", fmt.Errorf("completion service error: %s", wire.Error.Message)
	}
	if len(wire.Choices) == 0 {
		metrics.CompletionCalls.WithLabelValues(op, "error").Inc()
		return "", fmt.Errorf("completion response has no choices")
	}

	metrics.CompletionCalls.WithLabelValues(op, "ok").Inc()
	return wire.Choices[0].Message.Content, nil
}
