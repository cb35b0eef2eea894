package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ticketbot/internal/config"
	"ticketbot/internal/httpx"
	"ticketbot/internal/metrics"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

var ErrNotConfigured = errors.New("llm provider is not configured")

// Completer sends one prompt to a model and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Provider() string
	Model() string
}

// NewCompleter builds the provider named in cfg. It returns nil when the
// provider has no API key, which makes every caller use its fallback path.
func NewCompleter(cfg config.Config, limiter *httpx.Limiter) Completer {
	policy := httpx.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.LLMMaxAttempts

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil
		}
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.LLMModel, cfg.LLMTemperature, cfg.LLMMaxTokens, policy.MaxAttempts, limiter)
	default:
		if cfg.LLMAPIKey == "" {
			return nil
		}
		return NewChatClient(cfg.LLMAPIKey, cfg.LLMModel,
			WithBaseURL(cfg.LLMAPIURL),
			WithSampling(cfg.LLMTemperature, cfg.LLMMaxTokens),
			WithRetryPolicy(policy),
			WithLimiter(limiter),
		)
	}
}

// complete wraps a provider call with logging and metrics.
func complete(ctx context.Context, c Completer, operation, prompt string) (string, error) {
	if c == nil {
		return "", ErrNotConfigured
	}
	log.Printf("llm %s provider=%s model=%s prompt_chars=%d", operation, c.Provider(), c.Model(), len(prompt))
	start := time.Now()
	text, err := c.Complete(ctx, prompt)
	metrics.RecordLLMCall(c.Provider(), operation, err, time.Since(start))
	if err != nil {
		log.Printf("llm %s provider=%s error: %v", operation, c.Provider(), err)
		return "", err
	}
	return text, nil
}

// --- OpenAI-compatible chat completions ---

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ChatClient talks to any OpenAI-compatible chat completions endpoint.
type ChatClient struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	policy      httpx.RetryPolicy
	limiter     *httpx.Limiter
}

type ChatOption func(*ChatClient)

func WithBaseURL(url string) ChatOption {
	return func(c *ChatClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

func WithHTTPClient(hc *http.Client) ChatOption {
	return func(c *ChatClient) { c.httpClient = hc }
}

func WithSampling(temperature float64, maxTokens int) ChatOption {
	return func(c *ChatClient) {
		c.temperature = temperature
		if maxTokens > 0 {
			c.maxTokens = maxTokens
		}
	}
}

func WithRetryPolicy(p httpx.RetryPolicy) ChatOption {
	return func(c *ChatClient) { c.policy = p }
}

func WithLimiter(l *httpx.Limiter) ChatOption {
	return func(c *ChatClient) { c.limiter = l }
}

func NewChatClient(apiKey, model string, opts ...ChatOption) *ChatClient {
	if model == "" {
		model = config.DefaultChatModel
	}
	c := &ChatClient{
		httpClient:  httpx.ExternalClient(),
		apiKey:      apiKey,
		model:       model,
		baseURL:     config.DefaultChatURL,
		temperature: 0.1,
		maxTokens:   500,
		policy:      httpx.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ChatClient) Provider() string { return "openai" }
func (c *ChatClient) Model() string    { return c.model }

func (c *ChatClient) Complete(ctx context.Context, prompt string) (string, error) {
	bodyBytes, err := json.Marshal(openAIRequest{
		Model:       c.model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	respBody, err := httpx.Do(ctx, c.httpClient, c.policy, c.limiter, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	var resp openAIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("parsing chat response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("chat API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat response")
	}
	content := resp.Choices[0].Message.Content
	if resp.Usage != nil {
		log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d", len(content), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	return content, nil
}

// --- Anthropic ---

type AnthropicClient struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int
	limiter     *httpx.Limiter
}

func NewAnthropicClient(apiKey, model string, temperature float64, maxTokens, maxAttempts int, limiter *httpx.Limiter) *AnthropicClient {
	if model == "" {
		model = defaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = 500
	}
	retries := maxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return &AnthropicClient{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(httpx.ExternalClient()),
			option.WithMaxRetries(retries),
		),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		limiter:     limiter,
	}
}

func (c *AnthropicClient) Provider() string { return "anthropic" }
func (c *AnthropicClient) Model() string    { return c.model }

func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(c.maxTokens),
		Temperature: anthropic.Float(c.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}

// jsonSpan returns the text between the first '{' and the last '}'.
func jsonSpan(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
