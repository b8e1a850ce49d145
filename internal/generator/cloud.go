package generator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Cloud providers reachable through the OpenAI chat-completions protocol.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

type providerInfo struct {
	baseURL string
	envKey  string
}

var providers = map[string]providerInfo{
	ProviderOpenAI:     {baseURL: "https://api.openai.com/v1", envKey: "OPENAI_API_KEY"},
	ProviderOpenRouter: {baseURL: "https://openrouter.ai/api/v1", envKey: "OPENROUTER_API_KEY"},
	ProviderGemini:     {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", envKey: "GEMINI_API_KEY"},
}

// Cloud is a chat-completions backend.
type Cloud struct {
	provider string
	model    string
	opts     Options
	client   *openai.Client
}

// NewCloud builds a client for provider. An empty apiKey is read from the
// provider's environment variable; an empty baseURL uses the provider's
// public endpoint.
func NewCloud(provider, model, apiKey, baseURL string, opts Options) (*Cloud, error) {
	info, ok := providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown cloud provider: %s", provider)
	}
	if apiKey == "" {
		apiKey = os.Getenv(info.envKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w (set %s)", provider, ErrMissingAPIKey, info.envKey)
	}
	if baseURL == "" {
		baseURL = info.baseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Cloud{
		provider: provider,
		model:    model,
		opts:     opts,
		client:   openai.NewClientWithConfig(cfg),
	}, nil
}

func (c *Cloud) Name() string  { return c.provider }
func (c *Cloud) Model() string { return c.model }

func (c *Cloud) Generate(ctx context.Context, prompt string) (Response, error) {
	start := time.Now()
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(c.opts.Temperature),
	}
	if c.opts.NumPredict > 0 {
		req.MaxTokens = c.opts.NumPredict
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("%s error: %w", c.provider, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Response{}, ErrEmptyResponse
	}

	return Response{
		Text:             resp.Choices[0].Message.Content,
		Model:            c.model,
		Latency:          time.Since(start),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
