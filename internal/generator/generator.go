// Package generator reaches the text generation backends: a local Ollama
// server over HTTP and cloud providers speaking the OpenAI chat protocol.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyResponse is returned when a backend answers with no text.
	ErrEmptyResponse = errors.New("empty response from generator")
	// ErrMissingAPIKey is returned when a cloud backend has no credentials.
	ErrMissingAPIKey = errors.New("api key not configured")
)

// Response is one generated answer.
type Response struct {
	Text             string        `json:"text"`
	Model            string        `json:"model"`
	Latency          time.Duration `json:"latency"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
}

// Generator turns a prompt into text. Implementations are stateless and safe
// for concurrent use.
type Generator interface {
	Name() string
	Model() string
	Generate(ctx context.Context, prompt string) (Response, error)
}

// Options are the sampling parameters sent with every request. Zero values
// are omitted from the request and left to the backend default.
type Options struct {
	Temperature   float64       `mapstructure:"temperature" json:"temperature"`
	NumPredict    int           `mapstructure:"num_predict" json:"num_predict,omitempty"`
	NumCtx        int           `mapstructure:"num_ctx" json:"num_ctx,omitempty"`
	RepeatPenalty float64       `mapstructure:"repeat_penalty" json:"repeat_penalty,omitempty"`
	KeepAlive     string        `mapstructure:"keep_alive" json:"keep_alive,omitempty"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
}

// Checker is implemented by backends that can tell whether they are
// reachable before any prompt is sent.
type Checker interface {
	IsAvailable(ctx context.Context) error
}

// CheckAvailable asks g, or the backend behind a rate limiter, whether it
// is reachable. Backends without a check are assumed up.
func CheckAvailable(ctx context.Context, g Generator) error {
	if l, ok := g.(*Limited); ok {
		g = l.Generator
	}
	if c, ok := g.(Checker); ok {
		return c.IsAvailable(ctx)
	}
	return nil
}

// Config selects and configures a backend.
type Config struct {
	Backend string  `mapstructure:"backend" json:"backend"`
	Model   string  `mapstructure:"model" json:"model"`
	BaseURL string  `mapstructure:"base_url" json:"base_url,omitempty"`
	APIKey  string  `mapstructure:"api_key" json:"-"`
	Options Options `mapstructure:",squash" json:"options"`
	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" json:"rate_limit,omitempty"`
}

const defaultTimeout = 120 * time.Second

// New builds the backend named by cfg.Backend.
func New(cfg Config) (Generator, error) {
	var (
		g   Generator
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case "ollama", "":
		g = NewOllama(cfg.BaseURL, cfg.Model, cfg.Options)
	case ProviderOpenAI, ProviderOpenRouter, ProviderGemini:
		g, err = NewCloud(strings.ToLower(cfg.Backend), cfg.Model, cfg.APIKey, cfg.BaseURL, cfg.Options)
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RateLimit > 0 {
		g = NewLimited(g, cfg.RateLimit, 1)
	}
	return g, nil
}
