package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/ursadsp/dspgen/internal/types"
	"golang.org/x/time/rate"
)

// GeneratorConfig represents the configuration for the generation client.
type GeneratorConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string // Ollama server URL
	RetryLimit  int
	RetryBase   time.Duration
	RateLimit   float64 // requests per second toward the service
}

// Generator drives the external reasoning service. It is the only component
// that performs network I/O: it paces requests, retries transient failures
// with exponential backoff and jitter, and surfaces fatal failures
// immediately.
type Generator struct {
	config  GeneratorConfig
	llm     llms.Model
	limiter *rate.Limiter
}

// NewWithConfig creates a new Generator backed by an Ollama model.
func NewWithConfig(config GeneratorConfig) (*Generator, error) {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewWithModel(config, llm), nil
}

// NewWithModel wires the generator to an existing model client.
func NewWithModel(config GeneratorConfig, model llms.Model) *Generator {
	if config.RetryLimit == 0 {
		config.RetryLimit = 3
	}
	if config.RetryBase == 0 {
		config.RetryBase = 500 * time.Millisecond
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}

	return &Generator{
		config:  config,
		llm:     model,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// Invoke sends one structured prompt and returns the raw response. Transient
// failures are retried up to the configured limit; after exhausting retries
// the last cause escalates as fatal. Fatal failures are never retried.
func (g *Generator) Invoke(ctx context.Context, p types.Prompt) (types.Response, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, p.System),
		llms.TextParts(llms.ChatMessageTypeHuman, p.User),
	}

	var lastErr error
	for attempt := 0; attempt <= g.config.RetryLimit; attempt++ {
		if attempt > 0 {
			if err := g.backoff(ctx, attempt); err != nil {
				return types.Response{}, err
			}
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return types.Response{}, err
		}

		resp, err := g.llm.GenerateContent(ctx, content,
			llms.WithMaxTokens(g.config.MaxTokens),
			llms.WithTemperature(g.config.Temperature))
		if err == nil {
			if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
				lastErr = &TransientError{Err: errors.New("empty response from model")}
				continue
			}
			choice := resp.Choices[0]
			return types.Response{
				Text:         choice.Content,
				FinishReason: choice.StopReason,
			}, nil
		}

		classified := classify(err)
		var transient *TransientError
		if !errors.As(classified, &transient) {
			return types.Response{}, classified
		}
		lastErr = classified
	}

	// Retries exhausted: escalate with the cause preserved.
	cause := errors.Unwrap(lastErr)
	if cause == nil {
		cause = lastErr
	}
	return types.Response{}, &FatalError{
		Err: fmt.Errorf("retries exhausted after %d attempts: %w", g.config.RetryLimit+1, cause),
	}
}

// backoff sleeps for base*2^(attempt-1) plus up to one base of jitter,
// honoring cancellation.
func (g *Generator) backoff(ctx context.Context, attempt int) error {
	delay := g.config.RetryBase << (attempt - 1)
	delay += time.Duration(rand.Int63n(int64(g.config.RetryBase)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetRetryLimit overrides the retry bound for subsequent invocations. Runs
// are single-threaded through configuration, so no locking is needed here.
func (g *Generator) SetRetryLimit(limit int) {
	if limit > 0 {
		g.config.RetryLimit = limit
	}
}

// Model reports the configured model name for document metadata.
func (g *Generator) Model() string { return g.config.Model }
