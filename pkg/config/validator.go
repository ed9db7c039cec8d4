package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature != nil && (*c.LLM.Temperature < 0 || *c.LLM.Temperature > 2) {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.RetryLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.retry_limit",
			Message: "retry_limit cannot be negative",
		})
	}

	if c.LLM.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate corpus config
	if c.Corpus.Dir == "" {
		errors = append(errors, ValidationError{
			Field:   "corpus.dir",
			Message: "corpus directory is required",
		})
	}

	if c.Corpus.MaxFragmentChars < 1 {
		errors = append(errors, ValidationError{
			Field:   "corpus.max_fragment_chars",
			Message: "max_fragment_chars must be positive",
		})
	}

	// Validate retrieval config
	if c.Retrieval.K < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.k",
			Message: "k must be positive",
		})
	}

	if c.Retrieval.Strategy != "overlap" && c.Retrieval.Strategy != "embedding" {
		errors = append(errors, ValidationError{
			Field:   "retrieval.strategy",
			Message: fmt.Sprintf("unknown strategy: %s", c.Retrieval.Strategy),
		})
	}

	// Validate pipeline config
	if c.Pipeline.MaxConcurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.max_concurrency",
			Message: "max_concurrency must be positive",
		})
	}

	if c.Pipeline.DigestLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.digest_limit",
			Message: "digest_limit must be positive",
		})
	}

	// Validate archive config
	if c.Archive.URL != "" {
		if _, err := url.Parse(c.Archive.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "archive.url",
				Message: "invalid database URL",
			})
		}

		if c.Archive.VectorDim < 1 {
			errors = append(errors, ValidationError{
				Field:   "archive.vector_dim",
				Message: "vector_dim must be positive",
			})
		}
	}

	return errors
}
