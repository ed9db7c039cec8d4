package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
		// Pointer so an explicit temperature of 0 (deterministic runs)
		// survives defaulting.
		Temperature *float64 `yaml:"temperature"`
		MaxTokens   int      `yaml:"max_tokens"`
		RetryLimit  int      `yaml:"retry_limit"`
		RetryBaseMS int      `yaml:"retry_base_ms"`
		RateLimit   float64  `yaml:"rate_limit"`
	} `yaml:"llm"`

	Corpus struct {
		Dir              string `yaml:"dir"`
		MaxFragmentChars int    `yaml:"max_fragment_chars"`
	} `yaml:"corpus"`

	Retrieval struct {
		K          int    `yaml:"k"`
		Strategy   string `yaml:"strategy"` // overlap or embedding
		EmbedModel string `yaml:"embed_model"`
	} `yaml:"retrieval"`

	Pipeline struct {
		MaxConcurrency int `yaml:"max_concurrency"`
		// Pointer so an explicit false survives defaulting (default true).
		AllowPartial *bool `yaml:"allow_partial"`
		DigestLimit  int   `yaml:"digest_limit"`
	} `yaml:"pipeline"`

	Archive struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"archive"`

	Output struct {
		Dir string `yaml:"dir"`
	} `yaml:"output"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/dspgen/config.yaml"),
			"/etc/dspgen/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == nil {
		temperature := 0.2
		config.LLM.Temperature = &temperature
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.RetryLimit == 0 {
		config.LLM.RetryLimit = 3
	}
	if config.LLM.RetryBaseMS == 0 {
		config.LLM.RetryBaseMS = 500
	}
	if config.LLM.RateLimit == 0 {
		config.LLM.RateLimit = 2.0
	}

	if config.Corpus.Dir == "" {
		config.Corpus.Dir = "example_dsps"
	}
	if config.Corpus.MaxFragmentChars == 0 {
		config.Corpus.MaxFragmentChars = 4000
	}

	if config.Retrieval.K == 0 {
		config.Retrieval.K = 4
	}
	if config.Retrieval.Strategy == "" {
		config.Retrieval.Strategy = "overlap"
	}
	if config.Retrieval.EmbedModel == "" {
		config.Retrieval.EmbedModel = "nomic-embed-text:latest"
	}

	if config.Pipeline.MaxConcurrency == 0 {
		config.Pipeline.MaxConcurrency = 2
	}
	if config.Pipeline.AllowPartial == nil {
		allowPartial := true
		config.Pipeline.AllowPartial = &allowPartial
	}
	if config.Pipeline.DigestLimit == 0 {
		config.Pipeline.DigestLimit = 600
	}

	if config.Archive.TableName == "" {
		config.Archive.TableName = "plan_sections"
	}
	if config.Archive.VectorDim == 0 {
		config.Archive.VectorDim = 768
	}

	if config.Output.Dir == "" {
		config.Output.Dir = "out"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Archive.URL = dbURL
	}
	if dir := os.Getenv("DSP_CORPUS_DIR"); dir != "" {
		config.Corpus.Dir = dir
	}
}
