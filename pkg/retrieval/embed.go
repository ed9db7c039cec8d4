package retrieval

import (
	"context"
	"math"

	"github.com/tmc/langchaingo/llms/ollama"
)

// EmbedConfig mirrors the generation config for the embedding model.
type EmbedConfig struct {
	Model   string
	BaseURL string // Ollama server URL
}

// EmbeddingScorer ranks fragments by cosine similarity between summary and
// fragment embeddings. The corpus is scanned in memory on every call; there
// is no index. Given a fixed model version the ranking is reproducible, so
// the selector contract still holds.
type EmbeddingScorer struct {
	config EmbedConfig
	llm    *ollama.LLM
}

func NewEmbeddingScorer(config EmbedConfig) (*EmbeddingScorer, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	llm, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, err
	}

	return &EmbeddingScorer{config: config, llm: llm}, nil
}

// Score embeds the summary and every candidate in one batch. On any
// embedding failure it returns nil, which makes the selector fall back to
// deterministic token overlap instead of failing the section.
func (e *EmbeddingScorer) Score(summary string, texts []string) []float64 {
	inputs := make([]string, 0, len(texts)+1)
	inputs = append(inputs, summary)
	inputs = append(inputs, texts...)

	embeddings, err := e.llm.CreateEmbedding(context.Background(), inputs)
	if err != nil || len(embeddings) != len(inputs) {
		return nil
	}

	query := embeddings[0]
	scores := make([]float64, len(texts))
	for i, emb := range embeddings[1:] {
		scores[i] = cosine(query, emb)
	}
	return scores
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
