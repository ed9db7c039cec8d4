package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/ursadsp/dspgen/internal/models"
)

type ArchiveConfig struct {
	ConnString   string
	TableName    string
	VectorDim    int
	EmbedModel   string
	EmbedBaseURL string
	SearchLimit  int
}

// Archive persists generated plan sections with embeddings so approved runs
// can later serve as reference material.
type Archive struct {
	config ArchiveConfig
	pool   *pgxpool.Pool
	embed  *ollama.LLM
}

func NewWithConfig(config ArchiveConfig) (*Archive, error) {
	if config.TableName == "" {
		config.TableName = "plan_sections"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text:latest"
	}
	if config.EmbedBaseURL == "" {
		config.EmbedBaseURL = "http://localhost:11434"
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	embed, err := ollama.New(
		ollama.WithModel(config.EmbedModel),
		ollama.WithServerURL(config.EmbedBaseURL))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %v", err)
	}

	a := &Archive{
		config: config,
		pool:   pool,
		embed:  embed,
	}

	if err := a.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return a, nil
}

func (a *Archive) initialize() error {
	ctx := context.Background()

	// Enable pgvector extension
	_, err := a.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			project_name TEXT,
			section_id TEXT NOT NULL,
			title TEXT,
			body TEXT,
			fields JSONB,
			generated_at TIMESTAMPTZ,
			embedding vector(%d)
		)`, a.config.TableName, a.config.VectorDim)

	_, err = a.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		a.config.TableName, a.config.TableName)

	_, err = a.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}

	return nil
}

// Store upserts every valid section of the document in one transaction.
// Failed or skipped sections are not archived.
func (a *Archive) Store(ctx context.Context, doc models.DocumentModel) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, run_id, project_name, section_id, title, body, fields, generated_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			body = EXCLUDED.body,
			fields = EXCLUDED.fields,
			embedding = EXCLUDED.embedding`,
		a.config.TableName)

	for _, section := range doc.Sections {
		if section.Status != models.SectionValid {
			continue
		}

		body, _ := section.Fields["body"].(string)
		body = sanitizeUTF8(body)

		embeddings, err := a.embed.CreateEmbedding(ctx, []string{body})
		if err != nil {
			return fmt.Errorf("failed to create embeddings: %v", err)
		}
		if len(embeddings) != 1 {
			return fmt.Errorf("unexpected embedding count: %d", len(embeddings))
		}

		id := fmt.Sprintf("%s_%s", doc.RunID, section.SectionID)
		_, err = tx.Exec(ctx, stmt,
			id,
			doc.RunID,
			doc.ProjectName,
			section.SectionID,
			section.Title,
			body,
			section.Fields,
			doc.GeneratedAt,
			pgvector.NewVector(embeddings[0]),
		)
		if err != nil {
			return fmt.Errorf("failed to insert section: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

// SimilarSections returns archived sections closest to the query text, most
// similar first.
func (a *Archive) SimilarSections(ctx context.Context, query string, limit int) ([]models.SectionResult, error) {
	if limit == 0 {
		limit = a.config.SearchLimit
	}

	embeddings, err := a.embed.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %v", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("unexpected embedding count: %d", len(embeddings))
	}

	sql := fmt.Sprintf(`
		SELECT section_id, title, body
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		a.config.TableName)

	rows, err := a.pool.Query(ctx, sql, pgvector.NewVector(embeddings[0]), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %v", err)
	}
	defer rows.Close()

	var sections []models.SectionResult
	for rows.Next() {
		var section models.SectionResult
		var body string
		if err := rows.Scan(&section.SectionID, &section.Title, &body); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		section.Status = models.SectionValid
		section.Fields = map[string]any{"body": body}
		sections = append(sections, section)
	}

	return sections, nil
}

func (a *Archive) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
