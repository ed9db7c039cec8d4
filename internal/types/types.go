package types

import (
	"context"

	"github.com/ursadsp/dspgen/internal/models"
)

// Core interfaces

// CorpusSource loads the reference corpus once per process. Implementations
// return ErrCorpusUnavailable-style errors when nothing can be loaded.
type CorpusSource interface {
	Load() ([]models.CorpusFragment, error)
}

// Registry exposes the section schema: specs in dependency order plus field
// validation for candidate section content.
type Registry interface {
	Specs() ([]models.SectionSpec, error)
	Validate(sectionID string, fields map[string]any) models.ValidationStatus
}

// Selector picks the corpus fragments most relevant to a section. It must be
// deterministic for identical inputs and may return an empty slice.
type Selector interface {
	Select(sectionID, summary string, corpus []models.CorpusFragment) []models.CorpusFragment
}

// Prompt is the structured input handed to the generation client.
type Prompt struct {
	System string
	User   string
}

// Response is the raw generation output before parsing.
type Response struct {
	Text         string
	FinishReason string
}

// Generator is the only component allowed to perform network I/O. Transient
// failures are retried internally; callers see either a response or a
// classified terminal error.
type Generator interface {
	Invoke(ctx context.Context, p Prompt) (Response, error)
}

// Synthesizer produces exactly one SectionResult for a spec given the
// retrieved fragments and a digest of already-completed dependencies.
type Synthesizer interface {
	Synthesize(ctx context.Context, spec models.SectionSpec, summary string, fragments []models.CorpusFragment, digest string) (models.SectionResult, error)
}

// Archiver persists a completed document for later reference.
type Archiver interface {
	Store(ctx context.Context, doc models.DocumentModel) error
	Close()
}
