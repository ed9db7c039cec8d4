package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ursadsp/dspgen/internal/models"
	"github.com/ursadsp/dspgen/internal/types"
)

// SectionError reports why one section could not be synthesized.
type SectionError struct {
	SectionID string
	Reason    string
	Err       error
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("section %s: %s", e.SectionID, e.Reason)
}

func (e *SectionError) Unwrap() error { return e.Err }

// Synthesizer produces one validated SectionResult per section. Model output
// is untrusted input: it is parsed and validated, with at most one repair
// round-trip before the section is marked failed.
type Synthesizer struct {
	generator types.Generator
	registry  types.Registry
}

func New(generator types.Generator, registry types.Registry) *Synthesizer {
	return &Synthesizer{generator: generator, registry: registry}
}

// Synthesize builds the section prompt, invokes the generation client and
// validates the parsed response. An empty fragment set is fine: the prompt
// simply carries no reference examples.
func (s *Synthesizer) Synthesize(ctx context.Context, spec models.SectionSpec, summary string, fragments []models.CorpusFragment, digest string) (models.SectionResult, error) {
	prompt := buildPrompt(spec, summary, fragments, digest)

	resp, err := s.generator.Invoke(ctx, prompt)
	if err != nil {
		return failed(spec, fmt.Sprintf("generation failed: %v", err)),
			&SectionError{SectionID: spec.ID, Reason: "generation failed", Err: err}
	}

	fields, parseErr := parseFields(resp.Text, spec)
	status := models.ValidationStatus{Code: models.TypeMismatch}
	if parseErr == nil {
		status = s.registry.Validate(spec.ID, fields)
	}

	if !status.Valid() {
		// One repair round-trip: show the model its own output and the
		// exact violations, then re-validate.
		reason := status.String()
		if parseErr != nil {
			reason = parseErr.Error()
		}
		repairResp, err := s.generator.Invoke(ctx, buildRepairPrompt(spec, resp.Text, reason))
		if err != nil {
			return failed(spec, fmt.Sprintf("repair failed: %v", err)),
				&SectionError{SectionID: spec.ID, Reason: "repair failed", Err: err}
		}
		resp = repairResp
		fields, parseErr = parseFields(resp.Text, spec)
		if parseErr != nil {
			reason := fmt.Sprintf("unparseable after repair: %v", parseErr)
			return failed(spec, reason), &SectionError{SectionID: spec.ID, Reason: reason}
		}
		status = s.registry.Validate(spec.ID, fields)
		if !status.Valid() {
			reason := "invalid after repair: " + status.String()
			return failed(spec, reason), &SectionError{SectionID: spec.ID, Reason: reason}
		}
	}

	return models.SectionResult{
		SectionID: spec.ID,
		Title:     spec.Title,
		Fields:    fields,
		RawText:   resp.Text,
		Status:    models.SectionValid,
	}, nil
}

func failed(spec models.SectionSpec, reason string) models.SectionResult {
	return models.SectionResult{
		SectionID: spec.ID,
		Title:     spec.Title,
		Status:    models.SectionFailed,
		Reason:    reason,
	}
}

// parseFields extracts the JSON object from raw model output. Code fences
// and surrounding prose are tolerated; the object itself must parse.
func parseFields(raw string, spec models.SectionSpec) (map[string]any, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.ReplaceAll(clean, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")

	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(clean[start:end+1]), &fields); err != nil {
		return nil, fmt.Errorf("malformed JSON: %v", err)
	}

	coerce(fields, spec)
	return fields, nil
}

// coerce applies the small set of conversions models get wrong reliably:
// quoted booleans and stray whitespace.
func coerce(fields map[string]any, spec models.SectionSpec) {
	for _, f := range spec.Fields {
		value, ok := fields[f.Name]
		if !ok {
			continue
		}
		switch f.Type {
		case models.FieldBool:
			if s, ok := value.(string); ok {
				switch strings.ToLower(strings.TrimSpace(s)) {
				case "true", "yes":
					fields[f.Name] = true
				case "false", "no":
					fields[f.Name] = false
				}
			}
		case models.FieldString, models.FieldEnum, models.FieldDate:
			if s, ok := value.(string); ok {
				fields[f.Name] = strings.TrimSpace(s)
			}
		}
	}
}
