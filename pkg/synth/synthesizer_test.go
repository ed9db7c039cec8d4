package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ursadsp/dspgen/internal/models"
	"github.com/ursadsp/dspgen/internal/types"
	"github.com/ursadsp/dspgen/pkg/schema"
)

// scriptedGenerator returns queued responses and records the prompts it saw.
type scriptedGenerator struct {
	responses []string
	errs      []error
	prompts   []types.Prompt
}

func (g *scriptedGenerator) Invoke(ctx context.Context, p types.Prompt) (types.Response, error) {
	i := len(g.prompts)
	g.prompts = append(g.prompts, p)
	if i < len(g.errs) && g.errs[i] != nil {
		return types.Response{}, g.errs[i]
	}
	text := ""
	if i < len(g.responses) {
		text = g.responses[i]
	}
	return types.Response{Text: text, FinishReason: "stop"}, nil
}

func testSpec() models.SectionSpec {
	return models.SectionSpec{
		ID:           "retention",
		Title:        "Data Retention",
		Ordinal:      7,
		Instructions: "State how long project data is retained.",
		Fields: []models.FieldSpec{
			{Name: "retention_date", Type: models.FieldDate},
			{Name: "body", Type: models.FieldText, Rule: "minlen:20"},
		},
	}
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	registry, err := schema.NewRegistry([]models.SectionSpec{testSpec()})
	require.NoError(t, err)
	return registry
}

const goodResponse = "```json\n" +
	`{"retention_date": "2030-06-30", "body": "Data is retained until the provider agreement expires."}` +
	"\n```"

func TestSynthesizeValidFirstPass(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{goodResponse}}
	s := New(gen, testRegistry(t))

	res, err := s.Synthesize(context.Background(), testSpec(), "a genomics project", nil, "")
	require.NoError(t, err)

	assert.Equal(t, models.SectionValid, res.Status)
	assert.Equal(t, "retention", res.SectionID)
	assert.Equal(t, "2030-06-30", res.Fields["retention_date"])
	require.Len(t, gen.prompts, 1)
}

func TestSynthesizeRepairRecovers(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"retention_date": "sometime in 2030", "body": "Data is retained until the provider agreement expires."}`,
		goodResponse,
	}}
	s := New(gen, testRegistry(t))

	res, err := s.Synthesize(context.Background(), testSpec(), "a genomics project", nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.SectionValid, res.Status)
	require.Len(t, gen.prompts, 2)

	// The repair prompt must show the model its rejected output and the reason
	assert.Contains(t, gen.prompts[1].User, "sometime in 2030")
	assert.Contains(t, gen.prompts[1].User, "retention_date")
}

func TestSynthesizeInvalidAfterRepair(t *testing.T) {
	bad := `{"retention_date": "never", "body": "short"}`
	gen := &scriptedGenerator{responses: []string{bad, bad}}
	s := New(gen, testRegistry(t))

	res, err := s.Synthesize(context.Background(), testSpec(), "a genomics project", nil, "")
	require.Error(t, err)

	var sectionErr *SectionError
	require.True(t, errors.As(err, &sectionErr))
	assert.Equal(t, "retention", sectionErr.SectionID)

	assert.Equal(t, models.SectionFailed, res.Status)
	assert.Contains(t, res.Reason, "invalid after repair")
	require.Len(t, gen.prompts, 2)
}

func TestSynthesizeGenerationFailure(t *testing.T) {
	cause := errors.New("model offline")
	gen := &scriptedGenerator{errs: []error{cause}}
	s := New(gen, testRegistry(t))

	res, err := s.Synthesize(context.Background(), testSpec(), "a genomics project", nil, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, models.SectionFailed, res.Status)
}

func TestParseFieldsToleratesProse(t *testing.T) {
	raw := "Here is the section you asked for:\n```json\n" +
		`{"retention_date": " 2030-06-30 ", "body": "Kept for the life of the agreement."}` +
		"\n```\nLet me know if you need changes."

	fields, err := parseFields(raw, testSpec())
	require.NoError(t, err)
	assert.Equal(t, "2030-06-30", fields["retention_date"])
}

func TestParseFieldsNoObject(t *testing.T) {
	_, err := parseFields("I cannot answer that.", testSpec())
	assert.ErrorContains(t, err, "no JSON object")
}

func TestCoerceQuotedBool(t *testing.T) {
	spec := models.SectionSpec{
		ID: "classification",
		Fields: []models.FieldSpec{
			{Name: "is_cui", Type: models.FieldBool},
		},
	}

	fields, err := parseFields(`{"is_cui": "Yes"}`, spec)
	require.NoError(t, err)
	assert.Equal(t, true, fields["is_cui"])
}

func TestPromptCarriesFragmentsAndDigest(t *testing.T) {
	fragments := []models.CorpusFragment{
		{SourceID: "approved_plan", Topic: "retention", Text: "Retained for five years."},
	}
	p := buildPrompt(testSpec(), "a genomics project", fragments, "overview.project_name = Genomics")

	assert.Contains(t, p.User, "START EXAMPLE [approved_plan / retention]")
	assert.Contains(t, p.User, "Facts established by earlier sections")
	assert.Contains(t, p.User, "overview.project_name = Genomics")
	assert.Contains(t, p.System, "Compliance Officer")
}

func TestPromptWithoutFragments(t *testing.T) {
	p := buildPrompt(testSpec(), "a genomics project", nil, "")

	assert.NotContains(t, p.User, "START EXAMPLE")
	assert.Contains(t, p.User, "No reference examples")
	assert.False(t, strings.Contains(p.User, "Facts established"))
}
