package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ursadsp/dspgen/internal/models"
)

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "clean text", sanitizeUTF8("clean text"))
	assert.Equal(t, "naïve plan", sanitizeUTF8("naïve plan"))

	dirty := "broken" + string([]byte{0xff, 0xfe}) + "bytes"
	cleaned := sanitizeUTF8(dirty)
	assert.Equal(t, "brokenbytes", cleaned)
}

// TestArchiveRoundTrip exercises the real database path. It is skipped unless
// a PostgreSQL instance with pgvector is reachable.
func TestArchiveRoundTrip(t *testing.T) {
	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set")
	}

	archive, err := NewWithConfig(ArchiveConfig{
		ConnString: connString,
		TableName:  "test_plan_sections",
	})
	require.NoError(t, err)
	defer archive.Close()

	doc := models.DocumentModel{
		RunID:       "test-run",
		ProjectName: "Archive Test",
		GeneratedAt: time.Now().UTC(),
		Sections: []models.SectionResult{
			{
				SectionID: "overview",
				Title:     "Project Overview",
				Status:    models.SectionValid,
				Fields:    map[string]any{"body": "Genomics data handled under a data use agreement."},
			},
			{
				SectionID: "storage",
				Title:     "Data Storage",
				Status:    models.SectionFailed,
				Reason:    "not archived",
			},
		},
	}

	require.NoError(t, archive.Store(context.Background(), doc))

	sections, err := archive.SimilarSections(context.Background(), "genomics data agreement", 3)
	require.NoError(t, err)
	require.NotEmpty(t, sections)
	assert.Equal(t, models.SectionValid, sections[0].Status)
}
