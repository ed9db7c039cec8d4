package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ursadsp/dspgen/internal/models"
)

type recordingArchiver struct {
	stored []models.DocumentModel
	err    error
	closed bool
}

func (r *recordingArchiver) Store(_ context.Context, doc models.DocumentModel) error {
	r.stored = append(r.stored, doc)
	return r.err
}

func (r *recordingArchiver) Close() {
	r.closed = true
}

func TestArchiveDocumentStoresAndCloses(t *testing.T) {
	archive := &recordingArchiver{}
	doc := models.DocumentModel{ProjectName: "Neutron Imaging"}

	archiveDocument(context.Background(), archive, doc)

	require.Len(t, archive.stored, 1)
	assert.Equal(t, "Neutron Imaging", archive.stored[0].ProjectName)
	assert.True(t, archive.closed)
}

func TestArchiveDocumentClosesOnStoreFailure(t *testing.T) {
	archive := &recordingArchiver{err: errors.New("connection refused")}

	archiveDocument(context.Background(), archive, models.DocumentModel{})

	assert.True(t, archive.closed)
}

func TestResolveSummaryFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Summary.md")
	require.NoError(t, os.WriteFile(path, []byte("A study of neutron flux."), 0644))

	text, err := resolveSummary(path)
	require.NoError(t, err)
	assert.Equal(t, "A study of neutron flux.", text)
}

func TestResolveSummaryRawText(t *testing.T) {
	text, err := resolveSummary("We will collect survey data from participants.")
	require.NoError(t, err)
	assert.Contains(t, text, "survey data")
}

func TestResolveSummaryUnknownIdentifier(t *testing.T) {
	_, err := resolveSummary("no-such-project")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errSummaryNotFound))
}

func TestGuessProjectName(t *testing.T) {
	assert.Equal(t, "Summary", guessProjectName("projects/neutron/Summary.md"))
	assert.Equal(t, "Research Project", guessProjectName("-"))
	assert.Equal(t, "Research Project", guessProjectName("raw summary text"))
}
