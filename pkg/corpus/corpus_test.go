package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlan(t *testing.T, dir, name, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644)
	require.NoError(t, err)
}

func TestLoadSplitsOnHeadings(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, "genomics_plan.md", `Preamble text about the plan.

# Data Storage and Infrastructure

All data is stored on the research cluster.

# Access Control

Access requires VPN and Duo.
`)

	c := New(dir)
	fragments, err := c.Load()
	require.NoError(t, err)
	require.Len(t, fragments, 3)

	assert.Equal(t, "genomics_plan", fragments[0].Topic)
	assert.Contains(t, fragments[0].Text, "Preamble")

	assert.Equal(t, "data_storage_and_infrastructure", fragments[1].Topic)
	assert.Contains(t, fragments[1].Text, "research cluster")

	assert.Equal(t, "access_control", fragments[2].Topic)

	for i, frag := range fragments {
		assert.Equal(t, i, frag.Ordinal)
		assert.Equal(t, "genomics_plan", frag.SourceID)
	}
}

func TestLoadSkipsTemplatesAndHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, "DSP_Template.md", "# Overview\nFill in here.\n")
	writePlan(t, dir, ".draft.md", "# Overview\nHidden draft.\n")
	writePlan(t, dir, "approved.md", "# Overview\nApproved plan text.\n")

	fragments, err := New(dir).Load()
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Equal(t, "approved", fragments[0].SourceID)
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope")).Load()
	assert.True(t, errors.Is(err, ErrCorpusUnavailable))
}

func TestLoadEmptyDirectory(t *testing.T) {
	_, err := New(t.TempDir()).Load()
	assert.True(t, errors.Is(err, ErrCorpusUnavailable))
}

func TestLoadHTMLPlan(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, "cluster_plan.html", `<html><body>
<nav>Cookie Policy</nav>
<main>
  <h2>Data Storage</h2>
  <p>Data lives on an encrypted volume.</p>
  <h2>Retention</h2>
  <p>Data is retained for five years.</p>
</main>
</body></html>`)

	fragments, err := New(dir).Load()
	require.NoError(t, err)
	require.Len(t, fragments, 2)

	assert.Equal(t, "data_storage", fragments[0].Topic)
	assert.Contains(t, fragments[0].Text, "encrypted volume")
	assert.Equal(t, "retention", fragments[1].Topic)
}

func TestNumberedHeadings(t *testing.T) {
	heading, ok := headingText("3. Data Storage")
	assert.True(t, ok)
	assert.Equal(t, "Data Storage", heading)

	heading, ok = headingText("IV. Access Control")
	assert.True(t, ok)
	assert.Equal(t, "Access Control", heading)

	_, ok = headingText("Stored on a workstation. Encrypted at rest.")
	assert.False(t, ok)
}

func TestFragmentTruncation(t *testing.T) {
	dir := t.TempDir()
	long := "# Overview\n"
	for i := 0; i < 100; i++ {
		long += "This sentence pads the section body well past the limit.\n"
	}
	writePlan(t, dir, "long.md", long)

	c := NewWithConfig(CorpusConfig{Dir: dir, MaxFragmentChars: 120})
	fragments, err := c.Load()
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.LessOrEqual(t, len(fragments[0].Text), 120)
}

func TestFragmentTruncationKeepsValidUTF8(t *testing.T) {
	dir := t.TempDir()
	// é is two bytes; an odd byte limit lands inside one of them.
	writePlan(t, dir, "accents.md", "# Overview\n"+strings.Repeat("é", 60))

	c := NewWithConfig(CorpusConfig{Dir: dir, MaxFragmentChars: 21})
	fragments, err := c.Load()
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.LessOrEqual(t, len(fragments[0].Text), 21)
	assert.True(t, utf8.ValidString(fragments[0].Text))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "data_storage_and_infrastructure", Slug("Data Storage and Infrastructure"))
	assert.Equal(t, "incident_response", Slug("  Incident / Response!  "))
	assert.Equal(t, "p3_moderate", Slug("P3 (Moderate)"))
	assert.Equal(t, "", Slug("---"))
}
