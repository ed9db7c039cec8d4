package corpus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ursadsp/dspgen/internal/models"
)

// ErrCorpusUnavailable is returned when the corpus directory is missing or
// yields no usable fragments.
var ErrCorpusUnavailable = errors.New("corpus unavailable")

type CorpusConfig struct {
	Dir              string
	MaxFragmentChars int
}

// Corpus loads approved reference plans from a directory and exposes them as
// topic-keyed fragments. Markdown and plain text files are split on their
// headings; HTML exports are reduced to text first.
type Corpus struct {
	config CorpusConfig
}

func NewWithConfig(config CorpusConfig) *Corpus {
	if config.MaxFragmentChars == 0 {
		config.MaxFragmentChars = 4000
	}
	return &Corpus{config: config}
}

func New(dir string) *Corpus {
	return NewWithConfig(CorpusConfig{Dir: dir})
}

// Load reads every reference plan once. The returned fragments are immutable
// and ordered by file name then position, so repeated loads of the same
// directory produce identical ordinals.
func (c *Corpus) Load() ([]models.CorpusFragment, error) {
	entries, err := os.ReadDir(c.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorpusUnavailable, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		// Skip templates and hidden files
		if strings.HasPrefix(name, ".") || strings.Contains(name, "Template") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var fragments []models.CorpusFragment
	for _, name := range names {
		path := filepath.Join(c.config.Dir, name)
		text, err := readPlanText(path)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}

		sourceID := strings.TrimSuffix(name, filepath.Ext(name))
		for _, frag := range c.split(sourceID, text) {
			frag.Ordinal = len(fragments)
			fragments = append(fragments, frag)
		}
	}

	if len(fragments) == 0 {
		return nil, fmt.Errorf("%w: no reference plans in %s", ErrCorpusUnavailable, c.config.Dir)
	}

	return fragments, nil
}

// split cuts one plan into heading-delimited fragments. Content before the
// first heading is kept under the plan's own name as topic.
func (c *Corpus) split(sourceID, text string) []models.CorpusFragment {
	var fragments []models.CorpusFragment

	topic := Slug(sourceID)
	body := strings.Builder{}

	flush := func() {
		content := strings.TrimSpace(body.String())
		if content == "" {
			return
		}
		if len(content) > c.config.MaxFragmentChars {
			cut := c.config.MaxFragmentChars
			// Back off to a rune boundary so truncation never emits a
			// partial UTF-8 sequence.
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut]
		}
		fragments = append(fragments, models.CorpusFragment{
			SourceID: sourceID,
			Topic:    topic,
			Text:     content,
		})
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if heading, ok := headingText(line); ok {
			flush()
			topic = Slug(heading)
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return fragments
}

// headingText recognizes markdown headings and underlined plain-text section
// titles exported from word processors ("3. Data Storage" style).
func headingText(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "#") {
		return strings.TrimSpace(strings.TrimLeft(trimmed, "# ")), true
	}
	// Numbered top-level titles: "3. Data Storage", "IV. Access Control"
	if len(trimmed) > 3 && len(trimmed) < 80 {
		if i := strings.Index(trimmed, ". "); i > 0 && i <= 4 {
			prefix := trimmed[:i]
			if isNumberLike(prefix) {
				return strings.TrimSpace(trimmed[i+2:]), true
			}
		}
	}
	return "", false
}

func isNumberLike(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != 'I' && r != 'V' && r != 'X' {
			return false
		}
	}
	return len(s) > 0
}

func readPlanText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return extractHTMLText(string(data))
	case ".md", ".txt":
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported file type: %s", path)
	}
}

// extractHTMLText reduces an HTML plan export to readable text, preferring
// the main content area over boilerplate.
func extractHTMLText(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", err
	}

	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
	}

	var root *goquery.Selection
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			root = selected
			break
		}
	}
	if root == nil {
		root = doc.Find("body")
	}

	var out strings.Builder
	root.Find("h1, h2, h3, p, li").Each(func(_ int, sel *goquery.Selection) {
		text := cleanContent(sel.Text())
		if text == "" {
			return
		}
		if goquery.NodeName(sel) == "h1" || goquery.NodeName(sel) == "h2" || goquery.NodeName(sel) == "h3" {
			out.WriteString("# ")
		}
		out.WriteString(text)
		out.WriteString("\n")
	})

	if out.Len() == 0 {
		return cleanContent(root.Text()), nil
	}
	return out.String(), nil
}

func cleanContent(content string) string {
	// Remove extra whitespace
	content = strings.Join(strings.Fields(content), " ")

	// Remove common noise
	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}

// Slug normalizes a heading or identifier for topic matching: lowercase,
// non-alphanumerics collapsed to single underscores.
func Slug(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
