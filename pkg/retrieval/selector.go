package retrieval

import (
	"sort"
	"strings"

	"github.com/ursadsp/dspgen/internal/models"
)

// Scorer ranks candidate fragments against a project summary. A nil or
// partial result makes the selector fall back to token overlap, which keeps
// selection deterministic even when a remote scorer is unavailable.
type Scorer interface {
	Score(summary string, texts []string) []float64
}

type SelectorConfig struct {
	K      int
	Scorer Scorer
}

// Selector picks the top-K corpus fragments for a section. Selection is
// deterministic for identical inputs: fragments are filtered by topic,
// scored, and ordered by score with corpus load order breaking ties.
type Selector struct {
	config SelectorConfig
}

func NewWithConfig(config SelectorConfig) *Selector {
	if config.K == 0 {
		config.K = 4
	}
	if config.Scorer == nil {
		config.Scorer = OverlapScorer{}
	}
	return &Selector{config: config}
}

func New(k int) *Selector {
	return NewWithConfig(SelectorConfig{K: k})
}

// Select returns at most K fragments whose topic matches the section,
// ranked by relevance to the summary. Zero matches is not an error; the
// synthesizer falls back to schema-only prompting.
func (s *Selector) Select(sectionID, summary string, corpus []models.CorpusFragment) []models.CorpusFragment {
	var candidates []models.CorpusFragment
	for _, frag := range corpus {
		if topicMatches(sectionID, frag.Topic) {
			candidates = append(candidates, frag)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	texts := make([]string, len(candidates))
	for i, frag := range candidates {
		texts[i] = frag.Text
	}

	scores := s.config.Scorer.Score(summary, texts)
	if len(scores) != len(candidates) {
		scores = OverlapScorer{}.Score(summary, texts)
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return candidates[order[a]].Ordinal < candidates[order[b]].Ordinal
	})

	k := s.config.K
	if k > len(order) {
		k = len(order)
	}
	selected := make([]models.CorpusFragment, 0, k)
	for _, idx := range order[:k] {
		selected = append(selected, candidates[idx])
	}
	return selected
}

// topicMatches reports whether a fragment topic covers the section: every
// token of the section id must appear among the topic's tokens, so
// "data_storage" matches "data_storage_and_infrastructure".
func topicMatches(sectionID, topic string) bool {
	if sectionID == topic {
		return true
	}
	topicTokens := make(map[string]bool)
	for _, t := range strings.Split(topic, "_") {
		topicTokens[t] = true
	}
	for _, t := range strings.Split(sectionID, "_") {
		if !topicTokens[t] {
			return false
		}
	}
	return true
}

// OverlapScorer counts distinct summary tokens appearing in a fragment.
// Stopwords are ignored so boilerplate does not dominate the score.
type OverlapScorer struct{}

func (OverlapScorer) Score(summary string, texts []string) []float64 {
	summaryTokens := tokenSet(summary)
	scores := make([]float64, len(texts))
	for i, text := range texts {
		count := 0
		for token := range tokenSet(text) {
			if summaryTokens[token] {
				count++
			}
		}
		scores[i] = float64(count)
	}
	return scores
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:()[]{}\"'`!?*#")
		if len(word) < 3 || stopwords[word] {
			continue
		}
		set[word] = true
	}
	return set
}

// Common English stopwords
var stopwords = map[string]bool{
	"and": true, "are": true, "for": true, "from": true, "has": true,
	"its": true, "that": true, "the": true, "was": true, "were": true,
	"will": true, "with": true, "this": true, "have": true, "been": true,
	"all": true, "any": true, "not": true, "our": true, "their": true,
}
