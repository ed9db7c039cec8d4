package assembler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ursadsp/dspgen/internal/models"
)

// ContextDigest is the bounded running summary of facts established by
// completed sections. It is folded only by the assembler between scheduling
// waves (single writer); synthesizer goroutines read snapshots concurrently.
type ContextDigest struct {
	mu    sync.RWMutex
	limit int // character budget per section
	facts map[string]string
}

func NewDigest(limit int) *ContextDigest {
	if limit <= 0 {
		limit = 600
	}
	return &ContextDigest{limit: limit, facts: make(map[string]string)}
}

// Fold records the key facts of a validated section. Structured fields are
// kept; long prose bodies are dropped so the digest stays bounded.
func (d *ContextDigest) Fold(res models.SectionResult) {
	if res.Status != models.SectionValid {
		return
	}

	names := make([]string, 0, len(res.Fields))
	for name := range res.Fields {
		if name == "body" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		line := fmt.Sprintf("%s.%s = %s\n", res.SectionID, name, factValue(res.Fields[name]))
		if b.Len()+len(line) > d.limit {
			break
		}
		b.WriteString(line)
	}

	d.mu.Lock()
	d.facts[res.SectionID] = b.String()
	d.mu.Unlock()
}

// Snapshot returns the digest restricted to the given section ids, in the
// order requested. Sections without recorded facts contribute nothing.
func (d *ContextDigest) Snapshot(sectionIDs []string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var b strings.Builder
	for _, id := range sectionIDs {
		b.WriteString(d.facts[id])
	}
	return b.String()
}

func factValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "yes"
		}
		return "no"
	case []string:
		return strings.Join(val, "; ")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(v)
	}
}
