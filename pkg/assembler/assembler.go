package assembler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ursadsp/dspgen/internal/models"
	"github.com/ursadsp/dspgen/internal/types"
	"github.com/ursadsp/dspgen/pkg/llm"
	"golang.org/x/sync/errgroup"
)

// Options control one generation run.
type Options struct {
	MaxConcurrency int
	RetrievalK     int
	RetryLimit     int
	AllowPartial   bool
}

func (o *Options) defaults() {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 2
	}
}

type AssemblerConfig struct {
	Registry    types.Registry
	Corpus      types.CorpusSource
	Selector    types.Selector
	Synthesizer types.Synthesizer
	Generator   types.Generator
	ProjectName string
	Model       string
	DigestLimit int
	OnProgress  func(sectionID string, status models.SectionStatus)
}

// Assembler drives the full pipeline: sections run in dependency waves,
// independent sections concurrently, and every section ends in a terminal
// state even when predecessors fail.
type Assembler struct {
	config AssemblerConfig

	loadOnce  sync.Once
	fragments []models.CorpusFragment
	loadErr   error
}

func NewWithConfig(config AssemblerConfig) (*Assembler, error) {
	if config.Registry == nil || config.Selector == nil || config.Synthesizer == nil {
		return nil, fmt.Errorf("assembler requires registry, selector and synthesizer")
	}
	return &Assembler{config: config}, nil
}

// Generate runs every section to a terminal state and returns the document
// model plus the run outcome. Configuration errors (missing corpus, cyclic
// schema) abort before any generation; per-section failures are contained
// and their dependents skipped.
func (a *Assembler) Generate(ctx context.Context, summary string, opts Options) (models.DocumentModel, models.RunStatus, error) {
	opts.defaults()

	doc := models.DocumentModel{
		RunID:       uuid.NewString(),
		ProjectName: a.config.ProjectName,
		Model:       a.config.Model,
		GeneratedAt: time.Now().UTC(),
	}

	specs, err := a.config.Registry.Specs()
	if err != nil {
		return doc, models.RunFailed, err
	}

	corpus, err := a.loadCorpus()
	if err != nil {
		return doc, models.RunFailed, err
	}

	if opts.RetryLimit > 0 {
		if rc, ok := a.config.Generator.(interface{ SetRetryLimit(int) }); ok {
			rc.SetRetryLimit(opts.RetryLimit)
		}
	}

	byID := make(map[string]models.SectionSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}
	closure := dependencyClosure(specs)

	digest := NewDigest(a.config.DigestLimit)
	results := make(map[string]models.SectionResult, len(specs))
	var firstSectionErr error
	var systemicErr error

	pending := make([]models.SectionSpec, len(specs))
	copy(pending, specs)

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			for _, spec := range pending {
				results[spec.ID] = models.SectionResult{
					SectionID: spec.ID,
					Title:     spec.Title,
					Status:    models.SectionFailed,
					Reason:    "run cancelled before section started",
				}
			}
			break
		}

		// Propagate failure to dependents before scheduling anything.
		var ready, rest []models.SectionSpec
		progressed := false
		for _, spec := range pending {
			switch depState(spec, results) {
			case depsFailed:
				failedDep := firstFailedDep(spec, results)
				res := models.SectionResult{
					SectionID: spec.ID,
					Title:     spec.Title,
					Status:    models.SectionSkipped,
					Reason:    fmt.Sprintf("dependency %s did not complete", failedDep),
				}
				results[spec.ID] = res
				a.progress(res)
				progressed = true
			case depsReady:
				ready = append(ready, spec)
			default:
				rest = append(rest, spec)
			}
		}
		pending = rest

		if systemicErr != nil || (firstSectionErr != nil && !opts.AllowPartial) {
			// Stop scheduling new work; remaining sections are skipped
			// with the run-level reason.
			reason := "run aborted by earlier failure"
			if systemicErr != nil {
				reason = "run aborted: " + systemicErr.Error()
			}
			for _, spec := range append(ready, pending...) {
				res := models.SectionResult{
					SectionID: spec.ID,
					Title:     spec.Title,
					Status:    models.SectionSkipped,
					Reason:    reason,
				}
				results[spec.ID] = res
				a.progress(res)
			}
			pending = nil
			continue
		}

		if len(ready) == 0 {
			if progressed {
				continue
			}
			// Cannot happen with an acyclic registry; guard against a
			// wedged loop anyway.
			for _, spec := range pending {
				results[spec.ID] = models.SectionResult{
					SectionID: spec.ID,
					Title:     spec.Title,
					Status:    models.SectionFailed,
					Reason:    "scheduler could not reach section",
				}
			}
			break
		}

		waveResults := make([]models.SectionResult, len(ready))
		waveErrs := make([]error, len(ready))

		g, waveCtx := errgroup.WithContext(ctx)
		g.SetLimit(opts.MaxConcurrency)
		for i, spec := range ready {
			i, spec := i, spec
			g.Go(func() error {
				fragments := a.config.Selector.Select(spec.ID, summary, corpus)
				if opts.RetrievalK > 0 && len(fragments) > opts.RetrievalK {
					fragments = fragments[:opts.RetrievalK]
				}
				snapshot := digest.Snapshot(closure[spec.ID])
				res, err := a.config.Synthesizer.Synthesize(waveCtx, spec, summary, fragments, snapshot)
				waveResults[i] = res
				waveErrs[i] = err
				return nil
			})
		}
		g.Wait()

		// Single writer: fold digests only after the wave has settled.
		for i, res := range waveResults {
			results[res.SectionID] = res
			a.progress(res)
			if res.Status == models.SectionValid {
				digest.Fold(res)
				continue
			}
			if waveErrs[i] != nil {
				if firstSectionErr == nil {
					firstSectionErr = waveErrs[i]
				}
				var fatal *llm.FatalError
				if errors.As(waveErrs[i], &fatal) && fatal.Systemic && systemicErr == nil {
					systemicErr = waveErrs[i]
				}
			}
		}
	}

	doc.Sections = orderedResults(specs, results)
	return doc, runOutcome(doc), runError(firstSectionErr, systemicErr, opts)
}

func (a *Assembler) loadCorpus() ([]models.CorpusFragment, error) {
	a.loadOnce.Do(func() {
		if a.config.Corpus == nil {
			a.loadErr = fmt.Errorf("no corpus source configured")
			return
		}
		a.fragments, a.loadErr = a.config.Corpus.Load()
	})
	return a.fragments, a.loadErr
}

func (a *Assembler) progress(res models.SectionResult) {
	if a.config.OnProgress != nil {
		a.config.OnProgress(res.SectionID, res.Status)
	}
}

type depSummary int

const (
	depsPending depSummary = iota
	depsReady
	depsFailed
)

func depState(spec models.SectionSpec, results map[string]models.SectionResult) depSummary {
	state := depsReady
	for _, dep := range spec.DependsOn {
		res, terminal := results[dep]
		if !terminal {
			state = depsPending
			continue
		}
		if res.Status != models.SectionValid {
			return depsFailed
		}
	}
	return state
}

func firstFailedDep(spec models.SectionSpec, results map[string]models.SectionResult) string {
	for _, dep := range spec.DependsOn {
		if res, ok := results[dep]; ok && res.Status != models.SectionValid {
			return dep
		}
	}
	return ""
}

// dependencyClosure maps each section to the transitive set of sections it
// depends on, ordered by ordinal so digest snapshots read naturally.
func dependencyClosure(specs []models.SectionSpec) map[string][]string {
	byID := make(map[string]models.SectionSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}

	closure := make(map[string][]string, len(specs))
	for _, s := range specs {
		seen := make(map[string]bool)
		var walk func(id string)
		walk = func(id string) {
			for _, dep := range byID[id].DependsOn {
				if !seen[dep] {
					seen[dep] = true
					walk(dep)
				}
			}
		}
		walk(s.ID)

		ids := make([]string, 0, len(seen))
		for id := range seen {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return byID[ids[i]].Ordinal < byID[ids[j]].Ordinal
		})
		closure[s.ID] = ids
	}
	return closure
}

func orderedResults(specs []models.SectionSpec, results map[string]models.SectionResult) []models.SectionResult {
	ordered := make([]models.SectionSpec, len(specs))
	copy(ordered, specs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Ordinal < ordered[j].Ordinal
	})

	out := make([]models.SectionResult, 0, len(ordered))
	for _, spec := range ordered {
		res, ok := results[spec.ID]
		if !ok {
			res = models.SectionResult{
				SectionID: spec.ID,
				Title:     spec.Title,
				Status:    models.SectionFailed,
				Reason:    "section was never scheduled",
			}
		}
		out = append(out, res)
	}
	return out
}

// runOutcome maps section states to the tri-state run status: complete when
// every section is valid, partial when some are, failed when none are.
func runOutcome(doc models.DocumentModel) models.RunStatus {
	if doc.Complete() {
		return models.RunComplete
	}
	for _, s := range doc.Sections {
		if s.Status == models.SectionValid {
			return models.RunPartial
		}
	}
	return models.RunFailed
}

func runError(sectionErr, systemicErr error, opts Options) error {
	if systemicErr != nil {
		return systemicErr
	}
	if sectionErr != nil && !opts.AllowPartial {
		return sectionErr
	}
	return nil
}
