package schema

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ursadsp/dspgen/internal/models"
	"gopkg.in/yaml.v3"
)

// ErrSchemaCycle is returned when the section dependency graph is cyclic.
// Detection happens before any generation starts.
var ErrSchemaCycle = errors.New("section dependency cycle")

// Registry holds the section schema for one document type and answers
// ordering and validation questions about it.
type Registry struct {
	specs  []models.SectionSpec
	byID   map[string]models.SectionSpec
	sorted []models.SectionSpec
}

// NewRegistry builds a registry from explicit specs. Dependency references to
// unknown sections are rejected immediately; cycle detection is deferred to
// Specs so a cyclic registry can still be constructed and probed in tests.
func NewRegistry(specs []models.SectionSpec) (*Registry, error) {
	byID := make(map[string]models.SectionSpec, len(specs))
	for _, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("section spec with empty id")
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate section id: %s", s.ID)
		}
		byID[s.ID] = s
	}
	for _, s := range specs {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("section %s depends on unknown section %s", s.ID, dep)
			}
		}
	}

	ordered := make([]models.SectionSpec, len(specs))
	copy(ordered, specs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Ordinal < ordered[j].Ordinal
	})

	return &Registry{specs: ordered, byID: byID}, nil
}

// LoadFile reads a section template from YAML, replacing the built-in
// default document structure.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading section template: %v", err)
	}
	var specs []models.SectionSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("error parsing section template: %v", err)
	}
	return NewRegistry(specs)
}

// Specs returns every section spec topologically sorted by dependency, with
// ordinal order preserved among independent sections. Fails with
// ErrSchemaCycle when the dependency relation is not a DAG.
func (r *Registry) Specs() ([]models.SectionSpec, error) {
	if r.sorted != nil {
		out := make([]models.SectionSpec, len(r.sorted))
		copy(out, r.sorted)
		return out, nil
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	marks := make(map[string]int, len(r.specs))
	sorted := make([]models.SectionSpec, 0, len(r.specs))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch marks[id] {
		case done:
			return nil
		case inStack:
			return fmt.Errorf("%w: %s -> %s", ErrSchemaCycle, strings.Join(path, " -> "), id)
		}
		marks[id] = inStack
		spec := r.byID[id]
		deps := make([]string, len(spec.DependsOn))
		copy(deps, spec.DependsOn)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		marks[id] = done
		sorted = append(sorted, spec)
		return nil
	}

	for _, spec := range r.specs {
		if err := visit(spec.ID, nil); err != nil {
			return nil, err
		}
	}

	r.sorted = sorted
	out := make([]models.SectionSpec, len(sorted))
	copy(out, sorted)
	return out, nil
}

// Spec returns a single section spec by id.
func (r *Registry) Spec(id string) (models.SectionSpec, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Validate checks candidate fields against the section's spec. The first
// violation found is reported; fields are checked in spec order so repeated
// validation of the same candidate is stable.
func (r *Registry) Validate(sectionID string, fields map[string]any) models.ValidationStatus {
	spec, ok := r.byID[sectionID]
	if !ok {
		return models.ValidationStatus{Code: models.UnknownSection, Field: sectionID}
	}

	for _, f := range spec.Fields {
		value, present := fields[f.Name]
		if !present || value == nil {
			return models.ValidationStatus{Code: models.MissingField, Field: f.Name}
		}
		if !typeMatches(f.Type, value) {
			return models.ValidationStatus{Code: models.TypeMismatch, Field: f.Name}
		}
		if f.Rule != "" && !ruleHolds(f, value) {
			return models.ValidationStatus{Code: models.ConstraintViolation, Field: f.Name, Rule: f.Rule}
		}
	}

	return models.ValidationStatus{Code: models.ValidationOK}
}

func typeMatches(t models.FieldType, value any) bool {
	switch t {
	case models.FieldString, models.FieldText, models.FieldEnum:
		_, ok := value.(string)
		return ok
	case models.FieldDate:
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, err := time.Parse("2006-01-02", strings.TrimSpace(s))
		return err == nil
	case models.FieldBool:
		_, ok := value.(bool)
		return ok
	case models.FieldList:
		switch v := value.(type) {
		case []string:
			return true
		case []any:
			for _, item := range v {
				if _, ok := item.(string); !ok {
					return false
				}
			}
			return true
		default:
			return false
		}
	default:
		return false
	}
}

func ruleHolds(f models.FieldSpec, value any) bool {
	rule := strings.TrimSpace(f.Rule)
	switch {
	case rule == "nonempty":
		switch v := value.(type) {
		case string:
			return strings.TrimSpace(v) != ""
		case []string:
			return len(v) > 0
		case []any:
			return len(v) > 0
		case bool:
			return true
		}
		return false
	case strings.HasPrefix(rule, "minlen:"):
		n, err := strconv.Atoi(rule[len("minlen:"):])
		if err != nil {
			return false
		}
		s, ok := value.(string)
		return ok && len(strings.TrimSpace(s)) >= n
	case strings.HasPrefix(rule, "enum:"):
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, allowed := range strings.Split(rule[len("enum:"):], "|") {
			if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(allowed)) {
				return true
			}
		}
		return false
	}
	return false
}
