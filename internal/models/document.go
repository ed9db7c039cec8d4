package models

import "time"

// CorpusFragment is one retrievable piece of an approved reference plan.
// Fragments are loaded once at startup and never mutated.
type CorpusFragment struct {
	SourceID string
	Topic    string
	Text     string
	Ordinal  int // corpus load order, used for stable tie-breaking
}

type FieldType string

const (
	FieldString FieldType = "string"
	FieldText   FieldType = "text"
	FieldList   FieldType = "list"
	FieldBool   FieldType = "bool"
	FieldDate   FieldType = "date"
	FieldEnum   FieldType = "enum"
)

// FieldSpec declares one required structured field of a section. Rule is an
// optional constraint on top of the type: "nonempty", "minlen:N" or
// "enum:A|B|C".
type FieldSpec struct {
	Name string    `yaml:"name"`
	Type FieldType `yaml:"type"`
	Rule string    `yaml:"rule,omitempty"`
}

// SectionSpec describes one section of the target plan: its identity, the
// guidance fed to the model, the structured fields the response must carry,
// and the sections that must be synthesized first.
type SectionSpec struct {
	ID           string      `yaml:"id"`
	Title        string      `yaml:"title"`
	Ordinal      int         `yaml:"ordinal"`
	Instructions string      `yaml:"instructions"`
	Fields       []FieldSpec `yaml:"fields"`
	DependsOn    []string    `yaml:"depends_on,omitempty"`
}

type ValidationCode string

const (
	ValidationOK        ValidationCode = "valid"
	MissingField        ValidationCode = "missing_field"
	TypeMismatch        ValidationCode = "type_mismatch"
	ConstraintViolation ValidationCode = "constraint_violation"
	UnknownSection      ValidationCode = "unknown_section"
)

// ValidationStatus is the outcome of checking candidate fields against a
// SectionSpec. Field and Rule are set for the non-valid codes.
type ValidationStatus struct {
	Code  ValidationCode
	Field string
	Rule  string
}

func (v ValidationStatus) Valid() bool { return v.Code == ValidationOK }

func (v ValidationStatus) String() string {
	switch v.Code {
	case ValidationOK:
		return "valid"
	case MissingField:
		return "missing field: " + v.Field
	case TypeMismatch:
		return "type mismatch: " + v.Field
	case ConstraintViolation:
		return "constraint violation: " + v.Field + " (" + v.Rule + ")"
	default:
		return string(v.Code)
	}
}

type SectionStatus string

const (
	SectionValid   SectionStatus = "valid"
	SectionFailed  SectionStatus = "failed"
	SectionSkipped SectionStatus = "skipped_dependency_failed"
)

// SectionResult is the immutable output of synthesizing one section.
type SectionResult struct {
	SectionID string         `json:"section_id"`
	Title     string         `json:"title"`
	Fields    map[string]any `json:"fields,omitempty"`
	RawText   string         `json:"raw_text,omitempty"`
	Status    SectionStatus  `json:"status"`
	Reason    string         `json:"reason,omitempty"`
}

type RunStatus string

const (
	RunComplete RunStatus = "complete"
	RunPartial  RunStatus = "partial"
	RunFailed   RunStatus = "failed"
)

// DocumentModel is the assembled plan handed to rendering: exactly one
// SectionResult per SectionSpec, in spec ordinal order.
type DocumentModel struct {
	RunID       string          `json:"run_id"`
	ProjectName string          `json:"project_name"`
	Model       string          `json:"model"`
	GeneratedAt time.Time       `json:"generated_at"`
	Sections    []SectionResult `json:"sections"`
}

// Complete reports whether every section reached valid status.
func (d *DocumentModel) Complete() bool {
	if len(d.Sections) == 0 {
		return false
	}
	for _, s := range d.Sections {
		if s.Status != SectionValid {
			return false
		}
	}
	return true
}

// Section returns the result for the given section id, if present.
func (d *DocumentModel) Section(id string) (SectionResult, bool) {
	for _, s := range d.Sections {
		if s.SectionID == id {
			return s, true
		}
	}
	return SectionResult{}, false
}
