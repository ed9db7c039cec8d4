package synth

import (
	"fmt"
	"strings"

	"github.com/ursadsp/dspgen/internal/models"
	"github.com/ursadsp/dspgen/internal/types"
)

const systemRole = "You are an expert Research Compliance Officer at a top-tier university. " +
	"You write sections of Data Security Plans that satisfy NIST 800-171 and CMMC expectations. " +
	"You answer with a single JSON object and nothing else."

func buildPrompt(spec models.SectionSpec, summary string, fragments []models.CorpusFragment, digest string) types.Prompt {
	var b strings.Builder

	fmt.Fprintf(&b, "### Task\nWrite the Data Security Plan section titled %q.\n", spec.Title)
	fmt.Fprintf(&b, "Guidance for this section: %s\n", spec.Instructions)

	b.WriteString("\n### Required output\nReturn ONLY a JSON object with exactly these keys:\n")
	for _, f := range spec.Fields {
		fmt.Fprintf(&b, "- %q (%s)", f.Name, fieldHint(f.Type))
		if f.Rule != "" {
			fmt.Fprintf(&b, " (constraint: %s)", f.Rule)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n### The new project\n")
	b.WriteString(summary)
	b.WriteString("\n")

	if digest != "" {
		b.WriteString("\n### Facts established by earlier sections\n")
		b.WriteString("Stay consistent with these; do not contradict them.\n")
		b.WriteString(digest)
		b.WriteString("\n")
	}

	if len(fragments) > 0 {
		b.WriteString("\n### Reference examples from approved plans\n")
		b.WriteString("Adapt the strongest language and controls to the new project. " +
			"Ignore stale names and dates.\n")
		for _, frag := range fragments {
			fmt.Fprintf(&b, "--- START EXAMPLE [%s / %s] ---\n%s\n--- END EXAMPLE ---\n",
				frag.SourceID, frag.Topic, frag.Text)
		}
	} else {
		b.WriteString("\nNo reference examples are available for this section; " +
			"write it from the guidance and project details alone.\n")
	}

	return types.Prompt{System: systemRole, User: b.String()}
}

func buildRepairPrompt(spec models.SectionSpec, previous, violation string) types.Prompt {
	var b strings.Builder

	fmt.Fprintf(&b, "Your previous answer for the %q section was rejected.\n", spec.Title)
	fmt.Fprintf(&b, "Problem: %s\n", violation)

	b.WriteString("\nYour previous answer:\n")
	b.WriteString(previous)

	b.WriteString("\n\nReturn a corrected JSON object with exactly these keys and nothing else:\n")
	for _, f := range spec.Fields {
		fmt.Fprintf(&b, "- %q (%s)", f.Name, fieldHint(f.Type))
		if f.Rule != "" {
			fmt.Fprintf(&b, " (constraint: %s)", f.Rule)
		}
		b.WriteString("\n")
	}

	return types.Prompt{System: systemRole, User: b.String()}
}

func fieldHint(t models.FieldType) string {
	switch t {
	case models.FieldText:
		return "markdown text"
	case models.FieldList:
		return "JSON array of strings"
	case models.FieldBool:
		return "JSON boolean"
	case models.FieldDate:
		return "date, YYYY-MM-DD"
	case models.FieldEnum:
		return "one of the allowed values"
	default:
		return "string"
	}
}
