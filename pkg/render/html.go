package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/ursadsp/dspgen/internal/models"
)

const reportTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Data Security Plan: {{.ProjectName}}</title>
<style>
body { font-family: Georgia, serif; margin: 2.5em auto; max-width: 52em; color: #1a1a1a; }
h1 { border-bottom: 3px solid #003366; padding-bottom: 0.3em; }
h2 { color: #003366; margin-top: 1.8em; }
.meta { color: #555; font-size: 0.9em; }
.failed { background: #fdf2f2; border-left: 4px solid #b91c1c; padding: 0.8em; }
.skipped { background: #fffbeb; border-left: 4px solid #b45309; padding: 0.8em; }
dl.fields dt { font-weight: bold; margin-top: 0.5em; }
dl.fields dd { margin-left: 1.2em; }
</style>
</head>
<body>
<h1>Data Security Plan: {{.ProjectName}}</h1>
<p class="meta">Generated {{.GeneratedAt.Format "2006-01-02"}} · run {{.RunID}} · model {{.Model}}</p>
{{range .Sections}}
<h2>{{.Title}}</h2>
{{if eq .Status "valid"}}
{{with .Body}}{{.}}{{end}}
{{with .Facts}}
<dl class="fields">
{{range .}}<dt>{{.Name}}</dt><dd>{{.Value}}</dd>
{{end}}</dl>
{{end}}
{{else if eq .Status "failed"}}
<p class="failed">Section could not be generated: {{.Reason}}</p>
{{else}}
<p class="skipped">Section skipped: {{.Reason}}</p>
{{end}}
{{end}}
</body>
</html>
`

type sectionView struct {
	Title  string
	Status string
	Reason string
	Body   template.HTML
	Facts  []factView
}

type factView struct {
	Name  string
	Value string
}

type reportView struct {
	ProjectName string
	RunID       string
	Model       string
	GeneratedAt time.Time
	Sections    []sectionView
}

var tmpl = template.Must(template.New("report").Parse(reportTemplate))

// HTML renders a complete or partial document model to a standalone HTML
// page. Failed and skipped sections render their reason instead of content,
// so a partial plan is still reviewable.
func HTML(doc models.DocumentModel) ([]byte, error) {
	view := reportView{
		ProjectName: doc.ProjectName,
		RunID:       doc.RunID,
		Model:       doc.Model,
		GeneratedAt: doc.GeneratedAt,
	}

	for _, s := range doc.Sections {
		sv := sectionView{
			Title:  s.Title,
			Status: string(s.Status),
			Reason: s.Reason,
		}
		if s.Status == models.SectionValid {
			if body, ok := s.Fields["body"].(string); ok {
				sv.Body = paragraphs(body)
			}
			sv.Facts = facts(s)
		}
		view.Sections = append(view.Sections, sv)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render document: %v", err)
	}
	return buf.Bytes(), nil
}

// JSONLog serializes the section results for audit, mirroring the document
// order.
func JSONLog(doc models.DocumentModel) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// paragraphs turns markdown-ish prose into escaped HTML paragraphs. Full
// markdown rendering is not needed for compliance review; paragraph breaks
// and list markers carry through.
func paragraphs(body string) template.HTML {
	var b strings.Builder
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(template.HTMLEscapeString(block))
		b.WriteString("</p>\n")
	}
	return template.HTML(b.String())
}

func facts(s models.SectionResult) []factView {
	var out []factView
	for _, f := range orderedFieldNames(s.Fields) {
		if f == "body" {
			continue
		}
		out = append(out, factView{Name: label(f), Value: fieldString(s.Fields[f])})
	}
	return out
}

func orderedFieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	// Stable render order regardless of map iteration.
	sort.Strings(names)
	return names
}

func label(field string) string {
	words := strings.Split(field, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func fieldString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}
