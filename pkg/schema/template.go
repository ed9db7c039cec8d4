package schema

import "github.com/ursadsp/dspgen/internal/models"

// Default returns the built-in Data Security Plan structure. Ordinals define
// the rendered document order; depends_on defines synthesis order.
func Default() *Registry {
	r, err := NewRegistry(defaultSpecs())
	if err != nil {
		// The built-in template is static; construction cannot fail.
		panic(err)
	}
	return r
}

func defaultSpecs() []models.SectionSpec {
	return []models.SectionSpec{
		{
			ID:      "overview",
			Title:   "Project Overview",
			Ordinal: 1,
			Instructions: "Summarize the research project, its goals, the kinds of data handled " +
				"and the parties involved. Name the principal investigator and the responsible unit.",
			Fields: []models.FieldSpec{
				{Name: "project_name", Type: models.FieldString, Rule: "nonempty"},
				{Name: "pi_name", Type: models.FieldString, Rule: "nonempty"},
				{Name: "department", Type: models.FieldString, Rule: "nonempty"},
				{Name: "body", Type: models.FieldText, Rule: "minlen:80"},
			},
		},
		{
			ID:      "roles",
			Title:   "Roles and Responsibilities",
			Ordinal: 2,
			Instructions: "Identify the PI, the unit information security lead and every role with " +
				"access to project data, with each role's security responsibilities.",
			Fields: []models.FieldSpec{
				{Name: "uisl_name", Type: models.FieldString, Rule: "nonempty"},
				{Name: "personnel", Type: models.FieldList, Rule: "nonempty"},
				{Name: "body", Type: models.FieldText, Rule: "minlen:80"},
			},
			DependsOn: []string{"overview"},
		},
		{
			ID:      "data_classification",
			Title:   "Data Classification",
			Ordinal: 3,
			Instructions: "State the highest classification of data handled and whether the project " +
				"involves CUI. Justify the classification against the data types named in the overview.",
			Fields: []models.FieldSpec{
				{Name: "classification", Type: models.FieldEnum, Rule: "enum:P3 (Moderate)|P4 (High)|HIPAA|CUI|Export Controlled"},
				{Name: "is_cui", Type: models.FieldBool, Rule: "nonempty"},
				{Name: "data_provider", Type: models.FieldString, Rule: "nonempty"},
				{Name: "body", Type: models.FieldText, Rule: "minlen:80"},
			},
			DependsOn: []string{"overview"},
		},
		{
			ID:      "data_storage",
			Title:   "Data Storage",
			Ordinal: 4,
			Instructions: "Describe where project data lives, the storage infrastructure, operating " +
				"system and the technical controls (encryption at rest, isolation) appropriate to the classification.",
			Fields: []models.FieldSpec{
				{Name: "infrastructure", Type: models.FieldEnum, Rule: "enum:Standalone Workstation|Research Cluster|Cloud (AWS/GCP)|Air-Gapped Server"},
				{Name: "os_type", Type: models.FieldString, Rule: "nonempty"},
				{Name: "controls", Type: models.FieldList, Rule: "nonempty"},
				{Name: "body", Type: models.FieldText, Rule: "minlen:80"},
			},
			DependsOn: []string{"data_classification"},
		},
		{
			ID:      "access_control",
			Title:   "Access Control",
			Ordinal: 5,
			Instructions: "Describe how access to project data is granted, reviewed and revoked: " +
				"authentication requirements, least privilege, and account lifecycle tied to the personnel roster.",
			Fields: []models.FieldSpec{
				{Name: "auth_method", Type: models.FieldString, Rule: "nonempty"},
				{Name: "controls", Type: models.FieldList, Rule: "nonempty"},
				{Name: "body", Type: models.FieldText, Rule: "minlen:80"},
			},
			DependsOn: []string{"roles", "data_storage"},
		},
		{
			ID:      "data_transfer",
			Title:   "Data Transfer",
			Ordinal: 6,
			Instructions: "Describe how data enters and leaves the environment: transfer mechanisms, " +
				"encryption in transit, and any provider-mandated handling requirements.",
			Fields: []models.FieldSpec{
				{Name: "transfer_method", Type: models.FieldString, Rule: "nonempty"},
				{Name: "body", Type: models.FieldText, Rule: "minlen:80"},
			},
			DependsOn: []string{"data_classification"},
		},
		{
			ID:      "retention",
			Title:   "Data Retention",
			Ordinal: 7,
			Instructions: "State how long project data is retained, the retention end date and any " +
				"provider or regulatory retention obligations.",
			Fields: []models.FieldSpec{
				{Name: "retention_date", Type: models.FieldDate},
				{Name: "body", Type: models.FieldText, Rule: "minlen:80"},
			},
			DependsOn: []string{"data_storage"},
		},
		{
			ID:      "destruction",
			Title:   "Data Destruction",
			Ordinal: 8,
			Instructions: "Describe the sanitization standard and procedure for destroying project data " +
				"and media at end of life, consistent with the retention section.",
			Fields: []models.FieldSpec{
				{Name: "destruction_method", Type: models.FieldString, Rule: "nonempty"},
				{Name: "body", Type: models.FieldText, Rule: "minlen:80"},
			},
			DependsOn: []string{"retention"},
		},
		{
			ID:      "incident_response",
			Title:   "Incident Response",
			Ordinal: 9,
			Instructions: "Describe how suspected breaches are detected, reported and escalated, " +
				"including notification obligations to the data provider.",
			Fields: []models.FieldSpec{
				{Name: "contact", Type: models.FieldString, Rule: "nonempty"},
				{Name: "body", Type: models.FieldText, Rule: "minlen:80"},
			},
			DependsOn: []string{"access_control"},
		},
		{
			ID:      "training",
			Title:   "Personnel Training",
			Ordinal: 10,
			Instructions: "State the security training required of listed personnel before access is " +
				"granted and the renewal cadence.",
			Fields: []models.FieldSpec{
				{Name: "requirements", Type: models.FieldList, Rule: "nonempty"},
				{Name: "body", Type: models.FieldText, Rule: "minlen:80"},
			},
			DependsOn: []string{"roles"},
		},
	}
}
