package lifecycle

import (
	"math"
	"time"

	"github.com/ppiankov/signalqueue/internal/model"
)

// baseFields are required for every entity of a type, before persona extras
var baseFields = map[model.EntityType][]string{
	model.EntityCompany: {"name", "description", "industry", "headquarters", "website"},
	model.EntityPerson:  {"name", "title", "organization", "bio"},
	model.EntityTopic:   {"name", "description", "category"},
	model.EntityProduct: {"name", "description", "company", "category"},
	model.EntityEvent:   {"name", "date", "description"},
}

// enrichmentActions names the enrichment job that can fill a missing field
var enrichmentActions = map[string]string{
	"description":     "generate_description",
	"industry":        "classify_industry",
	"headquarters":    "lookup_headquarters",
	"website":         "find_website",
	"title":           "lookup_current_role",
	"organization":    "lookup_employer",
	"bio":             "generate_bio",
	"category":        "classify_category",
	"company":         "resolve_parent_company",
	"date":            "resolve_event_date",
	"funding_history": "fetch_funding_data",
	"key_contacts":    "find_key_contacts",
	"founders":        "find_founders",
	"pipeline_assets": "fetch_pipeline_assets",
	"clinical_stage":  "fetch_clinical_trials",
	"revenue":         "fetch_financials",
	"ownership":       "fetch_ownership_structure",
	"ticker":          "resolve_ticker",
	"publications":    "search_publications",
	"work_history":    "fetch_work_history",
	"jurisdiction":    "resolve_jurisdiction",
	"pricing":         "fetch_pricing",
	"competitors":     "find_competitors",
}

// RequiredFields returns the base fields for entityType followed by any extra
// fields the persona requires, without duplicates
func (m *Manager) RequiredFields(entityType model.EntityType, personaID string) []string {
	base := baseFields[entityType]
	if base == nil {
		base = []string{"name"}
	}

	fields := append([]string(nil), base...)
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		seen[f] = true
	}

	if personaID == "" {
		return fields
	}
	persona, ok := m.personas.Get(personaID)
	if !ok {
		return fields
	}
	for _, f := range persona.RequiredFields {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	return fields
}

// Assess computes completeness for state against its type and primary persona
func (m *Manager) Assess(state model.EntityState, now time.Time) model.Completeness {
	required := m.RequiredFields(state.EntityType, state.PrimaryPersona)

	var missing, opportunities []string
	for _, field := range required {
		if hasField(state, field) {
			continue
		}
		missing = append(missing, field)
		if action, ok := enrichmentActions[field]; ok {
			opportunities = append(opportunities, action)
		}
	}

	return model.Completeness{
		Score:                   completenessScore(len(required), len(missing)),
		MissingFields:           missing,
		EnrichmentOpportunities: opportunities,
		LastAssessed:            now,
	}
}

func hasField(state model.EntityState, field string) bool {
	if field == "name" && state.CanonicalName != "" {
		return true
	}
	return state.Data.Has(field)
}

func completenessScore(required, missing int) int {
	if required == 0 {
		return 100
	}
	score := int(math.Round(100 * float64(required-missing) / float64(required)))
	if missing > 0 && score == 100 {
		return 99
	}
	return score
}
