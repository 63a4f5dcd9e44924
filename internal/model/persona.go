package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Persona is a fixed analytical viewpoint used for relevance scoring and
// for the extra fields it expects an entity to carry
type Persona struct {
	ID             string         `yaml:"id" json:"id"`
	Name           string         `yaml:"name" json:"name"`
	Keywords       []WeightedTerm `yaml:"keywords" json:"keywords"`
	EntityAffinity []Affinity     `yaml:"entity_affinity" json:"entity_affinity"`
	SectorKeywords []WeightedTerm `yaml:"sector_keywords" json:"sector_keywords"`
	RequiredFields []string       `yaml:"required_fields,omitempty" json:"required_fields,omitempty"`
}

// WeightedTerm is a phrase and the increment it contributes when present
type WeightedTerm struct {
	Term   string  `yaml:"term" json:"term"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// Affinity weights a persona's interest in an entity type
type Affinity struct {
	Type   EntityType `yaml:"type" json:"type"`
	Weight float64    `yaml:"weight" json:"weight"`
}

// PersonaRegistry is the read-only set of personas known to the core
type PersonaRegistry struct {
	Personas []Persona `yaml:"personas" json:"personas"`
}

// Get returns the persona with the given id
func (r PersonaRegistry) Get(id string) (Persona, bool) {
	for _, p := range r.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// LoadPersonas reads a persona registry from a YAML file
func LoadPersonas(path string) (PersonaRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PersonaRegistry{}, fmt.Errorf("read personas: %w", err)
	}

	var reg PersonaRegistry
	if err := yaml.Unmarshal(raw, &reg); err != nil {
		return PersonaRegistry{}, fmt.Errorf("parse personas: %w", err)
	}
	if len(reg.Personas) == 0 {
		return PersonaRegistry{}, fmt.Errorf("personas file %s defines no personas", path)
	}

	seen := make(map[string]bool)
	for _, p := range reg.Personas {
		if p.ID == "" {
			return PersonaRegistry{}, fmt.Errorf("persona without id in %s", path)
		}
		if seen[p.ID] {
			return PersonaRegistry{}, fmt.Errorf("duplicate persona id %q in %s", p.ID, path)
		}
		seen[p.ID] = true
	}

	return reg, nil
}

func terms(pairs ...any) []WeightedTerm {
	out := make([]WeightedTerm, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, WeightedTerm{Term: pairs[i].(string), Weight: pairs[i+1].(float64)})
	}
	return out
}

// DefaultPersonas returns the built-in persona registry
func DefaultPersonas() PersonaRegistry {
	return PersonaRegistry{Personas: []Persona{
		{
			ID:       "startup_banker",
			Name:     "Startup Banker",
			Keywords: terms("series a", 0.25, "series b", 0.25, "series c", 0.25, "raises", 0.2, "funding", 0.15, "valuation", 0.15, "ipo", 0.2, "round", 0.1),
			EntityAffinity: []Affinity{
				{Type: EntityCompany, Weight: 0.3},
				{Type: EntityEvent, Weight: 0.2},
			},
			SectorKeywords: terms("fintech", 0.1, "saas", 0.1, "biotech", 0.1),
			RequiredFields: []string{"funding_history", "key_contacts"},
		},
		{
			ID:       "early_stage_vc",
			Name:     "Early-Stage VC",
			Keywords: terms("seed", 0.25, "pre-seed", 0.25, "series a", 0.25, "series b", 0.2, "raises", 0.2, "founder", 0.15, "founded", 0.1),
			EntityAffinity: []Affinity{
				{Type: EntityCompany, Weight: 0.25},
				{Type: EntityPerson, Weight: 0.15},
				{Type: EntityEvent, Weight: 0.15},
			},
			SectorKeywords: terms("ai", 0.1, "biotech", 0.1, "climate", 0.1),
			RequiredFields: []string{"funding_history", "founders"},
		},
		{
			ID:       "pharma_bd",
			Name:     "Pharma Business Development",
			Keywords: terms("clinical trial", 0.25, "fda", 0.25, "licensing", 0.2, "pipeline", 0.15, "phase", 0.15),
			EntityAffinity: []Affinity{
				{Type: EntityCompany, Weight: 0.2},
				{Type: EntityProduct, Weight: 0.2},
			},
			SectorKeywords: terms("therapeutics", 0.15, "biotech", 0.15, "oncology", 0.15, "pharma", 0.15),
			RequiredFields: []string{"pipeline_assets", "clinical_stage"},
		},
		{
			ID:       "ma_advisor",
			Name:     "M&A Advisor",
			Keywords: terms("acquires", 0.3, "acquisition", 0.3, "merger", 0.3, "buyout", 0.25, "deal", 0.15),
			EntityAffinity: []Affinity{
				{Type: EntityCompany, Weight: 0.3},
			},
			SectorKeywords: terms("private equity", 0.15, "consolidation", 0.1),
			RequiredFields: []string{"revenue", "ownership"},
		},
		{
			ID:       "equity_analyst",
			Name:     "Equity Analyst",
			Keywords: terms("earnings", 0.3, "revenue", 0.2, "guidance", 0.2, "shares", 0.15, "quarter", 0.15),
			EntityAffinity: []Affinity{
				{Type: EntityCompany, Weight: 0.2},
			},
			SectorKeywords: terms("semiconductor", 0.1, "retail", 0.1, "energy", 0.1),
			RequiredFields: []string{"revenue", "ticker"},
		},
		{
			ID:       "academic_researcher",
			Name:     "Academic Researcher",
			Keywords: terms("study", 0.2, "paper", 0.2, "research", 0.15, "university", 0.2, "published", 0.15),
			EntityAffinity: []Affinity{
				{Type: EntityTopic, Weight: 0.3},
				{Type: EntityPerson, Weight: 0.1},
			},
			SectorKeywords: terms("genomics", 0.15, "machine learning", 0.15, "physics", 0.1),
			RequiredFields: []string{"publications"},
		},
		{
			ID:       "talent_recruiter",
			Name:     "Talent Recruiter",
			Keywords: terms("hires", 0.25, "appoints", 0.3, "joins", 0.2, "layoffs", 0.2, "ceo", 0.15),
			EntityAffinity: []Affinity{
				{Type: EntityPerson, Weight: 0.35},
			},
			SectorKeywords: terms("engineering", 0.1, "executive", 0.1),
			RequiredFields: []string{"work_history"},
		},
		{
			ID:       "policy_analyst",
			Name:     "Policy Analyst",
			Keywords: terms("regulation", 0.3, "legislation", 0.25, "antitrust", 0.25, "sec", 0.2, "policy", 0.2),
			EntityAffinity: []Affinity{
				{Type: EntityTopic, Weight: 0.2},
				{Type: EntityEvent, Weight: 0.1},
			},
			SectorKeywords: terms("privacy", 0.15, "energy", 0.1, "healthcare", 0.1),
			RequiredFields: []string{"jurisdiction"},
		},
		{
			ID:       "product_manager",
			Name:     "Product Manager",
			Keywords: terms("launches", 0.3, "launch", 0.25, "release", 0.2, "feature", 0.15, "platform", 0.1),
			EntityAffinity: []Affinity{
				{Type: EntityProduct, Weight: 0.4},
				{Type: EntityCompany, Weight: 0.1},
			},
			SectorKeywords: terms("saas", 0.1, "consumer", 0.1, "developer tools", 0.15),
			RequiredFields: []string{"pricing", "competitors"},
		},
		{
			ID:       "journalist",
			Name:     "Journalist",
			Keywords: terms("breaking", 0.3, "exclusive", 0.25, "scandal", 0.25, "announces", 0.15, "report", 0.1),
			EntityAffinity: []Affinity{
				{Type: EntityEvent, Weight: 0.2},
				{Type: EntityPerson, Weight: 0.1},
				{Type: EntityCompany, Weight: 0.1},
			},
			SectorKeywords: terms("politics", 0.1, "media", 0.1),
		},
	}}
}
