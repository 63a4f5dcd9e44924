package model

import (
	"strings"
	"time"
	"unicode"
)

// MaxResearchHistory caps EntityState.ResearchHistory; oldest entries are evicted first
const MaxResearchHistory = 10

// EntityDataVersion is the current schema version of EntityData
const EntityDataVersion = 1

// EntityState is the longitudinal record of one tracked entity
type EntityState struct {
	EntityID        string           `json:"entity_id"`
	CanonicalName   string           `json:"canonical_name"`
	Aliases         []string         `json:"aliases,omitempty"`
	EntityType      EntityType       `json:"entity_type"`
	PrimaryPersona  string           `json:"primary_persona,omitempty"`
	Data            EntityData       `json:"data"`
	Freshness       Freshness        `json:"freshness"`
	Completeness    Completeness     `json:"completeness"`
	Quality         Quality          `json:"quality"`
	Engagement      Engagement       `json:"engagement"`
	ResearchHistory []ResearchRecord `json:"research_history,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// EntityData holds the typed optional fields known about an entity
type EntityData struct {
	Version int            `json:"version"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Has reports whether field is present with a non-empty value
func (d EntityData) Has(field string) bool {
	v, ok := d.Fields[field]
	if !ok || v == nil {
		return false
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	return true
}

// Merge returns a copy of d with other's fields layered on top
func (d EntityData) Merge(other EntityData) EntityData {
	out := EntityData{
		Version: EntityDataVersion,
		Fields:  make(map[string]any, len(d.Fields)+len(other.Fields)),
	}
	for k, v := range d.Fields {
		out.Fields[k] = v
	}
	for k, v := range other.Fields {
		out.Fields[k] = v
	}
	return out
}

// Freshness tracks when an entity was last refreshed and how stale it is
type Freshness struct {
	LastUpdated       time.Time `json:"last_updated"`
	LastChecked       time.Time `json:"last_checked"`
	StaleDays         int       `json:"stale_days"`
	DecayScore        float64   `json:"decay_score"` // (0, 1]
	DecayHalfLifeDays float64   `json:"decay_half_life_days"`
}

// Completeness is the result of the last required-field assessment
type Completeness struct {
	Score                   int       `json:"score"` // 0-100
	MissingFields           []string  `json:"missing_fields,omitempty"`
	EnrichmentOpportunities []string  `json:"enrichment_opportunities,omitempty"`
	LastAssessed            time.Time `json:"last_assessed"`
}

// Quality summarizes how trustworthy the current information is
type Quality struct {
	OverallScore       float64            `json:"overall_score"`
	PersonaScores      map[string]float64 `json:"persona_scores,omitempty"`
	SourceCount        int                `json:"source_count"`
	ContradictionCount int                `json:"contradiction_count"`
	LastValidated      *time.Time         `json:"last_validated,omitempty"`
}

// Engagement counts user interest in an entity
type Engagement struct {
	ViewCount      int        `json:"view_count"`
	WatchlistCount int        `json:"watchlist_count"`
	LastViewed     *time.Time `json:"last_viewed,omitempty"`
	TrendingScore  float64    `json:"trending_score"`
}

// ResearchRecord is one completed research task in an entity's history
type ResearchRecord struct {
	TaskID       string    `json:"task_id"`
	CompletedAt  time.Time `json:"completed_at"`
	QualityScore float64   `json:"quality_score"`
	Personas     []string  `json:"personas,omitempty"`
}

// EngagementAction is a user interaction applied to an entity
type EngagementAction string

const (
	ActionView            EngagementAction = "view"
	ActionWatchlistAdd    EngagementAction = "watchlist_add"
	ActionWatchlistRemove EngagementAction = "watchlist_remove"
)

// EntityID derives the canonical key for an entity from its type and name
// (e.g., "company:acme-therapeutics")
func EntityID(entityType EntityType, name string) string {
	return string(entityType) + ":" + Slug(name)
}

// Slug lowercases name and collapses runs of non-alphanumerics into '-'
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
