package model

import "time"

// Signal is a raw external event that references one or more entities
type Signal struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	RawContent        string           `json:"raw_content"`
	Urgency           Urgency          `json:"urgency"`
	Status            ProcessingStatus `json:"processing_status"`
	ExtractedEntities []string         `json:"extracted_entities,omitempty"` // Entity names found by the extractor
	SuggestedPersonas []string         `json:"suggested_personas,omitempty"` // Persona ids, best first
	Error             string           `json:"error,omitempty"`              // Last pipeline error (status=retry)
	Attempts          int              `json:"attempts"`                     // Number of claims so far
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Text returns the combined text the extractor and scorer operate on
func (s Signal) Text() string {
	if s.Title == "" {
		return s.RawContent
	}
	return s.Title + "\n" + s.RawContent
}

// Urgency is assigned by ingestion and consumed as given
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Valid reports whether u is one of the known urgency levels
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// ProcessingStatus tracks a signal through the orchestrator
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusProcessed  ProcessingStatus = "processed"
	StatusRetry      ProcessingStatus = "retry"
	StatusFailed     ProcessingStatus = "failed"
)

// Terminal reports whether no further processing happens for this status
func (s ProcessingStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// Claimable reports whether a signal in this status may be picked up by a batch
func (s ProcessingStatus) Claimable() bool {
	return s == StatusPending || s == StatusRetry
}

// EntityType classifies an extracted or tracked entity
type EntityType string

const (
	EntityCompany EntityType = "company"
	EntityPerson  EntityType = "person"
	EntityTopic   EntityType = "topic"
	EntityProduct EntityType = "product"
	EntityEvent   EntityType = "event"
)

// Valid reports whether t is one of the known entity types
func (t EntityType) Valid() bool {
	switch t {
	case EntityCompany, EntityPerson, EntityTopic, EntityProduct, EntityEvent:
		return true
	}
	return false
}

// ExtractedEntity is a per-signal extraction result (not persisted on its own)
type ExtractedEntity struct {
	Name       string     `json:"name"`
	Type       EntityType `json:"type"`
	Confidence float64    `json:"confidence"` // 0.0 to 1.0
	Mentions   int        `json:"mentions"`
	Heuristic  string     `json:"heuristic,omitempty"` // Pattern family that matched first (e.g., "company:suffix")
}

// Weight is the ranking key used to order extracted entities
func (e ExtractedEntity) Weight() float64 {
	return e.Confidence * float64(e.Mentions)
}

// PersonaScore is the relevance of one persona to one signal
type PersonaScore struct {
	PersonaID string   `json:"persona_id"`
	Score     float64  `json:"score"`             // 0.0 to 1.0
	Reasons   []string `json:"reasons,omitempty"` // Up to 3 explanatory matches
}
