package model

import "time"

// ResearchTask is one unit of enqueued investigation for a single entity
type ResearchTask struct {
	ID             string          `json:"id"`
	EntityID       string          `json:"entity_id"`
	EntityType     EntityType      `json:"entity_type"`
	EntityName     string          `json:"entity_name"`
	Personas       []string        `json:"personas,omitempty"`
	PrimaryPersona string          `json:"primary_persona,omitempty"`
	Priority       int             `json:"priority"` // 0-100
	Factors        PriorityFactors `json:"priority_factors"`
	Status         TaskStatus      `json:"status"`
	OriginSignalID string          `json:"origin_signal_id,omitempty"`
	TriggeredBy    Trigger         `json:"triggered_by"`
	RetryCount     int             `json:"retry_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PriorityFactors records what contributed to a task's priority
type PriorityFactors struct {
	Base       int `json:"base"`
	Urgency    int `json:"urgency"`
	Confidence int `json:"confidence"`
	Persona    int `json:"persona"`
}

// Sum is the unclamped total of all factors
func (f PriorityFactors) Sum() int {
	return f.Base + f.Urgency + f.Confidence + f.Persona
}

// TaskStatus tracks a research task as the research executor advances it
type TaskStatus string

const (
	TaskQueued      TaskStatus = "queued"
	TaskResearching TaskStatus = "researching"
	TaskValidating  TaskStatus = "validating"
	TaskPublishing  TaskStatus = "publishing"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
)

// ActiveTaskStatuses are the statuses that block a new task for the same entity
var ActiveTaskStatuses = []TaskStatus{TaskQueued, TaskResearching, TaskValidating}

// Active reports whether the status counts against admission
func (s TaskStatus) Active() bool {
	for _, active := range ActiveTaskStatuses {
		if s == active {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known task statuses
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskQueued, TaskResearching, TaskValidating, TaskPublishing, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// Trigger records why a task was created
type Trigger string

const (
	TriggerSignal     Trigger = "signal"
	TriggerDecay      Trigger = "decay"
	TriggerWatchlist  Trigger = "watchlist"
	TriggerEnrichment Trigger = "enrichment"
	TriggerManual     Trigger = "manual"
)
