// Package store persists signals, research tasks and entity states.
//
// Two implementations share one contract: SQLiteStore for real deployments
// and MemoryStore for tests and local runs. Both enforce the admission
// invariant (at most one active research task per entity) with a single
// conditional write rather than a read followed by a write.
package store

import (
	"context"
	"errors"

	"github.com/ppiankov/signalqueue/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClaimed is returned when a signal is not in a claimable state
	// or another worker claimed it first
	ErrAlreadyClaimed = errors.New("signal already claimed")

	// ErrInvalidTransition is returned when a status change does not start
	// from the expected state
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnavailable marks errors where the store itself cannot be reached;
	// batch entry points let these escape instead of skipping the item
	ErrUnavailable = errors.New("store unavailable")
)

// SignalStore holds signals produced by ingestion
type SignalStore interface {
	CreateSignal(ctx context.Context, sig model.Signal) error
	GetSignal(ctx context.Context, id string) (model.Signal, error)

	// ListClaimable returns up to limit pending or retry signals, oldest first
	ListClaimable(ctx context.Context, limit int) ([]model.Signal, error)

	// ClaimSignal moves a pending or retry signal to processing. A second
	// concurrent claim of the same signal gets ErrAlreadyClaimed.
	ClaimSignal(ctx context.Context, id string) (model.Signal, error)

	// CompleteSignal moves a processing signal to processed
	CompleteSignal(ctx context.Context, id string, entities, personas []string) error

	// RetrySignal moves a processing signal to retry, recording errText
	RetrySignal(ctx context.Context, id string, errText string) error

	// FailSignal moves a processing or retry signal to failed (used by retry policy owners)
	FailSignal(ctx context.Context, id string, errText string) error
}

// TaskQuery filters research task listings
type TaskQuery struct {
	Status   model.TaskStatus // empty = any
	EntityID string           // empty = any
	Limit    int
}

// TaskStore holds research tasks
type TaskStore interface {
	// HasActiveTask reports whether a queued, researching or validating task exists for entityID
	HasActiveTask(ctx context.Context, entityID string) (bool, error)

	// CreateIfNoActive inserts task only if no active task exists for its entity.
	// It returns false, nil when the insert was rejected by the active-task guard.
	CreateIfNoActive(ctx context.Context, task model.ResearchTask) (bool, error)

	GetTask(ctx context.Context, id string) (model.ResearchTask, error)

	// ListTasks returns tasks ordered by priority (highest first), then age
	ListTasks(ctx context.Context, q TaskQuery) ([]model.ResearchTask, error)

	// UpdateTaskStatus is used by the research executor to advance a task
	UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error
}

// EntityQuery selects a page of entity states in entity id order
type EntityQuery struct {
	After             string   // keyset cursor: return ids strictly greater than this
	Limit             int      // page size; <= 0 means DefaultPageSize
	DecayBelow        *float64 // decay_score < value
	CompletenessBelow *int     // completeness score < value
	Contradicted      bool     // contradiction_count > 0
}

// DefaultPageSize is used when an EntityQuery has no limit
const DefaultPageSize = 200

// EntityUpdateFunc mutates state in place. exists is false when the entity is
// being created; returning an error aborts the update.
type EntityUpdateFunc func(state *model.EntityState, exists bool) error

// EntityStore holds entity states. Entities are never deleted.
type EntityStore interface {
	GetEntity(ctx context.Context, id string) (model.EntityState, error)

	// UpdateEntity applies fn to the stored state (or a zero state) and writes
	// the result back as one atomic single-document upsert
	UpdateEntity(ctx context.Context, id string, fn EntityUpdateFunc) (model.EntityState, error)

	// ListEntities returns one page of entities matching q
	ListEntities(ctx context.Context, q EntityQuery) ([]model.EntityState, error)
}

// Store is the full persistence surface
type Store interface {
	SignalStore
	TaskStore
	EntityStore
	Close() error
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}
