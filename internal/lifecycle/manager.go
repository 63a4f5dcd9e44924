// Package lifecycle tracks each entity's freshness, completeness, quality and
// engagement, and exposes the stale, critical and incomplete sets that feed
// decay-triggered re-research.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/signalqueue/internal/model"
	"github.com/ppiankov/signalqueue/internal/store"
)

// Manager owns all EntityState mutations
type Manager struct {
	entities store.EntityStore
	personas model.PersonaRegistry
	cfg      model.LifecycleConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates a lifecycle manager. cfg is copied and never mutated.
func NewManager(entities store.EntityStore, personas model.PersonaRegistry, cfg model.LifecycleConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = store.DefaultPageSize
	}
	return &Manager{
		entities: entities,
		personas: personas,
		cfg:      cfg,
		logger:   logger.Named("lifecycle"),
		now:      time.Now,
	}
}

// SetClock replaces the time source
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Config returns the lifecycle settings in use
func (m *Manager) Config() model.LifecycleConfig {
	return m.cfg
}

// UpsertInput describes new information about an entity
type UpsertInput struct {
	EntityID       string // derived from Type and Name when empty
	Name           string
	Type           model.EntityType
	Aliases        []string
	PrimaryPersona string
	Data           model.EntityData
	HalfLifeDays   float64 // explicit override; 0 uses the type default
	SourceCount    int     // 0 keeps the prior value
	LastValidated  *time.Time
	PersonaScores  map[string]float64
}

func (in UpsertInput) id() (string, error) {
	id := in.EntityID
	if id == "" {
		id = model.EntityID(in.Type, in.Name)
	}
	if id == "" || strings.HasSuffix(id, ":") {
		return "", fmt.Errorf("entity %q of type %q has no usable id", in.Name, in.Type)
	}
	return id, nil
}

// Upsert creates the entity or records that it was just updated.
// Updates refresh freshness and completeness; quality fields other than
// SourceCount, LastValidated and PersonaScores are left as they were.
func (m *Manager) Upsert(ctx context.Context, in UpsertInput) (model.EntityState, error) {
	id, err := in.id()
	if err != nil {
		return model.EntityState{}, fmt.Errorf("upsert entity: %w", err)
	}
	now := m.now().UTC()

	state, err := m.entities.UpdateEntity(ctx, id, func(state *model.EntityState, exists bool) error {
		if !exists {
			m.initialize(state, in, now)
		} else {
			m.applyUpdate(state, in)
		}

		if in.HalfLifeDays > 0 {
			state.Freshness.DecayHalfLifeDays = in.HalfLifeDays
		} else if state.Freshness.DecayHalfLifeDays <= 0 {
			state.Freshness.DecayHalfLifeDays = m.HalfLife(state.EntityType, 0)
		}
		state.Freshness.LastUpdated = now
		m.refreshDecay(state, now)
		state.Completeness = m.Assess(*state, now)
		return nil
	})
	if err != nil {
		return model.EntityState{}, fmt.Errorf("upsert entity %s: %w", id, err)
	}
	return state, nil
}

// Observe records that an entity was mentioned. A first mention creates the
// entity; later mentions only merge aliases and persona scores, since a
// mention is not new information about the entity.
func (m *Manager) Observe(ctx context.Context, in UpsertInput) (model.EntityState, bool, error) {
	id, err := in.id()
	if err != nil {
		return model.EntityState{}, false, fmt.Errorf("observe entity: %w", err)
	}
	now := m.now().UTC()
	created := false

	state, err := m.entities.UpdateEntity(ctx, id, func(state *model.EntityState, exists bool) error {
		if !exists {
			created = true
			m.initialize(state, in, now)
			state.Freshness.DecayHalfLifeDays = m.HalfLife(state.EntityType, in.HalfLifeDays)
			state.Freshness.LastUpdated = now
			m.refreshDecay(state, now)
			state.Completeness = m.Assess(*state, now)
			return nil
		}
		state.Aliases = mergeAliases(state.CanonicalName, state.Aliases, append([]string{in.Name}, in.Aliases...))
		state.Quality.PersonaScores = mergeScores(state.Quality.PersonaScores, in.PersonaScores)
		if state.PrimaryPersona == "" && in.PrimaryPersona != "" {
			state.PrimaryPersona = in.PrimaryPersona
			state.Completeness = m.Assess(*state, now)
		}
		return nil
	})
	if err != nil {
		return model.EntityState{}, false, fmt.Errorf("observe entity %s: %w", id, err)
	}
	return state, created, nil
}

func (m *Manager) initialize(state *model.EntityState, in UpsertInput, now time.Time) {
	state.CanonicalName = in.Name
	state.EntityType = in.Type
	state.Aliases = mergeAliases(in.Name, nil, in.Aliases)
	state.PrimaryPersona = in.PrimaryPersona
	state.Data = model.EntityData{Version: model.EntityDataVersion}.Merge(in.Data)
	state.Quality = model.Quality{
		OverallScore:  m.cfg.NeutralQuality,
		PersonaScores: mergeScores(nil, in.PersonaScores),
		SourceCount:   in.SourceCount,
		LastValidated: in.LastValidated,
	}
	state.Engagement = model.Engagement{}
	state.CreatedAt = now
}

func (m *Manager) applyUpdate(state *model.EntityState, in UpsertInput) {
	if in.Name != "" && state.CanonicalName == "" {
		state.CanonicalName = in.Name
	}
	state.Aliases = mergeAliases(state.CanonicalName, state.Aliases, append([]string{in.Name}, in.Aliases...))
	if in.PrimaryPersona != "" {
		state.PrimaryPersona = in.PrimaryPersona
	}
	state.Data = state.Data.Merge(in.Data)

	if in.SourceCount > 0 {
		state.Quality.SourceCount = in.SourceCount
	}
	if in.LastValidated != nil {
		state.Quality.LastValidated = in.LastValidated
	}
	state.Quality.PersonaScores = mergeScores(state.Quality.PersonaScores, in.PersonaScores)
}

// RecomputeDecay refreshes decay score and stale days for every entity, one
// page at a time. LastUpdated is never changed. Per-entity failures are logged
// and skipped; ErrUnavailable stops the pass.
func (m *Manager) RecomputeDecay(ctx context.Context) (int, error) {
	updated := 0
	after := ""

	for {
		page, err := m.entities.ListEntities(ctx, store.EntityQuery{After: after, Limit: m.cfg.PageSize})
		if err != nil {
			return updated, fmt.Errorf("list entities after %q: %w", after, err)
		}
		if len(page) == 0 {
			return updated, nil
		}

		for _, e := range page {
			if err := ctx.Err(); err != nil {
				return updated, err
			}

			now := m.now().UTC()
			_, err := m.entities.UpdateEntity(ctx, e.EntityID, func(state *model.EntityState, exists bool) error {
				if !exists {
					return store.ErrNotFound
				}
				m.refreshDecay(state, now)
				return nil
			})
			if errors.Is(err, store.ErrUnavailable) {
				return updated, fmt.Errorf("recompute decay for %s: %w", e.EntityID, err)
			}
			if err != nil {
				m.logger.Warn("decay recompute failed",
					zap.String("entity_id", e.EntityID),
					zap.Error(err))
				continue
			}
			updated++
		}

		if len(page) < m.cfg.PageSize {
			return updated, nil
		}
		after = page[len(page)-1].EntityID
	}
}

// RecordEngagement applies a user interaction to an existing entity
func (m *Manager) RecordEngagement(ctx context.Context, entityID string, action model.EngagementAction) (model.EntityState, error) {
	now := m.now().UTC()

	state, err := m.entities.UpdateEntity(ctx, entityID, func(state *model.EntityState, exists bool) error {
		if !exists {
			return store.ErrNotFound
		}
		switch action {
		case model.ActionView:
			state.Engagement.ViewCount++
			state.Engagement.LastViewed = &now
		case model.ActionWatchlistAdd:
			state.Engagement.WatchlistCount++
		case model.ActionWatchlistRemove:
			if state.Engagement.WatchlistCount > 0 {
				state.Engagement.WatchlistCount--
			}
		default:
			return fmt.Errorf("unknown engagement action %q", action)
		}
		return nil
	})
	if err != nil {
		return model.EntityState{}, fmt.Errorf("record %s for %s: %w", action, entityID, err)
	}
	return state, nil
}

// RecordResearch appends a completed research task, keeping the most recent
// model.MaxResearchHistory entries, and takes its quality score as current.
// Completed research counts as an update: freshness restarts from the
// completion time and completeness is reassessed.
func (m *Manager) RecordResearch(ctx context.Context, entityID string, record model.ResearchRecord) (model.EntityState, error) {
	if record.CompletedAt.IsZero() {
		record.CompletedAt = m.now().UTC()
	}

	state, err := m.entities.UpdateEntity(ctx, entityID, func(state *model.EntityState, exists bool) error {
		if !exists {
			return store.ErrNotFound
		}
		state.ResearchHistory = append(state.ResearchHistory, record)
		if over := len(state.ResearchHistory) - model.MaxResearchHistory; over > 0 {
			state.ResearchHistory = append([]model.ResearchRecord(nil), state.ResearchHistory[over:]...)
		}
		state.Quality.OverallScore = record.QualityScore
		validated := record.CompletedAt
		state.Quality.LastValidated = &validated

		if state.Freshness.DecayHalfLifeDays <= 0 {
			state.Freshness.DecayHalfLifeDays = m.HalfLife(state.EntityType, 0)
		}
		state.Freshness.LastUpdated = record.CompletedAt
		m.refreshDecay(state, record.CompletedAt)
		state.Completeness = m.Assess(*state, record.CompletedAt)
		return nil
	})
	if err != nil {
		return model.EntityState{}, fmt.Errorf("record research for %s: %w", entityID, err)
	}
	return state, nil
}

// RecordContradiction increments the entity's contradiction count
func (m *Manager) RecordContradiction(ctx context.Context, entityID string) (model.EntityState, error) {
	state, err := m.entities.UpdateEntity(ctx, entityID, func(state *model.EntityState, exists bool) error {
		if !exists {
			return store.ErrNotFound
		}
		state.Quality.ContradictionCount++
		return nil
	})
	if err != nil {
		return model.EntityState{}, fmt.Errorf("record contradiction for %s: %w", entityID, err)
	}
	return state, nil
}

func mergeAliases(canonical string, existing, add []string) []string {
	out := append([]string(nil), existing...)
	seen := map[string]bool{strings.ToLower(canonical): true}
	for _, a := range out {
		seen[strings.ToLower(a)] = true
	}
	for _, a := range add {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

func mergeScores(existing, add map[string]float64) map[string]float64 {
	if len(existing) == 0 && len(add) == 0 {
		return existing
	}
	out := make(map[string]float64, len(existing)+len(add))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}
