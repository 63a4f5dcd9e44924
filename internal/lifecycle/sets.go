package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/signalqueue/internal/model"
	"github.com/ppiankov/signalqueue/internal/store"
)

// Stale returns one page of entities whose decay score is below the stale threshold
func (m *Manager) Stale(ctx context.Context, after string, limit int) ([]model.EntityState, error) {
	threshold := m.cfg.StaleThreshold
	return m.page(ctx, "stale", store.EntityQuery{After: after, Limit: limit, DecayBelow: &threshold})
}

// Critical returns one page of entities whose decay score is below the critical threshold
func (m *Manager) Critical(ctx context.Context, after string, limit int) ([]model.EntityState, error) {
	threshold := m.cfg.CriticalThreshold
	return m.page(ctx, "critical", store.EntityQuery{After: after, Limit: limit, DecayBelow: &threshold})
}

// Incomplete returns one page of entities whose completeness is below the threshold
func (m *Manager) Incomplete(ctx context.Context, after string, limit int) ([]model.EntityState, error) {
	threshold := m.cfg.IncompleteThreshold
	return m.page(ctx, "incomplete", store.EntityQuery{After: after, Limit: limit, CompletenessBelow: &threshold})
}

// Contradicted returns one page of entities with at least one recorded contradiction
func (m *Manager) Contradicted(ctx context.Context, after string, limit int) ([]model.EntityState, error) {
	return m.page(ctx, "contradicted", store.EntityQuery{After: after, Limit: limit, Contradicted: true})
}

func (m *Manager) page(ctx context.Context, set string, q store.EntityQuery) ([]model.EntityState, error) {
	if q.Limit <= 0 {
		q.Limit = m.cfg.PageSize
	}
	states, err := m.entities.ListEntities(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list %s entities: %w", set, err)
	}
	return states, nil
}

// Tier is how urgently a decayed entity needs re-research
type Tier string

const (
	TierCritical Tier = "critical"
	TierStale    Tier = "stale"
)

// Urgency maps a decay tier onto the urgency scale used for priority
func (t Tier) Urgency() model.Urgency {
	if t == TierCritical {
		return model.UrgencyHigh
	}
	return model.UrgencyMedium
}

// Candidate is an entity selected for decay-triggered re-research
type Candidate struct {
	State model.EntityState
	Tier  Tier
}

// SkipFunc reports whether an entity should be left out of the candidate list
type SkipFunc func(ctx context.Context, entityID string) (bool, error)

// DecayCandidates returns up to limit re-research candidates: all critical
// entities first, then stale ones that are not critical. Entities for which
// skip returns true (typically those with an active task) are passed over and
// do not count against limit. A skip error other than ErrUnavailable leaves
// the entity out for this pass.
func (m *Manager) DecayCandidates(ctx context.Context, limit int, skip SkipFunc) ([]Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}

	var out []Candidate
	seen := make(map[string]bool)

	collect := func(tier Tier, list func(context.Context, string, int) ([]model.EntityState, error)) error {
		after := ""
		for len(out) < limit {
			page, err := list(ctx, after, m.cfg.PageSize)
			if err != nil {
				return err
			}
			for _, st := range page {
				if seen[st.EntityID] {
					continue
				}
				seen[st.EntityID] = true

				if skip != nil {
					skipped, err := skip(ctx, st.EntityID)
					if errors.Is(err, store.ErrUnavailable) {
						return fmt.Errorf("check %s: %w", st.EntityID, err)
					}
					if err != nil {
						m.logger.Warn("decay candidate check failed",
							zap.String("entity_id", st.EntityID),
							zap.Error(err))
						continue
					}
					if skipped {
						continue
					}
				}

				out = append(out, Candidate{State: st, Tier: tier})
				if len(out) == limit {
					return nil
				}
			}
			if len(page) < m.cfg.PageSize {
				return nil
			}
			after = page[len(page)-1].EntityID
		}
		return nil
	}

	if err := collect(TierCritical, m.Critical); err != nil {
		return out, err
	}
	if err := collect(TierStale, m.Stale); err != nil {
		return out, err
	}
	return out, nil
}
