package lifecycle

import (
	"math"
	"time"

	"github.com/ppiankov/signalqueue/internal/model"
)

// DecayScore returns 0.5^(days/halfLifeDays), kept inside (0, 1].
// Non-positive days give 1; a non-positive half-life is treated as no decay.
func DecayScore(days, halfLifeDays float64) float64 {
	if days <= 0 || halfLifeDays <= 0 {
		return 1
	}
	score := math.Pow(0.5, days/halfLifeDays)
	if score < math.SmallestNonzeroFloat64 {
		return math.SmallestNonzeroFloat64
	}
	if score > 1 {
		return 1
	}
	return score
}

// daysBetween returns the fractional number of days from then to now, never negative
func daysBetween(then, now time.Time) float64 {
	if then.IsZero() || now.Before(then) {
		return 0
	}
	return now.Sub(then).Hours() / 24
}

// HalfLife resolves the half-life for an entity: override, then per-type, then default
func (m *Manager) HalfLife(entityType model.EntityType, override float64) float64 {
	if override > 0 {
		return override
	}
	if hl, ok := m.cfg.HalfLifeDays[entityType]; ok && hl > 0 {
		return hl
	}
	if m.cfg.DefaultHalfLifeDays > 0 {
		return m.cfg.DefaultHalfLifeDays
	}
	return model.DefaultConfig().Lifecycle.DefaultHalfLifeDays
}

// refreshDecay recomputes decay and stale days from LastUpdated without moving it
func (m *Manager) refreshDecay(state *model.EntityState, now time.Time) {
	hl := state.Freshness.DecayHalfLifeDays
	if hl <= 0 {
		hl = m.HalfLife(state.EntityType, 0)
		state.Freshness.DecayHalfLifeDays = hl
	}

	days := daysBetween(state.Freshness.LastUpdated, now)
	state.Freshness.DecayScore = DecayScore(days, hl)
	state.Freshness.StaleDays = int(days)
	state.Freshness.LastChecked = now
}
