package lifecycle

import (
	"math"
	"testing"

	"github.com/ppiankov/signalqueue/internal/model"
	"github.com/ppiankov/signalqueue/internal/store"
)

func TestDecayScore(t *testing.T) {
	tests := []struct {
		name     string
		days     float64
		halfLife float64
		want     float64
	}{
		{"fresh", 0, 30, 1},
		{"one half-life", 30, 30, 0.5},
		{"two half-lives", 30, 15, 0.25},
		{"quarter", 7, 28, math.Pow(0.5, 0.25)},
		{"negative days", -3, 30, 1},
		{"no half-life", 10, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecayScore(tt.days, tt.halfLife)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("DecayScore(%v, %v) = %v, want %v", tt.days, tt.halfLife, got, tt.want)
			}
		})
	}
}

func TestDecayScore_StrictlyDecreasingAndPositive(t *testing.T) {
	for _, hl := range []float64{1, 7, 30, 60} {
		prev := DecayScore(0, hl)
		for days := 1.0; days <= 5000; days *= 1.5 {
			got := DecayScore(days, hl)
			if got <= 0 || got > 1 {
				t.Fatalf("DecayScore(%v, %v) = %v outside (0,1]", days, hl, got)
			}
			if got > prev {
				t.Fatalf("DecayScore increased at %v days (hl %v): %v > %v", days, hl, got, prev)
			}
			prev = got
		}
	}

	if got := DecayScore(1e9, 1); got <= 0 {
		t.Errorf("Expected positive floor for extreme decay, got %v", got)
	}
}

func TestHalfLifeResolution(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), model.DefaultPersonas(), model.DefaultConfig().Lifecycle, nil)

	if got := m.HalfLife(model.EntityPerson, 12); got != 12 {
		t.Errorf("Expected override 12, got %v", got)
	}
	if got := m.HalfLife(model.EntityEvent, 0); got != 7 {
		t.Errorf("Expected event half-life 7, got %v", got)
	}
	if got := m.HalfLife(model.EntityType("unknown"), 0); got != 30 {
		t.Errorf("Expected default half-life 30, got %v", got)
	}
}
