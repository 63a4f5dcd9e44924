package score

import (
	"testing"

	"github.com/ppiankov/signalqueue/internal/model"
)

func TestPriorityCalculator_Calculate(t *testing.T) {
	calc := NewPriorityCalculator(model.DefaultConfig().Priority)

	tests := []struct {
		name     string
		in       PriorityInput
		want     int
		wantUrg  int
		wantConf int
		wantPers int
	}{
		{
			name:     "critical with strong persona",
			in:       PriorityInput{Urgency: model.UrgencyCritical, EntityConfidence: 0.9, TopPersonaScore: 0.8},
			want:     91,
			wantUrg:  40,
			wantConf: 9,
			wantPers: 12,
		},
		{
			name:     "low urgency no persona",
			in:       PriorityInput{Urgency: model.UrgencyLow, EntityConfidence: 0.6},
			want:     36,
			wantUrg:  0,
			wantConf: 6,
			wantPers: 0,
		},
		{
			name:     "high urgency",
			in:       PriorityInput{Urgency: model.UrgencyHigh, EntityConfidence: 0.7, TopPersonaScore: 0.82},
			want:     30 + 25 + 7 + 12,
			wantUrg:  25,
			wantConf: 7,
			wantPers: 12,
		},
		{
			name:     "unknown urgency adds nothing",
			in:       PriorityInput{Urgency: "bogus", EntityConfidence: 1, TopPersonaScore: 1},
			want:     55,
			wantUrg:  0,
			wantConf: 10,
			wantPers: 15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, factors := calc.Calculate(tt.in)
			if got != tt.want {
				t.Errorf("priority = %d, want %d", got, tt.want)
			}
			if factors.Base != 30 || factors.Urgency != tt.wantUrg || factors.Confidence != tt.wantConf || factors.Persona != tt.wantPers {
				t.Errorf("unexpected factors: %+v", factors)
			}
		})
	}
}

func TestPriorityCalculator_Clamps(t *testing.T) {
	high := NewPriorityCalculator(model.PriorityConfig{Base: 90, UrgencyBoost: map[model.Urgency]int{model.UrgencyCritical: 40}})
	if got, _ := high.Calculate(PriorityInput{Urgency: model.UrgencyCritical, EntityConfidence: 1, TopPersonaScore: 1}); got != 100 {
		t.Errorf("Expected clamp to 100, got %d", got)
	}

	low := NewPriorityCalculator(model.PriorityConfig{Base: -50, UrgencyBoost: map[model.Urgency]int{model.UrgencyLow: 0}})
	if got, _ := low.Calculate(PriorityInput{Urgency: model.UrgencyLow}); got != 0 {
		t.Errorf("Expected clamp to 0, got %d", got)
	}
}

func TestPriorityCalculator_Replayable(t *testing.T) {
	calc := NewPriorityCalculator(model.DefaultConfig().Priority)
	in := PriorityInput{Urgency: model.UrgencyMedium, EntityConfidence: 0.65, TopPersonaScore: 0.43}

	first, firstFactors := calc.Calculate(in)
	for i := 0; i < 10; i++ {
		got, factors := calc.Calculate(in)
		if got != first || factors != firstFactors {
			t.Fatalf("Calculation not deterministic: %d/%+v vs %d/%+v", got, factors, first, firstFactors)
		}
	}
}
