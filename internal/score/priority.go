package score

import (
	"math"

	"github.com/ppiankov/signalqueue/internal/model"
)

// PriorityInput holds everything the priority formula reads
type PriorityInput struct {
	Urgency          model.Urgency
	EntityConfidence float64 // 0.0 to 1.0
	TopPersonaScore  float64 // 0.0 to 1.0
}

// PriorityCalculator computes research task priority:
//
//	clamp(base + urgencyBoost + round(confidence*10) + round(topPersona*15), 0, 100)
type PriorityCalculator struct {
	base  int
	boost map[model.Urgency]int
}

// NewPriorityCalculator creates a calculator from priority settings
func NewPriorityCalculator(cfg model.PriorityConfig) *PriorityCalculator {
	boost := cfg.UrgencyBoost
	if len(boost) == 0 {
		boost = model.DefaultConfig().Priority.UrgencyBoost
	}
	return &PriorityCalculator{base: cfg.Base, boost: boost}
}

// Calculate returns the clamped priority and the factors that produced it
func (c *PriorityCalculator) Calculate(in PriorityInput) (int, model.PriorityFactors) {
	factors := model.PriorityFactors{
		Base:       c.base,
		Urgency:    c.boost[in.Urgency],
		Confidence: int(math.Round(clamp01(in.EntityConfidence) * 10)),
		Persona:    int(math.Round(clamp01(in.TopPersonaScore) * 15)),
	}

	priority := factors.Sum()
	if priority < 0 {
		priority = 0
	}
	if priority > 100 {
		priority = 100
	}
	return priority, factors
}
