package score

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ppiankov/signalqueue/internal/model"
)

const (
	maxReasons       = 3
	maxPersonaScores = 3
)

// PersonaScorer ranks personas by how relevant a signal is to each of them.
// The score is a plain sum of keyword, entity-affinity and sector
// contributions so every number can be traced back to a reason.
type PersonaScorer struct {
	personas []compiledPersona
}

type compiledPersona struct {
	persona  model.Persona
	keywords []compiledTerm
	sectors  []compiledTerm
}

type compiledTerm struct {
	term   string
	weight float64
	re     *regexp.Regexp
}

// NewPersonaScorer compiles the registry's keyword tables
func NewPersonaScorer(registry model.PersonaRegistry) *PersonaScorer {
	s := &PersonaScorer{}
	for _, p := range registry.Personas {
		s.personas = append(s.personas, compiledPersona{
			persona:  p,
			keywords: compileTerms(p.Keywords),
			sectors:  compileTerms(p.SectorKeywords),
		})
	}
	return s
}

// compileTerms builds word-boundary matchers so "ai" does not fire inside "raises"
func compileTerms(terms []model.WeightedTerm) []compiledTerm {
	out := make([]compiledTerm, 0, len(terms))
	for _, t := range terms {
		term := strings.ToLower(strings.TrimSpace(t.Term))
		if term == "" {
			continue
		}
		out = append(out, compiledTerm{
			term:   term,
			weight: t.Weight,
			re:     regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`),
		})
	}
	return out
}

// Score returns up to three personas with a positive score, highest first
func (s *PersonaScorer) Score(entities []model.ExtractedEntity, text string) []model.PersonaScore {
	lower := strings.ToLower(text)

	scores := make([]model.PersonaScore, 0, len(s.personas))
	for _, cp := range s.personas {
		ps := s.scorePersona(cp, entities, lower)
		if ps.Score > 0 {
			scores = append(scores, ps)
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].PersonaID < scores[j].PersonaID
	})

	if len(scores) > maxPersonaScores {
		scores = scores[:maxPersonaScores]
	}
	return scores
}

func (s *PersonaScorer) scorePersona(cp compiledPersona, entities []model.ExtractedEntity, lower string) model.PersonaScore {
	total := 0.0
	var reasons []string
	addReason := func(reason string) {
		if len(reasons) < maxReasons {
			reasons = append(reasons, reason)
		}
	}

	// 1. Keyword hits
	for _, kw := range cp.keywords {
		if kw.re.MatchString(lower) {
			total += kw.weight
			addReason("keyword:" + kw.term)
		}
	}

	// 2. Entity-type affinity weighted by extraction confidence
	for _, ent := range entities {
		for _, aff := range cp.persona.EntityAffinity {
			if aff.Type == ent.Type && aff.Weight > 0 {
				total += aff.Weight * ent.Confidence
				addReason(fmt.Sprintf("entity:%s(%.2f)", ent.Type, ent.Confidence))
			}
		}
	}

	// 3. Sector keywords
	for _, sec := range cp.sectors {
		if sec.re.MatchString(lower) {
			total += sec.weight
			addReason("sector:" + sec.term)
		}
	}

	return model.PersonaScore{
		PersonaID: cp.persona.ID,
		Score:     clamp01(total),
		Reasons:   reasons,
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// TopScore returns the highest persona score, or 0 when there are none
func TopScore(scores []model.PersonaScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	return scores[0].Score
}

// PersonaIDs returns the persona ids of scores in order
func PersonaIDs(scores []model.PersonaScore) []string {
	ids := make([]string, 0, len(scores))
	for _, s := range scores {
		ids = append(ids, s.PersonaID)
	}
	return ids
}
