package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/signalqueue/internal/model"
)

const (
	companyConfidence = 0.7
	personConfidence  = 0.6
	fundingConfidence = 0.8

	minNameLength = 3
	maxNameLength = 50

	// FundingEventName is the synthesized entity emitted when funding language is present
	FundingEventName = "funding_event"
)

const (
	capWord         = `[A-Z][A-Za-z0-9&'\-]*`
	companySuffixes = `Inc|Corp|Corporation|LLC|Ltd|Limited|Technologies|Therapeutics|Labs|Systems|Capital|Ventures|Holdings|Bio|Biosciences|Pharmaceuticals|Robotics|AI|Group`
	fundingVerbs    = `raises|raised|secures|secured|closes|closed|announces|announced|acquires|acquired|launches|launched|lands|landed`
	roleTitles      = `CEO|CTO|CFO|COO|CMO|[Ff]ounder|[Cc]o-founder|[Pp]resident|[Pp]artner|[Cc]hief [A-Z][a-z]+ [Oo]fficer`
	personName      = `[A-Z][a-z]+(?:[ \t]+[A-Z][a-z'\-]+){1,2}`
)

// pattern is one heuristic within a family; group selects the capture holding the name
type pattern struct {
	name  string
	re    *regexp.Regexp
	group int
}

var (
	companyPatterns = []pattern{
		{name: "company:suffix", re: regexp.MustCompile(`\b((?:` + capWord + `[ \t]+){0,3}` + capWord + `[ \t]+(?:` + companySuffixes + `))\b`), group: 1},
		{name: "company:funding_verb", re: regexp.MustCompile(`\b(` + capWord + `(?:[ \t]+` + capWord + `){0,3})[ \t]+(?:` + fundingVerbs + `)\b`), group: 1},
	}

	personPatterns = []pattern{
		{name: "person:role_before", re: regexp.MustCompile(`\b(?:` + roleTitles + `)[,:]?[ \t]+(` + personName + `)\b`), group: 1},
		{name: "person:role_after", re: regexp.MustCompile(`\b(` + personName + `),?[ \t]+(?:the[ \t]+)?(?:` + roleTitles + `)\b`), group: 1},
	}

	fundingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\$\s?\d+(?:\.\d+)?\s?(?:million|billion|mn|bn|m|b)\b`),
		regexp.MustCompile(`(?i)\b(?:series [a-f]|pre-seed|seed round|seed funding)\b`),
	}

	companySuffixPattern = regexp.MustCompile(`\b(?:` + companySuffixes + `)$`)

	// sentence openers that the capitalized-word run would otherwise absorb
	leadingFillers = map[string]bool{
		"A": true, "An": true, "The": true, "In": true, "On": true, "At": true, "As": true,
		"After": true, "Before": true, "Meanwhile": true, "Now": true, "Also": true,
		"Breaking": true, "Exclusive": true, "Update": true, "Report": true, "Reports": true,
		"Sources": true, "Watch": true, "Why": true, "How": true, "When": true,
		"Yesterday": true, "Today": true, "Tonight": true, "Tomorrow": true,
		"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true,
		"Friday": true, "Saturday": true, "Sunday": true,
	}
)

// EntityExtractor finds companies, people and funding events in signal text
// using ordered pattern families. It is deliberately heuristic: fast,
// deterministic and explainable.
type EntityExtractor struct {
	minConfidence float64
	maxEntities   int
}

// NewEntityExtractor creates an extractor from extraction settings
func NewEntityExtractor(cfg model.ExtractionConfig) *EntityExtractor {
	maxEntities := cfg.MaxEntities
	if maxEntities <= 0 {
		maxEntities = model.DefaultConfig().Extraction.MaxEntities
	}
	return &EntityExtractor{
		minConfidence: cfg.MinConfidence,
		maxEntities:   maxEntities,
	}
}

// Extract returns the entities found in text, best first. It never fails;
// text with no matches yields an empty slice.
func (e *EntityExtractor) Extract(text string) []model.ExtractedEntity {
	text = PlainText(text)

	found := newEntitySet()

	for _, p := range companyPatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2*p.group], m[2*p.group+1]
			name, pos := trimLeadingFillers(text[start:end], start)
			found.add(name, pos, model.EntityCompany, companyConfidence, p.name)
		}
	}

	for _, p := range personPatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2*p.group], m[2*p.group+1]
			name := strings.TrimSpace(text[start:end])
			if !strings.Contains(name, " ") || companySuffixPattern.MatchString(name) {
				continue
			}
			found.add(name, start, model.EntityPerson, personConfidence, p.name)
		}
	}

	for _, re := range fundingPatterns {
		if re.MatchString(text) {
			found.add(FundingEventName, -1, model.EntityEvent, fundingConfidence, "funding:amount_or_round")
			break
		}
	}

	return e.rank(found.entities())
}

// trimLeadingFillers drops sentence openers from the front of a matched name
// and moves pos past them. A name made only of fillers comes back empty.
func trimLeadingFillers(name string, pos int) (string, int) {
	for {
		i := strings.IndexAny(name, " \t")
		if i < 0 {
			if leadingFillers[name] {
				return "", pos
			}
			return name, pos
		}
		if !leadingFillers[name[:i]] {
			return name, pos
		}
		rest := strings.TrimLeft(name[i:], " \t")
		pos += len(name) - len(rest)
		name = rest
	}
}

// rank filters by confidence, orders by confidence x mentions and applies the cap
func (e *EntityExtractor) rank(entities []model.ExtractedEntity) []model.ExtractedEntity {
	kept := make([]model.ExtractedEntity, 0, len(entities))
	for _, ent := range entities {
		if ent.Confidence >= e.minConfidence {
			kept = append(kept, ent)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		wi, wj := kept[i].Weight(), kept[j].Weight()
		if wi != wj {
			return wi > wj
		}
		return kept[i].Name < kept[j].Name
	})

	if len(kept) > e.maxEntities {
		kept = kept[:e.maxEntities]
	}
	return kept
}

// entitySet merges matches case-insensitively, counting each text position once
type entitySet struct {
	order     []string
	byKey     map[string]*model.ExtractedEntity
	positions map[string]bool
}

func newEntitySet() *entitySet {
	return &entitySet{
		byKey:     make(map[string]*model.ExtractedEntity),
		positions: make(map[string]bool),
	}
}

func (s *entitySet) add(name string, pos int, typ model.EntityType, confidence float64, heuristic string) {
	name = strings.Join(strings.Fields(name), " ")
	n := utf8.RuneCountInString(name)
	if n < minNameLength || n > maxNameLength {
		return
	}

	key := strings.ToLower(name)
	if pos >= 0 {
		posKey := key + "@" + strconv.Itoa(pos)
		if s.positions[posKey] {
			return
		}
		s.positions[posKey] = true
	}

	if existing, ok := s.byKey[key]; ok {
		existing.Mentions++
		if confidence > existing.Confidence {
			existing.Confidence = confidence
		}
		return
	}

	s.order = append(s.order, key)
	s.byKey[key] = &model.ExtractedEntity{
		Name:       name,
		Type:       typ,
		Confidence: confidence,
		Mentions:   1,
		Heuristic:  heuristic,
	}
}

func (s *entitySet) entities() []model.ExtractedEntity {
	out := make([]model.ExtractedEntity, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.byKey[key])
	}
	return out
}
