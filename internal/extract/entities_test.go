package extract

import (
	"strings"
	"testing"

	"github.com/ppiankov/signalqueue/internal/model"
)

func newTestExtractor() *EntityExtractor {
	return NewEntityExtractor(model.DefaultConfig().Extraction)
}

func findEntity(entities []model.ExtractedEntity, name string) (model.ExtractedEntity, bool) {
	for _, e := range entities {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return model.ExtractedEntity{}, false
}

func TestEntityExtractor_FundingAnnouncement(t *testing.T) {
	entities := newTestExtractor().Extract("Acme Therapeutics raises $50 million Series B")

	if len(entities) != 2 {
		t.Fatalf("Expected 2 entities, got %d: %+v", len(entities), entities)
	}

	company, ok := findEntity(entities, "Acme Therapeutics")
	if !ok {
		t.Fatal("Expected to find 'Acme Therapeutics'")
	}
	if company.Type != model.EntityCompany {
		t.Errorf("Expected company type, got %s", company.Type)
	}
	if company.Confidence != 0.7 {
		t.Errorf("Expected confidence 0.7, got %v", company.Confidence)
	}
	if company.Mentions != 1 {
		t.Errorf("Expected suffix and verb matches at one position to count once, got %d mentions", company.Mentions)
	}

	funding, ok := findEntity(entities, FundingEventName)
	if !ok {
		t.Fatal("Expected synthesized funding_event")
	}
	if funding.Type != model.EntityEvent || funding.Confidence != 0.8 {
		t.Errorf("Unexpected funding entity: %+v", funding)
	}

	// funding_event (0.8) outranks the company (0.7)
	if entities[0].Name != FundingEventName {
		t.Errorf("Expected funding_event first, got %s", entities[0].Name)
	}
}

func TestEntityExtractor_RepeatedMentionsMerge(t *testing.T) {
	text := "Globex Labs announced a partnership. Later, globex labs shipped the update. Globex Labs expands."

	entities := newTestExtractor().Extract(text)

	company, ok := findEntity(entities, "Globex Labs")
	if !ok {
		t.Fatalf("Expected Globex Labs, got %+v", entities)
	}
	// "globex labs" in lowercase does not match the capitalized pattern
	if company.Mentions != 2 {
		t.Errorf("Expected 2 mentions, got %d", company.Mentions)
	}
}

func TestEntityExtractor_Persons(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"role before name", "The board named CEO Jane Doe to lead the spinout.", "Jane Doe"},
		{"role after name", "John Smith, co-founder of the firm, declined to comment.", "John Smith"},
		{"chief officer title", "Chief Financial Officer Maria Lopez Garcia resigned.", "Maria Lopez Garcia"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entities := newTestExtractor().Extract(tt.text)
			person, ok := findEntity(entities, tt.want)
			if !ok {
				t.Fatalf("Expected person %q in %+v", tt.want, entities)
			}
			if person.Type != model.EntityPerson {
				t.Errorf("Expected person type, got %s", person.Type)
			}
			if person.Confidence != 0.6 {
				t.Errorf("Expected confidence 0.6, got %v", person.Confidence)
			}
		})
	}
}

func TestEntityExtractor_LeadingFillersStripped(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"time word", "Yesterday Acme Therapeutics raises $50 million"},
		{"breaking", "Breaking Acme Therapeutics secures Series B"},
		{"stacked openers", "Breaking Today Acme Therapeutics closes round"},
		{"article", "The Acme Therapeutics board met."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entities := newTestExtractor().Extract(tt.text)
			company, ok := findEntity(entities, "Acme Therapeutics")
			if !ok {
				t.Fatalf("Expected Acme Therapeutics, got %+v", entities)
			}
			if company.Mentions != 1 {
				t.Errorf("Expected one mention, got %d", company.Mentions)
			}
			for _, e := range entities {
				if e.Type == model.EntityCompany && e.Name != "Acme Therapeutics" {
					t.Errorf("Unexpected company %q", e.Name)
				}
			}
		})
	}
}

func TestTrimLeadingFillers(t *testing.T) {
	name, pos := trimLeadingFillers("Yesterday Acme Labs", 10)
	if name != "Acme Labs" || pos != 20 {
		t.Errorf("got %q at %d", name, pos)
	}
	if name, _ := trimLeadingFillers("Today", 0); name != "" {
		t.Errorf("Expected a lone filler to be dropped, got %q", name)
	}
	if name, _ := trimLeadingFillers("Initech Labs", 0); name != "Initech Labs" {
		t.Errorf("Expected name unchanged, got %q", name)
	}
}

func TestEntityExtractor_PersonRequiresInternalSpace(t *testing.T) {
	entities := newTestExtractor().Extract("Interview with CEO Madonna about touring.")

	for _, e := range entities {
		if e.Type == model.EntityPerson {
			t.Errorf("Expected no single-word person, got %+v", e)
		}
	}
}

func TestEntityExtractor_NoMatches(t *testing.T) {
	for _, text := range []string{"", "nothing to see here, just lowercase words."} {
		entities := newTestExtractor().Extract(text)
		if entities == nil {
			t.Error("Expected empty slice, got nil")
		}
		if len(entities) != 0 {
			t.Errorf("Expected no entities for %q, got %+v", text, entities)
		}
	}
}

func TestEntityExtractor_MinConfidence(t *testing.T) {
	extractor := NewEntityExtractor(model.ExtractionConfig{MinConfidence: 0.75, MaxEntities: 8})

	entities := extractor.Extract("Acme Therapeutics raises $50 million Series B")

	if len(entities) != 1 || entities[0].Name != FundingEventName {
		t.Errorf("Expected only funding_event above 0.75, got %+v", entities)
	}
}

func TestEntityExtractor_MaxEntities(t *testing.T) {
	extractor := NewEntityExtractor(model.ExtractionConfig{MinConfidence: 0.5, MaxEntities: 2})

	text := "Alpha Labs raises funds. Beta Systems raises funds. Gamma Robotics raises funds. Delta Capital raises funds."
	entities := extractor.Extract(text)

	if len(entities) != 2 {
		t.Fatalf("Expected cap of 2 entities, got %d", len(entities))
	}
}

func TestEntityExtractor_NameLengthBounds(t *testing.T) {
	long := strings.Repeat("Verylongname", 4) + " Extraordinarily Labs"
	entities := newTestExtractor().Extract(long + " raises money")

	for _, e := range entities {
		if len(e.Name) > 50 {
			t.Errorf("Expected names longer than 50 to be dropped, got %q", e.Name)
		}
	}
}

func TestEntityExtractor_HTMLContent(t *testing.T) {
	html := `<html><head><script>var Fake = "Evil Corp raises";</script></head>
	<body><p>Initech Technologies secured a contract.</p></body></html>`

	entities := newTestExtractor().Extract(html)

	if _, ok := findEntity(entities, "Initech Technologies"); !ok {
		t.Errorf("Expected Initech Technologies from visible text, got %+v", entities)
	}
	if _, ok := findEntity(entities, "Evil Corp"); ok {
		t.Error("Expected script content to be skipped")
	}
}

func TestPlainText_PassThrough(t *testing.T) {
	in := "plain 3 < 4 text"
	if got := PlainText(in); got != in {
		t.Errorf("Expected non-HTML input unchanged, got %q", got)
	}
}
