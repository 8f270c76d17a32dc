package mapping

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Synonyms groups names that mean the same thing across accounts even though
// no string similarity would catch it ("won" vs "closed won"). Keys and
// members are compared after Normalize.
type Synonyms struct {
	Stages map[string][]string `yaml:"stages"`
	Fields map[string][]string `yaml:"fields"`
}

// DefaultSynonyms returns the built-in synonym groups observed across
// GoHighLevel accounts.
func DefaultSynonyms() *Synonyms {
	return &Synonyms{
		Stages: map[string][]string{
			"new lead":    {"lead", "new", "incoming", "open"},
			"contacted":   {"contact made", "attempted contact", "reached out"},
			"qualified":   {"qualification", "qualifying"},
			"appointment": {"appointment scheduled", "meeting scheduled", "booked"},
			"proposal":    {"proposal sent", "quote", "quote sent", "estimate"},
			"negotiation": {"negotiating", "in negotiation"},
			"won":         {"closed won", "closed", "sold", "converted"},
			"lost":        {"closed lost", "dead", "disqualified"},
		},
		Fields: map[string][]string{
			"phone":         {"phone number", "contact phone", "mobile"},
			"email":         {"email address", "contact email"},
			"company":       {"company name", "business name", "organization"},
			"website":       {"web site", "url", "company website"},
			"address":       {"street address", "address line 1"},
			"zip":           {"zip code", "postal code", "postcode"},
			"source":        {"lead source", "referral source"},
			"budget":        {"deal value", "deal size", "estimated value"},
			"notes":         {"comments", "additional notes", "description"},
			"date of birth": {"birthday", "dob", "birth date"},
		},
	}
}

// LoadSynonyms returns the built-in groups merged with an optional YAML
// overrides file. Override groups extend rather than replace the built-ins.
func LoadSynonyms(path string) (*Synonyms, error) {
	syn := DefaultSynonyms()
	if path == "" {
		return syn, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: read synonyms file %s", path)
	}
	var extra Synonyms
	if err := yaml.Unmarshal(raw, &extra); err != nil {
		return nil, eris.Wrapf(err, "mapping: parse synonyms file %s", path)
	}

	merge := func(dst, src map[string][]string) {
		for key, members := range src {
			dst[Normalize(key)] = append(dst[Normalize(key)], members...)
		}
	}
	merge(syn.Stages, extra.Stages)
	merge(syn.Fields, extra.Fields)
	return syn, nil
}

// stageMatch reports whether two normalized stage names belong to the same
// synonym group.
func (s *Synonyms) stageMatch(a, b string) bool {
	return groupMatch(s.Stages, a, b)
}

// fieldMatch reports whether two normalized field names belong to the same
// synonym group.
func (s *Synonyms) fieldMatch(a, b string) bool {
	return groupMatch(s.Fields, a, b)
}

func groupMatch(groups map[string][]string, a, b string) bool {
	if a == b {
		return true
	}
	for key, members := range groups {
		inA, inB := key == a, key == b
		for _, m := range members {
			n := Normalize(m)
			inA = inA || n == a
			inB = inB || n == b
		}
		if inA && inB {
			return true
		}
	}
	return false
}
