// Package methodology holds the read-only criteria catalogue: which
// criteria apply to each tier, their weights and rubrics, descriptor
// thresholds, and the keyword rules behind content tags, themes and
// regulatory frameworks.
package methodology

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"brandaudit/internal/audit"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const weightTolerance = 1e-6

// Thresholds are the descriptor band boundaries.
type Thresholds struct {
	Excellent float64 `yaml:"excellent"`
	Pass      float64 `yaml:"pass"`
	Warn      float64 `yaml:"warn"`
}

// KeywordRule names a label and the lowercase keywords that trigger it.
type KeywordRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type catalogue struct {
	DescriptorThresholds Thresholds `yaml:"descriptor_thresholds"`
	Tiers                struct {
		Tier1   []audit.Criterion `yaml:"tier1"`
		Tier2   []audit.Criterion `yaml:"tier2"`
		Tier3   []audit.Criterion `yaml:"tier3"`
		OffSite []audit.Criterion `yaml:"offsite"`
	} `yaml:"tiers"`
	ContentTags map[string][]string `yaml:"content_tags"`
	Themes      []KeywordRule       `yaml:"themes"`
	Frameworks  []KeywordRule       `yaml:"frameworks"`
}

// Store is the loaded, validated catalogue. It is not mutated at runtime.
type Store struct {
	cat catalogue
}

// Default loads the embedded catalogue.
func Default() (*Store, error) {
	return parse(defaultsYAML)
}

// Load reads a catalogue from a YAML file, replacing the embedded
// defaults entirely.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read methodology file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Store, error) {
	var cat catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse methodology: %w", err)
	}
	s := &Store{cat: cat}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) validate() error {
	for _, tier := range []audit.Tier{audit.Tier1, audit.Tier2, audit.Tier3, audit.TierOffSite} {
		criteria := s.CriteriaFor(tier)
		if len(criteria) == 0 {
			return fmt.Errorf("methodology: tier %d has no criteria", tier)
		}
		sum := 0.0
		seen := map[string]bool{}
		for _, c := range criteria {
			if c.ID == "" || c.Name == "" || c.Rubric == "" {
				return fmt.Errorf("methodology: tier %d criterion %q incomplete", tier, c.ID)
			}
			if seen[c.ID] {
				return fmt.Errorf("methodology: tier %d criterion %q duplicated", tier, c.ID)
			}
			seen[c.ID] = true
			sum += c.Weight
		}
		if math.Abs(sum-1.0) > weightTolerance {
			return fmt.Errorf("methodology: tier %d weights sum to %v, want 1.0", tier, sum)
		}
	}
	if s.cat.DescriptorThresholds.Excellent <= s.cat.DescriptorThresholds.Pass {
		return fmt.Errorf("methodology: descriptor thresholds out of order")
	}
	return nil
}

// CriteriaFor returns the ordered criteria list for a tier.
func (s *Store) CriteriaFor(tier audit.Tier) []audit.Criterion {
	switch tier {
	case audit.Tier1:
		return s.cat.Tiers.Tier1
	case audit.Tier2:
		return s.cat.Tiers.Tier2
	case audit.Tier3:
		return s.cat.Tiers.Tier3
	case audit.TierOffSite:
		return s.cat.Tiers.OffSite
	default:
		return nil
	}
}

// Lookup returns the criterion by (tier, id).
func (s *Store) Lookup(tier audit.Tier, id string) (audit.Criterion, bool) {
	for _, c := range s.CriteriaFor(tier) {
		if c.ID == id {
			return c, true
		}
	}
	return audit.Criterion{}, false
}

// Label returns the human-readable name for a criterion id, searching all
// tiers. Falls back to the id itself.
func (s *Store) Label(id string) string {
	for _, tier := range []audit.Tier{audit.Tier1, audit.Tier2, audit.Tier3, audit.TierOffSite} {
		if c, ok := s.Lookup(tier, id); ok {
			return c.Name
		}
	}
	return id
}

// Thresholds returns the descriptor band boundaries.
func (s *Store) Thresholds() Thresholds {
	return s.cat.DescriptorThresholds
}

// TaggedCriterionIDs returns the sorted, deduplicated ids of criteria
// carrying any of the given tags, across all tiers.
func (s *Store) TaggedCriterionIDs(tags ...string) []string {
	set := map[string]bool{}
	for _, tier := range []audit.Tier{audit.Tier1, audit.Tier2, audit.Tier3, audit.TierOffSite} {
		for _, c := range s.CriteriaFor(tier) {
			for _, tag := range tags {
				if c.HasTag(tag) {
					set[c.ID] = true
				}
			}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ContentTags reports the three boolean content tags for a page body.
// The keyword lists are configuration; matching is lowercase substring.
func (s *Store) ContentTags(text string) (isBenelux, hasCompliance, hasSecurity bool) {
	lower := strings.ToLower(text)
	return matchAny(lower, s.cat.ContentTags["benelux"]),
		matchAny(lower, s.cat.ContentTags["compliance"]),
		matchAny(lower, s.cat.ContentTags["security"])
}

// Themes returns the names of theme rules whose keywords appear in the
// text, in catalogue order.
func (s *Store) Themes(text string) []string {
	return matchRules(text, s.cat.Themes)
}

// Frameworks returns the regulatory frameworks referenced by the text.
func (s *Store) Frameworks(text string) []string {
	return matchRules(text, s.cat.Frameworks)
}

func matchRules(text string, rules []KeywordRule) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, r := range rules {
		if matchAny(lower, r.Keywords) {
			out = append(out, r.Name)
		}
	}
	return out
}

func matchAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
