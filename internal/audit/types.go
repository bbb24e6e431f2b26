// Package audit holds the domain model of the page audit pipeline:
// personas, pages, tiers, criteria, evaluations and the derived rows that
// end up in the canonical tables.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Tier classifies a page by strategic importance. Tier 1 pages carry the
// largest share of overall brand health.
type Tier int

const (
	// TierOffSite marks social-platform and other external channels.
	// Off-site pages are scored with their own criteria set and never
	// enter the Tier 1-3 on-site path.
	TierOffSite Tier = 0

	// Tier1 is brand positioning / core pages.
	Tier1 Tier = 1

	// Tier2 is value proposition / important pages.
	Tier2 Tier = 2

	// Tier3 is functional / supporting pages.
	Tier3 Tier = 3
)

// Weight returns the tier's share of overall brand health. The three
// on-site weights sum to 1.0; off-site pages carry no tier weight.
func (t Tier) Weight() float64 {
	switch t {
	case Tier1:
		return 0.5
	case Tier2:
		return 0.3
	case Tier3:
		return 0.2
	default:
		return 0
	}
}

// Label returns the human-readable tier name.
func (t Tier) Label() string {
	switch t {
	case Tier1:
		return "Brand Positioning / Core"
	case Tier2:
		return "Value Propositions / Important"
	case Tier3:
		return "Functional / Supporting"
	case TierOffSite:
		return "Off-Site Channel"
	default:
		return "Unknown"
	}
}

// OnSite reports whether the tier belongs to the audited properties.
func (t Tier) OnSite() bool {
	return t == Tier1 || t == Tier2 || t == Tier3
}

// Descriptor is the qualitative band derived from a raw score.
type Descriptor string

const (
	DescriptorExcellent Descriptor = "EXCELLENT"
	DescriptorPass      Descriptor = "PASS"
	DescriptorWarn      Descriptor = "WARN"
	DescriptorFail      Descriptor = "FAIL"
)

// DescriptorFor maps a raw score to the coarse three-band descriptor used
// by the canonical tables: >= 8.0 EXCELLENT, >= 4.0 PASS, else FAIL.
func DescriptorFor(raw float64) Descriptor {
	switch {
	case raw >= 8.0:
		return DescriptorExcellent
	case raw >= 4.0:
		return DescriptorPass
	default:
		return DescriptorFail
	}
}

// FineDescriptorFor maps a raw score to the four-band variant used by the
// markdown emitter, adding a WARN band for scores in [2.0, 4.0).
func FineDescriptorFor(raw float64) Descriptor {
	switch {
	case raw >= 8.0:
		return DescriptorExcellent
	case raw >= 4.0:
		return DescriptorPass
	case raw >= 2.0:
		return DescriptorWarn
	default:
		return DescriptorFail
	}
}

// Persona is a named marketing archetype under audit. Immutable within a
// run once ingested.
type Persona struct {
	ID    string
	Name  string
	Brief string
}

// Page is one audited web page after fetching and tier classification.
type Page struct {
	URL       string
	Slug      string
	PageID    string
	Title     string
	Body      string
	Tier      Tier
	FetchedAt time.Time
}

// OffSite reports whether the page was routed to the off-site channel path.
func (p *Page) OffSite() bool {
	return p.Tier == TierOffSite
}

// Criterion is one read-only scoring dimension from the methodology
// catalogue.
type Criterion struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Weight float64  `yaml:"weight"`
	Rubric string   `yaml:"rubric"`
	Tags   []string `yaml:"tags"`
}

// HasTag reports whether the criterion carries the given methodology tag.
func (c Criterion) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Evaluation is the atomic fact: one (page, persona, criterion) score.
// Immutable after packaging.
type Evaluation struct {
	PersonaID      string
	PageID         string
	CriterionID    string
	CriterionName  string
	Tier           Tier
	RawScore       float64
	WeightedScore  float64
	Descriptor     Descriptor
	Evidence       string
	Recommendation string
	Urgency        string
	Effort         string
}

// Experience holds the qualitative report fields for one (page, persona).
// The sentiment triple (OverallSentiment, EngagementLevel,
// ConversionLikelihood) is defined only for off-site channels and stays
// empty on Tier 1-3 pages.
type Experience struct {
	PersonaID                  string
	PageID                     string
	FirstImpression            string
	LanguageToneFeedback       string
	TrustCredibilityAssessment string
	InformationGaps            string
	BusinessImpactAnalysis     string
	EffectiveCopyExamples      string
	IneffectiveCopyExamples    string
	OverallSentiment           string
	EngagementLevel            string
	ConversionLikelihood       string
}

// PageFact is the per-(page, persona) aggregate over all evaluations.
type PageFact struct {
	PersonaID  string
	PageID     string
	URL        string
	Slug       string
	Tier       Tier
	TierWeight float64
	FinalScore float64
	AvgScore   float64
	Descriptor Descriptor
}

// Recommendation is one derived improvement row.
type Recommendation struct {
	PersonaID       string
	PageID          string
	Recommendation  string
	StrategicImpact string
	Complexity      string
	Urgency         string
	QuickWin        bool
}

// PageID derives the stable 8-hex page identifier from a URL slug. It is a
// pure function of the slug and identical across runs.
func PageID(slug string) string {
	sum := sha256.Sum256([]byte(slug))
	return hex.EncodeToString(sum[:4])
}
