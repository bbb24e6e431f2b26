// Package aggregates derives the run-level metrics from the unified
// dataset. Every metric is a pure function with one documented formula;
// nothing here re-reads artifacts or calls out.
package aggregates

import (
	"math"
	"sort"
	"strings"

	"brandaudit/internal/audit"
	"brandaudit/internal/methodology"
	"brandaudit/internal/unifier"
)

// TargetScore is the score an opportunity row is measured against when
// ranking by potential impact.
const TargetScore = 8.0

// Status is the uniform three-band label used across metrics.
type Status string

const (
	StatusHigh     Status = "HIGH"
	StatusModerate Status = "MODERATE"
	StatusLow      Status = "LOW"
)

// StatusFor maps a 0-10 metric to its band.
func StatusFor(v float64) Status {
	switch {
	case v >= 7.0:
		return StatusHigh
	case v >= 4.0:
		return StatusModerate
	default:
		return StatusLow
	}
}

// Metric is one named aggregate with its band.
type Metric struct {
	Score  float64 `json:"score"`
	Status Status  `json:"status"`
}

// Sentiment is the off-site resonance breakdown.
type Sentiment struct {
	Rows        int     `json:"rows"`
	PctPositive float64 `json:"pct_positive"`
	PctNegative float64 `json:"pct_negative"`
	NetPct      float64 `json:"net_pct"`
	Score       float64 `json:"score"`
	Status      Status  `json:"status"`
}

// Opportunity is one criterion-level improvement ranked by impact.
type Opportunity struct {
	PersonaID      string  `json:"persona_id"`
	PageID         string  `json:"page_id"`
	URL            string  `json:"url"`
	CriterionID    string  `json:"criterion_id"`
	CriterionName  string  `json:"criterion_name"`
	Tier           int     `json:"tier"`
	CurrentScore   float64 `json:"current_score"`
	Impact         float64 `json:"impact"`
	Effort         string  `json:"effort"`
	Critical       bool    `json:"critical"`
	Recommendation string  `json:"recommendation,omitempty"`
}

// SuccessStory is one (page, persona) scoring in the top band.
type SuccessStory struct {
	PersonaID  string  `json:"persona_id"`
	PageID     string  `json:"page_id"`
	URL        string  `json:"url"`
	Tier       int     `json:"tier"`
	FinalScore float64 `json:"final_score"`
}

// Summary bundles every derived metric for one run.
type Summary struct {
	BrandHealth         Metric         `json:"brand_health"`
	Distinctiveness     Metric         `json:"distinctiveness"`
	NetSentiment        Sentiment      `json:"net_sentiment"`
	ConversionReadiness Metric         `json:"conversion_readiness"`
	Opportunities       []Opportunity  `json:"opportunities"`
	SuccessStories      []SuccessStory `json:"success_stories"`
}

// Compute derives all metrics. topN bounds the opportunity list.
func Compute(ds *unifier.Dataset, store *methodology.Store, topN int) *Summary {
	s := &Summary{
		Opportunities:  Opportunities(ds, topN),
		SuccessStories: SuccessStories(ds),
	}
	s.BrandHealth = metric(BrandHealth(ds))
	s.Distinctiveness = metric(Distinctiveness(ds, store))
	s.NetSentiment = NetSentiment(ds)
	s.ConversionReadiness = metric(ConversionReadiness(ds, store))
	return s
}

func metric(v float64) Metric {
	return Metric{Score: round2(v), Status: StatusFor(v)}
}

// BrandHealth is the tier-weighted mean of final scores:
// sum over tiers 1-3 of tier_weight x mean(final_score in tier).
// Off-site pages are excluded. A tier with no pages contributes zero.
func BrandHealth(ds *unifier.Dataset) float64 {
	sums := map[audit.Tier]float64{}
	counts := map[audit.Tier]int{}
	for i := range ds.Pages {
		p := &ds.Pages[i]
		if !p.Tier.OnSite() {
			continue
		}
		sums[p.Tier] += p.FinalScore
		counts[p.Tier]++
	}
	total := 0.0
	for _, tier := range []audit.Tier{audit.Tier1, audit.Tier2, audit.Tier3} {
		if counts[tier] == 0 {
			continue
		}
		total += tier.Weight() * (sums[tier] / float64(counts[tier]))
	}
	return total
}

// Distinctiveness is the mean raw score over criteria tagged
// "differentiation" or "positioning". Raw scores are already on the
// 0-10 scale.
func Distinctiveness(ds *unifier.Dataset, store *methodology.Store) float64 {
	tagged := store.TaggedCriterionIDs("differentiation", "positioning")
	return meanRawOver(ds, tagged)
}

// ConversionReadiness is the mean final score over criterion rows
// tagged "cta", "trust" or "credibility".
func ConversionReadiness(ds *unifier.Dataset, store *methodology.Store) float64 {
	tagged := toSet(store.TaggedCriterionIDs("cta", "trust", "credibility"))
	sum, n := 0.0, 0
	for i := range ds.Pages {
		p := &ds.Pages[i]
		for _, c := range p.Criteria {
			if tagged[c.CriterionID] {
				sum += p.FinalScore
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// NetSentiment is pct_positive minus pct_negative across off-site rows
// carrying a sentiment, reported as a percentage and rescaled to 0-10.
func NetSentiment(ds *unifier.Dataset) Sentiment {
	positive, negative, total := 0, 0, 0
	for i := range ds.Pages {
		p := &ds.Pages[i]
		if p.Tier.OnSite() || p.Experience == nil {
			continue
		}
		sentiment := strings.ToLower(strings.TrimSpace(p.Experience.OverallSentiment))
		if sentiment == "" {
			continue
		}
		total++
		switch sentiment {
		case "positive":
			positive++
		case "negative":
			negative++
		}
	}
	if total == 0 {
		return Sentiment{Status: StatusLow}
	}
	pctPos := 100 * float64(positive) / float64(total)
	pctNeg := 100 * float64(negative) / float64(total)
	net := pctPos - pctNeg
	// net is in [-100, 100]; the /10 rescale puts positive balances on
	// the shared 0-10 axis, and anything net-negative floors at zero.
	score := math.Max(0, net/10)
	return Sentiment{
		Rows:        total,
		PctPositive: round2(pctPos),
		PctNegative: round2(pctNeg),
		NetPct:      round2(net),
		Score:       round2(score),
		Status:      StatusFor(score),
	}
}

// Opportunities ranks criterion rows by potential impact,
// (TargetScore - raw) x tier_weight, tie-broken by effort (Low wins)
// then by the page's critical flag.
func Opportunities(ds *unifier.Dataset, topN int) []Opportunity {
	var out []Opportunity
	for i := range ds.Pages {
		p := &ds.Pages[i]
		for _, c := range p.Criteria {
			if c.RawScore >= TargetScore {
				continue
			}
			effort, rec := effortFor(p, c.CriterionName)
			out = append(out, Opportunity{
				PersonaID:      p.PersonaID,
				PageID:         p.PageID,
				URL:            p.URL,
				CriterionID:    c.CriterionID,
				CriterionName:  c.CriterionName,
				Tier:           int(p.Tier),
				CurrentScore:   c.RawScore,
				Impact:         round2((TargetScore - c.RawScore) * p.Tier.Weight()),
				Effort:         effort,
				Critical:       p.CriticalIssue,
				Recommendation: rec,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Impact != out[j].Impact {
			return out[i].Impact > out[j].Impact
		}
		if ei, ej := effortRank(out[i].Effort), effortRank(out[j].Effort); ei != ej {
			return ei < ej
		}
		return out[i].Critical && !out[j].Critical
	})

	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// SuccessStories lists pages with the success flag, best first.
func SuccessStories(ds *unifier.Dataset) []SuccessStory {
	var out []SuccessStory
	for i := range ds.Pages {
		p := &ds.Pages[i]
		if !p.Success {
			continue
		}
		out = append(out, SuccessStory{
			PersonaID:  p.PersonaID,
			PageID:     p.PageID,
			URL:        p.URL,
			Tier:       int(p.Tier),
			FinalScore: p.FinalScore,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinalScore > out[j].FinalScore
	})
	return out
}

func effortFor(p *unifier.PageRow, criterionName string) (string, string) {
	for _, rec := range p.Recommendations {
		if rec.StrategicImpact == criterionName {
			return rec.Complexity, rec.Recommendation
		}
	}
	return "Medium", ""
}

func effortRank(effort string) int {
	switch strings.ToLower(effort) {
	case "low":
		return 0
	case "medium":
		return 1
	default:
		return 2
	}
}

func meanRawOver(ds *unifier.Dataset, criterionIDs []string) float64 {
	tagged := toSet(criterionIDs)
	sum, n := 0.0, 0
	for i := range ds.Pages {
		for _, c := range ds.Pages[i].Criteria {
			if tagged[c.CriterionID] {
				sum += c.RawScore
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
