package packager

import (
	"math"
	"sort"
	"strconv"

	"brandaudit/internal/audit"
)

// Manifest summarizes one packaged persona run.
type Manifest struct {
	RunID       string `json:"run_id"`
	GeneratedAt string `json:"generated_at"`
	PersonaID   string `json:"persona_id"`

	Counts struct {
		Scorecards        int `json:"scorecards"`
		ExperienceReports int `json:"experience_reports"`
		CriteriaRows      int `json:"criteria_rows"`
		Skipped           int `json:"skipped"`
	} `json:"counts"`

	ScoreDistribution Distribution `json:"score_distribution"`

	// BrandHealth is the tier-weighted mean of on-site final scores for
	// this persona, the same formula the aggregates use run-wide.
	BrandHealth float64 `json:"brand_health"`

	ByTier       map[string]TierAggregate      `json:"by_tier"`
	ByDescriptor map[string]int                `json:"by_descriptor"`
	ByCriterion  map[string]CriterionAggregate `json:"by_criterion"`
}

// Distribution describes the final-score spread across pages.
type Distribution struct {
	Min    float64 `json:"min"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Max    float64 `json:"max"`
}

// TierAggregate rolls up pages within one tier.
type TierAggregate struct {
	Pages     int     `json:"pages"`
	MeanFinal float64 `json:"mean_final"`
}

// CriterionAggregate rolls up raw scores for one criterion across pages.
type CriterionAggregate struct {
	Rows    int     `json:"rows"`
	MeanRaw float64 `json:"mean_raw"`
}

func (p *Packager) buildManifest(runID, generatedAt string, cards []*scorecard, reports []*experienceReport, skipped int) *Manifest {
	m := &Manifest{
		RunID:        runID,
		GeneratedAt:  generatedAt,
		ByTier:       map[string]TierAggregate{},
		ByDescriptor: map[string]int{},
		ByCriterion:  map[string]CriterionAggregate{},
	}
	if len(cards) > 0 {
		m.PersonaID = cards[0].PersonaID
	}
	m.Counts.Scorecards = len(cards)
	m.Counts.ExperienceReports = len(reports)
	m.Counts.Skipped = skipped

	finals := make([]float64, 0, len(cards))
	tierSums := map[string]*TierAggregate{}
	critSums := map[string]*CriterionAggregate{}

	for _, card := range cards {
		finals = append(finals, card.FinalScore)
		m.ByDescriptor[string(audit.DescriptorFor(card.FinalScore))]++

		key := strconv.Itoa(int(card.Tier))
		agg := tierSums[key]
		if agg == nil {
			agg = &TierAggregate{}
			tierSums[key] = agg
		}
		agg.Pages++
		agg.MeanFinal += card.FinalScore

		for _, row := range card.Rows {
			m.Counts.CriteriaRows++
			cagg := critSums[row.CriterionID]
			if cagg == nil {
				cagg = &CriterionAggregate{}
				critSums[row.CriterionID] = cagg
			}
			cagg.Rows++
			cagg.MeanRaw += row.RawScore
		}
	}

	for key, agg := range tierSums {
		agg.MeanFinal = round(agg.MeanFinal/float64(agg.Pages), 2)
		m.ByTier[key] = *agg
	}
	for id, agg := range critSums {
		agg.MeanRaw = round(agg.MeanRaw/float64(agg.Rows), 2)
		m.ByCriterion[id] = *agg
	}

	m.ScoreDistribution = describe(finals)
	m.BrandHealth = round(brandHealth(cards), 2)
	return m
}

// brandHealth is sum over tiers 1-3 of tier_weight x mean(final_score).
// Tiers without pages contribute nothing.
func brandHealth(cards []*scorecard) float64 {
	sums := map[audit.Tier]float64{}
	counts := map[audit.Tier]int{}
	for _, card := range cards {
		if !card.Tier.OnSite() {
			continue
		}
		sums[card.Tier] += card.FinalScore
		counts[card.Tier]++
	}
	total := 0.0
	for tier, n := range counts {
		total += tier.Weight() * (sums[tier] / float64(n))
	}
	return total
}

func describe(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	variance := 0.0
	for _, v := range sorted {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(sorted))

	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}

	return Distribution{
		Min:    sorted[0],
		Mean:   round(mean, 2),
		Median: round(median, 2),
		Std:    round(math.Sqrt(variance), 2),
		Max:    sorted[len(sorted)-1],
	}
}
