package aggregates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandaudit/internal/audit"
	"brandaudit/internal/methodology"
	"brandaudit/internal/unifier"
)

func pageRow(personaID, url string, tier audit.Tier, final float64) unifier.PageRow {
	slug := audit.Slug(url)
	return unifier.PageRow{
		PageFact: audit.PageFact{
			PersonaID:  personaID,
			PageID:     audit.PageID(slug),
			URL:        url,
			Slug:       slug,
			Tier:       tier,
			TierWeight: tier.Weight(),
			FinalScore: final,
			Descriptor: audit.DescriptorFor(final),
		},
		CriticalIssue: final < 4.0,
		Success:       final >= 8.0,
	}
}

func TestBrandHealth(t *testing.T) {
	ds := &unifier.Dataset{Pages: []unifier.PageRow{
		pageRow("p1", "https://a.example.com/", audit.Tier1, 9),
		pageRow("p1", "https://a.example.com/b", audit.Tier2, 6),
		pageRow("p1", "https://a.example.com/c", audit.Tier3, 3),
	}}
	// 9*0.5 + 6*0.3 + 3*0.2 = 6.9
	assert.InDelta(t, 6.9, BrandHealth(ds), 1e-9)
}

func TestBrandHealthIgnoresOffSite(t *testing.T) {
	ds := &unifier.Dataset{Pages: []unifier.PageRow{
		pageRow("p1", "https://a.example.com/", audit.Tier1, 8),
		pageRow("p1", "https://linkedin.com/company/a", audit.TierOffSite, 2),
	}}
	assert.InDelta(t, 4.0, BrandHealth(ds), 1e-9)
}

func TestDistinctiveness(t *testing.T) {
	store, err := methodology.Default()
	require.NoError(t, err)

	page := pageRow("p1", "https://a.example.com/", audit.Tier1, 7)
	page.Criteria = []unifier.CriterionRow{
		{CriterionID: "differentiation", RawScore: 6},
		{CriterionID: "findability", RawScore: 2}, // untagged, ignored
	}
	ds := &unifier.Dataset{Pages: []unifier.PageRow{page}}
	assert.InDelta(t, 6.0, Distinctiveness(ds, store), 1e-9)
}

func TestNetSentiment(t *testing.T) {
	withSentiment := func(url, sentiment string) unifier.PageRow {
		p := pageRow("p1", url, audit.TierOffSite, 5)
		p.Experience = &audit.Experience{OverallSentiment: sentiment}
		return p
	}
	onsite := pageRow("p1", "https://a.example.com/", audit.Tier1, 9)
	onsite.Experience = &audit.Experience{OverallSentiment: "positive"} // must be ignored

	ds := &unifier.Dataset{Pages: []unifier.PageRow{
		withSentiment("https://linkedin.com/company/a", "positive"),
		withSentiment("https://x.com/a", "positive"),
		withSentiment("https://instagram.com/a", "negative"),
		withSentiment("https://facebook.com/a", "neutral"),
		onsite,
	}}

	s := NetSentiment(ds)
	assert.Equal(t, 4, s.Rows)
	assert.InDelta(t, 50.0, s.PctPositive, 1e-9)
	assert.InDelta(t, 25.0, s.PctNegative, 1e-9)
	assert.InDelta(t, 25.0, s.NetPct, 1e-9)
	assert.InDelta(t, 2.5, s.Score, 1e-9)
	assert.Equal(t, StatusLow, s.Status)
}

func TestNetSentimentEmpty(t *testing.T) {
	ds := &unifier.Dataset{Pages: []unifier.PageRow{
		pageRow("p1", "https://a.example.com/", audit.Tier1, 9),
	}}
	s := NetSentiment(ds)
	assert.Equal(t, 0, s.Rows)
	assert.Equal(t, StatusLow, s.Status)
}

func TestOpportunitiesRanking(t *testing.T) {
	tier1 := pageRow("p1", "https://a.example.com/", audit.Tier1, 5)
	tier1.Criteria = []unifier.CriterionRow{
		{CriterionID: "brand_clarity", CriterionName: "Brand Clarity", RawScore: 4},
		{CriterionID: "trust_signals", CriterionName: "Trust Signals", RawScore: 9}, // at target, excluded
	}
	tier1.Recommendations = []audit.Recommendation{{
		StrategicImpact: "Brand Clarity",
		Recommendation:  "Lead with the one-line positioning.",
		Complexity:      "Low",
	}}

	tier3 := pageRow("p1", "https://a.example.com/docs", audit.Tier3, 5)
	tier3.Criteria = []unifier.CriterionRow{
		{CriterionID: "findability", CriterionName: "Findability", RawScore: 4},
	}

	ds := &unifier.Dataset{Pages: []unifier.PageRow{tier3, tier1}}
	ops := Opportunities(ds, 10)
	require.Len(t, ops, 2)

	// (8-4)*0.5 = 2.0 beats (8-4)*0.2 = 0.8
	assert.Equal(t, "brand_clarity", ops[0].CriterionID)
	assert.InDelta(t, 2.0, ops[0].Impact, 1e-9)
	assert.Equal(t, "Low", ops[0].Effort)
	assert.Equal(t, "Lead with the one-line positioning.", ops[0].Recommendation)
	assert.Equal(t, "Medium", ops[1].Effort)
}

func TestOpportunitiesEffortTieBreak(t *testing.T) {
	withEffort := func(url, effort string) unifier.PageRow {
		p := pageRow("p1", url, audit.Tier1, 5)
		p.Criteria = []unifier.CriterionRow{
			{CriterionID: "brand_clarity", CriterionName: "Brand Clarity", RawScore: 4},
		}
		p.Recommendations = []audit.Recommendation{{
			StrategicImpact: "Brand Clarity", Complexity: effort,
		}}
		return p
	}

	ds := &unifier.Dataset{Pages: []unifier.PageRow{
		withEffort("https://a.example.com/high", "High"),
		withEffort("https://a.example.com/low", "Low"),
	}}
	ops := Opportunities(ds, 0)
	require.Len(t, ops, 2)
	assert.Equal(t, "Low", ops[0].Effort)
	assert.Equal(t, "High", ops[1].Effort)
}

func TestSuccessStoriesOrdering(t *testing.T) {
	ds := &unifier.Dataset{Pages: []unifier.PageRow{
		pageRow("p1", "https://a.example.com/", audit.Tier1, 8.2),
		pageRow("p1", "https://a.example.com/b", audit.Tier2, 9.1),
		pageRow("p1", "https://a.example.com/c", audit.Tier3, 5.0),
	}}
	stories := SuccessStories(ds)
	require.Len(t, stories, 2)
	assert.InDelta(t, 9.1, stories[0].FinalScore, 1e-9)
	assert.InDelta(t, 8.2, stories[1].FinalScore, 1e-9)
}

func TestStatusBands(t *testing.T) {
	assert.Equal(t, StatusHigh, StatusFor(7.0))
	assert.Equal(t, StatusModerate, StatusFor(4.0))
	assert.Equal(t, StatusModerate, StatusFor(6.99))
	assert.Equal(t, StatusLow, StatusFor(3.99))
}

func TestComputeSummary(t *testing.T) {
	store, err := methodology.Default()
	require.NoError(t, err)

	page := pageRow("p1", "https://a.example.com/", audit.Tier1, 9)
	page.Criteria = []unifier.CriterionRow{
		{CriterionID: "differentiation", CriterionName: "Differentiation", RawScore: 9},
		{CriterionID: "cta_effectiveness", CriterionName: "Call-to-Action Effectiveness", RawScore: 6},
	}
	ds := &unifier.Dataset{Pages: []unifier.PageRow{page}}

	s := Compute(ds, store, 5)
	assert.InDelta(t, 4.5, s.BrandHealth.Score, 1e-9) // 9 * 0.5, tiers 2-3 empty
	assert.Equal(t, StatusModerate, s.BrandHealth.Status)
	assert.InDelta(t, 9.0, s.Distinctiveness.Score, 1e-9)
	require.Len(t, s.Opportunities, 1)
	assert.Len(t, s.SuccessStories, 1)
}
