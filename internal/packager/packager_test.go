package packager

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brandaudit/internal/audit"
	"brandaudit/internal/emitter"
	"brandaudit/internal/methodology"
)

func fixturePage(url string, tier audit.Tier) *audit.Page {
	slug := audit.Slug(url)
	return &audit.Page{
		URL:       url,
		Slug:      slug,
		PageID:    audit.PageID(slug),
		Title:     "Example",
		Tier:      tier,
		FetchedAt: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
	}
}

func eval(personaID string, page *audit.Page, id, name string, raw, critWeight float64) audit.Evaluation {
	return audit.Evaluation{
		PersonaID:     personaID,
		PageID:        page.PageID,
		CriterionID:   id,
		CriterionName: name,
		Tier:          page.Tier,
		RawScore:      raw,
		WeightedScore: raw * critWeight * page.Tier.Weight(),
		Descriptor:    audit.DescriptorFor(raw),
		Evidence:      "Observed on the page | verified in copy.",
	}
}

func TestPackageRoundTrip(t *testing.T) {
	store, err := methodology.Default()
	require.NoError(t, err)
	em := emitter.New(store, zap.NewNop())
	pk := New(store, zap.NewNop())

	dir := t.TempDir()
	persona := audit.Persona{ID: "Strategic_Business_Leader"}

	onsite := fixturePage("https://corp.example.com/", audit.Tier1)
	offsite := fixturePage("https://linkedin.com/company/example", audit.TierOffSite)

	results := []emitter.PageResult{
		{
			Page: onsite,
			Evaluations: []audit.Evaluation{
				eval(persona.ID, onsite, "brand_clarity", "Brand Clarity", 8.5, 0.20),
				eval(persona.ID, onsite, "value_proposition", "Value Proposition", 7.0, 0.20),
				eval(persona.ID, onsite, "differentiation", "Differentiation", 6.5, 0.15),
				eval(persona.ID, onsite, "trust_signals", "Trust Signals", 9.0, 0.15),
				eval(persona.ID, onsite, "cta_effectiveness", "Call-to-Action Effectiveness", 5.0, 0.15),
				eval(persona.ID, onsite, "persona_resonance", "Persona Resonance", 7.5, 0.15),
			},
			Experience: &audit.Experience{
				PersonaID:       persona.ID,
				PageID:          onsite.PageID,
				FirstImpression: "Confident and clear.",
				InformationGaps: "No pricing anchor.",
			},
		},
		{
			Page: offsite,
			Evaluations: []audit.Evaluation{
				eval(persona.ID, offsite, "engagement_quality", "Engagement Quality", 6.0, 0.35),
				eval(persona.ID, offsite, "brand_voice", "Brand Voice", 7.0, 0.35),
				eval(persona.ID, offsite, "community_response", "Community Response", 4.0, 0.30),
			},
			Experience: &audit.Experience{
				PersonaID:            persona.ID,
				PageID:               offsite.PageID,
				FirstImpression:      "Sporadic posting cadence.",
				OverallSentiment:     "neutral",
				EngagementLevel:      "medium",
				ConversionLikelihood: "low",
			},
		},
	}

	for _, res := range results {
		require.NoError(t, em.EmitPage(dir, persona, res))
	}
	require.NoError(t, em.EmitTables(dir, persona, results))

	want := map[string][]byte{}
	for _, name := range []string{emitter.PagesFile, emitter.CriteriaScoresFile, emitter.ExperienceFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		want[name] = data
	}

	manifest, err := pk.Package(dir, "run-1", "2026-08-30T09:00:00Z")
	require.NoError(t, err)

	// packaging the markdown reproduces the emitter's table bytes
	for name, expected := range want {
		got, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		if diff := cmp.Diff(string(expected), string(got)); diff != "" {
			t.Fatalf("%s mismatch after repackage (-emitted +packaged):\n%s", name, diff)
		}
	}

	assert.Equal(t, "Strategic_Business_Leader", manifest.PersonaID)
	assert.Equal(t, 2, manifest.Counts.Scorecards)
	assert.Equal(t, 2, manifest.Counts.ExperienceReports)
	assert.Equal(t, 9, manifest.Counts.CriteriaRows)
	assert.Equal(t, 0, manifest.Counts.Skipped)

	// onsite final: 8.5*.2 + 7*.2 + 6.5*.15 + 9*.15 + 5*.15 + 7.5*.15 = 7.3
	// offsite final: 6*.35 + 7*.35 + 4*.30 = 5.75
	assert.InDelta(t, 5.75, manifest.ScoreDistribution.Min, 1e-9)
	assert.InDelta(t, 7.3, manifest.ScoreDistribution.Max, 1e-9)
	assert.InDelta(t, 6.525, manifest.ScoreDistribution.Mean, 0.01)
	assert.Equal(t, 2, manifest.ByDescriptor["PASS"])
	assert.Equal(t, 1, manifest.ByTier["1"].Pages)
	assert.Equal(t, 1, manifest.ByTier["0"].Pages)
	assert.InDelta(t, 3.65, manifest.BrandHealth, 1e-9) // 7.3 * 0.5, off-site excluded

	_, err = os.Stat(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
}

func TestPackageSkipsMalformed(t *testing.T) {
	store, err := methodology.Default()
	require.NoError(t, err)
	em := emitter.New(store, zap.NewNop())
	pk := New(store, zap.NewNop())

	dir := t.TempDir()
	persona := audit.Persona{ID: "p1"}
	page := fixturePage("https://corp.example.com/about", audit.Tier2)
	require.NoError(t, em.EmitPage(dir, persona, emitter.PageResult{
		Page: page,
		Evaluations: []audit.Evaluation{
			eval(persona.ID, page, "value_proposition", "Value Proposition", 6.0, 0.25),
		},
	}))

	garbage := filepath.Join(dir, "broken_hygiene_scorecard.md")
	require.NoError(t, os.WriteFile(garbage, []byte("# not a scorecard\n"), 0o644))

	manifest, err := pk.Package(dir, "run-2", "2026-08-30T09:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.Counts.Scorecards)
	assert.Equal(t, 1, manifest.Counts.Skipped)
}

func TestPackageEmptyDirWritesEmptyTables(t *testing.T) {
	store, err := methodology.Default()
	require.NoError(t, err)
	pk := New(store, zap.NewNop())

	dir := t.TempDir()
	garbage := filepath.Join(dir, "broken_hygiene_scorecard.md")
	require.NoError(t, os.WriteFile(garbage, []byte("# not a scorecard\n"), 0o644))

	manifest, err := pk.Package(dir, "run-3", "2026-08-30T09:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 0, manifest.Counts.Scorecards)
	assert.Equal(t, 1, manifest.Counts.Skipped)
	assert.Zero(t, manifest.BrandHealth)
	assert.Zero(t, manifest.ScoreDistribution.Mean)

	// The tables still exist, with just their headers.
	for _, name := range []string{emitter.PagesFile, emitter.CriteriaScoresFile, emitter.ExperienceFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		assert.Len(t, lines, 1, name)
	}
}

func TestParseRejectsForeignCriterion(t *testing.T) {
	store, err := methodology.Default()
	require.NoError(t, err)
	pk := New(store, zap.NewNop())

	dir := t.TempDir()
	doc := `# Hygiene Scorecard: Example

**Persona:** p1
**URL:** https://corp.example.com/
**Tier:** ` + audit.Tier1.Label() + `
**Audited:** 2026-08-30T09:00:00Z

| Criterion | Score | Rationale |
|-----------|-------|-----------|
| **Community Response** | 6.0/10 | Not a tier 1 criterion. |

**Final Score:** 6.0/10
`
	path := filepath.Join(dir, "corp_example_com_hygiene_scorecard.md")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err = pk.parseScorecardFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in tier")
}
