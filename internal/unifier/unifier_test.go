package unifier

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brandaudit/internal/audit"
	"brandaudit/internal/emitter"
	"brandaudit/internal/methodology"
)

func page(url string, tier audit.Tier) *audit.Page {
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

func tier3Result(personaID string, p *audit.Page, scores map[string]float64) emitter.PageResult {
	names := map[string]string{
		"content_accuracy":  "Content Accuracy",
		"findability":       "Findability",
		"trust_signals":     "Trust Signals",
		"cta_effectiveness": "Call-to-Action Effectiveness",
	}
	var evals []audit.Evaluation
	for id, raw := range scores {
		evals = append(evals, audit.Evaluation{
			PersonaID: personaID, PageID: p.PageID,
			CriterionID: id, CriterionName: names[id],
			Tier: p.Tier, RawScore: raw,
			Descriptor: audit.DescriptorFor(raw),
			Evidence:   "noted",
		})
	}
	return emitter.PageResult{Page: p, Evaluations: evals}
}

func emitPersona(t *testing.T, root, personaID string, results []emitter.PageResult) string {
	t.Helper()
	store, err := methodology.Default()
	require.NoError(t, err)
	em := emitter.New(store, zap.NewNop())
	dir := filepath.Join(root, personaID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, em.EmitTables(dir, audit.Persona{ID: personaID}, results))
	return dir
}

func TestLoadMergesPersonas(t *testing.T) {
	root := t.TempDir()
	urls := []string{
		"https://corp.example.com/docs/a",
		"https://corp.example.com/docs/b",
		"https://corp.example.com/docs/c",
	}

	balanced := map[string]float64{
		"content_accuracy": 6, "findability": 6, "trust_signals": 6, "cta_effectiveness": 6,
	}
	var dirs []string
	for _, personaID := range []string{"p1", "p2"} {
		var results []emitter.PageResult
		for _, u := range urls {
			results = append(results, tier3Result(personaID, page(u, audit.Tier3), balanced))
		}
		dirs = append(dirs, emitPersona(t, root, personaID, results))
	}

	u := New(zap.NewNop())
	ds, err := u.Load(dirs)
	require.NoError(t, err)

	require.Len(t, ds.Pages, 6)

	// sorted by (persona_id, page_id)
	for i := 1; i < len(ds.Pages); i++ {
		prev, cur := ds.Pages[i-1], ds.Pages[i]
		if prev.PersonaID == cur.PersonaID {
			assert.Less(t, prev.PageID, cur.PageID)
		} else {
			assert.Less(t, prev.PersonaID, cur.PersonaID)
		}
	}

	// each page id appears once per persona
	seen := map[string]int{}
	for _, p := range ds.Pages {
		seen[p.PageID]++
	}
	require.Len(t, seen, 3)
	for id, n := range seen {
		assert.Equal(t, 2, n, "page %s", id)
	}
}

func TestDeriveFlags(t *testing.T) {
	cases := []struct {
		name     string
		scores   map[string]float64
		critical bool
		quickWin bool
		success  bool
	}{
		{
			name:     "uniformly bad is critical, not a quick win",
			scores:   map[string]float64{"content_accuracy": 3, "findability": 3, "trust_signals": 3, "cta_effectiveness": 3},
			critical: true,
		},
		{
			name:     "mostly good with one failure is a quick win",
			scores:   map[string]float64{"content_accuracy": 8, "findability": 3, "trust_signals": 8, "cta_effectiveness": 8},
			quickWin: true,
		},
		{
			name:    "uniformly strong is a success",
			scores:  map[string]float64{"content_accuracy": 9, "findability": 8, "trust_signals": 9, "cta_effectiveness": 8},
			success: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			dir := emitPersona(t, root, "p1", []emitter.PageResult{
				tier3Result("p1", page("https://corp.example.com/x", audit.Tier3), tc.scores),
			})
			ds, err := New(zap.NewNop()).Load([]string{dir})
			require.NoError(t, err)
			require.Len(t, ds.Pages, 1)
			assert.Equal(t, tc.critical, ds.Pages[0].CriticalIssue, "critical")
			assert.Equal(t, tc.quickWin, ds.Pages[0].QuickWin, "quick win")
			assert.Equal(t, tc.success, ds.Pages[0].Success, "success")
		})
	}
}

func TestOnSiteSentimentScrubbed(t *testing.T) {
	root := t.TempDir()
	p := page("https://corp.example.com/about", audit.Tier2)
	res := emitter.PageResult{
		Page: p,
		Evaluations: []audit.Evaluation{{
			PersonaID: "p1", PageID: p.PageID,
			CriterionID: "value_proposition", CriterionName: "Value Proposition",
			Tier: p.Tier, RawScore: 6, Descriptor: audit.DescriptorPass, Evidence: "ok",
		}},
		Experience: &audit.Experience{
			PersonaID:       "p1",
			PageID:          p.PageID,
			FirstImpression: "Fine.",
			// stale values that must not survive unification
			OverallSentiment:     "positive",
			EngagementLevel:      "high",
			ConversionLikelihood: "high",
		},
	}
	dir := emitPersona(t, root, "p1", []emitter.PageResult{res})

	u := New(zap.NewNop())
	ds, err := u.Load([]string{dir})
	require.NoError(t, err)
	require.NotNil(t, ds.Pages[0].Experience)
	assert.Empty(t, ds.Pages[0].Experience.OverallSentiment)
	assert.Empty(t, ds.Pages[0].Experience.EngagementLevel)
	assert.Empty(t, ds.Pages[0].Experience.ConversionLikelihood)
	assert.Equal(t, "Fine.", ds.Pages[0].Experience.FirstImpression)

	out := t.TempDir()
	require.NoError(t, u.Write(out, ds))
	rows := readCSV(t, filepath.Join(out, UnifiedPagesFile))
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[1][9], "overall_sentiment must be empty on-site")
	assert.Equal(t, "", rows[1][10])
	assert.Equal(t, "", rows[1][11])
}

func TestQuickWinShape(t *testing.T) {
	mk := func(scores ...float64) []CriterionRow {
		rows := make([]CriterionRow, len(scores))
		for i, s := range scores {
			rows[i] = CriterionRow{RawScore: s}
		}
		return rows
	}

	assert.True(t, quickWin(mk(8, 8, 8, 3)))
	assert.False(t, quickWin(mk(3, 3, 3, 3)), "no spread")
	assert.False(t, quickWin(mk(5, 6, 5, 6)), "no failing criterion")
	assert.False(t, quickWin(mk(4, 5)), "max below 7")
	assert.False(t, quickWin(mk(8)), "single criterion")
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
