// Package unifier merges the per-persona canonical tables into one
// cross-persona dataset and derives the page-level flags. It is the only
// place flags are computed; downstream consumers read them, never
// rederive them.
package unifier

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"brandaudit/internal/artifacts"
	"brandaudit/internal/audit"
)

// QuickWinVarianceThreshold is the minimum population variance of a
// page's criterion raw scores for the page to qualify as a quick win.
// Uniformly bad pages are not quick wins; the flag targets pages where
// most criteria are strong but a few fail.
const QuickWinVarianceThreshold = 2.0

// Unified output file names.
const (
	UnifiedPagesFile    = "unified_pages.csv"
	UnifiedCriteriaFile = "unified_criteria.csv"
)

var (
	unifiedPagesHeader = []string{
		"persona_id", "page_id", "url", "url_slug", "tier", "tier_weight",
		"final_score", "avg_score", "descriptor",
		"overall_sentiment", "engagement_level", "conversion_likelihood",
		"critical_issue_flag", "quick_win_flag", "success_flag",
	}
	unifiedCriteriaHeader = []string{
		"persona_id", "page_id", "url", "url_slug", "tier",
		"criterion_id", "criterion_name", "raw_score", "weighted_score",
		"final_score", "avg_score", "descriptor",
		"overall_sentiment", "engagement_level", "conversion_likelihood",
		"critical_issue_flag", "quick_win_flag", "success_flag",
	}
)

// PageRow is one (page, persona) in the unified dataset.
type PageRow struct {
	audit.PageFact

	Criteria        []CriterionRow
	Experience      *audit.Experience
	Recommendations []audit.Recommendation

	CriticalIssue bool
	QuickWin      bool
	Success       bool
}

// CriterionRow is one (page, persona, criterion) score.
type CriterionRow struct {
	CriterionID   string
	CriterionName string
	RawScore      float64
	WeightedScore float64
	Descriptor    audit.Descriptor
	Evidence      string
}

// Dataset is the merged cross-persona view.
type Dataset struct {
	Pages []PageRow
}

// Unifier builds and writes the unified dataset.
type Unifier struct {
	logger *zap.Logger
}

// New creates a unifier.
func New(logger *zap.Logger) *Unifier {
	return &Unifier{logger: logger}
}

// Load reads the canonical tables from every persona directory and
// merges them. Input order does not matter; the result is sorted by
// (persona_id, page_id, criterion_id).
func (u *Unifier) Load(personaDirs []string) (*Dataset, error) {
	ds := &Dataset{}
	for _, dir := range personaDirs {
		pages, err := u.loadPersonaDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load persona tables from %s: %w", dir, err)
		}
		ds.Pages = append(ds.Pages, pages...)
	}
	if len(ds.Pages) == 0 {
		return nil, fmt.Errorf("no pages found across %d persona directories", len(personaDirs))
	}

	for i := range ds.Pages {
		derive(&ds.Pages[i])
	}

	sort.Slice(ds.Pages, func(i, j int) bool {
		a, b := &ds.Pages[i], &ds.Pages[j]
		if a.PersonaID != b.PersonaID {
			return a.PersonaID < b.PersonaID
		}
		return a.PageID < b.PageID
	})
	for i := range ds.Pages {
		criteria := ds.Pages[i].Criteria
		sort.Slice(criteria, func(a, b int) bool {
			return criteria[a].CriterionID < criteria[b].CriterionID
		})
	}
	return ds, nil
}

// derive computes the page-level flags and enforces the off-site-only
// sentiment rule: on-site rows never carry the sentiment triple, even
// when a stale table delivered one.
func derive(page *PageRow) {
	page.CriticalIssue = page.FinalScore < 4.0
	page.Success = page.FinalScore >= 8.0
	page.QuickWin = quickWin(page.Criteria)

	if page.Tier.OnSite() && page.Experience != nil {
		page.Experience.OverallSentiment = ""
		page.Experience.EngagementLevel = ""
		page.Experience.ConversionLikelihood = ""
	}
}

// quickWin reports whether the criterion raw scores show the
// mostly-good-with-isolated-failures shape.
func quickWin(criteria []CriterionRow) bool {
	if len(criteria) < 2 {
		return false
	}
	min, max, sum := criteria[0].RawScore, criteria[0].RawScore, 0.0
	for _, c := range criteria {
		if c.RawScore < min {
			min = c.RawScore
		}
		if c.RawScore > max {
			max = c.RawScore
		}
		sum += c.RawScore
	}
	mean := sum / float64(len(criteria))
	variance := 0.0
	for _, c := range criteria {
		variance += (c.RawScore - mean) * (c.RawScore - mean)
	}
	variance /= float64(len(criteria))
	return variance > QuickWinVarianceThreshold && min <= 4.0 && max >= 7.0
}

// Write emits the unified tables into dir.
func (u *Unifier) Write(dir string, ds *Dataset) error {
	var pageRows, criterionRows [][]string

	for i := range ds.Pages {
		page := &ds.Pages[i]
		sentiment, engagement, conversion := sentimentTriple(page)

		pageRows = append(pageRows, []string{
			page.PersonaID, page.PageID, page.URL, page.Slug,
			strconv.Itoa(int(page.Tier)), formatFloat(page.TierWeight, 1),
			formatFloat(page.FinalScore, 2), formatFloat(page.AvgScore, 2),
			string(page.Descriptor),
			sentiment, engagement, conversion,
			strconv.FormatBool(page.CriticalIssue),
			strconv.FormatBool(page.QuickWin),
			strconv.FormatBool(page.Success),
		})

		for _, c := range page.Criteria {
			criterionRows = append(criterionRows, []string{
				page.PersonaID, page.PageID, page.URL, page.Slug,
				strconv.Itoa(int(page.Tier)),
				c.CriterionID, c.CriterionName,
				formatFloat(c.RawScore, 1), formatFloat(c.WeightedScore, 4),
				formatFloat(page.FinalScore, 2), formatFloat(page.AvgScore, 2),
				string(c.Descriptor),
				sentiment, engagement, conversion,
				strconv.FormatBool(page.CriticalIssue),
				strconv.FormatBool(page.QuickWin),
				strconv.FormatBool(page.Success),
			})
		}
	}

	if err := artifacts.WriteCSV(filepath.Join(dir, UnifiedPagesFile), unifiedPagesHeader, pageRows); err != nil {
		return err
	}
	if err := artifacts.WriteCSV(filepath.Join(dir, UnifiedCriteriaFile), unifiedCriteriaHeader, criterionRows); err != nil {
		return err
	}

	u.logger.Info("wrote unified dataset",
		zap.Int("pages", len(pageRows)),
		zap.Int("criteria_rows", len(criterionRows)))
	return nil
}

func sentimentTriple(page *PageRow) (string, string, string) {
	if page.Tier.OnSite() || page.Experience == nil {
		return "", "", ""
	}
	return page.Experience.OverallSentiment,
		page.Experience.EngagementLevel,
		page.Experience.ConversionLikelihood
}
