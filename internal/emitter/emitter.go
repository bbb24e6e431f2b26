// Package emitter renders the per-page markdown artifacts and the four
// canonical CSV tables from scorer output. The markdown shapes written
// here are the contract the packager parses; change them in both places
// or not at all.
package emitter

import (
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"brandaudit/internal/artifacts"
	"brandaudit/internal/audit"
	"brandaudit/internal/methodology"
)

// Canonical table file names within a persona directory.
const (
	PagesFile           = "pages.csv"
	CriteriaScoresFile  = "criteria_scores.csv"
	ExperienceFile      = "experience.csv"
	RecommendationsFile = "recommendations.csv"
)

// Canonical table column contracts.
var (
	PagesHeader = []string{
		"persona_id", "page_id", "url", "url_slug", "tier", "tier_weight",
		"final_score", "avg_score", "descriptor",
	}
	CriteriaScoresHeader = []string{
		"persona_id", "page_id", "criterion_id", "criterion_name", "tier",
		"raw_score", "weighted_score", "descriptor", "evidence",
	}
	ExperienceHeader = []string{
		"persona_id", "page_id", "first_impression", "language_tone_feedback",
		"trust_credibility_assessment", "information_gaps",
		"business_impact_analysis", "effective_copy_examples",
		"ineffective_copy_examples", "overall_sentiment", "engagement_level",
		"conversion_likelihood",
	}
	RecommendationsHeader = []string{
		"persona_id", "page_id", "recommendation", "strategic_impact",
		"complexity", "urgency", "quick_win_flag",
	}
)

// PageResult bundles everything the scorer produced for one (page,
// persona).
type PageResult struct {
	Page        *audit.Page
	Evaluations []audit.Evaluation
	Experience  *audit.Experience
}

// Emitter writes markdown and CSV artifacts for one persona directory.
type Emitter struct {
	store  *methodology.Store
	logger *zap.Logger
}

// New creates an emitter.
func New(store *methodology.Store, logger *zap.Logger) *Emitter {
	return &Emitter{store: store, logger: logger}
}

// FinalScore computes the page's weighted aggregate: sum of raw score x
// criterion weight, with weights normalized to 1 per tier.
func (e *Emitter) FinalScore(tier audit.Tier, evals []audit.Evaluation) float64 {
	total := 0.0
	for _, ev := range evals {
		if c, ok := e.store.Lookup(tier, ev.CriterionID); ok {
			total += ev.RawScore * c.Weight
		}
	}
	return total
}

// AvgScore is the unweighted mean of raw scores.
func AvgScore(evals []audit.Evaluation) float64 {
	if len(evals) == 0 {
		return 0
	}
	sum := 0.0
	for _, ev := range evals {
		sum += ev.RawScore
	}
	return sum / float64(len(evals))
}

// EmitPage writes the hygiene scorecard and experience report for one
// page into the persona directory. Re-running on the same evaluations
// produces byte-identical documents modulo the timestamp line.
func (e *Emitter) EmitPage(dir string, persona audit.Persona, res PageResult) error {
	evals := sortedEvals(res.Evaluations)

	scorecard := e.renderScorecard(persona, res.Page, evals)
	scorecardPath := filepath.Join(dir, res.Page.Slug+"_hygiene_scorecard.md")
	if err := artifacts.WriteFile(scorecardPath, []byte(scorecard)); err != nil {
		return err
	}

	if res.Experience != nil {
		report := renderExperienceReport(persona, res.Page, res.Experience)
		reportPath := filepath.Join(dir, res.Page.Slug+"_experience_report.md")
		if err := artifacts.WriteFile(reportPath, []byte(report)); err != nil {
			return err
		}
	}

	e.logger.Debug("emitted page artifacts",
		zap.String("persona_id", persona.ID),
		zap.String("page_id", res.Page.PageID))
	return nil
}

// EmitTables writes the four canonical CSVs for a persona. Rows are
// ordered by (page_id, criterion_id) so output is deterministic across
// runs with identical inputs. Recommendation rows for pages absent from
// results are carried over from the existing recommendations.csv: unlike
// the other three tables they cannot be rebuilt from markdown, so a
// resumed run must not lose them.
func (e *Emitter) EmitTables(dir string, persona audit.Persona, results []PageResult) error {
	sorted := make([]PageResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Page.PageID < sorted[j].Page.PageID
	})

	var pages, criteria, experience, recommendations [][]string

	for _, res := range sorted {
		evals := sortedEvals(res.Evaluations)
		page := res.Page
		final := e.FinalScore(page.Tier, evals)
		avg := AvgScore(evals)

		pages = append(pages, []string{
			persona.ID, page.PageID, page.URL, page.Slug,
			strconv.Itoa(int(page.Tier)), fmtScore1(page.Tier.Weight()),
			fmtScore2(final), fmtScore2(avg), string(audit.DescriptorFor(final)),
		})

		for _, ev := range evals {
			criteria = append(criteria, []string{
				persona.ID, page.PageID, ev.CriterionID, ev.CriterionName,
				strconv.Itoa(int(page.Tier)), fmtScore1(ev.RawScore),
				fmtScore4(ev.WeightedScore), string(ev.Descriptor), ev.Evidence,
			})

			if ev.Recommendation != "" {
				recommendations = append(recommendations, []string{
					persona.ID, page.PageID, ev.Recommendation, ev.CriterionName,
					normalizeEffort(ev.Effort), normalizeUrgency(ev.Urgency),
					strconv.FormatBool(isQuickWinRec(ev)),
				})
			}
		}

		if res.Experience != nil {
			exp := res.Experience
			experience = append(experience, []string{
				persona.ID, page.PageID, exp.FirstImpression,
				exp.LanguageToneFeedback, exp.TrustCredibilityAssessment,
				exp.InformationGaps, exp.BusinessImpactAnalysis,
				exp.EffectiveCopyExamples, exp.IneffectiveCopyExamples,
				exp.OverallSentiment, exp.EngagementLevel, exp.ConversionLikelihood,
			})
		}
	}

	recommendations, err := e.mergeRecommendations(dir, sorted, recommendations)
	if err != nil {
		return err
	}

	if err := artifacts.WriteCSV(filepath.Join(dir, PagesFile), PagesHeader, pages); err != nil {
		return err
	}
	if err := artifacts.WriteCSV(filepath.Join(dir, CriteriaScoresFile), CriteriaScoresHeader, criteria); err != nil {
		return err
	}
	if err := artifacts.WriteCSV(filepath.Join(dir, ExperienceFile), ExperienceHeader, experience); err != nil {
		return err
	}
	return artifacts.WriteCSV(filepath.Join(dir, RecommendationsFile), RecommendationsHeader, recommendations)
}

// mergeRecommendations combines freshly generated recommendation rows
// with rows already on disk for pages outside this batch. Rows for pages
// in results are always replaced.
func (e *Emitter) mergeRecommendations(dir string, results []PageResult, fresh [][]string) ([][]string, error) {
	existing, err := artifacts.ReadCSVRows(filepath.Join(dir, RecommendationsFile), len(RecommendationsHeader))
	if err != nil {
		return nil, err
	}

	current := make(map[string]bool, len(results))
	for _, res := range results {
		current[res.Page.PageID] = true
	}

	var merged [][]string
	for _, row := range existing {
		if !current[row[1]] {
			merged = append(merged, row)
		}
	}
	merged = append(merged, fresh...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i][1] < merged[j][1] })
	return merged, nil
}

// isQuickWinRec marks a recommendation row as a quick win: a failing
// criterion that is cheap to fix.
func isQuickWinRec(ev audit.Evaluation) bool {
	return normalizeEffort(ev.Effort) == "Low" && ev.RawScore <= 4.0
}

func sortedEvals(evals []audit.Evaluation) []audit.Evaluation {
	out := make([]audit.Evaluation, len(evals))
	copy(out, evals)
	sort.Slice(out, func(i, j int) bool { return out[i].CriterionID < out[j].CriterionID })
	return out
}

func normalizeEffort(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return "Low"
	case "high":
		return "High"
	default:
		return "Medium"
	}
}

func normalizeUrgency(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}

func fmtScore1(v float64) string { return strconv.FormatFloat(round(v, 1), 'f', 1, 64) }
func fmtScore2(v float64) string { return strconv.FormatFloat(round(v, 2), 'f', 2, 64) }
func fmtScore4(v float64) string { return strconv.FormatFloat(round(v, 4), 'f', 4, 64) }

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
