package unifier

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"brandaudit/internal/audit"
	"brandaudit/internal/emitter"
)

func (u *Unifier) loadPersonaDir(dir string) ([]PageRow, error) {
	pageRecords, err := readTable(filepath.Join(dir, emitter.PagesFile), emitter.PagesHeader)
	if err != nil {
		return nil, err
	}
	criteriaRecords, err := readTable(filepath.Join(dir, emitter.CriteriaScoresFile), emitter.CriteriaScoresHeader)
	if err != nil {
		return nil, err
	}
	experienceRecords, err := readOptionalTable(filepath.Join(dir, emitter.ExperienceFile), emitter.ExperienceHeader)
	if err != nil {
		return nil, err
	}
	recommendationRecords, err := readOptionalTable(filepath.Join(dir, emitter.RecommendationsFile), emitter.RecommendationsHeader)
	if err != nil {
		return nil, err
	}

	type key struct{ personaID, pageID string }
	pages := map[key]*PageRow{}
	var order []key

	for _, rec := range pageRecords {
		tier, err := strconv.Atoi(rec[4])
		if err != nil {
			return nil, fmt.Errorf("bad tier %q for page %s: %w", rec[4], rec[1], err)
		}
		final, err := strconv.ParseFloat(rec[6], 64)
		if err != nil {
			return nil, fmt.Errorf("bad final score for page %s: %w", rec[1], err)
		}
		avg, err := strconv.ParseFloat(rec[7], 64)
		if err != nil {
			return nil, fmt.Errorf("bad avg score for page %s: %w", rec[1], err)
		}
		weight, _ := strconv.ParseFloat(rec[5], 64)

		k := key{rec[0], rec[1]}
		pages[k] = &PageRow{PageFact: audit.PageFact{
			PersonaID:  rec[0],
			PageID:     rec[1],
			URL:        rec[2],
			Slug:       rec[3],
			Tier:       audit.Tier(tier),
			TierWeight: weight,
			FinalScore: final,
			AvgScore:   avg,
			Descriptor: audit.Descriptor(rec[8]),
		}}
		order = append(order, k)
	}

	for _, rec := range criteriaRecords {
		k := key{rec[0], rec[1]}
		page, ok := pages[k]
		if !ok {
			u.logger.Warn("criteria row without matching page, skipping",
				zap.String("persona_id", rec[0]), zap.String("page_id", rec[1]))
			continue
		}
		raw, err := strconv.ParseFloat(rec[5], 64)
		if err != nil {
			return nil, fmt.Errorf("bad raw score for criterion %s: %w", rec[2], err)
		}
		weighted, _ := strconv.ParseFloat(rec[6], 64)
		page.Criteria = append(page.Criteria, CriterionRow{
			CriterionID:   rec[2],
			CriterionName: rec[3],
			RawScore:      raw,
			WeightedScore: weighted,
			Descriptor:    audit.Descriptor(rec[7]),
			Evidence:      rec[8],
		})
	}

	for _, rec := range experienceRecords {
		k := key{rec[0], rec[1]}
		page, ok := pages[k]
		if !ok {
			u.logger.Warn("experience row without matching page, skipping",
				zap.String("persona_id", rec[0]), zap.String("page_id", rec[1]))
			continue
		}
		page.Experience = &audit.Experience{
			PersonaID:                  rec[0],
			PageID:                     rec[1],
			FirstImpression:            rec[2],
			LanguageToneFeedback:       rec[3],
			TrustCredibilityAssessment: rec[4],
			InformationGaps:            rec[5],
			BusinessImpactAnalysis:     rec[6],
			EffectiveCopyExamples:      rec[7],
			IneffectiveCopyExamples:    rec[8],
			OverallSentiment:           rec[9],
			EngagementLevel:            rec[10],
			ConversionLikelihood:       rec[11],
		}
	}

	for _, rec := range recommendationRecords {
		k := key{rec[0], rec[1]}
		page, ok := pages[k]
		if !ok {
			continue
		}
		quickWin, _ := strconv.ParseBool(rec[6])
		page.Recommendations = append(page.Recommendations, audit.Recommendation{
			PersonaID:       rec[0],
			PageID:          rec[1],
			Recommendation:  rec[2],
			StrategicImpact: rec[3],
			Complexity:      rec[4],
			Urgency:         rec[5],
			QuickWin:        quickWin,
		})
	}

	out := make([]PageRow, 0, len(order))
	for _, k := range order {
		out = append(out, *pages[k])
	}
	return out, nil
}

func readTable(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s is empty", filepath.Base(path))
	}
	if len(records[0]) != len(header) {
		return nil, fmt.Errorf("%s has %d columns, want %d",
			filepath.Base(path), len(records[0]), len(header))
	}
	for i, col := range header {
		if records[0][i] != col {
			return nil, fmt.Errorf("%s column %d is %q, want %q",
				filepath.Base(path), i, records[0][i], col)
		}
	}
	return records[1:], nil
}

// readOptionalTable tolerates a missing file; experience and
// recommendation tables are legitimately absent when a run produced
// none.
func readOptionalTable(path string, header []string) ([][]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return readTable(path, header)
}

func formatFloat(v float64, places int) string {
	p := math.Pow10(places)
	return strconv.FormatFloat(math.Round(v*p)/p, 'f', places, 64)
}
