// Package packager rebuilds the canonical CSV tables and the run
// manifest from the per-page markdown artifacts the emitter wrote. It
// is the emitter's inverse: packaging a directory of scorecards yields
// the same table bytes the emitter produced for them.
package packager

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"brandaudit/internal/artifacts"
	"brandaudit/internal/audit"
	"brandaudit/internal/emitter"
	"brandaudit/internal/methodology"
)

// ManifestFile is written next to the tables.
const ManifestFile = "run_manifest.json"

// Packager scans a persona directory for markdown artifacts.
type Packager struct {
	store  *methodology.Store
	logger *zap.Logger
}

// New creates a packager.
func New(store *methodology.Store, logger *zap.Logger) *Packager {
	return &Packager{store: store, logger: logger}
}

// Package parses every scorecard and experience report under dir,
// rewrites pages.csv, criteria_scores.csv and experience.csv from the
// parsed data, and writes the run manifest. Malformed files are logged
// and skipped; when no scorecard parses at all the tables are still
// written with headers only and the manifest records zero counts.
// recommendations.csv is not rebuilt: recommendations do not appear in
// the markdown artifacts.
func (p *Packager) Package(dir, runID, generatedAt string) (*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	var cards []*scorecard
	var reports []*experienceReport
	skipped := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, "_hygiene_scorecard.md"):
			card, err := p.parseScorecardFile(path)
			if err != nil {
				p.logger.Warn("skipping malformed scorecard",
					zap.String("file", name), zap.Error(err))
				skipped++
				continue
			}
			cards = append(cards, card)
		case strings.HasSuffix(name, "_experience_report.md"):
			report, err := parseExperienceFile(path)
			if err != nil {
				p.logger.Warn("skipping malformed experience report",
					zap.String("file", name), zap.Error(err))
				skipped++
				continue
			}
			reports = append(reports, report)
		}
	}

	if len(cards) == 0 {
		p.logger.Warn("no parseable scorecards, packaging empty tables",
			zap.String("dir", dir), zap.Int("skipped", skipped))
	}

	sort.Slice(cards, func(i, j int) bool { return cards[i].PageID < cards[j].PageID })
	sort.Slice(reports, func(i, j int) bool { return reports[i].PageID < reports[j].PageID })

	if err := p.writeTables(dir, cards, reports); err != nil {
		return nil, err
	}

	manifest := p.buildManifest(runID, generatedAt, cards, reports, skipped)
	if err := artifacts.WriteJSON(filepath.Join(dir, ManifestFile), manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

func (p *Packager) writeTables(dir string, cards []*scorecard, reports []*experienceReport) error {
	var pages, criteria, experience [][]string

	for _, card := range cards {
		final := card.FinalScore
		pages = append(pages, []string{
			card.PersonaID, card.PageID, card.URL, card.Slug,
			strconv.Itoa(int(card.Tier)), fmtScore1(card.Tier.Weight()),
			fmtScore2(final), fmtScore2(card.avgScore()),
			string(audit.DescriptorFor(final)),
		})

		for _, row := range card.Rows {
			weighted := 0.0
			if c, ok := p.store.Lookup(card.Tier, row.CriterionID); ok {
				weighted = row.RawScore * c.Weight * card.Tier.Weight()
			}
			criteria = append(criteria, []string{
				card.PersonaID, card.PageID, row.CriterionID, row.CriterionName,
				strconv.Itoa(int(card.Tier)), fmtScore1(row.RawScore),
				fmtScore4(weighted), string(audit.DescriptorFor(row.RawScore)),
				row.Rationale,
			})
		}
	}

	for _, report := range reports {
		experience = append(experience, []string{
			report.PersonaID, report.PageID, report.FirstImpression,
			report.LanguageTone, report.TrustCredibility, report.InformationGaps,
			report.BusinessImpact, report.EffectiveCopy, report.IneffectiveCopy,
			report.Sentiment, report.Engagement, report.Conversion,
		})
	}

	if err := artifacts.WriteCSV(filepath.Join(dir, emitter.PagesFile), emitter.PagesHeader, pages); err != nil {
		return err
	}
	if err := artifacts.WriteCSV(filepath.Join(dir, emitter.CriteriaScoresFile), emitter.CriteriaScoresHeader, criteria); err != nil {
		return err
	}
	return artifacts.WriteCSV(filepath.Join(dir, emitter.ExperienceFile), emitter.ExperienceHeader, experience)
}
