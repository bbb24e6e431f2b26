package packager

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"brandaudit/internal/audit"
	"brandaudit/internal/emitter"
)

type scoreRow struct {
	CriterionID   string
	CriterionName string
	RawScore      float64
	Rationale     string
}

type scorecard struct {
	PersonaID string
	PageID    string
	URL       string
	Slug      string
	Tier      audit.Tier
	Rows      []scoreRow

	// FinalScore is recomputed from the rows and the criterion weights;
	// PrintedFinal is the one-decimal value the document itself carries.
	FinalScore   float64
	PrintedFinal float64
}

func (c *scorecard) avgScore() float64 {
	if len(c.Rows) == 0 {
		return 0
	}
	sum := 0.0
	for _, row := range c.Rows {
		sum += row.RawScore
	}
	return sum / float64(len(c.Rows))
}

type experienceReport struct {
	PersonaID        string
	PageID           string
	Slug             string
	FirstImpression  string
	LanguageTone     string
	TrustCredibility string
	InformationGaps  string
	BusinessImpact   string
	EffectiveCopy    string
	IneffectiveCopy  string
	Sentiment        string
	Engagement       string
	Conversion       string
}

var (
	personaLine = regexp.MustCompile(`^\*\*Persona:\*\* (.+)$`)
	urlLine     = regexp.MustCompile(`^\*\*URL:\*\* (.+)$`)
	tierLine    = regexp.MustCompile(`^\*\*Tier:\*\* (.+)$`)
	tableRow    = regexp.MustCompile(`^\| \*\*(.+?)\*\* \| (\d+(?:\.\d+)?)/10 \| (.*) \|$`)
	finalLine   = regexp.MustCompile(`^\*\*Final Score:\*\* (\d+(?:\.\d+)?)/10$`)
	signalLine  = regexp.MustCompile(`^- (.+?): (.*)$`)
)

func tierFromLabel(label string) (audit.Tier, bool) {
	for _, t := range []audit.Tier{audit.TierOffSite, audit.Tier1, audit.Tier2, audit.Tier3} {
		if t.Label() == label {
			return t, true
		}
	}
	return 0, false
}

func (p *Packager) parseScorecardFile(path string) (*scorecard, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	slug := strings.TrimSuffix(filepath.Base(path), "_hygiene_scorecard.md")
	card := &scorecard{Slug: slug, PageID: audit.PageID(slug), PrintedFinal: math.NaN()}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case personaLine.MatchString(line):
			card.PersonaID = personaLine.FindStringSubmatch(line)[1]
		case urlLine.MatchString(line):
			card.URL = urlLine.FindStringSubmatch(line)[1]
		case tierLine.MatchString(line):
			label := tierLine.FindStringSubmatch(line)[1]
			tier, ok := tierFromLabel(label)
			if !ok {
				return nil, fmt.Errorf("unknown tier label %q", label)
			}
			card.Tier = tier
		case tableRow.MatchString(line):
			m := tableRow.FindStringSubmatch(line)
			if m[1] == "Criterion" {
				continue
			}
			raw, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				return nil, fmt.Errorf("bad score in row %q: %w", m[1], err)
			}
			card.Rows = append(card.Rows, scoreRow{
				CriterionName: m[1],
				RawScore:      raw,
				Rationale:     strings.ReplaceAll(m[3], "\\|", "|"),
			})
		case finalLine.MatchString(line):
			final, err := strconv.ParseFloat(finalLine.FindStringSubmatch(line)[1], 64)
			if err != nil {
				return nil, fmt.Errorf("bad final score: %w", err)
			}
			card.PrintedFinal = final
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if card.PersonaID == "" || card.URL == "" {
		// Old artifacts may lack the URL header; fall back to the lossy
		// slug inversion rather than dropping the page.
		if card.PersonaID == "" {
			return nil, fmt.Errorf("missing persona header")
		}
		card.URL = audit.URLFromSlug(slug)
	}
	if len(card.Rows) == 0 {
		return nil, fmt.Errorf("no criterion rows")
	}
	if math.IsNaN(card.PrintedFinal) {
		return nil, fmt.Errorf("missing final score")
	}

	if err := p.resolveCriteria(card); err != nil {
		return nil, err
	}

	// The printed final is rounded to one decimal, so the exact value is
	// recomputed from the rows. A larger gap means the document was
	// hand-edited or the weights changed since it was written.
	for _, row := range card.Rows {
		if c, ok := p.store.Lookup(card.Tier, row.CriterionID); ok {
			card.FinalScore += row.RawScore * c.Weight
		}
	}
	if math.Abs(card.FinalScore-card.PrintedFinal) > 0.051 {
		return nil, fmt.Errorf("final score %s disagrees with rows (computed %s)",
			fmtScore1(card.PrintedFinal), fmtScore1(card.FinalScore))
	}
	return card, nil
}

// resolveCriteria maps display names back to criterion ids within the
// card's tier.
func (p *Packager) resolveCriteria(card *scorecard) error {
	byName := map[string]string{}
	for _, c := range p.store.CriteriaFor(card.Tier) {
		byName[c.Name] = c.ID
	}
	for i := range card.Rows {
		id, ok := byName[card.Rows[i].CriterionName]
		if !ok {
			return fmt.Errorf("criterion %q not in tier %d catalogue",
				card.Rows[i].CriterionName, card.Tier)
		}
		card.Rows[i].CriterionID = id
	}
	sort.Slice(card.Rows, func(i, j int) bool {
		return card.Rows[i].CriterionID < card.Rows[j].CriterionID
	})
	return nil
}

func parseExperienceFile(path string) (*experienceReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	slug := strings.TrimSuffix(filepath.Base(path), "_experience_report.md")
	report := &experienceReport{Slug: slug, PageID: audit.PageID(slug)}

	sections := map[string]*string{
		emitter.SectionFirstImpression:  &report.FirstImpression,
		emitter.SectionLanguageTone:     &report.LanguageTone,
		emitter.SectionTrustCredibility: &report.TrustCredibility,
		emitter.SectionInformationGaps:  &report.InformationGaps,
		emitter.SectionBusinessImpact:   &report.BusinessImpact,
		emitter.SectionEffectiveCopy:    &report.EffectiveCopy,
		emitter.SectionIneffectiveCopy:  &report.IneffectiveCopy,
	}

	var current *string
	inSignals := false
	for _, line := range strings.Split(string(data), "\n") {
		if m := personaLine.FindStringSubmatch(line); m != nil {
			report.PersonaID = m[1]
			continue
		}
		if heading, ok := strings.CutPrefix(line, "## "); ok {
			heading = strings.TrimSpace(heading)
			inSignals = heading == emitter.SectionChannelSignals
			current = sections[heading]
			continue
		}
		if inSignals {
			if m := signalLine.FindStringSubmatch(line); m != nil {
				switch m[1] {
				case emitter.SignalSentiment:
					report.Sentiment = m[2]
				case emitter.SignalEngagement:
					report.Engagement = m[2]
				case emitter.SignalConversion:
					report.Conversion = m[2]
				}
			}
			continue
		}
		if current != nil {
			*current += line + "\n"
		}
	}

	for _, ptr := range sections {
		*ptr = strings.TrimSpace(*ptr)
	}
	if report.PersonaID == "" {
		return nil, fmt.Errorf("missing persona header")
	}
	if report.FirstImpression == "" {
		return nil, fmt.Errorf("missing first impression section")
	}
	return report, nil
}

func fmtScore1(v float64) string { return strconv.FormatFloat(round(v, 1), 'f', 1, 64) }
func fmtScore2(v float64) string { return strconv.FormatFloat(round(v, 2), 'f', 2, 64) }
func fmtScore4(v float64) string { return strconv.FormatFloat(round(v, 4), 'f', 4, 64) }

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
