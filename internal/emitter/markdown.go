package emitter

import (
	"fmt"
	"strings"
	"time"

	"brandaudit/internal/audit"
)

// Experience report section headings. The packager parses these names
// back out of the markdown, so they are exported as the single source
// of truth.
const (
	SectionFirstImpression  = "First Impression"
	SectionLanguageTone     = "Language & Tone"
	SectionTrustCredibility = "Trust & Credibility"
	SectionInformationGaps  = "Information Gaps"
	SectionBusinessImpact   = "Business Impact"
	SectionEffectiveCopy    = "Effective Copy Examples"
	SectionIneffectiveCopy  = "Ineffective Copy Examples"
	SectionChannelSignals   = "Channel Signals"
)

// Channel signal bullet labels inside SectionChannelSignals.
const (
	SignalSentiment  = "Overall Sentiment"
	SignalEngagement = "Engagement Level"
	SignalConversion = "Conversion Likelihood"
)

func (e *Emitter) renderScorecard(persona audit.Persona, page *audit.Page, evals []audit.Evaluation) string {
	var b strings.Builder

	title := page.Title
	if title == "" {
		title = page.Slug
	}
	fmt.Fprintf(&b, "# Hygiene Scorecard: %s\n\n", title)
	fmt.Fprintf(&b, "**Persona:** %s\n", persona.ID)
	fmt.Fprintf(&b, "**URL:** %s\n", page.URL)
	fmt.Fprintf(&b, "**Tier:** %s\n", page.Tier.Label())
	fmt.Fprintf(&b, "**Audited:** %s\n\n", page.FetchedAt.UTC().Format(time.RFC3339))

	b.WriteString("| Criterion | Score | Rationale |\n")
	b.WriteString("|-----------|-------|-----------|\n")
	for _, ev := range evals {
		fmt.Fprintf(&b, "| **%s** | %s/10 | %s |\n",
			ev.CriterionName, fmtScore1(ev.RawScore), cellText(ev.Evidence))
	}

	final := e.FinalScore(page.Tier, evals)
	fmt.Fprintf(&b, "\n**Final Score:** %s/10\n", fmtScore1(final))
	return b.String()
}

func renderExperienceReport(persona audit.Persona, page *audit.Page, exp *audit.Experience) string {
	var b strings.Builder

	title := page.Title
	if title == "" {
		title = page.Slug
	}
	fmt.Fprintf(&b, "# Experience Report: %s\n\n", title)
	fmt.Fprintf(&b, "**Persona:** %s\n", persona.ID)
	fmt.Fprintf(&b, "**URL:** %s\n", page.URL)
	fmt.Fprintf(&b, "**Tier:** %s\n\n", page.Tier.Label())

	section(&b, SectionFirstImpression, exp.FirstImpression)
	section(&b, SectionLanguageTone, exp.LanguageToneFeedback)
	section(&b, SectionTrustCredibility, exp.TrustCredibilityAssessment)
	section(&b, SectionInformationGaps, exp.InformationGaps)
	section(&b, SectionBusinessImpact, exp.BusinessImpactAnalysis)
	section(&b, SectionEffectiveCopy, exp.EffectiveCopyExamples)
	section(&b, SectionIneffectiveCopy, exp.IneffectiveCopyExamples)

	if page.OffSite() {
		fmt.Fprintf(&b, "## %s\n\n", SectionChannelSignals)
		fmt.Fprintf(&b, "- %s: %s\n", SignalSentiment, exp.OverallSentiment)
		fmt.Fprintf(&b, "- %s: %s\n", SignalEngagement, exp.EngagementLevel)
		fmt.Fprintf(&b, "- %s: %s\n\n", SignalConversion, exp.ConversionLikelihood)
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func section(b *strings.Builder, heading, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	fmt.Fprintf(b, "## %s\n\n%s\n\n", heading, strings.TrimSpace(body))
}

// cellText flattens free text into a single markdown table cell.
func cellText(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.Join(strings.Fields(s), " ")
	return s
}
