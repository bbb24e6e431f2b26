package scorer

import (
	"fmt"
	"strings"

	"brandaudit/internal/audit"
)

const scoreSystemPrompt = `You are a senior brand and content strategist auditing web pages
against a specific buyer persona. You score exactly one criterion at a
time on a 0-10 scale, always grounding the score in quoted evidence from
the page. You reply with a single JSON object and nothing else.`

const experienceSystemPrompt = `You are a senior brand strategist writing a qualitative experience
report for one web page as seen through the eyes of a specific buyer
persona. You reply with a single JSON object and nothing else.`

const summarySystemPrompt = `You are a senior brand strategist. Write a concise strategic summary
in markdown for the persona below, based on the per-page scores provided.
Open with the overall picture, then the three most important findings,
then the three most urgent actions.`

const scoreSchema = `{"score": <number 0-10>, "evidence": "<short quote or observation from the page, at least one sentence>", "recommendation": "<optional improvement>", "urgency": "<low|medium|high>", "effort": "<Low|Medium|High>"}`

const experienceSchema = `{"first_impression": "...", "language_tone_feedback": "...", "trust_credibility_assessment": "...", "information_gaps": "...", "business_impact_analysis": "...", "effective_copy_examples": "...", "ineffective_copy_examples": "...", "overall_sentiment": "<positive|neutral|negative>", "engagement_level": "<high|medium|low>", "conversion_likelihood": "<high|medium|low>"}`

func (s *Scorer) buildScorePrompt(page *audit.Page, persona audit.Persona, criterion audit.Criterion, strict bool) string {
	var b strings.Builder

	b.WriteString("## Persona\n")
	b.WriteString(persona.Brief)
	b.WriteString("\n\n## Page\n")
	fmt.Fprintf(&b, "URL: %s\nTitle: %s\n\n", page.URL, page.Title)
	b.WriteString(truncate(page.Body, s.cfg.MaxPageChars))

	b.WriteString("\n\n## Criterion\n")
	fmt.Fprintf(&b, "%s: %s\n", criterion.Name, strings.TrimSpace(criterion.Rubric))

	b.WriteString("\n## Output\n")
	if strict {
		b.WriteString("Your previous reply could not be parsed. Respond with ONLY the JSON object below, no markdown fences, no commentary:\n")
	} else {
		b.WriteString("Respond with a single JSON object of this exact shape:\n")
	}
	b.WriteString(scoreSchema)
	b.WriteString("\n")
	return b.String()
}

func (s *Scorer) buildExperiencePrompt(page *audit.Page, persona audit.Persona) string {
	var b strings.Builder

	b.WriteString("## Persona\n")
	b.WriteString(persona.Brief)
	b.WriteString("\n\n## Page\n")
	fmt.Fprintf(&b, "URL: %s\nTitle: %s\nChannel: %s\n\n", page.URL, page.Title, page.Tier.Label())
	b.WriteString(truncate(page.Body, s.cfg.MaxPageChars))

	b.WriteString("\n\n## Output\nRespond with a single JSON object of this exact shape:\n")
	b.WriteString(experienceSchema)
	if !page.OffSite() {
		b.WriteString("\nThis is an on-site page: leave overall_sentiment, engagement_level and conversion_likelihood as empty strings.")
	}
	b.WriteString("\n")
	return b.String()
}

func buildSummaryPrompt(persona audit.Persona, facts []audit.PageFact) string {
	var b strings.Builder
	b.WriteString("## Persona\n")
	b.WriteString(persona.Brief)
	b.WriteString("\n\n## Page scores\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s (tier %d): final %.1f/10, descriptor %s\n", f.URL, f.Tier, f.FinalScore, f.Descriptor)
	}
	return b.String()
}

// truncate cuts the page text at the configured budget on a rune
// boundary. Truncation is visible to the model via the marker.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "\n[content truncated]"
}
