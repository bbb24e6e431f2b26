package embedding

import (
	"fmt"
	"net/url"
	"strings"

	"brandaudit/internal/audit"
	"brandaudit/internal/unifier"
)

// Document is one embeddable unit: the assembled text for a
// (page, persona) plus the metadata that travels with the vector.
type Document struct {
	ID        string `json:"id"`
	PageID    string `json:"page_id"`
	PersonaID string `json:"persona_id"`
	URL       string `json:"url"`
	Slug      string `json:"url_slug"`
	Tier      int    `json:"tier"`

	FinalScore  float64 `json:"final_score"`
	Domain      string  `json:"domain"`
	ContentType string  `json:"content_type"`

	KeyThemes            []string `json:"key_themes"`
	RegulatoryFrameworks []string `json:"regulatory_frameworks"`
	IsBenelux            bool     `json:"is_benelux"`
	HasComplianceContent bool     `json:"has_compliance_content"`
	HasSecurityContent   bool     `json:"has_security_content"`

	// Sentiment fields are populated for off-site documents only.
	OverallSentiment     string `json:"overall_sentiment,omitempty"`
	EngagementLevel      string `json:"engagement_level,omitempty"`
	ConversionLikelihood string `json:"conversion_likelihood,omitempty"`

	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	Truncated  bool   `json:"truncated"`

	Embedding  []float32 `json:"embedding,omitempty"`
	Model      string    `json:"model,omitempty"`
	Dimensions int       `json:"dimensions,omitempty"`
}

// VectorEntry is the compact form loaded into vector stores. The
// metadata envelope never carries the sentiment triple for on-site
// documents.
type VectorEntry struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

// VectorEntryFor builds the store-facing envelope for a document.
func VectorEntryFor(doc *Document) VectorEntry {
	metadata := map[string]any{
		"page_id":                doc.PageID,
		"persona_id":             doc.PersonaID,
		"url":                    doc.URL,
		"final_score":            doc.FinalScore,
		"domain":                 doc.Domain,
		"content_type":           doc.ContentType,
		"tier":                   doc.Tier,
		"key_themes":             doc.KeyThemes,
		"regulatory_frameworks":  doc.RegulatoryFrameworks,
		"is_benelux":             doc.IsBenelux,
		"has_compliance_content": doc.HasComplianceContent,
		"has_security_content":   doc.HasSecurityContent,
	}
	if audit.Tier(doc.Tier) == audit.TierOffSite {
		metadata["overall_sentiment"] = doc.OverallSentiment
		metadata["engagement_level"] = doc.EngagementLevel
		metadata["conversion_likelihood"] = doc.ConversionLikelihood
	}
	return VectorEntry{
		ID:       doc.ID,
		Vector:   doc.Embedding,
		Metadata: metadata,
	}
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

// contentTypeOf maps a page to a coarse content label used as retrieval
// metadata.
func contentTypeOf(page *unifier.PageRow) string {
	if !page.Tier.OnSite() {
		return "social_channel"
	}
	u, err := url.Parse(page.URL)
	if err != nil {
		return "webpage"
	}
	path := strings.ToLower(strings.Trim(u.Path, "/"))
	switch {
	case path == "":
		return "homepage"
	case strings.Contains(path, "blog") || strings.Contains(path, "news"):
		return "article"
	case strings.Contains(path, "product") || strings.Contains(path, "solution"):
		return "product_page"
	case strings.Contains(path, "contact") || strings.Contains(path, "about"):
		return "company_page"
	default:
		return "webpage"
	}
}

// assembleText builds the embedding text for one page row. Sections are
// emitted in a fixed order so re-runs produce identical documents.
func assembleText(page *unifier.PageRow, themes, frameworks []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Persona: %s\n", page.PersonaID)
	fmt.Fprintf(&b, "URL: %s\n", page.URL)
	fmt.Fprintf(&b, "Content: %s on %s\n", contentTypeOf(page), domainOf(page.URL))
	if len(themes) > 0 {
		fmt.Fprintf(&b, "Key Themes: %s\n", strings.Join(themes, ", "))
	}
	if len(frameworks) > 0 {
		fmt.Fprintf(&b, "Regulatory Frameworks: %s\n", strings.Join(frameworks, ", "))
	}
	fmt.Fprintf(&b, "Final Score: %.1f/10 (%s)\n", page.FinalScore, page.Descriptor)

	if len(page.Criteria) > 0 {
		b.WriteString("\nCriterion Findings:\n")
		for _, c := range page.Criteria {
			fmt.Fprintf(&b, "- %s (%.1f/10): %s\n", c.CriterionName, c.RawScore, c.Evidence)
		}
	}

	if exp := page.Experience; exp != nil {
		writeSection(&b, "Language & Tone", exp.LanguageToneFeedback)
		writeSection(&b, "Trust & Credibility", exp.TrustCredibilityAssessment)
		writeSection(&b, "Information Gaps", exp.InformationGaps)
		writeSection(&b, "First Impression", exp.FirstImpression)
		writeSection(&b, "Strategic Analysis", exp.BusinessImpactAnalysis)
		writeSection(&b, "Effective Copy", exp.EffectiveCopyExamples)
		writeSection(&b, "Ineffective Copy", exp.IneffectiveCopyExamples)
	}

	if len(page.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, rec := range page.Recommendations {
			fmt.Fprintf(&b, "- [%s] %s\n", strings.ToLower(rec.Urgency), rec.Recommendation)
		}
	}

	return b.String()
}

func writeSection(b *strings.Builder, heading, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	fmt.Fprintf(b, "\n%s:\n%s\n", heading, strings.TrimSpace(body))
}
