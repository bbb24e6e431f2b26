package scorer

import (
	"encoding/json"
	"fmt"
	"strings"
)

type scoreReply struct {
	Score          float64 `json:"score"`
	Evidence       string  `json:"evidence"`
	Recommendation string  `json:"recommendation"`
	Urgency        string  `json:"urgency"`
	Effort         string  `json:"effort"`
}

type experienceReply struct {
	FirstImpression      string `json:"first_impression"`
	LanguageTone         string `json:"language_tone_feedback"`
	TrustCredibility     string `json:"trust_credibility_assessment"`
	InformationGaps      string `json:"information_gaps"`
	BusinessImpact       string `json:"business_impact_analysis"`
	EffectiveCopy        string `json:"effective_copy_examples"`
	IneffectiveCopy      string `json:"ineffective_copy_examples"`
	OverallSentiment     string `json:"overall_sentiment"`
	EngagementLevel      string `json:"engagement_level"`
	ConversionLikelihood string `json:"conversion_likelihood"`
}

func parseScoreReply(reply string) (*scoreReply, error) {
	payload, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}
	var out scoreReply
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, fmt.Errorf("decode score reply: %w", err)
	}
	if strings.TrimSpace(out.Evidence) == "" {
		return nil, fmt.Errorf("score reply missing evidence")
	}
	return &out, nil
}

func parseExperienceReply(reply string) (*experienceReply, error) {
	payload, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}
	var out experienceReply
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, fmt.Errorf("decode experience reply: %w", err)
	}
	if strings.TrimSpace(out.FirstImpression) == "" {
		return nil, fmt.Errorf("experience reply missing first_impression")
	}
	return &out, nil
}

// extractJSON locates the first balanced JSON object in a reply,
// tolerating markdown code fences and leading prose.
func extractJSON(reply string) (string, error) {
	s := strings.TrimSpace(reply)
	if fenced := stripFences(s); fenced != "" {
		s = fenced
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in reply")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in reply")
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return ""
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// refusalMarkers are matched case-insensitively against the head of a
// reply that yielded no JSON.
var refusalMarkers = []string{
	"i can't", "i cannot", "i'm sorry", "i am sorry",
	"i am unable", "i'm unable", "i won't", "i will not",
	"as an ai", "i'm not able",
}

func isRefusal(reply string) bool {
	head := strings.ToLower(firstLine(reply))
	for _, m := range refusalMarkers {
		if strings.Contains(head, m) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
