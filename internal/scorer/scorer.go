// Package scorer produces one Evaluation per (page, persona, criterion)
// by prompting an LLM provider and parsing its structured reply.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"brandaudit/internal/audit"
	"brandaudit/internal/llm"
	"brandaudit/internal/methodology"
)

// Failure classes. A failed evaluation is recorded as missing for the
// run; it is never silently defaulted to a numeric score.
var (
	// ErrLLMUnavailable: provider unreachable or rate-limited through
	// the retry budget.
	ErrLLMUnavailable = llm.ErrUnavailable

	// ErrParse: the reply did not yield a numeric score and evidence,
	// even after one stricter retry.
	ErrParse = errors.New("scorer: unparsable response")

	// ErrRefusal: the provider declined to score.
	ErrRefusal = errors.New("scorer: provider refused")
)

// Config tunes the scorer.
type Config struct {
	// MaxPageChars truncates the page text handed to the prompt.
	// Roughly 4 chars per token; 24000 chars ~ 6k tokens.
	MaxPageChars int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxPageChars: 24000}
}

// Scorer evaluates pages against criteria for a persona.
type Scorer struct {
	client llm.Client
	store  *methodology.Store
	cfg    Config
	logger *zap.Logger
}

// New creates a scorer.
func New(client llm.Client, store *methodology.Store, cfg Config, logger *zap.Logger) *Scorer {
	if cfg.MaxPageChars <= 0 {
		cfg.MaxPageChars = DefaultConfig().MaxPageChars
	}
	return &Scorer{client: client, store: store, cfg: cfg, logger: logger}
}

// Score evaluates one criterion. Page body and persona brief must be
// non-empty; the criterion must belong to the page's tier.
func (s *Scorer) Score(ctx context.Context, page *audit.Page, persona audit.Persona, criterion audit.Criterion) (*audit.Evaluation, error) {
	if page.Body == "" {
		return nil, fmt.Errorf("scorer: empty page body for %s", page.URL)
	}
	if persona.Brief == "" {
		return nil, fmt.Errorf("scorer: empty persona brief for %s", persona.ID)
	}
	if _, ok := s.store.Lookup(page.Tier, criterion.ID); !ok {
		return nil, fmt.Errorf("scorer: criterion %s not applicable to tier %d", criterion.ID, page.Tier)
	}

	system := scoreSystemPrompt
	user := s.buildScorePrompt(page, persona, criterion, false)

	reply, err := s.client.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return nil, err
	}

	parsed, perr := parseScoreReply(reply)
	if perr != nil {
		if isRefusal(reply) {
			s.logger.Warn("provider refused to score",
				zap.String("page_id", page.PageID),
				zap.String("criterion", criterion.ID))
			return nil, fmt.Errorf("%w: %s", ErrRefusal, firstLine(reply))
		}

		// One bounded retry with a stricter schema instruction.
		s.logger.Debug("score parse failed, retrying strict",
			zap.String("criterion", criterion.ID), zap.Error(perr))
		reply, err = s.client.CompleteWithSystem(ctx, system, s.buildScorePrompt(page, persona, criterion, true))
		if err != nil {
			return nil, err
		}
		if parsed, perr = parseScoreReply(reply); perr != nil {
			if isRefusal(reply) {
				return nil, fmt.Errorf("%w: %s", ErrRefusal, firstLine(reply))
			}
			return nil, fmt.Errorf("%w: %v", ErrParse, perr)
		}
	}

	raw := clampScore(parsed.Score)
	return &audit.Evaluation{
		PersonaID:      persona.ID,
		PageID:         page.PageID,
		CriterionID:    criterion.ID,
		CriterionName:  criterion.Name,
		Tier:           page.Tier,
		RawScore:       raw,
		WeightedScore:  raw * criterion.Weight * page.Tier.Weight(),
		Descriptor:     audit.DescriptorFor(raw),
		Evidence:       parsed.Evidence,
		Recommendation: parsed.Recommendation,
		Urgency:        parsed.Urgency,
		Effort:         parsed.Effort,
	}, nil
}

// Experience produces the qualitative report fields for a (page,
// persona). The sentiment triple is populated only for off-site pages;
// the on-site path never carries it, regardless of what the model says.
func (s *Scorer) Experience(ctx context.Context, page *audit.Page, persona audit.Persona) (*audit.Experience, error) {
	reply, err := s.client.CompleteWithSystem(ctx, experienceSystemPrompt, s.buildExperiencePrompt(page, persona))
	if err != nil {
		return nil, err
	}

	parsed, perr := parseExperienceReply(reply)
	if perr != nil {
		if isRefusal(reply) {
			return nil, fmt.Errorf("%w: %s", ErrRefusal, firstLine(reply))
		}
		return nil, fmt.Errorf("%w: %v", ErrParse, perr)
	}

	exp := &audit.Experience{
		PersonaID:                  persona.ID,
		PageID:                     page.PageID,
		FirstImpression:            parsed.FirstImpression,
		LanguageToneFeedback:       parsed.LanguageTone,
		TrustCredibilityAssessment: parsed.TrustCredibility,
		InformationGaps:            parsed.InformationGaps,
		BusinessImpactAnalysis:     parsed.BusinessImpact,
		EffectiveCopyExamples:      parsed.EffectiveCopy,
		IneffectiveCopyExamples:    parsed.IneffectiveCopy,
	}
	if page.OffSite() {
		exp.OverallSentiment = parsed.OverallSentiment
		exp.EngagementLevel = parsed.EngagementLevel
		exp.ConversionLikelihood = parsed.ConversionLikelihood
	}
	return exp, nil
}

// Summarize synthesizes the per-page findings into the persona's
// strategic summary document. The document is opaque to the pipeline.
func (s *Scorer) Summarize(ctx context.Context, persona audit.Persona, facts []audit.PageFact) (string, error) {
	return s.client.CompleteWithSystem(ctx, summarySystemPrompt, buildSummaryPrompt(persona, facts))
}

// clampScore bounds the score to [0, 10] and quantizes it to one decimal.
// All downstream artifacts (markdown and CSV) report scores at one-decimal
// precision, so quantizing here keeps the emitter and packager exact
// inverses of each other.
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return math.Round(v*10) / 10
}
