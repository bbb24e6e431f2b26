package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"brandaudit/internal/artifacts"
	"brandaudit/internal/methodology"
	"brandaudit/internal/unifier"
)

// Output file names.
const (
	DocumentsFile  = "embeddings_data.json"
	VectorsFile    = "vectors.json"
	StatisticsFile = "embedding_statistics.json"
)

// BuilderConfig controls document assembly and batching.
type BuilderConfig struct {
	// TokenBudget caps the assembled text; longer texts are truncated
	// from the tail. Counted with the cl100k_base tokenizer.
	TokenBudget int `yaml:"token_budget"`

	// BatchSize is the number of documents embedded per API call.
	BatchSize int `yaml:"batch_size"`

	// BatchDelay is slept between batches as crude rate limiting.
	BatchDelay time.Duration `yaml:"batch_delay"`
}

// DefaultBuilderConfig returns the documented defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		TokenBudget: 8000,
		BatchSize:   16,
		BatchDelay:  time.Second,
	}
}

// Statistics summarizes one embedding run.
type Statistics struct {
	Documents   int     `json:"documents"`
	Failed      int     `json:"failed"`
	Truncated   int     `json:"truncated"`
	TotalTokens int     `json:"total_tokens"`
	MeanTokens  float64 `json:"mean_tokens"`
	Model       string  `json:"model"`
	Dimensions  int     `json:"dimensions"`
	Batches     int     `json:"batches"`
}

// Builder assembles documents from the unified dataset and embeds them.
// The builder is single-threaded; concurrency stops at the pipeline
// level above it.
type Builder struct {
	cfg     BuilderConfig
	store   *methodology.Store
	encoder *tiktoken.Tiktoken
	logger  *zap.Logger
}

// NewBuilder creates a builder. The tokenizer is loaded once up front.
func NewBuilder(cfg BuilderConfig, store *methodology.Store, logger *zap.Logger) (*Builder, error) {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 8000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &Builder{cfg: cfg, store: store, encoder: encoder, logger: logger}, nil
}

// Build assembles one document per (page, persona) in the dataset.
// No network calls happen here.
func (b *Builder) Build(ds *unifier.Dataset) []Document {
	docs := make([]Document, 0, len(ds.Pages))
	for i := range ds.Pages {
		page := &ds.Pages[i]

		signal := signalText(page)
		themes := b.store.Themes(signal)
		frameworks := b.store.Frameworks(signal)
		isBenelux, hasCompliance, hasSecurity := b.store.ContentTags(signal)

		text := assembleText(page, themes, frameworks)
		tokens := b.encoder.Encode(text, nil, nil)
		truncated := false
		if len(tokens) > b.cfg.TokenBudget {
			text = b.encoder.Decode(tokens[:b.cfg.TokenBudget])
			tokens = tokens[:b.cfg.TokenBudget]
			truncated = true
			b.logger.Warn("embedding text truncated",
				zap.String("page_id", page.PageID),
				zap.String("persona_id", page.PersonaID),
				zap.Int("token_budget", b.cfg.TokenBudget))
		}

		doc := Document{
			ID:                   page.PersonaID + ":" + page.PageID,
			PageID:               page.PageID,
			PersonaID:            page.PersonaID,
			URL:                  page.URL,
			Slug:                 page.Slug,
			Tier:                 int(page.Tier),
			FinalScore:           page.FinalScore,
			Domain:               domainOf(page.URL),
			ContentType:          contentTypeOf(page),
			KeyThemes:            themes,
			RegulatoryFrameworks: frameworks,
			IsBenelux:            isBenelux,
			HasComplianceContent: hasCompliance,
			HasSecurityContent:   hasSecurity,
			Text:                 text,
			TokenCount:           len(tokens),
			Truncated:            truncated,
		}
		if !page.Tier.OnSite() && page.Experience != nil {
			doc.OverallSentiment = page.Experience.OverallSentiment
			doc.EngagementLevel = page.Experience.EngagementLevel
			doc.ConversionLikelihood = page.Experience.ConversionLikelihood
		}
		docs = append(docs, doc)
	}
	return docs
}

// Embed fills in the vectors batch by batch with a fixed delay between
// batches. A failed batch is retried once, then logged and skipped so
// the remaining batches still land; skipped documents keep an empty
// Embedding and are counted in Statistics.Failed. Only context
// cancellation aborts the loop.
func (b *Builder) Embed(ctx context.Context, engine Engine, docs []Document) (*Statistics, error) {
	stats := &Statistics{
		Documents:  len(docs),
		Model:      engine.Name(),
		Dimensions: engine.Dimensions(),
	}

	for start := 0; start < len(docs); start += b.cfg.BatchSize {
		end := start + b.cfg.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		if start > 0 && b.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(b.cfg.BatchDelay):
			}
		}

		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = batch[i].Text
		}
		vectors, err := b.embedBatch(ctx, engine, texts, len(batch))
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			b.logger.Error("embedding batch dropped",
				zap.Int("batch", stats.Batches),
				zap.Int("documents", len(batch)),
				zap.Error(err))
			stats.Failed += len(batch)
			stats.Batches++
			continue
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
			batch[i].Model = engine.Name()
			batch[i].Dimensions = engine.Dimensions()
		}
		stats.Batches++
	}

	for i := range docs {
		if docs[i].Truncated {
			stats.Truncated++
		}
		stats.TotalTokens += docs[i].TokenCount
	}
	if len(docs) > 0 {
		stats.MeanTokens = float64(stats.TotalTokens) / float64(len(docs))
	}

	if stats.Failed > 0 {
		b.logger.Warn("embedding run partially failed",
			zap.Int("documents", stats.Documents),
			zap.Int("failed", stats.Failed))
	}
	b.logger.Info("embedded documents",
		zap.Int("documents", stats.Documents),
		zap.Int("batches", stats.Batches),
		zap.String("model", stats.Model),
		zap.Int("dimensions", stats.Dimensions))
	return stats, nil
}

// embedBatch calls the engine with one bounded retry and validates the
// reply shape before any vector is accepted.
func (b *Builder) embedBatch(ctx context.Context, engine Engine, texts []string, want int) ([][]float32, error) {
	vectors, err := engine.EmbedBatch(ctx, texts)
	if err != nil && ctx.Err() == nil {
		b.logger.Warn("embedding batch failed, retrying once", zap.Error(err))
		vectors, err = engine.EmbedBatch(ctx, texts)
	}
	if err != nil {
		return nil, err
	}
	if len(vectors) != want {
		return nil, fmt.Errorf("got %d vectors for %d documents", len(vectors), want)
	}
	for i := range vectors {
		if len(vectors[i]) != engine.Dimensions() {
			return nil, fmt.Errorf("vector %d: length %d, want %d",
				i, len(vectors[i]), engine.Dimensions())
		}
	}
	return vectors, nil
}

// WriteArtifacts persists the three embedding outputs into dir.
func (b *Builder) WriteArtifacts(dir string, docs []Document, stats *Statistics) error {
	if err := artifacts.WriteJSON(filepath.Join(dir, DocumentsFile), docs); err != nil {
		return err
	}
	// Documents whose batch was dropped carry no vector and stay out of
	// the index; they remain visible in embeddings_data.json.
	entries := make([]VectorEntry, 0, len(docs))
	for i := range docs {
		if len(docs[i].Embedding) == 0 {
			continue
		}
		entries = append(entries, VectorEntryFor(&docs[i]))
	}
	if err := artifacts.WriteJSON(filepath.Join(dir, VectorsFile), entries); err != nil {
		return err
	}
	return artifacts.WriteJSON(filepath.Join(dir, StatisticsFile), stats)
}

// signalText joins the qualitative text for theme and tag detection.
func signalText(page *unifier.PageRow) string {
	var parts []string
	for _, c := range page.Criteria {
		parts = append(parts, c.Evidence)
	}
	if exp := page.Experience; exp != nil {
		parts = append(parts,
			exp.FirstImpression, exp.LanguageToneFeedback,
			exp.TrustCredibilityAssessment, exp.InformationGaps,
			exp.BusinessImpactAnalysis, exp.EffectiveCopyExamples,
			exp.IneffectiveCopyExamples)
	}
	for _, rec := range page.Recommendations {
		parts = append(parts, rec.Recommendation)
	}
	return strings.Join(parts, "\n")
}
