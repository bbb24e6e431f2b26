// Package pipeline is the batch driver: per persona it fetches, scores
// and emits every page with a bounded worker pool, then packages the
// persona directory, and finally unifies, aggregates and embeds once
// over all personas.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"brandaudit/internal/aggregates"
	"brandaudit/internal/artifacts"
	"brandaudit/internal/audit"
	"brandaudit/internal/embedding"
	"brandaudit/internal/emitter"
	"brandaudit/internal/fetcher"
	"brandaudit/internal/llm"
	"brandaudit/internal/methodology"
	"brandaudit/internal/packager"
	"brandaudit/internal/scorer"
	"brandaudit/internal/tier"
	"brandaudit/internal/unifier"
	"brandaudit/internal/vectorstore"
)

// Run-level failure classes, mapped to exit codes by the command layer.
var (
	// ErrNoURLs: the URL list produced nothing auditable.
	ErrNoURLs = errors.New("pipeline: no urls to audit")

	// ErrAllFetchesFailed: not a single page could be retrieved.
	ErrAllFetchesFailed = errors.New("pipeline: all page fetches failed")

	// ErrLLMUnusable: the provider never returned a usable evaluation.
	ErrLLMUnusable = errors.New("pipeline: llm provider unusable")
)

// Artifact names owned by the driver.
const (
	CountersFile         = "run_counters.json"
	AggregatesFile       = "aggregates.json"
	StrategicSummaryFile = "Strategic_Summary.md"
)

// Config tunes the driver.
type Config struct {
	// OutputDir is the run's root; each persona gets a subdirectory.
	OutputDir string

	// Parallelism bounds concurrent page audits (fetch + score).
	Parallelism int

	// TopOpportunities caps the ranked opportunity list.
	TopOpportunities int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Parallelism: 4, TopOpportunities: 10}
}

// Deps carries the constructed components into the driver. Engine and
// Vectors are optional: when nil the embedding and upload stages are
// skipped with a log line.
type Deps struct {
	Store      *methodology.Store
	Fetcher    *fetcher.Fetcher
	Classifier *tier.Classifier
	Scorer     *scorer.Scorer
	Builder    *embedding.Builder
	Engine     embedding.Engine
	Vectors    *vectorstore.Adapter
	Usage      *llm.UsageCounter
}

// Pipeline wires the components into the batch run.
type Pipeline struct {
	cfg        Config
	store      *methodology.Store
	fetcher    *fetcher.Fetcher
	classifier *tier.Classifier
	scorer     *scorer.Scorer
	emitter    *emitter.Emitter
	packager   *packager.Packager
	unifier    *unifier.Unifier
	builder    *embedding.Builder
	engine     embedding.Engine
	vectors    *vectorstore.Adapter
	usage      *llm.UsageCounter
	logger     *zap.Logger
}

// New creates the driver.
func New(cfg Config, deps Deps, logger *zap.Logger) *Pipeline {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultConfig().Parallelism
	}
	if cfg.TopOpportunities <= 0 {
		cfg.TopOpportunities = DefaultConfig().TopOpportunities
	}
	return &Pipeline{
		cfg:        cfg,
		store:      deps.Store,
		fetcher:    deps.Fetcher,
		classifier: deps.Classifier,
		scorer:     deps.Scorer,
		emitter:    emitter.New(deps.Store, logger),
		packager:   packager.New(deps.Store, logger),
		unifier:    unifier.New(logger),
		builder:    deps.Builder,
		engine:     deps.Engine,
		vectors:    deps.Vectors,
		usage:      deps.Usage,
		logger:     logger,
	}
}

// PersonaSummary is the per-persona slice of the terminal run summary.
type PersonaSummary struct {
	PersonaID     string
	Pages         int
	Resumed       int
	FetchFailures int
	MeanFinal     float64
}

// Result is what a completed (or cancelled) run reports back.
type Result struct {
	RunID    string
	Personas []PersonaSummary
	Summary  *aggregates.Summary
	Counters *Counters
}

// Run executes the full audit. On context cancellation every artifact
// written so far stays on disk and the counters file is still flushed,
// so a rerun picks up where this one stopped.
func (p *Pipeline) Run(ctx context.Context, personas []audit.Persona, urls []string) (*Result, error) {
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("pipeline: no personas")
	}

	runID := uuid.NewString()
	generatedAt := time.Now().UTC().Format(time.RFC3339)
	counts := &tally{}
	res := &Result{RunID: runID}

	p.logger.Info("run started",
		zap.String("run_id", runID),
		zap.Int("personas", len(personas)),
		zap.Int("urls", len(urls)),
		zap.Int("parallelism", p.cfg.Parallelism))

	personaDirs := make([]string, 0, len(personas))
	var runErr error

	for _, persona := range personas {
		dir := filepath.Join(p.cfg.OutputDir, persona.ID)
		summary, err := p.auditPersona(ctx, dir, persona, urls, counts)
		res.Personas = append(res.Personas, summary)
		if err != nil {
			runErr = err
			break
		}
		if summary.Pages == 0 && summary.Resumed == 0 {
			// Nothing on disk for this persona; skip packaging and keep
			// it out of the unified dataset.
			continue
		}
		personaDirs = append(personaDirs, dir)

		if _, err := p.packager.Package(dir, runID, generatedAt); err != nil {
			p.logger.Warn("packaging failed", zap.String("persona", persona.ID), zap.Error(err))
			counts.packageErrs.Add(1)
		}
	}

	if runErr == nil {
		runErr = p.finish(ctx, res, personaDirs, counts)
	}

	prompt, completion, calls := p.usage.Snapshot()
	res.Counters = counts.snapshot(runID, generatedAt, prompt, completion, calls)
	p.flushCounters(res.Counters)

	if runErr != nil {
		return res, runErr
	}
	p.logger.Info("run complete", zap.String("run_id", runID))
	return res, nil
}

// finish runs the cross-persona stages: unify, aggregate, embed, upload.
func (p *Pipeline) finish(ctx context.Context, res *Result, personaDirs []string, counts *tally) error {
	if len(personaDirs) == 0 {
		return ErrAllFetchesFailed
	}

	ds, err := p.unifier.Load(personaDirs)
	if err != nil {
		return fmt.Errorf("unify: %w", err)
	}
	if err := p.unifier.Write(p.cfg.OutputDir, ds); err != nil {
		return fmt.Errorf("unify: %w", err)
	}

	res.Summary = aggregates.Compute(ds, p.store, p.cfg.TopOpportunities)
	if err := artifacts.WriteJSON(filepath.Join(p.cfg.OutputDir, AggregatesFile), res.Summary); err != nil {
		return fmt.Errorf("aggregates: %w", err)
	}

	return p.embed(ctx, ds, counts)
}

func (p *Pipeline) embed(ctx context.Context, ds *unifier.Dataset, counts *tally) error {
	if p.engine == nil {
		p.logger.Info("embedding stage skipped: no engine configured")
		return nil
	}

	docs := p.builder.Build(ds)
	stats, err := p.builder.Embed(ctx, p.engine, docs)
	if err != nil {
		counts.embedErrs.Add(1)
		return fmt.Errorf("embed: %w", err)
	}
	counts.embedErrs.Add(int64(stats.Failed))
	if err := p.builder.WriteArtifacts(p.cfg.OutputDir, docs, stats); err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	if p.vectors == nil {
		p.logger.Info("vector upload skipped: no store configured")
		return nil
	}
	entries := make([]embedding.VectorEntry, 0, len(docs))
	for i := range docs {
		if len(docs[i].Embedding) == 0 {
			continue
		}
		entries = append(entries, embedding.VectorEntryFor(&docs[i]))
	}
	failed, err := p.vectors.UpsertAll(ctx, entries)
	counts.vectorFailed.Add(int64(failed))
	if err != nil {
		return fmt.Errorf("vector upload: %w", err)
	}
	return nil
}

// auditPersona fetches and scores every URL for one persona with a
// bounded pool, emits the markdown and table artifacts, and writes the
// strategic summary. Pages whose scorecard already exists on disk are
// skipped so a cancelled run can be resumed.
func (p *Pipeline) auditPersona(ctx context.Context, dir string, persona audit.Persona, urls []string, counts *tally) (PersonaSummary, error) {
	summary := PersonaSummary{PersonaID: persona.ID}
	fetchFailuresBefore := counts.fetchErrs.Load()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallelism)

	collector := newResultCollector()
	for _, rawURL := range urls {
		slug := audit.Slug(rawURL)
		if _, err := os.Stat(filepath.Join(dir, slug+"_hygiene_scorecard.md")); err == nil {
			p.logger.Info("scorecard exists, skipping page",
				zap.String("persona", persona.ID), zap.String("slug", slug))
			summary.Resumed++
			counts.pagesResumed.Add(1)
			continue
		}

		rawURL := rawURL
		g.Go(func() error {
			result, err := p.auditPage(gctx, dir, persona, rawURL, counts)
			if err != nil {
				if errors.Is(err, llm.ErrUnavailable) || errors.Is(err, context.Canceled) {
					return err
				}
				return nil // page-level failure already counted
			}
			collector.add(result)
			return nil
		})
	}

	err := g.Wait()
	results := collector.take()
	summary.Pages = len(results)
	summary.FetchFailures = int(counts.fetchErrs.Load() - fetchFailuresBefore)
	counts.pagesAudited.Add(int64(len(results)))

	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			return summary, fmt.Errorf("%w: %v", ErrLLMUnusable, err)
		}
		return summary, err
	}
	if len(results) == 0 && summary.Resumed == 0 {
		return summary, nil
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Page.PageID < results[j].Page.PageID })
	if err := p.emitter.EmitTables(dir, persona, results); err != nil {
		return summary, fmt.Errorf("emit tables: %w", err)
	}

	facts := p.pageFacts(persona, results)
	summary.MeanFinal = meanFinal(facts)
	p.writeStrategicSummary(ctx, dir, persona, facts)

	return summary, nil
}

// auditPage runs the full per-page path: fetch, classify, score each
// tier criterion, write the two markdown documents. A criterion whose
// evaluation fails is recorded as missing, never defaulted.
func (p *Pipeline) auditPage(ctx context.Context, dir string, persona audit.Persona, rawURL string, counts *tally) (emitter.PageResult, error) {
	page, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		counts.fetchErrs.Add(1)
		p.logger.Warn("page fetch failed", zap.String("url", rawURL), zap.Error(err))
		return emitter.PageResult{}, err
	}
	page.Tier = p.classifier.Classify(page.URL)

	criteria := p.store.CriteriaFor(page.Tier)
	evals := make([]audit.Evaluation, 0, len(criteria))
	for _, criterion := range criteria {
		ev, err := p.scorer.Score(ctx, page, persona, criterion)
		if err != nil {
			if errors.Is(err, llm.ErrUnavailable) {
				return emitter.PageResult{}, err
			}
			counts.scoreErrs.Add(1)
			p.logger.Warn("criterion evaluation failed",
				zap.String("page_id", page.PageID),
				zap.String("criterion", criterion.ID),
				zap.Error(err))
			continue
		}
		evals = append(evals, *ev)
	}
	if len(evals) == 0 {
		return emitter.PageResult{}, fmt.Errorf("page %s: no criterion evaluated", page.PageID)
	}

	result := emitter.PageResult{Page: page, Evaluations: evals}
	exp, err := p.scorer.Experience(ctx, page, persona)
	if err != nil {
		counts.experienceErrs.Add(1)
		p.logger.Warn("experience report failed",
			zap.String("page_id", page.PageID), zap.Error(err))
	} else {
		result.Experience = exp
	}

	if err := p.emitter.EmitPage(dir, persona, result); err != nil {
		return emitter.PageResult{}, fmt.Errorf("emit page %s: %w", page.PageID, err)
	}
	return result, nil
}

func (p *Pipeline) pageFacts(persona audit.Persona, results []emitter.PageResult) []audit.PageFact {
	facts := make([]audit.PageFact, 0, len(results))
	for _, r := range results {
		final := p.emitter.FinalScore(r.Page.Tier, r.Evaluations)
		facts = append(facts, audit.PageFact{
			PersonaID:  persona.ID,
			PageID:     r.Page.PageID,
			URL:        r.Page.URL,
			Slug:       r.Page.Slug,
			Tier:       r.Page.Tier,
			TierWeight: r.Page.Tier.Weight(),
			FinalScore: final,
			AvgScore:   emitter.AvgScore(r.Evaluations),
			Descriptor: audit.DescriptorFor(final),
		})
	}
	return facts
}

// writeStrategicSummary is best-effort: a provider outage here never
// fails a run whose scorecards are already on disk.
func (p *Pipeline) writeStrategicSummary(ctx context.Context, dir string, persona audit.Persona, facts []audit.PageFact) {
	doc, err := p.scorer.Summarize(ctx, persona, facts)
	if err != nil {
		p.logger.Warn("strategic summary skipped",
			zap.String("persona", persona.ID), zap.Error(err))
		return
	}
	if err := artifacts.WriteFile(filepath.Join(dir, StrategicSummaryFile), []byte(doc)); err != nil {
		p.logger.Warn("strategic summary write failed",
			zap.String("persona", persona.ID), zap.Error(err))
	}
}

type resultCollector struct {
	mu      sync.Mutex
	results []emitter.PageResult
}

func newResultCollector() *resultCollector {
	return &resultCollector{}
}

func (c *resultCollector) add(r emitter.PageResult) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

func (c *resultCollector) take() []emitter.PageResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results
}

func meanFinal(facts []audit.PageFact) float64 {
	if len(facts) == 0 {
		return 0
	}
	var sum float64
	for _, f := range facts {
		sum += f.FinalScore
	}
	return sum / float64(len(facts))
}
