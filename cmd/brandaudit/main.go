// brandaudit audits web pages against marketing personas and writes
// scorecards, canonical tables, aggregates and a retrieval index.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"brandaudit/internal/audit"
	"brandaudit/internal/config"
	"brandaudit/internal/embedding"
	"brandaudit/internal/fetcher"
	"brandaudit/internal/llm"
	"brandaudit/internal/methodology"
	"brandaudit/internal/pipeline"
	"brandaudit/internal/scorer"
	"brandaudit/internal/tier"
	"brandaudit/internal/vectorstore"
)

// Exit codes of the run command.
const (
	exitOK            = 0
	exitUnexpected    = 1
	exitInvalidArgs   = 2
	exitNoURLs        = 3
	exitFetchesFailed = 4
	exitLLMUnusable   = 5
)

// exitError carries an exit code through cobra back to main.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitf(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

var (
	// Global flags
	verbose    bool
	configPath string

	// Run flags
	personaPaths  []string
	urlsPath      string
	outDir        string
	provider      string
	primaryDomain string
	parallelism   int
	temperature   float64
	tokenBudget   int
	vectorBackend string
	noEmbed       bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "brandaudit",
	Short: "Persona-driven web page audit pipeline",
	Long: `brandaudit fetches a list of web pages, scores each one against a
marketing persona with an LLM, and writes per-page scorecards, canonical
CSV tables, cross-persona aggregates and an embedding-backed retrieval
index.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full audit over a URL list",
	Long: `Runs the full pipeline: fetch and score every URL for every persona,
emit markdown and CSV artifacts per persona, then unify, aggregate,
embed and upload the retrieval index.

Example:
  brandaudit run --persona persona.txt --urls urls.txt --out ./audit \
    --provider openai --primary-domain corp.example.com`,
	RunE: runAudit,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "brandaudit.yaml", "path to the YAML config file")

	runCmd.Flags().StringSliceVar(&personaPaths, "persona", nil, "persona brief file (repeatable)")
	runCmd.Flags().StringVar(&urlsPath, "urls", "", "newline-delimited URL list")
	runCmd.Flags().StringVar(&outDir, "out", "", "output directory for all artifacts")
	runCmd.Flags().StringVar(&provider, "provider", "", "llm provider: openai or anthropic")
	runCmd.Flags().StringVar(&primaryDomain, "primary-domain", "", "primary corporate domain for tier classification")
	runCmd.Flags().IntVar(&parallelism, "parallelism", 0, "concurrent page audits (default 4)")
	runCmd.Flags().Float64Var(&temperature, "temperature", -1, "llm sampling temperature")
	runCmd.Flags().IntVar(&tokenBudget, "token-budget", 0, "embedding document token budget (default 8000)")
	runCmd.Flags().StringVar(&vectorBackend, "vector-backend", "", "vector store: sqlite, elasticsearch, qdrant or pinecone")
	runCmd.Flags().BoolVar(&noEmbed, "no-embed", false, "skip the embedding and upload stage")
	_ = runCmd.MarkFlagRequired("persona")
	_ = runCmd.MarkFlagRequired("urls")
	_ = runCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(runCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return exitf(exitInvalidArgs, "config: %v", err)
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return exitf(exitInvalidArgs, "config: %v", err)
	}

	personas, err := loadPersonas(personaPaths)
	if err != nil {
		return exitf(exitInvalidArgs, "persona: %v", err)
	}
	urls, err := loadURLs(urlsPath)
	if err != nil {
		return exitf(exitInvalidArgs, "urls: %v", err)
	}
	if len(urls) == 0 {
		return exitf(exitNoURLs, "no parseable urls in %s", urlsPath)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return exitf(exitInvalidArgs, "output directory: %v", err)
	}

	deps, err := buildDeps(cfg)
	if err != nil {
		return exitf(exitInvalidArgs, "%v", err)
	}

	pcfg := pipeline.DefaultConfig()
	pcfg.OutputDir = outDir
	pcfg.Parallelism = cfg.Parallelism
	pcfg.TopOpportunities = cfg.TopOpportunities
	p := pipeline.New(pcfg, deps, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := p.Run(ctx, personas, urls)
	if res != nil {
		printSummary(res)
	}
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNoURLs):
			return &exitError{code: exitNoURLs, err: err}
		case errors.Is(err, pipeline.ErrAllFetchesFailed):
			return &exitError{code: exitFetchesFailed, err: err}
		case errors.Is(err, pipeline.ErrLLMUnusable):
			return &exitError{code: exitLLMUnusable, err: err}
		default:
			return &exitError{code: exitUnexpected, err: err}
		}
	}
	return nil
}

// applyFlagOverrides lets command-line flags win over the config file.
func applyFlagOverrides(cfg *config.Config) {
	if provider != "" {
		cfg.LLM.Provider = provider
	}
	if primaryDomain != "" {
		cfg.PrimaryDomain = primaryDomain
	}
	if parallelism > 0 {
		cfg.Parallelism = parallelism
	}
	if temperature >= 0 {
		cfg.LLM.Temperature = temperature
	}
	if tokenBudget > 0 {
		cfg.Embedding.TokenBudget = tokenBudget
	}
	if vectorBackend != "" {
		cfg.Vectors.Backend = vectorBackend
	}
	if noEmbed {
		cfg.Embedding.Enabled = false
	}
}

func buildDeps(cfg *config.Config) (pipeline.Deps, error) {
	store, err := loadMethodology(cfg.MethodologyPath)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("methodology: %w", err)
	}

	usage := &llm.UsageCounter{}
	client, err := llm.NewClient(cfg.ClientConfig(), usage)
	if err != nil {
		return pipeline.Deps{}, err
	}

	builder, err := embedding.NewBuilder(cfg.BuilderConfig(), store, logger)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("embedding builder: %w", err)
	}

	deps := pipeline.Deps{
		Store:      store,
		Fetcher:    fetcher.New(cfg.FetcherConfig(), logger),
		Classifier: tier.New(cfg.PrimaryDomain),
		Scorer:     scorer.New(client, store, scorer.DefaultConfig(), logger),
		Builder:    builder,
		Usage:      usage,
	}

	// The embedding and upload stages are best-effort: a missing API key
	// or an absent local backend must not block the audit itself.
	if cfg.Embedding.Enabled {
		engine, err := embedding.NewEngine(cfg.Embedding.Engine)
		if err != nil {
			logger.Warn("embedding disabled", zap.Error(err))
		} else {
			deps.Engine = engine
			vs, err := vectorstore.New(cfg.Vectors, logger)
			if err != nil {
				logger.Warn("vector upload disabled", zap.Error(err))
			} else {
				deps.Vectors = vectorstore.NewAdapter(vs, cfg.Vectors.BatchSize, logger)
			}
		}
	}
	return deps, nil
}

func loadMethodology(path string) (*methodology.Store, error) {
	if path == "" {
		return methodology.Default()
	}
	return methodology.Load(path)
}

func loadPersonas(paths []string) ([]audit.Persona, error) {
	personas := make([]audit.Persona, 0, len(paths))
	seen := map[string]bool{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		brief := strings.TrimSpace(string(data))
		if brief == "" {
			return nil, fmt.Errorf("%s: empty persona brief", path)
		}
		p := audit.NewPersona(brief)
		if seen[p.ID] {
			return nil, fmt.Errorf("%s: duplicate persona id %s", path, p.ID)
		}
		seen[p.ID] = true
		personas = append(personas, p)
	}
	return personas, nil
}

// loadURLs reads a newline-delimited URL list. Blank lines and lines
// starting with # are skipped; entries without a scheme get https://.
func loadURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "http://") && !strings.HasPrefix(line, "https://") {
			line = "https://" + line
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func printSummary(res *pipeline.Result) {
	fmt.Printf("\nRun %s\n", res.RunID)
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PERSONA\tPAGES\tRESUMED\tFETCH ERRORS\tMEAN FINAL")
	for _, p := range res.Personas {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2f\n",
			p.PersonaID, p.Pages, p.Resumed, p.FetchFailures, p.MeanFinal)
	}
	_ = w.Flush()

	if res.Summary != nil {
		fmt.Printf("\nBrand health: %.2f (%s)\n",
			res.Summary.BrandHealth.Score, res.Summary.BrandHealth.Status)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitUnexpected)
	}
}
