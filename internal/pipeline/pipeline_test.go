package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"brandaudit/internal/audit"
	"brandaudit/internal/embedding"
	"brandaudit/internal/emitter"
	"brandaudit/internal/fetcher"
	"brandaudit/internal/llm"
	"brandaudit/internal/methodology"
	"brandaudit/internal/scorer"
	"brandaudit/internal/tier"
	"brandaudit/internal/vectorstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// stubClient answers score, experience and summary prompts with canned
// deterministic replies so the whole run is reproducible offline.
type stubClient struct {
	scoreCalls atomic.Int64
	fail       bool
}

func (c *stubClient) CompleteWithSystem(_ context.Context, _, userPrompt string) (string, error) {
	if c.fail {
		return "", fmt.Errorf("%w: connection refused", llm.ErrUnavailable)
	}
	switch {
	case strings.Contains(userPrompt, "## Criterion"):
		c.scoreCalls.Add(1)
		return `{"score": 7.5, "evidence": "The headline names the audience and the offer in one line.", "recommendation": "Tighten the subheading.", "urgency": "medium", "effort": "Low"}`, nil
	case strings.Contains(userPrompt, "first_impression"):
		return `{"first_impression": "Feels credible and specific.",
			"language_tone_feedback": "Concrete, low on jargon.",
			"trust_credibility_assessment": "Client logos and certifications visible.",
			"information_gaps": "No pricing indication.",
			"business_impact_analysis": "Strong fit for evaluation-stage visitors.",
			"effective_copy_examples": "The hero headline.",
			"ineffective_copy_examples": "The generic footer CTA.",
			"overall_sentiment": "", "engagement_level": "", "conversion_likelihood": ""}`, nil
	default:
		return "# Strategic Summary\n\nOverall the audited pages score well.", nil
	}
}

func (c *stubClient) Model() string { return "stub" }

type fakeEngine struct{}

func (fakeEngine) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, 8), nil
}

func (fakeEngine) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, 8)
	}
	return out, nil
}

func (fakeEngine) Dimensions() int { return 8 }
func (fakeEngine) Name() string    { return "fake" }

type captureStore struct {
	entries []embedding.VectorEntry
}

func (s *captureStore) Upsert(_ context.Context, entries []embedding.VectorEntry) error {
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *captureStore) Name() string { return "capture" }

func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Page %s</title></head>
			<body><main><h1>Cloud solutions for regulated industries</h1>
			<p>We help enterprises modernise with GDPR-compliant platforms.</p>
			</main></body></html>`, r.URL.Path)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestPipeline(t *testing.T, out string, client llm.Client, serverURL string, engine embedding.Engine, store vectorstore.Store) (*Pipeline, *methodology.Store) {
	t.Helper()
	logger := zap.NewNop()

	catalogue, err := methodology.Default()
	require.NoError(t, err)

	u, err := url.Parse(serverURL)
	require.NoError(t, err)

	fcfg := fetcher.DefaultConfig()
	fcfg.MaxAttempts = 1

	builder, err := embedding.NewBuilder(embedding.DefaultBuilderConfig(), catalogue, logger)
	require.NoError(t, err)

	var adapter *vectorstore.Adapter
	if store != nil {
		adapter = vectorstore.NewAdapter(store, 100, logger)
	}

	deps := Deps{
		Store:      catalogue,
		Fetcher:    fetcher.New(fcfg, logger),
		Classifier: tier.New(u.Hostname()),
		Scorer:     scorer.New(client, catalogue, scorer.DefaultConfig(), logger),
		Builder:    builder,
		Engine:     engine,
		Vectors:    adapter,
		Usage:      &llm.UsageCounter{},
	}
	cfg := DefaultConfig()
	cfg.OutputDir = out
	return New(cfg, deps, logger), catalogue
}

func TestRunEndToEnd(t *testing.T) {
	server := pageServer(t)
	out := t.TempDir()
	client := &stubClient{}
	store := &captureStore{}

	p, _ := newTestPipeline(t, out, client, server.URL, fakeEngine{}, store)

	persona := audit.NewPersona("Persona Brief: Strategic Business Leader\nRuns procurement at a mid-size enterprise.")
	urls := []string{
		server.URL + "/",
		server.URL + "/resources/blog/2026/cloud-trends",
	}

	res, err := p.Run(context.Background(), []audit.Persona{persona}, urls)
	require.NoError(t, err)
	require.Len(t, res.Personas, 1)
	assert.Equal(t, "Strategic_Business_Leader", res.Personas[0].PersonaID)
	assert.Equal(t, 2, res.Personas[0].Pages)
	assert.Zero(t, res.Personas[0].FetchFailures)
	assert.InDelta(t, 7.5, res.Personas[0].MeanFinal, 0.001)

	personaDir := filepath.Join(out, persona.ID)
	for _, name := range []string{
		emitter.PagesFile, emitter.CriteriaScoresFile, emitter.ExperienceFile,
		emitter.RecommendationsFile, "run_manifest.json", StrategicSummaryFile,
	} {
		_, err := os.Stat(filepath.Join(personaDir, name))
		assert.NoError(t, err, name)
	}
	for _, rawURL := range urls {
		slug := audit.Slug(rawURL)
		_, err := os.Stat(filepath.Join(personaDir, slug+"_hygiene_scorecard.md"))
		assert.NoError(t, err, slug)
		_, err = os.Stat(filepath.Join(personaDir, slug+"_experience_report.md"))
		assert.NoError(t, err, slug)
	}
	for _, name := range []string{
		"unified_pages.csv", "unified_criteria.csv",
		AggregatesFile, CountersFile,
		embedding.DocumentsFile, embedding.VectorsFile, embedding.StatisticsFile,
	} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, name)
	}

	require.NotNil(t, res.Summary)
	assert.Len(t, store.entries, 2)

	require.NotNil(t, res.Counters)
	assert.Equal(t, int64(2), res.Counters.PagesAudited)
	assert.Zero(t, res.Counters.Errors.Fetch)
}

func TestRunResumesFromExistingScorecards(t *testing.T) {
	server := pageServer(t)
	out := t.TempDir()
	persona := audit.NewPersona("Persona Brief: Strategic Business Leader")
	urls := []string{
		server.URL + "/",
		server.URL + "/resources/blog/2026/cloud-trends",
	}

	// First run audits everything.
	client := &stubClient{}
	p, _ := newTestPipeline(t, out, client, server.URL, nil, nil)
	_, err := p.Run(context.Background(), []audit.Persona{persona}, urls)
	require.NoError(t, err)
	firstRunCalls := client.scoreCalls.Load()
	require.Positive(t, firstRunCalls)

	recsPath := filepath.Join(out, persona.ID, emitter.RecommendationsFile)
	firstRecs := countLines(t, recsPath)
	require.Greater(t, firstRecs, 1)

	// Second run finds every scorecard on disk and scores nothing.
	client2 := &stubClient{}
	p2, _ := newTestPipeline(t, out, client2, server.URL, nil, nil)
	res, err := p2.Run(context.Background(), []audit.Persona{persona}, urls)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Personas[0].Resumed)
	assert.Zero(t, res.Personas[0].Pages)
	assert.Zero(t, client2.scoreCalls.Load())

	// The packaged tables still cover both pages.
	data, err := os.ReadFile(filepath.Join(out, persona.ID, emitter.PagesFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3) // header + two pages

	// Recommendation rows from the first run survive the resumed run;
	// they cannot be rebuilt from the scorecards.
	assert.Equal(t, firstRecs, countLines(t, recsPath))
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return len(strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestRunNoURLs(t *testing.T) {
	out := t.TempDir()
	p, _ := newTestPipeline(t, out, &stubClient{}, "http://localhost:0", nil, nil)
	_, err := p.Run(context.Background(), []audit.Persona{audit.NewPersona("P1")}, nil)
	require.ErrorIs(t, err, ErrNoURLs)
}

func TestRunAllFetchesFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	out := t.TempDir()
	p, _ := newTestPipeline(t, out, &stubClient{}, server.URL, nil, nil)
	res, err := p.Run(context.Background(), []audit.Persona{audit.NewPersona("P1")}, []string{server.URL + "/"})
	require.ErrorIs(t, err, ErrAllFetchesFailed)
	require.Len(t, res.Personas, 1)
	assert.Equal(t, 1, res.Personas[0].FetchFailures)
}

func TestRunLLMUnusable(t *testing.T) {
	server := pageServer(t)
	out := t.TempDir()
	p, _ := newTestPipeline(t, out, &stubClient{fail: true}, server.URL, nil, nil)
	_, err := p.Run(context.Background(), []audit.Persona{audit.NewPersona("P1")}, []string{server.URL + "/"})
	require.ErrorIs(t, err, ErrLLMUnusable)
}

func TestRunWritesCountersOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	out := t.TempDir()
	p, _ := newTestPipeline(t, out, &stubClient{}, server.URL, nil, nil)
	_, err := p.Run(context.Background(), []audit.Persona{audit.NewPersona("P1")}, []string{server.URL + "/"})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(out, CountersFile))
	assert.NoError(t, statErr)
}
