package pipeline

import (
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"brandaudit/internal/artifacts"
)

// tally accumulates run counters across workers. All fields are atomic
// so page workers can bump them without coordination.
type tally struct {
	pagesAudited atomic.Int64
	pagesResumed atomic.Int64

	fetchErrs      atomic.Int64
	scoreErrs      atomic.Int64
	experienceErrs atomic.Int64
	packageErrs    atomic.Int64
	embedErrs      atomic.Int64
	vectorFailed   atomic.Int64
}

// ErrorCounts is the per-component error section of run_counters.json.
type ErrorCounts struct {
	Fetch        int64 `json:"fetch"`
	Score        int64 `json:"score"`
	Experience   int64 `json:"experience"`
	Package      int64 `json:"package"`
	Embed        int64 `json:"embed"`
	VectorFailed int64 `json:"vector_failed"`
}

// Counters is the persisted shape of run_counters.json.
type Counters struct {
	RunID            string      `json:"run_id"`
	GeneratedAt      string      `json:"generated_at"`
	PagesAudited     int64       `json:"pages_audited"`
	PagesResumed     int64       `json:"pages_resumed"`
	PromptTokens     int64       `json:"prompt_tokens"`
	CompletionTokens int64       `json:"completion_tokens"`
	LLMCalls         int64       `json:"llm_calls"`
	Errors           ErrorCounts `json:"errors"`
}

func (t *tally) snapshot(runID, generatedAt string, prompt, completion, calls int64) *Counters {
	return &Counters{
		RunID:            runID,
		GeneratedAt:      generatedAt,
		PagesAudited:     t.pagesAudited.Load(),
		PagesResumed:     t.pagesResumed.Load(),
		PromptTokens:     prompt,
		CompletionTokens: completion,
		LLMCalls:         calls,
		Errors: ErrorCounts{
			Fetch:        t.fetchErrs.Load(),
			Score:        t.scoreErrs.Load(),
			Experience:   t.experienceErrs.Load(),
			Package:      t.packageErrs.Load(),
			Embed:        t.embedErrs.Load(),
			VectorFailed: t.vectorFailed.Load(),
		},
	}
}

// flushCounters writes run_counters.json. It runs on every exit path,
// cancellation included, so a resumed run can account for prior spend.
func (p *Pipeline) flushCounters(counters *Counters) {
	path := filepath.Join(p.cfg.OutputDir, CountersFile)
	if err := artifacts.WriteJSON(path, counters); err != nil {
		p.logger.Warn("counters write failed", zap.Error(err))
	}
}
