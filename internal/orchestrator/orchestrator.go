package orchestrator

import (
	"context"
	"errors"
	"log"
	"strings"

	"compliance/backend/internal/citation"
	"compliance/backend/internal/config"
	"compliance/backend/internal/retrieval"
	"compliance/backend/internal/sonar"
)

// ErrInvalidQuery is the only orchestrator error a client ever sees. Every
// adapter failure degrades the response instead.
var ErrInvalidQuery = errors.New("query text must not be empty")

// Stage names carried on progress events, in the order sections complete.
const (
	StageInternal = "internal_citations"
	StageExternal = "external_citations"
	StageHints    = "hints"
)

type Retriever interface {
	Search(ctx context.Context, query string, opts retrieval.Options) ([]citation.Internal, error)
}

type Intel interface {
	Analyze(ctx context.Context, query string) (sonar.Analysis, error)
}

type HintGenerator interface {
	Generate(query, externalAnswer string) citation.Hint
}

// Request is one query with its per-request feature flags already resolved
// against the configured defaults.
type Request struct {
	Text     string
	Standard string
	UseRAG   bool
	UseSonar bool
	UseHints bool
}

// Progress reports one completed stage with its partial payload. Degraded
// stages carry the failure message and an empty payload.
type Progress struct {
	Stage    string
	Message  string
	Count    int
	Degraded bool
	Internal []citation.Internal
	External []citation.External
	Hints    *citation.Hint
}

// Orchestrator fans a query out to the enabled adapters and merges whatever
// survives into a response envelope. Adapters fail independently.
type Orchestrator struct {
	retriever Retriever
	intel     Intel
	hints     HintGenerator
	cfg       config.Config
	status    *Status
}

func New(retriever Retriever, intel Intel, hints HintGenerator, cfg config.Config, status *Status) Orchestrator {
	if status == nil {
		status = NewStatus(cfg.RetrievalConfigured(), cfg.SonarConfigured())
	}
	return Orchestrator{
		retriever: retriever,
		intel:     intel,
		hints:     hints,
		cfg:       cfg,
		status:    status,
	}
}

func (o Orchestrator) StatusBoard() *Status {
	return o.status
}

type stageResult struct {
	stage    string
	internal []citation.Internal
	analysis sonar.Analysis
	err      error
}

// Run executes one query end to end. Enabled adapters run concurrently with
// their own timeouts; results are collected over a channel so onProgress is
// only ever called from this goroutine, in completion order. The returned
// envelope is complete even when every adapter failed.
func (o Orchestrator) Run(ctx context.Context, req Request, onProgress func(Progress)) (citation.Envelope, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return citation.Envelope{}, ErrInvalidQuery
	}
	emit := onProgress
	if emit == nil {
		emit = func(Progress) {}
	}

	results := make(chan stageResult, 2)
	pending := 0

	if req.UseRAG {
		pending++
		go func() {
			adapterCtx, cancel := context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
			defer cancel()
			if o.retriever == nil {
				results <- stageResult{stage: StageInternal, err: retrieval.ErrUnavailable}
				return
			}
			cites, err := o.retriever.Search(adapterCtx, text, retrieval.Options{Standard: req.Standard})
			results <- stageResult{stage: StageInternal, internal: cites, err: err}
		}()
	}
	if req.UseSonar {
		pending++
		go func() {
			adapterCtx, cancel := context.WithTimeout(ctx, o.cfg.SonarTimeout)
			defer cancel()
			if o.intel == nil {
				results <- stageResult{stage: StageExternal, err: sonar.ErrUnavailable}
				return
			}
			analysis, err := o.intel.Analyze(adapterCtx, text)
			results <- stageResult{stage: StageExternal, analysis: analysis, err: err}
		}()
	}

	var internal []citation.Internal
	var external []citation.External
	var externalAnswer string

	for ; pending > 0; pending-- {
		result := <-results
		switch result.stage {
		case StageInternal:
			o.status.RecordInternal(result.err)
			if result.err != nil {
				log.Printf("internal retrieval degraded: %v", result.err)
				emit(Progress{Stage: StageInternal, Degraded: true, Message: result.err.Error()})
				continue
			}
			internal = result.internal
			emit(Progress{Stage: StageInternal, Count: len(internal), Internal: internal})
		case StageExternal:
			o.status.RecordExternal(result.err)
			if result.err != nil {
				log.Printf("external intelligence degraded: %v", result.err)
				emit(Progress{Stage: StageExternal, Degraded: true, Message: result.err.Error()})
				continue
			}
			external = result.analysis.Citations
			externalAnswer = result.analysis.Answer
			emit(Progress{Stage: StageExternal, Count: len(external), External: external})
		}
	}

	var hintBlock *citation.Hint
	if req.UseHints {
		hint := o.generateHints(text, externalAnswer)
		hintBlock = &hint
		emit(Progress{Stage: StageHints, Count: len(hint.BasicHints), Hints: hintBlock})
	}

	return citation.NewEnvelope(text, internal, external, hintBlock), nil
}

// generateHints shields the pipeline from a misbehaving generator. Hints are
// decorative; a panic here must not cost the caller their citations.
func (o Orchestrator) generateHints(query, externalAnswer string) (hint citation.Hint) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("hint generation failed: %v", r)
			hint = citation.Hint{BasicHints: []string{}, Query: query}
		}
	}()
	if o.hints == nil {
		return citation.Hint{BasicHints: []string{}, Query: query}
	}
	return o.hints.Generate(query, externalAnswer)
}
