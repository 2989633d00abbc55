// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/docentlab/docent/config"
	"github.com/docentlab/docent/datatypes"
	"github.com/docentlab/docent/events"
	"github.com/docentlab/docent/guardrails"
	"github.com/docentlab/docent/language"
	"github.com/docentlab/docent/llm"
	"github.com/docentlab/docent/observability"
	"github.com/docentlab/docent/reranker"
	"github.com/docentlab/docent/session"
	"github.com/docentlab/docent/tokenizer"
)

var agentTracer = otel.Tracer("docent.agent")

// Pipeline wires the nodes of the self-correcting answer loop. One
// instance serves all requests; per-request state lives in State.
type Pipeline struct {
	cfg       *config.Config
	store     session.Store
	retriever Retriever
	reranker  RerankClient
	llm       llm.Client
	metrics   *observability.Metrics
	logger    *slog.Logger
	locks     *session.KeyedLocks
}

// NewPipeline builds the runtime. reranker may be nil; retrieval order
// is then used directly.
func NewPipeline(cfg *config.Config, store session.Store, retriever Retriever, rerank RerankClient, client llm.Client, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		retriever: retriever,
		reranker:  rerank,
		llm:       client,
		metrics:   metrics,
		logger:    logger,
		locks:     session.NewKeyedLocks(10 * time.Minute),
	}
}

// ===== run loop =====

// Run executes one query end to end, emitting lifecycle events on sink,
// and returns the terminal event. Exactly one terminal event (generation
// or error) is emitted per call; the session is only mutated on success.
func (p *Pipeline) Run(ctx context.Context, req *datatypes.QueryRequest, sink events.Sink) datatypes.StreamEvent {
	started := time.Now()
	ctx, span := agentTracer.Start(ctx, "pipeline.run")
	defer span.End()

	st := &State{ThreadID: req.ThreadID}
	terminal := p.run(ctx, req, sink, st)

	outcome := terminal.EventType
	if terminal.EventType == datatypes.EventError {
		if cat, ok := terminal.Data["category"].(string); ok {
			outcome = cat
		}
		p.metrics.ErrorsTotal.WithLabelValues(outcome).Inc()
	}
	elapsed := time.Since(started)
	p.metrics.PipelineDuration.Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.String("pipeline.outcome", outcome),
		attribute.Int("pipeline.retries", st.RetryCount),
	)
	p.logger.Info("Pipeline request finished",
		"thread_id", st.ThreadID,
		"outcome", outcome,
		"retries", st.RetryCount,
		"query_length", len([]rune(req.Query)),
		"total_duration_ms", elapsed.Milliseconds(),
	)
	return terminal
}

func (p *Pipeline) run(ctx context.Context, req *datatypes.QueryRequest, sink events.Sink, st *State) datatypes.StreamEvent {
	// Input guardrail runs before any session or node work. A rejected
	// query leaves no trace beyond the terminal error.
	input, err := guardrails.ValidateInput(req.Query, p.cfg.MaxQueryLength)
	if err != nil {
		return p.fail(ctx, sink, st, err)
	}

	// Invocations against one thread hold its lock end to end, not just
	// per store operation, so a concurrent ask on the same thread always
	// observes the earlier turn.
	if req.ThreadID != "" {
		defer p.locks.Lock(req.ThreadID)()
	}

	sessionState, created, err := p.store.Create(ctx, req.ThreadID)
	if err != nil {
		return p.fail(ctx, sink, st, err)
	}
	st.ThreadID = sessionState.ThreadID
	st.NewThread = created
	st.History = sessionState.Messages
	if req.ThreadID == "" {
		defer p.locks.Lock(st.ThreadID)()
	}
	if created {
		p.emit(ctx, sink, datatypes.NewEvent(datatypes.EventThreadCreated,
			map[string]any{"thread_id": st.ThreadID}))
	}

	st.OriginalQuery = input.Query
	st.SearchQuery = input.Query
	st.Runtime = req.Context
	st.Filters = req.Filters
	st.TopK = req.TopK
	if st.TopK <= 0 {
		st.TopK = p.cfg.RetrievalTopK
	}

	primary, candidates := language.DetectCandidates(input.Query)
	st.Language = language.Effective(primary, st.Runtime.LanguagePreference)
	st.LanguageCandidates = candidates
	if len(candidates) > 1 {
		p.logger.Debug("Language detection ambiguous",
			"thread_id", st.ThreadID, "primary", primary, "candidates", candidates)
	}
	if primary == language.Unknown && (st.Runtime.LanguagePreference == "" || st.Runtime.LanguagePreference == "auto") {
		p.warn(ctx, sink, st, datatypes.WarnLanguageFallback,
			"query language could not be detected, answering in English", "")
	}

	for _, code := range input.Warnings {
		p.warn(ctx, sink, st, code, warningMessage(code), "")
	}

	// Greetings and thanks skip retrieval and generation entirely.
	if intent := ClassifyIntent(st.OriginalQuery); intent != IntentQuery {
		return p.answerCanned(ctx, sink, st, intent)
	}

	for {
		if terminal, stop := p.cancelled(ctx, sink, st); stop {
			return terminal
		}
		if terminal, stop := p.stageRetrieve(ctx, sink, st); stop {
			return terminal
		}
		if terminal, stop := p.stageRerank(ctx, sink, st); stop {
			return terminal
		}
		proceed, terminal, stop := p.stageGrade(ctx, sink, st)
		if stop {
			return terminal
		}
		if proceed {
			break
		}
		if st.RetryCount >= p.cfg.MaxRetries {
			p.warn(ctx, sink, st, datatypes.WarnLowRelevanceFallback,
				"no documents passed relevance grading, answering from best retrieved set", datatypes.NodeGrade)
			st.Kept = st.Documents
			break
		}
		st.RetryCount++
		p.metrics.RetriesTotal.Inc()
		if terminal, stop := p.stageRewrite(ctx, sink, st); stop {
			return terminal
		}
	}

	if terminal, stop := p.cancelled(ctx, sink, st); stop {
		return terminal
	}
	if terminal, stop := p.stageGenerate(ctx, sink, st); stop {
		return terminal
	}

	if err := p.persistTurn(ctx, st); err != nil {
		return p.fail(ctx, sink, st, err)
	}

	terminal := datatypes.NewEvent(datatypes.EventGeneration, generationData(st))
	p.emit(ctx, sink, terminal)
	return terminal
}

// ===== stages =====

func (p *Pipeline) stageRetrieve(ctx context.Context, sink events.Sink, st *State) (datatypes.StreamEvent, bool) {
	return p.node(ctx, sink, st, datatypes.NodeRetrieve, func(ctx context.Context) (map[string]any, error) {
		docs, warnings, err := p.retriever.Search(ctx, st.SearchQuery, st.Filters, st.TopK, st.Language)
		if err != nil {
			return nil, err
		}
		for _, code := range warnings {
			p.warn(ctx, sink, st, code, warningMessage(code), datatypes.NodeRetrieve)
		}
		st.Documents = docs
		st.Meta.DocumentsRetrieved = len(docs)
		p.metrics.DocumentsRetrieved.Observe(float64(len(docs)))
		return map[string]any{"documents": len(docs), "query": st.SearchQuery}, nil
	})
}

func (p *Pipeline) stageRerank(ctx context.Context, sink events.Sink, st *State) (datatypes.StreamEvent, bool) {
	return p.node(ctx, sink, st, datatypes.NodeRerank, func(ctx context.Context) (map[string]any, error) {
		if p.reranker == nil {
			st.Documents = reranker.Passthrough(st.Documents, p.cfg.RerankTopK)
			return map[string]any{"documents": len(st.Documents), "reranked": false}, nil
		}
		texts := make([]string, len(st.Documents))
		for i := range st.Documents {
			texts[i] = st.Documents[i].Text
		}
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.RerankTimeout)
		defer cancel()
		results, err := p.reranker.Rerank(callCtx, st.SearchQuery, texts, p.cfg.RerankTopK)
		if err != nil {
			p.logger.Warn("Reranker unavailable, falling back to retrieval order",
				"thread_id", st.ThreadID, "error", err)
			p.warn(ctx, sink, st, datatypes.WarnRerankerFallback,
				"reranker unavailable, using retrieval order", datatypes.NodeRerank)
			st.Documents = reranker.Passthrough(st.Documents, p.cfg.RerankTopK)
			return map[string]any{"documents": len(st.Documents), "reranked": false}, nil
		}
		st.Documents = reranker.Apply(st.Documents, results, p.cfg.RerankTopK)
		return map[string]any{"documents": len(st.Documents), "reranked": true}, nil
	})
}

func (p *Pipeline) stageGrade(ctx context.Context, sink events.Sink, st *State) (bool, datatypes.StreamEvent, bool) {
	terminal, stop := p.node(ctx, sink, st, datatypes.NodeGrade, func(ctx context.Context) (map[string]any, error) {
		kept, warnings, err := p.gradeDocuments(ctx, st)
		if err != nil {
			return nil, err
		}
		for _, code := range warnings {
			p.warn(ctx, sink, st, code, warningMessage(code), datatypes.NodeGrade)
		}
		st.Kept = kept
		p.metrics.DocumentsKept.Observe(float64(len(kept)))
		return map[string]any{"graded": len(st.Documents), "kept": len(kept)}, nil
	})
	if stop {
		return false, terminal, true
	}
	return len(st.Kept) > 0, datatypes.StreamEvent{}, false
}

func (p *Pipeline) stageRewrite(ctx context.Context, sink events.Sink, st *State) (datatypes.StreamEvent, bool) {
	return p.node(ctx, sink, st, datatypes.NodeRewriteQuery, func(ctx context.Context) (map[string]any, error) {
		before := st.SearchQuery
		if err := p.rewriteQuery(ctx, st); err != nil {
			return nil, err
		}
		return map[string]any{
			"retry":   st.RetryCount,
			"changed": st.SearchQuery != before,
			"query":   st.SearchQuery,
		}, nil
	})
}

func (p *Pipeline) stageGenerate(ctx context.Context, sink events.Sink, st *State) (datatypes.StreamEvent, bool) {
	return p.node(ctx, sink, st, datatypes.NodeGenerate, func(ctx context.Context) (map[string]any, error) {
		if err := p.generateAnswer(ctx, st); err != nil {
			return nil, err
		}
		return map[string]any{
			"answer_length":      len([]rune(st.Answer)),
			"documents_included": st.Meta.DocumentsIncluded,
		}, nil
	})
}

// ===== plumbing =====

// node wraps one stage with node_start/node_end events, tracing and the
// duration metric. A stage error short-circuits into the terminal error
// event; the second return reports that the caller must stop.
func (p *Pipeline) node(ctx context.Context, sink events.Sink, st *State, name string, fn func(ctx context.Context) (map[string]any, error)) (datatypes.StreamEvent, bool) {
	if terminal, stop := p.cancelled(ctx, sink, st); stop {
		return terminal, true
	}
	ctx, span := agentTracer.Start(ctx, "node."+name)
	defer span.End()

	p.emit(ctx, sink, datatypes.NewNodeEvent(datatypes.EventNodeStart, name, nil))
	started := time.Now()
	data, err := fn(ctx)
	elapsed := time.Since(started)
	p.metrics.NodeDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	p.logger.Info("Pipeline node finished",
		"node", name,
		"thread_id", st.ThreadID,
		"latency_ms", elapsed.Milliseconds(),
		"failed", err != nil,
	)
	if err != nil {
		return p.fail(ctx, sink, st, err), true
	}
	p.emit(ctx, sink, datatypes.NewNodeEvent(datatypes.EventNodeEnd, name, data))
	return datatypes.StreamEvent{}, false
}

// fail emits the terminal error event for err.
func (p *Pipeline) fail(ctx context.Context, sink events.Sink, st *State, err error) datatypes.StreamEvent {
	category := datatypes.CategoryOf(err)
	message := datatypes.ClientMessage(err)
	p.logger.Error("Pipeline request failed",
		"thread_id", st.ThreadID, "category", category, "error", err)
	event := datatypes.NewErrorEvent(category, message)
	if reason := datatypes.ReasonOf(err); reason != "" {
		event.Data["reason"] = reason
	}
	if st.ThreadID != "" {
		event.Data["thread_id"] = st.ThreadID
	}
	p.emit(ctx, sink, event)
	return event
}

// cancelled turns context cancellation into the terminal cancelled
// event. The session is never mutated on this path.
func (p *Pipeline) cancelled(ctx context.Context, sink events.Sink, st *State) (datatypes.StreamEvent, bool) {
	if ctx.Err() == nil {
		return datatypes.StreamEvent{}, false
	}
	return p.fail(ctx, sink, st, ctx.Err()), true
}

func (p *Pipeline) warn(ctx context.Context, sink events.Sink, st *State, code, message, node string) {
	st.Meta.AddWarning(code)
	p.metrics.WarningsTotal.WithLabelValues(code).Inc()
	p.emit(ctx, sink, datatypes.NewWarningEvent(code, message, node))
}

// emit delivers an event best-effort; a broken sink must not abort the
// pipeline mid-flight.
func (p *Pipeline) emit(ctx context.Context, sink events.Sink, event datatypes.StreamEvent) {
	if sink == nil {
		return
	}
	if err := sink.Emit(ctx, event); err != nil {
		p.logger.Warn("Event sink rejected event",
			"event_type", event.EventType, "error", err)
	}
}

func (p *Pipeline) countTokens(completion *llm.Completion) {
	if completion == nil {
		return
	}
	model := p.llm.Model()
	if completion.InputTokens > 0 {
		p.metrics.TokensTotal.WithLabelValues("input", model).Add(float64(completion.InputTokens))
	}
	if completion.OutputTokens > 0 {
		p.metrics.TokensTotal.WithLabelValues("output", model).Add(float64(completion.OutputTokens))
	}
}

// answerCanned finishes a conversational exchange from the response
// table, still recording the turn so history stays a strict user and
// assistant alternation.
func (p *Pipeline) answerCanned(ctx context.Context, sink events.Sink, st *State, intent Intent) datatypes.StreamEvent {
	st.Answer = CannedResponse(intent, st.Language)
	budget := tokenizer.BudgetFor(p.llm.Model())
	st.Meta.ModelName = p.llm.Model()
	st.Meta.ContextWindow = budget.Window
	st.Meta.TokensReserved = budget.Reserve
	st.Meta.ValidationPassed = true
	st.Sources = []datatypes.SourceInfo{}

	if err := p.persistTurn(ctx, st); err != nil {
		return p.fail(ctx, sink, st, err)
	}
	terminal := datatypes.NewEvent(datatypes.EventGeneration, generationData(st))
	p.emit(ctx, sink, terminal)
	return terminal
}

func (p *Pipeline) persistTurn(ctx context.Context, st *State) error {
	_, err := session.AppendTurn(ctx, p.store, st.ThreadID,
		datatypes.NewMessage(datatypes.RoleUser, st.OriginalQuery),
		datatypes.NewMessage(datatypes.RoleAssistant, st.Answer),
		st.Language, st.RetryCount, &st.Meta)
	return err
}

func warningMessage(code string) string {
	switch code {
	case datatypes.WarnPIIMasked:
		return "personally identifiable information was masked in the query"
	case datatypes.WarnMaliciousPattern:
		return "query contains patterns resembling injection payloads"
	case datatypes.WarnLexicalIndexMissing:
		return "keyword search unavailable, using semantic search only"
	case datatypes.WarnRerankerFallback:
		return "reranker unavailable, using retrieval order"
	case datatypes.WarnGraderParseFailure:
		return "relevance grader output unparseable, keeping all documents"
	case datatypes.WarnLowRelevanceFallback:
		return "no documents passed relevance grading"
	default:
		return code
	}
}
