package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mfiorillo/faqbot/internal/exchange"
	"github.com/mfiorillo/faqbot/internal/generation"
	"github.com/mfiorillo/faqbot/internal/observability"
	"github.com/mfiorillo/faqbot/internal/resource"
)

// Stage names the step of the pipeline a request was in when it failed.
type Stage string

const (
	StageRefining   Stage = "refining"
	StageAnswering  Stage = "answering"
	StagePersisting Stage = "persisting"
)

// StageError tags a pipeline failure with the stage it happened in. The
// underlying cause is preserved for errors.Is/As.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("chat request failed during %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ErrEmptyQuery rejects requests with a blank user query before any stage runs.
var ErrEmptyQuery = errors.New("user query must not be empty")

// Request is one inbound chat request. History is ordered oldest first.
// ConversationID is optional; a fresh correlation token is generated when the
// caller supplies none.
type Request struct {
	UserQuery      string
	History        []generation.Turn
	ConversationID string
}

// Result is the outcome of a completed chat request.
type Result struct {
	Answer         string `json:"answer"`
	RefinedQuery   string `json:"refined_query"`
	OriginalQuery  string `json:"original_query"`
	ConversationID string `json:"conversation_id"`
}

// Fetcher resolves named resources. Satisfied by *resource.Client.
type Fetcher interface {
	Fetch(ctx context.Context, h resource.Handle) (resource.Result, error)
}

// Generator runs the two model-backed operations. Satisfied by
// *generation.Service.
type Generator interface {
	RefineQuery(ctx context.Context, userQuery string, history []generation.Turn, template string) (string, error)
	GenerateAnswer(ctx context.Context, refinedQuery, faqContent, template string) (string, error)
}

// Publisher receives committed exchange records, e.g. the live feed hub.
type Publisher interface {
	Publish(record exchange.Record)
}

// Orchestrator sequences one chat request through refining, answering and
// persisting. It holds no per-request state and performs no retries: each
// request is single-attempt end-to-end, and any failure surfaces as a
// *StageError with no record persisted.
type Orchestrator struct {
	resources Fetcher
	generator Generator
	store     exchange.Store
	metrics   *observability.Metrics
	feed      Publisher
}

func NewOrchestrator(resources Fetcher, generator Generator, store exchange.Store, metrics *observability.Metrics, feed Publisher) *Orchestrator {
	return &Orchestrator{
		resources: resources,
		generator: generator,
		store:     store,
		metrics:   metrics,
		feed:      feed,
	}
}

// Respond runs the full pipeline for one request. The exchange record is
// written only after both generation stages succeed; a persistence failure
// leaves no partial record behind.
func (o *Orchestrator) Respond(ctx context.Context, req Request) (Result, error) {
	if req.UserQuery == "" {
		return Result{}, ErrEmptyQuery
	}

	refined, err := o.runStage(StageRefining, func() (string, error) {
		return o.RefineQuery(ctx, req.UserQuery, req.History)
	})
	if err != nil {
		return Result{}, err
	}

	answer, err := o.runStage(StageAnswering, func() (string, error) {
		return o.GenerateAnswer(ctx, refined)
	})
	if err != nil {
		return Result{}, err
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	started := time.Now()
	record, err := o.store.Append(ctx, exchange.Record{
		UserQuery:      req.UserQuery,
		RefinedQuery:   refined,
		Answer:         answer,
		ConversationID: conversationID,
	})
	if err != nil {
		o.observeStage(StagePersisting, started, false)
		return Result{}, &StageError{Stage: StagePersisting, Err: err}
	}
	o.observeStage(StagePersisting, started, true)

	if o.metrics != nil {
		o.metrics.ExchangesLogged.Inc()
		o.metrics.ChatRequests.WithLabelValues("complete").Inc()
	}
	if o.feed != nil {
		o.feed.Publish(record)
	}

	log.Debug().
		Int64("exchange_id", record.ID).
		Str("conversation_id", conversationID).
		Msg("chat request complete")

	return Result{
		Answer:         answer,
		RefinedQuery:   refined,
		OriginalQuery:  req.UserQuery,
		ConversationID: conversationID,
	}, nil
}

// RefineQuery is the standalone refine-only entry point. Respond's refining
// stage goes through exactly this path.
func (o *Orchestrator) RefineQuery(ctx context.Context, userQuery string, history []generation.Turn) (string, error) {
	if userQuery == "" {
		return "", ErrEmptyQuery
	}

	template, err := o.resources.Fetch(ctx, resource.QueryPrompt)
	if err != nil {
		return "", err
	}
	return o.generator.RefineQuery(ctx, userQuery, history, template.Content)
}

// GenerateAnswer is the standalone answer-only entry point. Respond's
// answering stage goes through exactly this path.
func (o *Orchestrator) GenerateAnswer(ctx context.Context, refinedQuery string) (string, error) {
	if refinedQuery == "" {
		return "", ErrEmptyQuery
	}

	faq, err := o.resources.Fetch(ctx, resource.FAQ)
	if err != nil {
		return "", err
	}
	template, err := o.resources.Fetch(ctx, resource.AnswerPrompt)
	if err != nil {
		return "", err
	}
	return o.generator.GenerateAnswer(ctx, refinedQuery, faq.Content, template.Content)
}

// runStage wraps a generation stage with latency observation and stage
// tagging.
func (o *Orchestrator) runStage(stage Stage, fn func() (string, error)) (string, error) {
	started := time.Now()
	out, err := fn()
	if err != nil {
		o.observeStage(stage, started, false)
		return "", &StageError{Stage: stage, Err: err}
	}
	o.observeStage(stage, started, true)
	return out, nil
}

func (o *Orchestrator) observeStage(stage Stage, started time.Time, ok bool) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveStageLatency(string(stage), time.Since(started))
	if !ok {
		o.metrics.ChatRequests.WithLabelValues("failed_" + string(stage)).Inc()
	}
}
