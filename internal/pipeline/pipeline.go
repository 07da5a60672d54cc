// Package pipeline orchestrates one turn: Route, Validate, Fallback (only
// on rejection), Execute, Record. The stages run strictly in order; a turn
// either fully executes or fully rejects, and the trace is written either
// way.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/revq/revq/internal/router"
	"github.com/revq/revq/internal/storage"
	"github.com/revq/revq/internal/tools"
)

// ErrTurnFailed is the opaque error surfaced to the user when the data
// source fails mid-turn. The verbatim cause goes to the trace only.
var ErrTurnFailed = errors.New("the request could not be completed")

// Verdicts recorded in the trace.
const (
	VerdictValidated = "validated"
	VerdictRejected  = "rejected"
	VerdictFailed    = "failed"
)

type Router interface {
	Route(ctx context.Context, utterance string, history []router.Message, visibleCategories []string) router.Decision
}

type Validator interface {
	Validate(decision router.Decision, user storage.User) (tools.Call, *tools.Rejection)
}

type Fallback interface {
	Resolve(rej tools.Rejection, decision router.Decision, user storage.User, lastGood *tools.Call) tools.Call
}

type Executor interface {
	Execute(ctx context.Context, call tools.Call, user storage.User) (tools.Result, error)
}

type Answerer interface {
	Write(ctx context.Context, utterance string, call tools.Call, result tools.Result, history []router.Message) string
}

type Recorder interface {
	Record(t storage.Trace) error
}

// AccessReader resolves the caller's visible categories for routing context.
type AccessReader interface {
	VisibleCategories(user storage.User) ([]string, error)
}

// ConversationStore is the slice of the storage layer holding conversations
// and their history.
type ConversationStore interface {
	GetOrCreateConversation(userID int64, id string) (storage.Conversation, error)
	TouchConversation(id string) error
	ConversationTurns(conversationID string, userID int64, limit int) ([]storage.Turn, error)
	LastValidatedCall(conversationID string) (string, error)
}

// Reply is what one processed turn hands back to the caller.
type Reply struct {
	ConversationID  string       `json:"conversation_id"`
	TurnID          string       `json:"turn_id"`
	Answer          string       `json:"answer"`
	Result          tools.Result `json:"result"`
	IsFallback      bool         `json:"is_fallback"`
	RejectionReason tools.Reason `json:"rejection_reason,omitempty"`
}

type Pipeline struct {
	access        AccessReader
	router        Router
	validator     Validator
	fallback      Fallback
	executor      Executor
	answerer      Answerer
	recorder      Recorder
	convs         ConversationStore
	historyWindow int
}

func New(
	access AccessReader,
	r Router,
	v Validator,
	f Fallback,
	e Executor,
	a Answerer,
	rec Recorder,
	convs ConversationStore,
	historyWindow int,
) *Pipeline {
	if historyWindow <= 0 {
		historyWindow = 6
	}
	return &Pipeline{
		access:        access,
		router:        r,
		validator:     v,
		fallback:      f,
		executor:      e,
		answerer:      a,
		recorder:      rec,
		convs:         convs,
		historyWindow: historyWindow,
	}
}

// Process runs one turn for the user. conversationID may be empty, in which
// case a fresh conversation is started. An explicit conversation id keeps
// the core free of session-global state; one-conversation-per-session is a
// caller policy.
func (p *Pipeline) Process(ctx context.Context, user storage.User, conversationID, utterance string) (Reply, error) {
	conv, err := p.convs.GetOrCreateConversation(user.ID, conversationID)
	if err != nil {
		return Reply{}, fmt.Errorf("resolving conversation: %w", err)
	}

	history, err := p.history(conv.ID, user.ID)
	if err != nil {
		slog.Warn("loading conversation history failed, routing without context", "error", err)
		history = nil
	}

	visible, err := p.access.VisibleCategories(user)
	if err != nil {
		return Reply{}, p.recordFailure(conv.ID, user, utterance, nil, fmt.Errorf("resolving visible categories: %w", err))
	}

	decision := p.router.Route(ctx, utterance, history, visible)

	call, rejection := p.validator.Validate(decision, user)
	verdict := VerdictValidated
	if rejection != nil {
		verdict = VerdictRejected
		call = p.fallback.Resolve(*rejection, decision, user, p.lastGoodCall(conv.ID))
	}

	result, err := p.executor.Execute(ctx, call, user)
	if err != nil {
		return Reply{}, p.recordFailure(conv.ID, user, utterance, &decision, err)
	}

	answerText := p.answerer.Write(ctx, utterance, call, result, history)

	trace := storage.Trace{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		UserID:         user.ID,
		UserQuery:      utterance,
		DecisionJSON:   marshal(decision),
		Verdict:        verdict,
		CallJSON:       marshal(call),
		ResultJSON:     marshal(resultSummary(result)),
		Answer:         answerText,
		IsFallback:     call.IsFallback,
		CreatedAt:      time.Now().UTC(),
	}
	if rejection != nil {
		trace.RejectionReason = string(rejection.Reason)
		// Retain rejection detail (offending category) in the decision
		// record; it never reaches the user-facing reply.
		trace.DecisionJSON = marshal(struct {
			Decision  router.Decision `json:"decision"`
			Rejection tools.Rejection `json:"rejection"`
		}{decision, *rejection})
	}
	if err := p.recorder.Record(trace); err != nil {
		return Reply{}, fmt.Errorf("recording turn: %w", err)
	}
	if err := p.convs.TouchConversation(conv.ID); err != nil {
		slog.Warn("touching conversation failed", "conversation", conv.ID, "error", err)
	}

	reply := Reply{
		ConversationID: conv.ID,
		TurnID:         trace.ID,
		Answer:         answerText,
		Result:         result,
		IsFallback:     call.IsFallback,
	}
	if rejection != nil {
		reply.RejectionReason = rejection.Reason
	}
	return reply, nil
}

// history converts stored turns into router messages, user and assistant
// alternating, bounded by the history window.
func (p *Pipeline) history(conversationID string, userID int64) ([]router.Message, error) {
	turns, err := p.convs.ConversationTurns(conversationID, userID, p.historyWindow/2+1)
	if err != nil {
		return nil, err
	}
	var messages []router.Message
	for _, t := range turns {
		messages = append(messages,
			router.Message{Role: "user", Content: t.Query},
			router.Message{Role: "assistant", Content: t.Answer},
		)
	}
	if len(messages) > p.historyWindow {
		messages = messages[len(messages)-p.historyWindow:]
	}
	return messages, nil
}

func (p *Pipeline) lastGoodCall(conversationID string) *tools.Call {
	raw, err := p.convs.LastValidatedCall(conversationID)
	if err != nil {
		return nil
	}
	var call tools.Call
	if err := json.Unmarshal([]byte(raw), &call); err != nil {
		return nil
	}
	return &call
}

// recordFailure writes the failed-turn trace with the verbatim cause and
// returns the opaque user-facing error.
func (p *Pipeline) recordFailure(conversationID string, user storage.User, utterance string, decision *router.Decision, cause error) error {
	slog.Error("turn failed", "conversation", conversationID, "user", user.ID, "error", cause)
	t := storage.Trace{
		ConversationID: conversationID,
		UserID:         user.ID,
		UserQuery:      utterance,
		Verdict:        VerdictFailed,
		ResultJSON:     marshal(map[string]string{"error": cause.Error()}),
		CreatedAt:      time.Now().UTC(),
	}
	if decision != nil {
		t.DecisionJSON = marshal(*decision)
	}
	if err := p.recorder.Record(t); err != nil {
		slog.Error("recording failed turn", "error", err)
	}
	return ErrTurnFailed
}

// resultSummary compacts a result for the audit row: counts instead of full
// payloads keep trace rows small while preserving what was answered.
func resultSummary(r tools.Result) map[string]any {
	summary := map[string]any{"kind": r.Kind}
	if r.Category != "" {
		summary["category"] = r.Category
	}
	switch {
	case len(r.Categories) > 0:
		summary["rows"] = len(r.Categories)
	case len(r.Distribution) > 0:
		summary["buckets"] = len(r.Distribution)
	case r.Sentiment != nil:
		summary["analyzed"] = r.Sentiment.AnalyzedCount
	case r.General != nil:
		summary["query_type"] = r.General.QueryType
	}
	return summary
}

func marshal(v any) string {
	payload, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(payload)
}
