package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/revq/revq/internal/router"
	"github.com/revq/revq/internal/storage"
	"github.com/revq/revq/internal/tools"
)

// --- mocks ---

type mockAccess struct {
	visible []string
	err     error
}

func (m *mockAccess) VisibleCategories(storage.User) ([]string, error) {
	return m.visible, m.err
}

type mockRouter struct {
	decision router.Decision
	gotHist  []router.Message
}

func (m *mockRouter) Route(_ context.Context, _ string, history []router.Message, _ []string) router.Decision {
	m.gotHist = history
	return m.decision
}

type mockValidator struct {
	call tools.Call
	rej  *tools.Rejection
}

func (m *mockValidator) Validate(router.Decision, storage.User) (tools.Call, *tools.Rejection) {
	return m.call, m.rej
}

type mockFallback struct {
	call     tools.Call
	lastGood *tools.Call
	called   bool
}

func (m *mockFallback) Resolve(rej tools.Rejection, _ router.Decision, _ storage.User, lastGood *tools.Call) tools.Call {
	m.called = true
	m.lastGood = lastGood
	c := m.call
	c.IsFallback = true
	c.Reason = rej.Reason
	return c
}

type mockExecutor struct {
	result tools.Result
	err    error
	got    tools.Call
}

func (m *mockExecutor) Execute(_ context.Context, call tools.Call, _ storage.User) (tools.Result, error) {
	m.got = call
	return m.result, m.err
}

type mockAnswerer struct{}

func (mockAnswerer) Write(_ context.Context, _ string, _ tools.Call, _ tools.Result, _ []router.Message) string {
	return "the answer"
}

type mockRecorder struct {
	traces []storage.Trace
	err    error
}

func (m *mockRecorder) Record(t storage.Trace) error {
	m.traces = append(m.traces, t)
	return m.err
}

type mockConvs struct {
	turns    []storage.Turn
	lastCall string
	touched  int
}

func (m *mockConvs) GetOrCreateConversation(userID int64, id string) (storage.Conversation, error) {
	if id == "" {
		id = "conv-new"
	}
	return storage.Conversation{ID: id, UserID: userID}, nil
}

func (m *mockConvs) TouchConversation(string) error {
	m.touched++
	return nil
}

func (m *mockConvs) ConversationTurns(string, int64, int) ([]storage.Turn, error) {
	return m.turns, nil
}

func (m *mockConvs) LastValidatedCall(string) (string, error) {
	if m.lastCall == "" {
		return "", storage.ErrNotFound
	}
	return m.lastCall, nil
}

type deps struct {
	access    *mockAccess
	router    *mockRouter
	validator *mockValidator
	fallback  *mockFallback
	executor  *mockExecutor
	recorder  *mockRecorder
	convs     *mockConvs
}

func newTestPipeline() (*Pipeline, *deps) {
	d := &deps{
		access:    &mockAccess{visible: []string{"electronics"}},
		router:    &mockRouter{},
		validator: &mockValidator{},
		fallback:  &mockFallback{},
		executor:  &mockExecutor{},
		recorder:  &mockRecorder{},
		convs:     &mockConvs{},
	}
	p := New(d.access, d.router, d.validator, d.fallback, d.executor, mockAnswerer{}, d.recorder, d.convs, 6)
	return p, d
}

// --- tests ---

func TestProcessValidatedTurn(t *testing.T) {
	p, d := newTestPipeline()
	d.router.decision = router.Decision{Tool: tools.ToolTopCategories, Args: map[string]any{"top_n": 5.0}, Confidence: 0.9}
	d.validator.call = tools.Call{Tool: tools.ToolTopCategories, Args: tools.Args{TopN: 5, Metric: "review_count"}}
	d.executor.result = tools.Result{Kind: tools.KindTopCategories}

	reply, err := p.Process(context.Background(), storage.User{ID: 1}, "", "top 5 categories")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply.ConversationID != "conv-new" || reply.TurnID == "" {
		t.Errorf("reply ids = %+v", reply)
	}
	if reply.Answer != "the answer" || reply.IsFallback {
		t.Errorf("reply = %+v", reply)
	}
	if d.fallback.called {
		t.Error("fallback consulted on a validated turn")
	}

	if len(d.recorder.traces) != 1 {
		t.Fatalf("recorded %d traces", len(d.recorder.traces))
	}
	tr := d.recorder.traces[0]
	if tr.Verdict != VerdictValidated || tr.IsFallback || tr.RejectionReason != "" {
		t.Errorf("trace = %+v", tr)
	}
	if tr.ID != reply.TurnID {
		t.Errorf("trace id %q != reply turn id %q", tr.ID, reply.TurnID)
	}
	if d.convs.touched != 1 {
		t.Errorf("conversation touched %d times", d.convs.touched)
	}
}

func TestProcessRejectedTurnFallsBack(t *testing.T) {
	p, d := newTestPipeline()
	d.router.decision = router.Decision{Tool: "nonsense", Args: map[string]any{}}
	d.validator.rej = &tools.Rejection{Reason: tools.ReasonUnsupportedTool, Detail: "nonsense"}
	d.fallback.call = tools.Call{Tool: tools.ToolGeneralQuery, Args: tools.Args{QueryType: tools.QuerySummaryStats}}
	d.executor.result = tools.Result{Kind: tools.KindGeneral}
	d.convs.lastCall = `{"tool":"metrics_top_categories","args":{"top_n":5}}`

	reply, err := p.Process(context.Background(), storage.User{ID: 1}, "c7", "do something weird")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !reply.IsFallback || reply.RejectionReason != tools.ReasonUnsupportedTool {
		t.Errorf("reply = %+v", reply)
	}
	if !d.fallback.called {
		t.Fatal("fallback not consulted")
	}
	if d.fallback.lastGood == nil || d.fallback.lastGood.Tool != tools.ToolTopCategories {
		t.Errorf("lastGood = %+v, want the prior validated call", d.fallback.lastGood)
	}
	if !d.executor.got.IsFallback {
		t.Error("executed call not marked as fallback")
	}

	tr := d.recorder.traces[0]
	if tr.Verdict != VerdictRejected || !tr.IsFallback {
		t.Errorf("trace = %+v", tr)
	}
	if tr.RejectionReason != string(tools.ReasonUnsupportedTool) {
		t.Errorf("trace rejection = %q", tr.RejectionReason)
	}
	// The rejection detail lands in the decision record for auditing.
	if !strings.Contains(tr.DecisionJSON, `"rejection"`) {
		t.Errorf("decision json = %s", tr.DecisionJSON)
	}
}

func TestProcessDataSourceFailureAbortsTurn(t *testing.T) {
	p, d := newTestPipeline()
	d.router.decision = router.Decision{Tool: tools.ToolTopCategories, Args: map[string]any{}}
	d.validator.call = tools.Call{Tool: tools.ToolTopCategories}
	d.executor.err = tools.ErrDataSource

	_, err := p.Process(context.Background(), storage.User{ID: 1}, "", "top categories")
	if !errors.Is(err, ErrTurnFailed) {
		t.Fatalf("err = %v, want opaque ErrTurnFailed", err)
	}
	if d.fallback.called {
		t.Error("fallback ran after a data source failure")
	}

	// The failure is still traced, with the verbatim cause.
	if len(d.recorder.traces) != 1 {
		t.Fatalf("recorded %d traces", len(d.recorder.traces))
	}
	tr := d.recorder.traces[0]
	if tr.Verdict != VerdictFailed {
		t.Errorf("trace verdict = %q", tr.Verdict)
	}
	if !strings.Contains(tr.ResultJSON, "data source error") {
		t.Errorf("trace result = %s", tr.ResultJSON)
	}
}

func TestProcessAccessResolutionFailure(t *testing.T) {
	p, d := newTestPipeline()
	d.access.err = errors.New("db gone")

	_, err := p.Process(context.Background(), storage.User{ID: 1}, "", "anything")
	if !errors.Is(err, ErrTurnFailed) {
		t.Fatalf("err = %v, want ErrTurnFailed", err)
	}
	if len(d.recorder.traces) != 1 || d.recorder.traces[0].Verdict != VerdictFailed {
		t.Errorf("traces = %+v", d.recorder.traces)
	}
	// The raw cause never surfaces to the caller.
	if strings.Contains(err.Error(), "db gone") {
		t.Errorf("cause leaked: %v", err)
	}
}

func TestProcessHistoryWindow(t *testing.T) {
	p, d := newTestPipeline()
	d.router.decision = router.Decision{Tool: tools.ToolGeneralQuery, Args: map[string]any{}}
	d.validator.call = tools.Call{Tool: tools.ToolGeneralQuery, Args: tools.Args{QueryType: tools.QuerySummaryStats}}
	d.executor.result = tools.Result{Kind: tools.KindGeneral}
	d.convs.turns = []storage.Turn{
		{Query: "q1", Answer: "a1"},
		{Query: "q2", Answer: "a2"},
		{Query: "q3", Answer: "a3"},
		{Query: "q4", Answer: "a4"},
	}

	if _, err := p.Process(context.Background(), storage.User{ID: 1}, "c1", "next question"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(d.router.gotHist) != 6 {
		t.Fatalf("history length = %d, want capped at window", len(d.router.gotHist))
	}
	// The window keeps the newest turns.
	if d.router.gotHist[0].Content != "q2" {
		t.Errorf("history starts at %q, want q2", d.router.gotHist[0].Content)
	}
	if last := d.router.gotHist[5]; last.Role != "assistant" || last.Content != "a4" {
		t.Errorf("history ends at %+v", last)
	}
}

func TestProcessNoLastGoodCall(t *testing.T) {
	p, d := newTestPipeline()
	d.router.decision = router.Decision{Tool: "junk", Args: map[string]any{}}
	d.validator.rej = &tools.Rejection{Reason: tools.ReasonUnsupportedTool}
	d.fallback.call = tools.Call{Tool: tools.ToolGeneralQuery}
	d.executor.result = tools.Result{Kind: tools.KindGeneral}

	if _, err := p.Process(context.Background(), storage.User{ID: 1}, "", "junk"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if d.fallback.lastGood != nil {
		t.Errorf("lastGood = %+v, want nil for a fresh conversation", d.fallback.lastGood)
	}
}
