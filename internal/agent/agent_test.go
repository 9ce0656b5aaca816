package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/llm"
)

// scriptedProvider returns canned responses in order and records requests.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llm.CompletionResponse
	requests  []llm.CompletionRequest
}

func (p *scriptedProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) ModelID() string { return "scripted" }

type fakeTools struct {
	gated    map[string]bool
	outputs  map[string]string
	failures map[string]error
	executed []string
}

func (f *fakeTools) Schemas(names ...string) []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(names))
	for _, n := range names {
		out = append(out, llm.ToolSchema{Name: n, InputSchema: json.RawMessage(`{"type":"object"}`)})
	}
	return out
}

func (f *fakeTools) NeedsApproval(name string, _ json.RawMessage) bool { return f.gated[name] }

func (f *fakeTools) Execute(_ context.Context, name string, _ json.RawMessage) (string, error) {
	f.executed = append(f.executed, name)
	if err := f.failures[name]; err != nil {
		return "", err
	}
	if out, ok := f.outputs[name]; ok {
		return out, nil
	}
	return `{"success":true}`, nil
}

func testDefs() Definitions {
	return Definitions{
		Entry: "Triage",
		Agents: []Definition{
			{Name: "Triage", Instructions: "route", Handoffs: []string{"Planner"}},
			{Name: "Planner", Instructions: "plan", Tools: []string{"search_projects", "create_project"}},
		},
	}
}

func toolUse(id, name, input string) llm.ToolUse {
	return llm.ToolUse{ID: id, Name: name, Input: json.RawMessage(input)}
}

func newTestEngine(p llm.Provider, tools Tools) *Engine {
	e := NewEngine(p, tools, testDefs(), 0, zerolog.Nop())
	e.newID = func() string { return "run-1" }
	return e
}

func collect(events *[]Event) func(Event) {
	return func(ev Event) { *events = append(*events, ev) }
}

func TestRun_PlainAnswer(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.CompletionResponse{
		{Text: "Hello, what would you like to plan?", StopReason: llm.StopReasonEndTurn},
	}}
	e := newTestEngine(p, &fakeTools{})

	var events []Event
	res, err := e.Run(context.Background(), Input{Message: "hi"}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "Hello, what would you like to plan?", res.FinalOutput)
	assert.Equal(t, "Triage", res.FinalAgent)
	assert.Empty(t, res.Interruptions)
	assert.Empty(t, res.State)
	require.Len(t, events, 1)
	assert.Equal(t, EventText, events[0].Type)

	require.Len(t, p.requests, 1)
	assert.Equal(t, "route", p.requests[0].SystemPrompt)
	require.Len(t, p.requests[0].Tools, 1)
	assert.Equal(t, "transfer_to_planner", p.requests[0].Tools[0].Name)
}

func TestRun_EmptyMessage(t *testing.T) {
	e := newTestEngine(&scriptedProvider{}, &fakeTools{})
	_, err := e.Run(context.Background(), Input{Message: "  "}, nil)
	assert.ErrorIs(t, err, terrors.ErrInvalidInput)
}

func TestRun_HandoffAndToolCall(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.CompletionResponse{
		{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{toolUse("h1", "transfer_to_planner", `{}`)}},
		{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{toolUse("t1", "search_projects", `{"query":"auth"}`)}},
		{Text: "No duplicates found.", StopReason: llm.StopReasonEndTurn},
	}}
	tools := &fakeTools{outputs: map[string]string{"search_projects": `[]`}}
	e := newTestEngine(p, tools)

	var events []Event
	res, err := e.Run(context.Background(), Input{Message: "plan auth"}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, "Planner", res.FinalAgent)
	assert.Equal(t, "No duplicates found.", res.FinalOutput)
	assert.Equal(t, []string{"search_projects"}, tools.executed)

	require.Len(t, p.requests, 3)
	assert.Equal(t, "plan", p.requests[1].SystemPrompt)
	assert.Len(t, p.requests[1].Tools, 2)

	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{EventHandoff, EventToolCall, EventToolResult, EventText}, types)
	assert.Equal(t, "Planner", events[0].Agent)
	assert.Equal(t, "[]", events[2].Output)
}

func TestRun_ToolNotAvailableToAgent(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.CompletionResponse{
		{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{toolUse("t1", "create_project", `{}`)}},
		{Text: "ok", StopReason: llm.StopReasonEndTurn},
	}}
	tools := &fakeTools{}
	e := newTestEngine(p, tools)

	_, err := e.Run(context.Background(), Input{Message: "x"}, nil)
	require.NoError(t, err)
	assert.Empty(t, tools.executed)

	last := p.requests[1].Messages[len(p.requests[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
	assert.Contains(t, last.ToolResults[0].Content, "not available to Triage")
}

func TestRun_ToolErrorReturnedToModel(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.CompletionResponse{
		{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{toolUse("h1", "transfer_to_planner", `{}`)}},
		{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{toolUse("t1", "search_projects", `{}`)}},
		{Text: "The tracker is down.", StopReason: llm.StopReasonEndTurn},
	}}
	tools := &fakeTools{failures: map[string]error{"search_projects": errors.New("linear unavailable")}}
	e := newTestEngine(p, tools)

	res, err := e.Run(context.Background(), Input{Message: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "The tracker is down.", res.FinalOutput)

	last := p.requests[2].Messages[len(p.requests[2].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
	assert.JSONEq(t, `{"success":false,"error":"linear unavailable"}`, last.ToolResults[0].Content)
}

func pausedRun(t *testing.T, p *scriptedProvider, tools *fakeTools) (*Engine, *Result) {
	t.Helper()
	p.responses = append(p.responses,
		&llm.CompletionResponse{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{toolUse("h1", "transfer_to_planner", `{}`)}},
		&llm.CompletionResponse{
			Text:       "I'll create it.",
			StopReason: llm.StopReasonToolUse,
			ToolUses: []llm.ToolUse{
				toolUse("t1", "search_projects", `{"query":"auth"}`),
				toolUse("t2", "create_project", `{"name":"Auth"}`),
			},
		},
	)
	e := newTestEngine(p, tools)
	res, err := e.Run(context.Background(), Input{Message: "create auth project"}, nil)
	require.NoError(t, err)
	return e, res
}

func TestRun_PausesForApproval(t *testing.T) {
	p := &scriptedProvider{}
	tools := &fakeTools{gated: map[string]bool{"create_project": true}}
	_, res := pausedRun(t, p, tools)

	require.Len(t, res.Interruptions, 1)
	in := res.Interruptions[0]
	assert.Equal(t, "t2", in.ID)
	assert.Equal(t, "create_project", in.Tool)
	assert.Equal(t, "Planner", in.Agent)
	assert.JSONEq(t, `{"name":"Auth"}`, string(in.Arguments))
	assert.NotEmpty(t, res.State)
	assert.Equal(t, "I'll create it.", res.FinalOutput)

	// The ungated call of the same turn ran; the gated one did not.
	assert.Equal(t, []string{"search_projects"}, tools.executed)

	st, err := DecodeRunState(res.State)
	require.NoError(t, err)
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, "Planner", st.Agent)
	assert.Equal(t, 2, st.Turns)
	require.Len(t, st.Results, 1)
	assert.Equal(t, "t1", st.Results[0].ToolUseID)
}

func TestRun_ApprovedCallExecutes(t *testing.T) {
	p := &scriptedProvider{}
	tools := &fakeTools{gated: map[string]bool{"create_project": true}}
	e, paused := pausedRun(t, p, tools)

	var decisions []bool
	e.OnDecision(func(_ context.Context, runID string, in Interruption, approved bool) {
		assert.Equal(t, "run-1", runID)
		assert.Equal(t, "create_project", in.Tool)
		decisions = append(decisions, approved)
	})

	p.responses = append(p.responses, &llm.CompletionResponse{Text: "Created.", StopReason: llm.StopReasonEndTurn})
	res, err := e.Run(context.Background(), Input{
		State:     paused.State,
		Decisions: []Decision{{Interruption: paused.Interruptions[0], Approved: true}},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Created.", res.FinalOutput)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, []bool{true}, decisions)
	assert.Equal(t, []string{"search_projects", "create_project"}, tools.executed)

	last := p.requests[2].Messages[len(p.requests[2].Messages)-1]
	require.Len(t, last.ToolResults, 2)
	assert.Equal(t, "t1", last.ToolResults[0].ToolUseID)
	assert.Equal(t, "t2", last.ToolResults[1].ToolUseID)
	assert.False(t, last.ToolResults[1].IsError)
}

func TestRun_RejectedCallNeverExecutes(t *testing.T) {
	p := &scriptedProvider{}
	tools := &fakeTools{gated: map[string]bool{"create_project": true}}
	e, paused := pausedRun(t, p, tools)

	p.responses = append(p.responses, &llm.CompletionResponse{Text: "Understood, nothing was created.", StopReason: llm.StopReasonEndTurn})
	var events []Event
	res, err := e.Run(context.Background(), Input{
		State:     paused.State,
		Decisions: []Decision{{Interruption: paused.Interruptions[0], Approved: false}},
	}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, "Understood, nothing was created.", res.FinalOutput)
	assert.NotContains(t, tools.executed, "create_project")

	last := p.requests[2].Messages[len(p.requests[2].Messages)-1]
	require.Len(t, last.ToolResults, 2)
	assert.Equal(t, RejectedOutput, last.ToolResults[1].Content)
	require.NotEmpty(t, events)
	assert.Equal(t, RejectedOutput, events[0].Output)
}

func TestRun_ResumeRequiresEveryDecision(t *testing.T) {
	p := &scriptedProvider{}
	tools := &fakeTools{gated: map[string]bool{"create_project": true}}
	e, paused := pausedRun(t, p, tools)

	_, err := e.Run(context.Background(), Input{State: paused.State}, nil)
	assert.ErrorIs(t, err, terrors.ErrInvalidInput)
	assert.NotContains(t, tools.executed, "create_project")
}

func TestRun_ResumeRechecksPendingCalls(t *testing.T) {
	p := &scriptedProvider{}
	tools := &fakeTools{gated: map[string]bool{"create_project": true, "delete_workspace": true}}
	e, paused := pausedRun(t, p, tools)

	st, err := DecodeRunState(paused.State)
	require.NoError(t, err)

	cases := map[string]Interruption{
		"tool outside the agent": {ID: "t2", Agent: "Planner", Tool: "delete_workspace", Arguments: json.RawMessage(`{}`)},
		"ungated tool":           {ID: "t2", Agent: "Planner", Tool: "search_projects", Arguments: json.RawMessage(`{}`)},
		"unknown agent":          {ID: "t2", Agent: "Ghost", Tool: "create_project", Arguments: json.RawMessage(`{}`)},
	}
	for name, pending := range cases {
		t.Run(name, func(t *testing.T) {
			forged := st
			forged.Pending = []Interruption{pending}
			token, err := forged.Encode()
			require.NoError(t, err)

			_, err = e.Run(context.Background(), Input{
				State:     token,
				Decisions: []Decision{{Interruption: pending, Approved: true}},
			}, nil)
			assert.ErrorIs(t, err, terrors.ErrInvalidInput)
		})
	}
	assert.Equal(t, []string{"search_projects"}, tools.executed)
}

func TestRun_BadState(t *testing.T) {
	e := newTestEngine(&scriptedProvider{}, &fakeTools{})
	_, err := e.Run(context.Background(), Input{State: "%%%"}, nil)
	assert.ErrorIs(t, err, terrors.ErrInvalidInput)

	token, err := RunState{Agent: "Nobody", Pending: []Interruption{{ID: "x", Tool: "create_project"}}}.Encode()
	require.NoError(t, err)
	_, err = e.Run(context.Background(), Input{State: token}, nil)
	assert.ErrorIs(t, err, terrors.ErrInvalidInput)
}

func TestRun_MaxTurns(t *testing.T) {
	loop := &llm.CompletionResponse{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{toolUse("h", "transfer_to_planner", `{}`)}}
	p := &scriptedProvider{responses: []*llm.CompletionResponse{loop, loop, loop}}
	e := NewEngine(p, &fakeTools{}, Definitions{
		Entry:  "A",
		Agents: []Definition{{Name: "A", Handoffs: []string{"A"}}},
	}, 2, zerolog.Nop())

	_, err := e.Run(context.Background(), Input{Message: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 2 turns")
}

func TestRun_ProviderError(t *testing.T) {
	e := newTestEngine(&scriptedProvider{}, &fakeTools{})
	_, err := e.Run(context.Background(), Input{Message: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm complete")
}

func TestDefaultDefinitions_Valid(t *testing.T) {
	defs := DefaultDefinitions()
	known := map[string]bool{
		"search_projects": true, "list_all_projects": true, "get_project": true, "get_teams": true,
		"create_project": true, "get_project_details": true, "list_project_issues": true,
		"list_issue_sub_issues": true, "get_team_info": true, "bulk_create_issues": true,
		"search_team": true, "update_project": true, "get_issue": true, "update_issue": true,
		"search_issues": true, "commit_to_folder": true,
	}
	require.NoError(t, defs.Validate(func(name string) bool { return known[name] }))
	assert.Equal(t, TriageAgent, defs.Entry)

	triage, ok := defs.Get(TriageAgent)
	require.True(t, ok)
	assert.Equal(t, []string{ProjectPlannerAgent, IssuePlannerAgent}, triage.Handoffs)
}

func TestDefinitions_ValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		defs Definitions
		want string
	}{
		{"empty", Definitions{}, "no agents"},
		{"duplicate", Definitions{Entry: "A", Agents: []Definition{{Name: "A"}, {Name: "A"}}}, "duplicate"},
		{"entry", Definitions{Entry: "B", Agents: []Definition{{Name: "A"}}}, "entry agent"},
		{"handoff", Definitions{Entry: "A", Agents: []Definition{{Name: "A", Handoffs: []string{"Z"}}}}, "unknown agent"},
		{"tool", Definitions{Entry: "A", Agents: []Definition{{Name: "A", Tools: []string{"rm"}}}}, "unknown tool"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.defs.Validate(func(string) bool { return false })
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseDefinitions_ExpandsEnv(t *testing.T) {
	t.Setenv("TERNA_TEST_MODEL", "claude-test")
	data := []byte(`
agents:
  - name: Solo
    instructions: "Be brief."
    model: ${TERNA_TEST_MODEL}
    tools: [get_teams]
`)
	defs, err := ParseDefinitions(data)
	require.NoError(t, err)
	assert.Equal(t, "Solo", defs.Entry)
	require.Len(t, defs.Agents, 1)
	assert.Equal(t, "claude-test", defs.Agents[0].Model)
	assert.Equal(t, []string{"get_teams"}, defs.Agents[0].Tools)
}

func TestLoadDefinitions_MissingFile(t *testing.T) {
	_, err := LoadDefinitions(t.TempDir() + "/nope.yaml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestHandoffTool(t *testing.T) {
	assert.Equal(t, "transfer_to_project_planner", HandoffTool("Project Planner"))
	assert.Equal(t, "transfer_to_triage_agent", HandoffTool("Triage Agent!"))
}

func TestRunState_RoundTrip(t *testing.T) {
	st := RunState{
		RunID:   "r",
		Agent:   "Planner",
		Turns:   3,
		History: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Pending: []Interruption{{ID: "t1", Agent: "Planner", Tool: "create_project", Arguments: json.RawMessage(`{"name":"A"}`)}},
	}
	token, err := st.Encode()
	require.NoError(t, err)

	got, err := DecodeRunState(token)
	require.NoError(t, err)
	assert.Equal(t, st.RunID, got.RunID)
	assert.Equal(t, st.Turns, got.Turns)
	assert.Equal(t, st.History, got.History)
	require.Len(t, got.Pending, 1)
	assert.JSONEq(t, `{"name":"A"}`, string(got.Pending[0].Arguments))
}
