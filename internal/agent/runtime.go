// Package agent runs planning conversations: a tool-use loop over an LLM
// provider with handoffs between agents and human approval of sensitive
// tool calls. A run that needs approval stops and returns an opaque state
// token; the client resumes it with one decision per pending call.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/llm"
	"github.com/nfugallo/terna/internal/metrics"
	"github.com/nfugallo/terna/internal/tool"
)

// Event types streamed during a run.
const (
	EventText       = "text"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventHandoff    = "handoff"
)

// RejectedOutput is the tool result the model sees for a rejected call.
const RejectedOutput = "The user rejected this tool call. The action was not performed."

const defaultMaxTurns = 10

// Event is one streamed step of a run.
type Event struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    string          `json:"output,omitempty"`
	Agent     string          `json:"agent,omitempty"`
}

// Input starts a run from Message, or resumes the paused run in State with
// Decisions.
type Input struct {
	Message   string     `json:"message"`
	State     string     `json:"state"`
	Decisions []Decision `json:"approvals"`
}

// Result is the outcome of a run. State is set only when Interruptions is
// not empty.
type Result struct {
	RunID         string         `json:"runId"`
	FinalOutput   string         `json:"finalOutput"`
	Interruptions []Interruption `json:"interruptions"`
	State         string         `json:"state,omitempty"`
	History       []llm.Message  `json:"history"`
	FinalAgent    string         `json:"finalAgent"`
}

// Runtime runs agent conversations. emit receives events in order and may
// be nil.
type Runtime interface {
	Run(ctx context.Context, in Input, emit func(Event)) (*Result, error)
}

// Tools is the tool surface the engine needs. *tool.Registry implements it.
type Tools interface {
	Schemas(names ...string) []llm.ToolSchema
	NeedsApproval(name string, input json.RawMessage) bool
	Execute(ctx context.Context, name string, input json.RawMessage) (string, error)
}

var _ Tools = (*tool.Registry)(nil)

// DecisionHook observes every approval decision as it is applied.
type DecisionHook func(ctx context.Context, runID string, in Interruption, approved bool)

// Engine is the Runtime implementation.
type Engine struct {
	provider   llm.Provider
	tools      Tools
	defs       Definitions
	maxTurns   int
	onDecision DecisionHook
	metrics    *metrics.Metrics
	newID      func() string
	logger     zerolog.Logger
}

var _ Runtime = (*Engine)(nil)

// NewEngine creates an engine. maxTurns bounds the model calls of one run,
// counted across resumes.
func NewEngine(provider llm.Provider, tools Tools, defs Definitions, maxTurns int, logger zerolog.Logger) *Engine {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &Engine{
		provider: provider,
		tools:    tools,
		defs:     defs,
		maxTurns: maxTurns,
		newID:    uuid.NewString,
		logger:   logger.With().Str("component", "agent").Logger(),
	}
}

// OnDecision registers a hook called for every applied decision.
func (e *Engine) OnDecision(h DecisionHook) { e.onDecision = h }

// SetMetrics enables approval counters.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.metrics = m }

type run struct {
	id      string
	agent   string
	turns   int
	history []llm.Message
}

// Run starts or resumes a run.
func (e *Engine) Run(ctx context.Context, in Input, emit func(Event)) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	var r run
	if in.State != "" {
		st, err := DecodeRunState(in.State)
		if err != nil {
			return nil, err
		}
		if _, ok := e.defs.Get(st.Agent); !ok {
			return nil, terrors.Invalid("run state names unknown agent %q", st.Agent)
		}
		results, err := e.resolve(ctx, st, in.Decisions, emit)
		if err != nil {
			return nil, err
		}
		r = run{id: st.RunID, agent: st.Agent, turns: st.Turns, history: append(st.History, llm.ToolResultMessage(results...))}
		e.logger.Info().Str("run_id", r.id).Str("agent", r.agent).Int("decisions", len(in.Decisions)).Msg("run resumed")
	} else {
		if strings.TrimSpace(in.Message) == "" {
			return nil, terrors.Invalid("message is required")
		}
		r = run{
			id:      e.newID(),
			agent:   e.defs.Entry,
			history: []llm.Message{{Role: llm.RoleUser, Content: in.Message}},
		}
		e.logger.Info().Str("run_id", r.id).Str("agent", r.agent).Msg("run started")
	}

	return e.loop(ctx, &r, emit)
}

// resolve applies decisions to the pending calls of st. Every pending call
// needs a decision; a rejected call is answered without executing it.
func (e *Engine) resolve(ctx context.Context, st RunState, decisions []Decision, emit func(Event)) ([]llm.ToolResult, error) {
	decided := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		decided[d.Interruption.ID] = d.Approved
	}

	// The state token is not signed, so each pending call must still be one
	// its agent could have paused on.
	for _, p := range st.Pending {
		if _, ok := decided[p.ID]; !ok {
			return nil, terrors.Invalid("no decision for interruption %s (%s)", p.ID, p.Tool)
		}
		def, ok := e.defs.Get(p.Agent)
		if !ok || !allowed(def, p.Tool) {
			return nil, terrors.Invalid("tool %s is not available to %s", p.Tool, p.Agent)
		}
		if !e.tools.NeedsApproval(p.Tool, p.Arguments) {
			return nil, terrors.Invalid("tool %s does not need approval", p.Tool)
		}
	}

	results := append([]llm.ToolResult(nil), st.Results...)
	for _, p := range st.Pending {
		approved := decided[p.ID]
		if e.onDecision != nil {
			e.onDecision(ctx, st.RunID, p, approved)
		}
		if e.metrics != nil {
			e.metrics.RecordApproval(p.Tool, approved)
		}
		e.logger.Info().Str("run_id", st.RunID).Str("tool", p.Tool).Bool("approved", approved).Msg("approval decision")

		if !approved {
			emit(Event{Type: EventToolResult, Name: p.Tool, Output: RejectedOutput, Agent: p.Agent})
			results = append(results, llm.ToolResult{ToolUseID: p.ID, Content: RejectedOutput})
			continue
		}
		results = append(results, e.execute(ctx, p.Agent, llm.ToolUse{ID: p.ID, Name: p.Tool, Input: p.Arguments}, emit))
	}
	return results, nil
}

func (e *Engine) loop(ctx context.Context, r *run, emit func(Event)) (*Result, error) {
	for r.turns < e.maxTurns {
		def, ok := e.defs.Get(r.agent)
		if !ok {
			return nil, fmt.Errorf("agent %q is not defined", r.agent)
		}

		resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
			Messages:     r.history,
			SystemPrompt: def.Instructions,
			Tools:        e.schemas(def),
			Model:        def.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("agent %s: llm complete: %w", def.Name, err)
		}
		r.turns++
		r.history = append(r.history, llm.AssistantMessage(resp))

		e.logger.Debug().Str("run_id", r.id).Str("agent", def.Name).Str("stop_reason", resp.StopReason).
			Int("tool_uses", len(resp.ToolUses)).Int("turn", r.turns).Msg("llm response")

		if resp.Text != "" {
			emit(Event{Type: EventText, Content: resp.Text, Agent: def.Name})
		}
		if len(resp.ToolUses) == 0 {
			if resp.StopReason == llm.StopReasonMaxTokens {
				return nil, fmt.Errorf("agent %s: hit max tokens limit", def.Name)
			}
			return &Result{
				RunID:         r.id,
				FinalOutput:   resp.Text,
				Interruptions: []Interruption{},
				History:       r.history,
				FinalAgent:    def.Name,
			}, nil
		}

		next := r.agent
		var results []llm.ToolResult
		var pending []Interruption
		for _, use := range resp.ToolUses {
			if target, ok := handoffTarget(def, use.Name); ok {
				emit(Event{Type: EventHandoff, Name: use.Name, Agent: target})
				e.logger.Info().Str("run_id", r.id).Str("from", def.Name).Str("to", target).Msg("handoff")
				results = append(results, llm.ToolResult{ToolUseID: use.ID, Content: fmt.Sprintf(`{"assistant":%q}`, target)})
				next = target
				continue
			}
			if !allowed(def, use.Name) {
				results = append(results, llm.ToolResult{
					ToolUseID: use.ID,
					Content:   errorOutput(fmt.Errorf("tool %s is not available to %s", use.Name, def.Name)),
					IsError:   true,
				})
				continue
			}
			if e.tools.NeedsApproval(use.Name, use.Input) {
				pending = append(pending, Interruption{ID: use.ID, Agent: def.Name, Tool: use.Name, Arguments: use.Input})
				continue
			}
			results = append(results, e.execute(ctx, def.Name, use, emit))
		}
		r.agent = next

		if len(pending) > 0 {
			token, err := RunState{
				RunID:   r.id,
				Agent:   r.agent,
				Turns:   r.turns,
				History: r.history,
				Pending: pending,
				Results: results,
			}.Encode()
			if err != nil {
				return nil, err
			}
			e.logger.Info().Str("run_id", r.id).Int("pending", len(pending)).Msg("run paused for approval")
			return &Result{
				RunID:         r.id,
				FinalOutput:   resp.Text,
				Interruptions: pending,
				State:         token,
				History:       r.history,
				FinalAgent:    r.agent,
			}, nil
		}
		r.history = append(r.history, llm.ToolResultMessage(results...))
	}
	return nil, fmt.Errorf("agent run exceeded %d turns", e.maxTurns)
}

func (e *Engine) execute(ctx context.Context, agent string, use llm.ToolUse, emit func(Event)) llm.ToolResult {
	emit(Event{Type: EventToolCall, Name: use.Name, Arguments: use.Input, Agent: agent})
	out, err := e.tools.Execute(ctx, use.Name, use.Input)
	if err != nil {
		e.logger.Warn().Err(err).Str("tool", use.Name).Msg("tool execution failed")
		out = errorOutput(err)
		emit(Event{Type: EventToolResult, Name: use.Name, Output: out, Agent: agent})
		return llm.ToolResult{ToolUseID: use.ID, Content: out, IsError: true}
	}
	emit(Event{Type: EventToolResult, Name: use.Name, Output: out, Agent: agent})
	return llm.ToolResult{ToolUseID: use.ID, Content: out}
}

func (e *Engine) schemas(def Definition) []llm.ToolSchema {
	var out []llm.ToolSchema
	if len(def.Tools) > 0 {
		out = e.tools.Schemas(def.Tools...)
	}
	for _, h := range def.Handoffs {
		out = append(out, llm.ToolSchema{
			Name:        HandoffTool(h),
			Description: "Hand off the conversation to the " + h + ".",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		})
	}
	return out
}

func handoffTarget(def Definition, toolName string) (string, bool) {
	for _, h := range def.Handoffs {
		if HandoffTool(h) == toolName {
			return h, true
		}
	}
	return "", false
}

func allowed(def Definition, toolName string) bool {
	for _, t := range def.Tools {
		if t == toolName {
			return true
		}
	}
	return false
}

func errorOutput(err error) string {
	b, _ := json.Marshal(map[string]any{"success": false, "error": err.Error()})
	return string(b)
}
