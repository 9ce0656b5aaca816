package agent

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/llm"
)

// Interruption is a tool call paused until a human approves or rejects it.
// ID is the model's tool use id.
type Interruption struct {
	ID        string          `json:"id"`
	Agent     string          `json:"agent"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// Decision approves or rejects one interruption.
type Decision struct {
	Interruption Interruption `json:"interruption"`
	Approved     bool         `json:"approved"`
}

// RunState is a paused run. Results holds the answers to the calls of the
// same model turn that did not need approval; they are sent together with
// the decided calls when the run resumes.
type RunState struct {
	RunID   string           `json:"runId"`
	Agent   string           `json:"agent"`
	Turns   int              `json:"turns"`
	History []llm.Message    `json:"history"`
	Pending []Interruption   `json:"pending"`
	Results []llm.ToolResult `json:"results,omitempty"`
}

// Encode serializes s to the opaque token handed to clients.
func (s RunState) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode run state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeRunState parses a token produced by Encode.
func DecodeRunState(token string) (RunState, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return RunState{}, terrors.Invalid("run state is not valid base64")
	}
	var s RunState
	if err := json.Unmarshal(raw, &s); err != nil {
		return RunState{}, terrors.Invalid("run state is malformed: %v", err)
	}
	if s.Agent == "" || len(s.Pending) == 0 {
		return RunState{}, terrors.Invalid("run state has nothing to resume")
	}
	return s, nil
}
