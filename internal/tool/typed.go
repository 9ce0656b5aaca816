package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/llm"
)

// typed adapts a function over a decoded input struct to Tool. Results are
// returned to the model as JSON.
type typed[T any] struct {
	schema   llm.ToolSchema
	approval func(T) bool
	run      func(context.Context, T) (any, error)
}

func newTool[T any](name, description string, params map[string]any, approval func(T) bool, run func(context.Context, T) (any, error)) Tool {
	return &typed[T]{
		schema: llm.ToolSchema{
			Name:        name,
			Description: description,
			InputSchema: MustSchema(params),
		},
		approval: approval,
		run:      run,
	}
}

func (t *typed[T]) Schema() llm.ToolSchema { return t.schema }

// NeedsApproval fails closed: input that cannot be decoded is gated too.
func (t *typed[T]) NeedsApproval(input json.RawMessage) bool {
	if t.approval == nil {
		return false
	}
	in, err := t.decode(input)
	if err != nil {
		return true
	}
	return t.approval(in)
}

func (t *typed[T]) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := t.decode(input)
	if err != nil {
		return "", err
	}
	out, err := t.run(ctx, in)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("%s: encode result: %w", t.schema.Name, err)
	}
	return string(b), nil
}

func (t *typed[T]) decode(input json.RawMessage) (T, error) {
	var in T
	if len(bytes.TrimSpace(input)) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return in, terrors.Invalid("%s: malformed arguments: %v", t.schema.Name, err)
	}
	return in, nil
}

func always[T any](T) bool { return true }

// JSON Schema helpers.

func object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func num(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func boolean(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

func array(items map[string]any, description string) map[string]any {
	return map[string]any{"type": "array", "items": items, "description": description}
}
