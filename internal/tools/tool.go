// Package tools exposes the callable operations the agent graph can plan:
// a registry with JSON-schema argument validation, provider-neutral schema
// export, and the canonical tool set wrapping the host API.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	invopop "github.com/invopop/jsonschema"
)

// Tool is one callable operation.
type Tool interface {
	// Name is the stable identifier the LLM calls.
	Name() string
	// Description tells the LLM what the tool does.
	Description() string
	// Parameters is the JSON-schema object describing the arguments.
	Parameters() map[string]any
	// Destructive flags tools whose plans require reflection.
	Destructive() bool
	// Execute runs the tool. With dryRun set, mutating tools describe
	// the would-be effect without writing.
	Execute(ctx context.Context, args map[string]any, dryRun bool) (any, error)
}

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result is the outcome of one tool execution. Tool failures land here as
// Status=error; they are never raised past the executing node.
type Result struct {
	Tool   string `json:"tool"`
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// OK reports whether the execution succeeded.
func (r *Result) OK() bool { return r.Status == StatusOK }

// GenerateSchema reflects a JSON-schema object from an argument struct.
// Field tags (json, jsonschema) drive names, descriptions, enums, and
// required-ness.
func GenerateSchema(v any) map[string]any {
	reflector := invopop.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// DecodeArgs maps validated arguments onto a typed struct.
func DecodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
