// Package inference adapts streaming text-generation services with tool
// calling.
//
// A Backend streams fragments for one request. A Session layers the
// persona and tool declarations on top and turns a stream into a Result:
// concatenated text plus any tool calls the model asked for.
package inference

import (
	"context"
	"iter"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Declaration describes a callable tool to the model.
type Declaration struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// ToolCall is a structured request from the model to run a tool.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolOutput is the outcome of a tool call, fed back to the model.
type ToolOutput struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result"`
}

// Fragment is one increment of a streamed response.
type Fragment struct {
	Text      string
	ToolCalls []ToolCall
}

// Request is a single generation round.
type Request struct {
	System string
	Prompt string
	Tools  []Declaration
}

// Backend streams a response for one request.
type Backend interface {
	Name() string
	Stream(ctx context.Context, req *Request) iter.Seq2[Fragment, error]
}

// Result is a fully collected generation round.
type Result struct {
	Text      string
	ToolCalls []ToolCall
	Fragments int
}

// Empty reports whether the model produced no text.
func (r *Result) Empty() bool {
	return r == nil || strings.TrimSpace(r.Text) == ""
}

// HasToolCalls reports whether the model asked for tools. When it did,
// Text is preliminary and a follow-up round is required.
func (r *Result) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}
