// Package tools implements the function registry the language model can call.
//
// Every tool returns a Result. Failures of any kind (bad arguments, provider
// outages, non-200 responses, panics) become {success:false, error} payloads
// so a turn never aborts because a lookup failed.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/teslashibe/go-tony/pkg/inference"
)

// DefaultCallTimeout bounds a single tool invocation.
const DefaultCallTimeout = 15 * time.Second

// Result is the structured outcome of a tool call.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK wraps data in a successful Result.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail returns a failed Result carrying msg.
func Fail(msg string) Result {
	return Result{Error: msg}
}

// Tool is a callable function with a JSON schema for its arguments.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema

	invoke func(ctx context.Context, args json.RawMessage) (any, error)
}

// NewTool builds a Tool whose parameter schema is derived from A. Fields
// without omitempty are required; the jsonschema struct tag is the
// description shown to the model.
func NewTool[A any](name, description string, fn func(ctx context.Context, args A) (any, error)) (*Tool, error) {
	schema, err := jsonschema.For[A](&jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("tools: schema for %s: %w", name, err)
	}
	return &Tool{
		Name:        name,
		Description: description,
		Parameters:  schema,
		invoke: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args A
			if err := decodeArgs(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			return fn(ctx, args)
		},
	}, nil
}

// MustNewTool is like NewTool but panics on error.
func MustNewTool[A any](name, description string, fn func(ctx context.Context, args A) (any, error)) *Tool {
	t, err := NewTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// Option configures a Registry.
type Option func(*Registry)

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// ErrDuplicate is returned when a tool name is registered twice.
var ErrDuplicate = errors.New("tools: duplicate tool name")

// Registry maps tool names to tools. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	order   []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:   make(map[string]*Tool),
		timeout: DefaultCallTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "tools")
	return r
}

// Register adds tools in order.
func (r *Registry) Register(tools ...*Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if _, ok := r.tools[t.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicate, t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return nil
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Declarations describes the registered tools for the language model.
func (r *Registry) Declarations() []inference.Declaration {
	tools := r.Tools()
	out := make([]inference.Declaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, inference.Declaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return out
}

// Dispatch runs the named tool. It never returns an error and never panics.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (res Result) {
	tool, ok := r.Lookup(name)
	if !ok {
		r.logger.Warn("unknown function requested", "name", name)
		return Fail("Unknown function: " + name)
	}

	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Fail(fmt.Sprintf("invalid arguments for %s: %v", name, err))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "name", name, "panic", p)
			res = Fail(fmt.Sprintf("%s failed unexpectedly", name))
		}
		r.logger.Debug("tool call",
			"name", name,
			"success", res.Success,
			"duration", time.Since(start))
	}()

	data, err := tool.invoke(ctx, raw)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Fail(fmt.Sprintf("%s timed out", name))
		}
		return Fail(err.Error())
	}
	return OK(data)
}
