package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// ProgressReporter sends progress for the call being served. Report is a
// no-op when the caller did not ask for progress.
type ProgressReporter interface {
	Report(ctx context.Context, progress, total float64, message string) error
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, float64, float64, string) error { return nil }

// ToolHandler validates and runs one tool. Validate is always called first
// and Invoke only when it succeeds.
type ToolHandler interface {
	Validate(args json.RawMessage) error
	Invoke(ctx context.Context, args json.RawMessage, progress ProgressReporter) (*protocol.CallToolResult, error)
}

// Definition is a tool that carries its own descriptor
type Definition interface {
	ToolHandler
	Descriptor() protocol.Tool
}

// ToolFunc is the body of a tool built with NewTool
type ToolFunc func(ctx context.Context, args map[string]any, progress ProgressReporter) (*protocol.CallToolResult, error)

// SchemaTool is a tool whose arguments are checked against a JSON Schema
type SchemaTool struct {
	tool      protocol.Tool
	validator *validator
	fn        ToolFunc
}

// NewTool builds a tool from an argument list. Every required argument must
// be present and every declared type must match before fn runs.
func NewTool(name, description string, args []Argument, fn ToolFunc) (*SchemaTool, error) {
	if fn == nil {
		return nil, mcperrors.InvalidArgument(name, mcperrors.Violation{Field: "handler", Reason: "is nil"})
	}
	schema, err := argumentSchema(args)
	if err != nil {
		return nil, mcperrors.InvalidArgument(name, mcperrors.Violation{Field: "arguments", Reason: err.Error()})
	}
	v, err := newValidator(name, schema)
	if err != nil {
		return nil, mcperrors.Internal("building tool "+name, err)
	}
	return &SchemaTool{
		tool:      protocol.Tool{Name: name, Description: description, InputSchema: schema},
		validator: v,
		fn:        fn,
	}, nil
}

// Descriptor returns the advertised tool
func (t *SchemaTool) Descriptor() protocol.Tool { return t.tool }

// Validate checks args against the schema
func (t *SchemaTool) Validate(args json.RawMessage) error {
	return t.validator.validateJSON(args)
}

// Invoke decodes args and runs the tool body
func (t *SchemaTool) Invoke(ctx context.Context, args json.RawMessage, progress ProgressReporter) (*protocol.CallToolResult, error) {
	values := map[string]any{}
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &values); err != nil {
			return nil, mcperrors.InvalidArgument(t.tool.Name, mcperrors.Violation{Field: "(root)", Reason: err.Error()})
		}
	}
	return t.fn(ctx, values, progress)
}

// TypedTool is a tool whose arguments decode into A. The input schema is
// reflected from A's struct tags.
type TypedTool[A any] struct {
	tool      protocol.Tool
	validator *validator
	fn        func(ctx context.Context, args A, progress ProgressReporter) (*protocol.CallToolResult, error)
}

// NewTypedTool builds a tool from a struct type. Fields without omitempty are
// required and unknown fields are rejected.
func NewTypedTool[A any](name, description string, fn func(ctx context.Context, args A, progress ProgressReporter) (*protocol.CallToolResult, error)) (*TypedTool[A], error) {
	if fn == nil {
		return nil, mcperrors.InvalidArgument(name, mcperrors.Violation{Field: "handler", Reason: "is nil"})
	}
	schema, err := reflectSchema[A]()
	if err != nil {
		return nil, mcperrors.InvalidArgument(name, mcperrors.Violation{Field: "arguments", Reason: err.Error()})
	}
	v, err := newValidator(name, schema)
	if err != nil {
		return nil, mcperrors.Internal("building tool "+name, err)
	}
	return &TypedTool[A]{
		tool:      protocol.Tool{Name: name, Description: description, InputSchema: schema},
		validator: v,
		fn:        fn,
	}, nil
}

// Descriptor returns the advertised tool
func (t *TypedTool[A]) Descriptor() protocol.Tool { return t.tool }

// Validate checks args against the reflected schema
func (t *TypedTool[A]) Validate(args json.RawMessage) error {
	return t.validator.validateJSON(args)
}

// Invoke decodes args into A and runs the tool body
func (t *TypedTool[A]) Invoke(ctx context.Context, args json.RawMessage, progress ProgressReporter) (*protocol.CallToolResult, error) {
	var a A
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, mcperrors.InvalidArgument(t.tool.Name, mcperrors.Violation{Field: "(root)", Reason: err.Error()})
		}
	}
	return t.fn(ctx, a, progress)
}

type toolEntry struct {
	tool    protocol.Tool
	handler ToolHandler
}

// Tools is the tool catalog
type Tools struct {
	changeNotifier

	mu    sync.RWMutex
	tools map[string]*toolEntry
	order []string
}

// NewTools returns an empty tool catalog
func NewTools() *Tools {
	return &Tools{tools: make(map[string]*toolEntry)}
}

// Register adds a tool under tool.Name. A tool without an input schema
// accepts any object.
func (r *Tools) Register(tool protocol.Tool, handler ToolHandler) error {
	if tool.Name == "" {
		return mcperrors.InvalidArgument("tool", mcperrors.Violation{Field: "name", Reason: "is required"})
	}
	if handler == nil {
		return mcperrors.InvalidArgument(tool.Name, mcperrors.Violation{Field: "handler", Reason: "is nil"})
	}
	if len(tool.InputSchema) == 0 {
		tool.InputSchema = json.RawMessage(`{"type":"object"}`)
	}

	r.mu.Lock()
	if _, dup := r.tools[tool.Name]; dup {
		r.mu.Unlock()
		return mcperrors.InvalidArgument(tool.Name, mcperrors.Violation{Field: "name", Reason: "already registered"})
	}
	r.tools[tool.Name] = &toolEntry{tool: tool, handler: handler}
	r.order = append(r.order, tool.Name)
	r.mu.Unlock()

	r.changed()
	return nil
}

// Add registers a tool that carries its own descriptor
func (r *Tools) Add(def Definition) error {
	return r.Register(def.Descriptor(), def)
}

// Unregister removes a tool, reporting whether it existed
func (r *Tools) Unregister(name string) bool {
	r.mu.Lock()
	if _, ok := r.tools[name]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.changed()
	return true
}

// List returns every tool in registration order
func (r *Tools) List() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].tool)
	}
	return out
}

// Call validates args and invokes the named tool. progress may be nil.
// Validation failures never reach the handler; handler failures, panics
// included, are returned as handler errors.
func (r *Tools) Call(ctx context.Context, name string, args json.RawMessage, progress ProgressReporter) (result *protocol.CallToolResult, err error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, mcperrors.ToolNotFound(name)
	}
	if progress == nil {
		progress = nopReporter{}
	}

	if err := entry.handler.Validate(args); err != nil {
		if mcpErr, ok := mcperrors.AsMCPError(err); ok {
			return nil, mcpErr
		}
		return nil, mcperrors.InvalidArgument(name, mcperrors.Violation{Field: "(root)", Reason: err.Error()})
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = mcperrors.HandlerFailed("tool", name, fmt.Errorf("panic: %v", p))
		}
	}()

	result, err = entry.handler.Invoke(ctx, args, progress)
	if err != nil {
		if mcpErr, ok := mcperrors.AsMCPError(err); ok {
			return nil, mcpErr
		}
		return nil, mcperrors.HandlerFailed("tool", name, err)
	}
	if result == nil {
		result = &protocol.CallToolResult{}
	}
	if result.Content == nil {
		result.Content = []protocol.Content{}
	}
	return result, nil
}
