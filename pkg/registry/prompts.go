package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// PromptHandler renders a prompt from its string arguments
type PromptHandler interface {
	GetPrompt(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error)
}

// PromptFunc adapts a function to PromptHandler
type PromptFunc func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error)

// GetPrompt calls f
func (f PromptFunc) GetPrompt(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
	return f(ctx, args)
}

// TextPrompt returns a handler whose plain text output becomes one user message
func TextPrompt(fn func(ctx context.Context, args map[string]string) (string, error)) PromptHandler {
	return PromptFunc(func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
		text, err := fn(ctx, args)
		if err != nil {
			return nil, err
		}
		return &protocol.GetPromptResult{Messages: []protocol.PromptMessage{
			{Role: protocol.RoleUser, Content: protocol.TextContent(text)},
		}}, nil
	})
}

type promptEntry struct {
	prompt    protocol.Prompt
	handler   PromptHandler
	validator *validator
}

// Prompts is the prompt catalog
type Prompts struct {
	changeNotifier

	mu      sync.RWMutex
	prompts map[string]*promptEntry
	order   []string
}

// NewPrompts returns an empty prompt catalog
func NewPrompts() *Prompts {
	return &Prompts{prompts: make(map[string]*promptEntry)}
}

// Register adds a prompt under prompt.Name
func (r *Prompts) Register(prompt protocol.Prompt, handler PromptHandler) error {
	if prompt.Name == "" {
		return mcperrors.InvalidArgument("prompt", mcperrors.Violation{Field: "name", Reason: "is required"})
	}
	if handler == nil {
		return mcperrors.InvalidArgument(prompt.Name, mcperrors.Violation{Field: "handler", Reason: "is nil"})
	}

	args := make([]Argument, 0, len(prompt.Arguments))
	for _, a := range prompt.Arguments {
		args = append(args, Argument{Name: a.Name, Type: TypeString, Required: a.Required})
	}
	schema, err := argumentSchema(args)
	if err != nil {
		return mcperrors.InvalidArgument(prompt.Name, mcperrors.Violation{Field: "arguments", Reason: err.Error()})
	}
	v, err := newValidator(prompt.Name, schema)
	if err != nil {
		return mcperrors.Internal("building prompt "+prompt.Name, err)
	}

	r.mu.Lock()
	if _, dup := r.prompts[prompt.Name]; dup {
		r.mu.Unlock()
		return mcperrors.InvalidArgument(prompt.Name, mcperrors.Violation{Field: "name", Reason: "already registered"})
	}
	r.prompts[prompt.Name] = &promptEntry{prompt: prompt, handler: handler, validator: v}
	r.order = append(r.order, prompt.Name)
	r.mu.Unlock()

	r.changed()
	return nil
}

// Unregister removes a prompt, reporting whether it existed
func (r *Prompts) Unregister(name string) bool {
	r.mu.Lock()
	if _, ok := r.prompts[name]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.prompts, name)
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

// List returns every prompt in registration order
func (r *Prompts) List() []protocol.Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Prompt, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.prompts[name].prompt)
	}
	return out
}

// Get renders the named prompt. Missing required arguments fail before the
// handler runs.
func (r *Prompts) Get(ctx context.Context, name string, args map[string]string) (result *protocol.GetPromptResult, err error) {
	r.mu.RLock()
	entry, ok := r.prompts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, mcperrors.PromptNotFound(name)
	}
	if args == nil {
		args = map[string]string{}
	}

	doc, err := json.Marshal(args)
	if err != nil {
		return nil, mcperrors.Internal("encoding prompt arguments", err)
	}
	if err := entry.validator.validate(gojsonschema.NewBytesLoader(doc)); err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = mcperrors.HandlerFailed("prompt", name, fmt.Errorf("panic: %v", p))
		}
	}()

	result, err = entry.handler.GetPrompt(ctx, args)
	if err != nil {
		if mcpErr, ok := mcperrors.AsMCPError(err); ok {
			return nil, mcpErr
		}
		return nil, mcperrors.HandlerFailed("prompt", name, err)
	}
	if result == nil {
		result = &protocol.GetPromptResult{}
	}
	if result.Messages == nil {
		result.Messages = []protocol.PromptMessage{}
	}
	if result.Description == "" {
		result.Description = entry.prompt.Description
	}
	return result, nil
}
