package registry

import (
	"context"
	"fmt"
	"mime"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// ResourceInfo is the metadata advertised for a resource or template
type ResourceInfo struct {
	Name        string
	Description string
	MIMEType    string
}

// ResourceRequest is one read routed to a handler
type ResourceRequest struct {
	// URI is the concrete URI being read
	URI string
	// Params holds the placeholder values captured from URI
	Params map[string]string
}

// ResourceHandler produces the contents of a resource
type ResourceHandler interface {
	ReadResource(ctx context.Context, req ResourceRequest) ([]protocol.ResourceContents, error)
}

// ResourceFunc adapts a function to ResourceHandler
type ResourceFunc func(ctx context.Context, req ResourceRequest) ([]protocol.ResourceContents, error)

// ReadResource calls f
func (f ResourceFunc) ReadResource(ctx context.Context, req ResourceRequest) ([]protocol.ResourceContents, error) {
	return f(ctx, req)
}

// TextResource returns a handler producing a single text content block
func TextResource(fn func(ctx context.Context, req ResourceRequest) (string, error)) ResourceHandler {
	return ResourceFunc(func(ctx context.Context, req ResourceRequest) ([]protocol.ResourceContents, error) {
		text, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return []protocol.ResourceContents{{URI: req.URI, Text: text}}, nil
	})
}

type resourceEntry struct {
	template *Template
	info     ResourceInfo
	handler  ResourceHandler
}

// Resources is the resource catalog. Static URIs and templates are kept in
// registration order.
type Resources struct {
	changeNotifier

	mu      sync.RWMutex
	static  map[string]*resourceEntry
	order   []*resourceEntry
	entries map[string]*resourceEntry
}

// NewResources returns an empty resource catalog
func NewResources() *Resources {
	return &Resources{
		static:  make(map[string]*resourceEntry),
		entries: make(map[string]*resourceEntry),
	}
}

// Register binds handler to pattern. A pattern without placeholders is a
// static resource; any other is a template.
func (r *Resources) Register(pattern string, info ResourceInfo, handler ResourceHandler) error {
	if handler == nil {
		return mcperrors.InvalidArgument(pattern, mcperrors.Violation{Field: "handler", Reason: "is nil"})
	}
	tmpl, err := ParseTemplate(pattern)
	if err != nil {
		return mcperrors.InvalidArgument(pattern, mcperrors.Violation{Field: "pattern", Reason: err.Error()})
	}
	if info.MIMEType != "" {
		if _, _, err := mime.ParseMediaType(info.MIMEType); err != nil {
			return mcperrors.InvalidArgument(pattern, mcperrors.Violation{Field: "mimeType", Reason: err.Error()})
		}
	}
	if info.Name == "" {
		info.Name = pattern
	}

	entry := &resourceEntry{template: tmpl, info: info, handler: handler}

	r.mu.Lock()
	if _, dup := r.entries[pattern]; dup {
		r.mu.Unlock()
		return mcperrors.InvalidArgument(pattern, mcperrors.Violation{Field: "pattern", Reason: "already registered"})
	}
	r.entries[pattern] = entry
	r.order = append(r.order, entry)
	if tmpl.IsStatic() {
		r.static[pattern] = entry
	}
	r.mu.Unlock()

	r.changed()
	return nil
}

// Unregister removes pattern, reporting whether it was registered
func (r *Resources) Unregister(pattern string) bool {
	r.mu.Lock()
	entry, ok := r.entries[pattern]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, pattern)
	delete(r.static, pattern)
	for i, e := range r.order {
		if e == entry {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.changed()
	return true
}

// List returns the static resources in registration order
func (r *Resources) List() []protocol.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Resource, 0, len(r.static))
	for _, e := range r.order {
		if !e.template.IsStatic() {
			continue
		}
		out = append(out, protocol.Resource{
			URI:         e.template.Pattern(),
			Name:        e.info.Name,
			Description: e.info.Description,
			MIMEType:    e.info.MIMEType,
		})
	}
	return out
}

// Templates returns the resource templates in registration order
func (r *Resources) Templates() []protocol.ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []protocol.ResourceTemplate
	for _, e := range r.order {
		if e.template.IsStatic() {
			continue
		}
		out = append(out, protocol.ResourceTemplate{
			URITemplate: e.template.Pattern(),
			Name:        e.info.Name,
			Description: e.info.Description,
			MIMEType:    e.info.MIMEType,
		})
	}
	if out == nil {
		out = []protocol.ResourceTemplate{}
	}
	return out
}

// match resolves uri: an exact static URI wins, otherwise the first
// registered template that matches
func (r *Resources) match(uri string) (*resourceEntry, map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.static[uri]; ok {
		return e, map[string]string{}, true
	}
	for _, e := range r.order {
		if e.template.IsStatic() {
			continue
		}
		if params, ok := e.template.Match(uri); ok {
			return e, params, true
		}
	}
	return nil, nil, false
}

// Has reports whether uri resolves to a registration
func (r *Resources) Has(uri string) bool {
	_, _, ok := r.match(uri)
	return ok
}

// Read resolves uri and runs its handler. Handler failures, panics included,
// are returned as handler errors.
func (r *Resources) Read(ctx context.Context, uri string) (result *protocol.ReadResourceResult, err error) {
	entry, params, ok := r.match(uri)
	if !ok {
		return nil, mcperrors.ResourceNotFound(uri)
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = mcperrors.HandlerFailed("resource", uri, fmt.Errorf("panic: %v", p))
		}
	}()

	contents, err := entry.handler.ReadResource(ctx, ResourceRequest{URI: uri, Params: params})
	if err != nil {
		if mcpErr, ok := mcperrors.AsMCPError(err); ok {
			return nil, mcpErr
		}
		return nil, mcperrors.HandlerFailed("resource", uri, err)
	}

	for i := range contents {
		if contents[i].URI == "" {
			contents[i].URI = uri
		}
		if contents[i].MIMEType == "" {
			contents[i].MIMEType = entry.info.MIMEType
		}
	}
	if contents == nil {
		contents = []protocol.ResourceContents{}
	}
	return &protocol.ReadResourceResult{Contents: contents}, nil
}
