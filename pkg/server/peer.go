package server

import (
	"context"
	"encoding/json"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/pagination"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/session"
	"github.com/ajitpratap0/mcp-session-go/pkg/subscription"
)

type peerKey struct{}

// Peer is one connected client
type Peer struct {
	server  *Server
	session *session.Session
	logger  logging.Logger

	mu       sync.RWMutex
	logLevel protocol.LogLevel
}

func newPeer(s *Server, sess *session.Session) *Peer {
	return &Peer{
		server:   s,
		session:  sess,
		logger:   s.logger.WithFields(logging.String("peer", sess.ID())),
		logLevel: protocol.LogLevelInfo,
	}
}

// PeerFromContext returns the client a handler is serving
func PeerFromContext(ctx context.Context) (*Peer, bool) {
	p, ok := ctx.Value(peerKey{}).(*Peer)
	return p, ok
}

// ID returns the session id of the peer
func (p *Peer) ID() string { return p.session.ID() }

// Session returns the underlying session
func (p *Peer) Session() *session.Session { return p.session }

// ClientInfo returns the name and version the client sent on initialize
func (p *Peer) ClientInfo() protocol.Implementation { return p.session.RemoteInfo() }

// LogLevel returns the minimum level the client asked to receive
func (p *Peer) LogLevel() protocol.LogLevel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.logLevel
}

// CreateMessage asks the client to run a model completion. It fails without
// I/O when the client did not declare sampling.
func (p *Peer) CreateMessage(ctx context.Context, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error) {
	if err := p.session.Capabilities().Require(session.Remote, session.CategorySampling, session.FeatureNone); err != nil {
		return nil, err
	}
	if params == nil || len(params.Messages) == 0 {
		return nil, mcperrors.InvalidArgument(protocol.MethodCreateMessage,
			mcperrors.Violation{Field: "messages", Reason: "at least one message is required"})
	}
	if params.MaxTokens <= 0 {
		return nil, mcperrors.InvalidArgument(protocol.MethodCreateMessage,
			mcperrors.Violation{Field: "maxTokens", Reason: "must be positive"})
	}

	var result protocol.CreateMessageResult
	if err := p.session.Request(ctx, protocol.MethodCreateMessage, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Log sends notifications/message when level passes the client's threshold
func (p *Peer) Log(ctx context.Context, level protocol.LogLevel, logger string, data any) error {
	if !level.Valid() {
		return mcperrors.InvalidArgument(protocol.MethodLogMessage,
			mcperrors.Violation{Field: "level", Reason: "unknown level " + string(level)})
	}
	if !p.LogLevel().Enabled(level) {
		return nil
	}
	return p.session.Notify(ctx, protocol.MethodLogMessage, &protocol.LogMessageParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
}

// Ping checks the client is responsive
func (p *Peer) Ping(ctx context.Context) error {
	return p.session.Request(ctx, protocol.MethodPing, nil, nil)
}

// Close ends the session with this client
func (p *Peer) Close() error {
	return p.session.Close()
}

// subscribeLists subscribes the peer to the list changes it was promised
func (p *Peer) subscribeLists() {
	caps := p.session.Capabilities().Local()
	var targets []subscription.Target
	if caps.Tools != nil && caps.Tools.ListChanged {
		targets = append(targets, subscription.ToolList)
	}
	if caps.Prompts != nil && caps.Prompts.ListChanged {
		targets = append(targets, subscription.PromptList)
	}
	if caps.Resources != nil && caps.Resources.ListChanged {
		targets = append(targets, subscription.ResourceList)
	}
	for _, t := range targets {
		if err := p.server.subs.Subscribe(p.ID(), t); err != nil {
			p.logger.Warn("list subscription failed", logging.String("target", t.String()), logging.ErrorField(err))
		}
	}
}

func (p *Peer) handle(method string, h session.RequestHandler) {
	p.session.Handle(method, func(ctx context.Context, req *session.Request) (any, error) {
		return h(context.WithValue(ctx, peerKey{}, p), req)
	})
}

func (p *Peer) register() {
	p.handle(protocol.MethodListResources, p.listResources)
	p.handle(protocol.MethodListResourceTemplates, p.listResourceTemplates)
	p.handle(protocol.MethodReadResource, p.readResource)
	p.handle(protocol.MethodSubscribeResource, p.subscribe)
	p.handle(protocol.MethodUnsubscribeResource, p.unsubscribe)
	p.handle(protocol.MethodListTools, p.listTools)
	p.handle(protocol.MethodCallTool, p.callTool)
	p.handle(protocol.MethodListPrompts, p.listPrompts)
	p.handle(protocol.MethodGetPrompt, p.getPrompt)
	p.handle(protocol.MethodSetLogLevel, p.setLogLevel)
}

func decodeParams(req *session.Request, v any) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return mcperrors.InvalidParams(req.Method, err)
	}
	return nil
}

func page[T any](req *session.Request, items []T, cursor string, limit int) ([]T, string, error) {
	out, next, err := pagination.Page(items, cursor, limit)
	if err != nil {
		return nil, "", mcperrors.InvalidParams(req.Method, err)
	}
	return out, next, nil
}

func (p *Peer) listResources(_ context.Context, req *session.Request) (any, error) {
	var params protocol.ListResourcesParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	items, next, err := page(req, p.server.resources.List(), params.Cursor, p.server.pageSize)
	if err != nil {
		return nil, err
	}
	return &protocol.ListResourcesResult{
		Resources:       items,
		PaginatedResult: protocol.PaginatedResult{NextCursor: next},
	}, nil
}

func (p *Peer) listResourceTemplates(_ context.Context, req *session.Request) (any, error) {
	var params protocol.ListResourceTemplatesParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	items, next, err := page(req, p.server.resources.Templates(), params.Cursor, p.server.pageSize)
	if err != nil {
		return nil, err
	}
	return &protocol.ListResourceTemplatesResult{
		ResourceTemplates: items,
		PaginatedResult:   protocol.PaginatedResult{NextCursor: next},
	}, nil
}

func (p *Peer) readResource(ctx context.Context, req *session.Request) (any, error) {
	var params protocol.ReadResourceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.URI == "" {
		return nil, mcperrors.InvalidArgument(req.Method, mcperrors.Violation{Field: "uri", Reason: "is required"})
	}
	return p.server.resources.Read(ctx, params.URI)
}

func (p *Peer) subscribe(_ context.Context, req *session.Request) (any, error) {
	var params protocol.SubscribeParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if !p.server.resources.Has(params.URI) {
		return nil, mcperrors.ResourceNotFound(params.URI)
	}
	if err := p.server.subs.Subscribe(p.ID(), subscription.Resource(params.URI)); err != nil {
		return nil, err
	}
	return &protocol.EmptyResult{}, nil
}

func (p *Peer) unsubscribe(_ context.Context, req *session.Request) (any, error) {
	var params protocol.SubscribeParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	p.server.subs.Unsubscribe(p.ID(), subscription.Resource(params.URI))
	return &protocol.EmptyResult{}, nil
}

func (p *Peer) listTools(_ context.Context, req *session.Request) (any, error) {
	var params protocol.ListToolsParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	items, next, err := page(req, p.server.tools.List(), params.Cursor, p.server.pageSize)
	if err != nil {
		return nil, err
	}
	return &protocol.ListToolsResult{
		Tools:           items,
		PaginatedResult: protocol.PaginatedResult{NextCursor: next},
	}, nil
}

func (p *Peer) callTool(ctx context.Context, req *session.Request) (any, error) {
	var params protocol.CallToolParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	return p.server.tools.Call(ctx, params.Name, params.Arguments, p.session.Reporter(req))
}

func (p *Peer) listPrompts(_ context.Context, req *session.Request) (any, error) {
	var params protocol.ListPromptsParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	items, next, err := page(req, p.server.prompts.List(), params.Cursor, p.server.pageSize)
	if err != nil {
		return nil, err
	}
	return &protocol.ListPromptsResult{
		Prompts:         items,
		PaginatedResult: protocol.PaginatedResult{NextCursor: next},
	}, nil
}

func (p *Peer) getPrompt(ctx context.Context, req *session.Request) (any, error) {
	var params protocol.GetPromptParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	return p.server.prompts.Get(ctx, params.Name, params.Arguments)
}

func (p *Peer) setLogLevel(_ context.Context, req *session.Request) (any, error) {
	var params protocol.SetLevelParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if !params.Level.Valid() {
		return nil, mcperrors.InvalidArgument(req.Method,
			mcperrors.Violation{Field: "level", Reason: "unknown level " + string(params.Level)})
	}
	p.mu.Lock()
	p.logLevel = params.Level
	p.mu.Unlock()
	return &protocol.EmptyResult{}, nil
}
