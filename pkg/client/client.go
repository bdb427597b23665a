// Package client provides the client role of an MCP session, allowing
// applications to connect to MCP servers and consume their capabilities.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/mcp-session-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/session"
	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

// SamplingHandler runs model completions requested by the server
type SamplingHandler interface {
	CreateMessage(ctx context.Context, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error)
}

// SamplingFunc adapts a function to SamplingHandler
type SamplingFunc func(ctx context.Context, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error)

// CreateMessage implements SamplingHandler
func (f SamplingFunc) CreateMessage(ctx context.Context, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error) {
	return f(ctx, params)
}

// Client is a connection to one MCP server
type Client struct {
	session  *session.Session
	logger   logging.Logger
	sampling SamplingHandler

	name           string
	version        string
	versions       []string
	requestTimeout time.Duration
	observer       session.Observer
	tracer         trace.Tracer
}

// Option configures a Client
type Option func(*Client)

// WithName sets the client name sent in the handshake
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// WithVersion sets the client version sent in the handshake
func WithVersion(version string) Option {
	return func(c *Client) {
		c.version = version
	}
}

// WithProtocolVersions sets the supported protocol versions. The first one
// is requested.
func WithProtocolVersions(versions ...string) Option {
	return func(c *Client) {
		c.versions = versions
	}
}

// WithRequestTimeout bounds requests whose context has no deadline
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithObserver receives session lifecycle and request events
func WithObserver(o session.Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithTracer sets the tracer used for outgoing request spans
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithSamplingHandler declares the sampling capability and serves
// sampling/createMessage with h
func WithSamplingHandler(h SamplingHandler) Option {
	return func(c *Client) {
		c.sampling = h
	}
}

// FromConfig turns the server, session and logging sections into options
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithProtocolVersions(cfg.Session.ProtocolVersions...),
		WithRequestTimeout(cfg.Session.RequestTimeout.Duration()),
		WithLogger(cfg.Logger()),
	}
}

// New creates a client over t. Nothing is sent until Connect.
func New(t transport.Transport, options ...Option) *Client {
	c := &Client{
		name:    "mcp-session-go-client",
		version: "0.1.0",
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = logging.Nop()
	}

	var caps protocol.Capabilities
	if c.sampling != nil {
		caps.Sampling = &protocol.SamplingCapability{}
	}

	c.session = session.New(t, session.Options{
		Role:           session.RoleClient,
		Info:           protocol.Implementation{Name: c.name, Version: c.version},
		Capabilities:   caps,
		Versions:       c.versions,
		RequestTimeout: c.requestTimeout,
		Logger:         c.logger,
		Observer:       c.observer,
		Tracer:         c.tracer,
	})
	c.logger = c.logger.WithFields(logging.String("component", "client"))

	if c.sampling != nil {
		c.session.Handle(protocol.MethodCreateMessage, c.handleCreateMessage)
	}
	return c
}

// Connect starts the session and performs the handshake. ctx bounds the
// handshake only; the session lives until Close or until the server goes
// away.
func (c *Client) Connect(ctx context.Context) (*protocol.InitializeResult, error) {
	if err := c.session.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	result, err := c.session.Initialize(ctx)
	if err != nil {
		c.session.Close()
		return nil, err
	}
	c.logger.Debug("connected",
		logging.String("server", result.ServerInfo.Name),
		logging.String("protocol_version", result.ProtocolVersion))
	return result, nil
}

// Session returns the underlying session
func (c *Client) Session() *session.Session { return c.session }

// ServerInfo returns the name and version the server reported
func (c *Client) ServerInfo() protocol.Implementation { return c.session.RemoteInfo() }

// Instructions returns the server's usage instructions, if any
func (c *Client) Instructions() string { return c.session.Instructions() }

// Supports reports whether the server declared a capability
func (c *Client) Supports(category session.Category, feature session.Feature) bool {
	return c.session.Capabilities().Supports(session.Remote, category, feature)
}

// Done is closed when the session ends
func (c *Client) Done() <-chan struct{} { return c.session.Done() }

// Close ends the session
func (c *Client) Close() error {
	return c.session.Close()
}

// Ping checks the server is responsive
func (c *Client) Ping(ctx context.Context) error {
	return c.session.Request(ctx, protocol.MethodPing, nil, nil)
}

// require reports lifecycle errors first: the server's capabilities are
// unknown until the handshake completes
func (c *Client) require(method string, category session.Category, feature session.Feature) error {
	switch st := c.session.State(); {
	case st >= session.StateClosing:
		return mcperrors.SessionClosed()
	case st < session.StateReady:
		return mcperrors.NotInitialized(method)
	}
	return c.session.Capabilities().Require(session.Remote, category, feature)
}

// call checks the server capability before sending anything
func (c *Client) call(ctx context.Context, category session.Category, feature session.Feature, method string, params, out any) error {
	if err := c.require(method, category, feature); err != nil {
		return err
	}
	return c.session.Request(ctx, method, params, out)
}

// ListTools returns one page of tools
func (c *Client) ListTools(ctx context.Context, cursor string) (*protocol.ListToolsResult, error) {
	var result protocol.ListToolsResult
	params := &protocol.ListToolsParams{PaginatedParams: protocol.PaginatedParams{Cursor: cursor}}
	if err := c.call(ctx, session.CategoryTools, session.FeatureNone, protocol.MethodListTools, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CallTool invokes a tool. args is marshalled as the arguments object and
// may be nil.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*protocol.CallToolResult, error) {
	params, err := toolParams(name, args)
	if err != nil {
		return nil, err
	}
	var result protocol.CallToolResult
	if err := c.call(ctx, session.CategoryTools, session.FeatureNone, protocol.MethodCallTool, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func toolParams(name string, args any) (*protocol.CallToolParams, error) {
	params := &protocol.CallToolParams{Name: name}
	if args == nil {
		return params, nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		params.Arguments = raw
		return params, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, mcperrors.InvalidArgument(name, mcperrors.Violation{
			Field:  "arguments",
			Reason: fmt.Sprintf("not encodable: %v", err),
		})
	}
	params.Arguments = raw
	return params, nil
}

// ListResources returns one page of static resources
func (c *Client) ListResources(ctx context.Context, cursor string) (*protocol.ListResourcesResult, error) {
	var result protocol.ListResourcesResult
	params := &protocol.ListResourcesParams{PaginatedParams: protocol.PaginatedParams{Cursor: cursor}}
	if err := c.call(ctx, session.CategoryResources, session.FeatureNone, protocol.MethodListResources, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResourceTemplates returns one page of resource templates
func (c *Client) ListResourceTemplates(ctx context.Context, cursor string) (*protocol.ListResourceTemplatesResult, error) {
	var result protocol.ListResourceTemplatesResult
	params := &protocol.ListResourceTemplatesParams{PaginatedParams: protocol.PaginatedParams{Cursor: cursor}}
	if err := c.call(ctx, session.CategoryResources, session.FeatureNone, protocol.MethodListResourceTemplates, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadResource reads the contents at uri
func (c *Client) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	var result protocol.ReadResourceResult
	params := &protocol.ReadResourceParams{URI: uri}
	if err := c.call(ctx, session.CategoryResources, session.FeatureNone, protocol.MethodReadResource, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Subscribe asks for notifications/resources/updated when uri changes
func (c *Client) Subscribe(ctx context.Context, uri string) error {
	return c.call(ctx, session.CategoryResources, session.FeatureSubscribe,
		protocol.MethodSubscribeResource, &protocol.SubscribeParams{URI: uri}, nil)
}

// Unsubscribe cancels a Subscribe
func (c *Client) Unsubscribe(ctx context.Context, uri string) error {
	return c.call(ctx, session.CategoryResources, session.FeatureSubscribe,
		protocol.MethodUnsubscribeResource, &protocol.SubscribeParams{URI: uri}, nil)
}

// ListPrompts returns one page of prompts
func (c *Client) ListPrompts(ctx context.Context, cursor string) (*protocol.ListPromptsResult, error) {
	var result protocol.ListPromptsResult
	params := &protocol.ListPromptsParams{PaginatedParams: protocol.PaginatedParams{Cursor: cursor}}
	if err := c.call(ctx, session.CategoryPrompts, session.FeatureNone, protocol.MethodListPrompts, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPrompt renders a prompt with the given arguments
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	var result protocol.GetPromptResult
	params := &protocol.GetPromptParams{Name: name, Arguments: args}
	if err := c.call(ctx, session.CategoryPrompts, session.FeatureNone, protocol.MethodGetPrompt, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetLogLevel sets the minimum level of notifications/message the server sends
func (c *Client) SetLogLevel(ctx context.Context, level protocol.LogLevel) error {
	if !level.Valid() {
		return mcperrors.InvalidArgument(protocol.MethodSetLogLevel,
			mcperrors.Violation{Field: "level", Reason: "unknown level " + string(level)})
	}
	return c.call(ctx, session.CategoryLogging, session.FeatureNone,
		protocol.MethodSetLogLevel, &protocol.SetLevelParams{Level: level}, nil)
}

func (c *Client) handleCreateMessage(ctx context.Context, req *session.Request) (result any, err error) {
	var params protocol.CreateMessageParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, mcperrors.InvalidParams(req.Method, err)
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = mcperrors.HandlerFailed("sampling", protocol.MethodCreateMessage, fmt.Errorf("panic: %v", p))
		}
	}()

	out, err := c.sampling.CreateMessage(ctx, &params)
	if err != nil {
		if mcpErr, ok := mcperrors.AsMCPError(err); ok {
			return nil, mcpErr
		}
		return nil, mcperrors.HandlerFailed("sampling", protocol.MethodCreateMessage, err)
	}
	if out == nil {
		return nil, mcperrors.HandlerFailed("sampling", protocol.MethodCreateMessage, fmt.Errorf("no result"))
	}
	return out, nil
}
