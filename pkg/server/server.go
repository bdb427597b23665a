package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/mcp-session-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/pagination"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/registry"
	"github.com/ajitpratap0/mcp-session-go/pkg/session"
	"github.com/ajitpratap0/mcp-session-go/pkg/subscription"
	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

// Server exposes resources, tools and prompts to any number of client
// sessions. Every accepted transport becomes one Peer.
type Server struct {
	name         string
	version      string
	instructions string
	versions     []string

	resources *registry.Resources
	tools     *registry.Tools
	prompts   *registry.Prompts
	subs      *subscription.Manager
	ownSubs   bool

	logger         logging.Logger
	observer       session.Observer
	tracer         trace.Tracer
	lifespan       session.LifespanFunc
	requestTimeout time.Duration
	maxConcurrent  int
	pageSize       int
	middleware     []transport.Middleware

	sealOnce sync.Once

	mu    sync.RWMutex
	peers map[string]*Peer
}

// Option configures a Server
type Option func(*Server)

// WithName sets the server name reported in the handshake
func WithName(name string) Option {
	return func(s *Server) {
		s.name = name
	}
}

// WithVersion sets the server version reported in the handshake
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithInstructions sets the instructions returned to clients on initialize
func WithInstructions(instructions string) Option {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithProtocolVersions sets the supported protocol versions, preferred first
func WithProtocolVersions(versions ...string) Option {
	return func(s *Server) {
		s.versions = versions
	}
}

// WithResources exposes a resource catalog
func WithResources(r *registry.Resources) Option {
	return func(s *Server) {
		s.resources = r
	}
}

// WithTools exposes a tool catalog
func WithTools(t *registry.Tools) Option {
	return func(s *Server) {
		s.tools = t
	}
}

// WithPrompts exposes a prompt catalog
func WithPrompts(p *registry.Prompts) Option {
	return func(s *Server) {
		s.prompts = p
	}
}

// WithSubscriptions shares a subscription manager, for example one backed by
// a Redis bus. The caller owns its lifecycle.
func WithSubscriptions(m *subscription.Manager) Option {
	return func(s *Server) {
		s.subs = m
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithObserver receives session lifecycle and request events
func WithObserver(o session.Observer) Option {
	return func(s *Server) {
		s.observer = o
	}
}

// WithTracer sets the tracer used for incoming request spans
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithLifespan acquires per-session state before a session serves anything
func WithLifespan(fn session.LifespanFunc) Option {
	return func(s *Server) {
		s.lifespan = fn
	}
}

// WithRequestTimeout bounds requests the server sends, such as sampling
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithMaxConcurrentRequests bounds handlers running at once per session
func WithMaxConcurrentRequests(n int) Option {
	return func(s *Server) {
		s.maxConcurrent = n
	}
}

// WithPageSize sets the page size of list results
func WithPageSize(n int) Option {
	return func(s *Server) {
		s.pageSize = n
	}
}

// WithMiddleware wraps every served transport, first middleware outermost
func WithMiddleware(mw ...transport.Middleware) Option {
	return func(s *Server) {
		s.middleware = append(s.middleware, mw...)
	}
}

// FromConfig turns the server, session and logging sections into options
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithName(cfg.Server.Name),
		WithVersion(cfg.Server.Version),
		WithProtocolVersions(cfg.Session.ProtocolVersions...),
		WithRequestTimeout(cfg.Session.RequestTimeout.Duration()),
		WithMaxConcurrentRequests(cfg.Session.MaxConcurrentRequests),
		WithPageSize(cfg.Session.PageSize),
		WithLogger(cfg.Logger()),
	}
}

// New creates a server. Catalogs not supplied are created empty, so every
// capability category is declared.
func New(opts ...Option) *Server {
	s := &Server{
		name:     "mcp-session-go",
		version:  "0.1.0",
		pageSize: pagination.DefaultLimit,
		peers:    make(map[string]*Peer),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logging.Nop()
	}
	s.logger = s.logger.WithFields(logging.String("component", "server"))
	if s.resources == nil {
		s.resources = registry.NewResources()
	}
	if s.tools == nil {
		s.tools = registry.NewTools()
	}
	if s.prompts == nil {
		s.prompts = registry.NewPrompts()
	}
	if s.subs == nil {
		s.subs = subscription.NewManager(subscription.Options{Logger: s.logger})
		s.ownSubs = true
	}
	s.pageSize = pagination.ClampLimit(s.pageSize)

	s.tools.OnChange(func() { s.listChanged(subscription.ToolList) })
	s.prompts.OnChange(func() { s.listChanged(subscription.PromptList) })
	s.resources.OnChange(func() { s.listChanged(subscription.ResourceList) })
	return s
}

func (s *Server) listChanged(t subscription.Target) {
	if err := s.subs.NotifyChanged(context.Background(), t); err != nil {
		s.logger.Warn("list change not published", logging.String("target", t.String()), logging.ErrorField(err))
	}
}

// Resources returns the resource catalog
func (s *Server) Resources() *registry.Resources { return s.resources }

// Tools returns the tool catalog
func (s *Server) Tools() *registry.Tools { return s.tools }

// Prompts returns the prompt catalog
func (s *Server) Prompts() *registry.Prompts { return s.prompts }

// Subscriptions returns the subscription manager
func (s *Server) Subscriptions() *subscription.Manager { return s.subs }

// Capabilities returns the declaration sent to every client
func (s *Server) Capabilities() protocol.Capabilities {
	return protocol.Capabilities{
		Resources: &protocol.ResourcesCapability{Subscribe: true, ListChanged: true},
		Tools:     &protocol.ToolsCapability{ListChanged: true},
		Prompts:   &protocol.PromptsCapability{ListChanged: true},
		Logging:   &protocol.LoggingCapability{},
	}
}

// NotifyResourceUpdated tells every client subscribed to uri that it changed
func (s *Server) NotifyResourceUpdated(ctx context.Context, uri string) error {
	return s.subs.NotifyChanged(ctx, subscription.Resource(uri))
}

// Serve starts a session over t and returns once it is running. The session
// closes when ctx is done, the client disconnects or Close is called.
func (s *Server) Serve(ctx context.Context, t transport.Transport) (*Peer, error) {
	// once a client can list them, catalogs are fixed in shape and changes
	// are announced instead
	s.sealOnce.Do(func() {
		s.resources.Seal()
		s.tools.Seal()
		s.prompts.Seal()
	})
	if len(s.middleware) > 0 {
		t = transport.ChainMiddleware(s.middleware...).Wrap(t)
	}

	sess := session.New(t, session.Options{
		Role:                  session.RoleServer,
		Info:                  protocol.Implementation{Name: s.name, Version: s.version},
		Capabilities:          s.Capabilities(),
		Versions:              s.versions,
		Instructions:          s.instructions,
		RequestTimeout:        s.requestTimeout,
		MaxConcurrentRequests: s.maxConcurrent,
		Logger:                s.logger,
		Observer:              s.observer,
		Tracer:                s.tracer,
		Lifespan:              s.lifespan,
	})
	p := newPeer(s, sess)
	p.register()

	if err := s.subs.Attach(p.ID(), sess); err != nil {
		sess.Close()
		return nil, err
	}
	s.mu.Lock()
	s.peers[p.ID()] = p
	s.mu.Unlock()

	sess.OnStateChange(func(_, to session.State) {
		if to == session.StateReady {
			p.subscribeLists()
		}
	})
	sess.OnClose(func(err error) {
		s.subs.Detach(p.ID())
		s.mu.Lock()
		delete(s.peers, p.ID())
		s.mu.Unlock()
		s.logger.Debug("peer left", logging.String("peer", p.ID()), logging.ErrorField(err))
	})

	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// ServeTransport serves one session and blocks until it ends. A client
// disconnecting is a normal end; protocol violations are returned.
func (s *Server) ServeTransport(ctx context.Context, t transport.Transport) error {
	p, err := s.Serve(ctx, t)
	if err != nil {
		return err
	}
	return sessionResult(p.Session().Wait())
}

func sessionResult(err error) error {
	if err == nil || mcperrors.IsCategory(err, mcperrors.CategoryConnection) {
		return nil
	}
	return err
}

// ServeListener accepts connections until ctx is done and serves each one
// as a session. It returns after every session it started has ended.
func (s *Server) ServeListener(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ServeTransport(ctx, transport.NewConn(conn)); err != nil {
				s.logger.Warn("session ended with error",
					logging.String("remote", conn.RemoteAddr().String()),
					logging.ErrorField(err))
			}
		}()
	}
}

// WebSocketHandler upgrades HTTP requests and serves each connection as a
// session that lives until ctx is done or the client goes away
func (s *Server) WebSocketHandler(ctx context.Context) http.Handler {
	return transport.NewWebSocketHandler(func(r *http.Request, t transport.Transport) {
		if err := s.ServeTransport(ctx, t); err != nil {
			s.logger.Warn("websocket session ended with error",
				logging.String("remote", r.RemoteAddr),
				logging.ErrorField(err))
		}
	})
}

// Peers returns the connected peers ordered by id
func (s *Server) Peers() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Close closes every session. A subscription manager created by New is
// closed too.
func (s *Server) Close() error {
	for _, p := range s.Peers() {
		p.Close()
	}
	if s.ownSubs {
		return s.subs.Close()
	}
	return nil
}
