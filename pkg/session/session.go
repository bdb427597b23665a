package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

// Role is the side of the protocol a session plays
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// RequestHandler answers one incoming request. The returned value is
// marshalled as the result; a returned error becomes the error response.
type RequestHandler func(ctx context.Context, req *Request) (any, error)

// NotificationHandler receives one incoming notification
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

const (
	defaultMaxConcurrentRequests = 64
	cancelNotifyTimeout          = time.Second
	tracerName                   = "github.com/ajitpratap0/mcp-session-go/pkg/session"
)

// Options configure a Session
type Options struct {
	Role Role
	Info protocol.Implementation
	// Capabilities is the local declaration sent during the handshake
	Capabilities protocol.Capabilities
	// Versions lists the supported protocol versions, preferred first
	Versions []string
	// Instructions is sent by servers in the initialize result
	Instructions string
	// RequestTimeout applies to outgoing requests whose context has no
	// deadline. Zero disables it.
	RequestTimeout time.Duration
	// MaxConcurrentRequests bounds incoming handlers running at once
	MaxConcurrentRequests int
	Logger                logging.Logger
	Observer              Observer
	Tracer                trace.Tracer
	Lifespan              LifespanFunc
}

type inflightRequest struct {
	cancel        context.CancelFunc
	peerCancelled atomic.Bool
}

// Session runs the protocol over one transport: the handshake, request
// correlation in both directions, cancellation, progress and shutdown.
type Session struct {
	id        string
	opts      Options
	transport transport.Transport
	logger    logging.Logger
	observer  Observer
	tracer    trace.Tracer

	state      stateMachine
	correlator *Correlator
	caps       *CapabilityRegistry

	handlersMu           sync.RWMutex
	handlers             map[string]RequestHandler
	notificationHandlers map[string][]NotificationHandler

	inflightMu sync.Mutex
	inflight   map[string]*inflightRequest

	sem     *semaphore.Weighted
	writeMu sync.Mutex
	tasks   *taskQueue

	ctx     context.Context
	cancel  context.CancelFunc
	group   errgroup.Group
	started atomic.Bool

	infoMu       sync.RWMutex
	negotiated   string
	remoteInfo   protocol.Implementation
	instructions string

	lifespanValue any
	release       func()

	closeOnce  sync.Once
	closeMu    sync.Mutex
	closeHooks []func(error)
	closeErr   error
	closed     chan struct{}
	openedAt   time.Time
}

// New creates a session over t. Nothing is read or written until Start.
func New(t transport.Transport, opts Options) *Session {
	if len(opts.Versions) == 0 {
		opts.Versions = append([]string(nil), protocol.DefaultSupportedVersions...)
	}
	if opts.MaxConcurrentRequests <= 0 {
		opts.MaxConcurrentRequests = defaultMaxConcurrentRequests
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	s := &Session{
		id:                   uuid.NewString(),
		opts:                 opts,
		transport:            t,
		observer:             opts.Observer,
		tracer:               opts.Tracer,
		correlator:           NewCorrelator(),
		caps:                 NewCapabilityRegistry(opts.Capabilities),
		handlers:             make(map[string]RequestHandler),
		notificationHandlers: make(map[string][]NotificationHandler),
		inflight:             make(map[string]*inflightRequest),
		sem:                  semaphore.NewWeighted(int64(opts.MaxConcurrentRequests)),
		tasks:                newTaskQueue(),
		closed:               make(chan struct{}),
	}

	base := context.WithValue(context.Background(), sessionKey, s)
	base = logging.ContextWithSessionID(base, s.id)
	s.ctx, s.cancel = context.WithCancel(base)
	s.logger = opts.Logger.WithContext(s.ctx).WithFields(
		logging.String("component", "session"),
		logging.String("role", opts.Role.String()),
	)

	s.handlers[protocol.MethodPing] = func(context.Context, *Request) (any, error) {
		return &protocol.EmptyResult{}, nil
	}
	return s
}

// ID returns the session's unique identifier
func (s *Session) ID() string { return s.id }

// Role returns the side this session plays
func (s *Session) Role() Role { return s.opts.Role }

// State returns the current lifecycle state
func (s *Session) State() State { return s.state.get() }

// Capabilities returns the local and remote capability declarations
func (s *Session) Capabilities() *CapabilityRegistry { return s.caps }

// Logger returns the session's logger
func (s *Session) Logger() logging.Logger { return s.logger }

// Context is cancelled when the session starts closing. It carries the
// session and its lifespan value.
func (s *Session) Context() context.Context {
	if s.lifespanValue != nil {
		return WithLifespanValue(s.ctx, s.lifespanValue)
	}
	return s.ctx
}

// NegotiatedVersion returns the agreed protocol version, empty before Ready
func (s *Session) NegotiatedVersion() string {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.negotiated
}

// RemoteInfo returns the implementation metadata the peer sent
func (s *Session) RemoteInfo() protocol.Implementation {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.remoteInfo
}

// Instructions returns the server's instructions as seen by a client
func (s *Session) Instructions() string {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.instructions
}

// Handle registers the handler for an incoming request method, replacing any
// earlier one
func (s *Session) Handle(method string, h RequestHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[method] = h
}

// HandleNotification adds a handler for an incoming notification method.
// Handlers run one at a time, in arrival order, off the reader goroutine.
func (s *Session) HandleNotification(method string, h NotificationHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.notificationHandlers[method] = append(s.notificationHandlers[method], h)
}

// OnStateChange registers a hook called after every state transition
func (s *Session) OnStateChange(h StateHook) {
	s.state.onChange(h)
}

// OnClose registers fn to run once the session is Closed. fn receives the
// error that closed the session, nil for a local Close. If the session is
// already closed fn runs immediately.
func (s *Session) OnClose(fn func(error)) {
	s.closeMu.Lock()
	select {
	case <-s.closed:
		s.closeMu.Unlock()
		fn(s.closeErr)
		return
	default:
	}
	s.closeHooks = append(s.closeHooks, fn)
	s.closeMu.Unlock()
}

// Done is closed when the session reaches Closed
func (s *Session) Done() <-chan struct{} { return s.closed }

// Wait blocks until the session is Closed and returns the error that closed
// it, nil after a local Close
func (s *Session) Wait() error {
	<-s.closed
	return s.closeErr
}

// Start acquires the lifespan value and starts reading. It returns at once.
// Cancelling ctx closes the session.
func (s *Session) Start(ctx context.Context) error {
	if s.State() >= StateClosing {
		return mcperrors.SessionClosed()
	}
	if !s.started.CompareAndSwap(false, true) {
		return mcperrors.InvalidSequence("session already started")
	}
	s.openedAt = time.Now()
	s.observer.SessionOpened(s.opts.Role)

	if s.opts.Lifespan != nil {
		value, release, err := s.opts.Lifespan(ctx)
		if err != nil {
			lerr := mcperrors.Internal("lifespan setup", err)
			s.closeWithError(lerr)
			return lerr
		}
		s.lifespanValue = value
		s.release = release
	}

	s.group.Go(s.readLoop)
	s.group.Go(func() error {
		select {
		case <-ctx.Done():
			go s.closeWithError(nil)
		case <-s.ctx.Done():
		}
		return nil
	})
	go s.tasks.run(s.ctx)

	s.logger.Debug("session started")
	return nil
}

// Close shuts the session down. Pending outgoing requests fail with a
// connection error, running handlers are cancelled, the transport is closed
// and the lifespan value released. Safe to call more than once.
func (s *Session) Close() error {
	s.closeWithError(nil)
	return nil
}

func (s *Session) closing() bool {
	return s.State() >= StateClosing
}

func (s *Session) closeWithError(cause error) {
	s.closeOnce.Do(func() {
		if cause != nil {
			s.logger.Warn("closing session", logging.ErrorField(cause))
		} else {
			s.logger.Debug("closing session")
		}

		s.state.transition(StateClosing)

		var pendingErr error = mcperrors.SessionClosed()
		if mcperrors.IsCategory(cause, mcperrors.CategoryConnection) {
			pendingErr = cause
		}
		if n := s.correlator.failAll(pendingErr); n > 0 {
			s.logger.Debug("failed pending requests", logging.Int("count", n))
		}

		s.cancel()
		if err := s.transport.Close(); err != nil {
			s.logger.Debug("transport close", logging.ErrorField(err))
		}
		_ = s.group.Wait()

		if s.release != nil {
			s.release()
		}

		s.state.transition(StateClosed)
		if s.started.Load() {
			s.observer.SessionClosed(s.opts.Role, time.Since(s.openedAt))
		}

		s.closeMu.Lock()
		s.closeErr = cause
		hooks := s.closeHooks
		s.closeHooks = nil
		close(s.closed)
		s.closeMu.Unlock()

		for _, fn := range hooks {
			fn(cause)
		}
	})
}

// readLoop is the only reader of the transport. It never blocks on a
// handler: requests run on their own goroutines and notifications go through
// the task queue.
func (s *Session) readLoop() error {
	for {
		frame, err := s.transport.Read(s.ctx)
		if err != nil {
			if !s.closing() {
				go s.closeWithError(mcperrors.ConnectionLost(err))
			}
			return nil
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			perr := mcperrors.MalformedMessage(err)
			go func() {
				_ = s.writeMessage(s.ctx, &protocol.Message{JSONRPC: protocol.JSONRPCVersion, Error: mcperrors.ToWire(perr)})
				s.closeWithError(perr)
			}()
			return nil
		}

		switch msg.Kind() {
		case protocol.KindRequest:
			s.handleRequest(msg)
		case protocol.KindResponse:
			s.handleResponse(msg)
		case protocol.KindNotification:
			s.handleNotification(msg)
		}
	}
}

func (s *Session) handleResponse(msg *protocol.Message) {
	if msg.ID == nil {
		s.logger.Warn("peer could not read a message we sent", logging.String("error", msg.Error.Message))
		return
	}
	if !s.correlator.resolve(msg) {
		s.logger.Debug("discarding response with no pending request", logging.String("id", msg.ID.String()))
	}
}

func (s *Session) handleRequest(msg *protocol.Message) {
	req := &Request{
		ID:     *msg.ID,
		Method: msg.Method,
		Params: msg.Params,
		Meta:   decodeMeta(msg.Params),
	}

	if req.Method == protocol.MethodInitialize {
		s.handleInitialize(req)
		return
	}

	if st := s.State(); st != StateReady {
		if st < StateClosing {
			s.reject(req.ID, mcperrors.NotInitialized(req.Method))
		}
		return
	}

	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.reject(req.ID, mcperrors.MethodNotFound(req.Method))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	entry := &inflightRequest{cancel: cancel}

	key := req.ID.Key()
	s.inflightMu.Lock()
	if _, dup := s.inflight[key]; dup {
		s.inflightMu.Unlock()
		cancel()
		s.reject(req.ID, mcperrors.InvalidRequest("request id "+req.ID.String()+" is already in flight"))
		return
	}
	s.inflight[key] = entry
	s.inflightMu.Unlock()

	go s.runHandler(ctx, entry, req, handler)
}

func (s *Session) runHandler(ctx context.Context, entry *inflightRequest, req *Request, handler RequestHandler) {
	defer func() {
		entry.cancel()
		s.inflightMu.Lock()
		delete(s.inflight, req.ID.Key())
		s.inflightMu.Unlock()
	}()

	// waiting here rather than in the reader keeps responses flowing
	if err := s.sem.Acquire(ctx, 1); err != nil {
		if !entry.peerCancelled.Load() && !s.closing() {
			s.replyError(req.ID, mcperrors.Cancelled(req.Method))
		}
		return
	}
	defer s.sem.Release(1)

	ctx = context.WithValue(ctx, requestKey, req)
	ctx = logging.ContextWithRequestID(ctx, req.ID.String())
	if s.lifespanValue != nil {
		ctx = WithLifespanValue(ctx, s.lifespanValue)
	}

	ctx, span := s.tracer.Start(ctx, "mcp."+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("mcp.method", req.Method),
			attribute.String("mcp.session.id", s.id),
			attribute.String("rpc.jsonrpc.request_id", req.ID.String()),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := s.invoke(ctx, handler, req)
	s.observer.RequestCompleted(Inbound, req.Method, time.Since(start), err)
	endSpan(span, err)

	if entry.peerCancelled.Load() {
		s.logger.Debug("suppressing response to cancelled request",
			logging.String("method", req.Method), logging.String("id", req.ID.String()))
		return
	}
	if s.closing() {
		return
	}
	if err != nil {
		s.replyError(req.ID, err)
		return
	}
	s.reply(req.ID, result)
}

// invoke runs handler and turns panics and foreign errors into handler errors
func (s *Session) invoke(ctx context.Context, handler RequestHandler, req *Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic",
				logging.String("method", req.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			result = nil
			err = mcperrors.HandlerFailed("method", req.Method, fmt.Errorf("panic: %v", r))
		}
	}()

	result, err = handler(ctx, req)
	if err == nil {
		return result, nil
	}
	if _, ok := mcperrors.AsMCPError(err); ok {
		return nil, err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return nil, mcperrors.ConvertStandardError(err)
	}
	return nil, mcperrors.HandlerFailed("method", req.Method, err)
}

func (s *Session) handleInitialize(req *Request) {
	if s.opts.Role != RoleServer {
		s.reject(req.ID, mcperrors.MethodNotFound(req.Method))
		return
	}

	if !s.state.transitionFrom(StateUninitialized, StateInitializing) {
		s.failHandshake(req.ID, mcperrors.InvalidSequence("initialize received while "+s.State().String()))
		return
	}

	var params protocol.InitializeParams
	if len(req.Params) == 0 {
		s.failHandshake(req.ID, mcperrors.InvalidRequest("initialize without params"))
		return
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.failHandshake(req.ID, mcperrors.InvalidRequest("initialize params: "+err.Error()))
		return
	}

	version, err := protocol.NegotiateVersion(params.ProtocolVersion, s.opts.Versions)
	if err != nil {
		s.failHandshake(req.ID, mcperrors.VersionMismatch(params.ProtocolVersion, s.opts.Versions))
		return
	}

	s.caps.setRemote(params.Capabilities)
	s.infoMu.Lock()
	s.negotiated = version
	s.remoteInfo = params.ClientInfo
	s.infoMu.Unlock()

	result := &protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    s.caps.Local(),
		ServerInfo:      s.opts.Info,
		Instructions:    s.opts.Instructions,
	}
	// written before Ready so nothing of ours can precede the result
	if err := s.reply(req.ID, result); err != nil {
		return
	}

	s.state.transition(StateReady)
	s.logger.Info("session ready",
		logging.String("version", version),
		logging.String("client", params.ClientInfo.Name))
}

func (s *Session) failHandshake(id protocol.ID, err error) {
	go func() {
		s.replyError(id, err)
		s.closeWithError(err)
	}()
}

// reject answers a request the reader turned away. The write happens off the
// reader so a peer that stops reading cannot stall it.
func (s *Session) reject(id protocol.ID, err error) {
	go s.replyError(id, err)
}

func (s *Session) handleNotification(msg *protocol.Message) {
	s.observer.NotificationObserved(Inbound, msg.Method)

	switch msg.Method {
	case protocol.MethodCancelled:
		var p protocol.CancelledParams
		if err := msg.UnmarshalParams(&p); err != nil {
			s.logger.Debug("bad cancellation", logging.ErrorField(err))
			return
		}
		s.cancelInflight(p.RequestID, p.Reason)
		return
	case protocol.MethodProgress:
		var p protocol.ProgressParams
		if err := msg.UnmarshalParams(&p); err != nil {
			s.logger.Debug("bad progress notification", logging.ErrorField(err))
			return
		}
		if !s.correlator.progress(p) {
			s.logger.Debug("progress for unknown token", logging.String("token", p.ProgressToken.String()))
		}
		return
	}

	if s.State() != StateReady {
		s.logger.Debug("dropping notification before ready", logging.String("method", msg.Method))
		return
	}

	s.handlersMu.RLock()
	handlers := s.notificationHandlers[msg.Method]
	s.handlersMu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	method, params := msg.Method, msg.Params
	s.tasks.push(func(ctx context.Context) {
		if s.lifespanValue != nil {
			ctx = WithLifespanValue(ctx, s.lifespanValue)
		}
		for _, h := range handlers {
			s.runNotificationHandler(ctx, method, params, h)
		}
	})
}

func (s *Session) runNotificationHandler(ctx context.Context, method string, params json.RawMessage, h NotificationHandler) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notification handler panic", logging.String("method", method), logging.Any("panic", r))
		}
	}()
	if err := h(ctx, params); err != nil {
		s.logger.Warn("notification handler failed", logging.String("method", method), logging.ErrorField(err))
	}
}

func (s *Session) cancelInflight(id protocol.ID, reason string) {
	s.inflightMu.Lock()
	entry, ok := s.inflight[id.Key()]
	s.inflightMu.Unlock()
	if !ok {
		return
	}
	s.logger.Debug("peer cancelled request", logging.String("id", id.String()), logging.String("reason", reason))
	entry.peerCancelled.Store(true)
	entry.cancel()
}

// Outgoing traffic

func (s *Session) checkOutgoing(method string) error {
	st := s.State()
	switch {
	case st >= StateClosing:
		return mcperrors.SessionClosed()
	case method == protocol.MethodInitialize:
		return nil
	case st != StateReady:
		return mcperrors.NotInitialized(method)
	}
	return nil
}

// Initialize performs the client side of the handshake and, on success,
// sends notifications/initialized. Any failure closes the session.
func (s *Session) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	if s.opts.Role != RoleClient {
		return nil, mcperrors.InvalidSequence("only a client initiates the handshake")
	}
	if !s.started.Load() {
		return nil, mcperrors.InvalidSequence("session not started")
	}
	if !s.state.transitionFrom(StateUninitialized, StateInitializing) {
		if s.closing() {
			return nil, mcperrors.SessionClosed()
		}
		return nil, mcperrors.InvalidSequence("initialize called while " + s.State().String())
	}

	params := &protocol.InitializeParams{
		ProtocolVersion: s.opts.Versions[0],
		Capabilities:    s.caps.Local(),
		ClientInfo:      s.opts.Info,
	}

	var result protocol.InitializeResult
	// runs on the reader so no server request can overtake the transition
	onResponse := func(msg *protocol.Message) error {
		if msg.Error != nil {
			return mcperrors.FromWire(msg.Error)
		}
		if err := json.Unmarshal(msg.Result, &result); err != nil {
			return mcperrors.MalformedMessage(err)
		}
		if !protocol.SupportsVersion(result.ProtocolVersion, s.opts.Versions) {
			return mcperrors.VersionMismatch(result.ProtocolVersion, s.opts.Versions)
		}

		s.caps.setRemote(result.Capabilities)
		s.infoMu.Lock()
		s.negotiated = result.ProtocolVersion
		s.remoteInfo = result.ServerInfo
		s.instructions = result.Instructions
		s.infoMu.Unlock()

		s.state.transition(StateReady)
		return nil
	}

	if _, err := s.roundTrip(ctx, protocol.MethodInitialize, params, onResponse); err != nil {
		s.closeWithError(err)
		return nil, err
	}

	if err := s.Notify(ctx, protocol.MethodInitialized, nil); err != nil {
		return nil, err
	}

	s.logger.Info("session ready",
		logging.String("version", result.ProtocolVersion),
		logging.String("server", result.ServerInfo.Name))
	return &result, nil
}

// Request sends a request and waits for its response, decoding the result
// into out when out is not nil
func (s *Session) Request(ctx context.Context, method string, params, out any) error {
	msg, err := s.roundTrip(ctx, method, params, nil)
	if err != nil {
		return err
	}
	if err := msg.UnmarshalResult(out); err != nil {
		return mcperrors.Internal("decoding "+method+" result", err)
	}
	return nil
}

// RequestStream sends a request carrying a progress token and returns at
// once. Progress and the terminal result are read from the stream.
// Cancelling ctx, or calling Cancel on the stream, abandons the request.
func (s *Session) RequestStream(ctx context.Context, method string, params any) (*ProgressStream, error) {
	if err := s.checkOutgoing(method); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	ctx, cancelStream := context.WithCancel(ctx)
	stop := func() {
		cancelStream()
		cancel()
	}

	stream := newProgressStream(method, stop)
	ctx, span := s.startClientSpan(ctx, method)

	start := time.Now()
	call, err := s.send(ctx, method, params, stream, nil)
	if err != nil {
		endSpan(span, err)
		span.End()
		stop()
		return nil, err
	}

	go func() {
		defer stop()
		defer span.End()

		msg, err := s.await(ctx, call, start)
		s.observer.RequestCompleted(Outbound, method, time.Since(start), err)
		endSpan(span, err)

		var result json.RawMessage
		if msg != nil {
			result = msg.Result
		}
		stream.finish(result, err)
	}()
	return stream, nil
}

func (s *Session) roundTrip(ctx context.Context, method string, params any, onResponse func(*protocol.Message) error) (*protocol.Message, error) {
	if err := s.checkOutgoing(method); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ctx, span := s.startClientSpan(ctx, method)
	defer span.End()

	start := time.Now()
	call, err := s.send(ctx, method, params, nil, onResponse)
	if err == nil {
		var msg *protocol.Message
		msg, err = s.await(ctx, call, start)
		if err == nil {
			s.observer.RequestCompleted(Outbound, method, time.Since(start), nil)
			endSpan(span, nil)
			return msg, nil
		}
	}

	s.observer.RequestCompleted(Outbound, method, time.Since(start), err)
	endSpan(span, err)
	return nil, err
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			return context.WithTimeout(ctx, s.opts.RequestTimeout)
		}
	}
	return ctx, func() {}
}

func (s *Session) startClientSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "mcp."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("mcp.method", method),
			attribute.String("mcp.session.id", s.id),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if !span.IsRecording() {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func (s *Session) send(ctx context.Context, method string, params any, stream *ProgressStream, onResponse func(*protocol.Message) error) (*pendingCall, error) {
	call, err := s.correlator.add(method, stream, onResponse)
	if err != nil {
		return nil, err
	}

	if stream != nil {
		stream.token = call.id
		if params, err = withProgressToken(params, call.id); err != nil {
			s.correlator.remove(call.id)
			return nil, mcperrors.InvalidParams(method, err)
		}
	}

	msg, err := protocol.NewRequest(call.id, method, params)
	if err != nil {
		s.correlator.remove(call.id)
		return nil, mcperrors.InvalidParams(method, err)
	}
	if err := s.writeMessage(ctx, msg); err != nil {
		s.correlator.remove(call.id)
		return nil, err
	}
	return call, nil
}

func (s *Session) await(ctx context.Context, call *pendingCall, start time.Time) (*protocol.Message, error) {
	var out callOutcome
	select {
	case out = <-call.done:
	case <-ctx.Done():
		if !s.correlator.remove(call.id) {
			// resolved or failed concurrently; that outcome wins
			out = <-call.done
			break
		}
		if call.method != protocol.MethodInitialize {
			s.sendCancelled(call.id, ctx.Err().Error())
		}
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, mcperrors.Timeout(call.method, time.Since(start).Round(time.Millisecond))
		}
		return nil, mcperrors.Cancelled(call.method)
	}

	if out.err != nil {
		return out.msg, out.err
	}
	if out.msg.Error != nil {
		return out.msg, mcperrors.FromWire(out.msg.Error)
	}
	return out.msg, nil
}

// sendCancelled tells the peer a request was abandoned. Best effort.
func (s *Session) sendCancelled(id protocol.ID, reason string) {
	if s.closing() {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, cancelNotifyTimeout)
	defer cancel()
	if err := s.Notify(ctx, protocol.MethodCancelled, &protocol.CancelledParams{RequestID: id, Reason: reason}); err != nil {
		s.logger.Debug("could not send cancellation", logging.ErrorField(err))
	}
}

// Notify sends a notification. Only cancellation and progress may be sent
// before the session is Ready.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	st := s.State()
	if st >= StateClosing {
		return mcperrors.SessionClosed()
	}
	if st != StateReady && method != protocol.MethodCancelled && method != protocol.MethodProgress {
		return mcperrors.NotInitialized(method)
	}

	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.InvalidParams(method, err)
	}
	if err := s.writeMessage(ctx, msg); err != nil {
		return err
	}
	s.observer.NotificationObserved(Outbound, method)
	return nil
}

func (s *Session) reply(id protocol.ID, result any) error {
	msg, err := protocol.NewResponse(id, result)
	if err != nil {
		return s.replyError(id, mcperrors.Internal("encoding result", err))
	}
	return s.writeMessage(s.ctx, msg)
}

func (s *Session) replyError(id protocol.ID, err error) error {
	return s.writeMessage(s.ctx, protocol.NewErrorResponse(id, mcperrors.ToWire(err)))
}

// writeMessage serializes writes so frames leave in submission order. A
// transport failure closes the session.
func (s *Session) writeMessage(ctx context.Context, msg *protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return mcperrors.Internal("encoding message", err)
	}

	s.writeMu.Lock()
	err = s.transport.Write(ctx, frame)
	s.writeMu.Unlock()

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if s.closing() {
			return mcperrors.SessionClosed()
		}
		return mcperrors.ConvertStandardError(ctxErr)
	}
	cerr := mcperrors.ConnectionLost(err)
	if !s.closing() {
		go s.closeWithError(cerr)
	}
	return cerr
}

func decodeMeta(params json.RawMessage) *protocol.RequestMeta {
	if len(params) == 0 {
		return nil
	}
	var envelope struct {
		Meta *protocol.RequestMeta `json:"_meta"`
	}
	if err := json.Unmarshal(params, &envelope); err != nil {
		return nil
	}
	return envelope.Meta
}

// withProgressToken sets params._meta.progressToken, keeping other fields
func withProgressToken(params any, token protocol.ProgressToken) (json.RawMessage, error) {
	var raw []byte
	switch p := params.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	default:
		var err error
		if raw, err = json.Marshal(p); err != nil {
			return nil, err
		}
	}

	obj := map[string]json.RawMessage{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("params must be an object to carry a progress token: %w", err)
		}
	}

	meta := map[string]json.RawMessage{}
	if existing, ok := obj["_meta"]; ok && string(existing) != "null" {
		if err := json.Unmarshal(existing, &meta); err != nil {
			return nil, fmt.Errorf("_meta: %w", err)
		}
	}

	tok, err := json.Marshal(token)
	if err != nil {
		return nil, err
	}
	meta["progressToken"] = tok

	if obj["_meta"], err = json.Marshal(meta); err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}
