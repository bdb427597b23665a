package session

import (
	"context"
	"encoding/json"

	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

type contextKey int

const (
	sessionKey contextKey = iota
	requestKey
	lifespanKey
)

// Request is an incoming request as seen by its handler
type Request struct {
	ID     protocol.ID
	Method string
	Params json.RawMessage
	// Meta is decoded from params._meta when present
	Meta *protocol.RequestMeta
}

// ProgressToken returns the token the peer asked progress to be reported
// under, or nil
func (r *Request) ProgressToken() *protocol.ProgressToken {
	if r.Meta == nil {
		return nil
	}
	return r.Meta.ProgressToken
}

// FromContext returns the session serving a handler invocation
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok
}

// RequestFromContext returns the request a handler is answering
func RequestFromContext(ctx context.Context) (*Request, bool) {
	r, ok := ctx.Value(requestKey).(*Request)
	return r, ok
}

// LifespanFunc acquires application state when a session starts. release
// runs exactly once when the session closes, whatever the reason.
type LifespanFunc func(ctx context.Context) (value any, release func(), err error)

// LifespanValue returns the state acquired by the session's LifespanFunc
func LifespanValue[T any](ctx context.Context) (T, bool) {
	v, ok := ctx.Value(lifespanKey).(T)
	return v, ok
}

// WithLifespanValue attaches lifespan state to ctx. Sessions do this for
// every handler; it is exported for handler tests.
func WithLifespanValue(ctx context.Context, value any) context.Context {
	return context.WithValue(ctx, lifespanKey, value)
}
