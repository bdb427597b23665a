// Package errors provides the structured error kinds of an MCP session.
// Every error crossing the protocol boundary is an MCPError carrying a JSON-RPC
// code, a category that decides how the session reacts, and optional
// structured data that travels to the peer.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Category classifies an error by how a session must react to it
type Category string

const (
	// CategoryProtocol covers malformed frames, version mismatch and handshake violations. Fatal.
	CategoryProtocol Category = "protocol"
	// CategoryConnection covers a severed or closed transport. Fatal.
	CategoryConnection Category = "connection"
	// CategoryCapability is an operation the peer never declared support for
	CategoryCapability Category = "capability"
	// CategoryNotFound is an unknown resource, tool, prompt or method
	CategoryNotFound Category = "not_found"
	// CategoryInvalidArgument is a schema validation failure
	CategoryInvalidArgument Category = "invalid_argument"
	// CategoryHandler is a failure raised by a registered handler
	CategoryHandler Category = "handler"
	// CategoryTimeout is a local deadline that expired before the response arrived
	CategoryTimeout Category = "timeout"
	// CategoryCancelled is a request abandoned by its caller
	CategoryCancelled Category = "cancelled"
	// CategoryLifecycle is traffic that arrived before the session was ready
	CategoryLifecycle Category = "lifecycle"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context records where and when an error occurred
type Context struct {
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MCPError is implemented by every error produced by this module
type MCPError interface {
	error

	// Code returns the JSON-RPC error code
	Code() int
	// Message returns the human-readable message sent to the peer
	Message() string
	// Details returns local debugging detail that is not sent to the peer
	Details() string
	// Data returns structured data sent to the peer
	Data() interface{}
	Category() Category
	Severity() Severity
	Context() *Context

	WithContext(ctx *Context) MCPError
	WithDetail(detail string) MCPError
	WithData(data interface{}) MCPError

	Unwrap() error
}

type baseError struct {
	code     int
	message  string
	details  string
	data     interface{}
	category Category
	severity Severity
	context  *Context
	cause    error
}

func (e *baseError) Error() string {
	msg := e.message
	if e.details != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.details)
	}
	if e.cause != nil && !strings.Contains(msg, e.cause.Error()) {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *baseError) Code() int          { return e.code }
func (e *baseError) Message() string    { return e.message }
func (e *baseError) Details() string    { return e.details }
func (e *baseError) Data() interface{}  { return e.data }
func (e *baseError) Category() Category { return e.category }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) Context() *Context  { return e.context }
func (e *baseError) Unwrap() error      { return e.cause }

func (e *baseError) WithContext(ctx *Context) MCPError {
	newErr := *e
	if ctx != nil && ctx.Timestamp.IsZero() {
		c := *ctx
		c.Timestamp = time.Now()
		ctx = &c
	}
	newErr.context = ctx
	return &newErr
}

func (e *baseError) WithDetail(detail string) MCPError {
	newErr := *e
	if newErr.details != "" {
		newErr.details = fmt.Sprintf("%s; %s", newErr.details, detail)
	} else {
		newErr.details = detail
	}
	return &newErr
}

func (e *baseError) WithData(data interface{}) MCPError {
	newErr := *e
	newErr.data = data
	return &newErr
}

// MarshalJSON implements json.Marshaler
func (e *baseError) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"code":     e.code,
		"message":  e.message,
		"category": string(e.category),
		"severity": string(e.severity),
	}
	if e.details != "" {
		out["details"] = e.details
	}
	if e.data != nil {
		out["data"] = e.data
	}
	if e.context != nil {
		out["context"] = e.context
	}
	if e.cause != nil {
		out["cause"] = e.cause.Error()
	}
	return json.Marshal(out)
}

// NewError creates a new MCPError
func NewError(code int, message string, category Category, severity Severity) MCPError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		context:  &Context{Timestamp: time.Now()},
	}
}

// WrapError wraps cause as an MCPError
func WrapError(cause error, code int, message string, category Category, severity Severity) MCPError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		cause:    cause,
		context:  &Context{Timestamp: time.Now()},
	}
}

// AsMCPError finds the first MCPError in err's chain
func AsMCPError(err error) (MCPError, bool) {
	if err == nil {
		return nil, false
	}
	var mcpErr MCPError
	if stderrors.As(err, &mcpErr) {
		return mcpErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, category Category) bool {
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Category() == category
	}
	return false
}

// IsCode reports whether err carries the given code
func IsCode(err error, code int) bool {
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Code() == code
	}
	return false
}

// IsFatal reports whether err must terminate the session. Only protocol and
// connection errors are fatal; every other kind is returned to its caller.
func IsFatal(err error) bool {
	return IsCategory(err, CategoryProtocol) || IsCategory(err, CategoryConnection)
}
