package errors

import (
	"fmt"
	"strings"
	"time"
)

// CapabilityErrorData is attached to capability errors
type CapabilityErrorData struct {
	Peer       string `json:"peer"`
	Capability string `json:"capability"`
	Feature    string `json:"feature,omitempty"`
}

// NotFoundErrorData is attached to not-found errors
type NotFoundErrorData struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// Violation is one argument that failed validation
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// InvalidArgumentErrorData is attached to argument validation failures
type InvalidArgumentErrorData struct {
	Target     string      `json:"target,omitempty"`
	Violations []Violation `json:"violations"`
}

// HandlerErrorData is attached to handler failures
type HandlerErrorData struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// VersionMismatchData is attached to failed version negotiation
type VersionMismatchData struct {
	Requested string   `json:"requested"`
	Supported []string `json:"supported"`
}

// Protocol errors

// MalformedMessage reports a frame that could not be decoded
func MalformedMessage(cause error) MCPError {
	return WrapError(cause, CodeParseError, "malformed message", CategoryProtocol, SeverityError)
}

// InvalidRequest reports a frame that decoded but violates the protocol
func InvalidRequest(detail string) MCPError {
	return NewError(CodeInvalidRequest, "invalid request", CategoryProtocol, SeverityError).WithDetail(detail)
}

// VersionMismatch reports a handshake with no common protocol version
func VersionMismatch(requested string, supported []string) MCPError {
	return NewError(
		CodeVersionMismatch,
		fmt.Sprintf("unsupported protocol version %q (supported: %s)", requested, strings.Join(supported, ", ")),
		CategoryProtocol,
		SeverityCritical,
	).WithData(&VersionMismatchData{Requested: requested, Supported: supported})
}

// InvalidSequence reports a handshake step out of order
func InvalidSequence(detail string) MCPError {
	return NewError(CodeInvalidSequence, "invalid message sequence", CategoryProtocol, SeverityError).WithDetail(detail)
}

// Lifecycle and connection errors

// NotInitialized rejects traffic that arrived before the session was ready
func NotInitialized(method string) MCPError {
	return NewError(CodeNotInitialized, "session not initialized", CategoryLifecycle, SeverityWarning).
		WithContext(&Context{Method: method})
}

// SessionClosed is returned by every operation on a closed session and
// delivered to requests that were pending when it closed
func SessionClosed() MCPError {
	return NewError(CodeConnectionClosed, "session closed", CategoryConnection, SeverityError)
}

// ConnectionLost wraps a transport failure
func ConnectionLost(cause error) MCPError {
	return WrapError(cause, CodeConnectionClosed, "connection lost", CategoryConnection, SeverityError)
}

// Capability errors

// CapabilityNotSupported reports an operation the peer never declared
func CapabilityNotSupported(peer, capability, feature string) MCPError {
	msg := fmt.Sprintf("%s peer does not support %s", peer, capability)
	if feature != "" {
		msg = fmt.Sprintf("%s peer does not support %s.%s", peer, capability, feature)
	}
	return NewError(CodeCapabilityNotSupported, msg, CategoryCapability, SeverityWarning).
		WithData(&CapabilityErrorData{Peer: peer, Capability: capability, Feature: feature})
}

// Not found errors

// ResourceNotFound reports a URI that matches no registration
func ResourceNotFound(uri string) MCPError {
	return NewError(CodeResourceNotFound, fmt.Sprintf("resource not found: %s", uri), CategoryNotFound, SeverityWarning).
		WithData(&NotFoundErrorData{Kind: "resource", Name: uri})
}

// ToolNotFound reports an unknown tool name
func ToolNotFound(name string) MCPError {
	return NewError(CodeToolNotFound, fmt.Sprintf("tool not found: %s", name), CategoryNotFound, SeverityWarning).
		WithData(&NotFoundErrorData{Kind: "tool", Name: name})
}

// PromptNotFound reports an unknown prompt name
func PromptNotFound(name string) MCPError {
	return NewError(CodePromptNotFound, fmt.Sprintf("prompt not found: %s", name), CategoryNotFound, SeverityWarning).
		WithData(&NotFoundErrorData{Kind: "prompt", Name: name})
}

// MethodNotFound reports a request method with no handler
func MethodNotFound(method string) MCPError {
	return NewError(CodeMethodNotFound, fmt.Sprintf("method not found: %s", method), CategoryNotFound, SeverityWarning).
		WithData(&NotFoundErrorData{Kind: "method", Name: method})
}

// Argument errors

// InvalidArgument reports arguments that failed validation
func InvalidArgument(target string, violations ...Violation) MCPError {
	msg := "invalid argument"
	if len(violations) > 0 {
		parts := make([]string, 0, len(violations))
		for _, v := range violations {
			parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Reason))
		}
		msg = fmt.Sprintf("invalid argument: %s", strings.Join(parts, "; "))
	}
	return NewError(CodeInvalidParams, msg, CategoryInvalidArgument, SeverityWarning).
		WithData(&InvalidArgumentErrorData{Target: target, Violations: violations})
}

// InvalidParams reports request params that could not be decoded
func InvalidParams(method string, cause error) MCPError {
	return WrapError(cause, CodeInvalidParams, fmt.Sprintf("invalid params for %s", method), CategoryInvalidArgument, SeverityWarning)
}

// Handler errors

// HandlerFailed wraps the failure of a registered handler. kind is "tool",
// "resource", "prompt" or "sampling".
func HandlerFailed(kind, name string, cause error) MCPError {
	msg := fmt.Sprintf("%s %s failed", kind, name)
	if cause != nil {
		// the peer only sees Message, so the cause text goes there
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &baseError{
		code:     CodeHandlerFailed,
		message:  msg,
		data:     &HandlerErrorData{Kind: kind, Name: name},
		category: CategoryHandler,
		severity: SeverityError,
		context:  &Context{Timestamp: time.Now()},
		cause:    cause,
	}
}

// Internal wraps an unexpected failure of this module itself
func Internal(operation string, cause error) MCPError {
	return WrapError(cause, CodeInternalError, fmt.Sprintf("internal error during %s", operation), CategoryHandler, SeverityError)
}

// Timeout and cancellation

// Timeout reports a request whose response did not arrive in time
func Timeout(method string, after time.Duration) MCPError {
	return NewError(CodeRequestTimeout, fmt.Sprintf("request %s timed out after %s", method, after), CategoryTimeout, SeverityWarning).
		WithContext(&Context{Method: method})
}

// Cancelled reports a request abandoned by its caller
func Cancelled(method string) MCPError {
	return NewError(CodeRequestCancelled, fmt.Sprintf("request %s cancelled", method), CategoryCancelled, SeverityInfo).
		WithContext(&Context{Method: method})
}
