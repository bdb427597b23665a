package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// ToWire converts any error into the error object of a response. Errors that
// are not MCPErrors are reported as handler failures so no raw fault crosses
// the protocol boundary.
func ToWire(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	mcpErr, ok := AsMCPError(err)
	if !ok {
		mcpErr = ConvertStandardError(err)
	}

	wire := &protocol.Error{
		Code:    protocol.ErrorCode(mcpErr.Code()),
		Message: mcpErr.Message(),
	}
	if data := mcpErr.Data(); data != nil {
		if raw, err := json.Marshal(data); err == nil {
			wire.Data = raw
		}
	}
	return wire
}

// FromWire rebuilds an MCPError from a response error object. The category is
// recovered from the code, so a peer's handler failure arrives as a handler
// failure and its not-found as not-found.
func FromWire(wire *protocol.Error) MCPError {
	if wire == nil {
		return nil
	}

	code := int(wire.Code)
	err := NewError(code, wire.Message, GetErrorCodeCategory(code), GetErrorCodeSeverity(code))
	if len(wire.Data) > 0 {
		err = err.WithData(wire.Data)
	}
	return err
}

// ConvertStandardError maps plain Go errors onto MCPErrors
func ConvertStandardError(err error) MCPError {
	if err == nil {
		return nil
	}
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return WrapError(err, CodeRequestTimeout, "deadline exceeded", CategoryTimeout, SeverityWarning)
	case stderrors.Is(err, context.Canceled):
		return WrapError(err, CodeRequestCancelled, "cancelled", CategoryCancelled, SeverityInfo)
	case stderrors.Is(err, protocol.ErrMalformedMessage):
		return MalformedMessage(err)
	default:
		return WrapError(err, CodeInternalError, err.Error(), CategoryHandler, SeverityError)
	}
}
