package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name      string
		err       MCPError
		wantCode  int
		wantCat   Category
		wantFatal bool
	}{
		{"malformed", MalformedMessage(fmt.Errorf("bad json")), CodeParseError, CategoryProtocol, true},
		{"version mismatch", VersionMismatch("2.0", []string{"1.0"}), CodeVersionMismatch, CategoryProtocol, true},
		{"invalid sequence", InvalidSequence("second initialize"), CodeInvalidSequence, CategoryProtocol, true},
		{"session closed", SessionClosed(), CodeConnectionClosed, CategoryConnection, true},
		{"connection lost", ConnectionLost(fmt.Errorf("EOF")), CodeConnectionClosed, CategoryConnection, true},
		{"not initialized", NotInitialized("tools/list"), CodeNotInitialized, CategoryLifecycle, false},
		{"capability", CapabilityNotSupported("remote", "sampling", ""), CodeCapabilityNotSupported, CategoryCapability, false},
		{"resource not found", ResourceNotFound("file://x"), CodeResourceNotFound, CategoryNotFound, false},
		{"tool not found", ToolNotFound("nope"), CodeToolNotFound, CategoryNotFound, false},
		{"prompt not found", PromptNotFound("nope"), CodePromptNotFound, CategoryNotFound, false},
		{"invalid argument", InvalidArgument("echo", Violation{Field: "text", Reason: "required"}), CodeInvalidParams, CategoryInvalidArgument, false},
		{"handler", HandlerFailed("tool", "echo", fmt.Errorf("boom")), CodeHandlerFailed, CategoryHandler, false},
		{"timeout", Timeout("tools/call", time.Second), CodeRequestTimeout, CategoryTimeout, false},
		{"cancelled", Cancelled("tools/call"), CodeRequestCancelled, CategoryCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Code(); got != tt.wantCode {
				t.Errorf("Code() = %v, want %v", got, tt.wantCode)
			}
			if got := tt.err.Category(); got != tt.wantCat {
				t.Errorf("Category() = %v, want %v", got, tt.wantCat)
			}
			if got := IsFatal(tt.err); got != tt.wantFatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.wantFatal)
			}
			if tt.err.Error() == "" {
				t.Error("Error() returned empty string")
			}
			if tt.err.Context() == nil {
				t.Error("Context() should never return nil")
			}
		})
	}
}

func TestInvalidArgumentMessage(t *testing.T) {
	err := InvalidArgument("greet",
		Violation{Field: "name", Reason: "is required"},
		Violation{Field: "times", Reason: "must be integer"},
	)

	want := "invalid argument: name: is required; times: must be integer"
	if err.Message() != want {
		t.Errorf("Message() = %q, want %q", err.Message(), want)
	}

	data, ok := err.Data().(*InvalidArgumentErrorData)
	if !ok {
		t.Fatalf("Data() = %T, want *InvalidArgumentErrorData", err.Data())
	}
	if data.Target != "greet" || len(data.Violations) != 2 {
		t.Errorf("unexpected data: %+v", data)
	}
}

func TestHandlerFailedKeepsCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := HandlerFailed("resource", "file://a", cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if err.Error() != "resource file://a failed: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWithDetailAndContext(t *testing.T) {
	base := ToolNotFound("echo")
	detailed := base.WithDetail("first").WithDetail("second")

	if detailed.Details() != "first; second" {
		t.Errorf("Details() = %q", detailed.Details())
	}
	if base.Details() != "" {
		t.Error("WithDetail must not mutate the receiver")
	}

	withCtx := base.WithContext(&Context{SessionID: "s-1", Method: "tools/call"})
	if withCtx.Context().SessionID != "s-1" {
		t.Errorf("SessionID = %q", withCtx.Context().SessionID)
	}
	if withCtx.Context().Timestamp.IsZero() {
		t.Error("WithContext should stamp a timestamp")
	}
}

func TestAsMCPErrorThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("calling tool: %w", ToolNotFound("x"))

	mcpErr, ok := AsMCPError(wrapped)
	if !ok {
		t.Fatal("expected MCPError in chain")
	}
	if mcpErr.Code() != CodeToolNotFound {
		t.Errorf("Code() = %d", mcpErr.Code())
	}
	if !IsCategory(wrapped, CategoryNotFound) {
		t.Error("IsCategory should see through wrapping")
	}
	if _, ok := AsMCPError(fmt.Errorf("plain")); ok {
		t.Error("plain error is not an MCPError")
	}
	if IsFatal(nil) {
		t.Error("nil is not fatal")
	}
}

func TestWireRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantCat Category
	}{
		{"handler", HandlerFailed("tool", "echo", fmt.Errorf("boom")), CategoryHandler},
		{"not found", ResourceNotFound("greeting://x"), CategoryNotFound},
		{"invalid argument", InvalidArgument("echo", Violation{Field: "text", Reason: "required"}), CategoryInvalidArgument},
		{"capability", CapabilityNotSupported("client", "sampling", ""), CategoryCapability},
		{"not initialized", NotInitialized("ping"), CategoryLifecycle},
		{"plain error", fmt.Errorf("unexpected"), CategoryHandler},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := ToWire(tt.err)
			if wire == nil {
				t.Fatal("ToWire returned nil")
			}

			// through JSON, as a peer would see it
			data, err := json.Marshal(wire)
			if err != nil {
				t.Fatal(err)
			}
			var decoded protocol.Error
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatal(err)
			}

			back := FromWire(&decoded)
			if back.Category() != tt.wantCat {
				t.Errorf("Category() = %v, want %v", back.Category(), tt.wantCat)
			}
			if back.Message() != wire.Message {
				t.Errorf("Message() = %q, want %q", back.Message(), wire.Message)
			}
		})
	}
}

func TestWireDataIsStructured(t *testing.T) {
	wire := ToWire(VersionMismatch("2.0", []string{"1.0"}))

	var data VersionMismatchData
	if err := json.Unmarshal(wire.Data, &data); err != nil {
		t.Fatalf("data not decodable: %v", err)
	}
	if data.Requested != "2.0" || len(data.Supported) != 1 || data.Supported[0] != "1.0" {
		t.Errorf("unexpected data: %+v", data)
	}
}

func TestConvertStandardError(t *testing.T) {
	if got := ConvertStandardError(context.DeadlineExceeded); got.Category() != CategoryTimeout {
		t.Errorf("deadline: Category() = %v", got.Category())
	}
	if got := ConvertStandardError(context.Canceled); got.Category() != CategoryCancelled {
		t.Errorf("canceled: Category() = %v", got.Category())
	}
	malformed := fmt.Errorf("%w: truncated", protocol.ErrMalformedMessage)
	if got := ConvertStandardError(malformed); got.Category() != CategoryProtocol {
		t.Errorf("malformed: Category() = %v", got.Category())
	}
	if ConvertStandardError(nil) != nil {
		t.Error("nil in, nil out")
	}
}

func TestUnknownCodeIsHandlerFailure(t *testing.T) {
	err := FromWire(&protocol.Error{Code: -31999, Message: "custom"})
	if err.Category() != CategoryHandler {
		t.Errorf("Category() = %v", err.Category())
	}
	if GetErrorCodeName(-31999) != "UnknownError" {
		t.Error("unexpected name for unknown code")
	}
}
