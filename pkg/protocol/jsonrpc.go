package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const (
	// JSONRPCVersion is the only JSON-RPC version accepted on the wire
	JSONRPCVersion = "2.0"
)

// ErrorCode represents standard JSON-RPC 2.0 error codes
type ErrorCode int

// Standard error codes as per JSON-RPC 2.0 specification
const (
	ParseError     ErrorCode = -32700
	InvalidRequest ErrorCode = -32600
	MethodNotFound ErrorCode = -32601
	InvalidParams  ErrorCode = -32602
	InternalError  ErrorCode = -32603
)

// Kind classifies a decoded message
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// ErrMalformedMessage is returned by Decode for frames that are not a
// well-formed JSON-RPC 2.0 request, response or notification.
var ErrMalformedMessage = errors.New("malformed message")

// ID is a JSON-RPC correlation identifier. It is either a number or a string
// and is echoed back in the form it was received.
type ID struct {
	num   int64
	str   string
	isStr bool
}

// NumberID returns a numeric identifier
func NumberID(n int64) ID {
	return ID{num: n}
}

// StringID returns a string identifier
func StringID(s string) ID {
	return ID{str: s, isStr: true}
}

// IsString reports whether the identifier was a JSON string
func (id ID) IsString() bool {
	return id.isStr
}

// Key returns a value usable as a map key. Numbers and strings never collide.
func (id ID) Key() string {
	if id.isStr {
		return "s:" + id.str
	}
	return "n:" + strconv.FormatInt(id.num, 10)
}

func (id ID) String() string {
	if id.isStr {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id must be a string or an integer: %w", err)
	}
	*id = NumberID(n)
	return nil
}

// Error is the error object carried by an error response
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code = %d desc = %s", e.Code, e.Message)
}

// Message is the single wire envelope for requests, responses and
// notifications. Which fields are present decides its Kind.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Kind returns the message classification:
// id and method make a request, id without method a response, method
// without id a notification.
func (m *Message) Kind() Kind {
	switch {
	case m.ID != nil && m.Method != "":
		if m.Result != nil || m.Error != nil {
			return KindInvalid
		}
		return KindRequest
	case m.ID != nil:
		if m.Result != nil && m.Error != nil {
			return KindInvalid
		}
		return KindResponse
	case m.Method != "":
		if m.Result != nil || m.Error != nil {
			return KindInvalid
		}
		return KindNotification
	case m.Error != nil && m.Result == nil:
		// error reply to a frame whose id could not be read
		return KindResponse
	default:
		return KindInvalid
	}
}

// UnmarshalParams decodes the params payload into v. A missing payload leaves v untouched.
func (m *Message) UnmarshalParams(v interface{}) error {
	if len(m.Params) == 0 || string(m.Params) == "null" {
		return nil
	}
	return json.Unmarshal(m.Params, v)
}

// UnmarshalResult decodes the result payload into v
func (m *Message) UnmarshalResult(v interface{}) error {
	if v == nil || len(m.Result) == 0 {
		return nil
	}
	return json.Unmarshal(m.Result, v)
}

func marshalPayload(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// NewRequest creates a new JSON-RPC 2.0 request
func NewRequest(id ID, method string, params interface{}) (*Message, error) {
	paramsJSON, err := marshalPayload(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Method:  method,
		Params:  paramsJSON,
	}, nil
}

// NewResponse creates a new JSON-RPC 2.0 success response.
// A nil result is sent as an empty object.
func NewResponse(id ID, result interface{}) (*Message, error) {
	resultJSON, err := marshalPayload(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	if resultJSON == nil {
		resultJSON = json.RawMessage("{}")
	}
	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Result:  resultJSON,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response
func NewErrorResponse(id ID, rpcErr *Error) *Message {
	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Error:   rpcErr,
	}
}

// NewNotification creates a new JSON-RPC 2.0 notification
func NewNotification(method string, params interface{}) (*Message, error) {
	paramsJSON, err := marshalPayload(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &Message{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsJSON,
	}, nil
}

// Encode serializes a message into one transport frame
func Encode(m *Message) ([]byte, error) {
	if m.JSONRPC == "" {
		m.JSONRPC = JSONRPCVersion
	}
	if m.Kind() == KindInvalid {
		return nil, fmt.Errorf("%w: cannot encode message without id or method", ErrMalformedMessage)
	}
	return json.Marshal(m)
}

// Decode parses one transport frame. The returned error wraps
// ErrMalformedMessage when the frame is not valid JSON-RPC 2.0.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("%w: unsupported jsonrpc version %q", ErrMalformedMessage, m.JSONRPC)
	}
	if m.Kind() == KindInvalid {
		return nil, fmt.Errorf("%w: cannot classify message", ErrMalformedMessage)
	}
	return &m, nil
}
