package errors

// JSON-RPC 2.0 standard error codes
const (
	CodeParseError     int = -32700
	CodeInvalidRequest int = -32600
	CodeMethodNotFound int = -32601
	CodeInvalidParams  int = -32602
	CodeInternalError  int = -32603
)

// Session error codes, in the server-defined range
const (
	CodeConnectionClosed int = -32000 // transport severed or session closed
	CodeNotInitialized   int = -32001 // request before the handshake completed
	CodeResourceNotFound int = -32002

	CodeCapabilityNotSupported int = -32010

	CodeToolNotFound   int = -32020
	CodePromptNotFound int = -32021

	CodeHandlerFailed int = -32030

	CodeRequestTimeout int = -32040

	CodeVersionMismatch int = -32050
	CodeInvalidSequence int = -32051

	CodeRequestCancelled int = -32800
)

// ErrorCodeInfo describes a registered code
type ErrorCodeInfo struct {
	Code     int
	Name     string
	Category Category
	Severity Severity
}

var errorCodeRegistry = map[int]ErrorCodeInfo{
	CodeParseError:     {CodeParseError, "ParseError", CategoryProtocol, SeverityError},
	CodeInvalidRequest: {CodeInvalidRequest, "InvalidRequest", CategoryProtocol, SeverityError},
	CodeMethodNotFound: {CodeMethodNotFound, "MethodNotFound", CategoryNotFound, SeverityWarning},
	CodeInvalidParams:  {CodeInvalidParams, "InvalidParams", CategoryInvalidArgument, SeverityWarning},
	CodeInternalError:  {CodeInternalError, "InternalError", CategoryHandler, SeverityError},

	CodeConnectionClosed:       {CodeConnectionClosed, "ConnectionClosed", CategoryConnection, SeverityError},
	CodeNotInitialized:         {CodeNotInitialized, "NotInitialized", CategoryLifecycle, SeverityWarning},
	CodeResourceNotFound:       {CodeResourceNotFound, "ResourceNotFound", CategoryNotFound, SeverityWarning},
	CodeCapabilityNotSupported: {CodeCapabilityNotSupported, "CapabilityNotSupported", CategoryCapability, SeverityWarning},
	CodeToolNotFound:           {CodeToolNotFound, "ToolNotFound", CategoryNotFound, SeverityWarning},
	CodePromptNotFound:         {CodePromptNotFound, "PromptNotFound", CategoryNotFound, SeverityWarning},
	CodeHandlerFailed:          {CodeHandlerFailed, "HandlerFailed", CategoryHandler, SeverityError},
	CodeRequestTimeout:         {CodeRequestTimeout, "RequestTimeout", CategoryTimeout, SeverityWarning},
	CodeVersionMismatch:        {CodeVersionMismatch, "VersionMismatch", CategoryProtocol, SeverityCritical},
	CodeInvalidSequence:        {CodeInvalidSequence, "InvalidSequence", CategoryProtocol, SeverityError},
	CodeRequestCancelled:       {CodeRequestCancelled, "RequestCancelled", CategoryCancelled, SeverityInfo},
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

// GetErrorCodeCategory returns the category of an error code. Codes this module
// does not know are attributed to the peer's handler.
func GetErrorCodeCategory(code int) Category {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Category
	}
	return CategoryHandler
}

// GetErrorCodeSeverity returns the severity of an error code
func GetErrorCodeSeverity(code int) Severity {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Severity
	}
	return SeverityError
}
