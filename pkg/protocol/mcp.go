package protocol

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// LatestProtocolVersion is the version a peer prefers when none is configured
const LatestProtocolVersion = "2025-03-26"

// DefaultSupportedVersions lists the versions accepted when none are configured, newest first
var DefaultSupportedVersions = []string{"2025-03-26", "2024-11-05"}

const (
	// Lifecycle
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"

	// Resources
	MethodListResources         = "resources/list"
	MethodListResourceTemplates = "resources/templates/list"
	MethodReadResource          = "resources/read"
	MethodSubscribeResource     = "resources/subscribe"
	MethodUnsubscribeResource   = "resources/unsubscribe"
	MethodResourceUpdated       = "notifications/resources/updated"
	MethodResourcesListChanged  = "notifications/resources/list_changed"

	// Tools
	MethodListTools        = "tools/list"
	MethodCallTool         = "tools/call"
	MethodToolsListChanged = "notifications/tools/list_changed"

	// Prompts
	MethodListPrompts        = "prompts/list"
	MethodGetPrompt          = "prompts/get"
	MethodPromptsListChanged = "notifications/prompts/list_changed"

	// Client features
	MethodCreateMessage = "sampling/createMessage"

	// Utilities
	MethodCancelled   = "notifications/cancelled"
	MethodProgress    = "notifications/progress"
	MethodSetLogLevel = "logging/setLevel"
	MethodLogMessage  = "notifications/message"
)

// Implementation names a peer. It is informational only.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ResourcesCapability is declared by servers that expose resources
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsCapability is declared by servers that expose tools
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability is declared by servers that expose prompts
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// LoggingCapability is declared by servers that emit log notifications
type LoggingCapability struct{}

// SamplingCapability is declared by clients that can run model completions
type SamplingCapability struct{}

// Capabilities is the descriptor each peer sends during the handshake.
// A nil category means the peer did not declare it.
type Capabilities struct {
	Resources    *ResourcesCapability       `json:"resources,omitempty"`
	Tools        *ToolsCapability           `json:"tools,omitempty"`
	Prompts      *PromptsCapability         `json:"prompts,omitempty"`
	Logging      *LoggingCapability         `json:"logging,omitempty"`
	Sampling     *SamplingCapability        `json:"sampling,omitempty"`
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
}

// InitializeParams is sent by the client to open a session
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResult is the server's reply to initialize
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// VersionMismatchData is attached to a failed negotiation
type VersionMismatchData struct {
	Requested string   `json:"requested"`
	Supported []string `json:"supported"`
}

// ProgressToken links progress notifications to the request that asked for them
type ProgressToken = ID

// RequestMeta carries protocol-level request metadata
type RequestMeta struct {
	ProgressToken *ProgressToken `json:"progressToken,omitempty"`
}

// CancelledParams is carried by notifications/cancelled
type CancelledParams struct {
	RequestID ID     `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// ProgressParams is carried by notifications/progress
type ProgressParams struct {
	ProgressToken ProgressToken   `json:"progressToken"`
	Progress      float64         `json:"progress"`
	Total         float64         `json:"total,omitempty"`
	Message       string          `json:"message,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// EmptyResult is returned by requests that carry no payload
type EmptyResult struct{}

// LogLevel is an MCP (syslog style) log severity
type LogLevel string

const (
	LogLevelDebug     LogLevel = "debug"
	LogLevelInfo      LogLevel = "info"
	LogLevelNotice    LogLevel = "notice"
	LogLevelWarning   LogLevel = "warning"
	LogLevelError     LogLevel = "error"
	LogLevelCritical  LogLevel = "critical"
	LogLevelAlert     LogLevel = "alert"
	LogLevelEmergency LogLevel = "emergency"
)

var logLevelRank = map[LogLevel]int{
	LogLevelDebug:     0,
	LogLevelInfo:      1,
	LogLevelNotice:    2,
	LogLevelWarning:   3,
	LogLevelError:     4,
	LogLevelCritical:  5,
	LogLevelAlert:     6,
	LogLevelEmergency: 7,
}

// Valid reports whether the level is one of the defined levels
func (l LogLevel) Valid() bool {
	_, ok := logLevelRank[l]
	return ok
}

// Enabled reports whether a message at level msg passes a threshold of l
func (l LogLevel) Enabled(msg LogLevel) bool {
	return logLevelRank[msg] >= logLevelRank[l]
}

// SetLevelParams is sent with logging/setLevel
type SetLevelParams struct {
	Level LogLevel `json:"level"`
}

// LogMessageParams is carried by notifications/message
type LogMessageParams struct {
	Level  LogLevel    `json:"level"`
	Logger string      `json:"logger,omitempty"`
	Data   interface{} `json:"data"`
}

// PaginatedParams is embedded by list requests
type PaginatedParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// PaginatedResult is embedded by list results
type PaginatedResult struct {
	NextCursor string `json:"nextCursor,omitempty"`
}

// ErrNoCommonVersion is returned when negotiation cannot find a version both peers accept
var ErrNoCommonVersion = errors.New("no common protocol version")

// CompareVersions compares two version strings segment by segment. Segments are
// split on '.' and '-' and compared numerically when both are numbers, so
// "1.10" sorts after "1.9" and "2024-11-05" before "2025-03-26".
func CompareVersions(a, b string) int {
	as := splitVersion(a)
	bs := splitVersion(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		if c := compareSegment(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func splitVersion(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool { return r == '.' || r == '-' })
}

func compareSegment(x, y string) int {
	xn, xerr := strconv.Atoi(orZero(x))
	yn, yerr := strconv.Atoi(orZero(y))
	if xerr == nil && yerr == nil {
		switch {
		case xn < yn:
			return -1
		case xn > yn:
			return 1
		}
		return 0
	}
	return strings.Compare(x, y)
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// NegotiateVersion picks the version a responder answers with. The requested
// version wins when supported; otherwise the highest supported version lower than
// it is chosen. ErrNoCommonVersion means every supported version is newer.
func NegotiateVersion(requested string, supported []string) (string, error) {
	best := ""
	for _, v := range supported {
		c := CompareVersions(v, requested)
		if c == 0 {
			return v, nil
		}
		if c < 0 && (best == "" || CompareVersions(v, best) > 0) {
			best = v
		}
	}
	if best == "" {
		return "", ErrNoCommonVersion
	}
	return best, nil
}

// SupportsVersion reports whether v is in the supported list
func SupportsVersion(v string, supported []string) bool {
	for _, s := range supported {
		if CompareVersions(s, v) == 0 {
			return true
		}
	}
	return false
}
