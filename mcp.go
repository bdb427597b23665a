package mcp

import (
	"github.com/ajitpratap0/mcp-session-go/pkg/client"
	"github.com/ajitpratap0/mcp-session-go/pkg/config"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/registry"
	"github.com/ajitpratap0/mcp-session-go/pkg/server"
	"github.com/ajitpratap0/mcp-session-go/pkg/session"
	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

// Version is the version of this module
const Version = "0.1.0"

// LatestProtocolVersion is the newest protocol revision spoken by default
const LatestProtocolVersion = protocol.LatestProtocolVersion

// Entry points into the sub-packages
var (
	NewClient  = client.New
	NewServer  = server.New
	NewSession = session.New

	Pipe         = transport.Pipe
	Stdio        = transport.Stdio
	NewConn      = transport.NewConn
	Dial         = transport.Dial
	DialWS       = transport.DialWebSocket
	StartProcess = transport.StartProcess

	LoadConfig = config.Load
)

// Catalog constructors
var (
	NewResources = registry.NewResources
	NewTools     = registry.NewTools
	NewPrompts   = registry.NewPrompts
	NewTool      = registry.NewTool
	TextResource = registry.TextResource
	TextPrompt   = registry.TextPrompt
)

// Client options
var (
	WithClientName      = client.WithName
	WithClientVersion   = client.WithVersion
	WithSamplingHandler = client.WithSamplingHandler
)

// Server options
var (
	WithServerName    = server.WithName
	WithServerVersion = server.WithVersion
	WithInstructions  = server.WithInstructions
	WithResources     = server.WithResources
	WithTools         = server.WithTools
	WithPrompts       = server.WithPrompts
	WithLogger        = server.WithLogger
)
