// Package mcp is the root of an implementation of the Model Context Protocol
// session core: the JSON-RPC codec, request correlation, the initialize
// handshake and its state machine, capability negotiation, the resource,
// tool and prompt catalogs, subscriptions and the sampling bridge.
//
// The root package only re-exports the common entry points. The work is
// done in the sub-packages:
//
//   - pkg/protocol: wire types and the message codec
//   - pkg/session: one session of either role over a transport
//   - pkg/transport: pipe, stdio, subprocess, socket and websocket bindings
//   - pkg/registry: resource, tool and prompt catalogs
//   - pkg/subscription: change fan-out to subscribed peers
//   - pkg/server and pkg/client: the two roles built on pkg/session
//   - pkg/fsresource: a directory served as resources
//   - pkg/config, pkg/logging, pkg/errors, pkg/observability: ambient support
//
// # Serving
//
//	tools := mcp.NewTools()
//	echo, _ := mcp.NewTool("echo", "Returns its input", []registry.Argument{
//	    {Name: "text", Type: registry.TypeString, Required: true},
//	}, func(ctx context.Context, args map[string]any, _ registry.ProgressReporter) (*protocol.CallToolResult, error) {
//	    return protocol.TextResult(args["text"].(string)), nil
//	})
//	tools.Add(echo)
//
//	srv := mcp.NewServer(mcp.WithServerName("echo"), mcp.WithTools(tools))
//	err := srv.ServeTransport(ctx, mcp.Stdio())
//
// # Connecting
//
//	c, err := client.Spawn(ctx, exec.Command("echo-server"))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	result, err := c.CallTool(ctx, "echo", map[string]any{"text": "hi"})
//
// A client only calls what the server declared during the handshake. Anything
// else fails with a capability error before a frame is written.
package mcp
