// Package pkg holds the sub-packages of the MCP session core.
//
//   - protocol: JSON-RPC 2.0 wire types and the message codec
//   - session: handshake, state machine, request correlation, capability checks
//   - transport: duplex frame transports and frame middleware
//   - registry: resource, tool and prompt catalogs with URI templates
//   - subscription: change fan-out to peers, optionally across processes over Redis
//   - server, client: the two session roles
//   - fsresource: files under a directory served as resources
//   - pagination: opaque cursors for list operations
//   - config, logging, errors, observability: configuration, structured
//     logging, categorized errors, metrics and tracing
package pkg
