// Package protocol defines the wire format of an MCP session: the JSON-RPC 2.0
// envelope, its codec, and the typed payloads of every method.
//
// # Envelope
//
// Every frame is a single Message. Which fields are present decides its kind:
//
//	{"jsonrpc":"2.0","id":1,"method":"tools/list"}                  request
//	{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}                  response
//	{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"…"}}  error response
//	{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}   notification
//
// Decode rejects anything else with an error wrapping ErrMalformedMessage.
//
// # Package Organization
//
//   - jsonrpc.go: envelope, identifiers, codec
//   - mcp.go: method names, capability descriptor, handshake, version negotiation,
//     progress, cancellation and logging payloads
//   - resources.go, tools.go, prompts.go, sampling.go: per-primitive payloads
//   - content.go: content blocks shared by tools, prompts and sampling
//
// # Handshake
//
//  1. Client sends initialize with its preferred protocol version and capabilities
//  2. Server answers with the negotiated version (see NegotiateVersion) and its own capabilities
//  3. Client checks the version against its supported list and sends notifications/initialized
//  4. Either side may now issue requests the other declared support for
package protocol
