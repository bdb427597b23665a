// Package transport supplies the duplex message streams a session runs on.
//
// Every binding implements the same three-method Transport interface, so the
// session engine never sees how frames are carried:
//
//   - Stdio and StartProcess: newline-delimited JSON over a pipe pair, either
//     this process' stdin/stdout or a child process'.
//   - NewConn and Dial: newline-delimited JSON over a net.Conn (TCP or unix).
//   - NewWebSocket, DialWebSocket and WebSocketHandler: one text frame per message.
//   - Pipe: an in-memory pair for tests and in-process wiring.
//
// Dial and DialWebSocket retry with capped exponential backoff (see Backoff).
// Once a session is running, a severed transport is final: the session closes
// and the caller dials again.
//
// Middleware wraps a Transport to observe frames:
//
//	t = transport.ChainMiddleware(transport.WithLogging(logger), transport.WithObserver(metrics)).Wrap(t)
package transport
