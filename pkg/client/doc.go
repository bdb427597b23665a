// Package client provides the client role of an MCP session.
//
// A Client wraps one session. Every operation checks the capabilities the
// server declared during the handshake and fails with a capability error,
// without sending anything, when the server never offered it.
//
// # Connecting
//
//	c, err := client.Spawn(ctx, exec.Command("my-server"),
//	    client.WithName("ExampleClient"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	tools, err := c.ListAllTools(ctx)
//
// DialSocket and DialWebSocket connect to running servers. New and Connect
// work over any transport, and leave room to register notification callbacks
// before the handshake:
//
//	c := client.New(t)
//	c.OnResourceUpdated(func(uri string) { ... })
//	if _, err := c.Connect(ctx); err != nil {
//	    return err
//	}
//
// # Progress
//
// CallToolStreaming passes progress updates to a callback and returns the
// final result. CallToolStream returns the stream itself:
//
//	stream, err := c.CallToolStream(ctx, "index", args)
//	for update := range stream.Updates(ctx) {
//	    fmt.Printf("%.0f/%.0f\n", update.Progress, update.Total)
//	}
//	var result protocol.CallToolResult
//	err = stream.Result(ctx, &result)
//
// # Sampling
//
// A client that can run model completions passes WithSamplingHandler. The
// sampling capability is declared only then.
package client
