// Package server implements the server role of an MCP session.
//
// A Server owns three catalogs (resources, tools and prompts) and a
// subscription manager. Every transport it serves becomes a Peer with its own
// session. The catalogs are shared across peers.
//
// # Server Capabilities
//
// A server always declares:
//
//   - resources, with subscribe and listChanged
//   - tools and prompts, with listChanged
//   - logging, so clients may call logging/setLevel
//
// Clients are subscribed to the list-changed notifications when their
// handshake completes, and to resource updates through resources/subscribe.
//
// # Creating a Server
//
//	resources := registry.NewResources()
//	resources.Register("greeting://{name}", registry.ResourceInfo{MIMEType: "text/plain"},
//	    registry.TextResource(func(ctx context.Context, req registry.ResourceRequest) (string, error) {
//	        return "Hello, " + req.Params["name"] + "!", nil
//	    }))
//
//	srv := server.New(
//	    server.WithName("ExampleServer"),
//	    server.WithVersion("1.0.0"),
//	    server.WithResources(resources),
//	)
//
//	// blocks until the client disconnects
//	err := srv.ServeTransport(ctx, transport.Stdio())
//
// ServeListener serves socket connections and WebSocketHandler serves
// upgraded HTTP connections, one session per connection.
//
// # Sampling
//
// A handler reaches its client through PeerFromContext and may ask it to run
// a completion:
//
//	peer, _ := server.PeerFromContext(ctx)
//	result, err := peer.CreateMessage(ctx, &protocol.CreateMessageParams{...})
//
// CreateMessage fails with a capability error, without sending anything,
// when the client did not declare sampling.
package server
