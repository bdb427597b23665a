package mcp_test

import (
	"context"
	"fmt"

	mcp "github.com/ajitpratap0/mcp-session-go"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/registry"
)

func Example() {
	ctx := context.Background()

	resources := mcp.NewResources()
	_ = resources.Register("greeting://{name}", registry.ResourceInfo{MIMEType: "text/plain"},
		mcp.TextResource(func(_ context.Context, req registry.ResourceRequest) (string, error) {
			return "Hello, " + req.Params["name"] + "!", nil
		}))

	tools := mcp.NewTools()
	echo, _ := mcp.NewTool("echo", "Returns its input", []registry.Argument{
		{Name: "text", Type: registry.TypeString, Required: true},
	}, func(_ context.Context, args map[string]any, _ registry.ProgressReporter) (*protocol.CallToolResult, error) {
		return protocol.TextResult(args["text"].(string)), nil
	})
	_ = tools.Add(echo)

	srv := mcp.NewServer(mcp.WithServerName("example"), mcp.WithResources(resources), mcp.WithTools(tools))
	defer srv.Close()

	serverEnd, clientEnd := mcp.Pipe()
	if _, err := srv.Serve(ctx, serverEnd); err != nil {
		fmt.Println(err)
		return
	}

	c := mcp.NewClient(clientEnd, mcp.WithClientName("example-client"))
	defer c.Close()
	init, err := c.Connect(ctx)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(init.ServerInfo.Name, init.ProtocolVersion)

	result, _ := c.CallTool(ctx, "echo", map[string]any{"text": "ping"})
	fmt.Println(result.Content[0].Text)

	greeting, _ := c.ReadResource(ctx, "greeting://Ada")
	fmt.Println(greeting.Contents[0].Text)

	_, err = c.GetPrompt(ctx, "missing", nil)
	fmt.Println(err != nil)

	// Output:
	// example 2025-03-26
	// ping
	// Hello, Ada!
	// true
}
