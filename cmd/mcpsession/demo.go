package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/registry"
	"github.com/ajitpratap0/mcp-session-go/pkg/server"
	"github.com/ajitpratap0/mcp-session-go/pkg/session"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"required,description=Text to send back"`
}

type countdownArgs struct {
	From    int `json:"from" jsonschema:"required,minimum=1,maximum=100,description=Number to count down from"`
	DelayMS int `json:"delay_ms,omitempty" jsonschema:"minimum=0,maximum=5000,description=Pause between steps in milliseconds"`
}

// demoCatalogs builds the tools, resources and prompts served by "serve"
func demoCatalogs() (*registry.Resources, *registry.Tools, *registry.Prompts, error) {
	tools := registry.NewTools()

	echo, err := registry.NewTypedTool("echo", "Returns its input",
		func(_ context.Context, args echoArgs, _ registry.ProgressReporter) (*protocol.CallToolResult, error) {
			return protocol.TextResult(args.Text), nil
		})
	if err != nil {
		return nil, nil, nil, err
	}
	countdown, err := registry.NewTypedTool("countdown", "Counts down to zero, reporting progress on the way",
		func(ctx context.Context, args countdownArgs, progress registry.ProgressReporter) (*protocol.CallToolResult, error) {
			total := float64(args.From)
			for i := args.From; i > 0; i-- {
				if err := progress.Report(ctx, total-float64(i)+1, total, fmt.Sprintf("%d", i)); err != nil {
					return nil, err
				}
				if args.DelayMS > 0 {
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(time.Duration(args.DelayMS) * time.Millisecond):
					}
				}
			}
			if peer, ok := server.PeerFromContext(ctx); ok {
				peer.Logger("countdown").Info("liftoff", logging.Int("from", args.From))
			}
			return protocol.TextResult("liftoff"), nil
		})
	if err != nil {
		return nil, nil, nil, err
	}
	for _, def := range []registry.Definition{echo, countdown} {
		if err := tools.Add(def); err != nil {
			return nil, nil, nil, err
		}
	}

	resources := registry.NewResources()
	err = resources.Register("greeting://{name}", registry.ResourceInfo{
		Name:        "greeting",
		Description: "A greeting for anyone",
		MIMEType:    "text/plain",
	}, registry.TextResource(func(_ context.Context, req registry.ResourceRequest) (string, error) {
		return fmt.Sprintf("Hello, %s!", req.Params["name"]), nil
	}))
	if err != nil {
		return nil, nil, nil, err
	}

	prompts := registry.NewPrompts()
	err = prompts.Register(protocol.Prompt{
		Name:        "summarize",
		Description: "Summarize a text, asking the client's model when it offers sampling",
		Arguments: []protocol.PromptArgument{
			{Name: "text", Description: "Text to summarize", Required: true},
		},
	}, registry.PromptFunc(summarize))
	if err != nil {
		return nil, nil, nil, err
	}

	return resources, tools, prompts, nil
}

func summarize(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
	request := "Summarize in one sentence:\n\n" + args["text"]
	result := &protocol.GetPromptResult{
		Description: "Summary request",
		Messages: []protocol.PromptMessage{
			{Role: protocol.RoleUser, Content: protocol.TextContent(request)},
		},
	}

	peer, ok := server.PeerFromContext(ctx)
	if !ok || !peer.Session().Capabilities().Supports(session.Remote, session.CategorySampling, session.FeatureNone) {
		return result, nil
	}

	reply, err := peer.CreateMessage(ctx, &protocol.CreateMessageParams{
		Messages:     []protocol.SamplingMessage{{Role: protocol.RoleUser, Content: protocol.TextContent(request)}},
		SystemPrompt: "You write short, plain summaries.",
		MaxTokens:    200,
	})
	if err != nil {
		return nil, err
	}
	result.Messages = append(result.Messages, protocol.PromptMessage{Role: protocol.RoleAssistant, Content: reply.Content})
	return result, nil
}
