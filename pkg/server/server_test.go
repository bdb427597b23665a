package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/registry"
	"github.com/ajitpratap0/mcp-session-go/pkg/session"
	"github.com/ajitpratap0/mcp-session-go/pkg/subscription"
	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	resources := registry.NewResources()
	require.NoError(t, resources.Register("greeting://{name}", registry.ResourceInfo{Name: "greeting", MIMEType: "text/plain"},
		registry.TextResource(func(_ context.Context, req registry.ResourceRequest) (string, error) {
			return fmt.Sprintf("Hello, %s!", req.Params["name"]), nil
		})))
	require.NoError(t, resources.Register("config://app", registry.ResourceInfo{Name: "config", MIMEType: "application/json"},
		registry.TextResource(func(context.Context, registry.ResourceRequest) (string, error) {
			return `{"debug":false}`, nil
		})))

	tools := registry.NewTools()
	echo, err := registry.NewTool("echo", "Echoes text", []registry.Argument{
		{Name: "text", Type: registry.TypeString, Required: true},
	}, func(_ context.Context, args map[string]any, _ registry.ProgressReporter) (*protocol.CallToolResult, error) {
		return protocol.TextResult(args["text"].(string)), nil
	})
	require.NoError(t, err)
	require.NoError(t, tools.Add(echo))

	prompts := registry.NewPrompts()
	require.NoError(t, prompts.Register(protocol.Prompt{
		Name:      "review",
		Arguments: []protocol.PromptArgument{{Name: "code", Required: true}},
	}, registry.TextPrompt(func(_ context.Context, args map[string]string) (string, error) {
		return "Review this: " + args["code"], nil
	})))

	srv := New(append([]Option{
		WithName("test-server"),
		WithResources(resources),
		WithTools(tools),
		WithPrompts(prompts),
	}, opts...)...)
	t.Cleanup(func() { srv.Close() })
	return srv
}

// connect serves one end of a pipe and runs the handshake from the other
func connect(t *testing.T, srv *Server, caps protocol.Capabilities, configure func(cli *session.Session)) (*Peer, *session.Session) {
	t.Helper()
	st, ct := transport.Pipe()

	p, err := srv.Serve(context.Background(), st)
	require.NoError(t, err)

	cli := session.New(ct, session.Options{
		Role:         session.RoleClient,
		Info:         protocol.Implementation{Name: "test-client", Version: "0.1.0"},
		Capabilities: caps,
	})
	t.Cleanup(func() { cli.Close() })
	if configure != nil {
		configure(cli)
	}
	require.NoError(t, cli.Start(context.Background()))

	_, err = cli.Initialize(testContext(t))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return p.Session().State() == session.StateReady
	}, time.Second, 5*time.Millisecond)
	return p, cli
}

func TestReadTemplatedResource(t *testing.T) {
	srv := newTestServer(t)
	_, cli := connect(t, srv, protocol.Capabilities{}, nil)

	var result protocol.ReadResourceResult
	err := cli.Request(testContext(t), protocol.MethodReadResource,
		&protocol.ReadResourceParams{URI: "greeting://Ada"}, &result)
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "Hello, Ada!", result.Contents[0].Text)
	assert.Equal(t, "text/plain", result.Contents[0].MIMEType)

	err = cli.Request(testContext(t), protocol.MethodReadResource,
		&protocol.ReadResourceParams{URI: "file:///nowhere"}, &result)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryNotFound), "got %v", err)
}

func TestListings(t *testing.T) {
	srv := newTestServer(t)
	_, cli := connect(t, srv, protocol.Capabilities{}, nil)
	ctx := testContext(t)

	var resources protocol.ListResourcesResult
	require.NoError(t, cli.Request(ctx, protocol.MethodListResources, nil, &resources))
	require.Len(t, resources.Resources, 1)
	assert.Equal(t, "config://app", resources.Resources[0].URI)

	var templates protocol.ListResourceTemplatesResult
	require.NoError(t, cli.Request(ctx, protocol.MethodListResourceTemplates, nil, &templates))
	require.Len(t, templates.ResourceTemplates, 1)
	assert.Equal(t, "greeting://{name}", templates.ResourceTemplates[0].URITemplate)

	var tools protocol.ListToolsResult
	require.NoError(t, cli.Request(ctx, protocol.MethodListTools, nil, &tools))
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "echo", tools.Tools[0].Name)
	assert.NotEmpty(t, tools.Tools[0].InputSchema)

	var prompts protocol.ListPromptsResult
	require.NoError(t, cli.Request(ctx, protocol.MethodListPrompts, nil, &prompts))
	require.Len(t, prompts.Prompts, 1)
	assert.Equal(t, "review", prompts.Prompts[0].Name)
}

func TestListPagination(t *testing.T) {
	tools := registry.NewTools()
	for i := 0; i < 5; i++ {
		tool, err := registry.NewTool(fmt.Sprintf("tool-%d", i), "", nil,
			func(context.Context, map[string]any, registry.ProgressReporter) (*protocol.CallToolResult, error) {
				return protocol.TextResult("ok"), nil
			})
		require.NoError(t, err)
		require.NoError(t, tools.Add(tool))
	}
	srv := New(WithTools(tools), WithPageSize(2))
	t.Cleanup(func() { srv.Close() })
	_, cli := connect(t, srv, protocol.Capabilities{}, nil)
	ctx := testContext(t)

	var names []string
	cursor := ""
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5, "pagination did not terminate")
		var result protocol.ListToolsResult
		params := &protocol.ListToolsParams{PaginatedParams: protocol.PaginatedParams{Cursor: cursor}}
		require.NoError(t, cli.Request(ctx, protocol.MethodListTools, params, &result))
		assert.LessOrEqual(t, len(result.Tools), 2)
		for _, tool := range result.Tools {
			names = append(names, tool.Name)
		}
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}
	assert.Equal(t, []string{"tool-0", "tool-1", "tool-2", "tool-3", "tool-4"}, names)

	params := &protocol.ListToolsParams{PaginatedParams: protocol.PaginatedParams{Cursor: "not a cursor"}}
	err := cli.Request(ctx, protocol.MethodListTools, params, nil)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)
}

func TestCallTool(t *testing.T) {
	srv := newTestServer(t)
	_, cli := connect(t, srv, protocol.Capabilities{}, nil)
	ctx := testContext(t)

	var result protocol.CallToolResult
	err := cli.Request(ctx, protocol.MethodCallTool, &protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	}, &result)
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hi", result.Content[0].Text)

	err = cli.Request(ctx, protocol.MethodCallTool, &protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{}`),
	}, &result)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)

	err = cli.Request(ctx, protocol.MethodCallTool, &protocol.CallToolParams{Name: "nope"}, &result)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeToolNotFound), "got %v", err)
}

func TestCallToolReportsProgress(t *testing.T) {
	tools := registry.NewTools()
	slow, err := registry.NewTool("slow", "", nil,
		func(ctx context.Context, _ map[string]any, progress registry.ProgressReporter) (*protocol.CallToolResult, error) {
			for i := 1; i <= 3; i++ {
				if err := progress.Report(ctx, float64(i), 3, "step"); err != nil {
					return nil, err
				}
			}
			return protocol.TextResult("done"), nil
		})
	require.NoError(t, err)
	require.NoError(t, tools.Add(slow))

	srv := New(WithTools(tools))
	t.Cleanup(func() { srv.Close() })
	_, cli := connect(t, srv, protocol.Capabilities{}, nil)
	ctx := testContext(t)

	stream, err := cli.RequestStream(ctx, protocol.MethodCallTool, &protocol.CallToolParams{Name: "slow"})
	require.NoError(t, err)

	var seen []float64
	for p := range stream.Updates(ctx) {
		seen = append(seen, p.Progress)
		assert.Equal(t, float64(3), p.Total)
	}
	assert.Equal(t, []float64{1, 2, 3}, seen)

	var result protocol.CallToolResult
	require.NoError(t, stream.Result(ctx, &result))
	assert.Equal(t, "done", result.Content[0].Text)
}

func TestGetPrompt(t *testing.T) {
	srv := newTestServer(t)
	_, cli := connect(t, srv, protocol.Capabilities{}, nil)
	ctx := testContext(t)

	var result protocol.GetPromptResult
	err := cli.Request(ctx, protocol.MethodGetPrompt, &protocol.GetPromptParams{
		Name:      "review",
		Arguments: map[string]string{"code": "x := 1"},
	}, &result)
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "Review this: x := 1", result.Messages[0].Content.Text)

	err = cli.Request(ctx, protocol.MethodGetPrompt, &protocol.GetPromptParams{Name: "review"}, &result)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)

	err = cli.Request(ctx, protocol.MethodGetPrompt, &protocol.GetPromptParams{Name: "missing"}, &result)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodePromptNotFound), "got %v", err)
}

func TestResourceSubscription(t *testing.T) {
	srv := newTestServer(t)
	updates := make(chan string, 4)
	_, cli := connect(t, srv, protocol.Capabilities{}, func(cli *session.Session) {
		cli.HandleNotification(protocol.MethodResourceUpdated, func(_ context.Context, params json.RawMessage) error {
			var p protocol.ResourceUpdatedParams
			if err := json.Unmarshal(params, &p); err != nil {
				return err
			}
			updates <- p.URI
			return nil
		})
	})
	ctx := testContext(t)

	err := cli.Request(ctx, protocol.MethodSubscribeResource, &protocol.SubscribeParams{URI: "file:///missing"}, nil)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryNotFound), "got %v", err)

	require.NoError(t, cli.Request(ctx, protocol.MethodSubscribeResource, &protocol.SubscribeParams{URI: "greeting://Ada"}, nil))

	// only the subscribed URI is delivered
	require.NoError(t, srv.NotifyResourceUpdated(ctx, "greeting://Bob"))
	require.NoError(t, srv.NotifyResourceUpdated(ctx, "greeting://Ada"))
	select {
	case uri := <-updates:
		assert.Equal(t, "greeting://Ada", uri)
	case <-ctx.Done():
		t.Fatal("no update received")
	}

	require.NoError(t, cli.Request(ctx, protocol.MethodUnsubscribeResource, &protocol.SubscribeParams{URI: "greeting://Ada"}, nil))
	assert.Empty(t, srv.Subscriptions().Subscribers(subscription.Resource("greeting://Ada")))
}

func TestListChangedAfterRegistration(t *testing.T) {
	srv := newTestServer(t)
	changed := make(chan struct{}, 1)
	p, _ := connect(t, srv, protocol.Capabilities{}, func(cli *session.Session) {
		cli.HandleNotification(protocol.MethodToolsListChanged, func(context.Context, json.RawMessage) error {
			changed <- struct{}{}
			return nil
		})
	})
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{p.ID()}, srv.Subscriptions().Subscribers(subscription.ToolList))
	}, time.Second, 5*time.Millisecond)

	extra, err := registry.NewTool("extra", "", nil,
		func(context.Context, map[string]any, registry.ProgressReporter) (*protocol.CallToolResult, error) {
			return protocol.TextResult("ok"), nil
		})
	require.NoError(t, err)
	require.NoError(t, srv.Tools().Add(extra))

	select {
	case <-changed:
	case <-testContext(t).Done():
		t.Fatal("no list_changed notification")
	}
}

func TestSamplingBridge(t *testing.T) {
	var asked atomic.Int32
	tools := registry.NewTools()
	summarize, err := registry.NewTool("summarize", "", nil,
		func(ctx context.Context, _ map[string]any, _ registry.ProgressReporter) (*protocol.CallToolResult, error) {
			peer, ok := PeerFromContext(ctx)
			if !ok {
				return nil, fmt.Errorf("no peer in context")
			}
			result, err := peer.CreateMessage(ctx, &protocol.CreateMessageParams{
				Messages:  []protocol.SamplingMessage{{Role: protocol.RoleUser, Content: protocol.TextContent("summarize")}},
				MaxTokens: 100,
			})
			if err != nil {
				return nil, err
			}
			return protocol.TextResult(result.Content.Text), nil
		})
	require.NoError(t, err)
	require.NoError(t, tools.Add(summarize))
	srv := New(WithTools(tools))
	t.Cleanup(func() { srv.Close() })

	_, cli := connect(t, srv, protocol.Capabilities{Sampling: &protocol.SamplingCapability{}}, func(cli *session.Session) {
		cli.Handle(protocol.MethodCreateMessage, func(context.Context, *session.Request) (any, error) {
			asked.Add(1)
			return &protocol.CreateMessageResult{
				Role:    protocol.RoleAssistant,
				Content: protocol.TextContent("short"),
				Model:   "test-model",
			}, nil
		})
	})

	var result protocol.CallToolResult
	require.NoError(t, cli.Request(testContext(t), protocol.MethodCallTool, &protocol.CallToolParams{Name: "summarize"}, &result))
	assert.Equal(t, "short", result.Content[0].Text)
	assert.Equal(t, int32(1), asked.Load())
}

func TestSamplingRequiresCapability(t *testing.T) {
	srv := newTestServer(t)
	var asked atomic.Int32
	p, _ := connect(t, srv, protocol.Capabilities{}, func(cli *session.Session) {
		cli.Handle(protocol.MethodCreateMessage, func(context.Context, *session.Request) (any, error) {
			asked.Add(1)
			return nil, nil
		})
	})

	_, err := p.CreateMessage(testContext(t), &protocol.CreateMessageParams{
		Messages:  []protocol.SamplingMessage{{Role: protocol.RoleUser, Content: protocol.TextContent("hi")}},
		MaxTokens: 10,
	})
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCapability), "got %v", err)
	assert.Zero(t, asked.Load(), "nothing may be sent without the capability")
}

func TestSamplingValidatesParams(t *testing.T) {
	srv := newTestServer(t)
	p, _ := connect(t, srv, protocol.Capabilities{Sampling: &protocol.SamplingCapability{}}, nil)

	_, err := p.CreateMessage(testContext(t), &protocol.CreateMessageParams{MaxTokens: 10})
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)

	_, err = p.CreateMessage(testContext(t), &protocol.CreateMessageParams{
		Messages: []protocol.SamplingMessage{{Role: protocol.RoleUser, Content: protocol.TextContent("hi")}},
	})
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)
}

func TestLogLevelFiltering(t *testing.T) {
	srv := newTestServer(t)
	messages := make(chan protocol.LogMessageParams, 4)
	p, cli := connect(t, srv, protocol.Capabilities{}, func(cli *session.Session) {
		cli.HandleNotification(protocol.MethodLogMessage, func(_ context.Context, params json.RawMessage) error {
			var m protocol.LogMessageParams
			if err := json.Unmarshal(params, &m); err != nil {
				return err
			}
			messages <- m
			return nil
		})
	})
	ctx := testContext(t)

	err := cli.Request(ctx, protocol.MethodSetLogLevel, &protocol.SetLevelParams{Level: "verbose"}, nil)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)

	require.NoError(t, cli.Request(ctx, protocol.MethodSetLogLevel, &protocol.SetLevelParams{Level: protocol.LogLevelWarning}, nil))
	assert.Equal(t, protocol.LogLevelWarning, p.LogLevel())

	require.NoError(t, p.Log(ctx, protocol.LogLevelInfo, "app", "filtered"))
	require.NoError(t, p.Log(ctx, protocol.LogLevelError, "app", "delivered"))
	assert.Error(t, p.Log(ctx, "loud", "app", "bad level"))

	select {
	case m := <-messages:
		assert.Equal(t, protocol.LogLevelError, m.Level)
		assert.Equal(t, "delivered", m.Data)
	case <-ctx.Done():
		t.Fatal("no log message received")
	}
	assert.Empty(t, messages)
}

func TestPeerLoggerForwardsEntries(t *testing.T) {
	srv := newTestServer(t)
	messages := make(chan protocol.LogMessageParams, 4)
	p, cli := connect(t, srv, protocol.Capabilities{}, func(cli *session.Session) {
		cli.HandleNotification(protocol.MethodLogMessage, func(_ context.Context, params json.RawMessage) error {
			var m protocol.LogMessageParams
			if err := json.Unmarshal(params, &m); err != nil {
				return err
			}
			messages <- m
			return nil
		})
	})
	ctx := testContext(t)
	require.NoError(t, cli.Request(ctx, protocol.MethodSetLogLevel, &protocol.SetLevelParams{Level: protocol.LogLevelWarning}, nil))

	logger := p.Logger("indexer").WithFields(logging.String("dir", "/srv"))
	logger.Info("scanning")
	logger.Warn("slow disk", logging.Int("ms", 250))

	select {
	case m := <-messages:
		assert.Equal(t, protocol.LogLevelWarning, m.Level)
		assert.Equal(t, "indexer", m.Logger)
		data, ok := m.Data.(map[string]interface{})
		require.True(t, ok, "data is %T", m.Data)
		assert.Equal(t, "slow disk", data["message"])
		assert.Equal(t, "/srv", data["dir"])
		assert.Equal(t, float64(250), data["ms"])
	case <-ctx.Done():
		t.Fatal("no log message received")
	}
	assert.Empty(t, messages)
}

func TestPeerTracking(t *testing.T) {
	srv := newTestServer(t)
	p, cli := connect(t, srv, protocol.Capabilities{}, nil)

	require.Len(t, srv.Peers(), 1)
	assert.Equal(t, "test-client", p.ClientInfo().Name)
	require.NoError(t, p.Ping(testContext(t)))

	cli.Close()
	require.Eventually(t, func() bool { return len(srv.Peers()) == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, srv.Subscriptions().Subscribers(subscription.ToolList))
}

func TestServeAfterCloseReleasesTransport(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Close())

	st, ct := transport.Pipe()
	_, err := srv.Serve(context.Background(), st)
	assert.ErrorIs(t, err, subscription.ErrClosed)
	assert.Empty(t, srv.Peers())

	_, err = ct.Read(testContext(t))
	assert.Error(t, err, "server end of the pipe is closed")
}

func TestServeListener(t *testing.T) {
	srv := newTestServer(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(ctx, l) }()

	conn, err := transport.Dial(testContext(t), "tcp", l.Addr().String(), transport.DefaultBackoff())
	require.NoError(t, err)
	cli := session.New(conn, session.Options{Role: session.RoleClient})
	require.NoError(t, cli.Start(context.Background()))

	result, err := cli.Initialize(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "test-server", result.ServerInfo.Name)
	assert.NotNil(t, result.Capabilities.Resources)

	var read protocol.ReadResourceResult
	require.NoError(t, cli.Request(testContext(t), protocol.MethodReadResource,
		&protocol.ReadResourceParams{URI: "greeting://Tcp"}, &read))
	assert.Equal(t, "Hello, Tcp!", read.Contents[0].Text)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeListener did not return")
	}
	cli.Close()
}
