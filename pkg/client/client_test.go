package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-session-go/internal/leakcheck"
	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/registry"
	"github.com/ajitpratap0/mcp-session-go/pkg/server"
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

type echoArgs struct {
	Text string `json:"text" jsonschema:"required"`
}

func newTestServer(t *testing.T, opts ...server.Option) *server.Server {
	t.Helper()

	resources := registry.NewResources()
	require.NoError(t, resources.Register("greeting://{name}", registry.ResourceInfo{MIMEType: "text/plain"},
		registry.TextResource(func(_ context.Context, req registry.ResourceRequest) (string, error) {
			return fmt.Sprintf("Hello, %s!", req.Params["name"]), nil
		})))

	tools := registry.NewTools()
	echo, err := registry.NewTypedTool("echo", "Echoes text",
		func(_ context.Context, args echoArgs, _ registry.ProgressReporter) (*protocol.CallToolResult, error) {
			return protocol.TextResult(args.Text), nil
		})
	require.NoError(t, err)
	require.NoError(t, tools.Add(echo))

	count, err := registry.NewTool("count", "Counts to three", nil,
		func(ctx context.Context, _ map[string]any, progress registry.ProgressReporter) (*protocol.CallToolResult, error) {
			for i := 1; i <= 3; i++ {
				if err := progress.Report(ctx, float64(i), 3, ""); err != nil {
					return nil, err
				}
			}
			return protocol.TextResult("three"), nil
		})
	require.NoError(t, err)
	require.NoError(t, tools.Add(count))

	prompts := registry.NewPrompts()
	require.NoError(t, prompts.Register(protocol.Prompt{
		Name:      "greet",
		Arguments: []protocol.PromptArgument{{Name: "name", Required: true}},
	}, registry.TextPrompt(func(_ context.Context, args map[string]string) (string, error) {
		return "Say hello to " + args["name"], nil
	})))

	srv := server.New(append([]server.Option{
		server.WithName("test-server"),
		server.WithResources(resources),
		server.WithTools(tools),
		server.WithPrompts(prompts),
	}, opts...)...)
	t.Cleanup(func() { srv.Close() })
	return srv
}

// connectPipe serves srv over a pipe and returns a connected client.
// configure runs before the handshake.
func connectPipe(t *testing.T, srv *server.Server, configure func(c *Client), options ...Option) *Client {
	t.Helper()
	st, ct := transport.Pipe()
	_, err := srv.Serve(context.Background(), st)
	require.NoError(t, err)

	c := New(ct, options...)
	t.Cleanup(func() { c.Close() })
	if configure != nil {
		configure(c)
	}
	_, err = c.Connect(testContext(t))
	require.NoError(t, err)
	return c
}

func onlyPeer(t *testing.T, srv *server.Server) *server.Peer {
	t.Helper()
	var peer *server.Peer
	require.Eventually(t, func() bool {
		peers := srv.Peers()
		if len(peers) != 1 || peers[0].Session().State() != session.StateReady {
			return false
		}
		peer = peers[0]
		return true
	}, time.Second, 5*time.Millisecond)
	return peer
}

func TestConnect(t *testing.T) {
	srv := newTestServer(t, server.WithInstructions("use the echo tool"))
	c := connectPipe(t, srv, nil, WithName("test-client"))

	assert.Equal(t, "test-server", c.ServerInfo().Name)
	assert.Equal(t, "use the echo tool", c.Instructions())
	assert.True(t, c.Supports(session.CategoryResources, session.FeatureSubscribe))
	assert.True(t, c.Supports(session.CategoryLogging, session.FeatureNone))
	assert.False(t, c.Supports(session.CategorySampling, session.FeatureNone))
	require.NoError(t, c.Ping(testContext(t)))

	assert.Equal(t, "test-client", onlyPeer(t, srv).ClientInfo().Name)
}

func TestConnectVersionMismatch(t *testing.T) {
	srv := newTestServer(t, server.WithProtocolVersions("1.0"))
	st, ct := transport.Pipe()
	_, err := srv.Serve(context.Background(), st)
	require.NoError(t, err)

	c := New(ct, WithProtocolVersions("0.9"))
	_, err = c.Connect(testContext(t))
	require.Error(t, err)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client session should be closed after a failed handshake")
	}
}

func TestToolsResourcesPrompts(t *testing.T) {
	srv := newTestServer(t)
	c := connectPipe(t, srv, nil)
	ctx := testContext(t)

	tools, err := c.ListAllTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)

	result, err := c.CallTool(ctx, "echo", echoArgs{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Content[0].Text)

	_, err = c.CallTool(ctx, "echo", map[string]any{})
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)

	templates, err := c.ListAllResourceTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)

	read, err := c.ReadResource(ctx, "greeting://World")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", read.Contents[0].Text)

	prompts, err := c.ListAllPrompts(ctx)
	require.NoError(t, err)
	require.Len(t, prompts, 1)

	rendered, err := c.GetPrompt(ctx, "greet", map[string]string{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Say hello to Ada", rendered.Messages[0].Content.Text)
}

func TestListAllFollowsCursors(t *testing.T) {
	srv := newTestServer(t, server.WithPageSize(1))
	c := connectPipe(t, srv, nil)

	page, err := c.ListTools(testContext(t), "")
	require.NoError(t, err)
	assert.Len(t, page.Tools, 1)
	assert.NotEmpty(t, page.NextCursor)

	all, err := c.ListAllTools(testContext(t))
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCallToolStreaming(t *testing.T) {
	srv := newTestServer(t)
	c := connectPipe(t, srv, nil)

	var seen []float64
	result, err := c.CallToolStreaming(testContext(t), "count", nil, func(p protocol.ProgressParams) {
		seen = append(seen, p.Progress)
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, seen)
	assert.Equal(t, "three", result.Content[0].Text)
}

func TestCapabilityGateSendsNothing(t *testing.T) {
	st, ct := transport.Pipe()
	var received atomic.Int32
	srvSession := session.New(st, session.Options{
		Role:         session.RoleServer,
		Capabilities: protocol.Capabilities{Tools: &protocol.ToolsCapability{}},
	})
	for _, method := range []string{protocol.MethodListResources, protocol.MethodSetLogLevel, protocol.MethodListPrompts} {
		srvSession.Handle(method, func(context.Context, *session.Request) (any, error) {
			received.Add(1)
			return &protocol.EmptyResult{}, nil
		})
	}
	require.NoError(t, srvSession.Start(context.Background()))
	t.Cleanup(func() { srvSession.Close() })

	c := New(ct)
	t.Cleanup(func() { c.Close() })
	_, err := c.Connect(testContext(t))
	require.NoError(t, err)

	ctx := testContext(t)
	_, err = c.ListResources(ctx, "")
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCapability), "got %v", err)
	err = c.SetLogLevel(ctx, protocol.LogLevelDebug)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCapability), "got %v", err)
	_, err = c.ListPrompts(ctx, "")
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCapability), "got %v", err)
	err = c.Subscribe(ctx, "greeting://x")
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCapability), "got %v", err)

	require.NoError(t, c.Ping(ctx))
	assert.Zero(t, received.Load())
}

func TestCallsBeforeConnectAreNotInitialized(t *testing.T) {
	srv := newTestServer(t)
	st, ct := transport.Pipe()
	_, err := srv.Serve(context.Background(), st)
	require.NoError(t, err)

	c := New(ct)
	t.Cleanup(func() { c.Close() })
	ctx := testContext(t)

	_, err = c.ListTools(ctx, "")
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryLifecycle), "got %v", err)
	_, err = c.CallToolStream(ctx, "echo", echoArgs{Text: "early"})
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryLifecycle), "got %v", err)
	_, err = c.ReadResource(ctx, "greeting://Ada")
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryLifecycle), "got %v", err)

	_, err = c.Connect(ctx)
	require.NoError(t, err)
	_, err = c.ListTools(ctx, "")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	_, err = c.ListTools(ctx, "")
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryConnection), "got %v", err)
}

func TestSamplingHandler(t *testing.T) {
	srv := newTestServer(t)
	var gotMax int
	connectPipe(t, srv, nil, WithSamplingHandler(SamplingFunc(
		func(_ context.Context, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error) {
			gotMax = params.MaxTokens
			return &protocol.CreateMessageResult{
				Role:       protocol.RoleAssistant,
				Content:    protocol.TextContent("a summary"),
				Model:      "test-model",
				StopReason: protocol.StopReasonEndTurn,
			}, nil
		})))

	peer := onlyPeer(t, srv)
	result, err := peer.CreateMessage(testContext(t), &protocol.CreateMessageParams{
		Messages:  []protocol.SamplingMessage{{Role: protocol.RoleUser, Content: protocol.TextContent("summarize")}},
		MaxTokens: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, "a summary", result.Content.Text)
	assert.Equal(t, "test-model", result.Model)
	assert.Equal(t, 64, gotMax)
}

func TestSamplingHandlerFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler SamplingFunc
	}{
		{"error", func(context.Context, *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error) {
			return nil, fmt.Errorf("model offline")
		}},
		{"panic", func(context.Context, *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error) {
			panic("boom")
		}},
		{"nil result", func(context.Context, *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error) {
			return nil, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			c := connectPipe(t, srv, nil, WithSamplingHandler(tt.handler))

			_, err := onlyPeer(t, srv).CreateMessage(testContext(t), &protocol.CreateMessageParams{
				Messages:  []protocol.SamplingMessage{{Role: protocol.RoleUser, Content: protocol.TextContent("hi")}},
				MaxTokens: 8,
			})
			assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryHandler), "got %v", err)

			// the session survives a failed handler
			require.NoError(t, c.Ping(testContext(t)))
		})
	}
}

func TestNotificationCallbacks(t *testing.T) {
	srv := newTestServer(t)

	var mu sync.Mutex
	var updated []string
	var logs []protocol.LogMessageParams
	toolsChanged := make(chan struct{}, 1)
	c := connectPipe(t, srv, func(c *Client) {
		c.OnResourceUpdated(func(uri string) {
			mu.Lock()
			updated = append(updated, uri)
			mu.Unlock()
		})
		c.OnLogMessage(func(m protocol.LogMessageParams) {
			mu.Lock()
			logs = append(logs, m)
			mu.Unlock()
		})
		c.OnToolsChanged(func() {
			toolsChanged <- struct{}{}
		})
	})
	ctx := testContext(t)

	require.NoError(t, c.Subscribe(ctx, "greeting://Ada"))
	require.NoError(t, srv.NotifyResourceUpdated(ctx, "greeting://Ada"))

	require.NoError(t, c.SetLogLevel(ctx, protocol.LogLevelDebug))
	require.NoError(t, onlyPeer(t, srv).Log(ctx, protocol.LogLevelDebug, "indexer", "scanning"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updated) == 1 && len(logs) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "greeting://Ada", updated[0])
	assert.Equal(t, "indexer", logs[0].Logger)

	peerID := onlyPeer(t, srv).ID()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{peerID}, srv.Subscriptions().Subscribers(subscription.ToolList))
	}, time.Second, 5*time.Millisecond)
	assert.True(t, srv.Tools().Unregister("count"))
	select {
	case <-toolsChanged:
	case <-ctx.Done():
		t.Fatal("no tools list_changed")
	}

	require.NoError(t, c.Unsubscribe(ctx, "greeting://Ada"))
	assert.Error(t, c.SetLogLevel(ctx, "chatty"))
}

func TestDialSocket(t *testing.T) {
	srv := newTestServer(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ServeListener(ctx, l)

	c, err := DialSocket(testContext(t), "tcp", l.Addr().String(), transport.DefaultBackoff())
	require.NoError(t, err)
	defer c.Close()

	result, err := c.CallTool(testContext(t), "echo", echoArgs{Text: "over tcp"})
	require.NoError(t, err)
	assert.Equal(t, "over tcp", result.Content[0].Text)
}

func TestCloseFailsLaterCalls(t *testing.T) {
	srv := newTestServer(t)
	c := connectPipe(t, srv, nil)

	require.NoError(t, c.Close())
	err := c.Ping(testContext(t))
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryConnection), "got %v", err)
}

func TestClosedClientReleasesGoroutines(t *testing.T) {
	leakcheck.Verify(t)

	srv := newTestServer(t)
	c := connectPipe(t, srv, nil)

	_, err := c.CallToolStreaming(testContext(t), "count", nil, func(protocol.ProgressParams) {})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return len(srv.Peers()) == 0 }, time.Second, 5*time.Millisecond)
}
