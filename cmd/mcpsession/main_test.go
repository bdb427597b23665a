package main

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-session-go/pkg/client"
	"github.com/ajitpratap0/mcp-session-go/pkg/config"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/server"
	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func demoServer(t *testing.T) *server.Server {
	t.Helper()
	resources, tools, prompts, err := demoCatalogs()
	require.NoError(t, err)
	srv := server.New(
		server.WithName("demo"),
		server.WithResources(resources),
		server.WithTools(tools),
		server.WithPrompts(prompts),
	)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func connectDemo(t *testing.T, opts ...client.Option) *client.Client {
	t.Helper()
	st, ct := transport.Pipe()
	_, err := demoServer(t).Serve(context.Background(), st)
	require.NoError(t, err)

	c := client.New(ct, opts...)
	t.Cleanup(func() { c.Close() })
	_, err = c.Connect(testContext(t))
	require.NoError(t, err)
	return c
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no command", nil, exitUsage},
		{"unknown command", []string{"frobnicate"}, exitUsage},
		{"help", []string{"help"}, exitOK},
		{"version", []string{"version"}, exitOK},
		{"serve bad flag", []string{"serve", "-nope"}, exitUsage},
		{"serve bad transport", []string{"serve", "-transport", "carrier-pigeon"}, exitUsage},
		{"serve stray argument", []string{"serve", "extra"}, exitUsage},
		{"inspect without target", []string{"inspect"}, exitUsage},
		{"inspect with two targets", []string{"inspect", "-addr", "x:1", "-url", "ws://x/mcp"}, exitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tt.want, run(tt.args, &stdout, &stderr), stderr.String())
		})
	}
}

func TestServeFlagsOverrideConfig(t *testing.T) {
	f, err := parseServeFlags([]string{"-transport", "websocket", "-addr", "127.0.0.1:0", "-dir", "/srv", "-watch"}, &bytes.Buffer{})
	require.NoError(t, err)

	cfg := config.Default()
	require.NoError(t, f.apply(cfg))
	assert.Equal(t, "websocket", cfg.Server.Transport)
	assert.Equal(t, "127.0.0.1:0", cfg.Server.Address)
	assert.Equal(t, "/srv", cfg.Resources.Dir)
	assert.True(t, cfg.Resources.Watch)
}

func TestInspectPrintsCatalogs(t *testing.T) {
	srv := demoServer(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c, err := client.DialSocket(testContext(t), "tcp", l.Addr().String(), transport.DefaultBackoff())
	require.NoError(t, err)
	defer c.Close()

	var out bytes.Buffer
	require.NoError(t, inspect(testContext(t), c, &out))

	text := out.String()
	for _, want := range []string{"server:    demo", "tools (2)", "echo", "countdown", "greeting://{name}", "summarize", "text*"} {
		assert.Contains(t, text, want)
	}
	assert.Contains(t, text, "resources(subscribe,listChanged)")
}

func TestCountdownReportsProgress(t *testing.T) {
	c := connectDemo(t)
	logs := make(chan protocol.LogMessageParams, 1)
	c.OnLogMessage(func(m protocol.LogMessageParams) { logs <- m })

	var steps []float64
	result, err := c.CallToolStreaming(testContext(t), "countdown", countdownArgs{From: 3}, func(p protocol.ProgressParams) {
		steps = append(steps, p.Progress)
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, steps)
	assert.Equal(t, "liftoff", result.Content[0].Text)

	select {
	case m := <-logs:
		assert.Equal(t, "countdown", m.Logger)
		assert.Equal(t, protocol.LogLevelInfo, m.Level)
	case <-time.After(time.Second):
		t.Fatal("no log message from countdown")
	}
}

func TestSummarizeUsesSamplingWhenOffered(t *testing.T) {
	args := map[string]string{"text": "a long story"}

	plain := connectDemo(t)
	result, err := plain.GetPrompt(testContext(t), "summarize", args)
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Contains(t, result.Messages[0].Content.Text, "a long story")

	var asked *protocol.CreateMessageParams
	sampling := connectDemo(t, client.WithSamplingHandler(client.SamplingFunc(
		func(_ context.Context, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error) {
			asked = params
			return &protocol.CreateMessageResult{
				Role:    protocol.RoleAssistant,
				Content: protocol.TextContent("short story"),
				Model:   "test-model",
			}, nil
		})))
	result, err = sampling.GetPrompt(testContext(t), "summarize", args)
	require.NoError(t, err)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, protocol.RoleAssistant, result.Messages[1].Role)
	assert.Equal(t, "short story", result.Messages[1].Content.Text)
	require.NotNil(t, asked)
	assert.Equal(t, 200, asked.MaxTokens)
}
