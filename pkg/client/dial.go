package client

import (
	"context"
	"net/http"
	"os/exec"

	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

// Spawn starts a server as a child process and connects to it over its
// standard streams. The child is stopped when the client closes.
func Spawn(ctx context.Context, cmd *exec.Cmd, options ...Option) (*Client, error) {
	proc, err := transport.StartProcess(context.WithoutCancel(ctx), cmd)
	if err != nil {
		return nil, err
	}
	return connect(ctx, proc, options)
}

// DialSocket connects to a server listening on network and addr ("tcp",
// "unix"), retrying the dial per policy
func DialSocket(ctx context.Context, network, addr string, policy transport.Backoff, options ...Option) (*Client, error) {
	conn, err := transport.Dial(ctx, network, addr, policy)
	if err != nil {
		return nil, err
	}
	return connect(ctx, conn, options)
}

// DialWebSocket connects to a server's websocket endpoint, retrying the dial
// per policy
func DialWebSocket(ctx context.Context, url string, header http.Header, policy transport.Backoff, options ...Option) (*Client, error) {
	ws, err := transport.DialWebSocket(ctx, url, header, policy)
	if err != nil {
		return nil, err
	}
	return connect(ctx, ws, options)
}

func connect(ctx context.Context, t transport.Transport, options []Option) (*Client, error) {
	c := New(t, options...)
	if _, err := c.Connect(ctx); err != nil {
		t.Close()
		return nil, err
	}
	return c, nil
}
