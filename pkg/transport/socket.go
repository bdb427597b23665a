package transport

import (
	"context"
	"net"
)

// NewConn returns a Stream over an established connection
func NewConn(conn net.Conn) *Stream {
	return NewStream(conn, conn, conn)
}

// Dial connects to addr ("tcp", "unix", ...) retrying per policy
func Dial(ctx context.Context, network, addr string, policy Backoff) (*Stream, error) {
	var dialer net.Dialer
	var conn net.Conn

	err := policy.Retry(ctx, func(ctx context.Context) error {
		c, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}
