package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsCloseWait = time.Second

// WebSocket carries one frame per text message over a gorilla connection
type WebSocket struct {
	conn *websocket.Conn
	pump *pump

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps an established connection
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	conn.SetReadLimit(MaxFrameSize)

	w := &WebSocket{
		conn: conn,
		pump: newPump(),
	}
	go func() {
		_ = w.pump.run(func() ([]byte, error) {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
					return nil, io.EOF
				}
				return nil, err
			}
			if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
				return nil, nil
			}
			return data, nil
		})
	}()
	return w
}

// DialWebSocket connects to a ws:// or wss:// URL retrying per policy
func DialWebSocket(ctx context.Context, url string, header http.Header, policy Backoff) (*WebSocket, error) {
	var conn *websocket.Conn
	err := policy.Retry(ctx, func(ctx context.Context) error {
		c, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn), nil
}

// Read implements Transport
func (w *WebSocket) Read(ctx context.Context) ([]byte, error) {
	return w.pump.read(ctx)
}

// Write implements Transport
func (w *WebSocket) Write(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	select {
	case <-w.pump.done:
		return ErrClosed
	default:
	}

	// zero means no deadline
	deadline, _ := ctx.Deadline()
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a normal close frame and closes the connection
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.pump.stop()

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseWait))

		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// WebSocketHandler upgrades HTTP requests and hands each connection to serve.
// serve runs on the request goroutine and owns the transport.
type WebSocketHandler struct {
	Upgrader websocket.Upgrader
	Serve    func(r *http.Request, t Transport)
}

// NewWebSocketHandler returns a handler with default buffer sizes that accepts
// same-origin and non-browser clients
func NewWebSocketHandler(serve func(r *http.Request, t Transport)) *WebSocketHandler {
	return &WebSocketHandler{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		Serve: serve,
	}
}

// ServeHTTP implements http.Handler
func (h *WebSocketHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(rw, r, nil)
	if err != nil {
		// Upgrade has already replied
		return
	}
	h.Serve(r, NewWebSocket(conn))
}
