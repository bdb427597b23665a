package transport

import (
	"context"
	"time"

	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
)

// Middleware wraps a transport to observe or alter its frames
type Middleware interface {
	Wrap(transport Transport) Transport
}

// MiddlewareFunc is an adapter to allow the use of ordinary functions as middleware
type MiddlewareFunc func(Transport) Transport

// Wrap implements the Middleware interface
func (f MiddlewareFunc) Wrap(t Transport) Transport {
	return f(t)
}

// ChainMiddleware chains multiple middleware together; the first is outermost
func ChainMiddleware(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(transport Transport) Transport {
		for i := len(middleware) - 1; i >= 0; i-- {
			transport = middleware[i].Wrap(transport)
		}
		return transport
	})
}

// middlewareTransport delegates everything to next
type middlewareTransport struct {
	next Transport
}

func (m *middlewareTransport) Read(ctx context.Context) ([]byte, error) {
	return m.next.Read(ctx)
}

func (m *middlewareTransport) Write(ctx context.Context, frame []byte) error {
	return m.next.Write(ctx, frame)
}

func (m *middlewareTransport) Close() error {
	return m.next.Close()
}

// maxLoggedFrame bounds the frame text included in debug logs
const maxLoggedFrame = 512

// WithLogging logs every frame at debug level and transport failures at warn
func WithLogging(logger logging.Logger) Middleware {
	return MiddlewareFunc(func(t Transport) Transport {
		return &loggingTransport{
			middlewareTransport: middlewareTransport{next: t},
			logger:              logger.WithFields(logging.String("component", "transport")),
		}
	})
}

type loggingTransport struct {
	middlewareTransport
	logger logging.Logger
}

func (lt *loggingTransport) Read(ctx context.Context) ([]byte, error) {
	frame, err := lt.next.Read(ctx)
	if err != nil {
		if ctx.Err() == nil {
			lt.logger.Debug("read ended", logging.ErrorField(err))
		}
		return nil, err
	}
	lt.logger.Debug("frame received", logging.Int("bytes", len(frame)), logging.String("frame", clip(frame)))
	return frame, nil
}

func (lt *loggingTransport) Write(ctx context.Context, frame []byte) error {
	err := lt.next.Write(ctx, frame)
	if err != nil {
		lt.logger.Warn("write failed", logging.Int("bytes", len(frame)), logging.ErrorField(err))
		return err
	}
	lt.logger.Debug("frame sent", logging.Int("bytes", len(frame)), logging.String("frame", clip(frame)))
	return nil
}

func clip(frame []byte) string {
	if len(frame) <= maxLoggedFrame {
		return string(frame)
	}
	return string(frame[:maxLoggedFrame]) + "..."
}

// FrameObserver receives frame counts and sizes. The observability package's
// Metrics implements it.
type FrameObserver interface {
	FrameReceived(bytes int)
	FrameSent(bytes int, elapsed time.Duration, err error)
}

// WithObserver reports every frame to o
func WithObserver(o FrameObserver) Middleware {
	return MiddlewareFunc(func(t Transport) Transport {
		return &observedTransport{
			middlewareTransport: middlewareTransport{next: t},
			observer:            o,
		}
	})
}

type observedTransport struct {
	middlewareTransport
	observer FrameObserver
}

func (ot *observedTransport) Read(ctx context.Context) ([]byte, error) {
	frame, err := ot.next.Read(ctx)
	if err == nil {
		ot.observer.FrameReceived(len(frame))
	}
	return frame, err
}

func (ot *observedTransport) Write(ctx context.Context, frame []byte) error {
	start := time.Now()
	err := ot.next.Write(ctx, frame)
	ot.observer.FrameSent(len(frame), time.Since(start), err)
	return err
}
