package transport

import (
	"context"
	"errors"
	"sync"
)

// Transport is an ordered, reliable, duplex stream of discrete messages. Each
// call to Read returns exactly one frame as written by one Write on the other
// side. Write may be called from several goroutines; implementations keep
// frames whole and in submission order.
type Transport interface {
	// Read blocks until a frame arrives, ctx is done, or the stream ends.
	// A stream that ended cleanly returns io.EOF.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one frame
	Write(ctx context.Context, frame []byte) error
	// Close releases the stream. It is safe to call more than once.
	Close() error
}

// Errors
var (
	// ErrClosed is returned by operations on a transport closed locally
	ErrClosed = errors.New("transport closed")
	// ErrFrameTooLarge is returned when an incoming frame exceeds MaxFrameSize
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrInvalidFrame is returned when writing a frame the framing cannot carry
	ErrInvalidFrame = errors.New("frame contains a newline")
)

// MaxFrameSize bounds a single incoming frame on line-delimited streams
const MaxFrameSize = 16 << 20

// pump moves frames from a blocking read function onto a channel so Read can
// honor context cancellation. One goroutine per transport.
type pump struct {
	frames   chan []byte
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

func newPump() *pump {
	return &pump{
		frames: make(chan []byte),
		done:   make(chan struct{}),
	}
}

// run reads until readFrame fails or the pump is stopped
func (p *pump) run(readFrame func() ([]byte, error)) error {
	defer close(p.frames)
	for {
		frame, err := readFrame()
		if err != nil {
			p.setErr(err)
			return err
		}
		if frame == nil {
			continue
		}
		select {
		case p.frames <- frame:
		case <-p.done:
			return nil
		}
	}
}

func (p *pump) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *pump) readErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *pump) read(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-p.frames:
		if !ok {
			select {
			case <-p.done:
				return nil, ErrClosed
			default:
			}
			return nil, p.readErr()
		}
		return frame, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pump) stop() {
	p.stopOnce.Do(func() { close(p.done) })
}
