package transport

import (
	"context"
	"io"
	"sync"
)

const pipeBuffer = 64

type pipeState struct {
	done chan struct{}
	once sync.Once
}

func (s *pipeState) close() {
	s.once.Do(func() { close(s.done) })
}

// pipeEnd is one side of an in-memory Pipe
type pipeEnd struct {
	in     <-chan []byte
	out    chan<- []byte
	local  *pipeState
	remote *pipeState

	writeMu sync.Mutex
}

// Pipe returns two connected in-memory transports. Frames written to one are
// read from the other in order. Closing either end ends the stream for both.
func Pipe() (Transport, Transport) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	a := &pipeState{done: make(chan struct{})}
	b := &pipeState{done: make(chan struct{})}

	return &pipeEnd{in: ba, out: ab, local: a, remote: b},
		&pipeEnd{in: ab, out: ba, local: b, remote: a}
}

func (p *pipeEnd) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.local.done:
		return nil, ErrClosed
	case <-p.remote.done:
		// deliver what the peer wrote before closing
		select {
		case frame := <-p.in:
			return frame, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Write(ctx context.Context, frame []byte) error {
	data := make([]byte, len(frame))
	copy(data, frame)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	select {
	case <-p.local.done:
		return ErrClosed
	case <-p.remote.done:
		return io.ErrClosedPipe
	default:
	}

	select {
	case p.out <- data:
		return nil
	case <-p.local.done:
		return ErrClosed
	case <-p.remote.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.local.close()
	return nil
}
