package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Stream carries newline-delimited frames over a reader/writer pair. It backs
// the stdio, subprocess and socket bindings.
type Stream struct {
	reader  io.Reader
	writer  io.Writer
	closers []io.Closer

	pump  *pump
	group *errgroup.Group

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStream starts reading frames from r. closers are closed, in order, by
// Close; pass the underlying pipe or connection so a blocked read is released.
func NewStream(r io.Reader, w io.Writer, closers ...io.Closer) *Stream {
	s := &Stream{
		reader:  r,
		writer:  w,
		closers: closers,
		pump:    newPump(),
		group:   &errgroup.Group{},
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)

	s.group.Go(func() error {
		return s.pump.run(func() ([]byte, error) {
			if !scanner.Scan() {
				err := scanner.Err()
				switch {
				case err == nil:
					return nil, io.EOF
				case errors.Is(err, bufio.ErrTooLong):
					return nil, ErrFrameTooLarge
				default:
					return nil, err
				}
			}
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				return nil, nil
			}
			// the scanner reuses its buffer
			frame := make([]byte, len(line))
			copy(frame, line)
			return frame, nil
		})
	})

	return s
}

// Stdio returns a Stream over this process' stdin and stdout. Nothing else in
// the process may write to stdout while it is in use.
func Stdio() *Stream {
	return NewStream(os.Stdin, os.Stdout, os.Stdin)
}

// Read implements Transport
func (s *Stream) Read(ctx context.Context) ([]byte, error) {
	return s.pump.read(ctx)
}

// Write implements Transport
func (s *Stream) Write(ctx context.Context, frame []byte) error {
	if bytes.IndexByte(frame, '\n') >= 0 {
		return ErrInvalidFrame
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.pump.done:
		return ErrClosed
	default:
	}

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	_, err := s.writer.Write(buf)
	return err
}

// Close implements Transport. It does not wait for a reader blocked on a
// source that cannot be interrupted, such as a terminal stdin.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.pump.stop()
		var errs []error
		for _, c := range s.closers {
			if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Wait blocks until the read goroutine has exited and returns its error.
// io.EOF is reported as nil.
func (s *Stream) Wait() error {
	err := s.group.Wait()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
