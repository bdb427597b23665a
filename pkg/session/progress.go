package session

import (
	"context"
	"encoding/json"
	"iter"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// ProgressStream is the consumer side of a request that reports progress.
// Zero or more updates arrive before exactly one terminal result.
//
//	for stream.Next(ctx) {
//		p := stream.Progress()
//		...
//	}
//	err := stream.Result(&out)
//
// The queue is unbounded so the session reader never waits on a slow consumer.
type ProgressStream struct {
	method string
	token  protocol.ProgressToken

	mu      sync.Mutex
	queue   []protocol.ProgressParams
	wake    chan struct{}
	done    bool
	result  json.RawMessage
	err     error
	current protocol.ProgressParams

	finished chan struct{}
	cancel   context.CancelFunc
}

func newProgressStream(method string, cancel context.CancelFunc) *ProgressStream {
	return &ProgressStream{
		method:   method,
		wake:     make(chan struct{}, 1),
		finished: make(chan struct{}),
		cancel:   cancel,
	}
}

// Token returns the progress token sent with the request
func (s *ProgressStream) Token() protocol.ProgressToken {
	return s.token
}

func (s *ProgressStream) push(p protocol.ProgressParams) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, p)
	s.mu.Unlock()
	s.signal()
}

func (s *ProgressStream) finish(result json.RawMessage, err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.result = result
	s.err = err
	s.mu.Unlock()
	close(s.finished)
	s.signal()
}

func (s *ProgressStream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Next waits for the next progress update. It returns false once the
// terminal result has arrived and every earlier update has been consumed, or
// when ctx is done.
func (s *ProgressStream) Next(ctx context.Context) bool {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			s.current = s.queue[0]
			s.queue[0] = protocol.ProgressParams{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return true
		}
		done := s.done
		s.mu.Unlock()
		if done {
			return false
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
			return false
		}
	}
}

// Progress returns the update read by the last successful Next
func (s *ProgressStream) Progress() protocol.ProgressParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Updates adapts Next and Progress to a range-over-func iterator
func (s *ProgressStream) Updates(ctx context.Context) iter.Seq[protocol.ProgressParams] {
	return func(yield func(protocol.ProgressParams) bool) {
		for s.Next(ctx) {
			if !yield(s.Progress()) {
				return
			}
		}
	}
}

// Done is closed when the terminal result has arrived
func (s *ProgressStream) Done() <-chan struct{} {
	return s.finished
}

// Result waits for the terminal response and decodes it into out, which may
// be nil. Unread progress updates are discarded.
func (s *ProgressStream) Result(ctx context.Context, out interface{}) error {
	select {
	case <-s.finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	result, err := s.result, s.err
	s.queue = nil
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if out != nil && len(result) > 0 {
		if err := json.Unmarshal(result, out); err != nil {
			return mcperrors.Internal("decoding "+s.method+" result", err)
		}
	}
	return nil
}

// Cancel abandons the request. The peer is sent notifications/cancelled and
// Result returns a cancellation error.
func (s *ProgressStream) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// ProgressReporter sends notifications/progress for one incoming request.
// It does nothing when the peer did not ask for progress.
type ProgressReporter struct {
	session *Session
	token   *protocol.ProgressToken
}

// Reporter returns the progress reporter for req
func (s *Session) Reporter(req *Request) *ProgressReporter {
	r := &ProgressReporter{session: s}
	if req != nil {
		r.token = req.ProgressToken()
	}
	return r
}

// Enabled reports whether the peer asked for progress
func (r *ProgressReporter) Enabled() bool {
	return r != nil && r.token != nil
}

// Report sends one update. total may be zero when unknown.
func (r *ProgressReporter) Report(ctx context.Context, progress, total float64, message string) error {
	if !r.Enabled() {
		return nil
	}
	return r.session.Notify(ctx, protocol.MethodProgress, &protocol.ProgressParams{
		ProgressToken: *r.token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}
