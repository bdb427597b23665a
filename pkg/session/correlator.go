package session

import (
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// pendingCall is one outgoing request awaiting its response
type pendingCall struct {
	id     protocol.ID
	method string
	// done receives exactly one outcome
	done chan callOutcome
	// stream receives progress notifications carrying this call's token
	stream *ProgressStream
	// onResponse runs on the reader goroutine before the outcome is delivered
	onResponse func(*protocol.Message) error
}

type callOutcome struct {
	msg *protocol.Message
	err error
}

// Correlator issues request ids and matches responses to the callers waiting
// on them. It is safe for concurrent use.
type Correlator struct {
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  error
}

// NewCorrelator returns an empty correlator whose first id is 1
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*pendingCall)}
}

// add registers a new pending call under a fresh id. It fails once the
// correlator has been drained.
func (c *Correlator) add(method string, stream *ProgressStream, onResponse func(*protocol.Message) error) (*pendingCall, error) {
	call := &pendingCall{
		id:         protocol.NumberID(c.nextID.Add(1)),
		method:     method,
		done:       make(chan callOutcome, 1),
		stream:     stream,
		onResponse: onResponse,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return nil, c.closed
	}
	c.pending[call.id.Key()] = call
	return call, nil
}

// remove drops a pending call, reporting whether it was still pending
func (c *Correlator) remove(id protocol.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := id.Key()
	if _, ok := c.pending[key]; !ok {
		return false
	}
	delete(c.pending, key)
	return true
}

// resolve delivers a response to its caller. Responses with no pending entry
// return false and are the caller's to log.
func (c *Correlator) resolve(msg *protocol.Message) bool {
	if msg.ID == nil {
		return false
	}

	c.mu.Lock()
	key := msg.ID.Key()
	call, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	var err error
	if call.onResponse != nil {
		err = call.onResponse(msg)
	}
	call.done <- callOutcome{msg: msg, err: err}
	return true
}

// progress routes a progress notification to the stream of the call whose
// token it carries
func (c *Correlator) progress(p protocol.ProgressParams) bool {
	c.mu.Lock()
	call, ok := c.pending[p.ProgressToken.Key()]
	c.mu.Unlock()
	if !ok || call.stream == nil {
		return false
	}
	call.stream.push(p)
	return true
}

// failAll fails every pending call with err and refuses new ones
func (c *Correlator) failAll(err error) int {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[string]*pendingCall)
	if c.closed == nil {
		c.closed = err
	}
	c.mu.Unlock()

	for _, call := range calls {
		call.done <- callOutcome{err: err}
	}
	return len(calls)
}

// Len returns the number of calls awaiting a response
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
