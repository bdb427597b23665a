package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
)

const (
	defaultMailboxSize = 64
	deliveryTimeout    = 5 * time.Second
)

// ErrClosed is returned by Attach once the manager is closed
var ErrClosed = errors.New("subscription manager closed")

// Notifier delivers one notification to a peer. *session.Session satisfies it.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

// Options configure a Manager
type Options struct {
	// MailboxSize bounds the notifications queued per peer
	MailboxSize int
	Logger      logging.Logger
	// Bus, when set, carries changes between processes. NotifyChanged
	// publishes to it and local delivery happens when the change comes back.
	Bus Bus
	// OnDrop is called for every notification dropped on a full mailbox
	OnDrop func(peerID string, target Target)
}

type delivery struct {
	method string
	params any
}

type peer struct {
	id       string
	notifier Notifier
	mailbox  chan delivery
	detached atomic.Bool
	stop     chan struct{}
	done     chan struct{}
}

type targetState struct {
	mu          sync.Mutex
	subscribers map[string]*peer
}

// Manager owns every subscription of a server. Subscribe, Unsubscribe and
// NotifyChanged on the same target are serialized by that target's lock, so a
// notification never reaches a peer that already unsubscribed nor misses one
// that already subscribed.
type Manager struct {
	opts   Options
	logger logging.Logger

	mu      sync.RWMutex
	peers   map[string]*peer
	targets map[Target]*targetState
	closed  bool

	dropped atomic.Int64
}

// NewManager returns an empty manager
func NewManager(opts Options) *Manager {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaultMailboxSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Manager{
		opts:    opts,
		logger:  opts.Logger.WithFields(logging.String("component", "subscriptions")),
		peers:   make(map[string]*peer),
		targets: make(map[Target]*targetState),
	}
}

// Run consumes the bus until ctx is done. Without a bus it returns at once.
func (m *Manager) Run(ctx context.Context) error {
	if m.opts.Bus == nil {
		return nil
	}
	return m.opts.Bus.Subscribe(ctx, func(t Target) {
		m.dispatch(t)
	})
}

// Attach registers a peer and starts its delivery goroutine
func (m *Manager) Attach(peerID string, n Notifier) error {
	p := &peer{
		id:       peerID,
		notifier: n,
		mailbox:  make(chan delivery, m.opts.MailboxSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, dup := m.peers[peerID]; dup {
		m.mu.Unlock()
		return fmt.Errorf("peer %s already attached", peerID)
	}
	m.peers[peerID] = p
	m.mu.Unlock()

	go m.deliver(p)
	return nil
}

// Detach drops every subscription of the peer and stops its delivery
// goroutine. Queued notifications are discarded.
func (m *Manager) Detach(peerID string) {
	m.mu.Lock()
	p, ok := m.peers[peerID]
	if ok {
		delete(m.peers, peerID)
	}
	states := make([]*targetState, 0, len(m.targets))
	for _, st := range m.targets {
		states = append(states, st)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	// a Subscribe racing with us sees the flag under the target lock
	p.detached.Store(true)
	for _, st := range states {
		st.mu.Lock()
		delete(st.subscribers, peerID)
		st.mu.Unlock()
	}

	close(p.stop)
	<-p.done
}

func (m *Manager) target(t Target) *targetState {
	m.mu.RLock()
	st, ok := m.targets[t]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok = m.targets[t]; !ok {
		st = &targetState{subscribers: make(map[string]*peer)}
		m.targets[t] = st
	}
	return st
}

// Subscribe adds peerID to target. Subscribing twice is a no-op.
func (m *Manager) Subscribe(peerID string, t Target) error {
	m.mu.RLock()
	p, ok := m.peers[peerID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("peer %s is not attached", peerID)
	}

	st := m.target(t)
	st.mu.Lock()
	defer st.mu.Unlock()
	if p.detached.Load() {
		return fmt.Errorf("peer %s is not attached", peerID)
	}
	st.subscribers[peerID] = p
	return nil
}

// Unsubscribe removes peerID from target, reporting whether it was subscribed
func (m *Manager) Unsubscribe(peerID string, t Target) bool {
	m.mu.RLock()
	st, ok := m.targets[t]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.subscribers[peerID]; !ok {
		return false
	}
	delete(st.subscribers, peerID)
	return true
}

// Subscribers returns the peers subscribed to target, sorted
func (m *Manager) Subscribers(t Target) []string {
	m.mu.RLock()
	st, ok := m.targets[t]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	ids := make([]string, 0, len(st.subscribers))
	for id := range st.subscribers {
		ids = append(ids, id)
	}
	st.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// NotifyChanged announces a change to target. Each subscribed peer gets one
// notification, best effort: nothing is retried and the caller never waits
// on delivery. With a bus the change is published instead and delivered
// when it comes back; if publishing fails it is delivered locally and the
// error returned.
func (m *Manager) NotifyChanged(ctx context.Context, t Target) error {
	if m.opts.Bus != nil {
		if err := m.opts.Bus.Publish(ctx, t); err != nil {
			m.logger.Warn("publishing change failed, delivering locally",
				logging.String("target", t.String()), logging.ErrorField(err))
			m.dispatch(t)
			return err
		}
		return nil
	}
	m.dispatch(t)
	return nil
}

// dispatch queues the notification for t in every subscriber's mailbox and
// returns how many were queued
func (m *Manager) dispatch(t Target) int {
	m.mu.RLock()
	st, ok := m.targets[t]
	m.mu.RUnlock()
	if !ok {
		return 0
	}

	method, params := t.notification()
	d := delivery{method: method, params: params}

	st.mu.Lock()
	defer st.mu.Unlock()
	queued := 0
	for id, p := range st.subscribers {
		select {
		case p.mailbox <- d:
			queued++
		default:
			m.dropped.Add(1)
			m.logger.Warn("notification mailbox full, dropping",
				logging.String("peer", id), logging.String("target", t.String()))
			if m.opts.OnDrop != nil {
				m.opts.OnDrop(id, t)
			}
		}
	}
	return queued
}

// Dropped returns how many notifications were dropped on full mailboxes
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

func (m *Manager) deliver(p *peer) {
	defer close(p.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-p.stop:
			return
		case d := <-p.mailbox:
			dctx, dcancel := context.WithTimeout(ctx, deliveryTimeout)
			if err := p.notifier.Notify(dctx, d.method, d.params); err != nil {
				m.logger.Debug("notification not delivered",
					logging.String("peer", p.id), logging.String("method", d.method), logging.ErrorField(err))
			}
			dcancel()
		}
	}
}

// Close detaches every peer
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Detach(id)
	}
	if m.opts.Bus != nil {
		return m.opts.Bus.Close()
	}
	return nil
}
