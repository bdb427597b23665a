package registry

import "sync"

// changeNotifier fans a mutation out to OnChange callbacks once sealed
type changeNotifier struct {
	mu     sync.Mutex
	sealed bool
	hooks  []func()
}

// OnChange registers fn to run after every mutation made once the catalog is
// sealed. fn runs on the mutating goroutine, outside the catalog lock.
func (n *changeNotifier) OnChange(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hooks = append(n.hooks, fn)
}

// Seal ends the startup phase. Later mutations notify OnChange callbacks.
func (n *changeNotifier) Seal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sealed = true
}

// Sealed reports whether Seal has been called
func (n *changeNotifier) Sealed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sealed
}

func (n *changeNotifier) changed() {
	n.mu.Lock()
	if !n.sealed {
		n.mu.Unlock()
		return
	}
	hooks := append([]func(){}, n.hooks...)
	n.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
