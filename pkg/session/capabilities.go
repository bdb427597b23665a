package session

import (
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// Peer selects which side's declaration a capability check reads
type Peer int

const (
	Local Peer = iota
	Remote
)

func (p Peer) String() string {
	if p == Local {
		return "local"
	}
	return "remote"
}

// Category is a top-level capability
type Category string

const (
	CategoryResources Category = "resources"
	CategoryTools     Category = "tools"
	CategoryPrompts   Category = "prompts"
	CategorySampling  Category = "sampling"
	CategoryLogging   Category = "logging"
)

// Feature is an optional flag within a category. The empty feature checks
// the category alone.
type Feature string

const (
	FeatureNone        Feature = ""
	FeatureSubscribe   Feature = "subscribe"
	FeatureListChanged Feature = "listChanged"
)

// CapabilityRegistry holds the capabilities declared by both sides of a
// session. The remote side is empty until the handshake completes.
type CapabilityRegistry struct {
	mu     sync.RWMutex
	local  protocol.Capabilities
	remote protocol.Capabilities
}

// NewCapabilityRegistry returns a registry with the given local declaration
func NewCapabilityRegistry(local protocol.Capabilities) *CapabilityRegistry {
	return &CapabilityRegistry{local: local}
}

// Local returns the local declaration
func (r *CapabilityRegistry) Local() protocol.Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}

// Remote returns the peer's declaration
func (r *CapabilityRegistry) Remote() protocol.Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remote
}

func (r *CapabilityRegistry) setRemote(c protocol.Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = c
}

// Supports reports whether peer declared category, and feature when it is
// not empty
func (r *CapabilityRegistry) Supports(peer Peer, category Category, feature Feature) bool {
	r.mu.RLock()
	caps := r.local
	if peer == Remote {
		caps = r.remote
	}
	r.mu.RUnlock()

	switch category {
	case CategoryResources:
		if caps.Resources == nil {
			return false
		}
		switch feature {
		case FeatureNone:
			return true
		case FeatureSubscribe:
			return caps.Resources.Subscribe
		case FeatureListChanged:
			return caps.Resources.ListChanged
		}
	case CategoryTools:
		if caps.Tools == nil {
			return false
		}
		switch feature {
		case FeatureNone:
			return true
		case FeatureListChanged:
			return caps.Tools.ListChanged
		}
	case CategoryPrompts:
		if caps.Prompts == nil {
			return false
		}
		switch feature {
		case FeatureNone:
			return true
		case FeatureListChanged:
			return caps.Prompts.ListChanged
		}
	case CategorySampling:
		return caps.Sampling != nil && feature == FeatureNone
	case CategoryLogging:
		return caps.Logging != nil && feature == FeatureNone
	}
	return false
}

// Require returns a capability error when Supports is false. It never
// performs I/O.
func (r *CapabilityRegistry) Require(peer Peer, category Category, feature Feature) error {
	if r.Supports(peer, category, feature) {
		return nil
	}
	return mcperrors.CapabilityNotSupported(peer.String(), string(category), string(feature))
}
