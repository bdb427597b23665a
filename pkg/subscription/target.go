// Package subscription tracks which peers want change notifications for which
// catalogs and resources, and fans changes out to them without ever blocking
// the code that made the change.
package subscription

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// Kind is what a target watches
type Kind int

const (
	KindResourceList Kind = iota
	KindToolList
	KindPromptList
	KindResource
)

// Target is one subscribable thing: a catalog or a single resource URI
type Target struct {
	Kind Kind
	// URI is set for KindResource only
	URI string
}

var (
	ResourceList = Target{Kind: KindResourceList}
	ToolList     = Target{Kind: KindToolList}
	PromptList   = Target{Kind: KindPromptList}
)

// Resource returns the target for one resource URI
func Resource(uri string) Target {
	return Target{Kind: KindResource, URI: uri}
}

const resourcePrefix = "resource:"

// String encodes the target. ParseTarget reverses it.
func (t Target) String() string {
	switch t.Kind {
	case KindResourceList:
		return "resources"
	case KindToolList:
		return "tools"
	case KindPromptList:
		return "prompts"
	default:
		return resourcePrefix + t.URI
	}
}

// ParseTarget decodes a target encoded by String
func ParseTarget(s string) (Target, error) {
	switch s {
	case "resources":
		return ResourceList, nil
	case "tools":
		return ToolList, nil
	case "prompts":
		return PromptList, nil
	}
	if uri, ok := strings.CutPrefix(s, resourcePrefix); ok && uri != "" {
		return Resource(uri), nil
	}
	return Target{}, fmt.Errorf("unknown subscription target %q", s)
}

// notification returns the method and params announcing a change to t
func (t Target) notification() (string, any) {
	switch t.Kind {
	case KindResourceList:
		return protocol.MethodResourcesListChanged, nil
	case KindToolList:
		return protocol.MethodToolsListChanged, nil
	case KindPromptList:
		return protocol.MethodPromptsListChanged, nil
	default:
		return protocol.MethodResourceUpdated, &protocol.ResourceUpdatedParams{URI: t.URI}
	}
}
