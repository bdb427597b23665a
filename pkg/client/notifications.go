package client

import (
	"context"
	"encoding/json"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// Notification callbacks run one at a time in arrival order. They must be
// registered before Connect to see notifications sent right after the
// handshake.

// OnToolsChanged calls fn when the server's tool list changes
func (c *Client) OnToolsChanged(fn func()) {
	c.session.HandleNotification(protocol.MethodToolsListChanged, func(context.Context, json.RawMessage) error {
		fn()
		return nil
	})
}

// OnPromptsChanged calls fn when the server's prompt list changes
func (c *Client) OnPromptsChanged(fn func()) {
	c.session.HandleNotification(protocol.MethodPromptsListChanged, func(context.Context, json.RawMessage) error {
		fn()
		return nil
	})
}

// OnResourcesChanged calls fn when the server's resource list changes
func (c *Client) OnResourcesChanged(fn func()) {
	c.session.HandleNotification(protocol.MethodResourcesListChanged, func(context.Context, json.RawMessage) error {
		fn()
		return nil
	})
}

// OnResourceUpdated calls fn with the URI of a subscribed resource that changed
func (c *Client) OnResourceUpdated(fn func(uri string)) {
	c.session.HandleNotification(protocol.MethodResourceUpdated, func(_ context.Context, params json.RawMessage) error {
		var p protocol.ResourceUpdatedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return mcperrors.InvalidParams(protocol.MethodResourceUpdated, err)
		}
		fn(p.URI)
		return nil
	})
}

// OnLogMessage calls fn with every log message the server sends
func (c *Client) OnLogMessage(fn func(protocol.LogMessageParams)) {
	c.session.HandleNotification(protocol.MethodLogMessage, func(_ context.Context, params json.RawMessage) error {
		var p protocol.LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return mcperrors.InvalidParams(protocol.MethodLogMessage, err)
		}
		fn(p)
		return nil
	})
}
