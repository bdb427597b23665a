package client

import (
	"context"

	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/session"
)

// StreamingUpdateHandler receives the progress of a streamed tool call
type StreamingUpdateHandler func(protocol.ProgressParams)

// CallToolStream invokes a tool and asks the server to report progress. Read
// updates from the stream, then its Result.
func (c *Client) CallToolStream(ctx context.Context, name string, args any) (*session.ProgressStream, error) {
	if err := c.require(protocol.MethodCallTool, session.CategoryTools, session.FeatureNone); err != nil {
		return nil, err
	}
	params, err := toolParams(name, args)
	if err != nil {
		return nil, err
	}
	return c.session.RequestStream(ctx, protocol.MethodCallTool, params)
}

// CallToolStreaming invokes a tool, passes every progress update to
// updateHandler in order, and returns the terminal result. Cancelling ctx
// cancels the call on the server.
func (c *Client) CallToolStreaming(ctx context.Context, name string, args any, updateHandler StreamingUpdateHandler) (*protocol.CallToolResult, error) {
	stream, err := c.CallToolStream(ctx, name, args)
	if err != nil {
		return nil, err
	}

	for update := range stream.Updates(ctx) {
		if updateHandler != nil {
			updateHandler(update)
		}
	}
	if ctx.Err() != nil {
		stream.Cancel()
	}

	var result protocol.CallToolResult
	if err := stream.Result(context.WithoutCancel(ctx), &result); err != nil {
		return nil, err
	}
	return &result, nil
}
