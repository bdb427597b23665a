package protocol

import (
	"encoding/json"
)

// Tool describes an invokable action
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsParams defines parameters for listing tools
type ListToolsParams struct {
	PaginatedParams
}

// ListToolsResult defines the response for listing tools
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
	PaginatedResult
}

// CallToolParams defines parameters for calling a tool
type CallToolParams struct {
	Meta      *RequestMeta    `json:"_meta,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// SetProgressToken asks the peer to report progress under token
func (p *CallToolParams) SetProgressToken(token ProgressToken) {
	if p.Meta == nil {
		p.Meta = &RequestMeta{}
	}
	p.Meta.ProgressToken = &token
}

// CallToolResult is the terminal result of a tool call
type CallToolResult struct {
	Content           []Content       `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// TextResult is a convenience constructor for a single text block result
func TextResult(text string) *CallToolResult {
	return &CallToolResult{Content: []Content{TextContent(text)}}
}
