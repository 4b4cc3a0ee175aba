// Package llm defines the provider-neutral chat wire types and the
// LlmClient contract every provider adapter implements.
package llm

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MediaSource describes an inline or remote media reference attached to a
// content block.
type MediaSource struct {
	Kind     string `json:"kind"` // "url" or "base64"
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ContentBlock is one part of a message's content. Exactly one of the
// typed fields is populated, selected by Type.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_call", "tool_result", "image", "audio"

	Text string `json:"text,omitempty"`

	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolArgsJSON json.RawMessage `json:"tool_args,omitempty"`

	ToolResultContent string `json:"tool_result_content,omitempty"`
	ToolResultIsError bool   `json:"tool_result_is_error,omitempty"`

	Media *MediaSource `json:"media,omitempty"`
}

// Message is one turn in a conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextMessage is a convenience constructor for a single text block message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ToolDefinition describes a callable tool, schema-first.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolChoice constrains which tool (if any) the model must call.
type ToolChoice struct {
	Mode string `json:"mode"` // "auto", "none", "required", "named"
	Name string `json:"name,omitempty"`
}

// ChatRequest is a provider-neutral completion request.
type ChatRequest struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  *ToolChoice      `json:"tool_choice,omitempty"`
	JSONMode    bool             `json:"json_mode,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	PromptCache bool             `json:"prompt_cache,omitempty"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
	OutputTokens      int `json:"output_tokens"`
	TotalTokens       int `json:"total_tokens"`
}

// ChatResponse is a provider-neutral completion result.
type ChatResponse struct {
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Delta is one incremental piece of a streamed completion.
type Delta struct {
	TextDelta string        `json:"text_delta,omitempty"`
	ToolCall  *ContentBlock `json:"tool_call,omitempty"`
	Done      bool          `json:"done,omitempty"`
	Response  *ChatResponse `json:"response,omitempty"`
}

// OnDelta is invoked for every incremental streaming event.
type OnDelta func(Delta) error

// Client is the single polymorphic seam every provider adapter and the
// fallback router implement.
type Client interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	CompleteWithStream(ctx context.Context, req ChatRequest, onDelta OnDelta) (*ChatResponse, error)
}
