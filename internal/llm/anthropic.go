package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Client against the Anthropic Messages API.
type AnthropicClient struct {
	name   string
	client *anthropic.Client
}

// NewAnthropicClient builds a client named name using apiKey.
func NewAnthropicClient(name, apiKey string) *AnthropicClient {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{name: name, client: &client}
}

func (c *AnthropicClient) Name() string { return c.name }

func (c *AnthropicClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params := toAnthropicParams(req)
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}
	return fromAnthropicMessage(req.Model, msg)
}

func (c *AnthropicClient) CompleteWithStream(ctx context.Context, req ChatRequest, onDelta OnDelta) (*ChatResponse, error) {
	params := toAnthropicParams(req)
	stream := c.client.Messages.NewStreaming(ctx, params)

	var textBuf string
	var toolName, toolID string
	var toolArgs string
	var stopReason string
	var usage Usage
	var content []ContentBlock

	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok {
				textBuf += delta.Text
				if err := onDelta(Delta{TextDelta: delta.Text}); err != nil {
					return nil, err
				}
			}
			if delta, ok := variant.Delta.AsAny().(anthropic.InputJSONDelta); ok {
				toolArgs += delta.PartialJSON
			}
		case anthropic.ContentBlockStartEvent:
			if start, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				toolName = start.Name
				toolID = start.ID
			}
		case anthropic.ContentBlockStopEvent:
			if toolName != "" {
				content = append(content, ContentBlock{
					Type:         "tool_call",
					ToolCallID:   toolID,
					ToolName:     toolName,
					ToolArgsJSON: json.RawMessage(toolArgs),
				})
				toolName, toolID, toolArgs = "", "", ""
			}
		case anthropic.MessageDeltaEvent:
			stopReason = string(variant.Delta.StopReason)
			usage.OutputTokens = int(variant.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropicError(err)
	}

	if textBuf != "" {
		content = append([]ContentBlock{{Type: "text", Text: textBuf}}, content...)
	}
	resp := &ChatResponse{Model: req.Model, Content: content, StopReason: stopReason, Usage: usage}
	if err := onDelta(Delta{Done: true, Response: resp}); err != nil {
		return nil, err
	}
	return resp, nil
}

func toAnthropicParams(req ChatRequest) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, toAnthropicMessage(m))
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema anthropic.ToolInputSchemaParam
			_ = json.Unmarshal(t.Parameters, &schema)
			tools = append(tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: anthropic.String(t.Description),
					InputSchema: schema,
				},
			})
		}
		params.Tools = tools
	}
	return params
}

func toAnthropicMessage(m Message) anthropic.MessageParam {
	role := anthropic.MessageParamRoleUser
	if m.Role == RoleAssistant {
		role = anthropic.MessageParamRoleAssistant
	}

	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
	for _, block := range m.Content {
		switch block.Type {
		case "text":
			blocks = append(blocks, anthropic.NewTextBlock(block.Text))
		case "tool_call":
			var input any
			_ = json.Unmarshal(block.ToolArgsJSON, &input)
			blocks = append(blocks, anthropic.NewToolUseBlock(block.ToolCallID, input, block.ToolName))
		case "tool_result":
			blocks = append(blocks, anthropic.NewToolResultBlock(block.ToolCallID, block.ToolResultContent, block.ToolResultIsError))
		}
	}
	return anthropic.MessageParam{Role: role, Content: blocks}
}

func fromAnthropicMessage(requestedModel string, msg *anthropic.Message) (*ChatResponse, error) {
	var content []ContentBlock
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, ContentBlock{Type: "text", Text: variant.Text})
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(variant.Input)
			content = append(content, ContentBlock{
				Type:         "tool_call",
				ToolCallID:   variant.ID,
				ToolName:     variant.Name,
				ToolArgsJSON: args,
			})
		}
	}
	model := string(msg.Model)
	if model == "" {
		model = requestedModel
	}
	return &ChatResponse{
		Model:      model,
		Content:    content,
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:       int(msg.Usage.InputTokens),
			CachedInputTokens: int(msg.Usage.CacheReadInputTokens),
			OutputTokens:      int(msg.Usage.OutputTokens),
			TotalTokens:       int(msg.Usage.InputTokens) + int(msg.Usage.OutputTokens),
		},
	}, nil
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewHTTPStatusError(apiErr.StatusCode, apiErr.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrorKindTimeout, Message: err.Error(), Err: err}
	}
	return &Error{Kind: ErrorKindConnect, Message: fmt.Sprintf("anthropic: %v", err), Err: err}
}
