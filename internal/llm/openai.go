package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client against any OpenAI-compatible chat
// completions API (OpenAI itself, or a compatible base URL override for
// OpenRouter/Groq/xAI/Mistral/Azure-OpenAI-compatible gateways).
type OpenAIClient struct {
	name   string
	client *openai.Client
}

// NewOpenAIClient builds a client named name against apiKey. baseURL may be
// empty to use OpenAI's default endpoint.
func NewOpenAIClient(name, apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{name: name, client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) Name() string { return c.name }

func (c *OpenAIClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	oaiReq, err := toOpenAIRequest(req, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.CreateChatCompletion(ctx, oaiReq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	return fromOpenAIResponse(req.Model, resp)
}

func (c *OpenAIClient) CompleteWithStream(ctx context.Context, req ChatRequest, onDelta OnDelta) (*ChatResponse, error) {
	oaiReq, err := toOpenAIRequest(req, true)
	if err != nil {
		return nil, err
	}
	stream, err := c.client.CreateChatCompletionStream(ctx, oaiReq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	defer stream.Close()

	toolCalls := map[int]*ContentBlock{}
	var textBuf string
	var model string
	var usage Usage

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, classifyOpenAIError(err)
		}
		if model == "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			textBuf += delta.Content
			if err := onDelta(Delta{TextDelta: delta.Content}); err != nil {
				return nil, err
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			block, ok := toolCalls[idx]
			if !ok {
				block = &ContentBlock{Type: "tool_call"}
				toolCalls[idx] = block
			}
			if tc.ID != "" {
				block.ToolCallID = tc.ID
			}
			if tc.Function.Name != "" {
				block.ToolName = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				block.ToolArgsJSON = append(block.ToolArgsJSON, []byte(tc.Function.Arguments)...)
			}
		}
	}

	content := make([]ContentBlock, 0, len(toolCalls)+1)
	if textBuf != "" {
		content = append(content, ContentBlock{Type: "text", Text: textBuf})
	}
	for i := 0; i < len(toolCalls); i++ {
		if block, ok := toolCalls[i]; ok {
			content = append(content, *block)
		}
	}

	resp := &ChatResponse{Model: model, Content: content, StopReason: "stop", Usage: usage}
	if err := onDelta(Delta{Done: true, Response: resp}); err != nil {
		return nil, err
	}
	return resp, nil
}

func toOpenAIRequest(req ChatRequest, stream bool) (openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		msgs, err := convertMessage(m)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		messages = append(messages, msgs...)
	}

	out := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		Stream:    stream,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		out.Tools = make([]openai.Tool, len(req.Tools))
		for i, t := range req.Tools {
			var params map[string]any
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &params); err != nil {
					params = map[string]any{"type": "object", "properties": map[string]any{}}
				}
			}
			out.Tools[i] = openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  params,
				},
			}
		}
	}
	return out, nil
}

func convertMessage(m Message) ([]openai.ChatCompletionMessage, error) {
	var role string
	switch m.Role {
	case RoleSystem:
		role = openai.ChatMessageRoleSystem
	case RoleUser:
		role = openai.ChatMessageRoleUser
	case RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	case RoleTool:
		role = openai.ChatMessageRoleTool
	default:
		return nil, fmt.Errorf("llm: unknown role %q", m.Role)
	}

	if m.Role == RoleTool {
		out := make([]openai.ChatCompletionMessage, 0, len(m.Content))
		for _, block := range m.Content {
			if block.Type != "tool_result" {
				continue
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    block.ToolResultContent,
				ToolCallID: block.ToolCallID,
			})
		}
		return out, nil
	}

	msg := openai.ChatCompletionMessage{Role: role}
	var textParts []openai.ChatMessagePart
	var plainText string
	var toolCalls []openai.ToolCall

	for _, block := range m.Content {
		switch block.Type {
		case "text":
			plainText += block.Text
			textParts = append(textParts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: block.Text})
		case "image":
			if block.Media != nil {
				url := block.Media.URL
				if block.Media.Kind == "base64" {
					url = fmt.Sprintf("data:%s;base64,%s", block.Media.MimeType, block.Media.Data)
				}
				textParts = append(textParts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
				})
			}
		case "tool_call":
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ToolCallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      block.ToolName,
					Arguments: string(block.ToolArgsJSON),
				},
			})
		}
	}

	hasMedia := len(textParts) != len(m.Content) || hasImageBlock(m.Content)
	if hasMedia && len(textParts) > 0 {
		msg.MultiContent = textParts
	} else {
		msg.Content = plainText
	}
	msg.ToolCalls = toolCalls
	return []openai.ChatCompletionMessage{msg}, nil
}

func hasImageBlock(blocks []ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == "image" {
			return true
		}
	}
	return false
}

func fromOpenAIResponse(requestedModel string, resp openai.ChatCompletionResponse) (*ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: ErrorKindInvalidResponse, Message: "no choices returned"}
	}
	choice := resp.Choices[0]
	var content []ContentBlock
	if choice.Message.Content != "" {
		content = append(content, ContentBlock{Type: "text", Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		content = append(content, ContentBlock{
			Type:         "tool_call",
			ToolCallID:   tc.ID,
			ToolName:     tc.Function.Name,
			ToolArgsJSON: json.RawMessage(tc.Function.Arguments),
		})
	}
	model := resp.Model
	if model == "" {
		model = requestedModel
	}
	return &ChatResponse{
		Model:      model,
		Content:    content,
		StopReason: string(choice.FinishReason),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// classifyOpenAIError maps go-openai's error types to the taxonomy in
// errors.go, replacing the teacher's string-matching isRetryableError with
// precise status-code classification.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewHTTPStatusError(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewHTTPStatusError(reqErr.HTTPStatusCode, reqErr.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrorKindTimeout, Message: err.Error(), Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: ErrorKindRequest, Message: err.Error(), Err: err}
	}
	return &Error{Kind: ErrorKindConnect, Message: err.Error(), Err: err}
}
