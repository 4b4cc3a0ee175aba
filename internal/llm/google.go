package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GoogleClient implements Client against the Gemini API.
type GoogleClient struct {
	name   string
	client *genai.Client
}

// NewGoogleClient builds a client named name using apiKey.
func NewGoogleClient(ctx context.Context, name, apiKey string) (*GoogleClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("llm: google client: %w", err)
	}
	return &GoogleClient{name: name, client: client}, nil
}

func (c *GoogleClient) Name() string { return c.name }

func (c *GoogleClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	contents, config := toGoogleRequest(req)
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, classifyGoogleError(err)
	}
	return fromGoogleResponse(req.Model, resp)
}

func (c *GoogleClient) CompleteWithStream(ctx context.Context, req ChatRequest, onDelta OnDelta) (*ChatResponse, error) {
	contents, config := toGoogleRequest(req)
	iter := c.client.Models.GenerateContentStream(ctx, req.Model, contents, config)

	var textBuf string
	var last *genai.GenerateContentResponse
	for resp, err := range iter {
		if err != nil {
			return nil, classifyGoogleError(err)
		}
		last = resp
		if text := resp.Text(); text != "" {
			textBuf += text
			if err := onDelta(Delta{TextDelta: text}); err != nil {
				return nil, err
			}
		}
	}
	if last == nil {
		return nil, &Error{Kind: ErrorKindInvalidResponse, Message: "empty stream"}
	}
	chatResp, err := fromGoogleResponse(req.Model, last)
	if err != nil {
		return nil, err
	}
	if textBuf != "" {
		chatResp.Content = []ContentBlock{{Type: "text", Text: textBuf}}
	}
	if err := onDelta(Delta{Done: true, Response: chatResp}); err != nil {
		return nil, err
	}
	return chatResp, nil
}

func toGoogleRequest(req ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		for _, block := range m.Content {
			if block.Type == "text" {
				parts = append(parts, genai.NewPartFromText(block.Text))
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		fds := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema *genai.Schema
			_ = json.Unmarshal(t.Parameters, &schema)
			fds = append(fds, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: fds}}
	}
	return contents, config
}

func fromGoogleResponse(requestedModel string, resp *genai.GenerateContentResponse) (*ChatResponse, error) {
	if len(resp.Candidates) == 0 {
		return nil, &Error{Kind: ErrorKindInvalidResponse, Message: "no candidates returned"}
	}
	var content []ContentBlock
	cand := resp.Candidates[0]
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				content = append(content, ContentBlock{Type: "text", Text: part.Text})
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				content = append(content, ContentBlock{
					Type:         "tool_call",
					ToolCallID:   part.FunctionCall.Name,
					ToolName:     part.FunctionCall.Name,
					ToolArgsJSON: args,
				})
			}
		}
	}
	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return &ChatResponse{
		Model:      requestedModel,
		Content:    content,
		StopReason: string(cand.FinishReason),
		Usage:      usage,
	}, nil
}

func classifyGoogleError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return NewHTTPStatusError(apiErr.Code, apiErr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrorKindTimeout, Message: err.Error(), Err: err}
	}
	return &Error{Kind: ErrorKindConnect, Message: fmt.Sprintf("google: %v", err), Err: err}
}
