package turn

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/pi-run/pi/internal/llm"
	"github.com/pi-run/pi/internal/sessions/dag"
	"github.com/pi-run/pi/internal/tools"
)

// scriptedClient replays a fixed sequence of responses, one per call to
// Complete, so tests can drive the loop through multiple turns
// deterministically.
type scriptedClient struct {
	responses []*llm.ChatResponse
	calls     int
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if c.calls >= len(c.responses) {
		return &llm.ChatResponse{StopReason: "end_turn"}, nil
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *scriptedClient) CompleteWithStream(ctx context.Context, req llm.ChatRequest, onDelta llm.OnDelta) (*llm.ChatResponse, error) {
	return c.Complete(ctx, req)
}

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Content:    []llm.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
	}
}

func TestLoop_Run_NoToolCalls_CompletesOnFirstTurn(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{textResponse("hello there")}}
	loop := New(DefaultConfig(), client, tools.NewRegistry(), nil, nil, nil)

	result, err := loop.Run(context.Background(), Input{UserPrompt: "hi"}, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != StateCompleted {
		t.Fatalf("expected completed state, got %v", result.State)
	}
	// user message + assistant message
	if len(result.NewMessages) != 2 {
		t.Fatalf("expected 2 new messages, got %d: %+v", len(result.NewMessages), result.NewMessages)
	}
	if result.NewMessages[1].Role != llm.RoleAssistant {
		t.Fatalf("expected second message to be assistant, got %s", result.NewMessages[1].Role)
	}
}

func TestLoop_Run_DispatchesToolCallThenCompletes(t *testing.T) {
	toolResp := &llm.ChatResponse{
		Content: []llm.ContentBlock{{
			Type: "tool_call", ToolCallID: "call-1", ToolName: "echo", ToolArgsJSON: json.RawMessage(`{"x":1}`),
		}},
		StopReason: "tool_use",
	}
	finalResp := textResponse("done")
	client := &scriptedClient{responses: []*llm.ChatResponse{toolResp, finalResp}}

	registry := tools.NewRegistry()
	handlerCalled := false
	registry.Register(tools.Definition{
		Name: "echo",
		Handler: func(ctx context.Context, callID string, input json.RawMessage) (json.RawMessage, error) {
			handlerCalled = true
			return input, nil
		},
	})

	loop := New(DefaultConfig(), client, registry, nil, nil, nil)
	result, err := loop.Run(context.Background(), Input{UserPrompt: "run the tool"}, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !handlerCalled {
		t.Fatalf("expected tool handler to run")
	}
	if result.State != StateCompleted {
		t.Fatalf("expected completed, got %v", result.State)
	}

	var sawToolResult bool
	for _, msg := range result.NewMessages {
		if msg.Role == llm.RoleTool {
			sawToolResult = true
			if msg.Content[0].ToolCallID != "call-1" {
				t.Fatalf("expected tool result to reference call-1, got %+v", msg.Content[0])
			}
		}
	}
	if !sawToolResult {
		t.Fatalf("expected a Tool-role message in new messages, got %+v", result.NewMessages)
	}
}

func TestLoop_Run_DeniedToolNeverInvokesHandler(t *testing.T) {
	toolResp := &llm.ChatResponse{
		Content: []llm.ContentBlock{{
			Type: "tool_call", ToolCallID: "call-1", ToolName: "dangerous", ToolArgsJSON: json.RawMessage(`{}`),
		}},
		StopReason: "tool_use",
	}
	client := &scriptedClient{responses: []*llm.ChatResponse{toolResp, textResponse("ok")}}

	registry := tools.NewRegistry()
	called := false
	registry.Register(tools.Definition{
		Name: "dangerous",
		Handler: func(ctx context.Context, callID string, input json.RawMessage) (json.RawMessage, error) {
			called = true
			return nil, nil
		},
	})
	gate := tools.NewSimplePolicy().Deny("dangerous", "blocked")

	loop := New(DefaultConfig(), client, registry, gate, nil, nil)
	result, err := loop.Run(context.Background(), Input{UserPrompt: "do it"}, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called {
		t.Fatalf("handler must not run for a denied tool")
	}

	var foundError bool
	for _, msg := range result.NewMessages {
		if msg.Role == llm.RoleTool && msg.Content[0].ToolResultIsError {
			foundError = true
		}
	}
	if !foundError {
		t.Fatalf("expected a tool-error result message")
	}
}

func TestLoop_Run_PersistsToSessionStore(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{textResponse("persisted reply")}}
	loop := New(DefaultConfig(), client, tools.NewRegistry(), nil, nil, nil)

	store, err := dag.Open(filepath.Join(t.TempDir(), "s.jsonl"), dag.LockConfig{WaitMs: 200, StaleMs: 1000})
	if err != nil {
		t.Fatalf("dag.Open: %v", err)
	}

	result, err := loop.Run(context.Background(), Input{UserPrompt: "hi"}, store, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.NewMessages) != 2 {
		t.Fatalf("expected 2 new messages, got %d", len(result.NewMessages))
	}
	if !store.Contains(1) || !store.Contains(2) {
		t.Fatalf("expected nodes 1 and 2 to be persisted in the session store")
	}
}

func TestLoop_Run_StructuredOutputValidatesSchema(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"answer":{"type":"string"}},"required":["answer"]}`)
	client := &scriptedClient{responses: []*llm.ChatResponse{textResponse(`{"answer":"42"}`)}}
	loop := New(DefaultConfig(), client, tools.NewRegistry(), nil, nil, nil)

	result, err := loop.Run(context.Background(), Input{UserPrompt: "what is the answer", StructuredOutputSchema: schema}, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.StructuredOutput == nil {
		t.Fatalf("expected structured output to be populated")
	}
}

func TestLoop_Run_StructuredOutputRetriesThenFails(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"answer":{"type":"string"}},"required":["answer"]}`)
	client := &scriptedClient{responses: []*llm.ChatResponse{
		textResponse("not json at all"),
		textResponse("still not json"),
	}}
	cfg := DefaultConfig()
	cfg.StructuredOutputMaxRetries = 1
	loop := New(cfg, client, tools.NewRegistry(), nil, nil, nil)

	_, err := loop.Run(context.Background(), Input{UserPrompt: "answer me", StructuredOutputSchema: schema}, nil, nil)
	if err == nil {
		t.Fatalf("expected structured output error")
	}
	if _, ok := err.(*ErrStructuredOutput); !ok {
		t.Fatalf("expected *ErrStructuredOutput, got %T: %v", err, err)
	}
}
