package adapters

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pi-run/pi/internal/agent/turn"
	"github.com/pi-run/pi/internal/llm"
	"github.com/pi-run/pi/internal/sessions/dag"
	"github.com/pi-run/pi/internal/tools"
)

type fakeClient struct{ text string }

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{
		Content:    []llm.ContentBlock{{Type: "text", Text: c.text}},
		StopReason: "end_turn",
	}, nil
}

func (c *fakeClient) CompleteWithStream(ctx context.Context, req llm.ChatRequest, onDelta llm.OnDelta) (*llm.ChatResponse, error) {
	return c.Complete(ctx, req)
}

type recordingReply struct {
	texts []string
}

func (r *recordingReply) PostReply(ctx context.Context, evt InboundEvent, text string) error {
	r.texts = append(r.texts, text)
	return nil
}

func TestDispatcher_Handle_ProcessesAndRecordsCounters(t *testing.T) {
	loop := turn.New(turn.DefaultConfig(), &fakeClient{text: "done!"}, tools.NewRegistry(), nil, nil, nil)
	d, err := NewDispatcher(t.TempDir(), dag.LockConfig{WaitMs: 200, StaleMs: 1000}, loop, 128)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	reply := &recordingReply{}
	evt := InboundEvent{Source: "github", ChannelID: "acme/widgets#7", EventKey: "k1", Prompt: "fix the bug", RunID: "run-1"}

	outcome, err := d.Handle(context.Background(), evt, "adapter:github", reply)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("expected processed, got %v", outcome)
	}
	if len(reply.texts) != 1 || reply.texts[0] != "done!" {
		t.Fatalf("expected reply to be posted with assistant text, got %+v", reply.texts)
	}

	processed, denied, failed := d.Counters().Snapshot(channelKey("github", "acme/widgets#7"))
	if processed != 1 || denied != 0 || failed != 0 {
		t.Fatalf("expected 1 processed, got p=%d d=%d f=%d", processed, denied, failed)
	}
}

func TestDispatcher_Seen_DedupsEventKey(t *testing.T) {
	loop := turn.New(turn.DefaultConfig(), &fakeClient{text: "ok"}, tools.NewRegistry(), nil, nil, nil)
	d, err := NewDispatcher(t.TempDir(), dag.LockConfig{WaitMs: 200, StaleMs: 1000}, loop, 128)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if d.Seen("key-1") {
		t.Fatalf("first sighting should not be reported as seen")
	}
	if !d.Seen("key-1") {
		t.Fatalf("second sighting of the same key should be seen")
	}
}

func TestDispatcher_Handle_PersistsSessionAcrossCalls(t *testing.T) {
	loop := turn.New(turn.DefaultConfig(), &fakeClient{text: "reply"}, tools.NewRegistry(), nil, nil, nil)
	root := t.TempDir()
	d, err := NewDispatcher(root, dag.LockConfig{WaitMs: 200, StaleMs: 1000}, loop, 128)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	evt1 := InboundEvent{Source: "slack", ChannelID: "C1", EventKey: "e1", Prompt: "hi", RunID: "run-1"}
	if _, err := d.Handle(context.Background(), evt1, "adapter:slack", &recordingReply{}); err != nil {
		t.Fatalf("Handle 1: %v", err)
	}
	evt2 := InboundEvent{Source: "slack", ChannelID: "C1", EventKey: "e2", Prompt: "again", RunID: "run-2"}
	if _, err := d.Handle(context.Background(), evt2, "adapter:slack", &recordingReply{}); err != nil {
		t.Fatalf("Handle 2: %v", err)
	}

	session, err := dag.Open(filepath.Join(root, "slack", "C1", "session.jsonl"), dag.LockConfig{WaitMs: 200, StaleMs: 1000})
	if err != nil {
		t.Fatalf("dag.Open: %v", err)
	}
	head, err := session.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head < 4 {
		t.Fatalf("expected at least 4 persisted nodes across two runs, head=%d", head)
	}
}
