package protocol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pi-run/pi/internal/agent/turn"
	"github.com/pi-run/pi/internal/llm"
	"github.com/pi-run/pi/internal/tools"
)

type fakeClient struct{ text string }

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: []llm.ContentBlock{{Type: "text", Text: c.text}}, StopReason: "end_turn"}, nil
}

func (c *fakeClient) CompleteWithStream(ctx context.Context, req llm.ChatRequest, onDelta llm.OnDelta) (*llm.ChatResponse, error) {
	return c.Complete(ctx, req)
}

func writeFrame(t *testing.T, buf *bytes.Buffer, frame Frame) {
	t.Helper()
	var mu sync.Mutex
	if err := WriteFrame(buf, &mu, frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func readFrames(t *testing.T, data []byte) []Frame {
	t.Helper()
	reader := bufio.NewReader(bytes.NewReader(data))
	var frames []Frame
	for {
		f, err := ReadFrame(reader)
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("ReadFrame: %v", err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestServer_CapabilitiesRequest(t *testing.T) {
	loop := turn.New(turn.DefaultConfig(), &fakeClient{text: "hi"}, tools.NewRegistry(), nil, nil, nil)
	srv := NewServer(loop, Capabilities{ProtocolVersion: 1, Tools: []string{"echo"}})

	var in bytes.Buffer
	writeFrame(t, &in, Frame{RequestID: "r1", Kind: "capabilities.request"})

	var out bytes.Buffer
	if err := srv.Serve(context.Background(), &in, &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	frames := readFrames(t, out.Bytes())
	if len(frames) != 1 || frames[0].Kind != "capabilities.response" {
		t.Fatalf("expected one capabilities.response frame, got %+v", frames)
	}
	var caps Capabilities
	if err := json.Unmarshal(frames[0].Payload, &caps); err != nil {
		t.Fatalf("unmarshal capabilities: %v", err)
	}
	if caps.ProtocolVersion != 1 || len(caps.Tools) != 1 {
		t.Fatalf("unexpected capabilities payload: %+v", caps)
	}
}

func TestServer_RunStart_AcceptsAndCompletes(t *testing.T) {
	loop := turn.New(turn.DefaultConfig(), &fakeClient{text: "done"}, tools.NewRegistry(), nil, nil, nil)
	srv := NewServer(loop, Capabilities{ProtocolVersion: 1})

	startPayload, _ := json.Marshal(RunStartPayload{Prompt: "hello"})
	var in bytes.Buffer
	writeFrame(t, &in, Frame{RequestID: "r1", Kind: "run.start", Payload: startPayload})

	pr, pw := io.Pipe()
	go func() {
		_ = srv.Serve(context.Background(), &in, pw)
	}()

	reader := bufio.NewReader(pr)
	var acceptedRunID string
	deadline := time.After(5 * time.Second)
	done := make(chan struct{})
	var terminalKind string

	go func() {
		defer close(done)
		for {
			f, err := ReadFrame(reader)
			if err != nil {
				return
			}
			switch f.Kind {
			case "run.accepted":
				var accepted RunAcceptedPayload
				json.Unmarshal(f.Payload, &accepted)
				acceptedRunID = accepted.RunID
			case "run.complete", "run.fail", "run.timeout":
				terminalKind = f.Kind
				return
			}
		}
	}()

	select {
	case <-done:
	case <-deadline:
		t.Fatalf("timed out waiting for run to complete")
	}

	if acceptedRunID == "" {
		t.Fatalf("expected a run.accepted frame with a run id")
	}
	if terminalKind != "run.complete" {
		t.Fatalf("expected run.complete, got %q", terminalKind)
	}
}

func TestServer_UnknownFrameKind_ReturnsError(t *testing.T) {
	loop := turn.New(turn.DefaultConfig(), &fakeClient{text: "x"}, tools.NewRegistry(), nil, nil, nil)
	srv := NewServer(loop, Capabilities{})

	var in bytes.Buffer
	writeFrame(t, &in, Frame{RequestID: "r1", Kind: "bogus.kind"})
	var out bytes.Buffer
	if err := srv.Serve(context.Background(), &in, &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	frames := readFrames(t, out.Bytes())
	if len(frames) != 1 || frames[0].Kind != "error" {
		t.Fatalf("expected one error frame, got %+v", frames)
	}
	var errPayload ErrorPayload
	json.Unmarshal(frames[0].Payload, &errPayload)
	if errPayload.Code != ErrCodeInvalidPayload {
		t.Fatalf("expected invalid_payload code, got %q", errPayload.Code)
	}
}
