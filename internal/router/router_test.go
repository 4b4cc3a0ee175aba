package router

import (
	"context"
	"testing"

	"github.com/pi-run/pi/internal/llm"
)

type mockClient struct {
	name      string
	responses []mockResult
	call      int
	observed  []string
}

type mockResult struct {
	resp *llm.ChatResponse
	err  error
}

func (m *mockClient) Name() string { return m.name }

func (m *mockClient) Complete(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.observed = append(m.observed, req.Model)
	if m.call >= len(m.responses) {
		return nil, &llm.Error{Kind: llm.ErrorKindInvalidResponse, Message: "no canned response"}
	}
	r := m.responses[m.call]
	m.call++
	return r.resp, r.err
}

func (m *mockClient) CompleteWithStream(ctx context.Context, req llm.ChatRequest, onDelta llm.OnDelta) (*llm.ChatResponse, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	_ = onDelta(llm.Delta{Done: true, Response: resp})
	return resp, nil
}

func TestFallbackOnRetryableStatus(t *testing.T) {
	primary := &mockClient{name: "primary", responses: []mockResult{
		{err: llm.NewHTTPStatusError(429, "rate limited")},
	}}
	secondary := &mockClient{name: "secondary", responses: []mockResult{
		{resp: &llm.ChatResponse{Model: "secondary-model", StopReason: "stop"}},
	}}

	var events []Event
	r, err := New([]ClientRoute{
		{Provider: "a", Model: "primary-model", Client: primary},
		{Provider: "b", Model: "secondary-model", Client: secondary},
	}, EventSinkFunc(func(e Event) { events = append(events, e) }))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := r.Complete(context.Background(), llm.ChatRequest{Model: "primary-model"})
	if err != nil {
		t.Fatalf("expected success after fallback, got %v", err)
	}
	if resp.Model != "secondary-model" {
		t.Fatalf("expected secondary-model, got %s", resp.Model)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 fallback event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != "provider_fallback" || ev.FromModel != "a/primary-model" || ev.ToModel != "b/secondary-model" ||
		ev.ErrorKind != string(llm.ErrorKindHTTPStatus) || ev.Status != 429 || ev.FallbackIndex != 1 {
		t.Fatalf("unexpected event shape: %+v", ev)
	}
}

func TestNonRetryableDoesNotFallback(t *testing.T) {
	primary := &mockClient{name: "primary", responses: []mockResult{
		{err: llm.NewHTTPStatusError(401, "unauthorized")},
	}}
	secondary := &mockClient{name: "secondary", responses: []mockResult{
		{resp: &llm.ChatResponse{Model: "secondary-model"}},
	}}

	r, err := New([]ClientRoute{
		{Provider: "a", Model: "primary-model", Client: primary},
		{Provider: "b", Model: "secondary-model", Client: secondary},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Complete(context.Background(), llm.ChatRequest{Model: "primary-model"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(secondary.observed) != 0 {
		t.Fatalf("expected secondary to never be called, observed %v", secondary.observed)
	}
}

func TestStreamingFallbackPreservesDeltas(t *testing.T) {
	primary := &mockClient{name: "primary", responses: []mockResult{
		{err: llm.NewHTTPStatusError(500, "server error")},
	}}
	secondary := &mockClient{name: "secondary", responses: []mockResult{
		{resp: &llm.ChatResponse{Model: "secondary-model", StopReason: "stop"}},
	}}

	r, err := New([]ClientRoute{
		{Provider: "a", Model: "primary-model", Client: primary},
		{Provider: "b", Model: "secondary-model", Client: secondary},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var deltas int
	_, err = r.CompleteWithStream(context.Background(), llm.ChatRequest{Model: "primary-model"}, func(llm.Delta) error {
		deltas++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if deltas == 0 {
		t.Fatal("expected at least one delta to be delivered")
	}
}

func TestResolveFallbackModelsDedups(t *testing.T) {
	got := ResolveFallbackModels("gpt-4o", []string{"gpt-4o", "gpt-4o-mini", "gpt-4o-mini", "claude-3"})
	want := []string{"gpt-4o-mini", "claude-3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestParseModelRef(t *testing.T) {
	provider, model := ParseModelRef("anthropic/claude-3-opus")
	if provider != "anthropic" || model != "claude-3-opus" {
		t.Fatalf("got (%q, %q)", provider, model)
	}
	provider, model = ParseModelRef("gpt-4o")
	if provider != "" || model != "gpt-4o" {
		t.Fatalf("got (%q, %q)", provider, model)
	}
}
