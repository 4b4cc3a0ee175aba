// Package router implements the deterministic left-to-right provider
// fallback chain described in the ported provider_fallback algorithm: try
// each configured route in order, classify errors as retryable or fatal,
// and hand off to the next route on a retryable failure while emitting a
// provider_fallback event for observability.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pi-run/pi/internal/llm"
)

// ClientRoute pairs a provider/model pair with the llm.Client that serves
// it. Model overrides the request's Model field when this route is tried.
type ClientRoute struct {
	Provider string
	Model    string
	Client   llm.Client
}

// Event is emitted whenever a route fails over to the next one.
type Event struct {
	Type          string `json:"type"` // "provider_fallback"
	FromModel     string `json:"from_model"`
	ToModel       string `json:"to_model"`
	ErrorKind     string `json:"error_kind"`
	Status        int    `json:"status,omitempty"`
	FallbackIndex int    `json:"fallback_index"`
}

// EventSink receives fallback events. Implementations must not block for
// long; the router invokes it synchronously between route attempts.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

// NopEventSink discards every event.
var NopEventSink EventSink = EventSinkFunc(func(Event) {})

// FallbackRoutingClient tries each route in order, treating the first as
// primary and the rest as fallbacks, and satisfies llm.Client itself so it
// can be composed anywhere a single provider client is expected.
type FallbackRoutingClient struct {
	mu        sync.RWMutex
	routes    []ClientRoute
	sink      EventSink
	retryable func(error) bool
}

// New builds a FallbackRoutingClient. routes must contain at least one
// entry; the first is the primary route.
func New(routes []ClientRoute, sink EventSink) (*FallbackRoutingClient, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("router: at least one route is required")
	}
	if sink == nil {
		sink = NopEventSink
	}
	return &FallbackRoutingClient{routes: append([]ClientRoute{}, routes...), sink: sink, retryable: llm.IsRetryable}, nil
}

func (r *FallbackRoutingClient) Name() string { return "fallback-router" }

// Routes returns a copy of the configured routes, in order.
func (r *FallbackRoutingClient) Routes() []ClientRoute {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ClientRoute{}, r.routes...)
}

func (r *FallbackRoutingClient) Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return r.completeInner(ctx, req, func(route ClientRoute, request llm.ChatRequest) (*llm.ChatResponse, error) {
		return route.Client.Complete(ctx, request)
	})
}

func (r *FallbackRoutingClient) CompleteWithStream(ctx context.Context, req llm.ChatRequest, onDelta llm.OnDelta) (*llm.ChatResponse, error) {
	return r.completeInner(ctx, req, func(route ClientRoute, request llm.ChatRequest) (*llm.ChatResponse, error) {
		return route.Client.CompleteWithStream(ctx, request, onDelta)
	})
}

func (r *FallbackRoutingClient) completeInner(
	ctx context.Context,
	req llm.ChatRequest,
	call func(ClientRoute, llm.ChatRequest) (*llm.ChatResponse, error),
) (*llm.ChatResponse, error) {
	routes := r.Routes()
	primaryModel := req.Model

	var lastErr error
	for i, route := range routes {
		request := req
		request.Model = route.Model
		if request.Model == "" {
			request.Model = primaryModel
		}

		resp, err := call(route, request)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !r.retryable(err) {
			return nil, err
		}

		if i+1 < len(routes) {
			next := routes[i+1]
			kind, status := fallbackErrorMetadata(err)
			r.sink.Emit(Event{
				Type:          "provider_fallback",
				FromModel:     fullModelRef(route.Provider, request.Model),
				ToModel:       fullModelRef(next.Provider, resolveModel(next, primaryModel)),
				ErrorKind:     kind,
				Status:        status,
				FallbackIndex: i + 1,
			})
		}
	}
	return nil, lastErr
}

func resolveModel(route ClientRoute, primaryModel string) string {
	if route.Model != "" {
		return route.Model
	}
	return primaryModel
}

// fullModelRef joins provider and model into the "provider/model" form
// ParseModelRef expects, so provider_fallback events carry the same
// reference shape callers pass in on --model/--fallback-models.
func fullModelRef(provider, model string) string {
	if provider == "" {
		return model
	}
	return provider + "/" + model
}

func fallbackErrorMetadata(err error) (string, int) {
	if e, ok := err.(*llm.Error); ok {
		return string(e.Kind), e.Status
	}
	return "unknown", 0
}

// ResolveFallbackModels dedups candidateModels against primaryModel and any
// earlier-listed fallback, preserving order, mirroring
// resolve_fallback_models from the ported reference implementation.
func ResolveFallbackModels(primaryModel string, candidateModels []string) []string {
	seen := map[string]bool{primaryModel: true}
	out := make([]string, 0, len(candidateModels))
	for _, m := range candidateModels {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// ParseModelRef splits a "provider/model" reference into its parts,
// grounded on the multi-agent router's model-ref parsing. If there is no
// "/" the whole string is treated as the model with an empty provider.
func ParseModelRef(ref string) (provider, model string) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '/' {
			return ref[:i], ref[i+1:]
		}
	}
	return "", ref
}

// MarshalEvent renders an Event as the JSON object shape the original
// implementation emits, useful for JSONL audit sinks.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
