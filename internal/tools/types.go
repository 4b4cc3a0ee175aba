// Package tools implements the tool registry and the policy gate that
// decides, for each (principal, tool) pair, whether a call is allowed,
// denied, or requires human approval, plus the audit trail each dispatch
// writes regardless of outcome.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Handler executes a tool call and returns its result content as raw JSON
// (a bare JSON string is fine for plain-text tools).
type Handler func(ctx context.Context, callID string, input json.RawMessage) (json.RawMessage, error)

// Definition is one callable tool's schema and handler. Name is unique
// within a Registry.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Handler     Handler
}

// Result is a dispatch outcome, modeled as the spec's ToolResult{content,
// is_error} rather than a bare Go error so a denied or failed call still
// feeds back into the next turn as a Tool-role message.
type Result struct {
	CallID  string          `json:"call_id"`
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"is_error"`
}

func errorResult(callID, reasonCode, message string) Result {
	content, _ := json.Marshal(map[string]string{"reason_code": reasonCode, "message": message})
	return Result{CallID: callID, Content: content, IsError: true}
}

// Auditor is the audit sink every dispatch writes to; *audit.Logger
// satisfies it directly via LogToolInvocation/LogToolCompletion/LogToolDenied.
type Auditor interface {
	LogToolInvocation(ctx context.Context, toolName, toolCallID string, input json.RawMessage, principal string)
	LogToolCompletion(ctx context.Context, toolName, toolCallID string, success bool, output string, duration time.Duration, principal string)
	LogToolDenied(ctx context.Context, toolName, toolCallID, reason, policyMatched, principal string)
}

// Registry is the set of tools available to an agent run. Registration
// order is preserved so ToolDefinitions() (and therefore the model's
// tools[] array) is deterministic across runs that register tools in the
// same sequence.
type Registry struct {
	order []string
	tools map[string]Definition
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Definition{}}
}

// Register adds or replaces a tool definition. Re-registering an existing
// name keeps its original position in registration order.
func (r *Registry) Register(def Definition) {
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = def
}

// Unregister removes a tool, if present.
func (r *Registry) Unregister(name string) {
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.tools[name]
	return def, ok
}

// List returns tool definitions in registration order.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Dispatch runs the policy gate, then (if allowed) the handler, recording
// an audit event for every outcome: Allow runs the handler and logs
// invocation+completion, Deny and RequireApproval (without auto-approval)
// synthesize an error Result and log a denial, never calling the handler.
func (r *Registry) Dispatch(ctx context.Context, gate Gate, audit Auditor, principal, name, callID string, args json.RawMessage) Result {
	decision := DecisionAllow
	reasonCode := ""
	if gate != nil {
		decision, reasonCode = gate.Evaluate(principal, name, args)
	}

	switch decision {
	case DecisionDeny:
		if reasonCode == "" {
			reasonCode = "denied"
		}
		if audit != nil {
			audit.LogToolDenied(ctx, name, callID, reasonCode, principal, principal)
		}
		return errorResult(callID, reasonCode, "tool call denied by policy")
	case DecisionRequireApproval:
		if audit != nil {
			audit.LogToolDenied(ctx, name, callID, "approval_required", principal, principal)
		}
		return errorResult(callID, "approval_required", "tool call requires approval")
	}

	def, ok := r.Get(name)
	if !ok {
		if audit != nil {
			audit.LogToolDenied(ctx, name, callID, "unknown_tool", principal, principal)
		}
		return errorResult(callID, "unknown_tool", fmt.Sprintf("tool not found: %s", name))
	}

	if audit != nil {
		audit.LogToolInvocation(ctx, name, callID, args, principal)
	}
	start := time.Now()
	content, err := def.Handler(ctx, callID, args)
	duration := time.Since(start)

	if err != nil {
		if audit != nil {
			audit.LogToolCompletion(ctx, name, callID, false, err.Error(), duration, principal)
		}
		return errorResult(callID, "handler_error", err.Error())
	}
	if audit != nil {
		audit.LogToolCompletion(ctx, name, callID, true, string(content), duration, principal)
	}
	return Result{CallID: callID, Content: content, IsError: false}
}
