package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/pi-run/pi/internal/llm"
	"github.com/pi-run/pi/internal/observability"
	"github.com/pi-run/pi/internal/safety"
	"github.com/pi-run/pi/internal/sessions/dag"
	"github.com/pi-run/pi/internal/tools"
)

// PolicyBlockError is returned when the safety sanitizer blocks a stage in
// Block mode.
type PolicyBlockError struct {
	Stage   safety.Stage
	Matches []safety.Match
}

func (e *PolicyBlockError) Error() string {
	return fmt.Sprintf("turn: safety policy blocked stage %s (%d matches)", e.Stage, len(e.Matches))
}

// Loop is one configured agent turn loop: a provider client (a single
// provider or a router.FallbackRoutingClient, both satisfy llm.Client), a
// tool registry with its policy gate and audit sink, and the safety
// sanitizer configured in Config.
type Loop struct {
	cfg     Config
	client  llm.Client
	tools   *tools.Registry
	gate    tools.Gate
	audit   tools.Auditor
	sink    Sink
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// New builds a Loop. sink may be nil (defaults to NopSink); gate and audit
// may be nil (no policy gating / no audit trail).
func New(cfg Config, client llm.Client, registry *tools.Registry, gate tools.Gate, audit tools.Auditor, sink Sink) *Loop {
	if sink == nil {
		sink = NopSink
	}
	return &Loop{cfg: cfg.Sanitize(), client: client, tools: registry, gate: gate, audit: audit, sink: sink}
}

// WithSink returns a copy of the Loop emitting to sink instead of its
// configured sink, leaving the receiver unchanged. Used by callers (e.g.
// the protocol server) that need a distinct event stream per run sharing
// one otherwise-identical Loop.
func (l *Loop) WithSink(sink Sink) *Loop {
	if sink == nil {
		sink = NopSink
	}
	cp := *l
	cp.sink = sink
	return &cp
}

// WithObservability returns a copy of the Loop recording provider/tool
// metrics and spans through metrics and tracer, leaving the receiver
// unchanged. Either may be nil, in which case that half of the
// instrumentation is skipped.
func (l *Loop) WithObservability(metrics *observability.Metrics, tracer *observability.Tracer) *Loop {
	cp := *l
	cp.metrics = metrics
	cp.tracer = tracer
	return &cp
}

// Input is one invocation of Run.
type Input struct {
	// History is the linear history loaded from the session head (root
	// first); may be empty for a fresh session.
	History []llm.Message

	// UserPrompt, if non-empty, is appended as a new User message before
	// the first turn.
	UserPrompt string

	// StructuredOutputSchema, if set, requires the terminal assistant text
	// to validate against this JSON Schema (see ValidateStructuredOutput).
	StructuredOutputSchema json.RawMessage

	// Principal identifies the caller for policy/audit purposes.
	Principal string
}

// Result is what Run returns: the new messages appended this run (not
// including the pre-existing History), the terminal run state, and,
// when a schema was requested, the validated structured output.
type Result struct {
	NewMessages      []llm.Message
	FinishReason     string
	State            RunState
	FailureReason    string
	StructuredOutput json.RawMessage
	CumulativeCostUSD float64
	Usage            llm.Usage
}

// Run executes the turn loop. If store is non-nil, every message (user
// prompt, assistant replies, tool results) is also persisted to the
// session DAG as it is produced, chained onto head (nil starts a new root
// chain); Run always returns the full in-memory transcript of new
// messages regardless of whether a store is given.
func (l *Loop) Run(ctx context.Context, in Input, store *dag.Store, head *uint64) (*Result, error) {
	state := NewRunStateMachine()
	state.Start()
	l.sink.Emit(Event{Kind: EventAgentStart})

	history := append([]llm.Message{}, in.History...)
	var newMessages []llm.Message
	cost := NewCostAccumulator(l.cfg)

	appendAndPersist := func(msg llm.Message) error {
		history = append(history, msg)
		newMessages = append(newMessages, msg)
		l.sink.Emit(Event{Kind: EventMessageAdded, Message: &msg})
		if store != nil {
			ids, err := store.AppendMessages(head, []llm.Message{msg})
			if err != nil {
				return err
			}
			if len(ids) > 0 {
				head = &ids[len(ids)-1]
			}
		}
		return nil
	}

	if in.UserPrompt != "" {
		scanned, ok := safety.Apply(l.cfg.SafetyPolicy, safety.StageInboundMessage, in.UserPrompt)
		l.emitSafety(safety.StageInboundMessage, scanned, !ok)
		if !ok {
			state.Finish(StateFailed, "policy_block")
			l.sink.Emit(Event{Kind: EventAgentEnd, NewMessages: newMessages, Reason: "policy_block"})
			return l.result(state, cost, "", newMessages), &PolicyBlockError{Stage: safety.StageInboundMessage, Matches: scanned.Matches}
		}
		if err := appendAndPersist(llm.TextMessage(llm.RoleUser, scanned.RedactedText)); err != nil {
			state.Finish(StateFailed, "session_append_error")
			return l.result(state, cost, "", newMessages), err
		}
	}

	var lastResp *llm.ChatResponse
	finishReason := ""

	for turnIdx := 0; turnIdx < l.cfg.MaxTurns; turnIdx++ {
		l.sink.Emit(Event{Kind: EventTurnStart, Turn: turnIdx})

		bounded := boundHistory(history, l.cfg)
		req := llm.ChatRequest{
			Model:    l.cfg.Model,
			System:   l.cfg.System,
			Messages: bounded,
			Tools:    l.toolDefinitions(),
		}

		if l.cfg.BudgetUSD > 0 && cost.BudgetExceeded() {
			state.Transition(StateCompleting)
			finishReason = "budget_exceeded"
			break
		}

		turnCtx := ctx
		var cancel context.CancelFunc
		if l.cfg.TurnTimeoutMs > 0 {
			turnCtx, cancel = context.WithTimeout(ctx, time.Duration(l.cfg.TurnTimeoutMs)*time.Millisecond)
		}
		var span trace.Span
		if l.tracer != nil {
			turnCtx, span = l.tracer.TraceLLMRequest(turnCtx, l.client.Name(), l.cfg.Model)
		}
		start := time.Now()
		resp, err := l.client.Complete(turnCtx, req)
		duration := time.Since(start)
		if cancel != nil {
			cancel()
		}
		if l.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			l.metrics.RecordLLMRequest(l.client.Name(), l.cfg.Model, status, duration.Seconds(), 0, 0)
		}
		if span != nil {
			if err != nil {
				l.tracer.RecordError(span, err)
			}
			span.End()
		}
		if err != nil {
			if ctx.Err() != nil {
				state.Finish(StateCancelled, "context_cancelled")
			} else if turnCtx.Err() != nil {
				state.Finish(StateTimedOut, "turn_timeout")
			} else {
				state.Finish(StateFailed, err.Error())
			}
			if l.metrics != nil {
				l.metrics.RecordError("provider", "request_failed")
				l.metrics.RecordRunAttempt("failed")
			}
			l.sink.Emit(Event{Kind: EventAgentEnd, NewMessages: newMessages, Reason: "provider_error"})
			return l.result(state, cost, finishReason, newMessages), err
		}
		lastResp = resp
		finishReason = resp.StopReason
		if l.metrics != nil {
			l.metrics.LLMTokensUsed.WithLabelValues(l.client.Name(), l.cfg.Model, "prompt").Add(float64(resp.Usage.InputTokens))
			l.metrics.LLMTokensUsed.WithLabelValues(l.client.Name(), l.cfg.Model, "completion").Add(float64(resp.Usage.OutputTokens))
		}

		assistantMsg := llm.Message{Role: llm.RoleAssistant, Content: resp.Content}
		if err := appendAndPersist(assistantMsg); err != nil {
			state.Finish(StateFailed, "session_append_error")
			return l.result(state, cost, finishReason, newMessages), err
		}

		turnCost, crossed := cost.Add(resp.Usage)
		if l.metrics != nil {
			l.metrics.RecordLLMCost(l.client.Name(), l.cfg.Model, turnCost)
		}
		l.sink.Emit(Event{Kind: EventCostUpdated, Turn: turnIdx, CostCumulativeUSD: cost.Cumulative(), CostTurnUSD: turnCost})
		for _, pct := range crossed {
			l.sink.Emit(Event{Kind: EventCostBudgetAlert, Turn: turnIdx, CostCumulativeUSD: cost.Cumulative(), BudgetThresholdPct: pct})
		}

		toolCalls := extractToolCalls(resp.Content)
		l.sink.Emit(Event{Kind: EventTurnEnd, Turn: turnIdx, TurnEnd: &TurnEndPayload{
			Turn: turnIdx, RequestDurationMs: duration.Milliseconds(), Usage: resp.Usage, FinishReason: resp.StopReason,
		}})

		if len(toolCalls) == 0 {
			state.Transition(StateCompleting)
			break
		}

		for _, call := range toolCalls {
			if err := ctx.Err(); err != nil {
				state.Finish(StateCancelled, "context_cancelled")
				l.sink.Emit(Event{Kind: EventAgentEnd, NewMessages: newMessages, Reason: "cancelled"})
				return l.result(state, cost, finishReason, newMessages), err
			}

			l.sink.Emit(Event{Kind: EventToolExecutionStart, Turn: turnIdx, ToolCallID: call.ToolCallID, ToolName: call.ToolName})

			toolCtx := ctx
			var toolCancel context.CancelFunc
			if l.cfg.ToolTimeoutMs > 0 {
				toolCtx, toolCancel = context.WithTimeout(ctx, time.Duration(l.cfg.ToolTimeoutMs)*time.Millisecond)
			}
			var toolSpan trace.Span
			if l.tracer != nil {
				toolCtx, toolSpan = l.tracer.TraceToolExecution(toolCtx, call.ToolName)
			}
			toolStart := time.Now()
			result := l.tools.Dispatch(toolCtx, l.gate, l.audit, firstNonEmptyStr(in.Principal, l.cfg.Principal), call.ToolName, call.ToolCallID, call.ToolArgsJSON)
			toolDuration := time.Since(toolStart)
			if toolCancel != nil {
				toolCancel()
			}
			toolStatus := "success"
			if result.IsError {
				toolStatus = "error"
			}
			if l.metrics != nil {
				l.metrics.RecordToolExecution(call.ToolName, toolStatus, toolDuration.Seconds())
				if result.IsError {
					l.metrics.RecordError("tool", "execution_failed")
				}
			}
			if toolSpan != nil {
				if result.IsError {
					l.tracer.SetAttributes(toolSpan, "tool.error", true)
				}
				toolSpan.End()
			}

			resultText := string(result.Content)
			scanned, ok := safety.Apply(l.cfg.SafetyPolicy, safety.StageToolOutput, resultText)
			l.emitSafety(safety.StageToolOutput, scanned, !ok)
			if !ok {
				resultText = ""
				result.IsError = true
			} else {
				resultText = scanned.RedactedText
			}

			l.sink.Emit(Event{Kind: EventToolExecutionEnd, Turn: turnIdx, ToolCallID: call.ToolCallID, ToolName: call.ToolName})

			toolMsg := llm.Message{
				Role: llm.RoleTool,
				Content: []llm.ContentBlock{{
					Type:              "tool_result",
					ToolCallID:        call.ToolCallID,
					ToolName:          call.ToolName,
					ToolResultContent: resultText,
					ToolResultIsError: result.IsError,
				}},
			}
			if err := appendAndPersist(toolMsg); err != nil {
				state.Finish(StateFailed, "session_append_error")
				return l.result(state, cost, finishReason, newMessages), err
			}
		}
	}

	var structured json.RawMessage
	if in.StructuredOutputSchema != nil && lastResp != nil {
		var err error
		structured, err = l.resolveStructuredOutput(ctx, history, in.StructuredOutputSchema, &newMessages, appendAndPersist)
		if err != nil {
			state.Finish(StateFailed, "structured_output")
			l.sink.Emit(Event{Kind: EventAgentEnd, NewMessages: newMessages, Reason: "structured_output"})
			return l.result(state, cost, finishReason, newMessages), err
		}
	}

	state.Finish(StateCompleted, "")
	if l.metrics != nil {
		l.metrics.RecordRunAttempt("success")
	}
	l.sink.Emit(Event{Kind: EventAgentEnd, NewMessages: newMessages})
	result := l.result(state, cost, finishReason, newMessages)
	result.StructuredOutput = structured
	return result, nil
}

func (l *Loop) resolveStructuredOutput(ctx context.Context, history []llm.Message, schema json.RawMessage, newMessages *[]llm.Message, appendAndPersist func(llm.Message) error) (json.RawMessage, error) {
	lastText := lastAssistantText(history)
	raw, err := validateStructuredOutput(lastText, schema)
	attempts := 0
	for err != nil && attempts < l.cfg.StructuredOutputMaxRetries {
		attempts++
		l.sink.Emit(Event{Kind: EventReplanTriggered, Reason: "structured_output_retry"})
		retryMsg := llm.TextMessage(llm.RoleUser, retryPrompt(err, schema))
		if appendErr := appendAndPersist(retryMsg); appendErr != nil {
			return nil, appendErr
		}
		history = append(history, retryMsg)

		resp, callErr := l.client.Complete(ctx, llm.ChatRequest{Model: l.cfg.Model, System: l.cfg.System, Messages: boundHistory(history, l.cfg), JSONMode: true})
		if callErr != nil {
			return nil, callErr
		}
		assistantMsg := llm.Message{Role: llm.RoleAssistant, Content: resp.Content}
		if appendErr := appendAndPersist(assistantMsg); appendErr != nil {
			return nil, appendErr
		}
		history = append(history, assistantMsg)
		raw, err = validateStructuredOutput(lastAssistantText(history), schema)
	}
	if err != nil {
		return nil, &ErrStructuredOutput{LastError: err.Error()}
	}
	return raw, nil
}

func (l *Loop) result(state *RunStateMachine, cost *CostAccumulator, finishReason string, newMessages []llm.Message) *Result {
	st, _, reason := state.Status()
	return &Result{
		NewMessages:       newMessages,
		FinishReason:      finishReason,
		State:             st,
		FailureReason:     reason,
		CumulativeCostUSD: cost.Cumulative(),
	}
}

func (l *Loop) toolDefinitions() []llm.ToolDefinition {
	if l.tools == nil {
		return nil
	}
	defs := l.tools.List()
	out := make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

func (l *Loop) emitSafety(stage safety.Stage, scanned safety.ScanResult, blocked bool) {
	if !scanned.HasMatches() {
		return
	}
	l.sink.Emit(Event{Kind: EventSafetyPolicyApplied, Safety: &SafetyPolicyAppliedPayload{
		Stage:          stage,
		Mode:           l.cfg.SafetyPolicy.Mode,
		Blocked:        blocked,
		MatchedRuleIDs: scanned.MatchedRuleIDs(),
		ReasonCodes:    scanned.ReasonCodes(),
	}})
}

type toolCall struct {
	ToolCallID   string
	ToolName     string
	ToolArgsJSON json.RawMessage
}

func extractToolCalls(content []llm.ContentBlock) []toolCall {
	var calls []toolCall
	for _, block := range content {
		if block.Type != "tool_call" {
			continue
		}
		id := block.ToolCallID
		if id == "" {
			id = uuid.NewString()
		}
		calls = append(calls, toolCall{ToolCallID: id, ToolName: block.ToolName, ToolArgsJSON: block.ToolArgsJSON})
	}
	return calls
}

func lastAssistantText(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != llm.RoleAssistant {
			continue
		}
		return firstText(history[i])
	}
	return ""
}

func firstNonEmptyStr(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
