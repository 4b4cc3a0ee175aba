package turn

import (
	"github.com/pi-run/pi/internal/llm"
	"github.com/pi-run/pi/internal/safety"
)

// EventKind identifies one frame of the loop's event stream.
type EventKind string

const (
	EventAgentStart         EventKind = "agent_start"
	EventTurnStart          EventKind = "turn_start"
	EventMessageAdded       EventKind = "message_added"
	EventToolExecutionStart EventKind = "tool_execution_start"
	EventToolExecutionEnd   EventKind = "tool_execution_end"
	EventTurnEnd            EventKind = "turn_end"
	EventReplanTriggered    EventKind = "replan_triggered"
	EventCostUpdated        EventKind = "cost_updated"
	EventCostBudgetAlert    EventKind = "cost_budget_alert"
	EventSafetyPolicyApplied EventKind = "safety_policy_applied"
	EventAgentEnd           EventKind = "agent_end"
)

// Event is one frame of the synchronously emitted, ordered event stream.
// Only the fields relevant to Kind are populated; callers switch on Kind.
type Event struct {
	Kind EventKind
	Turn int

	Message *llm.Message

	ToolCallID string
	ToolName   string

	TurnEnd *TurnEndPayload

	CostCumulativeUSD float64
	CostTurnUSD       float64
	BudgetThresholdPct int

	Safety *SafetyPolicyAppliedPayload

	NewMessages []llm.Message

	Reason string
}

// TurnEndPayload carries the per-turn accounting the spec's TurnEnd event
// requires.
type TurnEndPayload struct {
	Turn              int
	ToolResults       []llm.Message
	RequestDurationMs int64
	Usage             llm.Usage
	FinishReason      string
}

// SafetyPolicyAppliedPayload mirrors the spec's SafetyPolicyApplied event
// shape.
type SafetyPolicyAppliedPayload struct {
	Stage          safety.Stage
	Mode           safety.Mode
	Blocked        bool
	MatchedRuleIDs []string
	ReasonCodes    []string
}

// Sink receives events in emission order. Subscribers are invoked
// synchronously and in registration order, matching the spec's ordering
// guarantee across subscribers.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// MultiSink fans one event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// NopSink discards every event.
var NopSink Sink = SinkFunc(func(Event) {})
