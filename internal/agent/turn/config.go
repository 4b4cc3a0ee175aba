// Package turn implements the agent turn loop: the bounded, multi-turn
// orchestration that bounds history, builds a ChatRequest, invokes the
// provider (directly or through the fallback router), dispatches tool
// calls through the registry and safety sanitizer, accounts cost, and
// emits the ordered event stream a caller (CLI, protocol front-end, or
// event adapter) observes.
//
// It is grounded on the teacher's AgenticLoop/Runtime pairing in
// internal/agent's runtime.go/loop.go but rebuilt against the newer
// internal/llm client surface and the internal/sessions/dag branching
// store instead of the flat pkg/models session interface those files
// were written against.
package turn

import "github.com/pi-run/pi/internal/safety"

// Config bounds one Loop's behavior. Zero-value fields are filled in by
// Sanitize to the defaults below.
type Config struct {
	Model  string
	System string

	MaxTurns    int
	MaxMessages int

	ContextSummaryMaxChars    int
	ContextSummaryMaxExcerpts int

	TurnTimeoutMs int
	ToolTimeoutMs int

	StructuredOutputMaxRetries int

	CostPerMillionInput       float64
	CostPerMillionCachedInput float64
	CostPerMillionOutput      float64
	BudgetUSD                 float64
	BudgetAlertThresholds     []int // percent, sorted unique, default {100}

	SafetyPolicy safety.Policy

	Principal string
}

// DefaultConfig returns the reference defaults: 32 turns, 64 messages in
// the bounded window, 4000-char/6-excerpt context summaries, a 120s turn
// timeout, a 30s tool timeout, one structured-output retry, zero cost
// multipliers (opt-in), and a single 100% budget alert threshold.
func DefaultConfig() Config {
	return Config{
		MaxTurns:                   32,
		MaxMessages:                64,
		ContextSummaryMaxChars:     4000,
		ContextSummaryMaxExcerpts:  6,
		TurnTimeoutMs:              120_000,
		ToolTimeoutMs:              30_000,
		StructuredOutputMaxRetries: 1,
		BudgetAlertThresholds:      []int{100},
		SafetyPolicy:               safety.DefaultPolicy(),
	}
}

// Sanitize fills zero-valued fields with DefaultConfig's values and
// normalizes BudgetAlertThresholds to sorted, unique, in-range values.
func (c Config) Sanitize() Config {
	d := DefaultConfig()
	if c.MaxTurns <= 0 {
		c.MaxTurns = d.MaxTurns
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = d.MaxMessages
	}
	if c.ContextSummaryMaxChars <= 0 {
		c.ContextSummaryMaxChars = d.ContextSummaryMaxChars
	}
	if c.ContextSummaryMaxExcerpts <= 0 {
		c.ContextSummaryMaxExcerpts = d.ContextSummaryMaxExcerpts
	}
	if c.TurnTimeoutMs <= 0 {
		c.TurnTimeoutMs = d.TurnTimeoutMs
	}
	if c.ToolTimeoutMs <= 0 {
		c.ToolTimeoutMs = d.ToolTimeoutMs
	}
	if c.StructuredOutputMaxRetries < 0 {
		c.StructuredOutputMaxRetries = d.StructuredOutputMaxRetries
	}
	c.BudgetAlertThresholds = normalizeThresholds(c.BudgetAlertThresholds)
	return c
}

func normalizeThresholds(in []int) []int {
	if len(in) == 0 {
		return []int{100}
	}
	seen := map[int]bool{}
	out := make([]int, 0, len(in))
	for _, v := range in {
		if v < 1 || v > 100 || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return []int{100}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
