// Package safety implements the inbound/outbound content sanitizer: literal
// and regex prompt-injection rule matching, secret-leak detection, and
// range-merged redaction, ported from the reference sanitizer.
package safety

// Mode controls what the sanitizer does with a match.
type Mode string

const (
	ModeWarn   Mode = "warn"
	ModeRedact Mode = "redact"
	ModeBlock  Mode = "block"
)

// Stage identifies which pipeline point is being scanned.
type Stage string

const (
	StageInboundMessage     Stage = "inbound_message"
	StageToolOutput         Stage = "tool_output"
	StageOutboundHTTPPayload Stage = "outbound_http_payload"
)

// Policy configures the sanitizer. Defaults match the reference policy:
// enabled, Warn mode, applied to all three stages, leak detection on.
type Policy struct {
	Enabled                      bool
	Mode                         Mode
	ApplyToInboundMessages       bool
	ApplyToToolOutputs           bool
	ApplyToOutboundHTTPPayloads  bool
	RedactionToken               string
	SecretLeakDetectionEnabled   bool
	SecretLeakMode               Mode
	SecretLeakRedactionToken     string
}

// DefaultPolicy returns the reference default policy.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:                     true,
		Mode:                        ModeWarn,
		ApplyToInboundMessages:      true,
		ApplyToToolOutputs:          true,
		ApplyToOutboundHTTPPayloads: true,
		RedactionToken:              "[PI-SAFETY-REDACTED]",
		SecretLeakDetectionEnabled:  true,
		SecretLeakMode:              ModeWarn,
		SecretLeakRedactionToken:    "[PI-SECRET-REDACTED]",
	}
}

// appliesToStage reports whether the policy scans the given stage at all.
func (p Policy) appliesToStage(stage Stage) bool {
	switch stage {
	case StageInboundMessage:
		return p.ApplyToInboundMessages
	case StageToolOutput:
		return p.ApplyToToolOutputs
	case StageOutboundHTTPPayload:
		return p.ApplyToOutboundHTTPPayloads
	default:
		return false
	}
}

// Match records one rule hit within the scanned text.
type Match struct {
	RuleID     string `json:"rule_id"`
	ReasonCode string `json:"reason_code"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// ScanResult is the outcome of scanning one piece of text.
type ScanResult struct {
	RedactedText string  `json:"redacted_text"`
	Matches      []Match `json:"matches"`
}

// HasMatches reports whether any rule matched.
func (r ScanResult) HasMatches() bool { return len(r.Matches) > 0 }

// MatchedRuleIDs returns the sorted, deduplicated set of rule ids matched.
func (r ScanResult) MatchedRuleIDs() []string {
	return sortedUniqueStrings(idsOf(r.Matches, func(m Match) string { return m.RuleID }))
}

// ReasonCodes returns the sorted, deduplicated set of reason codes matched.
func (r ScanResult) ReasonCodes() []string {
	return sortedUniqueStrings(idsOf(r.Matches, func(m Match) string { return m.ReasonCode }))
}

func idsOf(matches []Match, sel func(Match) string) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = sel(m)
	}
	return out
}
