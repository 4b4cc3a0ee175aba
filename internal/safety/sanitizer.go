package safety

import (
	"sort"
	"strings"
)

// Sanitizer scans text for prompt-injection and policy-rule matches and
// applies the configured redaction/block/warn mode.
type Sanitizer struct {
	literalRules []LiteralRule
	regexRules   []RegexRule
}

// NewSanitizer builds a Sanitizer with the default rule tables.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{literalRules: DefaultLiteralRules, regexRules: DefaultRegexRules}
}

// LeakDetector scans text for credential-shaped secrets.
type LeakDetector struct {
	rules []RegexRule
}

// NewLeakDetector builds a LeakDetector with the default leak regex table.
func NewLeakDetector() *LeakDetector {
	return &LeakDetector{rules: DefaultLeakRegexRules}
}

// scanLiteral performs an ASCII-case-insensitive substring scan for every
// configured literal phrase.
func scanLiteral(text string, rules []LiteralRule) []Match {
	lower := strings.ToLower(text)
	var matches []Match
	for _, rule := range rules {
		phrase := strings.ToLower(rule.Phrase)
		start := 0
		for {
			idx := strings.Index(lower[start:], phrase)
			if idx < 0 {
				break
			}
			absStart := start + idx
			absEnd := absStart + len(phrase)
			matches = append(matches, Match{RuleID: rule.ID, ReasonCode: rule.ReasonCode, Start: absStart, End: absEnd})
			start = absEnd
		}
	}
	return matches
}

func scanRegex(text string, rules []RegexRule) []Match {
	var matches []Match
	for _, rule := range rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{RuleID: rule.ID, ReasonCode: rule.ReasonCode, Start: loc[0], End: loc[1]})
		}
	}
	return matches
}

// Scan scans text for prompt-injection rule matches.
func (s *Sanitizer) Scan(text string) ScanResult {
	matches := append(scanLiteral(text, s.literalRules), scanRegex(text, s.regexRules)...)
	return buildScanResult(text, matches, "")
}

// Scan scans text for credential-shaped secret leaks.
func (d *LeakDetector) Scan(text string) ScanResult {
	return buildScanResult(text, scanRegex(text, d.rules), "")
}

func buildScanResult(text string, matches []Match, token string) ScanResult {
	merged := mergeRanges(matches)
	redacted := text
	if token != "" {
		redacted = applyRedactionRanges(text, merged, token)
	}
	return ScanResult{RedactedText: redacted, Matches: matches}
}

// Apply runs the full stage pipeline: if the policy is disabled or doesn't
// apply to stage, text passes through unchanged. Otherwise it scans for
// injection rules and (if enabled) leaks, and — in Redact/Block mode —
// redacts/blocks. Block mode returns ok=false when any match is found;
// the caller must reject the content in that case.
func Apply(policy Policy, stage Stage, text string) (result ScanResult, ok bool) {
	if !policy.Enabled || !policy.appliesToStage(stage) {
		return ScanResult{RedactedText: text}, true
	}

	injectionMatches := scanLiteral(text, DefaultLiteralRules)
	injectionMatches = append(injectionMatches, scanRegex(text, DefaultRegexRules)...)

	var leakMatches []Match
	if policy.SecretLeakDetectionEnabled {
		leakMatches = scanRegex(text, DefaultLeakRegexRules)
	}

	allMatches := append(append([]Match{}, injectionMatches...), leakMatches...)
	if len(allMatches) == 0 {
		return ScanResult{RedactedText: text}, true
	}

	if policy.Mode == ModeBlock && len(injectionMatches) > 0 {
		return ScanResult{RedactedText: text, Matches: allMatches}, false
	}
	if policy.SecretLeakMode == ModeBlock && len(leakMatches) > 0 {
		return ScanResult{RedactedText: text, Matches: allMatches}, false
	}

	working := applyTokenedRedactions(text, policy, injectionMatches, leakMatches)
	return ScanResult{RedactedText: working, Matches: allMatches}, true
}

// applyTokenedRedactions rebuilds text in a single left-to-right pass,
// substituting the injection redaction token over merged injection-match
// ranges and the secret-leak redaction token over merged leak-match ranges,
// honoring each category's own mode independently.
func applyTokenedRedactions(text string, policy Policy, injectionMatches, leakMatches []Match) string {
	type tokenedRange struct {
		Match
		token string
	}
	var ranges []tokenedRange
	if policy.Mode == ModeRedact {
		for _, m := range mergeRanges(injectionMatches) {
			ranges = append(ranges, tokenedRange{m, policy.RedactionToken})
		}
	}
	if policy.SecretLeakMode == ModeRedact {
		for _, m := range mergeRanges(leakMatches) {
			ranges = append(ranges, tokenedRange{m, policy.SecretLeakRedactionToken})
		}
	}
	if len(ranges) == 0 {
		return text
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	var b strings.Builder
	cursor := 0
	for _, r := range ranges {
		if r.Start < cursor {
			continue // overlapping with an already-emitted range; skip
		}
		b.WriteString(text[cursor:r.Start])
		b.WriteString(r.token)
		cursor = r.End
	}
	b.WriteString(text[cursor:])
	return b.String()
}
