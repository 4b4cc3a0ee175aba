package turn

import "github.com/pi-run/pi/internal/llm"

// estimateTextTokens applies the deterministic heuristic: ceil((chars+3)/4)
// per text unit. It never touches the wire; it only gates pre-flight cost
// checks and budget alerts so those can run before a request is sent.
func estimateTextTokens(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

// estimateRequestTokens sums the per-message, per-tool-definition, and
// prologue contributions the spec defines: +4 per message, +12 per tool
// definition, +2 prologue, on top of the per-text-unit heuristic applied
// to every text content block (including tool call argument JSON and tool
// result content, which are text units like any other).
func estimateRequestTokens(messages []llm.Message, tools []llm.ToolDefinition) int {
	total := 2 // prologue
	for _, msg := range messages {
		total += 4
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				total += estimateTextTokens(block.Text)
			case "tool_call":
				total += estimateTextTokens(string(block.ToolArgsJSON))
			case "tool_result":
				total += estimateTextTokens(block.ToolResultContent)
			}
		}
	}
	for range tools {
		total += 12
	}
	return total
}
