package turn

import (
	"fmt"
	"strings"

	"github.com/pi-run/pi/internal/llm"
)

// boundHistory trims messages to at most maxMessages entries, preserving a
// leading System message (if any) and replacing the dropped middle with a
// single synthetic System message summarizing what was removed. When
// maxMessages < 3 there isn't room for a summary message alongside any
// real history, so it trims without one (keeping only the most recent
// messages, still honoring the leading-System-message rule).
func boundHistory(messages []llm.Message, cfg Config) []llm.Message {
	if len(messages) <= cfg.MaxMessages {
		return messages
	}

	var leadingSystem *llm.Message
	rest := messages
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		leadingSystem = &messages[0]
		rest = messages[1:]
	}

	if cfg.MaxMessages < 3 {
		keep := cfg.MaxMessages
		if leadingSystem != nil {
			keep--
		}
		if keep < 0 {
			keep = 0
		}
		tail := tailMessages(rest, keep)
		return prependSystem(leadingSystem, tail)
	}

	// Room for: leading system (optional) + 1 summary message + remaining
	// tail messages.
	budget := cfg.MaxMessages - 1
	if leadingSystem != nil {
		budget--
	}
	if budget < 0 {
		budget = 0
	}

	tail := tailMessages(rest, budget)
	dropped := rest[:len(rest)-len(tail)]
	if len(dropped) == 0 {
		return messages
	}

	summary := summarizeDropped(dropped, cfg)
	out := make([]llm.Message, 0, len(messages))
	if leadingSystem != nil {
		out = append(out, *leadingSystem)
	}
	out = append(out, summary)
	out = append(out, tail...)
	return out
}

func tailMessages(messages []llm.Message, n int) []llm.Message {
	if n <= 0 {
		return nil
	}
	if n >= len(messages) {
		return messages
	}
	return messages[len(messages)-n:]
}

func prependSystem(leading *llm.Message, rest []llm.Message) []llm.Message {
	if leading == nil {
		return rest
	}
	out := make([]llm.Message, 0, len(rest)+1)
	out = append(out, *leading)
	out = append(out, rest...)
	return out
}

// summarizeDropped builds the "[context summary]" synthetic System message
// the spec requires: role counts plus a handful of bounded excerpts from
// the dropped messages' text content.
func summarizeDropped(dropped []llm.Message, cfg Config) llm.Message {
	var counts [4]int // system, user, assistant, tool, indexed by roleIndex
	var excerpts []string

	for _, msg := range dropped {
		counts[roleIndex(msg.Role)]++
		if len(excerpts) >= cfg.ContextSummaryMaxExcerpts {
			continue
		}
		if text := firstText(msg); text != "" {
			excerpts = append(excerpts, truncate(text, 120))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[context summary] summarized_messages=%d; roles: user=%d, assistant=%d, tool=%d, system=%d",
		len(dropped), counts[roleIdxUser], counts[roleIdxAssistant], counts[roleIdxTool], counts[roleIdxSystem])
	if len(excerpts) > 0 {
		b.WriteString("; excerpts: ")
		b.WriteString(strings.Join(excerpts, " | "))
	}

	text := truncate(b.String(), cfg.ContextSummaryMaxChars)
	return llm.TextMessage(llm.RoleSystem, text)
}

const (
	roleIdxSystem = iota
	roleIdxUser
	roleIdxAssistant
	roleIdxTool
)

func roleIndex(r llm.Role) int {
	switch r {
	case llm.RoleUser:
		return roleIdxUser
	case llm.RoleAssistant:
		return roleIdxAssistant
	case llm.RoleTool:
		return roleIdxTool
	default:
		return roleIdxSystem
	}
}

func firstText(msg llm.Message) string {
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text
		}
	}
	return ""
}

func truncate(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars])
}
