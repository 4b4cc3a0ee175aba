package turn

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrStructuredOutput is returned when the final assistant text could not
// be coerced into schema-valid JSON within the configured retry budget.
type ErrStructuredOutput struct {
	LastError string
}

func (e *ErrStructuredOutput) Error() string {
	return fmt.Sprintf("structured output: %s", e.LastError)
}

var schemaCache sync.Map

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("structured-output.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// extractJSON first tries the full trimmed text as strict JSON, then scans
// fenced code blocks whose header is empty or "json", returning the first
// one that parses.
func extractJSON(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), true
	}
	for _, block := range fencedCodeBlocks(text) {
		candidate := strings.TrimSpace(block)
		if candidate != "" && json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), true
		}
	}
	return nil, false
}

// fencedCodeBlocks returns the contents of every ``` / ```json fenced
// block in text, in order.
func fencedCodeBlocks(text string) []string {
	var blocks []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var current *strings.Builder
	inFence := false
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if !inFence {
			if strings.HasPrefix(trimmed, "```") {
				header := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
				if header == "" || strings.EqualFold(header, "json") {
					inFence = true
					current = &strings.Builder{}
				}
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			inFence = false
			if current != nil {
				blocks = append(blocks, current.String())
				current = nil
			}
			continue
		}
		if current != nil {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}
	return blocks
}

// validateStructuredOutput extracts and schema-validates text, returning
// the parsed JSON value on success or an error describing what failed (no
// JSON found, or schema validation failure) for use in the retry prompt.
func validateStructuredOutput(text string, schema json.RawMessage) (json.RawMessage, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return nil, fmt.Errorf("no valid JSON object found in response")
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return nil, err
	}
	return raw, nil
}

// retryPrompt builds the exact retry prompt the spec specifies.
func retryPrompt(lastErr error, schema json.RawMessage) string {
	return fmt.Sprintf(
		"Your previous response could not be accepted as structured JSON (%s). Please reply with only valid JSON that matches this schema exactly:\n%s",
		lastErr.Error(), string(schema),
	)
}
