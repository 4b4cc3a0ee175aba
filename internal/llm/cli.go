package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CLIClient implements Client by spawning a local coding-agent CLI binary
// (codex, claude, gemini, ...) and exchanging JSON-lines over its stdio,
// mirroring how the ported CLI provider clients shell out rather than
// speaking an HTTP wire protocol directly.
type CLIClient struct {
	name       string
	binary     string
	extraArgs  []string
	runCommand func(ctx context.Context, binary string, args []string, stdin string) (string, error)
}

// NewCLIClient builds a CLI-backed client. binary is looked up on PATH.
func NewCLIClient(name, binary string, extraArgs ...string) *CLIClient {
	return &CLIClient{name: name, binary: binary, extraArgs: extraArgs, runCommand: runSubprocess}
}

func (c *CLIClient) Name() string { return c.name }

type cliRequestLine struct {
	Model    string    `json:"model"`
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`
}

type cliResponseLine struct {
	TextDelta string          `json:"text_delta,omitempty"`
	Done      bool            `json:"done,omitempty"`
	Content   []ContentBlock  `json:"content,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

func (c *CLIClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return c.CompleteWithStream(ctx, req, func(Delta) error { return nil })
}

func (c *CLIClient) CompleteWithStream(ctx context.Context, req ChatRequest, onDelta OnDelta) (*ChatResponse, error) {
	payload, err := json.Marshal(cliRequestLine{Model: req.Model, System: req.System, Messages: req.Messages})
	if err != nil {
		return nil, &Error{Kind: ErrorKindSerde, Message: err.Error(), Err: err}
	}

	out, err := c.runCommand(ctx, c.binary, c.extraArgs, string(payload)+"\n")
	if err != nil {
		return nil, &Error{Kind: ErrorKindConnect, Message: fmt.Sprintf("%s: %v", c.binary, err), Err: err}
	}

	var textBuf string
	var final *ChatResponse
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var lineMsg cliResponseLine
		if err := json.Unmarshal([]byte(line), &lineMsg); err != nil {
			return nil, &Error{Kind: ErrorKindInvalidResponse, Message: "malformed cli output line: " + line, Err: err}
		}
		if len(lineMsg.Error) > 0 {
			return nil, &Error{Kind: ErrorKindInvalidResponse, Message: string(lineMsg.Error)}
		}
		if lineMsg.TextDelta != "" {
			textBuf += lineMsg.TextDelta
			if err := onDelta(Delta{TextDelta: lineMsg.TextDelta}); err != nil {
				return nil, err
			}
		}
		if lineMsg.Done {
			resp := &ChatResponse{Model: req.Model, StopReason: "stop"}
			if lineMsg.Content != nil {
				resp.Content = lineMsg.Content
			} else if textBuf != "" {
				resp.Content = []ContentBlock{{Type: "text", Text: textBuf}}
			}
			if lineMsg.Usage != nil {
				resp.Usage = *lineMsg.Usage
			}
			final = resp
		}
	}
	if final == nil {
		final = &ChatResponse{Model: req.Model, StopReason: "stop", Content: []ContentBlock{{Type: "text", Text: textBuf}}}
	}
	if err := onDelta(Delta{Done: true, Response: final}); err != nil {
		return nil, err
	}
	return final, nil
}

func runSubprocess(ctx context.Context, binary string, args []string, stdin string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s (stderr: %s): %w", binary, stderr.String(), err)
	}
	return stdout.String(), nil
}
