package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/pi-run/pi/internal/tools"
)

// buildRegistry wires the coding-agent's built-in tool set: reading and
// writing a file, and running a shell command. Each handler returns a bare
// JSON string on success; Dispatch converts a returned error into an
// is_error:true tool result, so handlers just return errors directly.
func buildRegistry() *tools.Registry {
	reg := tools.NewRegistry()

	reg.Register(tools.Definition{
		Name:        "read_file",
		Description: "Read a UTF-8 text file and return its contents.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		Handler:     readFileHandler,
	})
	reg.Register(tools.Definition{
		Name:        "write_file",
		Description: "Write UTF-8 text content to a file, creating or overwriting it.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`),
		Handler:     writeFileHandler,
	})
	reg.Register(tools.Definition{
		Name:        "run_shell",
		Description: "Run a shell command and return its combined stdout/stderr.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`),
		Handler:     runShellHandler,
	})

	return reg
}

func readFileHandler(ctx context.Context, callID string, input json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("read_file: invalid arguments: %w", err)
	}
	data, err := os.ReadFile(args.Path)
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	return json.Marshal(string(data))
}

func writeFileHandler(ctx context.Context, callID string, input json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("write_file: invalid arguments: %w", err)
	}
	if err := os.WriteFile(args.Path, []byte(args.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write_file: %w", err)
	}
	return json.Marshal(fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path))
}

func runShellHandler(ctx context.Context, callID string, input json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("run_shell: invalid arguments: %w", err)
	}
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(runCtx, "sh", "-c", args.Command).CombinedOutput()
	if err != nil {
		return json.Marshal(fmt.Sprintf("exit error: %v\noutput:\n%s", err, truncate(string(out), 4000)))
	}
	return json.Marshal(truncate(string(out), 4000))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
