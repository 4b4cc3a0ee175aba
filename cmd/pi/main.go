// Package main provides the CLI entry point for pi, an agentic LLM runtime
// and coding-agent CLI.
//
// pi drives a conversational, tool-using assistant against one configured
// provider (with an ordered fallback chain), persisting branching
// conversation history to a session file on disk.
//
// # Basic Usage
//
// Run a one-shot prompt:
//
//	pi run --model openai/gpt-4o --prompt "summarize README.md"
//
// Continue an existing session:
//
//	pi run --model openai/gpt-4o --session ./work.session --prompt "now add tests"
//
// Expose the agent loop over the framed stdio protocol (C11):
//
//	pi serve --model anthropic/claude-3-7-sonnet-latest
//
// # Environment Variables
//
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY: provider credentials
//   - PI_CREDENTIAL_PASSPHRASE: passphrase for an encrypted credential store
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pi: "+err.Error())
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "pi",
		Short:   "pi - agentic LLM runtime and coding-agent CLI",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error; run/serve
		// failures are reported as plain stderr messages, not usage dumps.
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd(), buildServeCmd())
	return rootCmd
}
