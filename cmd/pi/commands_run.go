package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pi-run/pi/internal/agent/turn"
	"github.com/pi-run/pi/internal/router"
	"github.com/pi-run/pi/internal/tools"
)

// buildRunCmd is the one-shot run surface: assemble a ChatRequest from the
// resolved session + tools, drive one turn loop to completion, and persist
// the result. Exit codes follow spec.md §6: 0 on success, non-zero with a
// human-readable stderr message on startup validation failure, timeout, or
// policy block.
func buildRunCmd() *cobra.Command {
	f := &runtimeFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one agent turn against a prompt and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), f)
		},
	}
	addRuntimeFlags(cmd, f)
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "inline user prompt")
	cmd.Flags().StringVar(&f.promptFile, "prompt-file", "", "path to a file containing the user prompt")
	cmd.Flags().StringVar(&f.promptTemplateFile, "prompt-template-file", "", "path to a text/template prompt, rendered against --var")
	cmd.Flags().StringArrayVar(&f.templateVars, "var", nil, "key=value template variable, repeatable (with --prompt-template-file)")
	cmd.Flags().StringVar(&f.structuredOutputSchemaFile, "structured-output-schema", "", "path to a JSON Schema the final reply must validate against")
	return cmd
}

func runOnce(ctx context.Context, f *runtimeFlags) error {
	prompt, err := resolvePrompt(f)
	if err != nil {
		return err
	}
	system, err := resolveSystemPrompt(f)
	if err != nil {
		return err
	}

	var schema json.RawMessage
	if f.structuredOutputSchemaFile != "" {
		schema, err = os.ReadFile(f.structuredOutputSchemaFile)
		if err != nil {
			return fmt.Errorf("read structured output schema: %w", err)
		}
	}

	sink, closer, err := buildSink(f.telemetryLog)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	client, err := buildRoutingClient(ctx, f, router.EventSinkFunc(func(e router.Event) {
		slog.Info("provider fallback", "from_model", e.FromModel, "to_model", e.ToModel, "error_kind", e.ErrorKind, "status", e.Status)
	}))
	if err != nil {
		return err
	}

	auditor, err := buildAuditor(f.toolAuditLog)
	if err != nil {
		return err
	}
	var aud tools.Auditor
	if auditor != nil {
		aud = auditor
	}

	metrics := buildMetrics(f)
	tracer, shutdownTracer := buildTracer(f)
	defer func() { _ = shutdownTracer(context.Background()) }()
	if metricsSrv := startMetricsServer(f); metricsSrv != nil {
		defer metricsSrv.Close()
	}

	store, head, history, err := openSession(f)
	if err != nil {
		return err
	}
	var preRunLastID uint64
	if store != nil {
		preRunLastID = store.LastAssignedID()
	}

	_, primaryModel := router.ParseModelRef(f.model)
	cfg := turn.DefaultConfig()
	cfg.Model = primaryModel
	cfg.System = system

	loop := turn.New(cfg, client, buildRegistry(), tools.NewSimplePolicy(), aud, sink).WithObservability(metrics, tracer)

	result, err := loop.Run(ctx, turn.Input{
		History:                history,
		UserPrompt:             prompt,
		StructuredOutputSchema: schema,
		Principal:              f.principal,
	}, store, head)

	if promoteErr := promoteHead(store, preRunLastID); promoteErr != nil {
		return fmt.Errorf("promote session head: %w", promoteErr)
	}

	if result != nil {
		fmt.Println(lastAssistantText(result))
	}
	if err != nil {
		return err
	}
	if result != nil && (result.State == turn.StateFailed || result.State == turn.StateTimedOut || result.State == turn.StateCancelled) {
		return fmt.Errorf("run ended in state %s: %s", result.State, result.FailureReason)
	}
	return nil
}

func lastAssistantText(result *turn.Result) string {
	for i := len(result.NewMessages) - 1; i >= 0; i-- {
		msg := result.NewMessages[i]
		if msg.Role != "assistant" {
			continue
		}
		for _, block := range msg.Content {
			if block.Type == "text" && block.Text != "" {
				return block.Text
			}
		}
	}
	return ""
}
