package main

import "github.com/spf13/cobra"

// runtimeFlags holds the CLI surface spec.md §6 names as the "configuration
// struct" the core consumes: model + fallback chain, provider retry/budget,
// audit/telemetry sinks, and session/branch selection. Flag names are ours
// to choose; the recognized options and their effect are not.
type runtimeFlags struct {
	model          string
	fallbackModels []string

	prompt             string
	promptFile         string
	promptTemplateFile string
	templateVars       []string

	systemPrompt     string
	systemPromptFile string

	session       string
	branchFrom    uint64
	hasBranchFrom bool
	noSession     bool

	providerMaxRetries int
	retryBudgetMs      int64

	toolAuditLog string
	telemetryLog string
	principal    string

	structuredOutputSchemaFile string

	credentialStore      string
	credentialPassphrase string

	bearerSecret string // serve-only: HS256 secret for run.start auth

	metricsEnabled bool
	metricsAddr    string
	otelEndpoint   string
	otelInsecure   bool
}

func addRuntimeFlags(cmd *cobra.Command, f *runtimeFlags) {
	cmd.Flags().StringVar(&f.model, "model", "", "primary model reference, \"provider/model\" (required)")
	cmd.Flags().StringArrayVar(&f.fallbackModels, "fallback-model", nil, "fallback model reference, repeatable, tried in order after the primary")

	cmd.Flags().IntVar(&f.providerMaxRetries, "provider-max-retries", 2, "max attempts per provider route before failing over")
	cmd.Flags().Int64Var(&f.retryBudgetMs, "retry-budget-ms", 0, "cumulative retry sleep budget per route in milliseconds (0 = unbounded)")

	cmd.Flags().StringVar(&f.systemPrompt, "system-prompt", "", "inline system prompt")
	cmd.Flags().StringVar(&f.systemPromptFile, "system-prompt-file", "", "path to a file containing the system prompt")

	cmd.Flags().StringVar(&f.session, "session", "", "path to the session DAG file (created if absent)")
	cmd.Flags().Uint64Var(&f.branchFrom, "branch-from", 0, "node id to branch from instead of continuing the current head")
	cmd.Flags().BoolVar(&f.noSession, "no-session", false, "skip session persistence entirely")

	cmd.Flags().StringVar(&f.toolAuditLog, "tool-audit-log", "", "jsonl path to append tool invocation/completion/denial audit records")
	cmd.Flags().StringVar(&f.telemetryLog, "telemetry-log", "", "jsonl path to append the agent's event stream")
	cmd.Flags().StringVar(&f.principal, "principal", "cli", "identity attributed to this run for policy and audit purposes")

	cmd.Flags().StringVar(&f.credentialStore, "credential-store", "", "path to an encrypted credential store file (env vars are tried first)")
	cmd.Flags().StringVar(&f.credentialPassphrase, "credential-passphrase", "", "passphrase for --credential-store (defaults to $PI_CREDENTIAL_PASSPHRASE)")

	cmd.Flags().BoolVar(&f.metricsEnabled, "metrics", false, "register Prometheus counters/histograms for provider requests, tool dispatch, cost, and run outcomes")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", ":9090", "listen address for the /metrics endpoint when --metrics is set")
	cmd.Flags().StringVar(&f.otelEndpoint, "otel-endpoint", "", "OTLP gRPC collector endpoint for turn/RPC spans (default $PI_OTEL_ENDPOINT; empty disables tracing)")
	cmd.Flags().BoolVar(&f.otelInsecure, "otel-insecure", false, "disable TLS for the OTLP connection (dev/testing only)")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		f.hasBranchFrom = cmd.Flags().Changed("branch-from")
		return nil
	}
}
