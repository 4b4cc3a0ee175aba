package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pi-run/pi/internal/agent/turn"
	"github.com/pi-run/pi/internal/protocol"
	"github.com/pi-run/pi/internal/router"
	"github.com/pi-run/pi/internal/tools"
)

// buildServeCmd exposes the turn loop over the C11 framed stdio protocol:
// capability negotiation plus run.start/run.cancel/run.status, streaming
// run.event frames as the loop progresses.
func buildServeCmd() *cobra.Command {
	f := &runtimeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the agent loop over the framed stdio protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveOnce(cmd, f)
		},
	}
	addRuntimeFlags(cmd, f)
	cmd.Flags().StringVar(&f.bearerSecret, "auth-secret", "", "HS256 secret required on every run.start frame's bearer_token (default $PI_PROTOCOL_AUTH_SECRET; empty disables auth)")
	return cmd
}

func serveOnce(cmd *cobra.Command, f *runtimeFlags) error {
	ctx := cmd.Context()

	system, err := resolveSystemPrompt(f)
	if err != nil {
		return err
	}

	client, err := buildRoutingClient(ctx, f, router.NopEventSink)
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

	_, primaryModel := router.ParseModelRef(f.model)
	cfg := turn.DefaultConfig()
	cfg.Model = primaryModel
	cfg.System = system

	registry := buildRegistry()
	loop := turn.New(cfg, client, registry, tools.NewSimplePolicy(), aud, turn.NopSink).WithObservability(metrics, tracer)

	toolNames := make([]string, 0)
	for _, def := range registry.List() {
		toolNames = append(toolNames, def.Name)
	}
	srv := protocol.NewServer(loop, protocol.Capabilities{
		ProtocolVersion:  1,
		Tools:            toolNames,
		StructuredOutput: true,
	})

	secret := f.bearerSecret
	if secret == "" {
		secret = os.Getenv("PI_PROTOCOL_AUTH_SECRET")
	}
	srv = srv.WithAuth(secret).WithTracer(tracer)

	fmt.Fprintln(os.Stderr, "pi serve: listening on stdio")
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}
