package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pi-run/pi/internal/credential"
	"github.com/pi-run/pi/internal/llm"
	"github.com/pi-run/pi/internal/router"
)

// providerEnvVar maps a provider key to the environment variable its API
// key is read from, mirroring the teacher's provider switch in
// internal/gateway/runtime.go.
func providerEnvVar(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai", "openrouter":
		return "OPENAI_API_KEY"
	case "venice":
		return "VENICE_API_KEY"
	case "google", "gemini":
		return "GOOGLE_API_KEY"
	default:
		return strings.ToUpper(provider) + "_API_KEY"
	}
}

// buildProviderClient resolves provider's credential and constructs its
// llm.Client. provider is the lowercase key parsed out of a "provider/model"
// reference by router.ParseModelRef; model is only used to disambiguate
// local CLI adapters ("cli:claude" style provider strings are not used
// here — CLI adapters are selected via provider=="cli" with model as the
// binary name).
func buildProviderClient(ctx context.Context, resolver *credential.Resolver, provider, model string) (llm.Client, error) {
	if provider == "cli" {
		return llm.NewCLIClient(provider+":"+model, model), nil
	}

	envVar := providerEnvVar(provider)
	cred, snap := resolver.Resolve(provider, credential.AuthMethodAPIKey, envVar, "")
	if !snap.Available {
		return nil, fmt.Errorf("provider %q: %s", provider, snap.Reason)
	}

	switch provider {
	case "anthropic":
		return llm.NewAnthropicClient(provider, cred.Secret), nil
	case "openai":
		return llm.NewOpenAIClient(provider, cred.Secret, ""), nil
	case "openrouter":
		return llm.NewOpenAIClient(provider, cred.Secret, "https://openrouter.ai/api/v1"), nil
	case "venice":
		return llm.NewOpenAIClient(provider, cred.Secret, "https://api.venice.ai/api/v1"), nil
	case "google", "gemini":
		return llm.NewGoogleClient(ctx, provider, cred.Secret)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// buildRoutingClient parses flags.model/flags.fallbackModels into a
// deduplicated route list (router.ResolveFallbackModels), resolves and
// wraps a retrying llm.Client per route, and returns the FallbackRoutingClient
// that drives them left-to-right (C4 over C3, C1 retry per route).
func buildRoutingClient(ctx context.Context, f *runtimeFlags, sink router.EventSink) (*router.FallbackRoutingClient, error) {
	if strings.TrimSpace(f.model) == "" {
		return nil, fmt.Errorf("--model is required")
	}

	var store *credential.Store
	if f.credentialStore != "" {
		passphrase := f.credentialPassphrase
		if passphrase == "" {
			passphrase = os.Getenv("PI_CREDENTIAL_PASSPHRASE")
		}
		store = credential.NewStore(f.credentialStore, passphrase)
	}
	resolver := credential.NewResolver(store, nil)

	models := append([]string{f.model}, router.ResolveFallbackModels(f.model, f.fallbackModels)...)
	routes := make([]router.ClientRoute, 0, len(models))
	for _, ref := range models {
		provider, model := router.ParseModelRef(ref)
		client, err := buildProviderClient(ctx, resolver, provider, model)
		if err != nil {
			return nil, err
		}
		retrying := llm.NewRetryingClient(client, f.providerMaxRetries, f.retryBudgetMs)
		routes = append(routes, router.ClientRoute{Provider: provider, Model: model, Client: retrying})
	}

	return router.New(routes, sink)
}
