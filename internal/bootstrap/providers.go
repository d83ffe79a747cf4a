// Package bootstrap wires the config-described provider list into the
// concrete agent.LLMProvider implementations the Router dispatches to. It
// exists so cmd/agentloop stays a thin flag/IO layer and the provider
// selection switch has exactly one home.
package bootstrap

import (
	"fmt"

	"github.com/haasonsaas/agentloop/internal/agent"
	"github.com/haasonsaas/agentloop/internal/agent/providers"
	"github.com/haasonsaas/agentloop/internal/config"
)

// BuildProviderEntry constructs the LLMProvider named by cfg.Name (one of
// "anthropic", "openai", "bedrock", "google") and binds it to cfg.Model
// and cfg.CostScore.
func BuildProviderEntry(cfg config.ProviderConfig) (agent.ProviderEntry, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return agent.ProviderEntry{}, err
	}
	return agent.ProviderEntry{Provider: provider, Model: cfg.Model, CostScore: cfg.CostScore}, nil
}

func buildProvider(cfg config.ProviderConfig) (agent.LLMProvider, error) {
	switch cfg.Name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.Credential,
			DefaultModel: cfg.Model,
		})
	case "openai":
		return providers.NewOpenAIProviderWithEndpoint(cfg.Credential, cfg.Endpoint), nil
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			DefaultModel: cfg.Model,
		})
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       cfg.Credential,
			DefaultModel: cfg.Model,
		})
	default:
		return nil, fmt.Errorf("bootstrap: unknown provider %q", cfg.Name)
	}
}

// BuildProviders constructs the primary provider entry plus every backup
// entry, in the order the config lists them. The Router sorts backups by
// cost score itself, so order here only needs to match the config.
func BuildProviders(cfg *config.Config) (agent.ProviderEntry, []agent.ProviderEntry, error) {
	primary, err := BuildProviderEntry(cfg.PrimaryProvider)
	if err != nil {
		return agent.ProviderEntry{}, nil, fmt.Errorf("primary provider: %w", err)
	}

	backups := make([]agent.ProviderEntry, 0, len(cfg.BackupProviders))
	for _, b := range cfg.BackupProviders {
		entry, err := BuildProviderEntry(b)
		if err != nil {
			return agent.ProviderEntry{}, nil, fmt.Errorf("backup provider %q: %w", b.Name, err)
		}
		backups = append(backups, entry)
	}
	return primary, backups, nil
}
