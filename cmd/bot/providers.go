package main

import (
	"chatrelay/internal/config"
	"chatrelay/internal/providers"
	"chatrelay/internal/providers/registry"
)

// buildProviders overlays environment settings on the built-in provider table.
func buildProviders(env config.ProvidersConfig) []registry.ProviderConfig {
	byKind := map[providers.Kind]config.ProviderEnv{
		providers.KindOpenAIChat: env.OpenAI,
		providers.KindGemini:     env.Gemini,
		providers.KindClaude:     env.Anthropic,
		providers.KindGrok:       env.XAI,
		providers.KindCustom:     env.Custom,
	}

	out := registry.Defaults()
	for i := range out {
		e, ok := byKind[out[i].Kind]
		if !ok {
			continue
		}
		out[i].APIKey = e.APIKey
		if e.Model != "" {
			out[i].DefaultModel = e.Model
		}
		if e.BaseURL != "" {
			out[i].BaseURL = e.BaseURL
		}
		if e.BodyTemplate != "" {
			out[i].BodyTemplate = e.BodyTemplate
		}
		if len(e.Headers) > 0 {
			out[i].Headers = e.Headers
		}
	}
	return out
}
