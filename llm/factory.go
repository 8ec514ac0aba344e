// Provider construction for the pipeline's agent service.
//
//	provider, err := llm.ProviderAnthropic.
//	    Model(settings.LLM.Model).
//	    MaxTokens(settings.LLM.MaxTokens).
//	    Temperature(0.2).
//	    APIKey(key)

package llm

import (
	"fmt"
	"strings"
)

// ProviderType represents supported LLM providers.
type ProviderType int

const (
	ProviderOpenAI ProviderType = iota
	ProviderAnthropic
	ProviderDeepSeek
	ProviderGemini
)

type providerSpec struct {
	name         string
	aliases      []string
	defaultModel string
	create       func(apiKey, model string, maxTokens uint32, temperature float32) Provider
}

var providerSpecs = map[ProviderType]providerSpec{
	ProviderOpenAI: {
		name: "openai", aliases: []string{"gpt"}, defaultModel: ModelOpenAIGPT52,
		create: func(k, m string, n uint32, t float32) Provider { return NewOpenAIProvider(k, m, n, t) },
	},
	ProviderAnthropic: {
		name: "anthropic", aliases: []string{"claude"}, defaultModel: ModelAnthropicClaudeOpus45,
		create: func(k, m string, n uint32, t float32) Provider { return NewAnthropicProvider(k, m, n, t) },
	},
	ProviderDeepSeek: {
		name: "deepseek", defaultModel: ModelDeepSeekV32,
		create: func(k, m string, n uint32, t float32) Provider { return NewDeepSeekProvider(k, m, n, t) },
	},
	ProviderGemini: {
		name: "gemini", aliases: []string{"google"}, defaultModel: ModelGeminiFlash3,
		create: func(k, m string, n uint32, t float32) Provider { return NewGeminiProvider(k, m, n, t) },
	},
}

func (p ProviderType) String() string {
	if spec, ok := providerSpecs[p]; ok {
		return spec.name
	}
	return "unknown"
}

// DefaultModel returns the model used when none is configured.
func (p ProviderType) DefaultModel() string {
	return providerSpecs[p].defaultModel
}

// ParseProviderType parses a provider name or alias, case-insensitively.
func ParseProviderType(s string) (ProviderType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, spec := range providerSpecs {
		if s == spec.name {
			return p, nil
		}
		for _, alias := range spec.aliases {
			if s == alias {
				return p, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown provider: %s", s)
}

// Model starts configuring this provider with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return &ProviderBuilder{providerType: p, model: model}
}

// ProviderBuilder collects generation settings before the key is known.
type ProviderBuilder struct {
	providerType ProviderType
	model        string
	maxTokens    uint32
	temperature  *float32
}

func (b *ProviderBuilder) MaxTokens(tokens uint32) *ProviderBuilder {
	b.maxTokens = tokens
	return b
}

func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.temperature = &temp
	return b
}

// APIKey builds the provider. Zero settings fall back to the defaults below.
func (b *ProviderBuilder) APIKey(key string) (Provider, error) {
	spec, ok := providerSpecs[b.providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}
	if key == "" {
		return nil, fmt.Errorf("%s: API key is required", spec.name)
	}

	model := b.model
	if model == "" {
		model = spec.defaultModel
	}
	maxTokens := b.maxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := float32(DefaultTemperature)
	if b.temperature != nil {
		temperature = *b.temperature
	}
	return spec.create(key, model, maxTokens, temperature), nil
}

// Generation defaults. Guides are long and should be deterministic.
const (
	DefaultMaxTokens   = 8192
	DefaultTemperature = 0.2
)

// Model identifiers. Every default accepts image input, which notes with
// screenshots rely on.
const (
	ModelOpenAIGPT52 = "gpt-5.2"
	ModelOpenAIGPT4o = "gpt-4o"

	ModelAnthropicClaudeOpus45  = "claude-opus-4-5-20251101"
	ModelAnthropicClaudeSonnet4 = "claude-sonnet-4-20250514"

	ModelDeepSeekV32 = "deepseek-v3.2"

	ModelGeminiFlash3 = "gemini-3-flash"
	ModelGeminiPro3   = "gemini-3-pro"
)
