package registry

import "time"

type Provider string

const (
	ProviderAnthropic  Provider = "Anthropic"
	ProviderOpenAI     Provider = "OpenAI"
	ProviderGoogle     Provider = "Google"
	ProviderMistral    Provider = "Mistral"
	ProviderGroq       Provider = "Groq"
	ProviderOpenRouter Provider = "OpenRouter"
	ProviderDeepseek   Provider = "Deepseek"
	ProviderTogetherAI Provider = "TogetherAI"
	ProviderOllama     Provider = "Ollama"
	ProviderLMStudio   Provider = "LMStudio"
)

// Model describes one selectable model. Prices are per million tokens.
type Model struct {
	Name            string   `yaml:"name" json:"name"`
	Provider        Provider `yaml:"provider,omitempty" json:"provider"`
	Label           string   `yaml:"label" json:"label"`
	InputPrice      float64  `yaml:"input_price,omitempty" json:"input_price,omitempty"`
	OutputPrice     float64  `yaml:"output_price,omitempty" json:"output_price,omitempty"`
	MaxOutputTokens int      `yaml:"max_output_tokens,omitempty" json:"max_output_tokens,omitempty"`
	Description     string   `yaml:"description,omitempty" json:"description,omitempty"`
	Deprecated      bool     `yaml:"deprecated,omitempty" json:"deprecated,omitempty"`
	Default         bool     `yaml:"default,omitempty" json:"default,omitempty"`
}

// providerFile is the on-disk layout: one provider and its models.
type providerFile struct {
	Provider Provider `yaml:"provider"`
	Models   []Model  `yaml:"models"`
}

// State tells whether dynamic sources have been merged yet.
type State string

const (
	StateNotLoaded State = "not_loaded"
	StateLoaded    State = "loaded"
)

// Snapshot is the registry's status for API consumers.
type Snapshot struct {
	State    State     `json:"state"`
	LoadedAt time.Time `json:"loaded_at,omitempty"`
	Count    int       `json:"count"`
}
