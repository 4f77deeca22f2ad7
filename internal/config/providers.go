package config

import "time"

// Provider types. bedrock and anthropic both speak the native Messages
// protocol; openai covers every OpenAI-compatible chat-completions API.
const (
	TypeBedrock   = "bedrock"
	TypeAnthropic = "anthropic"
	TypeOpenAI    = "openai"
)

type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds the credential and endpoint for one named provider.
// Region and Profile apply to the bedrock provider only.
type ProviderConfig struct {
	Type          string            `yaml:"type"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	Region        string            `yaml:"region,omitempty"`
	Endpoint      string            `yaml:"endpoint,omitempty"`
	Profile       string            `yaml:"profile,omitempty"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}

// knownProviders are the provider names the registry knows how to build, with
// the defaults applied when providers.yaml leaves a field empty.
var knownProviders = map[string]ProviderConfig{
	"bedrock":    {Type: TypeBedrock, Region: "us-east-1"},
	"anthropic":  {Type: TypeAnthropic, BaseURL: "https://api.anthropic.com/v1"},
	"openrouter": {Type: TypeOpenAI, BaseURL: "https://openrouter.ai/api/v1"},
	"cerebras":   {Type: TypeOpenAI, BaseURL: "https://api.cerebras.ai/v1"},
	"groq":       {Type: TypeOpenAI, BaseURL: "https://api.groq.com/openai/v1"},
	"openai":     {Type: TypeOpenAI, BaseURL: "https://api.openai.com/v1"},
}

// Resolve returns the configuration for the named provider with defaults
// filled in. ok is false when the name is neither configured nor known.
func (p *ProvidersConfig) Resolve(name string) (ProviderConfig, bool) {
	def, known := knownProviders[name]
	var cfg ProviderConfig
	configured := false
	if p != nil {
		cfg, configured = p.Providers[name]
	}
	if !known && !configured {
		return ProviderConfig{}, false
	}
	if cfg.Type == "" {
		cfg.Type = def.Type
	}
	if cfg.Type == "" {
		cfg.Type = TypeOpenAI
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Region == "" {
		cfg.Region = def.Region
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 100
	}
	return cfg, true
}
