package router

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/router/adapters"
	"github.com/af-corp/relay-gateway/internal/types"
)

func TestNewBackend_SelectsFamily(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ProviderConfig
		wantErr bool
	}{
		{"bedrock", config.ProviderConfig{Type: config.TypeBedrock, Region: "us-east-1"}, false},
		{"anthropic", config.ProviderConfig{Type: config.TypeAnthropic, BaseURL: "https://api.anthropic.com/v1", APIKey: "k"}, false},
		{"groq", config.ProviderConfig{Type: config.TypeOpenAI, BaseURL: "https://api.groq.com/openai/v1", APIKey: "k"}, false},
		{"groq", config.ProviderConfig{Type: config.TypeOpenAI, BaseURL: "https://api.groq.com/openai/v1"}, true},
		{"weird", config.ProviderConfig{Type: "grpc"}, true},
	}
	for _, tt := range tests {
		b, err := NewBackend(tt.name, tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s/%s: err = %v, wantErr %v", tt.name, tt.cfg.Type, err, tt.wantErr)
		}
		if err == nil && b == nil {
			t.Errorf("%s: nil backend", tt.name)
		}
	}
}

func TestBuildRegistry(t *testing.T) {
	models := []config.ModelRoute{
		{Model: "sonnet", ProviderSequence: []config.ProviderRoute{
			{Name: "Bedrock", Variants: []config.Variant{{Model: "anthropic.claude-sonnet", Region: "us-west-2"}}},
			{Name: "groq", Variants: []config.Variant{{Model: "llama"}}},
			{Name: "mystery", Variants: []config.Variant{{Model: "x"}}},
			{Name: "cerebras"},
		}},
		{Model: "default", ProviderSequence: []config.ProviderRoute{
			{Name: "bedrock", Variants: []config.Variant{{Model: "anthropic.claude-haiku"}}},
			{Name: "groq", Variants: []config.Variant{{Model: "llama"}}},
		}},
	}
	providers := &config.ProvidersConfig{Providers: map[string]config.ProviderConfig{
		"groq":     {},
		"cerebras": {APIKey: "c"},
	}}

	built := map[string]int{}
	factory := func(name string, cfg config.ProviderConfig) (adapters.Backend, error) {
		built[name]++
		if name == "groq" {
			return nil, errors.New("groq: api_key is required")
		}
		return &scriptedBackend{}, nil
	}

	reg := buildRegistry(models, providers, adapters.Options{}, factory)

	want := []string{"bedrock:default", "bedrock:sonnet", "cerebras:sonnet"}
	if got := reg.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	if reg.Len() != 3 {
		t.Errorf("Len() = %d", reg.Len())
	}
	if !reflect.DeepEqual(built, map[string]int{"bedrock": 1, "groq": 1, "cerebras": 1}) {
		t.Errorf("each provider should be initialized once, got %v", built)
	}

	a, _ := reg.Get("bedrock:sonnet")
	va := a.(*adapters.VariantAdapter)
	if va.Name() != "bedrock" || va.Variants()[0].Region != "us-west-2" {
		t.Errorf("adapter = %s %v", va.Name(), va.Variants())
	}

	empty, _ := reg.Get("cerebras:sonnet")
	_, err := empty.Complete(context.Background(), &types.UnifiedRequest{Model: "sonnet"}, nil)
	if !errors.Is(err, adapters.ErrNoVariants) || adapters.ClassOf(err) != types.FailureOther {
		t.Errorf("zero-variant adapter err = %v", err)
	}
}
