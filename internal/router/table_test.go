package router

import (
	"reflect"
	"testing"

	"github.com/af-corp/relay-gateway/internal/config"
)

func route(model string, providers ...string) config.ModelRoute {
	r := config.ModelRoute{Model: model}
	for _, p := range providers {
		r.ProviderSequence = append(r.ProviderSequence, config.ProviderRoute{
			Name:     p,
			Variants: []config.Variant{{Model: p + "-model"}},
		})
	}
	return r
}

func TestTableResolve(t *testing.T) {
	table := NewTable([]config.ModelRoute{
		route("default", "openrouter"),
		route("haiku", "Groq"),
		route("claude-3-haiku", "bedrock", "cerebras"),
		route("sonnet", "bedrock"),
	})

	tests := []struct {
		name        string
		model       string
		wantOrder   []string
		wantMatched string
	}{
		{"exact wins over substring", "claude-3-haiku", []string{"bedrock:claude-3-haiku", "cerebras:claude-3-haiku"}, "claude-3-haiku"},
		{"first substring in config order", "claude-3-5-haiku-latest", []string{"groq:haiku"}, "haiku"},
		{"substring is case-insensitive", "Claude-SONNET-4", []string{"bedrock:sonnet"}, "sonnet"},
		{"default when nothing matches", "gpt-4o", []string{"openrouter:default"}, "default"},
		{"default key is never a substring match", "my-default-model", []string{"openrouter:default"}, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, matched := table.Resolve(tt.model)
			if !reflect.DeepEqual(order, tt.wantOrder) || matched != tt.wantMatched {
				t.Errorf("Resolve(%q) = %v, %q; want %v, %q", tt.model, order, matched, tt.wantOrder, tt.wantMatched)
			}
		})
	}
}

func TestTableResolve_BuiltInFallback(t *testing.T) {
	table := NewTable([]config.ModelRoute{route("sonnet", "bedrock")})
	order, matched := table.Resolve("gpt-4o")
	if !reflect.DeepEqual(order, []string{"bedrock:fallback", "openrouter:fallback"}) || matched != "" {
		t.Errorf("got %v, %q", order, matched)
	}

	empty := NewTable(nil)
	if order, _ := empty.Resolve("anything"); !reflect.DeepEqual(order, FallbackOrder) {
		t.Errorf("empty table order = %v", order)
	}
}

func TestTable_DuplicateKeyKeepsFirst(t *testing.T) {
	table := NewTable([]config.ModelRoute{route("m", "bedrock"), route("m", "groq")})
	order, _ := table.Resolve("m")
	if !reflect.DeepEqual(order, []string{"bedrock:m"}) {
		t.Errorf("order = %v", order)
	}
	if got := table.Models(); !reflect.DeepEqual(got, []string{"m"}) {
		t.Errorf("Models() = %v", got)
	}
}

func TestSplitKey(t *testing.T) {
	provider, model := SplitKey(RegistryKey("OpenRouter", "claude:beta"))
	if provider != "openrouter" || model != "claude:beta" {
		t.Errorf("got %q %q", provider, model)
	}
}
