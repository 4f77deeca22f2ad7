package router

import (
	"strings"

	"github.com/af-corp/relay-gateway/internal/config"
)

// FallbackOrder is used only when the routing table has no entry that
// matches the requested model, not even a default.
var FallbackOrder = []string{"bedrock:fallback", "openrouter:fallback"}

// RegistryKey is the key an adapter is registered under: the lower-cased
// provider name and the routing model key joined by a colon.
func RegistryKey(provider, modelKey string) string {
	return strings.ToLower(provider) + ":" + modelKey
}

// SplitKey reverses RegistryKey.
func SplitKey(key string) (provider, modelKey string) {
	provider, modelKey, _ = strings.Cut(key, ":")
	return provider, modelKey
}

type tableEntry struct {
	model string
	order []string
}

// Table is an immutable view of the routing entries, resolved to registry keys.
type Table struct {
	entries []tableEntry
	exact   map[string]int
}

// NewTable builds a table from routing entries in configuration order. When a
// model key repeats, the first entry wins.
func NewTable(models []config.ModelRoute) *Table {
	t := &Table{exact: make(map[string]int, len(models))}
	for _, m := range models {
		if _, dup := t.exact[m.Model]; dup {
			continue
		}
		order := make([]string, 0, len(m.ProviderSequence))
		for _, p := range m.ProviderSequence {
			order = append(order, RegistryKey(p.Name, m.Model))
		}
		t.exact[m.Model] = len(t.entries)
		t.entries = append(t.entries, tableEntry{model: m.Model, order: order})
	}
	return t
}

// Resolve returns the ordered registry keys to try for model and the routing
// key that matched. Priority: exact key, then the first non-default key that
// is a case-insensitive substring of model, then the default entry. With no
// match at all the built-in FallbackOrder is returned and matched is empty.
func (t *Table) Resolve(model string) (order []string, matched string) {
	if i, ok := t.exact[model]; ok {
		return t.entries[i].order, t.entries[i].model
	}

	lowered := strings.ToLower(model)
	for _, e := range t.entries {
		if e.model == config.DefaultModelKey || e.model == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(e.model)) {
			return e.order, e.model
		}
	}

	if i, ok := t.exact[config.DefaultModelKey]; ok {
		return t.entries[i].order, config.DefaultModelKey
	}
	return FallbackOrder, ""
}

// Models returns the routing keys in configuration order.
func (t *Table) Models() []string {
	out := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.model)
	}
	return out
}
