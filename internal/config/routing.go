package config

// DefaultModelKey is the routing entry used when no other key matches.
const DefaultModelKey = "default"

// RoutingFile is the contents of routing.yaml.
type RoutingFile struct {
	Enable bool         `yaml:"enable"`
	Models []ModelRoute `yaml:"models"`
}

// ModelRoute maps a model-match key to an ordered provider sequence.
type ModelRoute struct {
	Model            string          `yaml:"model"`
	ProviderSequence []ProviderRoute `yaml:"provider_sequence"`
}

// ProviderRoute names a provider and the variants it tries, in order.
type ProviderRoute struct {
	Name     string    `yaml:"name"`
	Variants []Variant `yaml:"variants"`
}

// Variant is a concrete backend model plus optional region or endpoint override.
type Variant struct {
	Model    string `yaml:"model"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Label renders the variant for logs and progress events.
func (v Variant) Label() string {
	switch {
	case v.Region != "":
		return v.Model + "@" + v.Region
	case v.Endpoint != "":
		return v.Model + "@" + v.Endpoint
	default:
		return v.Model
	}
}

// ActiveModels returns the routing entries in effect. A disabled routing file
// yields no entries so every request falls through to the built-in order.
func (f *RoutingFile) ActiveModels() []ModelRoute {
	if f == nil || !f.Enable {
		return nil
	}
	return f.Models
}
