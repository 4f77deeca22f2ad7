package config

import (
	"fmt"
	"strings"
)

// ValidationError lists every problem found in a configuration set.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the three configuration documents together. Problems that
// make routing ambiguous are errors; providers that will simply be left out of
// the registry are reported as warnings.
func Validate(cfg *Config, routing *RoutingFile, providers *ProvidersConfig) ([]string, error) {
	var problems, warnings []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.Routing.RateLimitSeconds < 0 {
		problems = append(problems, "routing.rate_limit_seconds must not be negative")
	}
	if cfg.Routing.RetryTimeoutMillis < 0 {
		problems = append(problems, "routing.retry_timeout_millis must not be negative")
	}
	switch cfg.History.Driver {
	case "sqlite", "postgres", "none", "":
	default:
		problems = append(problems, fmt.Sprintf("history.driver %q must be sqlite, postgres or none", cfg.History.Driver))
	}

	seen := make(map[string]bool)
	for i, m := range routing.Models {
		if m.Model == "" {
			problems = append(problems, fmt.Sprintf("models[%d].model is required", i))
			continue
		}
		if seen[m.Model] {
			problems = append(problems, fmt.Sprintf("models[%d].model %q is duplicated", i, m.Model))
		}
		seen[m.Model] = true

		for j, p := range m.ProviderSequence {
			if p.Name == "" {
				problems = append(problems, fmt.Sprintf("models[%d].provider_sequence[%d].name is required", i, j))
				continue
			}
			pc, ok := providers.Resolve(strings.ToLower(p.Name))
			if !ok {
				warnings = append(warnings, fmt.Sprintf("%s:%s references unknown provider", strings.ToLower(p.Name), m.Model))
				continue
			}
			if pc.Type != TypeBedrock && pc.APIKey == "" {
				warnings = append(warnings, fmt.Sprintf("%s:%s has no api_key configured", strings.ToLower(p.Name), m.Model))
			}
			if len(p.Variants) == 0 {
				warnings = append(warnings, fmt.Sprintf("%s:%s has no variants and will always fail", strings.ToLower(p.Name), m.Model))
			}
		}
	}

	if len(problems) > 0 {
		return warnings, &ValidationError{Problems: problems}
	}
	return warnings, nil
}
