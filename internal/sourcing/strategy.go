package sourcing

import (
	"fmt"
	"strings"
)

// StrategyTemplate is a configurable strategy whose query may reference
// {query} (name, or SKU when the name is blank), {name} and {sku}.
type StrategyTemplate struct {
	Backend     Backend `mapstructure:"backend"`
	Query       string  `mapstructure:"query"`
	Description string  `mapstructure:"description"`
}

// DefaultStrategies is the reference fallback policy: primary engine, two
// fallback engines with the same query, then the primary engine again with a
// broadened query.
func DefaultStrategies() []StrategyTemplate {
	return []StrategyTemplate{
		{Backend: BackendDuckDuckGo, Query: "{query}", Description: "DuckDuckGo (Standard)"},
		{Backend: BackendBing, Query: "{query}", Description: "Bing Images (Fallback)"},
		{Backend: BackendYahoo, Query: "{query}", Description: "Yahoo Images (Fallback)"},
		{Backend: BackendDuckDuckGo, Query: "{query} product image", Description: "DuckDuckGo (Broad Match)"},
	}
}

// Plan expands templates for one item. Strategies whose query collapses to an
// empty string are dropped.
func Plan(templates []StrategyTemplate, item CatalogItem) []Strategy {
	name := strings.TrimSpace(item.Name)
	sku := strings.TrimSpace(item.SKU)
	query := name
	if query == "" {
		query = sku
	}
	replacer := strings.NewReplacer("{query}", query, "{name}", name, "{sku}", sku)

	out := make([]Strategy, 0, len(templates))
	for _, tpl := range templates {
		q := strings.Join(strings.Fields(replacer.Replace(tpl.Query)), " ")
		if q == "" {
			continue
		}
		desc := tpl.Description
		if desc == "" {
			desc = string(tpl.Backend)
		}
		out = append(out, Strategy{Backend: tpl.Backend, Query: q, Description: desc})
	}
	return out
}

// ValidateTemplates rejects templates with unknown backends or empty queries.
func ValidateTemplates(templates []StrategyTemplate) error {
	if len(templates) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	for i, tpl := range templates {
		switch tpl.Backend {
		case BackendDuckDuckGo, BackendBing, BackendYahoo:
		default:
			return fmt.Errorf("strategy %d: unknown backend %q", i, tpl.Backend)
		}
		if strings.TrimSpace(tpl.Query) == "" {
			return fmt.Errorf("strategy %d: query is required", i)
		}
	}
	return nil
}
