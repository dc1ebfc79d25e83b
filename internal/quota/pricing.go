package quota

import "strings"

// fallbackPricing is a small built-in per-million-token price table for
// well-known models, consulted when no ModelConfig row exists for a
// (provider, model) pair. Supplemented from the original's
// ai_quota_service.py::_calculate_cost legacy ModelRegistry fallback,
// which priced well-known models even before an admin configured one
// explicitly, rather than silently recording zero cost.
var fallbackPricing = map[string]struct{ InPerMillion, OutPerMillion float64 }{
	"gpt-4o":             {2.50, 10.00},
	"gpt-4o-mini":        {0.15, 0.60},
	"gpt-4.1":            {2.00, 8.00},
	"o1":                 {15.00, 60.00},
	"claude-3-5-sonnet":  {3.00, 15.00},
	"claude-3-5-haiku":   {0.80, 4.00},
	"claude-3-opus":      {15.00, 75.00},
	"gemini-2.0-flash":   {0.10, 0.40},
	"gemini-1.5-pro":     {1.25, 5.00},
	"deepseek-chat":      {0.27, 1.10},
}

// lookupFallbackPrice finds a fallback price for modelName by exact match,
// then by longest known-key prefix (so e.g. "gpt-4o-2024-08-06" matches
// "gpt-4o").
func lookupFallbackPrice(modelName string) (inPerM, outPerM float64, ok bool) {
	if p, exact := fallbackPricing[modelName]; exact {
		return p.InPerMillion, p.OutPerMillion, true
	}
	var bestKey string
	for key := range fallbackPricing {
		if strings.HasPrefix(modelName, key) && len(key) > len(bestKey) {
			bestKey = key
		}
	}
	if bestKey == "" {
		return 0, 0, false
	}
	p := fallbackPricing[bestKey]
	return p.InPerMillion, p.OutPerMillion, true
}
