package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/christian-lee/subtrans/internal/jobcore"
	"github.com/christian-lee/subtrans/internal/model"
)

// entry pairs a live Provider client with its configuration.
type entry struct {
	provider Provider
	cfg      model.ProviderConfig
}

// Registry resolves "provider:model" identifiers to a Provider client,
// tracks per-provider enable/disable state, and health-checks the fleet.
// Grounded on the teacher's internal/bot.Pool named-registry pattern.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Register adds or replaces a provider under cfg.Name.
func (r *Registry) Register(cfg model.ProviderConfig, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[cfg.Name] = &entry{provider: p, cfg: cfg}
}

// Get returns the named provider and its config.
func (r *Registry) Get(name string) (Provider, model.ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, model.ProviderConfig{}, false
	}
	return e.provider, e.cfg, true
}

// Disable marks a provider unusable, e.g. after a strict quota breach with
// AutoDisableOnStrictBreach set. Implements quota.ProviderDisabler.
func (r *Registry) Disable(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	now := time.Now()
	e.cfg.Enabled = false
	e.cfg.DisabledAt = &now
	e.cfg.DisabledReason = reason
}

// Enable re-enables a previously disabled provider (called after a
// successful health check by the resume scheduler).
func (r *Registry) Enable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.cfg.Enabled = true
	e.cfg.DisabledAt = nil
	e.cfg.DisabledReason = ""
}

// IsEnabled reports whether name is a registered, enabled provider.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.cfg.Enabled
}

// Resolve parses a "provider:model" identifier (split on the first colon)
// and falls back to heuristic matching on the model name alone per
// spec.md §4.4's model-identifier rules, tie-breaking enabled candidates
// by lowest Priority then lexicographic provider name.
func (r *Registry) Resolve(identifier string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, modelName, ok := strings.Cut(identifier, ":"); ok {
		e, found := r.entries[name]
		if !found {
			return nil, "", jobcore.New("provider.Resolve", jobcore.NotFound, fmt.Errorf("unknown provider %q", name))
		}
		if !e.cfg.Enabled {
			return nil, "", jobcore.New("provider.Resolve", jobcore.ProviderFailed, fmt.Errorf("provider %q disabled: %s", name, e.cfg.DisabledReason))
		}
		return e.provider, modelName, nil
	}

	family := heuristicFamily(identifier)
	var candidates []*entry
	for _, e := range r.entries {
		if e.cfg.Enabled && e.cfg.Family == family {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, "", jobcore.New("provider.Resolve", jobcore.NotFound, fmt.Errorf("no enabled provider for model %q", identifier))
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].cfg.Priority != candidates[j].cfg.Priority {
			return candidates[i].cfg.Priority < candidates[j].cfg.Priority
		}
		return candidates[i].cfg.Name < candidates[j].cfg.Name
	})
	return candidates[0].provider, identifier, nil
}

// heuristicFamily guesses a provider family from a bare model name when no
// "provider:" prefix is present, per spec.md §4.4.
func heuristicFamily(modelName string) model.ProviderFamily {
	lower := strings.ToLower(modelName)
	switch {
	case strings.HasPrefix(lower, "gpt-"), strings.HasPrefix(lower, "o1-"), strings.HasPrefix(lower, "o3-"):
		return model.FamilyOpenAICompat
	case strings.Contains(lower, "deepseek"):
		return model.FamilyOpenAICompat
	case strings.Contains(lower, "claude"):
		return model.FamilyAnthropic
	case strings.Contains(lower, "gemini"):
		return model.FamilyGoogle
	default:
		return model.FamilyLocalHost
	}
}

// HealthCheckAll runs HealthCheck against every registered provider and
// returns each provider's result (true for healthy), keyed by name. Supplemented from the original's
// ai_providers/base.py health_check sweep, used by the resume scheduler
// before re-enabling a disabled provider.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]bool {
	r.mu.RLock()
	snapshot := make(map[string]Provider, len(r.entries))
	for name, e := range r.entries {
		snapshot[name] = e.provider
	}
	r.mu.RUnlock()

	results := make(map[string]bool, len(snapshot))
	for name, p := range snapshot {
		results[name] = p.HealthCheck(ctx)
	}
	return results
}

// Names returns all registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
