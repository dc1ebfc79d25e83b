package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/christian-lee/subtrans/internal/jobcore"
	"github.com/christian-lee/subtrans/internal/model"
)

// epsilon absorbs floating point rounding when comparing accumulated cost
// against a ceiling, matching the original's use of a small tolerance in
// ai_quota_service.py's quota comparisons.
const epsilon = 1e-9

// alertCooldown is the minimum interval between webhook alerts for the
// same provider, per spec.md §4.5.
const alertCooldown = time.Hour

// ProviderDisabler is implemented by internal/provider.Registry; kept as a
// narrow interface here to avoid an import cycle between quota and
// provider.
type ProviderDisabler interface {
	Disable(name, reason string)
}

// AlertSender delivers a quota-breach notification. The default
// implementation posts a JSON webhook.
type AlertSender interface {
	SendAlert(ctx context.Context, provider string, q model.Quota) error
}

// Ledger is the Quota & Usage Ledger (C5).
type Ledger struct {
	store    Store
	cache    *Cache
	disabler ProviderDisabler
	alerts   AlertSender

	mu           sync.Mutex
	lastAlertAt  map[string]time.Time
}

// NewLedger wires a Store, Cache, provider disabler, and alert sender
// together. disabler and alerts may be nil to disable those side effects
// (useful in tests).
func NewLedger(store Store, cache *Cache, disabler ProviderDisabler, alerts AlertSender) *Ledger {
	return &Ledger{
		store:       store,
		cache:       cache,
		disabler:    disabler,
		alerts:      alerts,
		lastAlertAt: map[string]time.Time{},
	}
}

// loadQuota returns the effective Quota for (provider, period), resetting
// it first if the period has elapsed, using the cache to avoid a store
// round trip on every call. On a store error it fails open: the caller
// proceeds as if no quota were breached, per spec.md §4.5.
func (l *Ledger) loadQuota(ctx context.Context, provider string, period model.QuotaPeriod) (model.Quota, bool, error) {
	if q, ok := l.cache.Get(provider, period); ok {
		return q, true, nil
	}

	q, err := l.store.GetQuota(ctx, provider, period)
	if err != nil {
		slog.Warn("quota: store lookup failed, failing open", "provider", provider, "period", period, "err", err)
		return model.Quota{}, false, err
	}
	if q == nil {
		return model.Quota{}, false, nil
	}

	reset := l.resetIfElapsed(q, period)
	if reset {
		if err := l.store.UpsertQuota(ctx, q); err != nil {
			slog.Warn("quota: reset persist failed", "provider", provider, "err", err)
		}
	}
	l.cache.Put(provider, period, *q)
	return *q, true, nil
}

// resetIfElapsed zeroes out CurrentRequests/CurrentCostUSD and rolls
// PeriodStart forward if the configured period has fully elapsed,
// mirroring ai_quota_service.py::_reset_quota_if_needed.
func (l *Ledger) resetIfElapsed(q *model.Quota, period model.QuotaPeriod) bool {
	now := time.Now()
	var boundary time.Time
	switch period {
	case model.QuotaDaily:
		boundary = q.PeriodStart.AddDate(0, 0, 1)
	case model.QuotaMonthly:
		boundary = q.PeriodStart.AddDate(0, 1, 0)
	default:
		return false
	}
	if now.Before(boundary) {
		return false
	}
	q.CurrentRequests = 0
	q.CurrentCostUSD = 0
	q.PeriodStart = now
	return true
}

// CheckStrict enforces the strict check against a provider's quota: called
// at job dispatch (internal/queue.Dispatcher.dispatch) and again at resume,
// it returns a QuotaExceeded error if the provider is already at or over
// its ceiling. A strict breach with AutoDisableOnStrictBreach set also
// disables the provider in the registry.
func (l *Ledger) CheckStrict(ctx context.Context, provider string, period model.QuotaPeriod) error {
	q, found, err := l.loadQuota(ctx, provider, period)
	if err != nil {
		return nil // fail open
	}
	if !found {
		return nil
	}
	if l.exceeded(q) {
		if q.AutoDisableOnStrictBreach && l.disabler != nil {
			l.disabler.Disable(provider, fmt.Sprintf("%s quota exceeded", period))
		}
		l.maybeAlert(ctx, provider, q)
		return jobcore.New("quota.CheckStrict", jobcore.QuotaExceeded, fmt.Errorf("provider %q %s quota exceeded", provider, period))
	}
	return nil
}

// CheckPauseOnExceed enforces a pause-on-exceed quota: called once per
// translation batch inside the mt phase. It never fails the job; instead
// it reports whether the caller should pause and the time at which the
// quota period resets.
func (l *Ledger) CheckPauseOnExceed(ctx context.Context, provider string, period model.QuotaPeriod) (pause bool, resumeAt time.Time, err error) {
	q, found, loadErr := l.loadQuota(ctx, provider, period)
	if loadErr != nil {
		return false, time.Time{}, nil // fail open
	}
	if !found {
		return false, time.Time{}, nil
	}
	if !l.exceeded(q) {
		return false, time.Time{}, nil
	}
	l.maybeAlert(ctx, provider, q)
	return true, nextPeriodBoundary(q, period), nil
}

func (l *Ledger) exceeded(q model.Quota) bool {
	if q.MaxRequests > 0 && q.CurrentRequests >= q.MaxRequests {
		return true
	}
	if q.MaxCostUSD > 0 && q.CurrentCostUSD >= q.MaxCostUSD-epsilon {
		return true
	}
	return false
}

func nextPeriodBoundary(q model.Quota, period model.QuotaPeriod) time.Time {
	switch period {
	case model.QuotaDaily:
		return q.PeriodStart.AddDate(0, 0, 1)
	case model.QuotaMonthly:
		return q.PeriodStart.AddDate(0, 1, 0)
	default:
		return time.Now().Add(24 * time.Hour)
	}
}

// CalculateCost prices a generation call, preferring an explicit
// ModelConfig row and falling back to the built-in price table, logging
// (not erroring) when neither is available — per spec.md §4.5, a job never
// fails solely because pricing is unknown.
func (l *Ledger) CalculateCost(ctx context.Context, provider, modelName string, inputTokens, outputTokens int64) float64 {
	cfg, err := l.store.GetModelConfig(ctx, provider, modelName)
	if err != nil {
		slog.Warn("quota: model config lookup failed", "provider", provider, "model", modelName, "err", err)
		cfg = nil
	}
	var inPerM, outPerM float64
	if cfg != nil && (cfg.PricePerMillionIn > 0 || cfg.PricePerMillionOut > 0) {
		inPerM, outPerM = cfg.PricePerMillionIn, cfg.PricePerMillionOut
	} else if fIn, fOut, ok := lookupFallbackPrice(modelName); ok {
		inPerM, outPerM = fIn, fOut
	} else {
		slog.Warn("quota: no pricing available, recording zero cost", "provider", provider, "model", modelName)
		return 0
	}
	return (float64(inputTokens)/1_000_000)*inPerM + (float64(outputTokens)/1_000_000)*outPerM
}

// RecordUsage logs a successful provider call, updates the quota's running
// totals, updates the ModelConfig usage counters (supplemented from the
// original's AIModelConfig.usage_count/total_*_tokens), and invalidates
// the quota cache entries touched so the next check sees fresh totals.
func (l *Ledger) RecordUsage(ctx context.Context, jobID, provider, modelName string, inputTokens, outputTokens int64, latency time.Duration) (float64, error) {
	cost := l.CalculateCost(ctx, provider, modelName, inputTokens, outputTokens)

	if err := l.store.AppendUsageLog(ctx, &model.UsageLog{
		JobID: jobID, Provider: provider, Model: modelName,
		InputTokens: inputTokens, OutputTokens: outputTokens,
		CostUSD: cost, LatencyMS: latency.Milliseconds(), Success: true,
	}); err != nil {
		return cost, fmt.Errorf("record usage: append log: %w", err)
	}

	if err := l.bumpQuota(ctx, provider, model.QuotaDaily, cost); err != nil {
		slog.Warn("quota: bump daily failed", "provider", provider, "err", err)
	}
	if err := l.bumpQuota(ctx, provider, model.QuotaMonthly, cost); err != nil {
		slog.Warn("quota: bump monthly failed", "provider", provider, "err", err)
	}
	l.bumpModelUsage(ctx, provider, modelName, inputTokens, outputTokens)

	return cost, nil
}

// RecordError logs a failed provider call with no cost impact.
func (l *Ledger) RecordError(ctx context.Context, jobID, provider, modelName string, kind jobcore.Kind) error {
	return l.store.AppendUsageLog(ctx, &model.UsageLog{
		JobID: jobID, Provider: provider, Model: modelName,
		Success: false, ErrorKind: string(kind),
	})
}

func (l *Ledger) bumpQuota(ctx context.Context, provider string, period model.QuotaPeriod, cost float64) error {
	q, err := l.store.GetQuota(ctx, provider, period)
	if err != nil {
		return err
	}
	if q == nil {
		return nil // no configured quota for this provider/period
	}
	l.resetIfElapsed(q, period)
	q.CurrentRequests++
	q.CurrentCostUSD += cost
	if err := l.store.UpsertQuota(ctx, q); err != nil {
		return err
	}
	l.cache.Invalidate(provider, period)
	return nil
}

func (l *Ledger) bumpModelUsage(ctx context.Context, provider, modelName string, inputTokens, outputTokens int64) {
	cfg, err := l.store.GetModelConfig(ctx, provider, modelName)
	if err != nil {
		slog.Warn("quota: model usage lookup failed", "provider", provider, "model", modelName, "err", err)
		return
	}
	if cfg == nil {
		cfg = &model.ModelConfig{Provider: provider, Model: modelName}
	}
	cfg.UsageCount++
	cfg.TotalInputTokens += inputTokens
	cfg.TotalOutputTokens += outputTokens
	if err := l.store.UpsertModelConfig(ctx, cfg); err != nil {
		slog.Warn("quota: model usage persist failed", "provider", provider, "model", modelName, "err", err)
	}
}

// UsageStats aggregates usage for provider since the given time.
// Supplemented from the original's AIQuotaService.get_usage_stats.
func (l *Ledger) UsageStats(ctx context.Context, provider string, since time.Time) (model.UsageStats, error) {
	return l.store.UsageStats(ctx, provider, since)
}

func (l *Ledger) maybeAlert(ctx context.Context, provider string, q model.Quota) {
	if l.alerts == nil {
		return
	}
	l.mu.Lock()
	last, seen := l.lastAlertAt[provider]
	if seen && time.Since(last) < alertCooldown {
		l.mu.Unlock()
		return
	}
	l.lastAlertAt[provider] = time.Now()
	l.mu.Unlock()

	if err := l.alerts.SendAlert(ctx, provider, q); err != nil {
		slog.Warn("quota: alert send failed", "provider", provider, "err", err)
	}
}
