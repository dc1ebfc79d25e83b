package quota

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christian-lee/subtrans/internal/jobcore"
	"github.com/christian-lee/subtrans/internal/model"
)

func newTestLedger(t *testing.T, disabler ProviderDisabler) (*Ledger, *SQLiteStore) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quota.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewLedger(s, NewCache(64, time.Minute), disabler, nil), s
}

type fakeDisabler struct {
	disabledName, reason string
}

func (f *fakeDisabler) Disable(name, reason string) {
	f.disabledName = name
	f.reason = reason
}

func TestCheckStrictWithinLimitPasses(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, nil)
	require.NoError(t, s.UpsertQuota(ctx, &model.Quota{
		Provider: "openai", Period: model.QuotaDaily,
		MaxRequests: 100, PeriodStart: time.Now(),
	}))

	err := l.CheckStrict(ctx, "openai", model.QuotaDaily)
	assert.NoError(t, err)
}

func TestCheckStrictBreachAutoDisablesProvider(t *testing.T) {
	ctx := context.Background()
	disabler := &fakeDisabler{}
	l, s := newTestLedger(t, disabler)
	require.NoError(t, s.UpsertQuota(ctx, &model.Quota{
		Provider: "openai", Period: model.QuotaDaily,
		MaxRequests: 1, CurrentRequests: 1, PeriodStart: time.Now(),
		AutoDisableOnStrictBreach: true,
	}))

	err := l.CheckStrict(ctx, "openai", model.QuotaDaily)
	require.Error(t, err)
	assert.Equal(t, jobcore.QuotaExceeded, jobcore.KindOf(err))
	assert.Equal(t, "openai", disabler.disabledName)
}

func TestCheckPauseOnExceedReturnsPauseNotError(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, nil)
	start := time.Now()
	require.NoError(t, s.UpsertQuota(ctx, &model.Quota{
		Provider: "local", Period: model.QuotaDaily,
		MaxCostUSD: 1.0, CurrentCostUSD: 1.0, PeriodStart: start,
	}))

	pause, resumeAt, err := l.CheckPauseOnExceed(ctx, "local", model.QuotaDaily)
	require.NoError(t, err)
	assert.True(t, pause)
	assert.WithinDuration(t, start.AddDate(0, 0, 1), resumeAt, time.Second)
}

func TestCheckPauseOnExceedWithinLimitDoesNotPause(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, nil)
	require.NoError(t, s.UpsertQuota(ctx, &model.Quota{
		Provider: "local", Period: model.QuotaDaily,
		MaxCostUSD: 10.0, CurrentCostUSD: 1.0, PeriodStart: time.Now(),
	}))

	pause, _, err := l.CheckPauseOnExceed(ctx, "local", model.QuotaDaily)
	require.NoError(t, err)
	assert.False(t, pause)
}

func TestRecordUsageUpdatesQuotaAndModelCounters(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, nil)
	require.NoError(t, s.UpsertQuota(ctx, &model.Quota{
		Provider: "google", Period: model.QuotaDaily,
		MaxRequests: 1000, PeriodStart: time.Now(),
	}))
	require.NoError(t, s.UpsertModelConfig(ctx, &model.ModelConfig{
		Provider: "google", Model: "gemini-2.0-flash", PricePerMillionIn: 1.0, PricePerMillionOut: 2.0,
	}))

	cost, err := l.RecordUsage(ctx, "job-1", "google", "gemini-2.0-flash", 1_000_000, 500_000, 250*time.Millisecond)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, cost, epsilon) // 1.0*1 + 2.0*0.5

	q, err := s.GetQuota(ctx, "google", model.QuotaDaily)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.CurrentRequests)
	assert.InDelta(t, 2.0, q.CurrentCostUSD, epsilon)

	cfg, err := s.GetModelConfig(ctx, "google", "gemini-2.0-flash")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cfg.UsageCount)
	assert.Equal(t, int64(1_000_000), cfg.TotalInputTokens)
	assert.Equal(t, int64(500_000), cfg.TotalOutputTokens)
}

func TestCalculateCostFallsBackToBuiltInPricing(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, nil)
	// No ModelConfig row exists for this pair, so the built-in table applies.
	cost := l.CalculateCost(ctx, "openai", "gpt-4o-mini", 1_000_000, 1_000_000)
	assert.InDelta(t, 0.15+0.60, cost, epsilon)
}

func TestCalculateCostUnknownModelWarnsZero(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, nil)
	cost := l.CalculateCost(ctx, "mystery", "totally-unknown-model-xyz", 1_000_000, 1_000_000)
	assert.Equal(t, 0.0, cost)
}

func TestCheckStrictFailsOpenOnStoreError(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, nil)
	s.Close() // force subsequent store calls to fail

	err := l.CheckStrict(ctx, "openai", model.QuotaDaily)
	assert.NoError(t, err, "a broken store must not block job dispatch")
}

func TestRecordErrorLogsWithoutCost(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, nil)
	require.NoError(t, l.RecordError(ctx, "job-1", "openai", "gpt-4o", jobcore.ProviderFailed))

	stats, err := s.UsageStats(ctx, "openai", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RequestCount)
	assert.Equal(t, 1.0, stats.ErrorRate)
	assert.Equal(t, 0.0, stats.TotalCostUSD)
}
