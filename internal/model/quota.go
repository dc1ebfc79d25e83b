package model

import "time"

// QuotaPeriod is the reset cadence of a Quota.
type QuotaPeriod string

const (
	QuotaDaily   QuotaPeriod = "daily"
	QuotaMonthly QuotaPeriod = "monthly"
)

// Quota is a configured spend/request ceiling for a provider. Strict and
// pause-on-exceed are two enforcement checks applied to the same record at
// different call sites (CheckStrict at dispatch/resume, CheckPauseOnExceed
// inside the mt batch loop), not a mode selected per quota.
type Quota struct {
	Provider       string
	Period         QuotaPeriod
	MaxRequests    int64 // 0 = unlimited
	MaxCostUSD     float64 // 0 = unlimited
	CurrentRequests int64
	CurrentCostUSD float64
	PeriodStart    time.Time
	AutoDisableOnStrictBreach bool
}

// UsageLog is one recorded provider call, successful or not.
type UsageLog struct {
	ID           int64
	JobID        string
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	LatencyMS    int64
	Success      bool
	ErrorKind    string
	CreatedAt    time.Time
}

// UsageStats aggregates UsageLog rows for a single provider over a window.
// Supplemented from the original's AIQuotaService.get_usage_stats.
type UsageStats struct {
	Provider      string
	RequestCount  int64
	TotalTokens   int64
	TotalCostUSD  float64
	AvgLatencyMS  float64
	ErrorRate     float64
}

// TaskLog is an append-only progress record for a Job, mirrored to both
// the store and a CSV file for operators.
type TaskLog struct {
	JobID     string
	Timestamp time.Time
	Phase     Phase
	Status    Status
	Progress  float64 // 0..1 within the current phase
	Completed int
	Total     int
	Extra     string
}
