package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/christian-lee/subtrans/internal/model"
)

// Store is the persistence contract for quotas, usage logs, and model
// configuration. The Ledger composes this with the in-memory Cache.
type Store interface {
	GetQuota(ctx context.Context, provider string, period model.QuotaPeriod) (*model.Quota, error)
	UpsertQuota(ctx context.Context, q *model.Quota) error
	AppendUsageLog(ctx context.Context, u *model.UsageLog) error
	UsageStats(ctx context.Context, provider string, since time.Time) (model.UsageStats, error)
	GetModelConfig(ctx context.Context, provider, modelName string) (*model.ModelConfig, error)
	UpsertModelConfig(ctx context.Context, m *model.ModelConfig) error
	Close() error
}

// SQLiteStore is the default quota Store, sharing the teacher's WAL/
// single-writer SQLite discipline used by internal/store.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (or opens) a quota store at path.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open quota store: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate quota store: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quotas (
			provider TEXT NOT NULL,
			period TEXT NOT NULL,
			max_requests INTEGER NOT NULL DEFAULT 0,
			max_cost_usd REAL NOT NULL DEFAULT 0,
			current_requests INTEGER NOT NULL DEFAULT 0,
			current_cost_usd REAL NOT NULL DEFAULT 0,
			period_start TIMESTAMP NOT NULL,
			auto_disable_on_strict_breach INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (provider, period)
		)`,
		`CREATE TABLE IF NOT EXISTS usage_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost_usd REAL NOT NULL,
			latency_ms INTEGER NOT NULL,
			success INTEGER NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_logs_provider ON usage_logs(provider, created_at)`,
		`CREATE TABLE IF NOT EXISTS model_configs (
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			price_per_million_in REAL NOT NULL DEFAULT 0,
			price_per_million_out REAL NOT NULL DEFAULT 0,
			supports_streaming INTEGER NOT NULL DEFAULT 0,
			usage_count INTEGER NOT NULL DEFAULT 0,
			total_input_tokens INTEGER NOT NULL DEFAULT 0,
			total_output_tokens INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (provider, model)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) GetQuota(ctx context.Context, provider string, period model.QuotaPeriod) (*model.Quota, error) {
	row := s.db.QueryRowContext(ctx, `SELECT provider, period, max_requests, max_cost_usd,
		current_requests, current_cost_usd, period_start, auto_disable_on_strict_breach
		FROM quotas WHERE provider=? AND period=?`, provider, period)
	var q model.Quota
	var autoDisable int
	err := row.Scan(&q.Provider, &q.Period, &q.MaxRequests, &q.MaxCostUSD,
		&q.CurrentRequests, &q.CurrentCostUSD, &q.PeriodStart, &autoDisable)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	q.AutoDisableOnStrictBreach = autoDisable != 0
	return &q, nil
}

func (s *SQLiteStore) UpsertQuota(ctx context.Context, q *model.Quota) error {
	autoDisable := 0
	if q.AutoDisableOnStrictBreach {
		autoDisable = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO quotas (provider, period, max_requests, max_cost_usd,
		current_requests, current_cost_usd, period_start, auto_disable_on_strict_breach)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(provider, period) DO UPDATE SET
			max_requests=excluded.max_requests, max_cost_usd=excluded.max_cost_usd,
			current_requests=excluded.current_requests, current_cost_usd=excluded.current_cost_usd,
			period_start=excluded.period_start, auto_disable_on_strict_breach=excluded.auto_disable_on_strict_breach`,
		q.Provider, q.Period, q.MaxRequests, q.MaxCostUSD,
		q.CurrentRequests, q.CurrentCostUSD, q.PeriodStart, autoDisable)
	if err != nil {
		return fmt.Errorf("upsert quota: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendUsageLog(ctx context.Context, u *model.UsageLog) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	success := 0
	if u.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO usage_logs (job_id, provider, model, input_tokens, output_tokens,
		cost_usd, latency_ms, success, error_kind, created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		u.JobID, u.Provider, u.Model, u.InputTokens, u.OutputTokens, u.CostUSD, u.LatencyMS, success, u.ErrorKind, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("append usage log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UsageStats(ctx context.Context, provider string, since time.Time) (model.UsageStats, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(input_tokens + output_tokens), 0),
		COALESCE(SUM(cost_usd), 0),
		COALESCE(AVG(latency_ms), 0),
		COALESCE(AVG(CASE WHEN success = 0 THEN 1.0 ELSE 0.0 END), 0)
		FROM usage_logs WHERE provider=? AND created_at >= ?`, provider, since)

	var stats model.UsageStats
	stats.Provider = provider
	if err := row.Scan(&stats.RequestCount, &stats.TotalTokens, &stats.TotalCostUSD, &stats.AvgLatencyMS, &stats.ErrorRate); err != nil {
		return model.UsageStats{}, fmt.Errorf("usage stats: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) GetModelConfig(ctx context.Context, provider, modelName string) (*model.ModelConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT provider, model, price_per_million_in, price_per_million_out,
		supports_streaming, usage_count, total_input_tokens, total_output_tokens
		FROM model_configs WHERE provider=? AND model=?`, provider, modelName)
	var m model.ModelConfig
	var streaming int
	err := row.Scan(&m.Provider, &m.Model, &m.PricePerMillionIn, &m.PricePerMillionOut,
		&streaming, &m.UsageCount, &m.TotalInputTokens, &m.TotalOutputTokens)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get model config: %w", err)
	}
	m.SupportsStreaming = streaming != 0
	return &m, nil
}

func (s *SQLiteStore) UpsertModelConfig(ctx context.Context, m *model.ModelConfig) error {
	streaming := 0
	if m.SupportsStreaming {
		streaming = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO model_configs (provider, model, price_per_million_in, price_per_million_out,
		supports_streaming, usage_count, total_input_tokens, total_output_tokens) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(provider, model) DO UPDATE SET
			price_per_million_in=excluded.price_per_million_in,
			price_per_million_out=excluded.price_per_million_out,
			supports_streaming=excluded.supports_streaming,
			usage_count=excluded.usage_count,
			total_input_tokens=excluded.total_input_tokens,
			total_output_tokens=excluded.total_output_tokens`,
		m.Provider, m.Model, m.PricePerMillionIn, m.PricePerMillionOut, streaming,
		m.UsageCount, m.TotalInputTokens, m.TotalOutputTokens)
	if err != nil {
		return fmt.Errorf("upsert model config: %w", err)
	}
	return nil
}
