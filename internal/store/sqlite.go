package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/christian-lee/subtrans/internal/model"
)

// SQLiteStore is the default Store implementation, grounded on the
// teacher's internal/auth/store.go connection setup.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (or opens) a SQLite-backed Store at path, applying the same
// WAL pragmas the teacher uses for its single-writer auth store.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate job store: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			source_ref TEXT NOT NULL,
			source_lang TEXT NOT NULL,
			target_langs TEXT NOT NULL,
			completed_target_langs TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			writeback_mode TEXT NOT NULL,
			priority INTEGER NOT NULL,
			status TEXT NOT NULL,
			phase TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			resume_at TIMESTAMP,
			completed_phases TEXT NOT NULL,
			asr_source_path TEXT NOT NULL DEFAULT '',
			asr_output_path TEXT NOT NULL DEFAULT '',
			result_paths TEXT NOT NULL DEFAULT '{}',
			retry_of_job_id TEXT NOT NULL DEFAULT '',
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_until TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_resume_at ON jobs(resume_at)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			job_id TEXT PRIMARY KEY,
			completed_phases TEXT NOT NULL,
			completed_target_langs TEXT NOT NULL,
			asr_output_path TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			phase TEXT NOT NULL,
			status TEXT NOT NULL,
			progress REAL NOT NULL,
			completed INTEGER NOT NULL,
			total INTEGER NOT NULL,
			extra_data TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_logs_job ON task_logs(job_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func jsonStr(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsonInto[T any](s string, out *T) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = now
	}
	if j.ResultPaths == nil {
		j.ResultPaths = map[string]string{}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (
		id, source_type, source_ref, source_lang, target_langs, completed_target_langs,
		provider, model, writeback_mode, priority, status, phase, error, resume_at,
		completed_phases, asr_source_path, asr_output_path, result_paths, retry_of_job_id,
		lease_owner, lease_until, created_at, updated_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.SourceType, j.SourceRef, j.SourceLang, jsonStr(j.TargetLangs), jsonStr(j.CompletedTargetLangs),
		j.Provider, j.Model, j.WritebackMode, j.Priority, j.Status, j.Phase, j.Error, nullTime(j.ResumeAt),
		jsonStr(j.CompletedPhases), j.ASRSourcePath, j.ASROutputPath, jsonStr(j.ResultPaths), j.RetryOfJobID,
		j.LeaseOwner, nullTime(j.LeaseUntil), j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func scanJob(row interface {
	Scan(dest ...any) error
}) (*model.Job, error) {
	var j model.Job
	var targetLangs, completedTargetLangs, completedPhases, resultPaths string
	var resumeAt, leaseUntil sql.NullTime
	err := row.Scan(
		&j.ID, &j.SourceType, &j.SourceRef, &j.SourceLang, &targetLangs, &completedTargetLangs,
		&j.Provider, &j.Model, &j.WritebackMode, &j.Priority, &j.Status, &j.Phase, &j.Error, &resumeAt,
		&completedPhases, &j.ASRSourcePath, &j.ASROutputPath, &resultPaths, &j.RetryOfJobID,
		&j.LeaseOwner, &leaseUntil, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	jsonInto(targetLangs, &j.TargetLangs)
	jsonInto(completedTargetLangs, &j.CompletedTargetLangs)
	jsonInto(completedPhases, &j.CompletedPhases)
	jsonInto(resultPaths, &j.ResultPaths)
	if resumeAt.Valid {
		t := resumeAt.Time
		j.ResumeAt = &t
	}
	if leaseUntil.Valid {
		t := leaseUntil.Time
		j.LeaseUntil = &t
	}
	return &j, nil
}

const jobColumns = `id, source_type, source_ref, source_lang, target_langs, completed_target_langs,
		provider, model, writeback_mode, priority, status, phase, error, resume_at,
		completed_phases, asr_source_path, asr_output_path, result_paths, retry_of_job_id,
		lease_owner, lease_until, created_at, updated_at`

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, f ListFilter) ([]*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if len(f.Status) > 0 {
		placeholders := make([]string, len(f.Status))
		for i, st := range f.Status {
			placeholders[i] = "?"
			args = append(args, st)
		}
		q += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	q += ` ORDER BY priority ASC, created_at ASC`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d OFFSET %d`, f.Limit, f.Offset)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateJob loads the current row, applies fn, and writes the full row
// back inside one transaction — the SQLite analogue of the teacher's
// UpdateSession functional-update idiom.
func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update job: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update job: load: %w", err)
	}

	if err := fn(j); err != nil {
		return nil, err
	}
	j.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `UPDATE jobs SET
		source_type=?, source_ref=?, source_lang=?, target_langs=?, completed_target_langs=?,
		provider=?, model=?, writeback_mode=?, priority=?, status=?, phase=?, error=?, resume_at=?,
		completed_phases=?, asr_source_path=?, asr_output_path=?, result_paths=?, retry_of_job_id=?,
		lease_owner=?, lease_until=?, updated_at=?
		WHERE id=?`,
		j.SourceType, j.SourceRef, j.SourceLang, jsonStr(j.TargetLangs), jsonStr(j.CompletedTargetLangs),
		j.Provider, j.Model, j.WritebackMode, j.Priority, j.Status, j.Phase, j.Error, nullTime(j.ResumeAt),
		jsonStr(j.CompletedPhases), j.ASRSourcePath, j.ASROutputPath, jsonStr(j.ResultPaths), j.RetryOfJobID,
		j.LeaseOwner, nullTime(j.LeaseUntil), j.UpdatedAt, j.ID)
	if err != nil {
		return nil, fmt.Errorf("update job: write: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update job: commit: %w", err)
	}
	return j, nil
}

func (s *SQLiteStore) CASStatus(ctx context.Context, id string, from, to model.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status=?, updated_at=? WHERE id=? AND status=?`,
		to, time.Now(), id, from)
	if err != nil {
		return false, fmt.Errorf("cas status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) TryAcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	until := now.Add(ttl)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET lease_owner=?, lease_until=? WHERE id=? AND (lease_owner='' OR lease_until IS NULL OR lease_until < ?)`,
		owner, until, jobID, now)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	until := time.Now().Add(ttl)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET lease_until=? WHERE id=? AND lease_owner=?`, until, jobID, owner)
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, jobID, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET lease_owner='', lease_until=NULL WHERE id=? AND lease_owner=?`, jobID, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, c *model.Checkpoint) error {
	c.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO checkpoints (job_id, completed_phases, completed_target_langs, asr_output_path, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(job_id) DO UPDATE SET completed_phases=excluded.completed_phases,
			completed_target_langs=excluded.completed_target_langs,
			asr_output_path=excluded.asr_output_path,
			updated_at=excluded.updated_at`,
		c.JobID, jsonStr(c.CompletedPhases), jsonStr(c.CompletedTargetLangs), c.ASROutputPath, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, completed_phases, completed_target_langs, asr_output_path, updated_at FROM checkpoints WHERE job_id=?`, jobID)
	var c model.Checkpoint
	var phases, langs string
	if err := row.Scan(&c.JobID, &phases, &langs, &c.ASROutputPath, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	jsonInto(phases, &c.CompletedPhases)
	jsonInto(langs, &c.CompletedTargetLangs)
	return &c, nil
}

func (s *SQLiteStore) AppendTaskLog(ctx context.Context, t *model.TaskLog) error {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_logs (job_id, timestamp, phase, status, progress, completed, total, extra_data)
		VALUES (?,?,?,?,?,?,?,?)`,
		t.JobID, t.Timestamp, t.Phase, t.Status, t.Progress, t.Completed, t.Total, t.Extra)
	if err != nil {
		return fmt.Errorf("append task log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTaskLogs(ctx context.Context, jobID string) ([]*model.TaskLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, timestamp, phase, status, progress, completed, total, extra_data FROM task_logs WHERE job_id=? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list task logs: %w", err)
	}
	defer rows.Close()
	var out []*model.TaskLog
	for rows.Next() {
		var t model.TaskLog
		if err := rows.Scan(&t.JobID, &t.Timestamp, &t.Phase, &t.Status, &t.Progress, &t.Completed, &t.Total, &t.Extra); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListDueForResume(ctx context.Context, now time.Time) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status='paused' AND resume_at IS NOT NULL AND resume_at <= ?`, now)
	if err != nil {
		return nil, fmt.Errorf("list due for resume: %w", err)
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListStaleLeases(ctx context.Context, now time.Time) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status='running' AND lease_owner != '' AND lease_until IS NOT NULL AND lease_until < ?`, now)
	if err != nil {
		return nil, fmt.Errorf("list stale leases: %w", err)
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
