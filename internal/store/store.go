// Package store is the Job Store (C1): the durable system of record for
// Jobs, their checkpoints, and their task logs. It is backed by SQLite in
// WAL mode, the same way the teacher's internal/auth/store.go persists
// session data, with a single-writer connection pool to keep the busy
// timeout meaningful under concurrent dispatcher workers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/christian-lee/subtrans/internal/model"
)

// ErrNotFound is returned when a lookup by id finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrLeaseConflict describes another owner holding a job's lease. The
// Store lease methods report that case as a false result, not as this error.
var ErrLeaseConflict = errors.New("store: lease held by another owner")

// ListFilter narrows ListJobs.
type ListFilter struct {
	Status []model.Status
	Limit  int
	Offset int
}

// Store is the Job Store contract. All methods are safe for concurrent use.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, f ListFilter) ([]*model.Job, error)

	// UpdateJob applies fn to the current record and persists the result
	// atomically, mirroring the teacher/pack's functional-update idiom
	// (ManuGH-xg2g's StateStore.UpdateSession).
	UpdateJob(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error)

	// CASStatus transitions a job's status only if its current status
	// equals from, preventing double dispatch under concurrent workers.
	CASStatus(ctx context.Context, id string, from, to model.Status) (bool, error)

	TryAcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, jobID, owner string) error

	SaveCheckpoint(ctx context.Context, c *model.Checkpoint) error
	GetCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error)

	AppendTaskLog(ctx context.Context, t *model.TaskLog) error
	ListTaskLogs(ctx context.Context, jobID string) ([]*model.TaskLog, error)

	// ListDueForResume returns paused jobs whose ResumeAt has elapsed.
	ListDueForResume(ctx context.Context, now time.Time) ([]*model.Job, error)

	// ListStaleLeases returns running jobs whose lease has expired, for
	// the dispatcher's recovery sweep.
	ListStaleLeases(ctx context.Context, now time.Time) ([]*model.Job, error)

	Close() error
}
