// Package resume is the Resume Scheduler (C7): a periodic sweep that wakes
// paused jobs whose ResumeAt has elapsed and re-enqueues them, plus a
// health-check pass over disabled providers so a quota-driven disable
// heals itself once the provider (or the quota period) recovers.
// Grounded on the teacher's internal/controller delay-queue pattern,
// generalized from "danmaku command cooldown" timers to job resume
// deadlines.
package resume

import (
	"context"
	"log/slog"
	"time"

	"github.com/christian-lee/subtrans/internal/model"
	"github.com/christian-lee/subtrans/internal/store"
)

// Enqueuer is implemented by internal/queue.Dispatcher.
type Enqueuer interface {
	Enqueue(jobID string, phase model.Phase, priority int)
}

// ProviderHealer is implemented by internal/provider.Registry.
type ProviderHealer interface {
	HealthCheckAll(ctx context.Context) map[string]bool
	Enable(name string)
}

// Scheduler periodically wakes due jobs and re-enables healthy providers.
type Scheduler struct {
	Store      store.Store
	Dispatcher Enqueuer
	Registry   ProviderHealer
	Interval   time.Duration
}

// Run blocks, sweeping every Interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepDueJobs(ctx)
			s.sweepProviderHealth(ctx)
		}
	}
}

func (s *Scheduler) sweepDueJobs(ctx context.Context) {
	jobs, err := s.Store.ListDueForResume(ctx, time.Now())
	if err != nil {
		slog.Error("resume: list due jobs failed", "err", err)
		return
	}
	for _, job := range jobs {
		ok, err := s.Store.CASStatus(ctx, job.ID, model.StatusPaused, model.StatusQueued)
		if err != nil {
			slog.Error("resume: CAS to queued failed", "job_id", job.ID, "err", err)
			continue
		}
		if !ok {
			continue
		}
		if _, err := s.Store.UpdateJob(ctx, job.ID, func(j *model.Job) error {
			j.ResumeAt = nil
			return nil
		}); err != nil {
			slog.Error("resume: clear resume_at failed", "job_id", job.ID, "err", err)
		}
		if s.Dispatcher != nil {
			s.Dispatcher.Enqueue(job.ID, job.Phase, job.Priority)
		}
		slog.Info("resume: woke paused job", "job_id", job.ID, "phase", job.Phase)
	}
}

func (s *Scheduler) sweepProviderHealth(ctx context.Context) {
	if s.Registry == nil {
		return
	}
	results := s.Registry.HealthCheckAll(ctx)
	for name, healthy := range results {
		if healthy {
			s.Registry.Enable(name)
		}
	}
}

// ReapStaleLeases finds running jobs whose lease has expired (the worker
// that held it died without releasing it) and requeues them for another
// worker to pick up. Called once at startup before the scheduler's
// periodic loop begins.
func ReapStaleLeases(ctx context.Context, st store.Store, dispatcher Enqueuer) error {
	stale, err := st.ListStaleLeases(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, job := range stale {
		ok, err := st.CASStatus(ctx, job.ID, model.StatusRunning, model.StatusQueued)
		if err != nil {
			slog.Error("resume: reap CAS failed", "job_id", job.ID, "err", err)
			continue
		}
		if !ok {
			continue
		}
		if dispatcher != nil {
			dispatcher.Enqueue(job.ID, job.Phase, job.Priority)
		}
		slog.Warn("resume: reaped stale lease", "job_id", job.ID, "owner", job.LeaseOwner)
	}
	return nil
}
