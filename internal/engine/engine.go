// Package engine is the Translation Engine (C6): the per-job phase state
// machine that drives a Job from init through pull, asr, mt, post, and
// writeback to done, pausing on quota breach and resuming later. Grounded
// on the teacher's internal/agent.Agent, which runs the same kind of
// outer-retry-loop-plus-bounded-fan-out shape for live translation
// batches; here adapted to a restartable, checkpointed, multi-phase job
// instead of one continuous stream.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/christian-lee/subtrans/internal/asrengine"
	"github.com/christian-lee/subtrans/internal/audioextract"
	"github.com/christian-lee/subtrans/internal/cache"
	"github.com/christian-lee/subtrans/internal/correction"
	"github.com/christian-lee/subtrans/internal/eventbus"
	"github.com/christian-lee/subtrans/internal/jobcore"
	"github.com/christian-lee/subtrans/internal/mediahost"
	"github.com/christian-lee/subtrans/internal/model"
	"github.com/christian-lee/subtrans/internal/provider"
	"github.com/christian-lee/subtrans/internal/quota"
	"github.com/christian-lee/subtrans/internal/queue"
	"github.com/christian-lee/subtrans/internal/store"
)

// leaseTTL is how long a worker's lease on a job is valid before it must
// renew; renewLeaseLoop renews it every leaseTTL/2 while the job runs, so a
// long mt phase doesn't starve out under a short lease.
const leaseTTL = 2 * time.Minute

// TranscriberFor resolves the ASR backend to use for a job's provider.
// Only the "google" family is wired today; local/OpenAI-compatible
// backends do not implement speech recognition in this pipeline.
type TranscriberFor func(providerName string) (asrengine.Transcriber, error)

// Dispatch is implemented by internal/queue.Dispatcher; kept narrow here
// to avoid engine depending on the dispatcher's worker-pool internals.
type Dispatch interface {
	Enqueue(jobID string, phase model.Phase, priority int)
}

// Engine wires every pipeline component together to execute one job's
// phases.
type Engine struct {
	Store          store.Store
	Bus            eventbus.Bus
	Registry       *provider.Registry
	Ledger         *quota.Ledger
	Corrections    *correction.Engine
	TMCache        *cache.Cache
	Extractor      audioextract.Extractor
	Transcribers   TranscriberFor
	MediaHost      mediahost.Client
	Dispatcher     Dispatch
	WorkerID       string
	WorkDir        string // scratch directory for extracted audio, default os.TempDir()
	ChunkThreshold time.Duration
	ChunkOverlap   time.Duration
	BatchSize      int // cues per mt Generate call, default mtDefaultBatchSize
	MaxLineLength  int // soft-wrap width for translated cue text, default mtDefaultMaxLineLength
}

// Run implements queue.Handler. It advances jobID through as many phases
// as belong to the queue that dispatched it, then either re-enqueues onto
// the next queue, marks the job paused/done/failed, or returns a
// cancellation error if ctx was cancelled mid-phase.
func (e *Engine) Run(ctx context.Context, jobID string) error {
	if ok, err := e.Store.TryAcquireLease(ctx, jobID, e.WorkerID, leaseTTL); err != nil {
		return jobcore.New("engine.Run", jobcore.Internal, err)
	} else if !ok {
		return jobcore.New("engine.Run", jobcore.Internal, fmt.Errorf("lease held by another worker"))
	}
	defer e.Store.ReleaseLease(ctx, jobID, e.WorkerID)

	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go e.renewLeaseLoop(renewCtx, jobID)

	for {
		if err := ctx.Err(); err != nil {
			return jobcore.New("engine.Run", jobcore.Cancelled, err)
		}

		job, err := e.Store.GetJob(ctx, jobID)
		if err != nil {
			return jobcore.New("engine.Run", jobcore.Internal, err)
		}

		startQueue := queue.QueueForPhase(job.Phase)
		next, stepErr := e.step(ctx, job)
		if stepErr != nil {
			return e.fail(ctx, jobID, stepErr)
		}
		if next == model.PhasePaused {
			return nil
		}
		if next == model.PhaseDone {
			return e.finish(ctx, jobID)
		}

		if queue.QueueForPhase(next) != startQueue {
			if _, err := e.Store.UpdateJob(ctx, jobID, func(j *model.Job) error {
				j.Phase = next
				j.Status = model.StatusQueued
				return nil
			}); err != nil {
				return jobcore.New("engine.Run", jobcore.Internal, err)
			}
			e.publish(jobID, eventbus.EventPhaseChanged, next, model.StatusQueued, "")
			if e.Dispatcher != nil {
				e.Dispatcher.Enqueue(jobID, next, job.Priority)
			}
			return nil
		}

		if _, err := e.Store.UpdateJob(ctx, jobID, func(j *model.Job) error {
			j.Phase = next
			return nil
		}); err != nil {
			return jobcore.New("engine.Run", jobcore.Internal, err)
		}
		e.publish(jobID, eventbus.EventPhaseChanged, next, model.StatusRunning, "")
	}
}

// step executes the work for job's current phase and returns the phase to
// transition to next.
func (e *Engine) step(ctx context.Context, job *model.Job) (model.Phase, error) {
	switch job.Phase {
	case model.PhaseInit:
		return e.runInit(ctx, job)
	case model.PhasePull:
		return e.runPull(ctx, job)
	case model.PhaseASR:
		return e.runASR(ctx, job)
	case model.PhaseMT:
		return e.runMT(ctx, job)
	case model.PhasePost:
		return e.runPost(ctx, job)
	case model.PhaseWriteback:
		return e.runWriteback(ctx, job)
	default:
		return "", jobcore.New("engine.step", jobcore.Internal, fmt.Errorf("unhandled phase %q", job.Phase))
	}
}

func (e *Engine) renewLeaseLoop(ctx context.Context, jobID string) {
	ticker := time.NewTicker(leaseTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Store.RenewLease(ctx, jobID, e.WorkerID, leaseTTL); err != nil {
				slog.Warn("engine: lease renewal failed", "job_id", jobID, "err", err)
			}
		}
	}
}

func (e *Engine) fail(ctx context.Context, jobID string, cause error) error {
	if _, err := e.Store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		j.Status = model.StatusFailed
		j.Error = cause.Error()
		return nil
	}); err != nil {
		slog.Error("engine: failed to record job failure", "job_id", jobID, "err", err)
	}
	e.publish(jobID, eventbus.EventFailed, "", model.StatusFailed, cause.Error())
	return cause
}

func (e *Engine) finish(ctx context.Context, jobID string) error {
	if _, err := e.Store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		j.Status = model.StatusDone
		j.Phase = model.PhaseDone
		j.MarkPhaseComplete(model.PhaseDone)
		return nil
	}); err != nil {
		return jobcore.New("engine.finish", jobcore.Internal, err)
	}
	e.publish(jobID, eventbus.EventDone, string(model.PhaseDone), model.StatusDone, "")
	return nil
}

func (e *Engine) pause(ctx context.Context, jobID string, resumeAt time.Time, reason string) (model.Phase, error) {
	if _, err := e.Store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		j.Status = model.StatusPaused
		j.ResumeAt = &resumeAt
		j.Error = reason
		return nil
	}); err != nil {
		return "", jobcore.New("engine.pause", jobcore.Internal, err)
	}
	e.publish(jobID, eventbus.EventPaused, string(model.PhaseMT), model.StatusPaused, reason)
	return model.PhasePaused, nil
}

func (e *Engine) publish(jobID string, t eventbus.EventType, phase string, status model.Status, detail string) {
	if e.Bus == nil {
		return
	}
	_ = e.Bus.Publish(eventbus.TopicJobLifecycle, eventbus.Message{
		Topic: eventbus.TopicJobLifecycle, JobID: jobID, Type: t, Phase: phase, Status: string(status), Detail: detail, At: time.Now(),
	})
}

func (e *Engine) appendLog(ctx context.Context, jobID string, phase model.Phase, status model.Status, completed, total int, extra string) {
	if err := e.Store.AppendTaskLog(ctx, &model.TaskLog{
		JobID:     jobID,
		Timestamp: time.Now(),
		Phase:     phase,
		Status:    status,
		Progress:  progressOf(completed, total),
		Completed: completed,
		Total:     total,
		Extra:     extra,
	}); err != nil {
		slog.Warn("engine: task log append failed", "job_id", jobID, "err", err)
	}

	if e.Bus == nil {
		return
	}
	_ = e.Bus.Publish(eventbus.TopicJobProgress, eventbus.Message{
		Topic: eventbus.TopicJobProgress, JobID: jobID, Type: eventbus.EventProgress,
		Phase: string(phase), Status: string(status), Detail: extra,
		Completed: completed, Total: total, At: time.Now(),
	})
}

func progressOf(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) / float64(total)
}

