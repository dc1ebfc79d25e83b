// Package queue is the Queue Dispatcher (C3): three named queues — scan,
// asr, translate — each with its own concurrency cap and priority
// ordering, claiming jobs out of the Job Store with compare-and-set so two
// dispatcher workers never pick up the same job twice. Grounded on the
// teacher's internal/controller.Controller channel-driven event loop and
// internal/agent.Agent's bounded-concurrency semaphore-gated worker pool.
package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/christian-lee/subtrans/internal/eventbus"
	"github.com/christian-lee/subtrans/internal/jobcore"
	"github.com/christian-lee/subtrans/internal/model"
	"github.com/christian-lee/subtrans/internal/store"
)

// Name identifies one of the three dispatch queues. A job's current Phase
// determines which queue it belongs in.
type Name string

const (
	QueueScan      Name = "scan"      // init, pull
	QueueASR       Name = "asr"       // asr
	QueueTranslate Name = "translate" // mt, post, writeback
)

// QueueForPhase maps a Job's Phase to the queue that dispatches it.
func QueueForPhase(p model.Phase) Name {
	switch p {
	case model.PhaseInit, model.PhasePull:
		return QueueScan
	case model.PhaseASR:
		return QueueASR
	default:
		return QueueTranslate
	}
}

// Handler runs one unit of dispatched work for a job and returns when the
// job has advanced as far as it can without blocking on another queue, or
// ctx is cancelled. Implemented by internal/engine.Engine.
type Handler interface {
	Run(ctx context.Context, jobID string) error
}

// QuotaChecker is implemented by internal/quota.Ledger; kept narrow here to
// avoid the dispatcher depending on the ledger's store/cache internals.
type QuotaChecker interface {
	CheckStrict(ctx context.Context, provider string, period model.QuotaPeriod) error
}

// Config sets each queue's worker concurrency and the grace period given
// to an in-flight handler after cooperative cancellation before the
// dispatcher considers the worker slot reclaimed regardless. Quota is
// optional; when set, the dispatcher runs the strict quota check against a
// job's provider at dispatch time, after the job is claimed (queued to
// running) and before the handler runs; a breach marks the job failed, per
// spec.md §4.5.
type Config struct {
	ScanConcurrency      int
	ASRConcurrency       int
	TranslateConcurrency int
	ShutdownGrace        time.Duration
	Quota                QuotaChecker
}

// Dispatcher owns the three named queues and their worker pools.
type Dispatcher struct {
	store   store.Store
	bus     eventbus.Bus
	handler Handler
	quota   QuotaChecker
	cfg     Config

	mu     sync.Mutex
	queues map[Name]*priorityQueue
	sems   map[Name]*semaphore.Weighted

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	wg sync.WaitGroup
}

func New(st store.Store, bus eventbus.Bus, handler Handler, cfg Config) *Dispatcher {
	if cfg.ScanConcurrency <= 0 {
		cfg.ScanConcurrency = 4
	}
	if cfg.ASRConcurrency <= 0 {
		cfg.ASRConcurrency = 2
	}
	if cfg.TranslateConcurrency <= 0 {
		cfg.TranslateConcurrency = 8
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}

	d := &Dispatcher{
		store:   st,
		bus:     bus,
		handler: handler,
		quota:   cfg.Quota,
		cfg:     cfg,
		queues: map[Name]*priorityQueue{
			QueueScan:      newPriorityQueue(),
			QueueASR:       newPriorityQueue(),
			QueueTranslate: newPriorityQueue(),
		},
		sems: map[Name]*semaphore.Weighted{
			QueueScan:      semaphore.NewWeighted(int64(cfg.ScanConcurrency)),
			QueueASR:       semaphore.NewWeighted(int64(cfg.ASRConcurrency)),
			QueueTranslate: semaphore.NewWeighted(int64(cfg.TranslateConcurrency)),
		},
		cancels: map[string]context.CancelFunc{},
	}
	return d
}

// Enqueue places jobID on the queue matching phase, ordered by priority
// (higher runs first) then enqueue time.
func (d *Dispatcher) Enqueue(jobID string, phase model.Phase, priority int) {
	q := QueueForPhase(phase)
	d.mu.Lock()
	heap.Push(d.queues[q], &queued{jobID: jobID, priority: priority, at: time.Now()})
	d.mu.Unlock()
}

// Run starts one dispatch loop per queue, each pulling the next job once a
// worker slot is free, and blocks until ctx is cancelled. On cancellation
// it asks every in-flight handler to stop cooperatively and waits up to
// cfg.ShutdownGrace before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	for _, name := range []Name{QueueScan, QueueASR, QueueTranslate} {
		d.wg.Add(1)
		go d.runQueue(ctx, name)
	}

	<-ctx.Done()
	d.cancelAllInFlight()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.ShutdownGrace):
		slog.Warn("queue: shutdown grace period elapsed with handlers still running")
	}
}

func (d *Dispatcher) runQueue(ctx context.Context, name Name) {
	defer d.wg.Done()
	sem := d.sems[name]
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobID, ok := d.pop(name)
			if !ok {
				continue
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				defer sem.Release(1)
				d.dispatch(ctx, jobID)
			}()
		}
	}
}

func (d *Dispatcher) pop(name Name) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queues[name]
	if q.Len() == 0 {
		return "", false
	}
	item := heap.Pop(q).(*queued)
	return item.jobID, true
}

func (d *Dispatcher) dispatch(parent context.Context, jobID string) {
	ctx, cancel := context.WithCancel(parent)
	d.cancelMu.Lock()
	d.cancels[jobID] = cancel
	d.cancelMu.Unlock()
	defer func() {
		d.cancelMu.Lock()
		delete(d.cancels, jobID)
		d.cancelMu.Unlock()
		cancel()
	}()

	ok, err := d.store.CASStatus(ctx, jobID, model.StatusQueued, model.StatusRunning)
	if err != nil {
		slog.Error("queue: CAS to running failed", "job_id", jobID, "err", err)
		return
	}
	if !ok {
		// Another worker already claimed it, or it is no longer queued.
		return
	}

	if d.quota != nil {
		if err := d.checkStrictQuota(ctx, jobID); err != nil {
			slog.Warn("queue: strict quota check failed at dispatch, failing job", "job_id", jobID, "err", err)
			if _, casErr := d.store.CASStatus(ctx, jobID, model.StatusRunning, model.StatusFailed); casErr != nil {
				slog.Error("queue: CAS to failed after quota breach failed", "job_id", jobID, "err", casErr)
			}
			if d.bus != nil {
				_ = d.bus.Publish(eventbus.TopicJobLifecycle, eventbus.Message{
					Topic: eventbus.TopicJobLifecycle, JobID: jobID, Type: eventbus.EventFailed, Detail: err.Error(), At: time.Now(),
				})
			}
			return
		}
	}

	if d.bus != nil {
		_ = d.bus.Publish(eventbus.TopicJobLifecycle, eventbus.Message{
			Topic: eventbus.TopicJobLifecycle, JobID: jobID, Type: eventbus.EventDispatched, At: time.Now(),
		})
	}

	if err := d.handler.Run(ctx, jobID); err != nil && jobcore.KindOf(err) != jobcore.Cancelled {
		slog.Error("queue: handler failed", "job_id", jobID, "err", err)
	}
}

func (d *Dispatcher) checkStrictQuota(ctx context.Context, jobID string) error {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return nil // fail open; a store error here shouldn't block dispatch
	}
	if job.Provider == "" {
		return nil
	}
	if err := d.quota.CheckStrict(ctx, job.Provider, model.QuotaDaily); err != nil {
		return err
	}
	return d.quota.CheckStrict(ctx, job.Provider, model.QuotaMonthly)
}

// Cancel asks the in-flight handler for jobID, if any, to stop.
func (d *Dispatcher) Cancel(jobID string) bool {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()
	cancel, ok := d.cancels[jobID]
	if !ok {
		return false
	}
	cancel()
	return true
}

func (d *Dispatcher) cancelAllInFlight() {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()
	for _, cancel := range d.cancels {
		cancel()
	}
}
