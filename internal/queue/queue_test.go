package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/christian-lee/subtrans/internal/eventbus"
	"github.com/christian-lee/subtrans/internal/model"
	"github.com/christian-lee/subtrans/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestBus(t *testing.T) eventbus.Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := eventbus.NewRedisBus(client)
	t.Cleanup(func() { bus.Close() })
	return bus
}

type recordingHandler struct {
	mu    sync.Mutex
	seen  []string
	block chan struct{}
}

func (h *recordingHandler) Run(ctx context.Context, jobID string) error {
	h.mu.Lock()
	h.seen = append(h.seen, jobID)
	h.mu.Unlock()
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *recordingHandler) jobsSeen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func mustCreateQueuedJob(t *testing.T, st store.Store, id string) {
	t.Helper()
	require.NoError(t, st.CreateJob(context.Background(), &model.Job{
		ID:          id,
		SourceType:  model.SourceMedia,
		SourceRef:   "/tmp/" + id + ".mkv",
		TargetLangs: []string{"es"},
		Status:      model.StatusQueued,
		Phase:       model.PhaseInit,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}))
}

func TestQueueForPhase(t *testing.T) {
	require.Equal(t, QueueScan, QueueForPhase(model.PhaseInit))
	require.Equal(t, QueueScan, QueueForPhase(model.PhasePull))
	require.Equal(t, QueueASR, QueueForPhase(model.PhaseASR))
	require.Equal(t, QueueTranslate, QueueForPhase(model.PhaseMT))
	require.Equal(t, QueueTranslate, QueueForPhase(model.PhasePost))
	require.Equal(t, QueueTranslate, QueueForPhase(model.PhaseWriteback))
}

func TestDispatcherRunsQueuedJobExactlyOnce(t *testing.T) {
	st := newTestStore(t)
	bus := newTestBus(t)
	handler := &recordingHandler{}
	d := New(st, bus, handler, Config{ScanConcurrency: 2})

	mustCreateQueuedJob(t, st, "job-1")
	d.Enqueue("job-1", model.PhaseInit, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go d.Run(ctx)

	require.Eventually(t, func() bool {
		return len(handler.jobsSeen()) == 1
	}, time.Second, 10*time.Millisecond)

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusRunning, job.Status)
}

type fakeQuotaChecker struct{ deny bool }

func (f fakeQuotaChecker) CheckStrict(ctx context.Context, provider string, period model.QuotaPeriod) error {
	if f.deny {
		return fmt.Errorf("%s quota exceeded for %s", period, provider)
	}
	return nil
}

func TestDispatcherFailsJobOnStrictQuotaBreach(t *testing.T) {
	st := newTestStore(t)
	bus := newTestBus(t)
	handler := &recordingHandler{}
	d := New(st, bus, handler, Config{ScanConcurrency: 1, Quota: fakeQuotaChecker{deny: true}})

	require.NoError(t, st.CreateJob(context.Background(), &model.Job{
		ID: "job-quota", SourceType: model.SourceMedia, SourceRef: "/tmp/job-quota.mkv",
		TargetLangs: []string{"es"}, Provider: "fake", Status: model.StatusQueued, Phase: model.PhaseInit,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	d.Enqueue("job-quota", model.PhaseInit, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.Empty(t, handler.jobsSeen())
	job, err := st.GetJob(context.Background(), "job-quota")
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, job.Status)
}

func TestDispatcherRunsJobWhenQuotaWithinLimit(t *testing.T) {
	st := newTestStore(t)
	bus := newTestBus(t)
	handler := &recordingHandler{}
	d := New(st, bus, handler, Config{ScanConcurrency: 1, Quota: fakeQuotaChecker{deny: false}})

	require.NoError(t, st.CreateJob(context.Background(), &model.Job{
		ID: "job-quota-ok", SourceType: model.SourceMedia, SourceRef: "/tmp/job-quota-ok.mkv",
		TargetLangs: []string{"es"}, Provider: "fake", Status: model.StatusQueued, Phase: model.PhaseInit,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	d.Enqueue("job-quota-ok", model.PhaseInit, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go d.Run(ctx)

	require.Eventually(t, func() bool {
		return len(handler.jobsSeen()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcherSkipsJobNotInQueuedStatus(t *testing.T) {
	st := newTestStore(t)
	bus := newTestBus(t)
	handler := &recordingHandler{}
	d := New(st, bus, handler, Config{})

	mustCreateQueuedJob(t, st, "job-done")
	_, err := st.CASStatus(context.Background(), "job-done", model.StatusQueued, model.StatusDone)
	require.NoError(t, err)

	d.Enqueue("job-done", model.PhaseInit, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.Empty(t, handler.jobsSeen())
}

func TestDispatcherRespectsPriorityOrdering(t *testing.T) {
	st := newTestStore(t)
	bus := newTestBus(t)
	handler := &recordingHandler{}
	d := New(st, bus, handler, Config{ScanConcurrency: 1})

	mustCreateQueuedJob(t, st, "low-priority")
	mustCreateQueuedJob(t, st, "high-priority")
	d.Enqueue("low-priority", model.PhaseInit, 0)
	d.Enqueue("high-priority", model.PhaseInit, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go d.Run(ctx)

	require.Eventually(t, func() bool {
		return len(handler.jobsSeen()) == 2
	}, time.Second, 10*time.Millisecond)

	seen := handler.jobsSeen()
	require.Equal(t, "high-priority", seen[0])
}

func TestDispatcherCancelStopsInFlightHandler(t *testing.T) {
	st := newTestStore(t)
	bus := newTestBus(t)
	handler := &recordingHandler{block: make(chan struct{})}
	d := New(st, bus, handler, Config{ScanConcurrency: 1})

	mustCreateQueuedJob(t, st, "long-job")
	d.Enqueue("long-job", model.PhaseInit, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go d.Run(ctx)

	require.Eventually(t, func() bool {
		return len(handler.jobsSeen()) == 1
	}, time.Second, 10*time.Millisecond)

	var cancelled atomic.Bool
	require.Eventually(t, func() bool {
		cancelled.Store(d.Cancel("long-job"))
		return cancelled.Load()
	}, time.Second, 10*time.Millisecond)
}
