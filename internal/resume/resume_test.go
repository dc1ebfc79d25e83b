package resume

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/christian-lee/subtrans/internal/model"
	"github.com/christian-lee/subtrans/internal/store"
)

type recordingEnqueuer struct {
	jobIDs []string
}

func (r *recordingEnqueuer) Enqueue(jobID string, phase model.Phase, priority int) {
	r.jobIDs = append(r.jobIDs, jobID)
}

type fakeHealer struct {
	results map[string]bool
	enabled []string
}

func (f *fakeHealer) HealthCheckAll(ctx context.Context) map[string]bool { return f.results }
func (f *fakeHealer) Enable(name string)                                 { f.enabled = append(f.enabled, name) }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSweepDueJobsRequeuesPastResumeAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	require.NoError(t, st.CreateJob(ctx, &model.Job{
		ID: "paused-1", SourceType: model.SourceMedia, SourceRef: "/x.mkv",
		TargetLangs: []string{"es"}, Status: model.StatusPaused, Phase: model.PhaseMT,
		ResumeAt: &past, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	enqueuer := &recordingEnqueuer{}
	s := &Scheduler{Store: st, Dispatcher: enqueuer}
	s.sweepDueJobs(ctx)

	require.Equal(t, []string{"paused-1"}, enqueuer.jobIDs)

	job, err := st.GetJob(ctx, "paused-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusQueued, job.Status)
	require.Nil(t, job.ResumeAt)
}

func TestSweepDueJobsIgnoresFutureResumeAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	require.NoError(t, st.CreateJob(ctx, &model.Job{
		ID: "paused-2", SourceType: model.SourceMedia, SourceRef: "/x.mkv",
		TargetLangs: []string{"es"}, Status: model.StatusPaused, Phase: model.PhaseMT,
		ResumeAt: &future, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	enqueuer := &recordingEnqueuer{}
	s := &Scheduler{Store: st, Dispatcher: enqueuer}
	s.sweepDueJobs(ctx)

	require.Empty(t, enqueuer.jobIDs)
}

func TestSweepProviderHealthEnablesHealthyProviders(t *testing.T) {
	healer := &fakeHealer{results: map[string]bool{"p1": true, "p2": false}}
	s := &Scheduler{Registry: healer}
	s.sweepProviderHealth(context.Background())

	require.Equal(t, []string{"p1"}, healer.enabled)
}

func TestReapStaleLeasesRequeuesExpiredLease(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, &model.Job{
		ID: "stuck-1", SourceType: model.SourceMedia, SourceRef: "/x.mkv",
		TargetLangs: []string{"es"}, Status: model.StatusRunning, Phase: model.PhaseASR,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	ok, err := st.TryAcquireLease(ctx, "stuck-1", "dead-worker", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(5 * time.Millisecond)

	enqueuer := &recordingEnqueuer{}
	require.NoError(t, ReapStaleLeases(ctx, st, enqueuer))

	require.Equal(t, []string{"stuck-1"}, enqueuer.jobIDs)
	job, err := st.GetJob(ctx, "stuck-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusQueued, job.Status)
}
