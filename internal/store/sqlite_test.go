package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/christian-lee/subtrans/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestJob(id string) *model.Job {
	return &model.Job{
		ID:            id,
		SourceType:    model.SourceHostItem,
		SourceRef:     "item-1",
		SourceLang:    "ja",
		TargetLangs:   []string{"en", "fr"},
		Provider:      "google",
		Model:         "gemini-2.0-flash",
		WritebackMode: model.WritebackSidecar,
		Status:        model.StatusQueued,
		Phase:         model.PhaseInit,
		ResultPaths:   map[string]string{},
	}
}

func TestCreateAndGetJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	j := newTestJob("job-1")
	require.NoError(t, s.CreateJob(ctx, j))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, []string{"en", "fr"}, got.TargetLangs)
	require.Equal(t, model.StatusQueued, got.Status)

	_, err = s.GetJob(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCASStatusPreventsDoubleDispatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateJob(ctx, newTestJob("job-1")))

	ok, err := s.CASStatus(ctx, "job-1", model.StatusQueued, model.StatusRunning)
	require.NoError(t, err)
	require.True(t, ok)

	// A second worker racing on the same transition must lose.
	ok, err = s.CASStatus(ctx, "job-1", model.StatusQueued, model.StatusRunning)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusRunning, got.Status)
}

func TestUpdateJobFunctional(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateJob(ctx, newTestJob("job-1")))

	updated, err := s.UpdateJob(ctx, "job-1", func(j *model.Job) error {
		j.Phase = model.PhaseASR
		j.MarkPhaseComplete(model.PhaseInit)
		j.MarkPhaseComplete(model.PhasePull)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, model.PhaseASR, updated.Phase)
	require.True(t, updated.HasCompletedPhase(model.PhasePull))

	reloaded, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, reloaded.HasCompletedPhase(model.PhaseInit))
}

func TestLeaseAcquireRenewRelease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateJob(ctx, newTestJob("job-1")))

	ok, err := s.TryAcquireLease(ctx, "job-1", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A second worker cannot acquire while the lease is live.
	ok, err = s.TryAcquireLease(ctx, "job-1", "worker-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.RenewLease(ctx, "job-1", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ReleaseLease(ctx, "job-1", "worker-a"))

	ok, err = s.TryAcquireLease(ctx, "job-1", "worker-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestListDueForResume(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := newTestJob("due")
	due.Status = model.StatusPaused
	due.ResumeAt = &past
	require.NoError(t, s.CreateJob(ctx, due))

	notDue := newTestJob("not-due")
	notDue.Status = model.StatusPaused
	notDue.ResumeAt = &future
	require.NoError(t, s.CreateJob(ctx, notDue))

	jobs, err := s.ListDueForResume(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "due", jobs[0].ID)
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateJob(ctx, newTestJob("job-1")))

	c := &model.Checkpoint{
		JobID:                "job-1",
		CompletedPhases:      []model.Phase{model.PhaseInit, model.PhasePull},
		CompletedTargetLangs: []string{"en"},
		ASROutputPath:        "/tmp/job-1.asr.json",
	}
	require.NoError(t, s.SaveCheckpoint(ctx, c))

	got, err := s.GetCheckpoint(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, []string{"en"}, got.CompletedTargetLangs)

	// Overwrite is an upsert, not an insert conflict.
	c.CompletedTargetLangs = append(c.CompletedTargetLangs, "fr")
	require.NoError(t, s.SaveCheckpoint(ctx, c))
	got, err = s.GetCheckpoint(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, []string{"en", "fr"}, got.CompletedTargetLangs)
}

func TestTaskLogAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateJob(ctx, newTestJob("job-1")))

	require.NoError(t, s.AppendTaskLog(ctx, &model.TaskLog{JobID: "job-1", Phase: model.PhaseASR, Status: model.StatusRunning, Progress: 0.5}))
	require.NoError(t, s.AppendTaskLog(ctx, &model.TaskLog{JobID: "job-1", Phase: model.PhaseMT, Status: model.StatusRunning, Progress: 0.1}))

	logs, err := s.ListTaskLogs(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, model.PhaseASR, logs[0].Phase)
}
