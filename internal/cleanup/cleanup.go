// Package cleanup sweeps the scratch work directory used by the asr and
// mt phases (extracted audio, intermediate SRTs), removing artifacts for
// jobs that finished or failed more than a grace period ago, per spec.md
// §6's cleanup contract. Grounded on ManuGH-xg2g's Orchestrator.Run
// background sweeper, which runs the same "periodic tick, filter by age,
// remove" shape over stale session state.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/christian-lee/subtrans/internal/model"
	"github.com/christian-lee/subtrans/internal/store"
)

// Sweeper removes scratch files belonging to jobs that are no longer
// running, once they have been in a terminal state for longer than Grace.
type Sweeper struct {
	Store    store.Store
	WorkDir  string
	Interval time.Duration
	Grace    time.Duration
}

// Run blocks, sweeping every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				slog.Error("cleanup: sweep failed", "err", err)
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	grace := s.Grace
	if grace <= 0 {
		grace = 24 * time.Hour
	}

	entries, err := os.ReadDir(s.WorkDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		jobID := jobIDFromArtifact(entry.Name())
		if jobID == "" {
			continue
		}
		job, err := s.Store.GetJob(ctx, jobID)
		if err == store.ErrNotFound {
			s.remove(entry.Name())
			continue
		}
		if err != nil {
			slog.Warn("cleanup: job lookup failed", "job_id", jobID, "err", err)
			continue
		}
		if !isTerminal(job.Status) {
			continue
		}
		if time.Since(job.UpdatedAt) < grace {
			continue
		}
		s.remove(entry.Name())
	}
	return nil
}

func (s *Sweeper) remove(name string) {
	path := filepath.Join(s.WorkDir, name)
	if err := os.Remove(path); err != nil {
		slog.Warn("cleanup: remove failed", "path", path, "err", err)
		return
	}
	slog.Info("cleanup: removed stale artifact", "path", path)
}

func isTerminal(status model.Status) bool {
	switch status {
	case model.StatusDone, model.StatusFailed, model.StatusCancelled:
		return true
	default:
		return false
	}
}

// jobIDFromArtifact extracts the job id prefix from a scratch filename
// (e.g. "<job-id>.wav", "<job-id>.source.srt", "<job-id>.es.srt"). Returns
// "" if name doesn't look like a job-scoped artifact.
func jobIDFromArtifact(name string) string {
	idx := strings.Index(name, ".")
	if idx <= 0 {
		return ""
	}
	return name[:idx]
}
