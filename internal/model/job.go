// Package model holds the data-model entities shared across the pipeline:
// jobs, provider/model configuration, quotas, usage logs, task logs, and
// checkpoints. It has no behavior beyond small helpers; persistence lives in
// internal/store, internal/quota, and internal/cache.
package model

import "time"

// Phase is a step in a Job's translation lifecycle.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhasePull      Phase = "pull"
	PhaseASR       Phase = "asr"
	PhaseMT        Phase = "mt"
	PhasePaused    Phase = "paused"
	PhasePost      Phase = "post"
	PhaseWriteback Phase = "writeback"
	PhaseDone      Phase = "done"
)

// Status is the coarse-grained state of a Job, orthogonal to Phase.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// SourceType classifies what kind of media a Job's source_path points to,
// which in turn decides whether the asr phase is needed: a subtitle
// source already has translatable text, audio/media sources need
// transcription first, and a host_item is fetched from the media host
// before its kind can be determined.
type SourceType string

const (
	SourceSubtitle SourceType = "subtitle"
	SourceAudio    SourceType = "audio"
	SourceMedia    SourceType = "media"
	SourceHostItem SourceType = "host_item"
)

// ValidSourceType reports whether t is one of the recognized source types.
func ValidSourceType(t SourceType) bool {
	switch t {
	case SourceSubtitle, SourceAudio, SourceMedia, SourceHostItem:
		return true
	default:
		return false
	}
}

// WritebackMode controls how a finished translation is delivered.
type WritebackMode string

const (
	WritebackSidecar WritebackMode = "sidecar"
	WritebackUpload  WritebackMode = "upload"
)

// Job is the unit of work tracked end to end by the pipeline.
type Job struct {
	ID                   string
	SourceType           SourceType
	SourceRef            string // host item id, or upload path
	SourceLang           string // empty = auto-detect
	TargetLangs          []string
	CompletedTargetLangs []string
	Provider             string
	Model                string
	WritebackMode        WritebackMode
	Priority             int // higher runs first

	Status  Status
	Phase   Phase
	Error   string
	ResumeAt *time.Time

	CompletedPhases []Phase
	ASRSourcePath   string
	ASROutputPath   string
	ResultPaths     map[string]string // target lang -> output path

	CreatedAt time.Time
	UpdatedAt time.Time

	RetryOfJobID string // set when this job was created by Retry

	LeaseOwner string
	LeaseUntil *time.Time
}

// HasCompletedPhase reports whether p is recorded as completed.
func (j *Job) HasCompletedPhase(p Phase) bool {
	for _, cp := range j.CompletedPhases {
		if cp == p {
			return true
		}
	}
	return false
}

// MarkPhaseComplete records p as completed, idempotently.
func (j *Job) MarkPhaseComplete(p Phase) {
	if j.HasCompletedPhase(p) {
		return
	}
	j.CompletedPhases = append(j.CompletedPhases, p)
}

// HasCompletedTargetLang reports whether lang has already been fully
// translated, post-processed, and written back.
func (j *Job) HasCompletedTargetLang(lang string) bool {
	for _, l := range j.CompletedTargetLangs {
		if l == lang {
			return true
		}
	}
	return false
}

// MarkTargetLangComplete records lang as fully delivered, idempotently.
func (j *Job) MarkTargetLangComplete(lang string) {
	if j.HasCompletedTargetLang(lang) {
		return
	}
	j.CompletedTargetLangs = append(j.CompletedTargetLangs, lang)
}

// RemainingTargetLangs returns TargetLangs not yet in CompletedTargetLangs,
// preserving original order.
func (j *Job) RemainingTargetLangs() []string {
	out := make([]string, 0, len(j.TargetLangs))
	for _, l := range j.TargetLangs {
		if !j.HasCompletedTargetLang(l) {
			out = append(out, l)
		}
	}
	return out
}

// Checkpoint is the durable, restart-safe progress snapshot for a Job,
// sufficient to resume without redoing completed work.
type Checkpoint struct {
	JobID                string
	CompletedPhases      []Phase
	CompletedTargetLangs []string
	ASROutputPath        string
	UpdatedAt            time.Time
}
