// Package ingress is the Ingress API: the operations an external caller
// uses to submit, inspect, and control translation jobs. Per spec.md, the
// wire shape (HTTP, gRPC, etc.) is explicitly out of scope; these are
// plain Go functions a cmd/ binary or another package wires up to
// whatever transport it needs, the way the teacher's internal/command
// package exposes danmaku command handling as plain functions the bot
// layer dispatches into.
package ingress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/christian-lee/subtrans/internal/eventbus"
	"github.com/christian-lee/subtrans/internal/jobcore"
	"github.com/christian-lee/subtrans/internal/model"
	"github.com/christian-lee/subtrans/internal/provider"
	"github.com/christian-lee/subtrans/internal/queue"
	"github.com/christian-lee/subtrans/internal/store"
)

// CreateJobRequest describes a new translation job.
type CreateJobRequest struct {
	SourceType    model.SourceType
	SourceRef     string
	SourceLang    string
	TargetLangs   []string
	Provider      string
	Model         string
	WritebackMode model.WritebackMode
	Priority      int
}

// API is the Ingress API surface, backed by the Job Store and Queue
// Dispatcher.
type API struct {
	Store      store.Store
	Dispatcher *queue.Dispatcher
	Bus        eventbus.Bus
	Registry   *provider.Registry
}

// CreateJob validates and persists a new Job, then enqueues it onto the
// scan queue.
func (a *API) CreateJob(ctx context.Context, req CreateJobRequest) (*model.Job, error) {
	if req.SourceRef == "" {
		return nil, jobcore.New("ingress.CreateJob", jobcore.BadInput, fmt.Errorf("source_ref is required"))
	}
	if len(req.TargetLangs) == 0 {
		return nil, jobcore.New("ingress.CreateJob", jobcore.BadInput, fmt.Errorf("at least one target language is required"))
	}
	if req.Model == "" {
		return nil, jobcore.New("ingress.CreateJob", jobcore.BadInput, fmt.Errorf("model is required"))
	}
	if req.SourceType != "" && !model.ValidSourceType(req.SourceType) {
		return nil, jobcore.New("ingress.CreateJob", jobcore.BadInput, fmt.Errorf("unknown source_type %q", req.SourceType))
	}
	if err := a.validateModelIdentifier(req.Model); err != nil {
		return nil, jobcore.New("ingress.CreateJob", jobcore.BadInput, err)
	}
	if req.WritebackMode == "" {
		req.WritebackMode = model.WritebackSidecar
	}

	now := time.Now()
	job := &model.Job{
		ID:            uuid.NewString(),
		SourceType:    req.SourceType,
		SourceRef:     req.SourceRef,
		SourceLang:    req.SourceLang,
		TargetLangs:   req.TargetLangs,
		Provider:      req.Provider,
		Model:         req.Model,
		WritebackMode: req.WritebackMode,
		Priority:      req.Priority,
		Status:        model.StatusQueued,
		Phase:         model.PhaseInit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.Store.CreateJob(ctx, job); err != nil {
		return nil, jobcore.New("ingress.CreateJob", jobcore.Internal, err)
	}

	if a.Dispatcher != nil {
		a.Dispatcher.Enqueue(job.ID, job.Phase, job.Priority)
	}
	a.publish(job.ID, eventbus.EventQueued, job.Phase, job.Status)
	return job, nil
}

// GetJob fetches a job by id.
func (a *API) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := a.Store.GetJob(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, jobcore.New("ingress.GetJob", jobcore.NotFound, err)
		}
		return nil, jobcore.New("ingress.GetJob", jobcore.Internal, err)
	}
	return job, nil
}

// ListJobs lists jobs matching f.
func (a *API) ListJobs(ctx context.Context, f store.ListFilter) ([]*model.Job, error) {
	jobs, err := a.Store.ListJobs(ctx, f)
	if err != nil {
		return nil, jobcore.New("ingress.ListJobs", jobcore.Internal, err)
	}
	return jobs, nil
}

// CancelJob asks the dispatcher to stop any in-flight work for id and
// marks it cancelled. A job that already finished is left untouched.
func (a *API) CancelJob(ctx context.Context, id string) error {
	job, err := a.Store.GetJob(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return jobcore.New("ingress.CancelJob", jobcore.NotFound, err)
		}
		return jobcore.New("ingress.CancelJob", jobcore.Internal, err)
	}
	if job.Status == model.StatusDone || job.Status == model.StatusFailed || job.Status == model.StatusCancelled {
		return nil
	}

	if a.Dispatcher != nil {
		a.Dispatcher.Cancel(id)
	}
	if _, err := a.Store.UpdateJob(ctx, id, func(j *model.Job) error {
		j.Status = model.StatusCancelled
		return nil
	}); err != nil {
		return jobcore.New("ingress.CancelJob", jobcore.Internal, err)
	}
	a.publish(id, eventbus.EventCancelled, job.Phase, model.StatusCancelled)
	return nil
}

// RetryJob creates a fresh Job that resumes from the original's last
// checkpoint: phases and target languages already completed are not
// redone, per spec.md's checkpoint/restart contract.
func (a *API) RetryJob(ctx context.Context, id string) (*model.Job, error) {
	original, err := a.Store.GetJob(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, jobcore.New("ingress.RetryJob", jobcore.NotFound, err)
		}
		return nil, jobcore.New("ingress.RetryJob", jobcore.Internal, err)
	}
	if original.Status != model.StatusFailed && original.Status != model.StatusCancelled {
		return nil, jobcore.New("ingress.RetryJob", jobcore.BadInput, fmt.Errorf("job %q is not failed or cancelled", id))
	}

	now := time.Now()
	retry := &model.Job{
		ID:                   uuid.NewString(),
		SourceType:           original.SourceType,
		SourceRef:            original.SourceRef,
		SourceLang:           original.SourceLang,
		TargetLangs:          original.TargetLangs,
		CompletedTargetLangs: append([]string(nil), original.CompletedTargetLangs...),
		Provider:             original.Provider,
		Model:                original.Model,
		WritebackMode:        original.WritebackMode,
		Priority:             original.Priority,
		Status:               model.StatusQueued,
		Phase:                firstIncompletePhase(original),
		CompletedPhases:      append([]model.Phase(nil), original.CompletedPhases...),
		ASRSourcePath:        original.ASRSourcePath,
		ASROutputPath:        original.ASROutputPath,
		ResultPaths:          copyStringMap(original.ResultPaths),
		CreatedAt:            now,
		UpdatedAt:            now,
		RetryOfJobID:         original.ID,
	}
	if err := a.Store.CreateJob(ctx, retry); err != nil {
		return nil, jobcore.New("ingress.RetryJob", jobcore.Internal, err)
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Enqueue(retry.ID, retry.Phase, retry.Priority)
	}
	a.publish(retry.ID, eventbus.EventQueued, retry.Phase, retry.Status)
	return retry, nil
}

// DownloadResult returns the filesystem path of the finished translation
// for jobID in lang, if the job has completed it.
func (a *API) DownloadResult(ctx context.Context, jobID, lang string) (string, error) {
	job, err := a.Store.GetJob(ctx, jobID)
	if err != nil {
		if err == store.ErrNotFound {
			return "", jobcore.New("ingress.DownloadResult", jobcore.NotFound, err)
		}
		return "", jobcore.New("ingress.DownloadResult", jobcore.Internal, err)
	}
	path, ok := job.ResultPaths[lang]
	if !ok {
		return "", jobcore.New("ingress.DownloadResult", jobcore.NotFound, fmt.Errorf("no result for lang %q", lang))
	}
	return path, nil
}

// progressSynthBuffer bounds the synthetic-initial-message wrapper's
// channel, matching the redis subscriber's own buffer discipline.
const progressSynthBuffer = 64

// StreamJobProgress subscribes to progress events for jobID. The caller
// must Close() the returned Subscriber when done. Since the bus has no
// message retention, a subscriber joining after a job's last progress
// event would otherwise see nothing until the next batch completes; to
// avoid that, the returned stream's first message always reflects the
// job's current phase/status, synthesized from the store rather than
// replayed from the bus.
func (a *API) StreamJobProgress(ctx context.Context, jobID string) (eventbus.Subscriber, error) {
	if a.Bus == nil {
		return nil, jobcore.New("ingress.StreamJobProgress", jobcore.Internal, fmt.Errorf("no event bus configured"))
	}
	job, err := a.Store.GetJob(ctx, jobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, jobcore.New("ingress.StreamJobProgress", jobcore.NotFound, err)
		}
		return nil, jobcore.New("ingress.StreamJobProgress", jobcore.Internal, err)
	}

	sub, err := a.Bus.Subscribe(eventbus.TopicJobProgress)
	if err != nil {
		return nil, jobcore.New("ingress.StreamJobProgress", jobcore.Internal, err)
	}

	initial := eventbus.Message{
		Topic: eventbus.TopicJobProgress, JobID: jobID, Type: eventbus.EventProgress,
		Phase: string(job.Phase), Status: string(job.Status), At: time.Now(),
	}
	return newSynthesizingSubscriber(sub, initial), nil
}

// synthesizingSubscriber prepends one synthesized Message ahead of the
// inner Subscriber's messages for the same job, dropping messages that
// belong to other jobs.
type synthesizingSubscriber struct {
	inner eventbus.Subscriber
	ch    chan eventbus.Message
}

func newSynthesizingSubscriber(inner eventbus.Subscriber, initial eventbus.Message) *synthesizingSubscriber {
	s := &synthesizingSubscriber{inner: inner, ch: make(chan eventbus.Message, progressSynthBuffer)}
	go func() {
		defer close(s.ch)
		s.ch <- initial
		for m := range inner.C() {
			if m.JobID != initial.JobID {
				continue
			}
			s.ch <- m
		}
	}()
	return s
}

func (s *synthesizingSubscriber) C() <-chan eventbus.Message { return s.ch }
func (s *synthesizingSubscriber) Close()                     { s.inner.Close() }

// validateModelIdentifier checks identifier is well-formed: non-blank, and
// if it carries a "provider:model" prefix, that the provider segment names
// a provider the registry actually knows about. A bare model name (no
// colon) is left to the registry's own heuristic resolution at dispatch
// time, per spec.md §4.4.
func (a *API) validateModelIdentifier(identifier string) error {
	name, modelName, hasProvider := strings.Cut(identifier, ":")
	if hasProvider {
		if name == "" || modelName == "" {
			return fmt.Errorf("ill-formed model identifier %q", identifier)
		}
		if a.Registry != nil {
			if _, _, ok := a.Registry.Get(name); !ok {
				return fmt.Errorf("unknown provider %q in model identifier %q", name, identifier)
			}
		}
	}
	return nil
}

func (a *API) publish(jobID string, t eventbus.EventType, phase model.Phase, status model.Status) {
	if a.Bus == nil {
		return
	}
	_ = a.Bus.Publish(eventbus.TopicJobLifecycle, eventbus.Message{
		Topic: eventbus.TopicJobLifecycle, JobID: jobID, Type: t, Phase: string(phase), Status: string(status), At: time.Now(),
	})
}

func firstIncompletePhase(j *model.Job) model.Phase {
	order := []model.Phase{model.PhaseInit, model.PhasePull, model.PhaseASR, model.PhaseMT, model.PhasePost, model.PhaseWriteback}
	for _, p := range order {
		if !j.HasCompletedPhase(p) {
			return p
		}
	}
	return model.PhaseDone
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
