// Package provider is the Provider Registry (C4): a pluggable abstraction
// over AI backends (local model hosts, OpenAI-compatible APIs, Anthropic,
// Google) behind one capability interface, the way the teacher's
// internal/bot.Pool keeps a named registry of chat-platform clients behind
// a single Bot interface.
package provider

import (
	"context"

	"github.com/christian-lee/subtrans/internal/model"
)

// Provider is the capability interface every backend implements, per
// spec.md §4.4.
type Provider interface {
	Name() string
	SupportsModelPull() bool
	ListModels(ctx context.Context) ([]string, error)
	ModelExists(ctx context.Context, modelName string) (bool, error)
	Generate(ctx context.Context, req model.GenerateRequest) (model.GenerateResult, error)
	GenerateStream(ctx context.Context, req model.GenerateRequest) (<-chan model.StreamChunk, error)
	HealthCheck(ctx context.Context) bool
}

// ModelPuller is implemented only by providers whose family supports
// pulling/deleting models on demand (local-host family).
type ModelPuller interface {
	PullModel(ctx context.Context, modelName string) error
	DeleteModel(ctx context.Context, modelName string) error
}
