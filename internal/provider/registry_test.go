package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christian-lee/subtrans/internal/jobcore"
	"github.com/christian-lee/subtrans/internal/model"
)

type fakeProvider struct {
	name    string
	healthy bool
}

func (f *fakeProvider) Name() string                       { return f.name }
func (f *fakeProvider) SupportsModelPull() bool             { return false }
func (f *fakeProvider) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeProvider) ModelExists(ctx context.Context, m string) (bool, error) { return true, nil }
func (f *fakeProvider) Generate(ctx context.Context, req model.GenerateRequest) (model.GenerateResult, error) {
	return model.GenerateResult{Text: "ok from " + f.name}, nil
}
func (f *fakeProvider) GenerateStream(ctx context.Context, req model.GenerateRequest) (<-chan model.StreamChunk, error) {
	ch := make(chan model.StreamChunk, 1)
	close(ch)
	return ch, nil
}
func (f *fakeProvider) HealthCheck(ctx context.Context) bool { return f.healthy }

func TestResolveExplicitProviderPrefix(t *testing.T) {
	r := NewRegistry()
	r.Register(model.ProviderConfig{Name: "myollama", Family: model.FamilyLocalHost, Enabled: true}, &fakeProvider{name: "myollama", healthy: true})

	p, modelName, err := r.Resolve("myollama:llama3")
	require.NoError(t, err)
	assert.Equal(t, "myollama", p.Name())
	assert.Equal(t, "llama3", modelName)
}

func TestResolveUnknownExplicitProvider(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Resolve("nope:model")
	assert.Equal(t, jobcore.NotFound, jobcore.KindOf(err))
}

func TestResolveHeuristicFallback(t *testing.T) {
	r := NewRegistry()
	r.Register(model.ProviderConfig{Name: "openai-1", Family: model.FamilyOpenAICompat, Priority: 5, Enabled: true}, &fakeProvider{name: "openai-1", healthy: true})
	r.Register(model.ProviderConfig{Name: "openai-2", Family: model.FamilyOpenAICompat, Priority: 1, Enabled: true}, &fakeProvider{name: "openai-2", healthy: true})

	p, modelName, err := r.Resolve("gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "openai-2", p.Name(), "lowest priority should win the tie")
	assert.Equal(t, "gpt-4o-mini", modelName)
}

func TestResolveSkipsDisabledProvider(t *testing.T) {
	r := NewRegistry()
	r.Register(model.ProviderConfig{Name: "anthropic-1", Family: model.FamilyAnthropic, Enabled: false}, &fakeProvider{name: "anthropic-1"})
	_, _, err := r.Resolve("claude-3-5-sonnet")
	assert.Equal(t, jobcore.NotFound, jobcore.KindOf(err))
}

func TestDisableAndEnable(t *testing.T) {
	r := NewRegistry()
	r.Register(model.ProviderConfig{Name: "p1", Family: model.FamilyGoogle, Enabled: true}, &fakeProvider{name: "p1"})

	r.Disable("p1", "quota exceeded")
	assert.False(t, r.IsEnabled("p1"))

	r.Enable("p1")
	assert.True(t, r.IsEnabled("p1"))
}

func TestHealthCheckAll(t *testing.T) {
	r := NewRegistry()
	r.Register(model.ProviderConfig{Name: "healthy", Enabled: true}, &fakeProvider{name: "healthy", healthy: true})
	r.Register(model.ProviderConfig{Name: "sick", Enabled: true}, &fakeProvider{name: "sick", healthy: false})

	results := r.HealthCheckAll(context.Background())
	assert.True(t, results["healthy"])
	assert.False(t, results["sick"])
}
