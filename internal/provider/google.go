package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/christian-lee/subtrans/internal/jobcore"
	"github.com/christian-lee/subtrans/internal/model"
)

// GoogleProvider is the Google/Gemini provider family, adapted from the
// teacher's internal/translate/gemini.go (which drove one hardcoded
// translation prompt) into the general Provider interface.
type GoogleProvider struct {
	name   string
	client *genai.Client
}

// NewGoogleProvider creates a Provider backed by the Gemini API.
func NewGoogleProvider(ctx context.Context, name, apiKey string) (*GoogleProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google provider %s: new client: %w", name, err)
	}
	return &GoogleProvider{name: name, client: client}, nil
}

func (p *GoogleProvider) Name() string              { return p.name }
func (p *GoogleProvider) SupportsModelPull() bool    { return false }

func (p *GoogleProvider) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	it := p.client.Models.All(ctx)
	for m, err := range it {
		if err != nil {
			return nil, jobcore.New("google.ListModels", jobcore.ProviderTransient, err)
		}
		names = append(names, m.Name)
	}
	return names, nil
}

func (p *GoogleProvider) ModelExists(ctx context.Context, modelName string) (bool, error) {
	names, err := p.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == modelName {
			return true, nil
		}
	}
	return false, nil
}

func (p *GoogleProvider) Generate(ctx context.Context, req model.GenerateRequest) (model.GenerateResult, error) {
	var cfg *genai.GenerateContentConfig
	if req.System != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		}
	}
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return model.GenerateResult{}, jobcore.New("google.Generate", jobcore.ProviderTransient, err)
	}
	text := resp.Text()
	var in, out int64
	if resp.UsageMetadata != nil {
		in = int64(resp.UsageMetadata.PromptTokenCount)
		out = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return model.GenerateResult{Text: text, InputTokens: in, OutputTokens: out}, nil
}

func (p *GoogleProvider) GenerateStream(ctx context.Context, req model.GenerateRequest) (<-chan model.StreamChunk, error) {
	out := make(chan model.StreamChunk, 8)
	go func() {
		defer close(out)
		for chunk, err := range p.client.Models.GenerateContentStream(ctx, req.Model, genai.Text(req.Prompt), nil) {
			if err != nil {
				return
			}
			out <- model.StreamChunk{TextDelta: chunk.Text()}
		}
		out <- model.StreamChunk{Done: true}
	}()
	return out, nil
}

func (p *GoogleProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.client.Models.Get(ctx, "gemini-2.0-flash", nil)
	return err == nil
}
