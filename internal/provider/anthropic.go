package provider

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/christian-lee/subtrans/internal/jobcore"
	"github.com/christian-lee/subtrans/internal/model"
)

// AnthropicProvider is the Anthropic-style provider family per
// spec.md §4.4: x-api-key auth, content-block responses,
// content_block_delta/text_delta SSE streaming — all handled inside the
// SDK rather than hand-rolled, unlike the OpenAI-compatible variant where
// no ecosystem client exists in the pack.
type AnthropicProvider struct {
	name   string
	client anthropic.Client
}

// NewAnthropicProvider creates a Provider backed by the Anthropic Messages API.
func NewAnthropicProvider(name, apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		name:   name,
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (p *AnthropicProvider) Name() string           { return p.name }
func (p *AnthropicProvider) SupportsModelPull() bool { return false }

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, jobcore.New("anthropic.ListModels", jobcore.ProviderTransient, err)
	}
	var names []string
	for _, m := range page.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

func (p *AnthropicProvider) ModelExists(ctx context.Context, modelName string) (bool, error) {
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

func (p *AnthropicProvider) Generate(ctx context.Context, req model.GenerateRequest) (model.GenerateResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return model.GenerateResult{}, jobcore.New("anthropic.Generate", jobcore.ProviderTransient, err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return model.GenerateResult{
		Text:         text,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

func (p *AnthropicProvider) GenerateStream(ctx context.Context, req model.GenerateRequest) (<-chan model.StreamChunk, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	out := make(chan model.StreamChunk, 8)
	stream := p.client.Messages.NewStreaming(ctx, params)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
					out <- model.StreamChunk{TextDelta: textDelta.Text}
				}
			}
		}
		out <- model.StreamChunk{Done: true}
	}()
	return out, nil
}

func (p *AnthropicProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	return err == nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
