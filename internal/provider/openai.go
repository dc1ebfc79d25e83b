package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/christian-lee/subtrans/internal/jobcore"
	"github.com/christian-lee/subtrans/internal/model"
)

// OpenAICompatProvider speaks the OpenAI chat-completions wire format used
// by OpenAI itself and by a wide range of OpenAI-compatible endpoints
// (DeepSeek, vLLM, etc). No SDK for this exists in the example pack, so
// this is a small net/http client, matching the teacher's own direct use
// of net/http in internal/web/server.go.
type OpenAICompatProvider struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewOpenAICompatProvider creates a Provider for an OpenAI-compatible endpoint.
func NewOpenAICompatProvider(name, baseURL, apiKey string) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAICompatProvider) Name() string           { return p.name }
func (p *OpenAICompatProvider) SupportsModelPull() bool { return false }

type openAIModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (p *OpenAICompatProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, jobcore.New("openai.ListModels", jobcore.Internal, err)
	}
	p.authorize(req)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, jobcore.New("openai.ListModels", jobcore.ProviderTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, jobcore.New("openai.ListModels", classifyStatus(resp.StatusCode), fmt.Errorf("status %d", resp.StatusCode))
	}

	var out openAIModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, jobcore.New("openai.ListModels", jobcore.ProviderFailed, err)
	}
	names := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

func (p *OpenAICompatProvider) ModelExists(ctx context.Context, modelName string) (bool, error) {
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

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAICompatProvider) buildMessages(req model.GenerateRequest) []chatMessage {
	var msgs []chatMessage
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})
	return msgs
}

func (p *OpenAICompatProvider) Generate(ctx context.Context, req model.GenerateRequest) (model.GenerateResult, error) {
	body, _ := json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Messages:    p.buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return model.GenerateResult{}, jobcore.New("openai.Generate", jobcore.Internal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.authorize(httpReq)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return model.GenerateResult{}, jobcore.New("openai.Generate", jobcore.ProviderTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.GenerateResult{}, jobcore.New("openai.Generate", classifyStatus(resp.StatusCode), fmt.Errorf("status %d", resp.StatusCode))
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.GenerateResult{}, jobcore.New("openai.Generate", jobcore.ProviderFailed, err)
	}
	if len(out.Choices) == 0 {
		return model.GenerateResult{}, jobcore.New("openai.Generate", jobcore.ProviderFailed, fmt.Errorf("no choices returned"))
	}
	return model.GenerateResult{
		Text:         out.Choices[0].Message.Content,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}

// streamChunk mirrors the SSE "delta" shape of a streamed chat completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *OpenAICompatProvider) GenerateStream(ctx context.Context, req model.GenerateRequest) (<-chan model.StreamChunk, error) {
	body, _ := json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Messages:    p.buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, jobcore.New("openai.GenerateStream", jobcore.Internal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	p.authorize(httpReq)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, jobcore.New("openai.GenerateStream", jobcore.ProviderTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, jobcore.New("openai.GenerateStream", classifyStatus(resp.StatusCode), fmt.Errorf("status %d", resp.StatusCode))
	}

	out := make(chan model.StreamChunk, 8)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				out <- model.StreamChunk{Done: true}
				return
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				out <- model.StreamChunk{TextDelta: chunk.Choices[0].Delta.Content}
			}
		}
	}()
	return out, nil
}

func (p *OpenAICompatProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.ListModels(ctx)
	return err == nil
}

func (p *OpenAICompatProvider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// classifyStatus maps an HTTP status code to an error Kind.
func classifyStatus(code int) jobcore.Kind {
	switch {
	case code == http.StatusTooManyRequests, code >= 500:
		return jobcore.ProviderTransient
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return jobcore.ProviderFailed
	case code == http.StatusBadRequest:
		return jobcore.BadInput
	default:
		return jobcore.ProviderFailed
	}
}
