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

// LocalHostProvider speaks a local model-host's HTTP API (pull/generate/
// list/delete over newline-delimited JSON), the local-host family from
// spec.md §4.4. As with the OpenAI-compatible variant, no local-host SDK
// is present anywhere in the example pack, so this is hand-built on
// net/http.
type LocalHostProvider struct {
	name    string
	baseURL string
	http    *http.Client
}

// NewLocalHostProvider creates a Provider for a local model host.
func NewLocalHostProvider(name, baseURL string) *LocalHostProvider {
	return &LocalHostProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *LocalHostProvider) Name() string           { return p.name }
func (p *LocalHostProvider) SupportsModelPull() bool { return true }

type localModelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (p *LocalHostProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, jobcore.New("localhost.ListModels", jobcore.Internal, err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, jobcore.New("localhost.ListModels", jobcore.ProviderTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, jobcore.New("localhost.ListModels", classifyStatus(resp.StatusCode), fmt.Errorf("status %d", resp.StatusCode))
	}
	var out localModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, jobcore.New("localhost.ListModels", jobcore.ProviderFailed, err)
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (p *LocalHostProvider) ModelExists(ctx context.Context, modelName string) (bool, error) {
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

type localGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type localGenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	PromptEvalCount int64 `json:"prompt_eval_count"`
	EvalCount       int64 `json:"eval_count"`
}

func (p *LocalHostProvider) Generate(ctx context.Context, req model.GenerateRequest) (model.GenerateResult, error) {
	body, _ := json.Marshal(localGenerateRequest{Model: req.Model, Prompt: req.Prompt, System: req.System, Stream: false})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return model.GenerateResult{}, jobcore.New("localhost.Generate", jobcore.Internal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return model.GenerateResult{}, jobcore.New("localhost.Generate", jobcore.ProviderTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.GenerateResult{}, jobcore.New("localhost.Generate", classifyStatus(resp.StatusCode), fmt.Errorf("status %d", resp.StatusCode))
	}

	var out localGenerateChunk
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.GenerateResult{}, jobcore.New("localhost.Generate", jobcore.ProviderFailed, err)
	}
	return model.GenerateResult{
		Text:         out.Response,
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
	}, nil
}

func (p *LocalHostProvider) GenerateStream(ctx context.Context, req model.GenerateRequest) (<-chan model.StreamChunk, error) {
	body, _ := json.Marshal(localGenerateRequest{Model: req.Model, Prompt: req.Prompt, System: req.System, Stream: true})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, jobcore.New("localhost.GenerateStream", jobcore.Internal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, jobcore.New("localhost.GenerateStream", jobcore.ProviderTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, jobcore.New("localhost.GenerateStream", classifyStatus(resp.StatusCode), fmt.Errorf("status %d", resp.StatusCode))
	}

	out := make(chan model.StreamChunk, 8)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var chunk localGenerateChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Response != "" {
				out <- model.StreamChunk{TextDelta: chunk.Response}
			}
			if chunk.Done {
				out <- model.StreamChunk{Done: true}
				return
			}
		}
	}()
	return out, nil
}

type pullProgress struct {
	Status string `json:"status"`
}

func (p *LocalHostProvider) PullModel(ctx context.Context, modelName string) error {
	body, _ := json.Marshal(map[string]string{"name": modelName})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return jobcore.New("localhost.PullModel", jobcore.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return jobcore.New("localhost.PullModel", jobcore.ProviderTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return jobcore.New("localhost.PullModel", classifyStatus(resp.StatusCode), fmt.Errorf("status %d", resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	var last pullProgress
	for scanner.Scan() {
		_ = json.Unmarshal(scanner.Bytes(), &last)
	}
	if strings.Contains(strings.ToLower(last.Status), "error") {
		return jobcore.New("localhost.PullModel", jobcore.ProviderFailed, fmt.Errorf("pull failed: %s", last.Status))
	}
	return nil
}

func (p *LocalHostProvider) DeleteModel(ctx context.Context, modelName string) error {
	body, _ := json.Marshal(map[string]string{"name": modelName})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return jobcore.New("localhost.DeleteModel", jobcore.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return jobcore.New("localhost.DeleteModel", jobcore.ProviderTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return jobcore.New("localhost.DeleteModel", classifyStatus(resp.StatusCode), fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

func (p *LocalHostProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.ListModels(ctx)
	return err == nil
}
