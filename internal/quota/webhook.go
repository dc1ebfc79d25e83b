package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/christian-lee/subtrans/internal/model"
)

// WebhookAlertSender posts a JSON payload to a configured URL when a quota
// is breached. A plain net/http client is enough here; no webhook client
// library appears anywhere in the example pack.
type WebhookAlertSender struct {
	url    string
	client *http.Client
}

// NewWebhookAlertSender creates an AlertSender posting to url.
func NewWebhookAlertSender(url string) *WebhookAlertSender {
	return &WebhookAlertSender{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

type alertPayload struct {
	Provider        string  `json:"provider"`
	Period          string  `json:"period"`
	CurrentRequests int64   `json:"current_requests"`
	MaxRequests     int64   `json:"max_requests"`
	CurrentCostUSD  float64 `json:"current_cost_usd"`
	MaxCostUSD      float64 `json:"max_cost_usd"`
}

func (w *WebhookAlertSender) SendAlert(ctx context.Context, provider string, q model.Quota) error {
	body, err := json.Marshal(alertPayload{
		Provider:        provider,
		Period:          string(q.Period),
		CurrentRequests: q.CurrentRequests,
		MaxRequests:     q.MaxRequests,
		CurrentCostUSD:  q.CurrentCostUSD,
		MaxCostUSD:      q.MaxCostUSD,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
