package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/christian-lee/subtrans/internal/jobcore"
	"github.com/christian-lee/subtrans/internal/model"
)

// retryBaseInterval and retryMaxInterval implement spec.md §4.6/§7: a
// call failing with ProviderTransient is attempted at most retryMaxAttempts
// (3) times in all, the first call included, with exponential backoff
// starting at 1s and capped at 30s, after which it is surfaced as
// ProviderFailed.
const (
	retryMaxAttempts  = 3
	retryBaseInterval = time.Second
	retryMaxInterval  = 30 * time.Second
)

// GenerateWithRetry wraps p.Generate with the provider retry policy,
// grounded on cenkalti/backoff/v5's retry helper.
func GenerateWithRetry(ctx context.Context, p Provider, req model.GenerateRequest) (model.GenerateResult, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryBaseInterval
	policy.MaxInterval = retryMaxInterval

	result, err := backoff.Retry(ctx, func() (model.GenerateResult, error) {
		res, err := p.Generate(ctx, req)
		if err != nil {
			if jobcore.Is(err, jobcore.ProviderTransient) {
				return model.GenerateResult{}, err
			}
			return model.GenerateResult{}, backoff.Permanent(err)
		}
		return res, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(retryMaxAttempts))

	if err != nil {
		if jobcore.Is(err, jobcore.ProviderTransient) {
			return model.GenerateResult{}, jobcore.New("provider.GenerateWithRetry", jobcore.ProviderFailed, err)
		}
		return model.GenerateResult{}, err
	}
	return result, nil
}
