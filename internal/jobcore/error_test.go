package jobcore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWrapAndUnwrap(t *testing.T) {
	base := errors.New("dial tcp: timeout")
	err := New("provider.Generate", ProviderTransient, base)

	require.ErrorIs(t, err, base)
	assert.Equal(t, ProviderTransient, KindOf(err))
	assert.True(t, Is(err, ProviderTransient))
	assert.False(t, Is(err, QuotaExceeded))
	assert.Contains(t, err.Error(), "provider.Generate")
	assert.Contains(t, err.Error(), "dial tcp: timeout")
}

func TestKindOfNonTaxonomyError(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ProviderTransient))
	for _, k := range []Kind{BadInput, NotFound, ProviderFailed, QuotaExceeded, QuotaPause, Timeout, Cancelled, Internal} {
		assert.False(t, Retryable(k), "kind %s should not be retryable", k)
	}
}
