package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/christian-lee/subtrans/internal/model"
)

func TestCacheHitAndMiss(t *testing.T) {
	c := NewCache(10, time.Minute)

	_, ok := c.Get("openai", model.QuotaDaily)
	assert.False(t, ok)

	c.Put("openai", model.QuotaDaily, model.Quota{Provider: "openai", CurrentRequests: 5})
	q, ok := c.Get("openai", model.QuotaDaily)
	assert.True(t, ok)
	assert.Equal(t, int64(5), q.CurrentRequests)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCacheExpiration(t *testing.T) {
	c := NewCache(10, 10*time.Millisecond)
	c.Put("openai", model.QuotaDaily, model.Quota{Provider: "openai"})

	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("openai", model.QuotaDaily)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Put("a", model.QuotaDaily, model.Quota{Provider: "a"})
	c.Put("b", model.QuotaDaily, model.Quota{Provider: "b"})
	c.Put("c", model.QuotaDaily, model.Quota{Provider: "c"})

	_, ok := c.Get("a", model.QuotaDaily)
	assert.False(t, ok, "least recently used entry should be evicted")
	assert.Equal(t, int64(1), c.Stats().Evictions)

	_, ok = c.Get("b", model.QuotaDaily)
	assert.True(t, ok)
	_, ok = c.Get("c", model.QuotaDaily)
	assert.True(t, ok)
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(10, time.Minute)
	c.Put("a", model.QuotaDaily, model.Quota{Provider: "a"})
	c.Invalidate("a", model.QuotaDaily)
	_, ok := c.Get("a", model.QuotaDaily)
	assert.False(t, ok)
}
