package oracle

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumodex/perpd/internal/domain"
)

type fakeCache struct {
	samples map[string]domain.PriceSample
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{samples: make(map[string]domain.PriceSample)}
}

func (c *fakeCache) SetPrice(ctx context.Context, sample domain.PriceSample) error {
	c.samples[sample.FeedID] = sample
	c.sets++
	return nil
}

func (c *fakeCache) GetPrice(ctx context.Context, feedID string) (domain.PriceSample, error) {
	s, ok := c.samples[feedID]
	if !ok {
		return domain.PriceSample{}, domain.ErrNotFound
	}
	return s, nil
}

func TestLatestPricesAppliesExponent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/latest_price_feeds", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{
			"id": "abc123",
			"price": {"price": "5000012345678", "conf": "2500000000", "expo": -8, "publish_time": 1700000000}
		}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, slog.Default())
	samples, err := client.LatestPrices(context.Background(), []string{"0xabc123"})
	require.NoError(t, err)
	require.Contains(t, samples, "0xabc123")

	sample := samples["0xabc123"]
	assert.InDelta(t, 50000.12345678, sample.Price, 1e-6)
	assert.InDelta(t, 25.0, sample.Confidence, 1e-6)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), sample.PublishedAt)
}

func TestLatestPriceReadsThroughCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`[{
			"id": "feed1",
			"price": {"price": "100", "conf": "1", "expo": 0, "publish_time": 1700000000}
		}]`))
	}))
	defer srv.Close()

	cache := newFakeCache()
	client := NewClient(srv.URL, cache, slog.Default())

	first, err := client.LatestPrice(context.Background(), "feed1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, cache.sets)

	// Second read is served from the cache.
	second, err := client.LatestPrice(context.Background(), "feed1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestLatestPriceUnknownFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, slog.Default())
	_, err := client.LatestPrice(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
