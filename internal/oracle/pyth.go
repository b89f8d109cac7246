// Package oracle integrates the Pyth price service: an HTTP client against
// the Hermes API plus an optional WebSocket stream that keeps the price
// cache warm between polls.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tumodex/perpd/internal/domain"
)

// Client fetches oracle prices from a Hermes endpoint. When a price cache
// is attached, reads go through it first and fetched samples are written
// back, so the HTTP API is only hit on cache misses.
type Client struct {
	endpoint   string
	httpClient *http.Client
	cache      domain.PriceCache
	logger     *slog.Logger
}

// NewClient creates a Hermes client. cache may be nil.
func NewClient(endpoint string, cache domain.PriceCache, logger *slog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		cache:  cache,
		logger: logger.With(slog.String("component", "pyth_client")),
	}
}

// priceFeed is the Hermes latest_price_feeds response element. Price and
// confidence are integers scaled by 10^expo.
type priceFeed struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Conf        string `json:"conf"`
		Expo        int    `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

func (f priceFeed) sample(feedID string) (domain.PriceSample, error) {
	raw, err := strconv.ParseFloat(f.Price.Price, 64)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("invalid price %q: %w", f.Price.Price, err)
	}
	conf, err := strconv.ParseFloat(f.Price.Conf, 64)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("invalid confidence %q: %w", f.Price.Conf, err)
	}
	factor := math.Pow(10, float64(f.Price.Expo))
	return domain.PriceSample{
		FeedID:      feedID,
		Price:       raw * factor,
		Confidence:  conf * factor,
		PublishedAt: time.Unix(f.Price.PublishTime, 0).UTC(),
	}, nil
}

// LatestPrice returns the newest sample for one feed.
func (c *Client) LatestPrice(ctx context.Context, feedID string) (domain.PriceSample, error) {
	if c.cache != nil {
		sample, err := c.cache.GetPrice(ctx, feedID)
		if err == nil {
			return sample, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("price cache read failed", slog.String("feed", feedID), slog.String("error", err.Error()))
		}
	}

	samples, err := c.fetch(ctx, []string{feedID})
	if err != nil {
		return domain.PriceSample{}, err
	}
	sample, ok := samples[feedID]
	if !ok {
		return domain.PriceSample{}, domain.ErrNotFound
	}
	return sample, nil
}

// LatestPrices batch-fetches samples for multiple feeds. Feeds the oracle
// has no data for are omitted.
func (c *Client) LatestPrices(ctx context.Context, feedIDs []string) (map[string]domain.PriceSample, error) {
	out := make(map[string]domain.PriceSample, len(feedIDs))
	var misses []string
	if c.cache != nil {
		for _, id := range feedIDs {
			sample, err := c.cache.GetPrice(ctx, id)
			if err == nil {
				out[id] = sample
				continue
			}
			misses = append(misses, id)
		}
	} else {
		misses = feedIDs
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.fetch(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, sample := range fetched {
		out[id] = sample
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, feedIDs []string) (map[string]domain.PriceSample, error) {
	params := url.Values{}
	for _, id := range feedIDs {
		params.Add("ids[]", id)
	}
	reqURL := fmt.Sprintf("%s/api/latest_price_feeds?%s", c.endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("pyth: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pyth: fetch price feeds: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pyth: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pyth: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var feeds []priceFeed
	if err := json.Unmarshal(body, &feeds); err != nil {
		return nil, fmt.Errorf("pyth: decode price feeds: %w", err)
	}

	// Hermes returns IDs without the 0x prefix; index the response both
	// ways so callers can use either form.
	byID := make(map[string]priceFeed, len(feeds))
	for _, f := range feeds {
		byID[normalizeFeedID(f.ID)] = f
	}

	out := make(map[string]domain.PriceSample, len(feeds))
	for _, id := range feedIDs {
		f, ok := byID[normalizeFeedID(id)]
		if !ok {
			continue
		}
		sample, err := f.sample(id)
		if err != nil {
			c.logger.Warn("skipping malformed price feed", slog.String("feed", id), slog.String("error", err.Error()))
			continue
		}
		out[id] = sample
		if c.cache != nil {
			if err := c.cache.SetPrice(ctx, sample); err != nil {
				c.logger.Warn("price cache write failed", slog.String("feed", id), slog.String("error", err.Error()))
			}
		}
	}
	return out, nil
}

func normalizeFeedID(id string) string {
	if len(id) >= 2 && id[0] == '0' && (id[1] == 'x' || id[1] == 'X') {
		return id[2:]
	}
	return id
}
