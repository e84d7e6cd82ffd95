// Package weather implements the thin weather adapter of spec.md §4.7, in
// the same raw net/http client idiom the Telegram transport uses.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/maine/newsdigestbot/internal/news"
)

// Provider fetches the weather block content for one location.
type Provider interface {
	Snapshot(ctx context.Context, location string) (news.WeatherSnapshot, error)
}

// Client is a Provider backed by an OpenWeatherMap-compatible REST API.
type Client struct {
	apiKey string
	client *http.Client
	apiURL string

	mu      sync.RWMutex
	cache   map[string]cachedSnapshot
	ttl     time.Duration
	clock   func() time.Time
}

type cachedSnapshot struct {
	snap    news.WeatherSnapshot
	expires time.Time
}

var _ Provider = (*Client)(nil)

// NewClient builds a Client. apiKey is required; an empty key makes every
// call fail fast so the Assembler can fall back immediately.
func NewClient(apiKey string, ttl time.Duration, clock func() time.Time) *Client {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &Client{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
		apiURL: "https://api.openweathermap.org/data/2.5",
		cache:  make(map[string]cachedSnapshot),
		ttl:    ttl,
		clock:  clock,
	}
}

// Snapshot returns the cached or freshly fetched weather for location.
func (c *Client) Snapshot(ctx context.Context, location string) (news.WeatherSnapshot, error) {
	if c.apiKey == "" {
		return news.WeatherSnapshot{}, fmt.Errorf("weather provider not configured")
	}

	now := c.clock()
	c.mu.RLock()
	if cached, ok := c.cache[location]; ok && now.Before(cached.expires) {
		c.mu.RUnlock()
		return cached.snap, nil
	}
	c.mu.RUnlock()

	snap, err := c.fetch(ctx, location)
	if err != nil {
		return news.WeatherSnapshot{}, fmt.Errorf("weather snapshot: %w", err)
	}

	c.mu.Lock()
	c.cache[location] = cachedSnapshot{snap: snap, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return snap, nil
}

type weatherResponse struct {
	Main struct {
		TempMin float64 `json:"temp_min"`
		TempMax float64 `json:"temp_max"`
	} `json:"main"`
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
}

func (c *Client) fetch(ctx context.Context, location string) (news.WeatherSnapshot, error) {
	params := url.Values{}
	params.Set("q", location)
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")

	var body weatherResponse
	if err := c.get(ctx, "/weather", params, &body); err != nil {
		return news.WeatherSnapshot{}, err
	}

	condition := ""
	if len(body.Weather) > 0 {
		condition = body.Weather[0].Main
	}

	snap := news.WeatherSnapshot{
		TempMinC:  body.Main.TempMin,
		TempMaxC:  body.Main.TempMax,
		Condition: condition,
	}

	var air struct {
		List []struct {
			Main struct {
				AQI int `json:"aqi"`
			} `json:"main"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/air_pollution", params, &air); err == nil && len(air.List) > 0 {
		snap.AQI = air.List[0].Main.AQI
	}

	var uv struct {
		Value float64 `json:"value"`
	}
	if err := c.get(ctx, "/uvi", params, &uv); err == nil {
		snap.UV = uv.Value
	}

	return snap, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.apiURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("weather api status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
