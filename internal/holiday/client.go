// Package holiday implements the thin holiday-lookup adapter of spec.md
// §4.7, mirroring the Telegram transport's raw net/http client idiom.
package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Provider reports whether a given date is a public holiday in country.
type Provider interface {
	IsHoliday(ctx context.Context, country string, date time.Time) (name string, isHoliday bool, err error)
}

// Client is a Provider backed by a Nager.Date-compatible REST API.
type Client struct {
	apiKey string
	client *http.Client
	apiURL string

	mu    sync.RWMutex
	cache map[string]yearHolidays
}

type yearHolidays struct {
	byDate  map[string]string // "2026-01-01" -> holiday name
	expires time.Time
}

var _ Provider = (*Client)(nil)

// NewClient builds a Client. apiKey may be empty for providers that don't
// require one.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
		apiURL: "https://date.nager.at/api/v3",
		cache:  make(map[string]yearHolidays),
	}
}

// IsHoliday reports whether date is a public holiday in country, caching
// the full year's calendar on first lookup.
func (c *Client) IsHoliday(ctx context.Context, country string, date time.Time) (string, bool, error) {
	key := fmt.Sprintf("%s-%d", country, date.Year())

	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(cached.expires) {
		fresh, err := c.fetchYear(ctx, country, date.Year())
		if err != nil {
			return "", false, fmt.Errorf("holiday lookup: %w", err)
		}
		c.mu.Lock()
		c.cache[key] = fresh
		c.mu.Unlock()
		cached = fresh
	}

	name, found := cached.byDate[date.Format("2006-01-02")]
	return name, found, nil
}

func (c *Client) fetchYear(ctx context.Context, country string, year int) (yearHolidays, error) {
	var entries []struct {
		Date      string `json:"date"`
		LocalName string `json:"localName"`
	}

	u := fmt.Sprintf("%s/PublicHolidays/%d/%s", c.apiURL, year, url.PathEscape(country))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return yearHolidays{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return yearHolidays{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return yearHolidays{}, fmt.Errorf("holiday api status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return yearHolidays{}, err
	}

	byDate := make(map[string]string, len(entries))
	for _, e := range entries {
		byDate[e.Date] = e.LocalName
	}
	return yearHolidays{byDate: byDate, expires: time.Now().Add(24 * time.Hour)}, nil
}
