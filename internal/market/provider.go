// Package market implements the Crypto Intelligence Composer: price
// snapshots, AI-generated commentary and on-demand per-coin analysis.
package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/maine/newsdigestbot/internal/news"
)

// minCallInterval is the free-tier client-side rate limit of spec.md §6:
// at least 2s between calls to the market-data provider.
const minCallInterval = 2 * time.Second

// Candle is one OHLCV period of a coin's price history.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// DataProvider is the market-data upstream contract (spec.md §6's "Market
// data provider"). Implementations wrap whichever price API is configured.
type DataProvider interface {
	GlobalOverview(ctx context.Context) (totalCapUSD, totalVolumeUSD float64, fearGreed int, err error)
	Top200ByChange24h(ctx context.Context) ([]news.CoinQuote, error)
	IndexQuotes(ctx context.Context) ([]news.IndexQuote, error)
	Quote(ctx context.Context, symbol string) (news.CoinQuote, error)
	Candles(ctx context.Context, symbol string, days int) ([]Candle, error)
}

// restyProvider is a DataProvider backed by a CoinGecko-compatible REST API.
// Every call goes through a shared limiter enforcing the provider's free-tier
// minimum interval between requests.
type restyProvider struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// NewRestyProvider builds a DataProvider using go-resty against baseURL.
func NewRestyProvider(baseURL string, timeout time.Duration) DataProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &restyProvider{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(minCallInterval), 1),
	}
}

type marketsEntry struct {
	Symbol                    string  `json:"symbol"`
	CurrentPrice              float64 `json:"current_price"`
	PriceChangePercent24h     float64 `json:"price_change_percentage_24h"`
	PriceChangePercent1hCurr  float64 `json:"price_change_percentage_1h_in_currency"`
	PriceChangePercent7dCurr  float64 `json:"price_change_percentage_7d_in_currency"`
	PriceChangePercent30dCurr float64 `json:"price_change_percentage_30d_in_currency"`
	TotalVolume               float64 `json:"total_volume"`
}

func (p *restyProvider) GlobalOverview(ctx context.Context) (float64, float64, int, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("global overview: %w", err)
	}

	var body struct {
		Data struct {
			TotalMarketCap map[string]float64 `json:"total_market_cap"`
			TotalVolume    map[string]float64 `json:"total_volume"`
		} `json:"data"`
	}
	resp, err := p.client.R().SetContext(ctx).SetResult(&body).Get("/global")
	if err != nil {
		return 0, 0, 0, fmt.Errorf("global overview: %w", err)
	}
	if resp.IsError() {
		return 0, 0, 0, fmt.Errorf("global overview: upstream status %d", resp.StatusCode())
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return body.Data.TotalMarketCap["usd"], body.Data.TotalVolume["usd"], 0, nil
	}

	var fg struct {
		Data []struct {
			Value string `json:"value"`
		} `json:"data"`
	}
	if _, err := p.client.R().SetContext(ctx).SetResult(&fg).Get("/fear-and-greed"); err != nil {
		return body.Data.TotalMarketCap["usd"], body.Data.TotalVolume["usd"], 0, nil
	}

	fearGreed := 0
	if len(fg.Data) > 0 {
		fmt.Sscanf(fg.Data[0].Value, "%d", &fearGreed)
	}
	return body.Data.TotalMarketCap["usd"], body.Data.TotalVolume["usd"], fearGreed, nil
}

func (p *restyProvider) Top200ByChange24h(ctx context.Context) ([]news.CoinQuote, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("top200 by change: %w", err)
	}

	var entries []marketsEntry
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("vs_currency", "usd").
		SetQueryParam("order", "market_cap_desc").
		SetQueryParam("per_page", "200").
		SetQueryParam("page", "1").
		SetResult(&entries).
		Get("/coins/markets")
	if err != nil {
		return nil, fmt.Errorf("top200 by change: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("top200 by change: upstream status %d", resp.StatusCode())
	}

	out := make([]news.CoinQuote, 0, len(entries))
	for _, e := range entries {
		out = append(out, news.CoinQuote{
			Symbol:       e.Symbol,
			Price:        e.CurrentPrice,
			PctChange24h: e.PriceChangePercent24h,
			Volume24h:    e.TotalVolume,
		})
	}
	return out, nil
}

func (p *restyProvider) IndexQuotes(ctx context.Context) ([]news.IndexQuote, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("index quotes: %w", err)
	}

	var entries []struct {
		Name      string  `json:"name"`
		Value     float64 `json:"value"`
		PctChange float64 `json:"pct_change"`
	}
	resp, err := p.client.R().SetContext(ctx).SetResult(&entries).Get("/indices")
	if err != nil {
		return nil, fmt.Errorf("index quotes: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("index quotes: upstream status %d", resp.StatusCode())
	}

	out := make([]news.IndexQuote, 0, len(entries))
	for _, e := range entries {
		out = append(out, news.IndexQuote{Name: e.Name, Value: e.Value, PctChange: e.PctChange})
	}
	return out, nil
}

func (p *restyProvider) Quote(ctx context.Context, symbol string) (news.CoinQuote, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return news.CoinQuote{}, fmt.Errorf("quote %s: %w", symbol, err)
	}

	var entries []marketsEntry
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("vs_currency", "usd").
		SetQueryParam("symbols", symbol).
		SetQueryParam("price_change_percentage", "1h,7d,30d").
		SetResult(&entries).
		Get("/coins/markets")
	if err != nil {
		return news.CoinQuote{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if resp.IsError() {
		return news.CoinQuote{}, fmt.Errorf("quote %s: upstream status %d", symbol, resp.StatusCode())
	}
	if len(entries) == 0 {
		return news.CoinQuote{}, fmt.Errorf("quote %s: not found", symbol)
	}
	e := entries[0]
	return news.CoinQuote{
		Symbol:       e.Symbol,
		Price:        e.CurrentPrice,
		PctChange1h:  e.PriceChangePercent1hCurr,
		PctChange24h: e.PriceChangePercent24h,
		PctChange7d:  e.PriceChangePercent7dCurr,
		PctChange30d: e.PriceChangePercent30dCurr,
		Volume24h:    e.TotalVolume,
	}, nil
}

func (p *restyProvider) Candles(ctx context.Context, symbol string, days int) ([]Candle, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("candles %s: %w", symbol, err)
	}

	var raw [][5]float64 // [timestamp_ms, open, high, low, close] per provider's OHLC shape
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("vs_currency", "usd").
		SetQueryParam("days", fmt.Sprintf("%d", days)).
		SetResult(&raw).
		Get(fmt.Sprintf("/coins/%s/ohlc", symbol))
	if err != nil {
		return nil, fmt.Errorf("candles %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("candles %s: upstream status %d", symbol, resp.StatusCode())
	}

	out := make([]Candle, 0, len(raw))
	for _, row := range raw {
		out = append(out, Candle{
			Time:  time.UnixMilli(int64(row[0])),
			Open:  row[1],
			High:  row[2],
			Low:   row[3],
			Close: row[4],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// TopGainersLosers splits quotes into the top-n gainers and losers, dropping
// entries under minVolumeUSD (spec.md §4.4's dead-volume floor).
func TopGainersLosers(quotes []news.CoinQuote, n int, minVolumeUSD float64) (gainers, losers []news.CoinQuote) {
	filtered := make([]news.CoinQuote, 0, len(quotes))
	for _, q := range quotes {
		if q.Volume24h >= minVolumeUSD {
			filtered = append(filtered, q)
		}
	}

	byChangeDesc := append([]news.CoinQuote(nil), filtered...)
	sort.Slice(byChangeDesc, func(i, j int) bool { return byChangeDesc[i].PctChange24h > byChangeDesc[j].PctChange24h })
	if len(byChangeDesc) > n {
		gainers = byChangeDesc[:n]
	} else {
		gainers = byChangeDesc
	}

	byChangeAsc := append([]news.CoinQuote(nil), filtered...)
	sort.Slice(byChangeAsc, func(i, j int) bool { return byChangeAsc[i].PctChange24h < byChangeAsc[j].PctChange24h })
	if len(byChangeAsc) > n {
		losers = byChangeAsc[:n]
	} else {
		losers = byChangeAsc
	}
	return gainers, losers
}
