package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maine/newsdigestbot/internal/news"
)

type fakeProvider struct {
	quotes      []news.CoinQuote
	callsGlobal int
	err         error
}

func (p *fakeProvider) GlobalOverview(ctx context.Context) (float64, float64, int, error) {
	p.callsGlobal++
	if p.err != nil {
		return 0, 0, 0, p.err
	}
	return 1_000_000, 50_000, 60, nil
}

func (p *fakeProvider) Top200ByChange24h(ctx context.Context) ([]news.CoinQuote, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.quotes, nil
}

func (p *fakeProvider) IndexQuotes(ctx context.Context) ([]news.IndexQuote, error) {
	return nil, nil
}

func (p *fakeProvider) Quote(ctx context.Context, symbol string) (news.CoinQuote, error) {
	for _, q := range p.quotes {
		if q.Symbol == symbol {
			return q, nil
		}
	}
	return news.CoinQuote{}, errors.New("not found")
}

func (p *fakeProvider) Candles(ctx context.Context, symbol string, days int) ([]Candle, error) {
	now := time.Now()
	var out []Candle
	price := 100.0
	for i := days; i >= 0; i-- {
		out = append(out, Candle{Time: now.Add(-time.Duration(i) * 24 * time.Hour), Open: price, High: price + 5, Low: price - 5, Close: price, Volume: 1000})
		price += 1
	}
	return out, nil
}

func TestSnapshotCachesWithinTTL(t *testing.T) {
	p := &fakeProvider{quotes: []news.CoinQuote{
		{Symbol: "BTC", PctChange24h: 5, Volume24h: 1_000_000},
		{Symbol: "ETH", PctChange24h: -3, Volume24h: 900_000},
	}}
	now := time.Now()
	c := NewComposer(p, nil, 5, 0, time.Minute, ScopeGlobal, func() time.Time { return now })

	snap1, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	snap2, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	require.Equal(t, snap1, snap2)
	require.Equal(t, 1, p.callsGlobal)
}

func TestSnapshotErrorsSurfaceAsUpstreamUnavailable(t *testing.T) {
	p := &fakeProvider{err: errors.New("boom")}
	c := NewComposer(p, nil, 5, 0, time.Minute, ScopeGlobal, time.Now)

	_, err := c.Snapshot(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "upstream_unavailable")
}

func TestCommentaryFallsBackWithoutGenerator(t *testing.T) {
	p := &fakeProvider{quotes: []news.CoinQuote{{Symbol: "BTC", PctChange24h: 5, Volume24h: 1_000_000}}}
	c := NewComposer(p, nil, 5, 0, time.Minute, ScopeGlobal, time.Now)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	text := c.Commentary(context.Background(), snap, "chat-1")
	require.Contains(t, text, "Markets")
}

type fakeCommentary struct{ calls int }

func (f *fakeCommentary) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return "bullish", nil
}

func TestCommentaryPerRecipientScopeCachesSeparately(t *testing.T) {
	p := &fakeProvider{quotes: []news.CoinQuote{{Symbol: "BTC", PctChange24h: 5, Volume24h: 1_000_000}}}
	gen := &fakeCommentary{}
	c := NewComposer(p, gen, 5, 0, time.Minute, ScopePerRecipient, time.Now)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	first := c.Commentary(context.Background(), snap, "chat-1")
	repeat := c.Commentary(context.Background(), snap, "chat-1")
	require.Equal(t, first, repeat)
	require.Equal(t, 1, gen.calls, "repeat call for the same chat must reuse its cache entry")

	// chat-2 has no cache entry of its own; the shared 30s rate limiter (just
	// consumed by chat-1) denies a fresh AI call, so it falls back rather than
	// incorrectly reusing chat-1's cached text.
	second := c.Commentary(context.Background(), snap, "chat-2")
	require.NotEqual(t, first, second)
	require.Equal(t, 1, gen.calls)
}

func TestCoinDetailComputesSignal(t *testing.T) {
	p := &fakeProvider{quotes: []news.CoinQuote{{Symbol: "BTC", Price: 130, PctChange24h: 5, Volume24h: 1000}}}
	c := NewComposer(p, nil, 5, 0, time.Minute, ScopeGlobal, time.Now)

	detail, err := c.CoinDetail(context.Background(), "BTC")
	require.NoError(t, err)
	require.Equal(t, "BTC", detail.Symbol)
	require.NotEmpty(t, detail.Signal)
}

func TestTopGainersLosersFiltersDeadVolume(t *testing.T) {
	quotes := []news.CoinQuote{
		{Symbol: "A", PctChange24h: 10, Volume24h: 100},
		{Symbol: "B", PctChange24h: 8, Volume24h: 10_000},
		{Symbol: "C", PctChange24h: -10, Volume24h: 10_000},
	}
	gainers, losers := TopGainersLosers(quotes, 5, 1000)
	require.Len(t, gainers, 2)
	require.Len(t, losers, 2)
	for _, g := range gainers {
		require.NotEqual(t, "A", g.Symbol)
	}
}
