package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/maine/newsdigestbot/internal/ai"
	"github.com/maine/newsdigestbot/internal/news"
)

const commentaryTimeout = 3 * time.Second

// CommentaryScope resolves the §9 Open Question on whether AI commentary is
// generated once per slot for every recipient, or freshly per recipient.
type CommentaryScope string

const (
	ScopeGlobal       CommentaryScope = "global"
	ScopePerRecipient CommentaryScope = "per_recipient"
)

// Composer is the Crypto Intelligence Composer of spec.md §4.4.
type Composer struct {
	provider   DataProvider
	commentary ai.CommentaryGenerator
	clock      func() time.Time

	gainersLosersN int
	minVolumeUSD   float64
	snapshotTTL    time.Duration

	snapMu      sync.RWMutex
	cachedSnap  *news.MarketSnapshot
	snapExpires time.Time

	commentaryScope   CommentaryScope
	commentaryLimiter *rate.Limiter
	commentMu         sync.Mutex
	cachedCommentary  map[string]cachedText // key "" (global scope) or chatID
}

type cachedText struct {
	text    string
	expires time.Time
}

// NewComposer builds a Composer. commentary may be nil, in which case
// Commentary always falls back to the templated summary. An empty scope
// defaults to ScopeGlobal, matching the source's original behavior.
func NewComposer(provider DataProvider, commentary ai.CommentaryGenerator, gainersLosersN int, minVolumeUSD float64, snapshotTTL time.Duration, scope CommentaryScope, clock func() time.Time) *Composer {
	if gainersLosersN <= 0 {
		gainersLosersN = 5
	}
	if snapshotTTL <= 0 {
		snapshotTTL = 3 * time.Minute
	}
	if scope == "" {
		scope = ScopeGlobal
	}
	if clock == nil {
		clock = time.Now
	}
	return &Composer{
		provider:          provider,
		commentary:        commentary,
		clock:             clock,
		gainersLosersN:    gainersLosersN,
		minVolumeUSD:      minVolumeUSD,
		snapshotTTL:       snapshotTTL,
		commentaryScope:   scope,
		commentaryLimiter: rate.NewLimiter(rate.Every(30*time.Second), 1),
		cachedCommentary:  make(map[string]cachedText),
	}
}

// Snapshot returns the current market snapshot, cached for the composer's
// configured TTL (2-5 minutes per spec.md §4.4).
func (c *Composer) Snapshot(ctx context.Context) (news.MarketSnapshot, error) {
	now := c.clock()

	c.snapMu.RLock()
	if c.cachedSnap != nil && now.Before(c.snapExpires) {
		snap := *c.cachedSnap
		c.snapMu.RUnlock()
		return snap, nil
	}
	c.snapMu.RUnlock()

	capUSD, volUSD, fearGreed, err := c.provider.GlobalOverview(ctx)
	if err != nil {
		return news.MarketSnapshot{}, fmt.Errorf("upstream_unavailable: %w", err)
	}
	quotes, err := c.provider.Top200ByChange24h(ctx)
	if err != nil {
		return news.MarketSnapshot{}, fmt.Errorf("upstream_unavailable: %w", err)
	}
	indices, err := c.provider.IndexQuotes(ctx)
	if err != nil {
		indices = nil // index row is best-effort; absence doesn't void the rest of the snapshot
	}

	gainers, losers := TopGainersLosers(quotes, c.gainersLosersN, c.minVolumeUSD)
	snap := news.MarketSnapshot{
		TakenAt:        now,
		TotalCapUSD:    capUSD,
		TotalVolumeUSD: volUSD,
		FearGreedIndex: fearGreed,
		Gainers:        gainers,
		Losers:         losers,
		IndexQuotes:    indices,
	}

	c.snapMu.Lock()
	c.cachedSnap = &snap
	c.snapExpires = now.Add(c.snapshotTTL)
	c.snapMu.Unlock()

	return snap, nil
}

// Commentary produces a short sentiment line for the given snapshot,
// rate-limited to one AI call per 30s. chatID is ignored under ScopeGlobal
// (every recipient shares one cached result for its 30s lifetime); under
// ScopePerRecipient each chatID gets its own cache entry, still subject to
// the shared 30s rate limiter. Falls back to a deterministic template on
// error, timeout, or absence of a commentary generator.
func (c *Composer) Commentary(ctx context.Context, snap news.MarketSnapshot, chatID string) string {
	key := c.cacheKey(chatID)

	c.commentMu.Lock()
	now := c.clock()
	if cached, ok := c.cachedCommentary[key]; ok && now.Before(cached.expires) {
		c.commentMu.Unlock()
		return cached.text
	}
	c.commentMu.Unlock()

	if c.commentary == nil || !c.commentaryLimiter.Allow() {
		return fallbackCommentary(snap)
	}

	cctx, cancel := context.WithTimeout(ctx, commentaryTimeout)
	defer cancel()

	text, err := c.commentary.Generate(cctx, commentaryPrompt(snap))
	if err != nil {
		return fallbackCommentary(snap)
	}
	text = truncateWords(text, 80)

	c.commentMu.Lock()
	c.cachedCommentary[key] = cachedText{text: text, expires: now.Add(30 * time.Second)}
	c.commentMu.Unlock()
	return text
}

// cacheKey maps a recipient to its commentary cache slot per the configured
// scope: one shared slot under ScopeGlobal, one per chatID otherwise.
func (c *Composer) cacheKey(chatID string) string {
	if c.commentaryScope == ScopePerRecipient {
		return chatID
	}
	return ""
}

// truncateWords enforces the AI provider's 80-word cap (spec.md §6) when the
// model exceeds it.
func truncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + "…"
}

func commentaryPrompt(snap news.MarketSnapshot) string {
	var leader string
	if len(snap.Gainers) > 0 {
		leader = snap.Gainers[0].Symbol
	}
	return fmt.Sprintf(
		"In 80 words or fewer, summarize crypto market sentiment and give a 24h directional bias. "+
			"Total market cap $%.0f, 24h volume $%.0f, fear/greed index %d, top gainer %s.",
		snap.TotalCapUSD, snap.TotalVolumeUSD, snap.FearGreedIndex, leader,
	)
}

// fallbackCommentary derives a deterministic summary straight from the
// snapshot when the AI provider is unavailable, slow, or rate-limited.
func fallbackCommentary(snap news.MarketSnapshot) string {
	direction := "flat"
	if len(snap.Gainers) > 0 && snap.Gainers[0].PctChange24h > 0 {
		direction = "up"
	} else if len(snap.Losers) > 0 && snap.Losers[0].PctChange24h < 0 {
		direction = "down"
	}

	var leaders []string
	for _, g := range snap.Gainers {
		if len(leaders) >= 3 {
			break
		}
		leaders = append(leaders, g.Symbol)
	}

	if len(leaders) == 0 {
		return fmt.Sprintf("Markets %s. Fear/greed index at %d.", direction, snap.FearGreedIndex)
	}
	return fmt.Sprintf("Markets %s, gainers led by %s. Fear/greed index at %d.", direction, strings.Join(leaders, ", "), snap.FearGreedIndex)
}

// CoinDetail produces the on-demand per-symbol analysis of spec.md §4.4.
func (c *Composer) CoinDetail(ctx context.Context, symbol string) (news.CoinDetail, error) {
	quote, err := c.provider.Quote(ctx, symbol)
	if err != nil {
		return news.CoinDetail{}, fmt.Errorf("upstream_unavailable: %w", err)
	}
	candles, err := c.provider.Candles(ctx, symbol, 30)
	if err != nil {
		return news.CoinDetail{}, fmt.Errorf("upstream_unavailable: %w", err)
	}

	closes := make([]float64, 0, len(candles))
	for _, cd := range candles {
		closes = append(closes, cd.Close)
	}

	support, resistance := supportResistance(candles, 20)
	ma30 := movingAverage(closes, 30)
	rsi := rsi14(closes)
	volBand := classifyVolume(candles, quote.Volume24h)

	change7d := quote.PctChange7d
	if change7d == 0 {
		change7d = pctChangeOverCandles(closes, 7)
	}
	change30d := quote.PctChange30d
	if change30d == 0 {
		change30d = pctChangeOverCandles(closes, 30)
	}

	return news.CoinDetail{
		Symbol:     symbol,
		Price:      quote.Price,
		Change1h:   quote.PctChange1h,
		Change24h:  quote.PctChange24h,
		Change7d:   change7d,
		Change30d:  change30d,
		RSI14:      rsi,
		Support:    support,
		Resistance: resistance,
		Signal:     signal(quote.PctChange24h, rsi, quote.Price, ma30, volBand),
	}, nil
}

// pctChangeOverCandles computes the percent change over the last n daily
// candles, used as a fallback when the provider's quote response omits the
// corresponding price_change_percentage_*_in_currency field.
func pctChangeOverCandles(closes []float64, n int) float64 {
	if len(closes) <= n {
		return 0
	}
	start := closes[len(closes)-1-n]
	if start == 0 {
		return 0
	}
	end := closes[len(closes)-1]
	return (end - start) / start * 100
}
