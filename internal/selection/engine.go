// Package selection implements the Selection Engine: picking exactly five
// items for a (chat, category) request from the Feed Fetcher's cache,
// filtered against the Dedup Store and ranked by recency and reliability.
package selection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/maine/newsdigestbot/internal/news"
)

const itemsPerCategory = 5

// SeenChecker is the Dedup Store's read contract, narrowed to what the
// engine needs.
type SeenChecker interface {
	HasSeen(ctx context.Context, chatID, fingerprint string) (bool, error)
}

// RecentSource is the Feed Fetcher's read contract.
type RecentSource interface {
	Recent(category news.Category, since time.Time) []news.Item
}

// Params carries the engine's tunables, sourced from config.Pipeline.
type Params struct {
	HorizonHours         int
	FallbackHorizonHours int
	PerSourceCap         int
}

// DefaultParams matches spec.md §4.3's defaults.
func DefaultParams() Params {
	return Params{HorizonHours: 3, FallbackHorizonHours: 48, PerSourceCap: 3}
}

// Engine is the Selection Engine.
type Engine struct {
	fetcher RecentSource
	dedup   SeenChecker
	params  Params
	clock   func() time.Time
}

// New builds an Engine.
func New(fetcher RecentSource, dedup SeenChecker, params Params, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{fetcher: fetcher, dedup: dedup, params: params, clock: clock}
}

// Select returns exactly five items for (chatID, category), in display
// order, padding with CategoryStarved placeholders when the catalogue
// can't supply enough fresh, undelivered items.
func (e *Engine) Select(ctx context.Context, chatID string, category news.Category) ([]news.Item, error) {
	now := e.clock()

	items, err := e.candidates(ctx, chatID, category, now, e.params.HorizonHours)
	if err != nil {
		return nil, err
	}
	if len(items) < itemsPerCategory {
		wider, err := e.candidates(ctx, chatID, category, now, e.params.FallbackHorizonHours)
		if err != nil {
			return nil, err
		}
		items = wider
	}

	ranked := rank(items, now, e.params.HorizonHours)
	capped := applyPerSourceCap(ranked, e.params.PerSourceCap)

	if len(capped) > itemsPerCategory {
		capped = capped[:itemsPerCategory]
	}
	for len(capped) < itemsPerCategory {
		capped = append(capped, placeholder(category, now))
	}
	return capped, nil
}

func (e *Engine) candidates(ctx context.Context, chatID string, category news.Category, now time.Time, horizonHours int) ([]news.Item, error) {
	since := now.Add(-time.Duration(horizonHours) * time.Hour)
	raw := e.fetcher.Recent(category, since)

	out := make([]news.Item, 0, len(raw))
	for _, it := range raw {
		seen, err := e.dedup.HasSeen(ctx, chatID, it.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("selection: has_seen: %w", err)
		}
		if seen {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// scored pairs an item with its ranking score for a stable final sort.
type scored struct {
	item  news.Item
	score float64
}

func rank(items []news.Item, now time.Time, horizonHours int) []news.Item {
	withScores := make([]scored, len(items))
	for i, it := range items {
		withScores[i] = scored{item: it, score: rankingScore(it, now, horizonHours)}
	}

	sort.SliceStable(withScores, func(i, j int) bool {
		a, b := withScores[i], withScores[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.item.PublishedAt.Equal(b.item.PublishedAt) {
			return a.item.PublishedAt.After(b.item.PublishedAt)
		}
		return a.item.SourceID < b.item.SourceID
	})

	out := make([]news.Item, len(withScores))
	for i, s := range withScores {
		out[i] = s.item
	}
	return out
}

// rankingScore implements spec.md §4.3's formula.
func rankingScore(it news.Item, now time.Time, horizonHours int) float64 {
	ageHours := now.Sub(it.PublishedAt).Hours()
	recency := 1 - ageHours/float64(horizonHours)
	if recency < 0 {
		recency = 0
	}

	estimatedPenalty := 0.0
	if it.TimeEstimated {
		estimatedPenalty = 1.0
	}

	return recency*0.6 + it.ReliabilityWt*0.3 - estimatedPenalty*0.1
}

// applyPerSourceCap drops items beyond the per-source_id cap, preserving
// rank order.
func applyPerSourceCap(ranked []news.Item, cap int) []news.Item {
	if cap <= 0 {
		return ranked
	}
	counts := make(map[string]int, len(ranked))
	out := make([]news.Item, 0, len(ranked))
	for _, it := range ranked {
		if counts[it.SourceID] >= cap {
			continue
		}
		counts[it.SourceID]++
		out = append(out, it)
	}
	return out
}

// placeholder fills a CategoryStarved slot. Placeholders carry no
// fingerprint and are never passed to mark_sent.
func placeholder(category news.Category, now time.Time) news.Item {
	return news.Item{
		Category:    category,
		Placeholder: true,
		FetchedAt:   now,
		PublishedAt: now,
	}
}
