package selection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maine/newsdigestbot/internal/news"
)

type fakeFetcher struct {
	items []news.Item
}

func (f *fakeFetcher) Recent(category news.Category, since time.Time) []news.Item {
	var out []news.Item
	for _, it := range f.items {
		if it.Category == category && !it.PublishedAt.Before(since) {
			out = append(out, it)
		}
	}
	return out
}

type fakeDedup struct {
	seen map[string]bool
}

func (d *fakeDedup) HasSeen(ctx context.Context, chatID, fingerprint string) (bool, error) {
	return d.seen[chatID+"|"+fingerprint], nil
}

func mkItem(sourceID, fp string, published time.Time, reliability float64, estimated bool) news.Item {
	return news.Item{
		SourceID:      sourceID,
		Category:      news.CategoryTech,
		Title:         fp,
		Fingerprint:   fp,
		PublishedAt:   published,
		ReliabilityWt: reliability,
		TimeEstimated: estimated,
	}
}

func TestSelectReturnsExactlyFiveWithPlaceholders(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	f := &fakeFetcher{items: []news.Item{
		mkItem("s1", "fp1", now.Add(-30*time.Minute), 1.0, false),
		mkItem("s1", "fp2", now.Add(-45*time.Minute), 1.0, false),
	}}
	d := &fakeDedup{seen: map[string]bool{}}
	e := New(f, d, DefaultParams(), func() time.Time { return now })

	items, err := e.Select(context.Background(), "chat-1", news.CategoryTech)
	require.NoError(t, err)
	require.Len(t, items, 5)

	placeholders := 0
	for _, it := range items {
		if it.Placeholder {
			placeholders++
			require.Empty(t, it.Fingerprint)
		}
	}
	require.Equal(t, 3, placeholders)
}

func TestSelectExcludesSeenItems(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	items := make([]news.Item, 0, 6)
	for i := 0; i < 6; i++ {
		items = append(items, mkItem("s1", fmtFP(i), now.Add(-time.Duration(i)*time.Minute), 1.0, false))
	}
	f := &fakeFetcher{items: items}
	d := &fakeDedup{seen: map[string]bool{"chat-1|fp0": true}}
	e := New(f, d, Params{HorizonHours: 3, FallbackHorizonHours: 48, PerSourceCap: 10}, func() time.Time { return now })

	got, err := e.Select(context.Background(), "chat-1", news.CategoryTech)
	require.NoError(t, err)
	for _, it := range got {
		require.NotEqual(t, "fp0", it.Fingerprint)
	}
}

func TestSelectAppliesPerSourceCap(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	var items []news.Item
	for i := 0; i < 5; i++ {
		items = append(items, mkItem("same-source", fmtFP(i), now.Add(-time.Duration(i)*time.Minute), 1.0, false))
	}
	items = append(items, mkItem("other-source", "fp-other", now.Add(-time.Minute), 1.0, false))

	f := &fakeFetcher{items: items}
	d := &fakeDedup{seen: map[string]bool{}}
	e := New(f, d, Params{HorizonHours: 3, FallbackHorizonHours: 48, PerSourceCap: 3}, func() time.Time { return now })

	got, err := e.Select(context.Background(), "chat-1", news.CategoryTech)
	require.NoError(t, err)

	counts := map[string]int{}
	for _, it := range got {
		if !it.Placeholder {
			counts[it.SourceID]++
		}
	}
	require.LessOrEqual(t, counts["same-source"], 3)
}

func TestSelectFallsBackToWiderHorizon(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	var items []news.Item
	for i := 0; i < 5; i++ {
		items = append(items, mkItem(fmtFP(i), fmtFP(i), now.Add(-40*time.Hour), 1.0, false))
	}
	f := &fakeFetcher{items: items}
	d := &fakeDedup{seen: map[string]bool{}}
	e := New(f, d, DefaultParams(), func() time.Time { return now })

	got, err := e.Select(context.Background(), "chat-1", news.CategoryTech)
	require.NoError(t, err)

	nonPlaceholder := 0
	for _, it := range got {
		if !it.Placeholder {
			nonPlaceholder++
		}
	}
	require.Equal(t, 5, nonPlaceholder, "items within the fallback horizon should fill the digest")
}

func fmtFP(i int) string {
	return "fp" + string(rune('0'+i))
}
