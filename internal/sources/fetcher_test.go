package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/maine/newsdigestbot/internal/news"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Feed</title>
<item><title>First &amp; Foremost &lt;b&gt;headline&lt;/b&gt;</title><link>https://example.com/1</link><pubDate>Fri, 31 Jul 2026 10:04:05 GMT</pubDate></item>
<item><title>Second headline</title><link>https://example.com/2</link></item>
</channel></rss>`

const sampleAtom = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>Feed</title>
<entry><title>Atom headline</title><link href="https://example.org/1"/><updated>2026-07-31T10:04:05Z</updated></entry>
</feed>`

func testClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestFetcherRefreshParsesRSSAndAtom(t *testing.T) {
	rssSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))
	defer rssSrv.Close()
	atomSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleAtom))
	}))
	defer atomSrv.Close()

	sites := []news.Source{
		{ID: "rss-1", Category: news.CategoryTech, URL: rssSrv.URL, Enabled: true, ReliabilityWeight: 1.0},
		{ID: "atom-1", Category: news.CategoryTech, URL: atomSrv.URL, Enabled: true, ReliabilityWeight: 0.8},
	}

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	f := NewFetcher(sites, 4, 2, rssSrv.Client(), testClock(now), zerolog.Nop())

	n, err := f.Refresh(context.Background(), news.CategoryTech)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	items := f.Recent(news.CategoryTech, now.Add(-24*time.Hour))
	require.Len(t, items, 3)

	byTitle := map[string]news.Item{}
	for _, it := range items {
		byTitle[it.Title] = it
	}

	first, ok := byTitle["First & Foremost headline"]
	require.True(t, ok, "expected HTML-stripped, entity-unescaped title")
	require.False(t, first.TimeEstimated)
	require.NotEmpty(t, first.Fingerprint)

	second, ok := byTitle["Second headline"]
	require.True(t, ok)
	require.True(t, second.TimeEstimated, "missing pubDate should fall back to fetch time")
	require.Equal(t, now, second.PublishedAt)

	atomItem, ok := byTitle["Atom headline"]
	require.True(t, ok)
	require.False(t, atomItem.TimeEstimated)
}

func TestFetcherDiscardsEntriesMissingTitleOrLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<rss version="2.0"><channel><title>F</title>
<item><title></title><link>https://example.com/x</link></item>
<item><title>No link here</title></item>
</channel></rss>`))
	}))
	defer srv.Close()

	sites := []news.Source{{ID: "s1", Category: news.CategoryGlobal, URL: srv.URL, Enabled: true}}
	f := NewFetcher(sites, 1, 1, srv.Client(), testClock(time.Now()), zerolog.Nop())

	n, err := f.Refresh(context.Background(), news.CategoryGlobal)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestFetcherRetriesOnceOnFailure(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	sites := []news.Source{{ID: "s1", Category: news.CategoryLocal, URL: srv.URL, Enabled: true}}
	f := NewFetcher(sites, 1, 1, srv.Client(), testClock(time.Now()), zerolog.Nop())

	n, err := f.Refresh(context.Background(), news.CategoryLocal)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestFetcherTracksOutageAfterTwoFailedCycles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sites := []news.Source{{ID: "s1", Category: news.CategorySports, URL: srv.URL, Enabled: true}}
	now := time.Now()
	clock := &mutableClock{t: now}
	f := NewFetcher(sites, 1, 1, srv.Client(), clock.now, zerolog.Nop())

	_, _ = f.Refresh(context.Background(), news.CategorySports)
	require.False(t, f.IsOutage(news.CategorySports), "one failed cycle is not yet an outage")

	clock.t = clock.t.Add(defaultSourceTTL + time.Minute)
	_, _ = f.Refresh(context.Background(), news.CategorySports)
	require.True(t, f.IsOutage(news.CategorySports))
}

type mutableClock struct{ t time.Time }

func (c *mutableClock) now() time.Time { return c.t }
