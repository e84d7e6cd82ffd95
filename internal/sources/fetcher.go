// Package sources implements the Feed Fetcher: concurrent polling of the
// static RSS/Atom catalogue, normalization into news.Item, and the
// read-mostly cache the Selection Engine queries.
package sources

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/maine/newsdigestbot/internal/health"
	"github.com/maine/newsdigestbot/internal/news"
)

const (
	fetchTimeout  = 10 * time.Second
	retryBackoff  = 2 * time.Second
	maxItemsKept  = 200 // per source, per refresh — the first entries in feed order
)

// Fetcher polls the catalogue and exposes the recent(category, since) query
// contract of spec.md §4.1.
type Fetcher struct {
	byCategory map[news.Category][]news.Source
	client     *http.Client

	cache *itemCache
	clock func() time.Time
	log   zerolog.Logger

	globalSem chan struct{}

	hostMu   sync.Mutex
	hostSems map[string]chan struct{}
	perHost  int

	statusMu sync.Mutex
	statuses map[string]*sourceStatus

	outageMu     sync.Mutex
	outageStreak map[news.Category]int

	metrics *health.Metrics // nil outside of main; every use is guarded
}

// NewFetcher builds a Fetcher over the given catalogue.
func NewFetcher(sources []news.Source, globalParallelism, perHostParallelism int, client *http.Client, clock func() time.Time, log zerolog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	if clock == nil {
		clock = time.Now
	}
	if globalParallelism <= 0 {
		globalParallelism = 16
	}
	if perHostParallelism <= 0 {
		perHostParallelism = 2
	}

	byCategory := make(map[news.Category][]news.Source)
	statuses := make(map[string]*sourceStatus)
	for _, s := range sources {
		if !s.Enabled {
			continue
		}
		byCategory[s.Category] = append(byCategory[s.Category], s)
		statuses[s.ID] = &sourceStatus{}
	}

	return &Fetcher{
		byCategory:   byCategory,
		client:       client,
		cache:        newItemCache(clock),
		clock:        clock,
		log:          log,
		globalSem:    make(chan struct{}, globalParallelism),
		hostSems:     make(map[string]chan struct{}),
		perHost:      perHostParallelism,
		statuses:     statuses,
		outageStreak: make(map[news.Category]int),
	}
}

// WithMetrics attaches a Prometheus metrics bundle to an already-built
// Fetcher. Optional; a nil m leaves metrics disabled.
func (f *Fetcher) WithMetrics(m *health.Metrics) *Fetcher {
	f.metrics = m
	return f
}

// Refresh fetches all enabled, ready sources of one category concurrently
// and merges the results into the cache. Individual source failures are
// logged and do not fail the batch.
func (f *Fetcher) Refresh(ctx context.Context, category news.Category) (int, error) {
	sources := f.byCategory[category]
	now := f.clock()

	due := make([]news.Source, 0, len(sources))
	for _, s := range sources {
		if !f.sourceReady(s.ID, now) {
			continue
		}
		if !f.cache.dueForFetch(s.ID) {
			continue
		}
		due = append(due, s)
	}
	if len(due) == 0 {
		return 0, nil
	}

	type result struct {
		source news.Source
		items  []news.Item
		err    error
	}
	results := make(chan result, len(due))

	var wg sync.WaitGroup
	for _, s := range due {
		wg.Add(1)
		go func(s news.Source) {
			defer wg.Done()
			f.globalSem <- struct{}{}
			defer func() { <-f.globalSem }()

			hostSem := f.hostSemaphore(s.URL)
			hostSem <- struct{}{}
			defer func() { <-hostSem }()

			items, err := f.fetchWithRetry(ctx, s, now)
			results <- result{source: s, items: items, err: err}
		}(s)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	total := 0
	failures := 0
	for r := range results {
		if f.metrics != nil {
			f.metrics.FetchAttempts.WithLabelValues(string(category)).Inc()
		}
		if r.err != nil {
			failures++
			f.log.Warn().Err(r.err).Str("source_id", r.source.ID).Msg("feed fetch failed")
			f.recordFailure(r.source.ID, now)
			if f.metrics != nil {
				f.metrics.FetchFailures.WithLabelValues(string(category)).Inc()
			}
			continue
		}
		f.recordSuccess(r.source.ID)
		f.cache.merge(category, r.source.ID, r.items, now)
		total += len(r.items)
	}

	f.trackOutage(category, len(due), failures)
	if f.metrics != nil {
		outage := 0.0
		if f.IsOutage(category) {
			outage = 1.0
		}
		f.metrics.CategoryOutage.WithLabelValues(string(category)).Set(outage)
	}
	return total, nil
}

// Recent implements selection.RecentSource's recent(category, since) contract.
func (f *Fetcher) Recent(category news.Category, since time.Time) []news.Item {
	return f.cache.recent(category, since)
}

// IsOutage reports whether all sources in a category have failed for two
// consecutive refresh cycles (UpstreamOutage, §4.1/§7).
func (f *Fetcher) IsOutage(category news.Category) bool {
	f.outageMu.Lock()
	defer f.outageMu.Unlock()
	return f.outageStreak[category] >= 2
}

func (f *Fetcher) trackOutage(category news.Category, attempted, failed int) {
	f.outageMu.Lock()
	defer f.outageMu.Unlock()
	if attempted > 0 && failed == attempted {
		f.outageStreak[category]++
	} else if attempted > 0 {
		f.outageStreak[category] = 0
	}
}

func (f *Fetcher) sourceReady(sourceID string, now time.Time) bool {
	f.statusMu.Lock()
	defer f.statusMu.Unlock()
	st := f.statuses[sourceID]
	if st == nil {
		return true
	}
	return st.ready(now)
}

func (f *Fetcher) recordSuccess(sourceID string) {
	f.statusMu.Lock()
	defer f.statusMu.Unlock()
	if st := f.statuses[sourceID]; st != nil {
		st.recordSuccess()
	}
}

func (f *Fetcher) recordFailure(sourceID string, now time.Time) {
	f.statusMu.Lock()
	defer f.statusMu.Unlock()
	if st := f.statuses[sourceID]; st != nil {
		st.recordTransientFailure(now)
	}
}

func (f *Fetcher) hostSemaphore(rawURL string) chan struct{} {
	host := hostOf(rawURL)

	f.hostMu.Lock()
	defer f.hostMu.Unlock()
	sem, ok := f.hostSems[host]
	if !ok {
		sem = make(chan struct{}, f.perHost)
		f.hostSems[host] = sem
	}
	return sem
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// fetchWithRetry fetches one source, retrying once after a fixed backoff on
// any fetch or parse error; transient and permanent failures are not told
// apart here.
func (f *Fetcher) fetchWithRetry(ctx context.Context, source news.Source, now time.Time) ([]news.Item, error) {
	items, err := f.fetchOne(ctx, source, now)
	if err == nil {
		return items, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(retryBackoff):
	}

	return f.fetchOne(ctx, source, now)
}

func (f *Fetcher) fetchOne(ctx context.Context, source news.Source, now time.Time) ([]news.Item, error) {
	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	parser := gofeed.NewParser()
	parser.Client = f.client
	feed, err := parser.ParseURLWithContext(source.URL, reqCtx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", source.ID, err)
	}

	items := feed.Items
	if len(items) > maxItemsKept {
		items = items[:maxItemsKept]
	}

	out := make([]news.Item, 0, len(items))
	for _, it := range items {
		title := cleanTitle(it.Title)
		link := strings.TrimSpace(it.Link)
		if title == "" || link == "" {
			continue
		}

		publishedAt := now
		estimated := true
		if it.PublishedParsed != nil {
			publishedAt = it.PublishedParsed.UTC()
			estimated = false
		} else if it.UpdatedParsed != nil {
			publishedAt = it.UpdatedParsed.UTC()
			estimated = false
		}

		out = append(out, news.Item{
			SourceID:      source.ID,
			Category:      source.Category,
			Title:         title,
			URL:           link,
			PublishedAt:   publishedAt,
			FetchedAt:     now,
			TimeEstimated: estimated,
			Fingerprint:   fingerprint(title, source.ID),
			ReliabilityWt: source.ReliabilityWeight,
		})
	}
	return out, nil
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)
var whitespaceRe = regexp.MustCompile(`\s+`)

// cleanTitle strips HTML and collapses whitespace, per spec.md §4.1.
func cleanTitle(raw string) string {
	stripped := htmlTagRe.ReplaceAllString(raw, "")
	unescaped := html.UnescapeString(stripped)
	collapsed := whitespaceRe.ReplaceAllString(unescaped, " ")
	return strings.TrimSpace(collapsed)
}

// fingerprint is the stable hash uniquely identifying a (title, source)
// pair, per spec.md §3.
func fingerprint(title, sourceID string) string {
	normalized := strings.ToLower(strings.TrimSpace(title))
	sum := sha1.Sum([]byte(normalized + "|" + sourceID))
	return hex.EncodeToString(sum[:])
}
