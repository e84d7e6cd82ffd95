package sources

import (
	"sort"
	"sync"
	"time"

	"github.com/maine/newsdigestbot/internal/news"
)

// defaultSourceTTL is the cache lifetime applied per source. gofeed does not
// surface a feed's advertised <ttl>/<sy:updatePeriod> in a normalized way
// across RSS and Atom, so the min(feed-advertised, 10min) rule of §4.1
// collapses to a flat 10 minutes here.
const defaultSourceTTL = 10 * time.Minute

// evictAfter bounds cache memory: items older than the fallback horizon plus
// slack are never eligible for selection, so there is no reason to keep them.
const evictAfter = 49 * time.Hour

// itemCache is the Feed Fetcher's in-memory, read-mostly item store. Writes
// go through a copy-on-update swap so readers never observe a partially
// built slice (§5 shared resource policy).
type itemCache struct {
	mu            sync.RWMutex
	byCategory    map[news.Category][]news.Item
	lastFetched   map[string]time.Time // source ID -> last successful fetch
	clock         func() time.Time
}

func newItemCache(clock func() time.Time) *itemCache {
	return &itemCache{
		byCategory:  make(map[news.Category][]news.Item),
		lastFetched: make(map[string]time.Time),
		clock:       clock,
	}
}

// dueForFetch reports whether sourceID's cache entry has expired.
func (c *itemCache) dueForFetch(sourceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	last, ok := c.lastFetched[sourceID]
	if !ok {
		return true
	}
	return c.clock().Sub(last) >= defaultSourceTTL
}

// merge folds newly fetched items for one source into the category's item
// set, replacing that source's previous items and evicting stale entries.
func (c *itemCache) merge(category news.Category, sourceID string, items []news.Item, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.byCategory[category]
	cutoff := fetchedAt.Add(-evictAfter)

	kept := make([]news.Item, 0, len(existing)+len(items))
	for _, it := range existing {
		if it.SourceID == sourceID {
			continue // replaced wholesale below
		}
		if it.PublishedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, it)
	}
	kept = append(kept, items...)

	c.byCategory[category] = kept
	c.lastFetched[sourceID] = fetchedAt
}

// recent returns cached items in the category with PublishedAt >= since,
// newest first.
func (c *itemCache) recent(category news.Category, since time.Time) []news.Item {
	c.mu.RLock()
	src := c.byCategory[category]
	out := make([]news.Item, 0, len(src))
	for _, it := range src {
		if !it.PublishedAt.Before(since) {
			out = append(out, it)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	return out
}
