package ics

import (
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"famcal/internal/model"
)

const (
	DefaultParseCacheSize = 24
	fingerprintEdge       = 120
)

// ParseCache memoizes parsed feeds keyed by feed identity and a cheap content
// fingerprint (length plus head and tail). Lookups use Peek so reads never
// change recency; only Put moves an entry to the newest position. Eviction is
// therefore oldest-insertion-first, and re-inserting a key refreshes it.
//
// A miss is always safe. Cached slices are shared: callers must not mutate
// returned events in place.
type ParseCache struct {
	entries *lru.Cache[string, []model.Event]
}

// NewParseCache returns a cache holding at most size entries. Non-positive
// sizes use DefaultParseCacheSize.
func NewParseCache(size int) *ParseCache {
	if size <= 0 {
		size = DefaultParseCacheSize
	}
	c, err := lru.New[string, []model.Event](size)
	if err != nil {
		// Only returned for non-positive sizes, ruled out above.
		panic(err)
	}
	return &ParseCache{entries: c}
}

func (c *ParseCache) Get(feedID, text string) ([]model.Event, bool) {
	return c.entries.Peek(cacheKey(feedID, text))
}

func (c *ParseCache) Put(feedID, text string, events []model.Event) {
	c.entries.Add(cacheKey(feedID, text), events)
}

func (c *ParseCache) Len() int {
	return c.entries.Len()
}

func cacheKey(feedID, text string) string {
	head := text
	if len(head) > fingerprintEdge {
		head = head[:fingerprintEdge]
	}
	tail := text
	if len(tail) > fingerprintEdge {
		tail = tail[len(tail)-fingerprintEdge:]
	}
	return feedID + "|" + strconv.Itoa(len(text)) + "|" + head + "|" + tail
}
