package store

import (
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/verdant-labs/verdant/collect"
)

// Cache holds the latest result and rolling summary per source with a
// configurable TTL. Satisfies collect.Cache.
type Cache struct {
	cache *gocache.Cache
}

// NewCache creates a cache. Entries expire after ttl; expired entries are
// purged at twice the TTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{cache: gocache.New(ttl, 2*ttl)}
}

func latestKey(sourceID string, sourceType collect.SourceType) string {
	return fmt.Sprintf("collection:%s:%s:latest", sourceID, sourceType)
}

func summaryKey(sourceID string, sourceType collect.SourceType) string {
	return fmt.Sprintf("summary:%s:%s", sourceID, sourceType)
}

// SetLatest stores the most recent collection result for a source.
func (c *Cache) SetLatest(sourceID string, sourceType collect.SourceType, res *collect.CollectionResult) {
	c.cache.SetDefault(latestKey(sourceID, sourceType), res)
}

// Latest returns the most recent unexpired result for a source.
func (c *Cache) Latest(sourceID string, sourceType collect.SourceType) (*collect.CollectionResult, bool) {
	v, ok := c.cache.Get(latestKey(sourceID, sourceType))
	if !ok {
		return nil, false
	}
	return v.(*collect.CollectionResult), true
}

// SetSummary stores the rolling per-source digest.
func (c *Cache) SetSummary(sourceID string, sourceType collect.SourceType, summary json.RawMessage) {
	c.cache.SetDefault(summaryKey(sourceID, sourceType), summary)
}

// Summary returns the unexpired digest for a source.
func (c *Cache) Summary(sourceID string, sourceType collect.SourceType) (json.RawMessage, bool) {
	v, ok := c.cache.Get(summaryKey(sourceID, sourceType))
	if !ok {
		return nil, false
	}
	return v.(json.RawMessage), true
}
