package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/personal/banner-lifecycle/pkg/monitoring"
)

const (
	publishedKeyPrefix  = "banner:published:"
	generationKeyPrefix = "banner:published-gen:"

	defaultL1MaxItems = 64
)

// setIfCurrentScript writes a listing only while the category generation
// still matches the one the reader observed before loading it
var setIfCurrentScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// PublishedCache is a two-level cache for storefront listings: an in-process
// L1 in front of a shared Redis L2. Values are stored as JSON so callers
// never share decoded slices.
//
// Every Invalidate bumps a per-category generation. Readers take the
// generation with Version before loading from the store and hand it back to
// Set, which drops the write if an invalidation happened in between.
type PublishedCache struct {
	redis  *redis.Client
	l1     *sync.Map
	config *PublishedCacheConfig
	stats  *CacheStats

	genMu sync.Mutex
	gens  map[string]int64 // last generation seen by this process
}

type PublishedCacheConfig struct {
	L1TTL      time.Duration // in-process copy lifetime, bounds cross-process staleness
	L2TTL      time.Duration // Redis copy lifetime
	L1MaxItems int
	EnableL1   bool
	EnableL2   bool
}

type CacheStats struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
	Misses   int64 // lookups no level could answer
	mutex    sync.RWMutex
}

type cacheItem struct {
	data      []byte
	expiresAt time.Time
}

// NewPublishedCache creates a new storefront listing cache. A nil redis
// client disables the L2 level.
func NewPublishedCache(redisClient *redis.Client, config *PublishedCacheConfig) *PublishedCache {
	if config == nil {
		config = &PublishedCacheConfig{
			L1TTL:      5 * time.Second,
			L2TTL:      time.Minute,
			L1MaxItems: 64,
			EnableL1:   true,
			EnableL2:   true,
		}
	}
	if redisClient == nil {
		config.EnableL2 = false
	}
	if config.L1MaxItems <= 0 {
		config.L1MaxItems = defaultL1MaxItems
	}

	return &PublishedCache{
		redis:  redisClient,
		l1:     &sync.Map{},
		config: config,
		stats:  &CacheStats{},
		gens:   make(map[string]int64),
	}
}

func publishedKey(category string) string {
	return publishedKeyPrefix + category
}

func generationKey(category string) string {
	return generationKeyPrefix + category
}

func (c *PublishedCache) localGeneration(category string) int64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.gens[category]
}

// advance moves the local generation forward, never back, and drops the
// L1 copy under the same lock storeL1 checks against
func (c *PublishedCache) advance(category string, gen int64) {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	if gen <= c.gens[category] {
		gen = c.gens[category] + 1
	}
	c.gens[category] = gen
	c.l1.Delete(publishedKey(category))
}

// storeL1 keeps data locally unless category moved past version
func (c *PublishedCache) storeL1(category string, version int64, data []byte) {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	if c.gens[category] > version {
		return
	}
	c.setL1(publishedKey(category), data)
}

// Get decodes the cached listing of category into dest and reports whether it was found
func (c *PublishedCache) Get(ctx context.Context, category string, dest interface{}) (bool, error) {
	key := publishedKey(category)

	if c.config.EnableL1 {
		if item, ok := c.l1.Load(key); ok {
			cached := item.(*cacheItem)
			if time.Now().Before(cached.expiresAt) {
				c.stats.recordL1Hit()
				return true, json.Unmarshal(cached.data, dest)
			}
			c.l1.Delete(key)
		}
		c.stats.recordL1Miss()
	}

	if c.config.EnableL2 {
		gen := c.localGeneration(category)
		start := time.Now()
		data, err := c.redis.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			monitoring.RecordRedisCommand("get", time.Since(start), err)
			return false, fmt.Errorf("failed to read listing from L2 cache: %w", err)
		}
		monitoring.RecordRedisCommand("get", time.Since(start), nil)

		if err == nil {
			if err := json.Unmarshal(data, dest); err == nil {
				c.stats.recordL2Hit()
				if c.config.EnableL1 {
					c.storeL1(category, gen, data)
				}
				return true, nil
			}
		}
		c.stats.recordL2Miss()
	}

	c.stats.recordMiss()
	return false, nil
}

// Version returns the current generation of category's listing
func (c *PublishedCache) Version(ctx context.Context, category string) (int64, error) {
	if !c.config.EnableL2 {
		return c.localGeneration(category), nil
	}

	start := time.Now()
	gen, err := c.redis.Get(ctx, generationKey(category)).Int64()
	if err == redis.Nil {
		gen, err = 0, nil
	}
	monitoring.RecordRedisCommand("get", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to read listing generation: %w", err)
	}
	return gen, nil
}

// Set stores the listing of category in every enabled level, unless the
// category was invalidated after version was read. A skipped write is not
// an error.
func (c *PublishedCache) Set(ctx context.Context, category string, version int64, value interface{}) error {
	key := publishedKey(category)

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal listing: %w", err)
	}

	if c.config.EnableL2 {
		start := time.Now()
		stored, err := setIfCurrentScript.Run(ctx, c.redis,
			[]string{generationKey(category), key},
			version, data, c.config.L2TTL.Milliseconds(),
		).Int()
		monitoring.RecordRedisCommand("evalsha", time.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to set listing in L2 cache: %w", err)
		}
		if stored == 0 {
			return nil
		}
	}

	if c.config.EnableL1 {
		c.storeL1(category, version, data)
	}

	return nil
}

// Invalidate drops the listings of the given categories
func (c *PublishedCache) Invalidate(ctx context.Context, categories ...string) error {
	if len(categories) == 0 {
		return nil
	}

	keys := make([]string, 0, len(categories))
	for _, category := range categories {
		keys = append(keys, publishedKey(category))
	}

	if !c.config.EnableL2 {
		for _, category := range categories {
			c.advance(category, 0)
		}
		return nil
	}

	incrs := make([]*redis.IntCmd, 0, len(categories))
	start := time.Now()
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, category := range categories {
			incrs = append(incrs, pipe.Incr(ctx, generationKey(category)))
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	monitoring.RecordRedisCommand("multi", time.Since(start), err)

	for i, category := range categories {
		var gen int64
		if err == nil {
			gen = incrs[i].Val()
		}
		c.advance(category, gen)
	}
	if err != nil {
		return fmt.Errorf("failed to invalidate L2 cache: %w", err)
	}
	return nil
}

// GetStats returns a copy of the hit counters
func (c *PublishedCache) GetStats() CacheStats {
	c.stats.mutex.RLock()
	defer c.stats.mutex.RUnlock()

	return CacheStats{
		L1Hits:   c.stats.L1Hits,
		L1Misses: c.stats.L1Misses,
		L2Hits:   c.stats.L2Hits,
		L2Misses: c.stats.L2Misses,
		Misses:   c.stats.Misses,
	}
}

// CleanupExpired removes expired L1 entries
func (c *PublishedCache) CleanupExpired() {
	if !c.config.EnableL1 {
		return
	}

	now := time.Now()
	c.l1.Range(func(key, value interface{}) bool {
		if now.After(value.(*cacheItem).expiresAt) {
			c.l1.Delete(key)
		}
		return true
	})
}

func (c *PublishedCache) setL1(key string, data []byte) {
	size := 0
	c.l1.Range(func(_, _ interface{}) bool {
		size++
		return size < c.config.L1MaxItems
	})

	// Listings are keyed by category so the bound is rarely hit
	if size >= c.config.L1MaxItems {
		c.l1.Range(func(k, _ interface{}) bool {
			c.l1.Delete(k)
			size--
			return size >= c.config.L1MaxItems*9/10
		})
	}

	c.l1.Store(key, &cacheItem{
		data:      data,
		expiresAt: time.Now().Add(c.config.L1TTL),
	})
}

func (s *CacheStats) recordL1Hit() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.L1Hits++
}

func (s *CacheStats) recordL1Miss() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.L1Misses++
}

func (s *CacheStats) recordL2Hit() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.L2Hits++
}

func (s *CacheStats) recordL2Miss() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.L2Misses++
}

func (s *CacheStats) recordMiss() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Misses++
}

// CalculateHitRatio calculates overall cache hit ratio
func (s *CacheStats) CalculateHitRatio() float64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	hits := s.L1Hits + s.L2Hits
	total := hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
