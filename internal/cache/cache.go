package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"github.com/facebookgo/clock"

	"github.com/dpup/locationbar/server/internal/metrics"
)

// Cache provides thread-safe in-memory caching with TTL
type Cache struct {
	entries map[string]*CacheEntry
	mutex   sync.RWMutex
	clock   clock.Clock
}

// CacheEntry represents a cached item with metadata
type CacheEntry struct {
	Key       string        `json:"key"`
	Data      []byte        `json:"data"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	TTL       time.Duration `json:"ttl"`
	Source    string        `json:"source"`
}

// NewCache creates a new in-memory cache
func NewCache() *Cache {
	return NewCacheWithClock(clock.New())
}

// NewCacheWithClock creates a cache that reads time from c
func NewCacheWithClock(c clock.Clock) *Cache {
	return &Cache{
		entries: make(map[string]*CacheEntry),
		clock:   c,
	}
}

// Set stores data in cache for ttl
func (c *Cache) Set(key string, data interface{}, ttl time.Duration, source string) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data for cache: %w", err)
	}

	now := c.clock.Now()
	entry := &CacheEntry{
		Key:       key,
		Data:      jsonData,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		TTL:       ttl,
		Source:    source,
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = entry
	return nil
}

// Get retrieves data from cache if not stale
func (c *Cache) Get(key string, result interface{}) (bool, error) {
	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists || c.clock.Now().After(entry.ExpiresAt) {
		return false, nil
	}

	if err := json.Unmarshal(entry.Data, result); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}
	return true, nil
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.clock.Now()
	stats := CacheStats{
		TotalEntries: len(c.entries),
	}

	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			stats.StaleEntries++
		} else {
			stats.FreshEntries++
		}

		if stats.OldestEntry.IsZero() || entry.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = entry.CreatedAt
		}
	}

	return stats
}

// CleanupStale removes all stale entries from cache
func (c *Cache) CleanupStale() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.clock.Now()
	var removed int
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}

	return removed
}

// StartPeriodicCleanup starts a goroutine that periodically cleans up stale
// entries until ctx is done. Each tick publishes the cache statistics
// before removing stale entries.
func (c *Cache) StartPeriodicCleanup(ctx context.Context, interval time.Duration) {
	ctx = logging.EnsureLogger(ctx)
	ticker := c.clock.Ticker(interval)

	go func() {
		defer ticker.Stop()
		defer func() {
			// Recover from any panics in the cache cleanup goroutine
			if r := recover(); r != nil {
				err, _ := errors.ParseStack(debug.Stack())
				skipFrames := 3
				numFrames := 5
				logging.Errorw(ctx, "Cache cleanup: recovered from panic",
					"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.recordStats()
				if removed := c.CleanupStale(); removed > 0 {
					metrics.CacheEvictions.Add(float64(removed))
					logging.Debugw(ctx, "Cache cleanup: removed stale entries", "removed", removed)
				}
			}
		}
	}()
}

// CacheStats provides cache usage statistics
type CacheStats struct {
	TotalEntries int
	FreshEntries int
	StaleEntries int
	OldestEntry  time.Time
}

// Terrain sample caching

// SamplePrecision is the number of decimals lon/lat are rounded to when
// keying terrain samples, roughly a meter at the equator.
const SamplePrecision = 5

// SampleKey returns the cache key of a terrain sample at lon/lat
func SampleKey(longitude, latitude float64) string {
	scale := math.Pow(10, SamplePrecision)
	return fmt.Sprintf("terrain_sample:%.*f:%.*f",
		SamplePrecision, math.Round(longitude*scale)/scale,
		SamplePrecision, math.Round(latitude*scale)/scale)
}

// SetSample caches a terrain height in meters
func (c *Cache) SetSample(longitude, latitude, height float64, ttl time.Duration) error {
	return c.Set(SampleKey(longitude, latitude), height, ttl, "terrain_sample")
}

// GetSample retrieves a cached terrain height
func (c *Cache) GetSample(longitude, latitude float64) (float64, bool, error) {
	var height float64
	found, err := c.Get(SampleKey(longitude, latitude), &height)
	if err != nil || !found {
		return 0, false, err
	}
	return height, true, nil
}

func (c *Cache) recordStats() {
	stats := c.Stats()
	metrics.CacheEntries.WithLabelValues(metrics.CacheFresh).Set(float64(stats.FreshEntries))
	metrics.CacheEntries.WithLabelValues(metrics.CacheStale).Set(float64(stats.StaleEntries))

	var age float64
	if !stats.OldestEntry.IsZero() {
		age = c.clock.Now().Sub(stats.OldestEntry).Seconds()
	}
	metrics.CacheOldestEntryAge.Set(age)
}
