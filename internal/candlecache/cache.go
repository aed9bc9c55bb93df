// Package candlecache is a file-backed cache for historical OHLCV ranges.
// Each cached range is one JSON file under the cache dir, with a shared
// metadata.json tracking entry ages for TTL eviction.
package candlecache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/marketclock"
)

// ttl per interval, in seconds. Unknown intervals fall back to one hour.
var intervalTTL = map[string]time.Duration{
	"1m":       time.Hour,
	"3m":       time.Hour,
	"5m":       time.Hour,
	"minute":   time.Hour,
	"15m":      2 * time.Hour,
	"30m":      4 * time.Hour,
	"1h":       8 * time.Hour,
	"60minute": 8 * time.Hour,
	"1d":       24 * time.Hour,
	"day":      24 * time.Hour,
}

const defaultTTL = time.Hour

// TTLFor returns the freshness window for an interval.
func TTLFor(interval string) time.Duration {
	if ttl, ok := intervalTTL[interval]; ok {
		return ttl
	}
	return defaultTTL
}

// entryMeta is one record in metadata.json.
type entryMeta struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	Source   string    `json:"source"`
	CachedAt time.Time `json:"cached_at"`
	RowCount int       `json:"row_count"`
	FileSize int64     `json:"file_size"`
}

// Stats summarizes cache effectiveness since process start.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Writes        int64   `json:"writes"`
	Invalidations int64   `json:"invalidations"`
	HitRate       float64 `json:"hit_rate"`
	TotalEntries  int     `json:"total_entries"`
	TotalSize     int64   `json:"total_size_bytes"`
}

// Cache serializes all metadata mutation behind one mutex; candle files are
// only ever written whole, so readers need no coordination beyond it.
type Cache struct {
	dir   string
	clock marketclock.Clock
	log   zerolog.Logger

	mu            sync.Mutex
	meta          map[string]entryMeta
	hits          int64
	misses        int64
	writes        int64
	invalidations int64
}

// New opens (or creates) a cache rooted at dir and loads metadata.json.
func New(dir string, clock marketclock.Clock, log zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating cache dir %s: %w", dir, err)
	}
	c := &Cache{
		dir:   dir,
		clock: clock,
		log:   log.With().Str("component", "candle_cache").Logger(),
		meta:  make(map[string]entryMeta),
	}
	if err := c.loadMeta(); err != nil {
		// A corrupt metadata file means ages are unknown; start fresh rather
		// than serve stale candles.
		c.log.Warn().Err(err).Msg("metadata unreadable, resetting cache")
		c.meta = make(map[string]entryMeta)
	}
	return c, nil
}

// cacheKey builds `{symbol}_{interval}_{hash12}`. Daily intervals collapse
// timestamps to dates so a request at any time of day hits the same entry.
func cacheKey(symbol, interval string, from, to time.Time, source string) string {
	layout := "2006-01-02_15:04"
	if !domain.IsIntradayInterval(interval) {
		layout = "2006-01-02"
	}
	raw := strings.Join([]string{
		from.In(marketclock.IST).Format(layout),
		to.In(marketclock.IST).Format(layout),
		source,
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s_%s_%s", symbol, interval, hex.EncodeToString(sum[:])[:12])
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get returns the cached candles for a range, or (nil, false) on miss or
// when the entry is older than its interval TTL.
func (c *Cache) Get(symbol, interval string, from, to time.Time, source string) ([]domain.Candle, bool) {
	key := cacheKey(symbol, interval, from, to, source)

	c.mu.Lock()
	meta, ok := c.meta[key]
	if !ok || c.clock.Now().Sub(meta.CachedAt) > TTLFor(interval) {
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	c.mu.Unlock()

	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		c.mu.Lock()
		c.misses++
		delete(c.meta, key)
		c.mu.Unlock()
		return nil, false
	}
	var candles []domain.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("corrupt cache entry, dropping")
		c.mu.Lock()
		c.misses++
		delete(c.meta, key)
		c.mu.Unlock()
		_ = os.Remove(c.entryPath(key))
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return candles, true
}

// Set writes a range to disk and records its metadata. Empty slices are a
// no-op so a provider outage never caches an empty result.
func (c *Cache) Set(symbol, interval string, from, to time.Time, source string, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	key := cacheKey(symbol, interval, from, to, source)

	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("error marshaling candles for %s: %w", key, err)
	}
	if err := os.WriteFile(c.entryPath(key), data, 0o644); err != nil {
		return fmt.Errorf("error writing cache entry %s: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta[key] = entryMeta{
		Symbol:   symbol,
		Interval: interval,
		Source:   source,
		CachedAt: c.clock.Now(),
		RowCount: len(candles),
		FileSize: int64(len(data)),
	}
	c.writes++
	return c.saveMetaLocked()
}

// Invalidate removes entries matching the given filters. Zero-value filters
// match everything, so Invalidate("", "", 0) behaves like ClearAll.
func (c *Cache) Invalidate(symbol, interval string, olderThanHours int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Time{}
	if olderThanHours > 0 {
		cutoff = c.clock.Now().Add(-time.Duration(olderThanHours) * time.Hour)
	}

	removed := 0
	for key, meta := range c.meta {
		if symbol != "" && meta.Symbol != symbol {
			continue
		}
		if interval != "" && meta.Interval != interval {
			continue
		}
		if !cutoff.IsZero() && !meta.CachedAt.Before(cutoff) {
			continue
		}
		_ = os.Remove(c.entryPath(key))
		delete(c.meta, key)
		removed++
	}
	c.invalidations += int64(removed)
	if removed > 0 {
		if err := c.saveMetaLocked(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// ClearAll drops every entry.
func (c *Cache) ClearAll() (int, error) {
	return c.Invalidate("", "", 0)
}

// GetStats snapshots the hit/miss counters and on-disk footprint.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var size int64
	for _, meta := range c.meta {
		size += meta.FileSize
	}
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Writes:        c.writes,
		Invalidations: c.invalidations,
		HitRate:       rate,
		TotalEntries:  len(c.meta),
		TotalSize:     size,
	}
}

func (c *Cache) metaPath() string {
	return filepath.Join(c.dir, "metadata.json")
}

func (c *Cache) loadMeta() error {
	data, err := os.ReadFile(c.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &c.meta)
}

// saveMetaLocked rewrites metadata.json via rename so a crash mid-write
// never leaves a truncated file. Caller holds c.mu.
func (c *Cache) saveMetaLocked() error {
	data, err := json.MarshalIndent(c.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling cache metadata: %w", err)
	}
	tmp := c.metaPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("error writing cache metadata: %w", err)
	}
	if err := os.Rename(tmp, c.metaPath()); err != nil {
		return fmt.Errorf("error replacing cache metadata: %w", err)
	}
	return nil
}
