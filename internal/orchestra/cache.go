package orchestra

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/antonk9218/fl-bidder/internal/ai"

	"go.uber.org/zap"
)

const cacheFile = "scoring_cache.json"

// Cache is the content-addressed scoring cache: an on-disk JSON map keyed
// by payload hash plus prompt hash, read-mostly, single writer per key.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry

	path   string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

type cacheEntry struct {
	Result ai.ScoreResult `json:"result"`
	Expiry time.Time      `json:"expiry"`
}

// NewCache loads the cache file under dataDir, dropping expired entries.
func NewCache(dataDir string, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}

	c := &Cache{
		entries: map[string]cacheEntry{},
		path:    filepath.Join(dataDir, cacheFile),
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
	c.load()

	return c
}

// Key derives the cache key from the normalized payload and the active
// prompt, so a prompt change invalidates all cached scores.
func Key(payload, prompt string) string {
	payloadHash := sha256.Sum256([]byte(payload))
	promptHash := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%x:%x", payloadHash[:], promptHash[:4])
}

func (c *Cache) Get(key string) (*ai.ScoreResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.Expiry) {
		delete(c.entries, key)
		return nil, false
	}

	result := entry.Result
	return &result, true
}

func (c *Cache) Set(key string, result *ai.ScoreResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		Result: *result,
		Expiry: c.now().Add(c.ttl),
	}
	c.save()
}

// load reads the cache file, silently starting empty when it is missing.
func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}

	var entries map[string]cacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("discarding unreadable scoring cache", zap.Error(err))
		return
	}

	now := c.now()
	for key, entry := range entries {
		if now.Before(entry.Expiry) {
			c.entries[key] = entry
		}
	}

	c.logger.Debug("scoring cache loaded", zap.Int("entries", len(c.entries)))
}

// save persists the cache. Caller holds the mutex.
func (c *Cache) save() {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.logger.Warn("creating cache directory failed", zap.Error(err))
		return
	}

	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		c.logger.Warn("writing scoring cache failed", zap.Error(err))
	}
}
