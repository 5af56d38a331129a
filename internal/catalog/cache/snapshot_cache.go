// Package cache keeps the most recent fetched catalog in Redis so repeated
// refresh cycles inside the TTL window skip the remote round trip, and so a
// failed fetch can fall back to the last good snapshot.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cfp-titulos/titulos-backend/internal/catalog/domain"
)

const (
	summariesKey = "catalog:summaries"           // fresh snapshot, expires after TTL
	lastGoodKey  = "catalog:summaries:last_good" // fallback snapshot, no expiry
)

// SnapshotCache caches raw summary records. A nil *SnapshotCache is a valid
// no-op cache, so callers don't branch on whether Redis is configured.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache creates a cache over an existing Redis client.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

// Get returns the fresh snapshot, or ok=false on miss or any cache error.
func (c *SnapshotCache) Get(ctx context.Context) ([]domain.RawRecord, bool) {
	return c.get(ctx, summariesKey)
}

// LastGood returns the most recent successfully fetched snapshot, however
// old, for fallback after a failed fetch.
func (c *SnapshotCache) LastGood(ctx context.Context) ([]domain.RawRecord, bool) {
	return c.get(ctx, lastGoodKey)
}

func (c *SnapshotCache) get(ctx context.Context, key string) ([]domain.RawRecord, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("[warn] operation=cache_get key=%s error=%v", key, err)
		return nil, false
	}

	var records []domain.RawRecord
	if err := json.Unmarshal(data, &records); err != nil {
		log.Printf("[warn] operation=cache_get key=%s error=%v", key, err)
		return nil, false
	}
	return records, true
}

// Set stores a freshly fetched snapshot under both keys. Cache write
// failures are non-fatal; the refresh cycle already has its data.
func (c *SnapshotCache) Set(ctx context.Context, records []domain.RawRecord) error {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal catalog snapshot: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, summariesKey, data, c.ttl)
	pipe.Set(ctx, lastGoodKey, data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache catalog snapshot: %w", err)
	}
	return nil
}
