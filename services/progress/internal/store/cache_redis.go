package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/course-platform/internal/platform/metrics"
	"github.com/example/course-platform/internal/progress"
)

const redisCachePrefix = "progress:record:"

// DefaultCacheTTL bounds how long a cached record may lag the database.
const DefaultCacheTTL = 5 * time.Minute

// setIfNewer stores a record hash {u: updatedAt micros, d: json} unless the
// cached entry is already newer, so a slow writer cannot replace a later
// record with its older one.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'u')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'u', ARGV[1], 'd', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Cached is a read-through, write-through Redis cache in front of a
// Repository. Writes are ordered by the record's UpdatedAt. Redis failures
// are logged and bypassed.
type Cached struct {
	next   Repository
	client redis.UniversalClient
	ttl    time.Duration
	log    *zap.Logger
}

func NewCached(next Repository, client redis.UniversalClient, ttl time.Duration, log *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cached{next: next, client: client, ttl: ttl, log: log}
}

// cacheKey length-prefixes the user id so no pair of ids shares a key.
func cacheKey(userID, videoID string) string {
	return redisCachePrefix + strconv.Itoa(len(userID)) + ":" + userID + ":" + videoID
}

func (c *Cached) Get(ctx context.Context, userID, videoID string) (progress.Record, error) {
	key := cacheKey(userID, videoID)
	data, err := c.client.HGet(ctx, key, "d").Bytes()
	switch {
	case err == nil:
		var rec progress.Record
		if jerr := json.Unmarshal(data, &rec); jerr == nil {
			metrics.CacheHitsTotal.Inc()
			return rec, nil
		}
		c.log.Warn("progress cache: corrupt entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("progress cache: get failed", zap.String("key", key), zap.Error(err))
	}
	metrics.CacheMissesTotal.Inc()

	rec, err := c.next.Get(ctx, userID, videoID)
	if err != nil {
		return rec, err
	}
	c.set(ctx, rec)
	return rec, nil
}

func (c *Cached) Commit(ctx context.Context, userID, videoID string, cm progress.Commit) (Result, error) {
	res, err := c.next.Commit(ctx, userID, videoID, cm)
	if err != nil {
		return res, err
	}
	c.set(ctx, res.Record)
	return res, nil
}

// List is served by the underlying repository.
func (c *Cached) List(ctx context.Context, userID string, limit int, cursor *Cursor) ([]progress.Record, error) {
	return c.next.List(ctx, userID, limit, cursor)
}

func (c *Cached) set(ctx context.Context, rec progress.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	key := cacheKey(rec.UserID, rec.VideoID)
	err = setIfNewer.Run(ctx, c.client, []string{key}, rec.UpdatedAt.UnixMicro(), data, c.ttl.Milliseconds()).Err()
	if err != nil {
		c.log.Warn("progress cache: set failed", zap.String("key", key), zap.Error(err))
	}
}

// Ping checks the cache connection.
func (c *Cached) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ Repository = (*Cached)(nil)
