package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore implements Store on Redis. The payload lives under
// <prefix><key> with a native TTL; metadata lives in a small JSON blob at
// <prefix><key>:meta so Stats never has to fetch payloads.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

const metaSuffix = ":meta"

// NewRedisStore creates a Redis-backed cache store.
func NewRedisStore(client *redis.Client, prefix string, defaultTTL time.Duration, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "tileproxy:cache:"
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		defaultTTL: defaultTTL,
		logger:     logger,
		now:        time.Now,
	}
}

type redisMeta struct {
	ContentType string `json:"content_type"`
	FetchedAt   int64  `json:"fetched_at"`
	TTLSeconds  int64  `json:"ttl_seconds"`
}

// Get returns the entry for key; Redis TTL enforces expiry, so a present
// payload is by definition fresh.
func (s *RedisStore) Get(key Key) (*Entry, bool) {
	if !key.Valid() {
		return nil, false
	}
	ctx := context.Background()
	full := s.prefix + key.String()

	payload, err := s.client.Get(ctx, full).Bytes()
	if err != nil {
		return nil, false
	}

	meta := redisMeta{
		ContentType: "application/octet-stream",
		FetchedAt:   s.now().Unix(),
		TTLSeconds:  int64(s.defaultTTL / time.Second),
	}
	if data, err := s.client.Get(ctx, full+metaSuffix).Bytes(); err == nil {
		var parsed redisMeta
		if json.Unmarshal(data, &parsed) == nil && parsed.ContentType != "" {
			meta = parsed
		}
	}

	return &Entry{
		Payload:     payload,
		ContentType: meta.ContentType,
		FetchedAt:   time.Unix(meta.FetchedAt, 0),
		TTL:         time.Duration(meta.TTLSeconds) * time.Second,
	}, true
}

// Put stores payload and metadata with the given TTL.
func (s *RedisStore) Put(key Key, payload []byte, contentType string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	ctx := context.Background()
	full := s.prefix + key.String()

	meta, err := json.Marshal(redisMeta{
		ContentType: contentType,
		FetchedAt:   s.now().Unix(),
		TTLSeconds:  int64(ttl / time.Second),
	})
	if err != nil {
		return &StorageError{Op: "put", Key: key.String(), Err: err}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, full, payload, ttl)
	pipe.Set(ctx, full+metaSuffix, meta, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return &StorageError{Op: "put", Key: key.String(), Err: err}
	}
	return nil
}

// Invalidate removes one entry and its metadata.
func (s *RedisStore) Invalidate(key Key) bool {
	return s.InvalidateRaw(key.String()) > 0
}

// InvalidateRaw removes by flattened key; a value naming a {style}_{source}
// group removes every entry with that prefix (SCAN, never KEYS).
func (s *RedisStore) InvalidateRaw(raw string) int {
	if raw == "" {
		return 0
	}
	ctx := context.Background()
	full := s.prefix + raw

	// Exact entry first.
	n, err := s.client.Del(ctx, full, full+metaSuffix).Result()
	if err == nil && n > 0 {
		return 1
	}
	// Group prefix: style_source group keys all start with "<group>_".
	return s.deleteByPattern(ctx, full+"_*")
}

// InvalidateAll clears every entry under the store prefix.
func (s *RedisStore) InvalidateAll() int {
	return s.deleteByPattern(context.Background(), s.prefix+"*")
}

func (s *RedisStore) deleteByPattern(ctx context.Context, pattern string) int {
	var cursor uint64
	total := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			s.logger.Warn("cache scan failed", zap.Error(err))
			break
		}
		cursor = next
		if len(keys) > 0 {
			_, _ = s.client.Del(ctx, keys...).Result()
			// Count payloads only; each entry also has a :meta key.
			for _, k := range keys {
				if !strings.HasSuffix(k, metaSuffix) {
					total++
				}
			}
		}
		if cursor == 0 {
			break
		}
	}
	return total
}

// Stats scans key sizes via STRLEN and ages via the metadata blobs; payloads
// are never transferred.
func (s *RedisStore) Stats() (Stats, error) {
	ctx := context.Background()
	var stats Stats
	var oldest int64

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 1000).Result()
		if err != nil {
			return Stats{}, &StorageError{Op: "stats", Key: s.prefix, Err: err}
		}
		cursor = next
		for _, k := range keys {
			if strings.HasSuffix(k, metaSuffix) {
				if data, err := s.client.Get(ctx, k).Bytes(); err == nil {
					var meta redisMeta
					if json.Unmarshal(data, &meta) == nil && meta.FetchedAt > 0 {
						if oldest == 0 || meta.FetchedAt < oldest {
							oldest = meta.FetchedAt
						}
					}
				}
				continue
			}
			stats.EntryCount++
			if size, err := s.client.StrLen(ctx, k).Result(); err == nil {
				stats.TotalBytes += size
			}
		}
		if cursor == 0 {
			break
		}
	}
	if oldest > 0 {
		stats.OldestEntryAge = int64(s.now().Sub(time.Unix(oldest, 0)) / time.Second)
	}
	return stats, nil
}
