package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/pbaille/pagesync/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultRedisTimeout = 2 * time.Second

// saveStampScript sets KEYS[2] only while KEYS[1] exists.
var saveStampScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("SET", KEYS[2], ARGV[1])
end
return false
`)

// Redis is a Backend shared across processes through a Redis server.
// Keys are namespaced as {prefix}:{namespace}:{slug}.
type Redis struct {
	rdb     *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedis creates a Redis backend. prefix must not be empty.
func NewRedis(opts *redis.Options, prefix string) (*Redis, error) {
	if prefix == "" {
		return nil, fmt.Errorf("key prefix cannot be empty")
	}
	return &Redis{
		rdb:     redis.NewClient(opts),
		prefix:  prefix,
		timeout: defaultRedisTimeout,
	}, nil
}

// Ping verifies Redis connectivity
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Load(slug string) (domain.CacheEntry, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	// MGET reads both namespaces atomically.
	values, err := r.rdb.MGet(ctx, r.key(ContentNamespace, slug), r.key(UpdatedAtNamespace, slug)).Result()
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("failed to read cache entry from Redis: %w", err)
	}
	content, ok := values[0].(string)
	if !ok {
		return domain.CacheEntry{}, false, nil
	}
	stamp, _ := values[1].(string)
	return domain.CacheEntry{Slug: slug, Content: content, VersionStamp: domain.VersionStamp(stamp)}, true, nil
}

func (r *Redis) Save(entry domain.CacheEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	stampKey := r.key(UpdatedAtNamespace, entry.Slug)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(ContentNamespace, entry.Slug), entry.Content, 0)
		if entry.VersionStamp == "" {
			pipe.Del(ctx, stampKey)
		} else {
			pipe.Set(ctx, stampKey, string(entry.VersionStamp), 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write cache entry to Redis: %w", err)
	}
	return nil
}

func (r *Redis) SaveStamp(slug string, stamp domain.VersionStamp) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	keys := []string{r.key(ContentNamespace, slug), r.key(UpdatedAtNamespace, slug)}
	err := saveStampScript.Run(ctx, r.rdb, keys, string(stamp)).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to write stamp to Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) key(namespace, slug string) string {
	return r.prefix + ":" + namespace + ":" + slug
}
