package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Backend kinds accepted by OpenBackend.
const (
	KindMemory = "memory"
	KindBolt   = "bolt"
	KindRedis  = "redis"
)

// Options selects and configures a backend
type Options struct {
	Kind        string
	Path        string
	RedisAddr   string
	RedisPrefix string
}

// OpenBackend opens the backend named by opts.Kind.
func OpenBackend(opts Options) (Backend, error) {
	switch opts.Kind {
	case "", KindMemory:
		return NewMemory(), nil
	case KindBolt:
		return OpenBolt(opts.Path)
	case KindRedis:
		prefix := opts.RedisPrefix
		if prefix == "" {
			prefix = "pagesync"
		}
		return NewRedis(&redis.Options{Addr: opts.RedisAddr}, prefix)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", opts.Kind)
	}
}
