// Package config loads pagesync settings from PAGESYNC_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/pbaille/pagesync/internal/cache"
)

// Config holds every setting the CLI and server read at startup.
type Config struct {
	ContentURL string `env:"PAGESYNC_CONTENT_URL" envDefault:"http://localhost:8080/content"`
	APIURL     string `env:"PAGESYNC_API_URL" envDefault:"http://localhost:8080/api"`

	Cache       string `env:"PAGESYNC_CACHE" envDefault:"bolt"`
	CachePath   string `env:"PAGESYNC_CACHE_PATH"`
	RedisAddr   string `env:"PAGESYNC_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPrefix string `env:"PAGESYNC_REDIS_PREFIX" envDefault:"pagesync"`

	DBPath     string `env:"PAGESYNC_DB"`
	ContentDir string `env:"PAGESYNC_CONTENT_DIR"`
	Addr       string `env:"PAGESYNC_ADDR" envDefault:":8080"`

	LogLevel      string        `env:"PAGESYNC_LOG_LEVEL" envDefault:"info"`
	HTTPTimeout   time.Duration `env:"PAGESYNC_HTTP_TIMEOUT" envDefault:"30s"`
	PrefetchLimit int           `env:"PAGESYNC_PREFETCH_LIMIT" envDefault:"4"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and fills file paths left empty with
// locations under home.
func Load(home string) (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	base := filepath.Join(home, ".pagesync")
	if cfg.CachePath == "" {
		cfg.CachePath = filepath.Join(base, "cache.db")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(base, "pagesync.db")
	}
	if cfg.ContentDir == "" {
		cfg.ContentDir = filepath.Join(base, "pages")
	}
	return cfg, nil
}

// CacheOptions returns the cache backend selection.
func (c Config) CacheOptions() cache.Options {
	return cache.Options{
		Kind:        c.Cache,
		Path:        c.CachePath,
		RedisAddr:   c.RedisAddr,
		RedisPrefix: c.RedisPrefix,
	}
}

// Level parses LogLevel
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

// EnsureDir creates the parent directory of path.
func EnsureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	return nil
}
