// Package cache is the durable local store of page content keyed by slug.
//
// Content and its version stamp live in two namespaces but are always
// written together by one backend operation, so a reader sees either the
// old pair or the new pair. The cache is an optimization: every storage
// failure is absorbed here and reads as a miss.
package cache

import (
	"fmt"
	"log/slog"

	"github.com/pbaille/pagesync/internal/domain"
)

// Namespaces of the two logical key spaces.
const (
	ContentNamespace   = "content"
	UpdatedAtNamespace = "updated_at"
)

// Backend is a key-value store able to write a content/stamp pair atomically.
// Load reports ok=false when no content is stored for the slug.
type Backend interface {
	Load(slug string) (entry domain.CacheEntry, ok bool, err error)
	Save(entry domain.CacheEntry) error
	// SaveStamp sets the stamp only if content for slug already exists.
	SaveStamp(slug string, stamp domain.VersionStamp) error
	Close() error
}

// Store wraps a Backend and swallows its errors
type Store struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a Store over backend. A nil logger uses slog.Default().
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger.With(slog.String("component", "cache"))}
}

// Entry returns the cached content and stamp for slug from one snapshot.
func (s *Store) Entry(slug string) (domain.CacheEntry, bool) {
	if s == nil || s.backend == nil || slug == "" {
		return domain.CacheEntry{}, false
	}
	entry, ok, err := s.backend.Load(slug)
	if err != nil {
		s.absorb("read", slug, err)
		return domain.CacheEntry{}, false
	}
	return entry, ok
}

// Read returns the cached content for slug.
func (s *Store) Read(slug string) (string, bool) {
	entry, ok := s.Entry(slug)
	if !ok {
		return "", false
	}
	return entry.Content, true
}

// ReadVersionStamp returns the stamp stored with the cached content.
func (s *Store) ReadVersionStamp(slug string) (domain.VersionStamp, bool) {
	entry, ok := s.Entry(slug)
	if !ok || entry.VersionStamp == "" {
		return "", false
	}
	return entry.VersionStamp, true
}

// Write replaces the cached content and stamp for slug. An empty stamp
// clears the previous one.
func (s *Store) Write(slug, content string, stamp domain.VersionStamp) {
	if s == nil || s.backend == nil || slug == "" {
		return
	}
	err := s.backend.Save(domain.CacheEntry{Slug: slug, Content: content, VersionStamp: stamp})
	if err != nil {
		s.absorb("write", slug, err)
	}
}

// WriteVersionStamp records a stamp discovered after the content was
// cached. It is a no-op when no content is cached for slug.
func (s *Store) WriteVersionStamp(slug string, stamp domain.VersionStamp) {
	if s == nil || s.backend == nil || slug == "" || stamp == "" {
		return
	}
	if err := s.backend.SaveStamp(slug, stamp); err != nil {
		s.absorb("write stamp", slug, err)
	}
}

// Close closes the backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func (s *Store) absorb(op, slug string, err error) {
	s.logger.Debug("cache "+op+" failed",
		slog.String("slug", slug),
		slog.String("error", fmt.Errorf("%w: %w", domain.ErrStorage, err).Error()),
	)
}
