package reader

import (
	"github.com/pbaille/pagesync/internal/cache"
	"github.com/pbaille/pagesync/internal/cycle"
	"github.com/pbaille/pagesync/internal/domain"
)

// Writer is the only path by which a page view's load reaches the cache.
type Writer struct {
	cache  *cache.Store
	cycles *cycle.Controller
}

// NewWriter creates a Writer gated by cycles
func NewWriter(c *cache.Store, cycles *cycle.Controller) *Writer {
	return &Writer{cache: c, cycles: cycles}
}

// Commit writes content and stamp for slug if cy is still active, and
// reports whether it did. A late response is dropped here.
func (w *Writer) Commit(cy *cycle.Cycle, slug, content string, stamp domain.VersionStamp) bool {
	return w.cycles.WhileActive(cy, func() {
		w.cache.Write(slug, content, stamp)
	})
}

// Store writes without a cycle. Used by prefetch and the editor.
func (w *Writer) Store(slug, content string, stamp domain.VersionStamp) {
	w.cache.Write(slug, content, stamp)
}
