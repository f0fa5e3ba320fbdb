package reader

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/pbaille/pagesync/internal/domain"
)

// ChapterLoad is a chapter's page list plus the background warm-up of
// every page after the first.
type ChapterLoad struct {
	Pages      []domain.PageMeta
	First      *WarmResult
	Background <-chan []WarmResult
}

// ChapterLoader lists a chapter and warms its pages. Only the most recent
// Load call delivers a result; older ones return domain.ErrCancelled.
type ChapterLoader struct {
	reconciler *Reconciler
	prefetch   *Prefetcher
	logger     *slog.Logger
	requests   atomic.Uint64
}

// NewChapterLoader creates a ChapterLoader
func NewChapterLoader(r *Reconciler, p *Prefetcher, logger *slog.Logger) *ChapterLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChapterLoader{reconciler: r, prefetch: p, logger: logger}
}

// Load reads the chapter's pages, warms the first page before returning
// so the reader opens on cached content, and warms the rest in the
// background.
func (c *ChapterLoader) Load(ctx context.Context, chapterSlug string) (*ChapterLoad, error) {
	id := c.requests.Add(1)

	pages, err := c.reconciler.ChapterPages(ctx, chapterSlug)
	if err != nil {
		c.logger.Error("chapter load failed", slog.String("chapter", chapterSlug), slog.String("error", err.Error()))
		return nil, err
	}
	if c.requests.Load() != id {
		return nil, domain.ErrCancelled
	}

	load := &ChapterLoad{Pages: pages}
	if len(pages) == 0 {
		return load, nil
	}

	refs := RefsOf(pages)
	first := c.prefetch.Warm(ctx, refs[:1])
	load.First = &first[0]
	load.Background = c.prefetch.WarmAsync(ctx, refs[1:])

	if c.requests.Load() != id {
		return nil, domain.ErrCancelled
	}
	return load, nil
}
