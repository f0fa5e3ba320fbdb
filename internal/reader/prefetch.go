package reader

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pbaille/pagesync/internal/cache"
	"github.com/pbaille/pagesync/internal/domain"
)

// DefaultPrefetchLimit bounds concurrent prefetch requests.
const DefaultPrefetchLimit = 4

// PageRef names a page and the stamp the record store last reported for it.
type PageRef struct {
	Slug         string
	VersionStamp domain.VersionStamp
}

// RefsOf converts page metadata into prefetch refs
func RefsOf(pages []domain.PageMeta) []PageRef {
	refs := make([]PageRef, 0, len(pages))
	for _, p := range pages {
		refs = append(refs, PageRef{Slug: p.Slug, VersionStamp: p.UpdatedAt})
	}
	return refs
}

// WarmResult is the outcome for one prefetched page.
type WarmResult struct {
	Slug    string
	Fetched bool
	Err     error
}

// Prefetcher warms the cache for pages the reader has not opened yet. It
// never opens a load cycle and never touches view state.
type Prefetcher struct {
	cache   *cache.Store
	fetcher ContentFetcher
	writer  *Writer
	limit   int
	logger  *slog.Logger
}

// NewPrefetcher creates a Prefetcher. limit <= 0 uses DefaultPrefetchLimit.
func NewPrefetcher(c *cache.Store, f ContentFetcher, w *Writer, limit int, logger *slog.Logger) *Prefetcher {
	if limit <= 0 {
		limit = DefaultPrefetchLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefetcher{cache: c, fetcher: f, writer: w, limit: limit, logger: logger}
}

// Warm checks every ref concurrently and fetches the stale ones. One
// failure never stops the others; results come back in ref order.
func (p *Prefetcher) Warm(ctx context.Context, refs []PageRef) []WarmResult {
	results := make([]WarmResult, len(refs))
	sem := make(chan struct{}, p.limit)

	var wg sync.WaitGroup
	for i, ref := range refs {
		results[i].Slug = ref.Slug
		if ref.Slug == "" {
			continue
		}
		entry, cached := p.cache.Entry(ref.Slug)
		if !Stale(entry, cached, ref.VersionStamp) {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i].Err = domain.ErrCancelled
				return
			}
			defer func() { <-sem }()
			results[i] = p.warmOne(ctx, ref)
		}()
	}
	wg.Wait()

	return results
}

// WarmAsync runs Warm in the background. The channel yields the results
// once and is then closed.
func (p *Prefetcher) WarmAsync(ctx context.Context, refs []PageRef) <-chan []WarmResult {
	out := make(chan []WarmResult, 1)
	go func() {
		defer close(out)
		out <- p.Warm(ctx, refs)
	}()
	return out
}

func (p *Prefetcher) warmOne(ctx context.Context, ref PageRef) WarmResult {
	text, err := p.fetcher.Fetch(ctx, ref.Slug)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrCancelled) {
			level = slog.LevelDebug
		}
		p.logger.Log(ctx, level, "prefetch failed",
			slog.String("slug", ref.Slug),
			slog.String("error", err.Error()),
		)
		return WarmResult{Slug: ref.Slug, Err: err}
	}

	p.writer.Store(ref.Slug, text, ref.VersionStamp)
	return WarmResult{Slug: ref.Slug, Fetched: true}
}
