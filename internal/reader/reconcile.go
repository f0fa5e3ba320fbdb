// Package reader keeps a page view's content in step with the record
// store and the blob store, using the local cache for instant paint.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pbaille/pagesync/internal/domain"
)

// ContentFetcher retrieves raw page markdown. Implementations return
// domain.ErrCancelled when ctx ends first.
type ContentFetcher interface {
	Fetch(ctx context.Context, slug string) (string, error)
}

// RecordStore reads page metadata. Asking for a column the schema lacks
// yields domain.ErrUndefinedColumn.
type RecordStore interface {
	SelectPage(ctx context.Context, slug string, columns []string) (domain.PageMeta, error)
	SelectChapterPages(ctx context.Context, chapterSlug string, columns []string) ([]domain.PageMeta, error)
}

// NeedsFetch reports whether content cached under the cached stamp must be
// refetched given the record store's fresh stamp. A missing fresh stamp
// cannot prove the cache stale.
func NeedsFetch(cached, fresh domain.VersionStamp) bool {
	if cached == "" {
		return true
	}
	if fresh == "" {
		return false
	}
	return cached != fresh
}

// Stale applies NeedsFetch to a cache lookup result.
func Stale(entry domain.CacheEntry, cached bool, fresh domain.VersionStamp) bool {
	return !cached || NeedsFetch(entry.VersionStamp, fresh)
}

// Reconciliation is the outcome of comparing a cached stamp with the record store.
type Reconciliation struct {
	Meta                 domain.PageMeta
	VersionStamp         domain.VersionStamp
	RequiresContentFetch bool
}

// Reconciler decides whether cached page content is stale
type Reconciler struct {
	records RecordStore
	logger  *slog.Logger
}

// NewReconciler creates a Reconciler reading from records
func NewReconciler(records RecordStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{records: records, logger: logger}
}

// Reconcile reads the current stamp for slug and compares it with cached.
// On error nothing is decided; callers keep showing what they have.
func (r *Reconciler) Reconcile(ctx context.Context, slug string, cached domain.VersionStamp) (Reconciliation, error) {
	meta, err := r.selectPage(ctx, slug)
	if err != nil {
		return Reconciliation{}, err
	}
	return Reconciliation{
		Meta:                 meta,
		VersionStamp:         meta.UpdatedAt,
		RequiresContentFetch: NeedsFetch(cached, meta.UpdatedAt),
	}, nil
}

// ChapterPages lists a chapter's pages with the same is_free fallback.
func (r *Reconciler) ChapterPages(ctx context.Context, chapterSlug string) ([]domain.PageMeta, error) {
	pages, err := r.records.SelectChapterPages(ctx, chapterSlug, domain.ChapterPageColumns)
	if errors.Is(err, domain.ErrUndefinedColumn) {
		r.logger.Debug("is_free not provisioned, using reduced page columns", slog.String("chapter", chapterSlug))
		pages, err = r.records.SelectChapterPages(ctx, chapterSlug,
			domain.WithoutColumn(domain.ChapterPageColumns, domain.ColumnIsFree))
		for i := range pages {
			pages[i].IsFree = false
		}
	}
	if err != nil {
		return nil, fmt.Errorf("select chapter pages: %w", err)
	}
	return pages, nil
}

func (r *Reconciler) selectPage(ctx context.Context, slug string) (domain.PageMeta, error) {
	meta, err := r.records.SelectPage(ctx, slug, domain.PageColumns)
	if errors.Is(err, domain.ErrUndefinedColumn) {
		r.logger.Debug("is_free not provisioned, using reduced page columns", slog.String("slug", slug))
		meta, err = r.records.SelectPage(ctx, slug, domain.WithoutColumn(domain.PageColumns, domain.ColumnIsFree))
		meta.IsFree = false
	}
	if err != nil {
		return domain.PageMeta{}, fmt.Errorf("select page metadata: %w", err)
	}
	return meta, nil
}
