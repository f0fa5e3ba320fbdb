package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pbaille/pagesync/internal/domain"
)

// BlobWriter replaces a page's markdown in the blob store
type BlobWriter interface {
	Save(ctx context.Context, slug, content string) error
}

// RecordUpdater writes a page's version stamp and access tier
type RecordUpdater interface {
	UpdatePage(ctx context.Context, slug string, update domain.PageUpdate) error
}

// Editor saves page content and keeps the cache in step with the save, so
// the next reconcile sees the new stamp without refetching.
type Editor struct {
	blobs   BlobWriter
	records RecordUpdater
	writer  *Writer
	view    *PageLoader
	now     func() time.Time
	logger  *slog.Logger
}

// NewEditor creates an Editor. view may be nil.
func NewEditor(blobs BlobWriter, records RecordUpdater, w *Writer, view *PageLoader, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{blobs: blobs, records: records, writer: w, view: view, now: time.Now, logger: logger}
}

// Save writes content for slug and stamps the record. isFree, when set,
// also updates the access tier; a schema without that column keeps the
// save going without it.
func (e *Editor) Save(ctx context.Context, slug, content string, isFree *bool) (domain.VersionStamp, error) {
	if err := e.blobs.Save(ctx, slug, content); err != nil {
		return "", fmt.Errorf("save markdown: %w", err)
	}

	stamp := domain.NewStamp(e.now())
	update := domain.PageUpdate{UpdatedAt: stamp, IsFree: isFree}
	err := e.records.UpdatePage(ctx, slug, update)
	if errors.Is(err, domain.ErrUndefinedColumn) && isFree != nil {
		e.logger.Debug("is_free not provisioned, saving stamp only", slog.String("slug", slug))
		update.IsFree = nil
		isFree = nil
		err = e.records.UpdatePage(ctx, slug, update)
	}
	if err != nil {
		return "", fmt.Errorf("update page record: %w", err)
	}

	// The view goes first: its new cycle fences off any load still
	// committing the pre-save content.
	if e.view != nil {
		e.view.ApplySave(slug, content, stamp, isFree)
	}
	e.writer.Store(slug, content, stamp)

	e.logger.Info("page saved", slog.String("slug", slug), slog.String("updated_at", string(stamp)))
	return stamp, nil
}
