package reader

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pbaille/pagesync/internal/cache"
	"github.com/pbaille/pagesync/internal/cycle"
	"github.com/pbaille/pagesync/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBlobs serves markdown from memory and counts fetches per slug.
type fakeBlobs struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	gates map[string]chan struct{}
	calls map[string]int
	saved map[string]string

	// ignoreCancel makes gated fetches wait for their gate even after the
	// caller's context ends, like a server that answers anyway.
	ignoreCancel bool
	delay        time.Duration
	saveErr      error

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		pages: map[string]string{},
		errs:  map[string]error{},
		gates: map[string]chan struct{}{},
		calls: map[string]int{},
		saved: map[string]string{},
	}
}

func (f *fakeBlobs) Fetch(ctx context.Context, slug string) (string, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.maxInflight.Load()
		if n <= peak || f.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls[slug]++
	gate := f.gates[slug]
	f.mu.Unlock()

	if !f.ignoreCancel && ctx.Err() != nil {
		return "", domain.ErrCancelled
	}
	if gate != nil {
		if f.ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return "", domain.ErrCancelled
			}
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[slug]; err != nil {
		return "", err
	}
	text, ok := f.pages[slug]
	if !ok {
		return "", domain.ErrNotFound
	}
	return text, nil
}

func (f *fakeBlobs) Save(_ context.Context, slug, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[slug] = content
	f.pages[slug] = content
	return nil
}

func (f *fakeBlobs) gate(slug string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[slug] = ch
	return ch
}

func (f *fakeBlobs) fetches(slug string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[slug]
}

func (f *fakeBlobs) totalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// fakeRecords is an in-memory record store. With noIsFree set it behaves
// like a schema that predates the is_free column.
type fakeRecords struct {
	mu       sync.Mutex
	pages    map[string]domain.PageMeta
	chapters map[string][]string
	gates    map[string]chan struct{}
	err      error
	noIsFree bool
	selects  int
	updates  []domain.PageUpdate
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		pages:    map[string]domain.PageMeta{},
		chapters: map[string][]string{},
		gates:    map[string]chan struct{}{},
	}
}

func (f *fakeRecords) put(meta domain.PageMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[meta.Slug] = meta
}

func (f *fakeRecords) SelectPage(ctx context.Context, slug string, columns []string) (domain.PageMeta, error) {
	if err := f.enter(ctx, slug, columns); err != nil {
		return domain.PageMeta{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.pages[slug]
	if !ok {
		return domain.PageMeta{}, domain.ErrRecordNotFound
	}
	return project(meta, columns), nil
}

func (f *fakeRecords) SelectChapterPages(ctx context.Context, chapterSlug string, columns []string) ([]domain.PageMeta, error) {
	if err := f.enter(ctx, chapterSlug, columns); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	slugs, ok := f.chapters[chapterSlug]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	pages := make([]domain.PageMeta, 0, len(slugs))
	for _, slug := range slugs {
		pages = append(pages, project(f.pages[slug], columns))
	}
	return pages, nil
}

func (f *fakeRecords) UpdatePage(_ context.Context, slug string, update domain.PageUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noIsFree && update.IsFree != nil {
		return domain.ErrUndefinedColumn
	}
	meta, ok := f.pages[slug]
	if !ok {
		return domain.ErrRecordNotFound
	}
	f.updates = append(f.updates, update)
	if update.UpdatedAt != "" {
		meta.UpdatedAt = update.UpdatedAt
	}
	if update.IsFree != nil {
		meta.IsFree = *update.IsFree
	}
	f.pages[slug] = meta
	return nil
}

func (f *fakeRecords) enter(ctx context.Context, key string, columns []string) error {
	f.mu.Lock()
	f.selects++
	gate := f.gates[key]
	err := f.err
	noIsFree := f.noIsFree
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.ErrCancelled
		}
	}
	if err != nil {
		return err
	}
	if noIsFree && slices.Contains(columns, domain.ColumnIsFree) {
		return domain.ErrUndefinedColumn
	}
	return nil
}

func (f *fakeRecords) selectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selects
}

func project(meta domain.PageMeta, columns []string) domain.PageMeta {
	if !slices.Contains(columns, domain.ColumnIsFree) {
		meta.IsFree = false
	}
	return meta
}

// harness wires a full reader stack over memory fakes.
type harness struct {
	cache      *cache.Store
	cycles     *cycle.Controller
	blobs      *fakeBlobs
	records    *fakeRecords
	reconciler *Reconciler
	writer     *Writer
	prefetch   *Prefetcher
	loader     *PageLoader

	mu     sync.Mutex
	states []ViewState
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		cache:   cache.New(cache.NewMemory(), quietLogger()),
		cycles:  cycle.NewController(context.Background()),
		blobs:   newFakeBlobs(),
		records: newFakeRecords(),
	}
	t.Cleanup(func() { h.cache.Close() })

	h.reconciler = NewReconciler(h.records, quietLogger())
	h.writer = NewWriter(h.cache, h.cycles)
	h.prefetch = NewPrefetcher(h.cache, h.blobs, h.writer, 0, quietLogger())
	h.loader = NewPageLoader(h.cycles, h.cache, h.blobs, h.reconciler, h.writer,
		WithLogger(quietLogger()),
		WithObserver(func(s ViewState) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.states = append(h.states, s)
		}),
	)
	return h
}

func (h *harness) phases() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Phase, 0, len(h.states))
	for _, s := range h.states {
		out = append(out, s.Phase)
	}
	return out
}
