package reader

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pbaille/pagesync/internal/cache"
	"github.com/pbaille/pagesync/internal/cycle"
	"github.com/pbaille/pagesync/internal/domain"
)

// Phase is a step of one page load.
type Phase int

const (
	PhaseStarted Phase = iota
	PhaseCachePrimed
	PhaseMetadataPending
	PhaseMetadataResolved
	PhaseMetadataFailed
	PhaseContentPending
	PhaseContentResolved
	PhaseContentFailed
	PhaseCancelled
	PhaseCommitted
	PhaseDiscarded
)

var phaseNames = [...]string{
	"started", "cache_primed", "metadata_pending", "metadata_resolved",
	"metadata_failed", "content_pending", "content_resolved", "content_failed",
	"cancelled", "committed", "discarded",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// ViewState is what a page view renders.
type ViewState struct {
	Slug       string
	Content    string
	HasContent bool
	Loading    bool
	Syncing    bool
	Meta       *domain.PageMeta
	// Err blocks the view. Only a missing blob with nothing cached sets it.
	Err error
	// SyncErr is a background failure shown as a soft indicator.
	SyncErr error
	Phase   Phase
}

// Outcome is how a load ended. Phase is one of PhaseCommitted,
// PhaseMetadataResolved (cache was fresh), PhaseMetadataFailed (cache kept),
// PhaseContentFailed, PhaseCancelled or PhaseDiscarded.
type Outcome struct {
	Slug  string
	Phase Phase
	Err   error
}

// Load is a handle on one background page load
type Load struct {
	Cycle   *cycle.Cycle
	done    chan struct{}
	outcome Outcome
}

// Done is closed when the load has finished.
func (ld *Load) Done() <-chan struct{} { return ld.done }

// Wait blocks until the load finishes and returns its outcome
func (ld *Load) Wait() Outcome {
	<-ld.done
	return ld.outcome
}

// PageLoader drives page loads for a single view. Opening a page
// supersedes whatever the view was loading before.
type PageLoader struct {
	cycles     *cycle.Controller
	cache      *cache.Store
	fetcher    ContentFetcher
	reconciler *Reconciler
	writer     *Writer
	logger     *slog.Logger

	mu       sync.Mutex
	state    ViewState
	onChange func(ViewState)
}

// LoaderOption configures a PageLoader
type LoaderOption func(*PageLoader)

// WithObserver registers fn to receive every view state change. fn runs
// while the load holds its cycle and must not call Open or Close.
func WithObserver(fn func(ViewState)) LoaderOption {
	return func(l *PageLoader) { l.onChange = fn }
}

// WithLogger sets the loader's logger
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *PageLoader) { l.logger = logger }
}

// NewPageLoader wires a loader. writer must share cycles.
func NewPageLoader(cycles *cycle.Controller, c *cache.Store, f ContentFetcher, r *Reconciler, w *Writer, opts ...LoaderOption) *PageLoader {
	l := &PageLoader{
		cycles:     cycles,
		cache:      c,
		fetcher:    f,
		reconciler: r,
		writer:     w,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns a snapshot of the current view state
func (l *PageLoader) State() ViewState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Open starts loading slug. Cached content is painted before Open returns;
// metadata and content are fetched in the background.
//
// A non-nil hint is page metadata the caller already holds (from a chapter
// listing). It replaces the record-store query.
func (l *PageLoader) Open(slug string, hint *domain.PageMeta) *Load {
	cy := l.cycles.Begin(slug)
	entry, cached := l.cache.Entry(slug)

	l.update(cy, func(s *ViewState) {
		*s = ViewState{Slug: slug, Phase: PhaseStarted, Loading: !cached}
		if hint != nil {
			meta := *hint
			s.Meta = &meta
		}
		if cached {
			s.Content = entry.Content
			s.HasContent = true
			s.Phase = PhaseCachePrimed
		}
	})

	ld := &Load{Cycle: cy, done: make(chan struct{})}
	go func() {
		defer close(ld.done)
		var out Outcome
		if hint != nil {
			out = l.hydrate(cy, entry, cached, *hint)
		} else {
			out = l.sync(cy, entry, cached)
		}
		out.Slug = slug
		ld.outcome = out
		l.logger.Debug("page load finished",
			slog.String("slug", slug),
			slog.String("cycle", cy.ID),
			slog.String("phase", out.Phase.String()),
		)
	}()
	return ld
}

// Close cancels the view's active load
func (l *PageLoader) Close() {
	if cy := l.cycles.Active(); cy != nil {
		l.cycles.Release(cy)
	}
}

// ApplySave shows content saved by the editor if the view is on slug and
// reports whether it did. It starts a new cycle, so a load still in flight
// for slug can neither repaint the view nor commit to the cache.
func (l *PageLoader) ApplySave(slug, content string, stamp domain.VersionStamp, isFree *bool) bool {
	cy, ok := l.cycles.Restart(slug)
	if !ok {
		return false
	}
	return l.update(cy, func(s *ViewState) {
		s.Slug = slug
		s.Content = content
		s.HasContent = true
		s.Loading = false
		s.Syncing = false
		s.Err = nil
		s.SyncErr = nil
		s.Phase = PhaseCommitted
		if s.Meta != nil {
			meta := *s.Meta
			meta.UpdatedAt = stamp
			if isFree != nil {
				meta.IsFree = *isFree
			}
			s.Meta = &meta
		}
	})
}

// sync reconciles with the record store. Without a cache the content fetch
// starts right away instead of waiting for metadata.
func (l *PageLoader) sync(cy *cycle.Cycle, entry domain.CacheEntry, cached bool) Outcome {
	ctx := cy.Context()
	l.update(cy, func(s *ViewState) {
		s.Syncing = true
		s.Phase = PhaseMetadataPending
	})

	req := l.newRequest(cy)
	if !cached {
		req.start()
	}

	type metaResult struct {
		rec Reconciliation
		err error
	}
	metaCh := make(chan metaResult, 1)
	go func() {
		rec, err := l.reconciler.Reconcile(ctx, cy.Slug, entry.VersionStamp)
		metaCh <- metaResult{rec, err}
	}()

	// Content landing before metadata is committed at once without a
	// stamp; the pair is committed again with the stamp once metadata
	// arrives.
	var (
		res             metaResult
		contentDone     = req.doneChan()
		committedEarly  bool
		metadataArrived bool
	)
	for !metadataArrived {
		select {
		case res = <-metaCh:
			metadataArrived = true
		case <-contentDone:
			contentDone = nil
			if req.err == nil {
				committedEarly = l.writer.Commit(cy, cy.Slug, req.content, "")
			}
		}
	}

	if res.err != nil {
		if errors.Is(res.err, domain.ErrCancelled) || !l.cycles.IsActive(cy) {
			return Outcome{Phase: PhaseCancelled}
		}
		l.logger.Warn("page metadata sync failed",
			slog.String("slug", cy.Slug),
			slog.String("error", res.err.Error()),
		)
		l.update(cy, func(s *ViewState) {
			s.Syncing = false
			s.SyncErr = res.err
			s.Phase = PhaseMetadataFailed
		})
		if cached {
			return Outcome{Phase: PhaseMetadataFailed, Err: res.err}
		}
		text, err := req.wait()
		if committedEarly {
			return Outcome{Phase: PhaseCommitted}
		}
		return l.commit(cy, cached, text, "", err)
	}

	rec := res.rec
	l.update(cy, func(s *ViewState) {
		meta := rec.Meta
		s.Meta = &meta
		s.Syncing = false
		s.SyncErr = nil
		s.Phase = PhaseMetadataResolved
	})

	if !rec.RequiresContentFetch {
		return Outcome{Phase: PhaseMetadataResolved}
	}

	req.start()
	text, err := req.wait()
	return l.commit(cy, cached, text, rec.VersionStamp, err)
}

// hydrate loads against metadata the caller already has.
func (l *PageLoader) hydrate(cy *cycle.Cycle, entry domain.CacheEntry, cached bool, hint domain.PageMeta) Outcome {
	if !Stale(entry, cached, hint.UpdatedAt) {
		l.update(cy, func(s *ViewState) { s.Phase = PhaseMetadataResolved })
		return Outcome{Phase: PhaseMetadataResolved}
	}

	req := l.newRequest(cy)
	req.start()
	text, err := req.wait()
	return l.commit(cy, cached, text, hint.UpdatedAt, err)
}

// commit finishes a load whose content fetch has completed.
func (l *PageLoader) commit(cy *cycle.Cycle, cached bool, text string, stamp domain.VersionStamp, err error) Outcome {
	if errors.Is(err, domain.ErrCancelled) {
		return Outcome{Phase: PhaseCancelled}
	}
	if err != nil {
		if !l.cycles.IsActive(cy) {
			return Outcome{Phase: PhaseDiscarded}
		}
		l.logger.Warn("page content fetch failed",
			slog.String("slug", cy.Slug),
			slog.Bool("cached", cached),
			slog.String("error", err.Error()),
		)
		l.update(cy, func(s *ViewState) {
			s.Loading = false
			s.Syncing = false
			s.Phase = PhaseContentFailed
			if !cached && errors.Is(err, domain.ErrNotFound) {
				s.Err = err
				return
			}
			s.SyncErr = err
		})
		return Outcome{Phase: PhaseContentFailed, Err: err}
	}

	if !l.writer.Commit(cy, cy.Slug, text, stamp) {
		return Outcome{Phase: PhaseDiscarded}
	}
	l.update(cy, func(s *ViewState) { s.Phase = PhaseCommitted })
	return Outcome{Phase: PhaseCommitted}
}

// update mutates view state if cy is still the active cycle.
func (l *PageLoader) update(cy *cycle.Cycle, fn func(*ViewState)) bool {
	return l.cycles.WhileActive(cy, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		fn(&l.state)
		if l.onChange != nil {
			l.onChange(l.state)
		}
	})
}

// contentRequest is the single content fetch of a cycle, shared by the
// initial paint and the metadata-driven refresh.
type contentRequest struct {
	l       *PageLoader
	cy      *cycle.Cycle
	once    sync.Once
	started bool
	done    chan struct{}

	content string
	err     error
}

func (l *PageLoader) newRequest(cy *cycle.Cycle) *contentRequest {
	return &contentRequest{l: l, cy: cy, done: make(chan struct{})}
}

func (r *contentRequest) start() {
	r.once.Do(func() {
		r.started = true
		r.l.update(r.cy, func(s *ViewState) { s.Phase = PhaseContentPending })
		go func() {
			text, err := r.l.fetcher.Fetch(r.cy.Context(), r.cy.Slug)
			r.content, r.err = text, err
			if err == nil {
				r.l.update(r.cy, func(s *ViewState) {
					s.Content = text
					s.HasContent = true
					s.Loading = false
					s.Err = nil
					s.Phase = PhaseContentResolved
				})
			}
			close(r.done)
		}()
	})
}

// doneChan is nil until the request has started. Only the goroutine
// driving the load calls start, so started needs no lock.
func (r *contentRequest) doneChan() <-chan struct{} {
	if !r.started {
		return nil
	}
	return r.done
}

func (r *contentRequest) wait() (string, error) {
	<-r.done
	return r.content, r.err
}
