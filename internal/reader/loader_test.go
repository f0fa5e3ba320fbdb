package reader

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pbaille/pagesync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenUncachedFetchesAndStamps(t *testing.T) {
	h := newHarness(t)
	h.blobs.pages["intro"] = "# Intro"
	h.records.put(domain.PageMeta{ID: "p1", Title: "Intro", Slug: "intro", UpdatedAt: "t1"})

	ld := h.loader.Open("intro", nil)
	out := ld.Wait()

	assert.Equal(t, PhaseCommitted, out.Phase)
	assert.NoError(t, out.Err)
	entry, ok := h.cache.Entry("intro")
	require.True(t, ok)
	assert.Equal(t, domain.CacheEntry{Slug: "intro", Content: "# Intro", VersionStamp: "t1"}, entry)
	assert.Equal(t, 1, h.blobs.fetches("intro"))

	want := ViewState{
		Slug:       "intro",
		Content:    "# Intro",
		HasContent: true,
		Meta:       &domain.PageMeta{ID: "p1", Title: "Intro", Slug: "intro", UpdatedAt: "t1"},
		Phase:      PhaseCommitted,
	}
	if diff := cmp.Diff(want, h.loader.State(), cmpopts.EquateErrors()); diff != "" {
		t.Errorf("view state mismatch (-want +got):\n%s", diff)
	}

	phases := h.phases()
	require.NotEmpty(t, phases)
	assert.Equal(t, PhaseStarted, phases[0])
	assert.Equal(t, PhaseCommitted, phases[len(phases)-1])
}

func TestOpenFreshCacheSkipsFetch(t *testing.T) {
	h := newHarness(t)
	h.cache.Write("intro", "# Intro", "t1")
	h.blobs.pages["intro"] = "# Intro (server)"
	h.records.put(domain.PageMeta{Slug: "intro", UpdatedAt: "t1"})

	ld := h.loader.Open("intro", nil)
	painted := h.loader.State()
	assert.Equal(t, "# Intro", painted.Content, "cached content should paint before Open returns")
	assert.True(t, painted.HasContent)
	assert.False(t, painted.Loading)

	out := ld.Wait()
	assert.Equal(t, PhaseMetadataResolved, out.Phase)
	assert.Zero(t, h.blobs.totalFetches())

	content, _ := h.cache.Read("intro")
	assert.Equal(t, "# Intro", content)
}

func TestOpenRepeatedlyOnFreshCacheNeverFetches(t *testing.T) {
	h := newHarness(t)
	h.cache.Write("intro", "# Intro", "t1")
	h.records.put(domain.PageMeta{Slug: "intro", UpdatedAt: "t1"})

	for range 3 {
		out := h.loader.Open("intro", nil).Wait()
		assert.Equal(t, PhaseMetadataResolved, out.Phase)
	}
	assert.Zero(t, h.blobs.totalFetches())
	assert.Equal(t, 3, h.records.selectCount())
}

func TestOpenStaleCacheRefetches(t *testing.T) {
	h := newHarness(t)
	h.cache.Write("intro", "# Intro", "t1")
	h.blobs.pages["intro"] = "# Intro v2"
	h.records.put(domain.PageMeta{Slug: "intro", UpdatedAt: "t2"})

	out := h.loader.Open("intro", nil).Wait()

	assert.Equal(t, PhaseCommitted, out.Phase)
	entry, ok := h.cache.Entry("intro")
	require.True(t, ok)
	assert.Equal(t, "# Intro v2", entry.Content)
	assert.Equal(t, domain.VersionStamp("t2"), entry.VersionStamp)
	assert.Equal(t, 1, h.blobs.fetches("intro"))
	assert.Equal(t, "# Intro v2", h.loader.State().Content)
}

func TestOpenCachedWithoutStampRefetches(t *testing.T) {
	h := newHarness(t)
	h.cache.Write("intro", "# Intro", "")
	h.blobs.pages["intro"] = "# Intro"
	h.records.put(domain.PageMeta{Slug: "intro", UpdatedAt: "t1"})

	out := h.loader.Open("intro", nil).Wait()

	assert.Equal(t, PhaseCommitted, out.Phase)
	stamp, ok := h.cache.ReadVersionStamp("intro")
	require.True(t, ok)
	assert.Equal(t, domain.VersionStamp("t1"), stamp)
}

func TestEarlyContentIsRecommittedWithItsStamp(t *testing.T) {
	h := newHarness(t)
	h.blobs.pages["intro"] = "# Intro"
	h.records.put(domain.PageMeta{Slug: "intro", UpdatedAt: "t1"})
	release := make(chan struct{})
	h.records.gates["intro"] = release

	ld := h.loader.Open("intro", nil)
	require.Eventually(t, func() bool {
		content, ok := h.cache.Read("intro")
		return ok && content == "# Intro"
	}, time.Second, 5*time.Millisecond)

	// Another writer lands between the unstamped commit and the metadata.
	h.writer.Store("intro", "# Other", "tX")
	close(release)

	assert.Equal(t, PhaseCommitted, ld.Wait().Phase)
	entry, ok := h.cache.Entry("intro")
	require.True(t, ok)
	assert.Equal(t, domain.CacheEntry{Slug: "intro", Content: "# Intro", VersionStamp: "t1"}, entry,
		"the stamp must travel with the content it belongs to")
	assert.Equal(t, 1, h.blobs.fetches("intro"))
}

func TestSupersededLoadIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.blobs.ignoreCancel = true
	release := h.blobs.gate("a")
	h.blobs.pages["a"] = "# A"
	h.blobs.pages["b"] = "# B"
	h.records.put(domain.PageMeta{Slug: "b", UpdatedAt: "t1"})

	first := h.loader.Open("a", &domain.PageMeta{Slug: "a", UpdatedAt: "t1"})
	second := h.loader.Open("b", nil)
	require.Equal(t, PhaseCommitted, second.Wait().Phase)

	close(release)
	assert.Equal(t, PhaseDiscarded, first.Wait().Phase)

	_, ok := h.cache.Entry("a")
	assert.False(t, ok, "superseded load must not reach the cache")
	state := h.loader.State()
	assert.Equal(t, "b", state.Slug)
	assert.Equal(t, "# B", state.Content)
}

func TestWriterCommitRejectsSupersededCycle(t *testing.T) {
	h := newHarness(t)
	a := h.cycles.Begin("a")
	b := h.cycles.Begin("b")

	assert.False(t, h.writer.Commit(a, "a", "# A", "t1"))
	assert.True(t, h.writer.Commit(b, "b", "# B", "t1"))

	_, ok := h.cache.Entry("a")
	assert.False(t, ok)
	content, ok := h.cache.Read("b")
	require.True(t, ok)
	assert.Equal(t, "# B", content)
}

func TestSupersededLoadIsCancelled(t *testing.T) {
	h := newHarness(t)
	h.blobs.gate("a")
	h.blobs.pages["b"] = "# B"
	h.records.put(domain.PageMeta{Slug: "a", UpdatedAt: "t1"})
	h.records.put(domain.PageMeta{Slug: "b", UpdatedAt: "t1"})

	first := h.loader.Open("a", nil)
	h.loader.Open("b", nil).Wait()

	assert.Equal(t, PhaseCancelled, first.Wait().Phase)
	assert.True(t, first.Cycle.Cancelled())
	_, ok := h.cache.Entry("a")
	assert.False(t, ok)
	assert.Equal(t, "b", h.loader.State().Slug)
}

func TestCloseCancelsActiveLoad(t *testing.T) {
	h := newHarness(t)
	h.blobs.gate("intro")
	h.records.put(domain.PageMeta{Slug: "intro", UpdatedAt: "t1"})

	ld := h.loader.Open("intro", nil)
	h.loader.Close()

	assert.Equal(t, PhaseCancelled, ld.Wait().Phase)
	assert.Nil(t, h.cycles.Active())
	_, ok := h.cache.Entry("intro")
	assert.False(t, ok)
}

func TestMetadataFailureKeepsCachedContent(t *testing.T) {
	h := newHarness(t)
	h.cache.Write("intro", "# Intro", "t1")
	h.records.err = domain.ErrTransport

	out := h.loader.Open("intro", nil).Wait()

	assert.Equal(t, PhaseMetadataFailed, out.Phase)
	assert.ErrorIs(t, out.Err, domain.ErrTransport)
	assert.Zero(t, h.blobs.totalFetches())

	state := h.loader.State()
	assert.Equal(t, "# Intro", state.Content)
	assert.NoError(t, state.Err)
	assert.ErrorIs(t, state.SyncErr, domain.ErrTransport)
	assert.False(t, state.Syncing)
}

func TestMetadataFailureWithoutCacheStillShowsContent(t *testing.T) {
	h := newHarness(t)
	h.blobs.pages["intro"] = "# Intro"
	h.records.err = domain.ErrTransport

	out := h.loader.Open("intro", nil).Wait()

	assert.Equal(t, PhaseCommitted, out.Phase)
	content, ok := h.cache.Read("intro")
	require.True(t, ok)
	assert.Equal(t, "# Intro", content)
	_, ok = h.cache.ReadVersionStamp("intro")
	assert.False(t, ok, "content without metadata is cached unstamped")

	state := h.loader.State()
	assert.Equal(t, "# Intro", state.Content)
	assert.ErrorIs(t, state.SyncErr, domain.ErrTransport)
	assert.NoError(t, state.Err)
}

func TestMissingBlobWithoutCacheBlocksView(t *testing.T) {
	h := newHarness(t)
	h.records.put(domain.PageMeta{Slug: "ghost", UpdatedAt: "t1"})

	out := h.loader.Open("ghost", nil).Wait()

	assert.Equal(t, PhaseContentFailed, out.Phase)
	assert.ErrorIs(t, out.Err, domain.ErrNotFound)
	state := h.loader.State()
	assert.ErrorIs(t, state.Err, domain.ErrNotFound)
	assert.False(t, state.Loading)
	assert.False(t, state.HasContent)
}

func TestContentFailureWithCacheIsSoft(t *testing.T) {
	h := newHarness(t)
	h.cache.Write("intro", "# Intro", "t1")
	h.blobs.errs["intro"] = domain.ErrTransport
	h.records.put(domain.PageMeta{Slug: "intro", UpdatedAt: "t2"})

	out := h.loader.Open("intro", nil).Wait()

	assert.Equal(t, PhaseContentFailed, out.Phase)
	state := h.loader.State()
	assert.Equal(t, "# Intro", state.Content)
	assert.NoError(t, state.Err)
	assert.ErrorIs(t, state.SyncErr, domain.ErrTransport)

	stamp, _ := h.cache.ReadVersionStamp("intro")
	assert.Equal(t, domain.VersionStamp("t1"), stamp, "failed refresh leaves the cache alone")
}

func TestOpenWithoutIsFreeColumn(t *testing.T) {
	h := newHarness(t)
	h.records.noIsFree = true
	h.blobs.pages["intro"] = "# Intro"
	h.records.put(domain.PageMeta{Slug: "intro", UpdatedAt: "t1", IsFree: true})

	out := h.loader.Open("intro", nil).Wait()

	assert.Equal(t, PhaseCommitted, out.Phase)
	state := h.loader.State()
	require.NotNil(t, state.Meta)
	assert.False(t, state.Meta.IsFree)
	assert.Equal(t, domain.VersionStamp("t1"), state.Meta.UpdatedAt)
}

func TestOpenWithHint(t *testing.T) {
	t.Run("fresh", func(t *testing.T) {
		h := newHarness(t)
		h.cache.Write("intro", "# Intro", "t1")

		out := h.loader.Open("intro", &domain.PageMeta{Slug: "intro", UpdatedAt: "t1"}).Wait()

		assert.Equal(t, PhaseMetadataResolved, out.Phase)
		assert.Zero(t, h.records.selectCount(), "hint replaces the metadata query")
		assert.Zero(t, h.blobs.totalFetches())
	})

	t.Run("stale", func(t *testing.T) {
		h := newHarness(t)
		h.cache.Write("intro", "# Intro", "t1")
		h.blobs.pages["intro"] = "# Intro v2"

		out := h.loader.Open("intro", &domain.PageMeta{Slug: "intro", UpdatedAt: "t2"}).Wait()

		assert.Equal(t, PhaseCommitted, out.Phase)
		assert.Zero(t, h.records.selectCount())
		entry, _ := h.cache.Entry("intro")
		assert.Equal(t, domain.CacheEntry{Slug: "intro", Content: "# Intro v2", VersionStamp: "t2"}, entry)
		require.NotNil(t, h.loader.State().Meta)
		assert.Equal(t, domain.VersionStamp("t2"), h.loader.State().Meta.UpdatedAt)
	})
}

func TestApplySave(t *testing.T) {
	h := newHarness(t)
	h.cache.Write("intro", "# Intro", "t1")
	h.records.put(domain.PageMeta{Slug: "intro", UpdatedAt: "t1"})
	h.loader.Open("intro", nil).Wait()

	free := true
	h.loader.ApplySave("other", "# Other", "t9", nil)
	assert.Equal(t, "# Intro", h.loader.State().Content, "saves for other pages are ignored")

	h.loader.ApplySave("intro", "# Edited", "t2", &free)
	state := h.loader.State()
	assert.Equal(t, "# Edited", state.Content)
	require.NotNil(t, state.Meta)
	assert.Equal(t, domain.VersionStamp("t2"), state.Meta.UpdatedAt)
	assert.True(t, state.Meta.IsFree)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "committed", PhaseCommitted.String())
	assert.Equal(t, "metadata_failed", PhaseMetadataFailed.String())
	assert.Equal(t, "unknown", Phase(99).String())
}

func TestOutcomeErrorsAreWrapped(t *testing.T) {
	h := newHarness(t)
	h.cache.Write("intro", "# Intro", "t1")
	h.records.err = errors.New("boom")

	out := h.loader.Open("intro", nil).Wait()
	assert.Equal(t, PhaseMetadataFailed, out.Phase)
	assert.ErrorContains(t, out.Err, "select page metadata")
}
