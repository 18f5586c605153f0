package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/pacing"
	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
	"github.com/JakeFAU/catalog-image-sourcer/internal/similarity/tokenset"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

type sequencerFixture struct {
	ddg, bing, yahoo *fakeSearcher
	downloader       *fakeDownloader
	store            *memStore
	events           *eventRecorder
	seq              *Sequencer
}

func newSequencerFixture(store *memStore) *sequencerFixture {
	f := &sequencerFixture{
		ddg:        &fakeSearcher{results: map[string][]sourcing.Candidate{}},
		bing:       &fakeSearcher{results: map[string][]sourcing.Candidate{}},
		yahoo:      &fakeSearcher{results: map[string][]sourcing.Candidate{}},
		downloader: &fakeDownloader{},
		store:      store,
		events:     &eventRecorder{},
	}
	f.seq = NewSequencer(
		map[sourcing.Backend]sourcing.Searcher{
			sourcing.BackendDuckDuckGo: f.ddg,
			sourcing.BackendBing:       f.bing,
			sourcing.BackendYahoo:      f.yahoo,
		},
		sourcing.NewRanker(70, tokenset.New()),
		f.downloader,
		store,
		nil,
		pacing.Disabled(),
		zap.NewNop(),
	)
	return f
}

func (f *sequencerFixture) retrieve(t *testing.T, item sourcing.CatalogItem) sourcing.Outcome {
	t.Helper()
	out, err := f.seq.Retrieve(context.Background(), item, sourcing.Plan(sourcing.DefaultStrategies(), item), f.events)
	require.NoError(t, err)
	return out
}

func TestSequencerAcceptsOnFirstStrategy(t *testing.T) {
	t.Parallel()

	f := newSequencerFixture(newMemStore())
	f.ddg.results["Red Apple Juice 1L"] = []sourcing.Candidate{
		{ImageURL: "https://cdn.example.com/juice.jpg", Title: "Juice Apple Red 1 Liter"},
	}

	out := f.retrieve(t, sourcing.CatalogItem{SKU: "A1", Name: "Red Apple Juice 1L"})

	require.Equal(t, sourcing.StatusSuccess, out.Status)
	require.Equal(t, "Red_Apple_Juice_1L.jpg", out.SavedFilename)
	require.Equal(t, "https://cdn.example.com/juice.jpg", out.SourceURL)
	require.GreaterOrEqual(t, out.Score, 70)
	require.True(t, out.HasScore)
	require.Empty(t, f.bing.Calls())
	require.Empty(t, f.yahoo.Calls())
	require.Equal(t, []progress.Phase{progress.PhaseSearching, progress.PhaseDownloading, progress.PhaseSuccess}, f.events.Phases())

	events := f.events.Events()
	require.Equal(t, "Attempt 1/4: DuckDuckGo (Standard)...", events[0].Message)
	require.Equal(t, out.Score, events[2].Score)
	require.Equal(t, "Red_Apple_Juice_1L.jpg", events[2].SavedFilename)
	require.Contains(t, f.store.Names(), "Red_Apple_Juice_1L.jpg")
}

func TestSequencerFallsThroughStrategies(t *testing.T) {
	t.Parallel()

	f := newSequencerFixture(newMemStore())
	f.ddg.results["Blue Widget product image"] = []sourcing.Candidate{
		{ImageURL: "https://img/broad.png", Title: "Blue Widget Deluxe"},
	}
	f.bing.err = errBoom
	f.yahoo.results["Blue Widget"] = []sourcing.Candidate{
		{ImageURL: "https://img/unrelated.jpg", Title: "Garden Hose"},
	}

	out := f.retrieve(t, sourcing.CatalogItem{SKU: "W1", Name: "Blue Widget"})

	require.Equal(t, sourcing.StatusSuccess, out.Status)
	require.Equal(t, "Blue_Widget.png", out.SavedFilename)
	require.Equal(t, []string{"Blue Widget", "Blue Widget product image"}, f.ddg.Calls())
	require.Equal(t, []string{"Blue Widget"}, f.bing.Calls())
	require.Equal(t, []string{"https://img/broad.png"}, f.downloader.calls)
	require.Equal(t, []progress.Phase{
		progress.PhaseSearching,
		progress.PhaseSearching,
		progress.PhaseSearching,
		progress.PhaseSearching,
		progress.PhaseDownloading,
		progress.PhaseSuccess,
	}, f.events.Phases())
}

func TestSequencerDownloadFailureMovesToNextStrategy(t *testing.T) {
	t.Parallel()

	f := newSequencerFixture(newMemStore())
	f.ddg.results["Red Widget"] = []sourcing.Candidate{
		{ImageURL: "https://img/best.jpg", Title: "Red Widget"},
		{ImageURL: "https://img/second.jpg", Title: "Red Widget Large"},
	}
	f.bing.results["Red Widget"] = []sourcing.Candidate{
		{ImageURL: "https://img/bing.webp", Title: "red widget"},
	}
	f.downloader.errs = map[string]error{"https://img/best.jpg": errBoom}

	out := f.retrieve(t, sourcing.CatalogItem{SKU: "R1", Name: "Red Widget"})

	require.Equal(t, sourcing.StatusSuccess, out.Status)
	require.Equal(t, "https://img/bing.webp", out.SourceURL)
	require.Equal(t, "Red_Widget.webp", out.SavedFilename)
	require.Equal(t, []string{"https://img/best.jpg", "https://img/bing.webp"}, f.downloader.calls,
		"the runner-up from the same result set is never tried")
}

func TestSequencerEmptyBodyCountsAsFailure(t *testing.T) {
	t.Parallel()

	f := newSequencerFixture(newMemStore())
	f.ddg.results["Gadget"] = []sourcing.Candidate{{ImageURL: "https://img/empty.jpg", Title: "Gadget"}}
	f.downloader.images = map[string]sourcing.Image{"https://img/empty.jpg": {}}

	out := f.retrieve(t, sourcing.CatalogItem{SKU: "G1", Name: "Gadget"})
	require.Equal(t, sourcing.StatusFailed, out.Status)
	require.Empty(t, f.store.Names())
}

func TestSequencerExhaustion(t *testing.T) {
	t.Parallel()

	f := newSequencerFixture(newMemStore())
	f.bing.results["Obscure Part 99"] = []sourcing.Candidate{
		{ImageURL: "https://img/a.jpg", Title: "Completely different thing"},
		{ImageURL: "", Title: "Obscure Part 99"},
	}

	out := f.retrieve(t, sourcing.CatalogItem{SKU: "X9", Name: "Obscure Part 99"})

	require.Equal(t, sourcing.StatusFailed, out.Status)
	require.Zero(t, out.Score)
	require.False(t, out.HasScore)
	require.Empty(t, out.SourceURL)
	require.Empty(t, out.SavedFilename)
	require.Empty(t, f.downloader.calls)

	phases := f.events.Phases()
	require.Len(t, phases, 5)
	require.Equal(t, progress.PhaseFailed, phases[4])
	require.Equal(t, "All attempts failed", f.events.Events()[4].Message)
}

func TestSequencerEmptyNameAcceptsFirstCandidate(t *testing.T) {
	t.Parallel()

	f := newSequencerFixture(newMemStore())
	f.ddg.results["B2"] = []sourcing.Candidate{
		{ImageURL: "https://img/first.gif", Title: "anything at all"},
		{ImageURL: "https://img/second.jpg", Title: "B2"},
	}

	out := f.retrieve(t, sourcing.CatalogItem{SKU: "B2"})

	require.Equal(t, sourcing.StatusSuccess, out.Status)
	require.Equal(t, 100, out.Score)
	require.Equal(t, "https://img/first.gif", out.SourceURL)
	require.Equal(t, "B2.gif", out.SavedFilename)
}

func TestSequencerCollisionAppendsSKU(t *testing.T) {
	t.Parallel()

	store := newMemStore("Widget.jpg")
	f := newSequencerFixture(store)
	f.ddg.results["Widget"] = []sourcing.Candidate{{ImageURL: "https://img/w.jpg", Title: "Widget"}}

	out := f.retrieve(t, sourcing.CatalogItem{SKU: "S-2", Name: "Widget"})
	require.Equal(t, "Widget_S-2.jpg", out.SavedFilename)
	require.Equal(t, "existing", store.Names()["Widget.jpg"])

	out = f.retrieve(t, sourcing.CatalogItem{SKU: "S-2", Name: "Widget"})
	require.Equal(t, "Widget_S-2_2.jpg", out.SavedFilename)
}

func TestSequencerWriteFailureFallsThrough(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.createErr = errBoom
	f := newSequencerFixture(store)
	f.ddg.results["Widget"] = []sourcing.Candidate{{ImageURL: "https://img/w.jpg", Title: "Widget"}}
	f.bing.results["Widget"] = []sourcing.Candidate{{ImageURL: "https://img/b.jpg", Title: "Widget"}}

	out := f.retrieve(t, sourcing.CatalogItem{SKU: "S1", Name: "Widget"})
	require.Equal(t, sourcing.StatusFailed, out.Status)
	require.Len(t, f.downloader.calls, 2)
}

func TestSequencerMissingSearcherIsSkipped(t *testing.T) {
	t.Parallel()

	f := newSequencerFixture(newMemStore())
	delete(f.seq.searchers, sourcing.BackendDuckDuckGo)
	f.bing.results["Widget"] = []sourcing.Candidate{{ImageURL: "https://img/b.jpg", Title: "Widget"}}

	out := f.retrieve(t, sourcing.CatalogItem{SKU: "S1", Name: "Widget"})
	require.Equal(t, sourcing.StatusSuccess, out.Status)
	require.Empty(t, f.ddg.Calls())
}

func TestSequencerStopsOnCancellation(t *testing.T) {
	t.Parallel()

	f := newSequencerFixture(newMemStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	item := sourcing.CatalogItem{SKU: "S1", Name: "Widget"}
	_, err := f.seq.Retrieve(ctx, item, sourcing.Plan(sourcing.DefaultStrategies(), item), f.events)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []progress.Phase{progress.PhaseSearching}, f.events.Phases())
}

func TestSequencerRecordsContentHash(t *testing.T) {
	t.Parallel()

	f := newSequencerFixture(newMemStore())
	f.seq.hasher = hasherFunc(func(b []byte) (string, error) { return "digest-" + string(b[:4]), nil })
	f.ddg.results["Widget"] = []sourcing.Candidate{{ImageURL: "https://img/w.jpg", Title: "Widget"}}

	out := f.retrieve(t, sourcing.CatalogItem{SKU: "S1", Name: "Widget"})
	require.Equal(t, "digest-jpeg", out.ContentHash)
}

func TestCollisionName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Widget.jpg", CollisionName("Widget", "S/1", ".jpg", 0))
	require.Equal(t, "Widget_S1.jpg", CollisionName("Widget", "S/1", ".jpg", 1))
	require.Equal(t, "Widget_S1_2.jpg", CollisionName("Widget", "S/1", ".jpg", 2))
	require.Equal(t, "Widget_item_3.png", CollisionName("Widget", "///", ".png", 3))
}

type hasherFunc func([]byte) (string, error)

func (f hasherFunc) Hash(b []byte) (string, error) {
	return f(b)
}
