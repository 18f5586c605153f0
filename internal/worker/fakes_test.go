package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]sourcing.Candidate
	err     error
	calls   []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]sourcing.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, query)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func (f *fakeSearcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeDownloader struct {
	mu     sync.Mutex
	images map[string]sourcing.Image
	errs   map[string]error
	calls  []string
}

func (f *fakeDownloader) Download(_ context.Context, url string) (sourcing.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return sourcing.Image{}, err
	}
	if img, ok := f.images[url]; ok {
		return img, nil
	}
	return sourcing.Image{URL: url, ContentType: "image/jpeg", Body: []byte("jpeg:" + url)}, nil
}

type memStore struct {
	mu        sync.Mutex
	files     map[string][]byte
	createErr error
	ensureErr error
}

func newMemStore(existing ...string) *memStore {
	s := &memStore{files: make(map[string][]byte)}
	for _, name := range existing {
		s.files[name] = []byte("existing")
	}
	return s
}

func (s *memStore) EnsureDir() error { return s.ensureErr }

func (s *memStore) Exists(filename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[filename]
	return ok
}

func (s *memStore) Create(_ context.Context, filename string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	if _, ok := s.files[filename]; ok {
		return "", fmt.Errorf("create %s: %w", filename, fs.ErrExist)
	}
	s.files[filename] = append([]byte(nil), data...)
	return s.Path(filename), nil
}

func (s *memStore) Path(filename string) string {
	return path.Join("/out", filename)
}

func (s *memStore) Names() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.files))
	for k, v := range s.files {
		out[k] = string(v)
	}
	return out
}

type memLedger struct {
	mu        sync.Mutex
	state     sourcing.ResumeState
	loadErr   error
	appendErr error
	entries   []sourcing.LedgerEntry
}

func newMemLedger() *memLedger {
	return &memLedger{state: sourcing.NewResumeState()}
}

func (l *memLedger) Load(context.Context) (sourcing.ResumeState, error) {
	if l.loadErr != nil {
		return sourcing.ResumeState{}, l.loadErr
	}
	return l.state, nil
}

func (l *memLedger) Append(_ context.Context, entry sourcing.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return l.appendErr
	}
	l.entries = append(l.entries, entry)
	return nil
}

func (l *memLedger) Entries() []sourcing.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sourcing.LedgerEntry(nil), l.entries...)
}

type fakeMirror struct {
	records []sourcing.MirrorRecord
	err     error
}

func (m *fakeMirror) Mirror(_ context.Context, rec sourcing.MirrorRecord) error {
	m.records = append(m.records, rec)
	return m.err
}

type fakePublisher struct {
	dupID       int64
	dupFound    bool
	dupErr      error
	uploadID    int64
	uploadErr   error
	recordID    int64
	recordFound bool
	findErr     error
	assigned    bool
	assignErr   error

	uploads []string
	metas   []sourcing.MediaMeta
	assigns [][2]int64
}

func (p *fakePublisher) CheckDuplicate(context.Context, string, string) (int64, bool, error) {
	return p.dupID, p.dupFound, p.dupErr
}

func (p *fakePublisher) UploadMedia(_ context.Context, path string, meta sourcing.MediaMeta) (int64, error) {
	p.uploads = append(p.uploads, path)
	p.metas = append(p.metas, meta)
	return p.uploadID, p.uploadErr
}

func (p *fakePublisher) FindCatalogRecord(context.Context, string, string) (int64, bool, error) {
	return p.recordID, p.recordFound, p.findErr
}

func (p *fakePublisher) SetPrimaryImage(_ context.Context, recordID, mediaID int64) (bool, error) {
	p.assigns = append(p.assigns, [2]int64{recordID, mediaID})
	return p.assigned, p.assignErr
}

type eventRecorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *eventRecorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func (r *eventRecorder) Phases() []progress.Phase {
	var out []progress.Phase
	for _, evt := range r.Events() {
		out = append(out, evt.Phase)
	}
	return out
}

func (r *eventRecorder) PhasesFor(sku string) []progress.Phase {
	var out []progress.Phase
	for _, evt := range r.Events() {
		if evt.SKU == sku {
			out = append(out, evt.Phase)
		}
	}
	return out
}

type fixedIDs struct {
	id  uuid.UUID
	err error
}

func (f fixedIDs) NewRunID() (uuid.UUID, error) {
	return f.id, f.err
}

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time {
	return c.now
}

// stubRetriever returns a canned outcome without touching any backend.
type stubRetriever struct {
	outcome sourcing.Outcome
	err     error
	calls   int
}

func (s *stubRetriever) Retrieve(
	context.Context,
	sourcing.CatalogItem,
	[]sourcing.Strategy,
	progress.Emitter,
) (sourcing.Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

var errBoom = errors.New("boom")
