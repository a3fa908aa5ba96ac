package download

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfigueroa88/muselink/internal/domain"
	"github.com/jfigueroa88/muselink/internal/eventbus"
	"github.com/jfigueroa88/muselink/internal/logger"
	"github.com/jfigueroa88/muselink/internal/permission"
	"github.com/jfigueroa88/muselink/internal/plugin"
	"github.com/jfigueroa88/muselink/internal/store"
)

// chunkReader yields chunks pushed by the test, EOF once closed.
type chunkReader struct {
	chunks chan []byte
	closed atomic.Bool
}

func newChunkReader() *chunkReader {
	return &chunkReader{chunks: make(chan []byte, 16)}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	chunk, ok := <-r.chunks
	if !ok {
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}

func (r *chunkReader) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *chunkReader) push(data []byte) { r.chunks <- data }

func (r *chunkReader) finish() { close(r.chunks) }

// fakeSource is a streaming plugin whose stream the test controls.
type fakeSource struct {
	id      string
	size    int64
	opens   atomic.Int32
	openErr error

	mu      sync.Mutex
	readers []*chunkReader
}

func (s *fakeSource) ID() string { return s.id }

func (s *fakeSource) ConfigSchema() []plugin.ConfigField { return nil }

func (s *fakeSource) OpenStream(ctx context.Context, track *domain.Track) (*plugin.Stream, error) {
	s.opens.Add(1)
	if s.openErr != nil {
		return nil, s.openErr
	}
	r := newChunkReader()
	s.mu.Lock()
	s.readers = append(s.readers, r)
	s.mu.Unlock()
	return &plugin.Stream{Body: r, MimeType: "audio/flac", Size: s.size}, nil
}

func (s *fakeSource) reader(t *testing.T) *chunkReader {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.readers) > 0 {
			r := s.readers[len(s.readers)-1]
			s.mu.Unlock()
			return r
		}
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("stream never opened")
	return nil
}

// grantAll approves every permission request and counts prompts.
type grantAll struct {
	prompts atomic.Int32
}

func (p *grantAll) Prompt(ctx context.Context, t permission.Type) (permission.Grant, error) {
	p.prompts.Add(1)
	return permission.Grant{Type: t, GrantedAt: time.Now()}, nil
}

// denyAll refuses every permission request.
type denyAll struct{}

func (denyAll) Prompt(ctx context.Context, t permission.Type) (permission.Grant, error) {
	return permission.Grant{}, &permission.DeniedError{Type: t}
}

// gatedPrompt blocks every prompt until the gate is opened, holding
// downloads in the pending state.
type gatedPrompt struct {
	gate chan struct{}
}

func newGatedPrompt() *gatedPrompt {
	return &gatedPrompt{gate: make(chan struct{})}
}

func (p *gatedPrompt) Prompt(ctx context.Context, t permission.Type) (permission.Grant, error) {
	<-p.gate
	return permission.Grant{Type: t, GrantedAt: time.Now()}, nil
}

type fixture struct {
	orch     *Orchestrator
	bus      *eventbus.Bus
	registry *plugin.Registry
	catalog  *store.Catalog
	dir      string
}

func newFixture(t *testing.T, prompter permission.Prompter) *fixture {
	t.Helper()
	log := logger.Discard()
	bus := eventbus.New(log)
	registry := plugin.NewRegistry(bus, log)

	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	catalog, err := store.NewCatalog(db)
	require.NoError(t, err)

	dir := t.TempDir()
	orch := NewOrchestrator(
		registry,
		permission.NewService(prompter, log),
		bus,
		catalog,
		nil,
		Config{Dir: dir, MaxConcurrent: 4, ProgressInterval: time.Millisecond},
		log,
	)
	t.Cleanup(orch.Close)

	return &fixture{orch: orch, bus: bus, registry: registry, catalog: catalog, dir: dir}
}

func testTrack(source, id, title string) domain.Track {
	return domain.Track{
		ID:      domain.NewTrackID(source, id),
		Title:   title,
		Artists: []domain.ArtistRef{{Name: "Artist"}},
		Artwork: []domain.Artwork{{URL: "http://art/640.jpg", Width: 640, Height: 640}},
	}
}

// waitStatus polls the bookkeeping record until it reaches the wanted
// status.
func waitStatus(t *testing.T, fx *fixture, id domain.TrackID, want domain.DownloadStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := fx.orch.Info(id); ok && info.Status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("track %s never reached status %s", id, want)
}

func TestDownloadCompletes(t *testing.T) {
	fx := newFixture(t, &grantAll{})
	src := &fakeSource{id: "hifi", size: 8}
	require.NoError(t, fx.registry.Register(src))

	var events []any
	fx.bus.Subscribe(EventCompleted, func(p any) { events = append(events, p) })

	done := make(chan struct{})
	var meta *domain.DownloadedTrackMetadata
	var err error
	go func() {
		defer close(done)
		meta, err = fx.orch.Download(context.Background(), testTrack("hifi", "1", "Song"))
	}()

	r := src.reader(t)
	r.push([]byte("abcd"))
	r.push([]byte("efgh"))
	r.finish()
	<-done

	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(8), meta.FileSize)
	assert.Equal(t, "flac", meta.Format)

	data, readErr := os.ReadFile(meta.FilePath)
	require.NoError(t, readErr)
	assert.Equal(t, "abcdefgh", string(data))

	stored, ok := fx.catalog.Get(meta.TrackID)
	require.True(t, ok, "catalog entry missing")
	assert.Equal(t, meta.FilePath, stored.FilePath)

	info, ok := fx.orch.Info(meta.TrackID)
	require.True(t, ok)
	assert.Equal(t, domain.DownloadCompleted, info.Status)
	assert.Equal(t, 100, info.Progress)
	assert.Equal(t, "http://art/640.jpg", info.ArtworkURL)

	require.Len(t, events, 1)
	assert.Equal(t, "hifi:1", events[0].(CompletedEvent).TrackID)

	history := fx.bus.History(EventProgress, 0)
	require.NotEmpty(t, history)
	last := history[len(history)-1].(ProgressEvent)
	assert.Equal(t, 100, last.Progress, "terminal progress event must be emitted")
}

func TestConcurrentDownloadsCoalesce(t *testing.T) {
	fx := newFixture(t, &grantAll{})
	src := &fakeSource{id: "hifi", size: 4}
	require.NoError(t, fx.registry.Register(src))

	track := testTrack("hifi", "1", "Song")
	const callers = 5

	var wg sync.WaitGroup
	metas := make([]*domain.DownloadedTrackMetadata, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			metas[i], errs[i] = fx.orch.Download(context.Background(), track)
		}(i)
	}

	r := src.reader(t)
	// Let every caller join the in-flight task before finishing.
	time.Sleep(20 * time.Millisecond)
	r.push([]byte("data"))
	r.finish()
	wg.Wait()

	assert.Equal(t, int32(1), src.opens.Load(), "expected exactly one stream open")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, metas[0].FilePath, metas[i].FilePath, "all callers observe the same outcome")
	}
}

func TestDownloadAlreadyCompletedReturnsExisting(t *testing.T) {
	fx := newFixture(t, &grantAll{})
	src := &fakeSource{id: "hifi", size: 4}
	require.NoError(t, fx.registry.Register(src))

	track := testTrack("hifi", "1", "Song")
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = fx.orch.Download(context.Background(), track)
	}()
	r := src.reader(t)
	r.push([]byte("data"))
	r.finish()
	<-done

	meta, err := fx.orch.Download(context.Background(), track)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int32(1), src.opens.Load(), "completed track must not re-open a stream")
}

func TestCancelDuringDownloading(t *testing.T) {
	fx := newFixture(t, &grantAll{})
	src := &fakeSource{id: "hifi", size: 100}
	require.NoError(t, fx.registry.Register(src))

	var cancelled []any
	fx.bus.Subscribe(EventCancelled, func(p any) { cancelled = append(cancelled, p) })

	track := testTrack("hifi", "1", "Song")
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = fx.orch.Download(context.Background(), track)
	}()

	r := src.reader(t)
	r.push([]byte("partial"))
	waitStatus(t, fx, track.ID, domain.DownloadDownloading)
	assert.True(t, fx.orch.Cancel(track.ID))
	r.push([]byte("more")) // unblock the read loop so it observes the token
	r.finish()
	<-done

	require.ErrorIs(t, err, ErrCancelled)

	// Fully discarded: no info, no catalog entry, no staged bytes.
	_, ok := fx.orch.Info(track.ID)
	assert.False(t, ok, "cancelled download must leave no record")
	_, ok = fx.catalog.Get(track.ID)
	assert.False(t, ok, "cancel must never produce a catalog entry")
	entries, _ := filepath.Glob(filepath.Join(fx.dir, "*", "*"))
	assert.Empty(t, entries, "staged bytes must be discarded")

	require.Len(t, cancelled, 1)
	assert.False(t, fx.orch.Cancel(track.ID), "cancel is a no-op once nothing is in flight")
}

func TestCancelPendingIsNoOp(t *testing.T) {
	prompt := newGatedPrompt()
	fx := newFixture(t, prompt)
	src := &fakeSource{id: "hifi", size: 4}
	require.NoError(t, fx.registry.Register(src))

	track := testTrack("hifi", "1", "Song")
	done := make(chan struct{})
	var meta *domain.DownloadedTrackMetadata
	var err error
	go func() {
		defer close(done)
		meta, err = fx.orch.Download(context.Background(), track)
	}()
	waitStatus(t, fx, track.ID, domain.DownloadPending)

	// Still waiting on the permission prompt; only actively streaming
	// downloads can be cancelled.
	assert.False(t, fx.orch.Cancel(track.ID), "cancel must not abort a pending download")
	assert.Equal(t, int32(0), src.opens.Load())

	close(prompt.gate)
	r := src.reader(t)
	r.push([]byte("data"))
	r.finish()
	<-done

	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(4), meta.FileSize)
}

func TestEnqueueRegistersSynchronously(t *testing.T) {
	prompt := newGatedPrompt()
	fx := newFixture(t, prompt)
	src := &fakeSource{id: "hifi", size: 4}
	require.NoError(t, fx.registry.Register(src))

	track := testTrack("hifi", "1", "Song")
	info, err := fx.orch.Enqueue(track)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, track.ID, info.TrackID)
	assert.Equal(t, domain.DownloadPending, info.Status)

	// The record is visible immediately, without waiting for the task.
	got, ok := fx.orch.Info(track.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DownloadPending, got.Status)

	close(prompt.gate)
	r := src.reader(t)
	r.push([]byte("data"))
	r.finish()
	waitStatus(t, fx, track.ID, domain.DownloadCompleted)
}

func TestEnqueueCompletedTrackReturnsCompletedInfo(t *testing.T) {
	fx := newFixture(t, &grantAll{})
	src := &fakeSource{id: "hifi", size: 4}
	require.NoError(t, fx.registry.Register(src))

	track := testTrack("hifi", "1", "Song")
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = fx.orch.Download(context.Background(), track)
	}()
	r := src.reader(t)
	r.push([]byte("data"))
	r.finish()
	<-done
	require.NoError(t, err)

	info, err := fx.orch.Enqueue(track)
	require.NoError(t, err)
	assert.Equal(t, domain.DownloadCompleted, info.Status)
	assert.Equal(t, int32(1), src.opens.Load(), "completed track must not re-open a stream")

	_, err = fx.orch.Enqueue(domain.Track{})
	assert.Error(t, err)
}

func TestPermissionDeniedFailsDownload(t *testing.T) {
	fx := newFixture(t, denyAll{})
	src := &fakeSource{id: "hifi", size: 4}
	require.NoError(t, fx.registry.Register(src))

	track := testTrack("hifi", "1", "Song")
	_, err := fx.orch.Download(context.Background(), track)

	var denied *permission.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, int32(0), src.opens.Load(), "no stream may open without permission")

	info, ok := fx.orch.Info(track.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DownloadFailed, info.Status)
	assert.Contains(t, info.Error, "denied")
}

func TestNoProviderFailsFast(t *testing.T) {
	fx := newFixture(t, &grantAll{})

	_, err := fx.orch.Download(context.Background(), testTrack("ghost", "1", "Song"))

	var noProvider *NoProviderError
	require.ErrorAs(t, err, &noProvider)
	assert.Equal(t, "ghost", noProvider.Source)
}

func TestProviderVanishingMidDownloadFails(t *testing.T) {
	fx := newFixture(t, &grantAll{})
	src := &fakeSource{id: "hifi", size: 100}
	require.NoError(t, fx.registry.Register(src))

	var failed []any
	fx.bus.Subscribe(EventFailed, func(p any) { failed = append(failed, p) })

	track := testTrack("hifi", "1", "Song")
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = fx.orch.Download(context.Background(), track)
	}()

	r := src.reader(t)
	r.push([]byte("partial"))
	time.Sleep(10 * time.Millisecond)
	fx.registry.Unregister("hifi")
	r.push([]byte("more"))
	r.finish()
	<-done

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	require.Len(t, failed, 1)

	info, ok := fx.orch.Info(track.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DownloadFailed, info.Status)
}

func TestRetryAfterFailure(t *testing.T) {
	fx := newFixture(t, &grantAll{})
	src := &fakeSource{id: "hifi", size: 4, openErr: errors.New("boom")}
	require.NoError(t, fx.registry.Register(src))

	track := testTrack("hifi", "1", "Song")
	_, err := fx.orch.Download(context.Background(), track)
	require.Error(t, err)

	info, ok := fx.orch.Info(track.ID)
	require.True(t, ok)
	require.Equal(t, domain.DownloadFailed, info.Status)

	// Provider recovers; retry must run the full flow to completion.
	src.openErr = nil
	done := make(chan struct{})
	var meta *domain.DownloadedTrackMetadata
	go func() {
		defer close(done)
		meta, err = fx.orch.Retry(context.Background(), track.ID)
	}()
	r := src.reader(t)
	r.push([]byte("data"))
	r.finish()
	<-done

	require.NoError(t, err)
	require.NotNil(t, meta)
	info, _ = fx.orch.Info(track.ID)
	assert.Equal(t, domain.DownloadCompleted, info.Status)
}

func TestRetryOnlyValidFromFailed(t *testing.T) {
	fx := newFixture(t, &grantAll{})

	_, err := fx.orch.Retry(context.Background(), domain.NewTrackID("hifi", "1"))
	assert.ErrorIs(t, err, ErrNotFailed)
}

func TestRemoveDeletesFileAndCatalogEntry(t *testing.T) {
	fx := newFixture(t, &grantAll{})
	src := &fakeSource{id: "hifi", size: 4}
	require.NoError(t, fx.registry.Register(src))

	var removed []any
	fx.bus.Subscribe(EventRemoved, func(p any) { removed = append(removed, p) })

	track := testTrack("hifi", "1", "Song")
	done := make(chan struct{})
	var meta *domain.DownloadedTrackMetadata
	go func() {
		defer close(done)
		meta, _ = fx.orch.Download(context.Background(), track)
	}()
	r := src.reader(t)
	r.push([]byte("data"))
	r.finish()
	<-done
	require.NotNil(t, meta)

	require.NoError(t, fx.orch.Remove(track.ID))

	_, statErr := os.Stat(meta.FilePath)
	assert.True(t, os.IsNotExist(statErr), "backing file must be deleted")
	_, ok := fx.catalog.Get(track.ID)
	assert.False(t, ok)
	_, ok = fx.orch.Info(track.ID)
	assert.False(t, ok)
	assert.Len(t, removed, 1)

	assert.ErrorIs(t, fx.orch.Remove(track.ID), ErrNotCompleted)
}

func TestListSeededFromCatalog(t *testing.T) {
	log := logger.Discard()
	bus := eventbus.New(log)
	registry := plugin.NewRegistry(bus, log)

	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer db.Close()
	catalog, err := store.NewCatalog(db)
	require.NoError(t, err)
	require.NoError(t, catalog.Put(&domain.DownloadedTrackMetadata{
		TrackID:      domain.NewTrackID("hifi", "1"),
		Source:       "hifi",
		Title:        "Persisted",
		FilePath:     "/music/p.flac",
		FileSize:     1,
		Format:       "flac",
		DownloadedAt: time.Now(),
	}))

	orch := NewOrchestrator(registry, permission.NewService(&grantAll{}, log), bus, catalog, nil, Config{Dir: t.TempDir()}, log)
	defer orch.Close()

	list := orch.List()
	require.Len(t, list, 1)
	assert.Equal(t, domain.DownloadCompleted, list[0].Status)
	assert.Equal(t, "Persisted", list[0].Title)
}
