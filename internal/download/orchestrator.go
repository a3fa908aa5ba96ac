// Package download drives each track through its download lifecycle
// exactly once at a time, with observable progress and explicit failure
// reasons.
package download

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jfigueroa88/muselink/internal/constants"
	"github.com/jfigueroa88/muselink/internal/domain"
	"github.com/jfigueroa88/muselink/internal/eventbus"
	"github.com/jfigueroa88/muselink/internal/logger"
	"github.com/jfigueroa88/muselink/internal/permission"
	"github.com/jfigueroa88/muselink/internal/plugin"
	"github.com/jfigueroa88/muselink/internal/storage"
	"github.com/jfigueroa88/muselink/internal/store"
)

const chunkSize = 32 * 1024

// Tagger post-processes a completed file with its metadata. Failures are
// logged, never fatal.
type Tagger interface {
	Tag(path string, meta *domain.DownloadedTrackMetadata) error
}

// Config holds orchestrator tunables.
type Config struct {
	// Dir is the root downloads directory.
	Dir string
	// PathTemplate places completed files below Dir.
	PathTemplate string
	// MaxConcurrent caps simultaneously streaming downloads.
	MaxConcurrent int64
	// ProgressInterval is the minimum spacing between progress events for
	// one track. Progress is additionally coalesced to whole percentage
	// points; the terminal 100% event is always emitted.
	ProgressInterval time.Duration
}

func (c *Config) fillDefaults() {
	if c.PathTemplate == "" {
		c.PathTemplate = constants.DefaultPathTemplate
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = constants.DefaultConcurrency
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = constants.DefaultProgressInterval
	}
}

// task is one in-flight download. Concurrent callers for the same track
// id share a single task and observe the same terminal outcome.
type task struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}

	meta *domain.DownloadedTrackMetadata
	err  error
}

// Orchestrator owns the in-flight download map and the completed-download
// catalog; external callers only read through its public operations.
type Orchestrator struct {
	registry *plugin.Registry
	perms    *permission.Service
	bus      eventbus.Publisher
	catalog  *store.Catalog
	tagger   Tagger
	log      *logger.Logger
	cfg      Config
	sem      *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	active map[string]*task
	infos  map[string]*domain.DownloadInfo
	tracks map[string]domain.Track // last requested value, kept for retry
}

func NewOrchestrator(
	registry *plugin.Registry,
	perms *permission.Service,
	bus eventbus.Publisher,
	catalog *store.Catalog,
	tagger Tagger,
	cfg Config,
	log *logger.Logger,
) *Orchestrator {
	cfg.fillDefaults()
	if log == nil {
		log = logger.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		registry:   registry,
		perms:      perms,
		bus:        bus,
		catalog:    catalog,
		tagger:     tagger,
		log:        log.WithComponent("download"),
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		baseCtx:    ctx,
		baseCancel: cancel,
		active:     make(map[string]*task),
		infos:      make(map[string]*domain.DownloadInfo),
		tracks:     make(map[string]domain.Track),
	}

	// Seed bookkeeping from the durable catalog so completed downloads
	// survive restarts.
	for _, meta := range catalog.List() {
		o.infos[meta.TrackID.String()] = meta.Info()
	}
	return o
}

// Recover discards staged files left behind by an interrupted run.
func (o *Orchestrator) Recover() {
	removed, err := storage.CleanOrphanedStaging(o.cfg.Dir)
	if err != nil {
		o.log.Warn("Staging cleanup incomplete", "error", err)
	}
	if removed > 0 {
		o.log.Info("Discarded interrupted downloads", "count", removed)
	}
}

// Close cancels all in-flight downloads and waits for them to unwind.
func (o *Orchestrator) Close() {
	o.baseCancel()
	o.wg.Wait()
}

// Download drives the track through the download state machine and blocks
// until a terminal outcome. A second call while the track is pending or
// downloading joins the existing in-flight task instead of opening a
// duplicate stream. A track already in the catalog returns its existing
// metadata.
func (o *Orchestrator) Download(ctx context.Context, track domain.Track) (*domain.DownloadedTrackMetadata, error) {
	t, _, meta, err := o.start(track)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return meta, nil
	}
	return o.wait(ctx, t)
}

// Enqueue starts the download without waiting for its outcome and returns
// the bookkeeping record as registered, so callers that only need an
// acknowledgement observe a consistent pending (or already completed)
// state. Progress and the terminal outcome arrive as events.
func (o *Orchestrator) Enqueue(track domain.Track) (*domain.DownloadInfo, error) {
	_, info, _, err := o.start(track)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// start coalesces the request: join the in-flight task, return the
// existing catalog entry, or register a new task. The returned info is a
// copy of the bookkeeping record taken inside the same critical section
// the task is registered in. t is nil for catalog hits; meta is non-nil
// only for catalog hits.
func (o *Orchestrator) start(track domain.Track) (*task, *domain.DownloadInfo, *domain.DownloadedTrackMetadata, error) {
	if track.ID.IsZero() {
		return nil, nil, nil, errors.New("track has no id")
	}
	token := track.ID.String()

	o.mu.Lock()
	if t, ok := o.active[token]; ok {
		info := *o.infos[token]
		o.mu.Unlock()
		return t, &info, nil, nil
	}
	if meta, ok := o.catalog.Get(track.ID); ok {
		o.mu.Unlock()
		return nil, meta.Info(), meta, nil
	}

	taskCtx, cancel := context.WithCancel(o.baseCtx)
	t := &task{
		jobID:  uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	pending := o.pendingInfo(track)
	o.active[token] = t
	o.infos[token] = pending
	o.tracks[token] = track
	info := *pending
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(taskCtx, track, t)

	return t, &info, nil, nil
}

func (o *Orchestrator) pendingInfo(track domain.Track) *domain.DownloadInfo {
	info := &domain.DownloadInfo{
		TrackID: track.ID,
		Status:  domain.DownloadPending,
		Title:   track.Title,
		Artist:  track.ArtistNames(),
	}
	if art, ok := track.ArtworkNearest(constants.DefaultArtworkWidth); ok {
		info.ArtworkURL = art.URL
	}
	return info
}

// wait blocks on the shared task. A caller whose context expires stops
// waiting; the task keeps running for the remaining callers.
func (o *Orchestrator) wait(ctx context.Context, t *task) (*domain.DownloadedTrackMetadata, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return t.meta, t.err
	}
}

func (o *Orchestrator) run(ctx context.Context, track domain.Track, t *task) {
	defer o.wg.Done()
	token := track.ID.String()
	log := o.log.WithTrack(token).With("job_id", t.jobID)

	meta, err := o.perform(ctx, track, t, log)

	o.mu.Lock()
	delete(o.active, token)
	switch {
	case err == nil:
		o.infos[token] = meta.Info()
	case errors.Is(err, ErrCancelled):
		// Fully discarded, not recorded as failed.
		delete(o.infos, token)
		delete(o.tracks, token)
	default:
		if info, ok := o.infos[token]; ok {
			info.Status = domain.DownloadFailed
			info.Error = err.Error()
		}
	}
	o.mu.Unlock()

	t.meta = meta
	t.err = err
	close(t.done)

	switch {
	case err == nil:
		log.Info("Download completed", "file_path", meta.FilePath, "file_size", meta.FileSize)
		o.bus.Emit(EventCompleted, CompletedEvent{TrackID: token, Metadata: meta})
	case errors.Is(err, ErrCancelled):
		log.Info("Download cancelled")
		o.bus.Emit(EventCancelled, CancelledEvent{TrackID: token})
	default:
		log.Error("Download failed", "error", err)
		o.bus.Emit(EventFailed, FailedEvent{TrackID: token, Error: err.Error()})
	}
}

func (o *Orchestrator) perform(ctx context.Context, track domain.Track, t *task, log *logger.Logger) (*domain.DownloadedTrackMetadata, error) {
	token := track.ID.String()
	source := track.ID.Source

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, ErrCancelled
	}
	defer o.sem.Release(1)

	// Storage permission is acquired once; concurrent downloads share a
	// single prompt through the permission service.
	if _, err := o.perms.Request(ctx, permission.TypeStorage); err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, err
	}

	streamer, ok := o.registry.Streamer(source)
	if !ok {
		return nil, &NoProviderError{Source: source}
	}

	stream, err := streamer.OpenStream(ctx, &track)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, &StreamError{Source: source, Err: err}
	}
	defer stream.Body.Close()

	o.setStatus(token, domain.DownloadDownloading)
	log.Info("Downloading", "mime_type", stream.MimeType, "size", stream.Size)

	ext := constants.ExtensionForMime(stream.MimeType)
	data := storage.BuildTemplateData(track.ArtistNames(), track.Title, source)
	finalPath, err := storage.BuildFullPath(o.cfg.Dir, o.cfg.PathTemplate, data, ext)
	if err != nil {
		return nil, err
	}

	written, err := o.copyStream(ctx, token, source, stream, finalPath)
	if err != nil {
		_ = storage.DiscardStaging(finalPath)
		return nil, err
	}

	// Cancellation may race the final chunk; staged bytes are never
	// promoted once the token fired.
	if ctx.Err() != nil {
		_ = storage.DiscardStaging(finalPath)
		return nil, ErrCancelled
	}

	if err := storage.Promote(finalPath); err != nil {
		return nil, err
	}

	meta := &domain.DownloadedTrackMetadata{
		TrackID:      track.ID,
		Source:       source,
		Title:        track.Title,
		Artist:       track.ArtistNames(),
		FilePath:     finalPath,
		FileSize:     written,
		Format:       strings.TrimPrefix(ext, "."),
		DownloadedAt: time.Now().UTC(),
	}
	if art, ok := track.ArtworkNearest(constants.DefaultArtworkWidth); ok {
		meta.ArtworkURL = art.URL
	}

	if o.tagger != nil {
		if tagErr := o.tagger.Tag(finalPath, meta); tagErr != nil {
			log.Warn("Tagging failed", "error", tagErr)
		}
	}

	if err := o.catalog.Put(meta); err != nil {
		_ = storage.RemoveFile(finalPath)
		return nil, err
	}

	o.reportProgress(token, 100)
	return meta, nil
}

// copyStream writes the stream to a staging file, observing cancellation
// and the vanished-provider edge case at every chunk boundary.
func (o *Orchestrator) copyStream(ctx context.Context, token, source string, stream *plugin.Stream, finalPath string) (int64, error) {
	f, err := storage.CreateStaging(finalPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var written int64
	var lastPct int
	var lastEmit time.Time
	buf := make([]byte, chunkSize)

	for {
		select {
		case <-ctx.Done():
			return written, ErrCancelled
		default:
		}

		// A provider unregistered mid-download is a transport failure,
		// not a hang.
		if _, ok := o.registry.Get(source); !ok {
			return written, &StreamError{Source: source, Err: errors.New("provider unregistered mid-download")}
		}

		n, readErr := stream.Body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return written, &storage.Error{Op: "write", Path: finalPath, Err: writeErr}
			}
			written += int64(n)

			if stream.Size > 0 {
				pct := int(written * 100 / stream.Size)
				if pct > 100 {
					pct = 100
				}
				if pct >= lastPct+1 && time.Since(lastEmit) >= o.cfg.ProgressInterval {
					o.reportProgress(token, pct)
					lastPct = pct
					lastEmit = time.Now()
				}
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, &StreamError{Source: source, Err: readErr}
		}
	}
}

func (o *Orchestrator) setStatus(token string, status domain.DownloadStatus) {
	o.mu.Lock()
	if info, ok := o.infos[token]; ok {
		info.Status = status
	}
	o.mu.Unlock()
}

func (o *Orchestrator) reportProgress(token string, pct int) {
	o.mu.Lock()
	if info, ok := o.infos[token]; ok {
		info.Progress = pct
	}
	o.mu.Unlock()
	o.bus.Emit(EventProgress, ProgressEvent{TrackID: token, Progress: pct})
}

// Cancel aborts a download that is actively streaming; staged bytes are
// discarded and no record remains. Tracks that are still pending, or not
// in flight at all, are a no-op.
func (o *Orchestrator) Cancel(id domain.TrackID) bool {
	token := id.String()

	o.mu.Lock()
	t, ok := o.active[token]
	if ok {
		info, exists := o.infos[token]
		ok = exists && info.Status == domain.DownloadDownloading
	}
	o.mu.Unlock()

	if !ok {
		return false
	}
	t.cancel()
	return true
}

// Retry re-enters the download flow for a failed track. Only valid from
// the failed state.
func (o *Orchestrator) Retry(ctx context.Context, id domain.TrackID) (*domain.DownloadedTrackMetadata, error) {
	token := id.String()

	o.mu.Lock()
	info, ok := o.infos[token]
	if !ok || info.Status != domain.DownloadFailed {
		o.mu.Unlock()
		return nil, ErrNotFailed
	}
	track, ok := o.tracks[token]
	if !ok {
		o.mu.Unlock()
		return nil, ErrNotFailed
	}
	// Clear the failure so Download re-enters pending cleanly.
	delete(o.infos, token)
	o.mu.Unlock()

	return o.Download(ctx, track)
}

// Remove deletes a completed download's file and catalog entry. Only
// valid from the completed state.
func (o *Orchestrator) Remove(id domain.TrackID) error {
	token := id.String()

	meta, ok := o.catalog.Get(id)
	if !ok {
		return ErrNotCompleted
	}

	if err := storage.RemoveFile(meta.FilePath); err != nil {
		return err
	}
	if err := o.catalog.Delete(id); err != nil {
		return err
	}

	o.mu.Lock()
	delete(o.infos, token)
	delete(o.tracks, token)
	o.mu.Unlock()

	o.log.Info("Download removed", "track_id", token)
	o.bus.Emit(EventRemoved, RemovedEvent{TrackID: token})
	return nil
}

// Info returns a copy of the bookkeeping record for a track id.
func (o *Orchestrator) Info(id domain.TrackID) (*domain.DownloadInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	info, ok := o.infos[id.String()]
	if !ok {
		return nil, false
	}
	cp := *info
	return &cp, true
}

// List returns a copy of every bookkeeping record, ordered by track id.
func (o *Orchestrator) List() []*domain.DownloadInfo {
	o.mu.Lock()
	out := make([]*domain.DownloadInfo, 0, len(o.infos))
	for _, info := range o.infos {
		cp := *info
		out = append(out, &cp)
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].TrackID.String() < out[j].TrackID.String()
	})
	return out
}

// Metadata exposes the catalog read view for resolvers.
func (o *Orchestrator) Metadata(id domain.TrackID) (*domain.DownloadedTrackMetadata, bool) {
	return o.catalog.Get(id)
}
