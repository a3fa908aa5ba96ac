package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfigueroa88/muselink/internal/domain"
	"github.com/jfigueroa88/muselink/internal/download"
	"github.com/jfigueroa88/muselink/internal/eventbus"
	"github.com/jfigueroa88/muselink/internal/logger"
	"github.com/jfigueroa88/muselink/internal/permission"
	"github.com/jfigueroa88/muselink/internal/plugin"
	"github.com/jfigueroa88/muselink/internal/resolver"
	"github.com/jfigueroa88/muselink/internal/store"
)

type grantAll struct{}

func (grantAll) Prompt(ctx context.Context, t permission.Type) (permission.Grant, error) {
	return permission.Grant{Type: t, GrantedAt: time.Now()}, nil
}

type noopTagger struct{}

func (noopTagger) Tag(string, *domain.DownloadedTrackMetadata) error { return nil }

// fakeSource streams a fixed payload for every track it owns.
type fakeSource struct {
	id      string
	payload string
}

func (f *fakeSource) ID() string { return f.id }

func (f *fakeSource) ConfigSchema() []plugin.ConfigField {
	return []plugin.ConfigField{
		{Key: "base_url", Label: "Base URL", Type: plugin.FieldString},
	}
}

func (f *fakeSource) OpenStream(ctx context.Context, track *domain.Track) (*plugin.Stream, error) {
	return &plugin.Stream{
		Body:     io.NopCloser(strings.NewReader(f.payload)),
		MimeType: "audio/mpeg",
		Size:     int64(len(f.payload)),
	}, nil
}

func (f *fakeSource) ApplyConfig(values map[string]any) error { return nil }

type fixture struct {
	handler *Handler
	server  *httptest.Server
	bus     *eventbus.Bus
	orch    *download.Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	dir := t.TempDir()

	db, err := store.NewSQLiteDB(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	catalog, err := store.NewCatalog(db)
	require.NoError(t, err)
	settings := store.NewSettingsRepo(db)

	bus := eventbus.New(log)
	registry := plugin.NewRegistry(bus, log)
	require.NoError(t, registry.Register(&fakeSource{id: "fake", payload: "audio bytes"}))

	perms := permission.NewService(grantAll{}, log)
	orch := download.NewOrchestrator(registry, perms, bus, catalog, noopTagger{},
		download.Config{Dir: filepath.Join(dir, "music")}, log)
	t.Cleanup(orch.Close)

	res := resolver.New(nil, nil, orch, log)
	h := NewHandler(orch, registry, res, bus, settings, log)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &fixture{handler: h, server: srv, bus: bus, orch: orch}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func testTrack(sourceID string) domain.Track {
	return domain.Track{
		ID:      domain.NewTrackID("fake", sourceID),
		Title:   "Song " + sourceID,
		Artists: []domain.ArtistRef{{Name: "Artist"}},
	}
}

func waitCompleted(t *testing.T, f *fixture, id domain.TrackID) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if info, ok := f.orch.Info(id); ok && info.Status == domain.DownloadCompleted {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("download %s never completed", id)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRequestDownloadAccepted(t *testing.T) {
	f := newFixture(t)
	track := testTrack("1")

	resp := f.do(t, http.MethodPost, "/api/downloads", track)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	info := decode[domain.DownloadInfo](t, resp)
	assert.Equal(t, track.ID, info.TrackID)

	waitCompleted(t, f, track.ID)

	resp = f.do(t, http.MethodGet, "/api/downloads", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]domain.DownloadInfo](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, domain.DownloadCompleted, list[0].Status)
}

func TestRequestDownloadRejectsBadBody(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/downloads", map[string]string{"title": "no id"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelUnknownDownload(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/downloads/fake:404/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRetryRequiresFailedState(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/downloads/fake:404/retry", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestRemoveDownload(t *testing.T) {
	f := newFixture(t)
	track := testTrack("2")

	resp := f.do(t, http.MethodPost, "/api/downloads", track)
	resp.Body.Close()
	waitCompleted(t, f, track.ID)

	resp = f.do(t, http.MethodDelete, "/api/downloads/fake:2", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodDelete, "/api/downloads/fake:2", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestGetTrackResolved(t *testing.T) {
	f := newFixture(t)
	track := testTrack("3")

	resp := f.do(t, http.MethodPost, "/api/downloads", track)
	resp.Body.Close()
	waitCompleted(t, f, track.ID)

	resp = f.do(t, http.MethodGet, "/api/tracks/fake:3", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[domain.Track](t, resp)
	assert.Equal(t, track.ID, got.ID)
	assert.Equal(t, "Song 3", got.Title)
}

func TestGetTrackUnknown(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/tracks/fake:404", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestPluginEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/plugins", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	descs := decode[[]plugin.Descriptor](t, resp)
	require.Len(t, descs, 1)
	assert.Equal(t, "fake", descs[0].ID)
	assert.Contains(t, descs[0].Capabilities, plugin.CapabilityStream)

	resp = f.do(t, http.MethodGet, "/api/plugins/fake/schema", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	schema := decode[[]plugin.ConfigField](t, resp)
	require.Len(t, schema, 1)
	assert.Equal(t, "base_url", schema[0].Key)

	resp = f.do(t, http.MethodGet, "/api/plugins/nope/schema", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestApplyPluginConfigPersists(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPut, "/api/plugins/fake/config", map[string]any{"base_url": "http://x"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	raw, err := f.handler.Settings.Get(store.SettingPluginConfigPrefix + "fake")
	require.NoError(t, err)
	assert.JSONEq(t, `{"base_url":"http://x"}`, raw)

	resp = f.do(t, http.MethodPut, "/api/plugins/fake/config", map[string]any{"bogus": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodPut, "/api/plugins/nope/config", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestEventHistoryEndpoint(t *testing.T) {
	f := newFixture(t)
	track := testTrack("4")

	resp := f.do(t, http.MethodPost, "/api/downloads", track)
	resp.Body.Close()
	waitCompleted(t, f, track.ID)

	resp = f.do(t, http.MethodGet, "/api/events/download:completed/history?limit=5", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]map[string]any](t, resp)
	require.NotEmpty(t, events)

	resp = f.do(t, http.MethodGet, "/api/events/download:completed/history?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
