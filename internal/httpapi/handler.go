// Package httpapi exposes the control surface over HTTP: download
// management, track resolution, plugin administration, and event history.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jfigueroa88/muselink/internal/domain"
	"github.com/jfigueroa88/muselink/internal/download"
	"github.com/jfigueroa88/muselink/internal/eventbus"
	"github.com/jfigueroa88/muselink/internal/logger"
	"github.com/jfigueroa88/muselink/internal/plugin"
	"github.com/jfigueroa88/muselink/internal/resolver"
	"github.com/jfigueroa88/muselink/internal/store"
)

// Handler carries the collaborators the routes need.
type Handler struct {
	Orchestrator *download.Orchestrator
	Registry     *plugin.Registry
	Resolver     *resolver.Resolver
	Bus          *eventbus.Bus
	Settings     *store.SettingsRepo
	Log          *logger.Logger
}

func NewHandler(
	orch *download.Orchestrator,
	registry *plugin.Registry,
	res *resolver.Resolver,
	bus *eventbus.Bus,
	settings *store.SettingsRepo,
	log *logger.Logger,
) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		Orchestrator: orch,
		Registry:     registry,
		Resolver:     res,
		Bus:          bus,
		Settings:     settings,
		Log:          log.WithComponent("httpapi"),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/downloads", h.ListDownloads)
		r.Post("/downloads", h.RequestDownload)
		r.Post("/downloads/{id}/cancel", h.CancelDownload)
		r.Post("/downloads/{id}/retry", h.RetryDownload)
		r.Delete("/downloads/{id}", h.RemoveDownload)

		r.Get("/tracks/{id}", h.GetTrack)

		r.Get("/plugins", h.ListPlugins)
		r.Get("/plugins/{id}/schema", h.PluginSchema)
		r.Put("/plugins/{id}/config", h.ApplyPluginConfig)

		r.Get("/events/{name}/history", h.EventHistory)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func trackIDParam(r *http.Request) (domain.TrackID, error) {
	return domain.ParseTrackID(chi.URLParam(r, "id"))
}

func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Orchestrator.List())
}

// RequestDownload accepts a full track document and starts the download
// in the background. The response always carries the bookkeeping record
// as registered; progress and the terminal outcome arrive as events.
func (h *Handler) RequestDownload(w http.ResponseWriter, r *http.Request) {
	var track domain.Track
	if err := json.NewDecoder(r.Body).Decode(&track); err != nil {
		respondError(w, http.StatusBadRequest, "invalid track document: "+err.Error())
		return
	}
	if track.ID.IsZero() {
		respondError(w, http.StatusBadRequest, "track has no id")
		return
	}

	info, err := h.Orchestrator.Enqueue(track)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, info)
}

func (h *Handler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	id, err := trackIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.Orchestrator.Cancel(id) {
		respondError(w, http.StatusNotFound, "track is not downloading: "+id.String())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"track_id": id.String()})
}

func (h *Handler) RetryDownload(w http.ResponseWriter, r *http.Request) {
	id, err := trackIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, ok := h.Orchestrator.Info(id)
	if !ok || info.Status != domain.DownloadFailed {
		respondError(w, http.StatusConflict, "download is not in the failed state")
		return
	}

	go func() {
		if _, err := h.Orchestrator.Retry(context.Background(), id); err != nil &&
			!errors.Is(err, download.ErrNotFailed) && !errors.Is(err, download.ErrCancelled) {
			h.Log.Warn("Retry failed", "track_id", id.String(), "error", err)
		}
	}()
	respondJSON(w, http.StatusAccepted, map[string]string{"track_id": id.String()})
}

func (h *Handler) RemoveDownload(w http.ResponseWriter, r *http.Request) {
	id, err := trackIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Orchestrator.Remove(id); err != nil {
		if errors.Is(err, download.ErrNotCompleted) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetTrack(w http.ResponseWriter, r *http.Request) {
	id, err := trackIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	track, ok := h.Resolver.Resolve(id)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown track "+id.String())
		return
	}
	respondJSON(w, http.StatusOK, track)
}

func (h *Handler) ListPlugins(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Registry.Descriptors())
}

func (h *Handler) PluginSchema(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	schema, ok := h.Registry.ConfigSchema(id)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown plugin "+id)
		return
	}
	respondJSON(w, http.StatusOK, schema)
}

// ApplyPluginConfig validates and applies configuration values, then
// persists them so they survive restarts.
func (h *Handler) ApplyPluginConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var values map[string]any
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		respondError(w, http.StatusBadRequest, "invalid config document: "+err.Error())
		return
	}

	if err := h.Registry.ApplyConfig(id, values); err != nil {
		if _, ok := h.Registry.Get(id); !ok {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if h.Settings != nil {
		raw, err := json.Marshal(values)
		if err == nil {
			err = h.Settings.Set(store.SettingPluginConfigPrefix+id, string(raw))
		}
		if err != nil {
			h.Log.Warn("Failed to persist plugin config", "plugin", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) EventHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	respondJSON(w, http.StatusOK, h.Bus.History(name, limit))
}
