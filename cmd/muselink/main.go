package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jfigueroa88/muselink/internal/config"
	"github.com/jfigueroa88/muselink/internal/download"
	"github.com/jfigueroa88/muselink/internal/eventbus"
	"github.com/jfigueroa88/muselink/internal/httpapi"
	"github.com/jfigueroa88/muselink/internal/httpclient"
	"github.com/jfigueroa88/muselink/internal/logger"
	"github.com/jfigueroa88/muselink/internal/permission"
	"github.com/jfigueroa88/muselink/internal/plugin"
	"github.com/jfigueroa88/muselink/internal/plugins/localfs"
	"github.com/jfigueroa88/muselink/internal/plugins/lyricsapi"
	"github.com/jfigueroa88/muselink/internal/plugins/restsource"
	"github.com/jfigueroa88/muselink/internal/resolver"
	"github.com/jfigueroa88/muselink/internal/store"
	"github.com/jfigueroa88/muselink/internal/tagging"
)

// autoPrompter grants every permission. A headless server has no native
// prompt to show; desktop builds swap in a real Prompter.
type autoPrompter struct{}

func (autoPrompter) Prompt(ctx context.Context, t permission.Type) (permission.Grant, error) {
	return permission.Grant{Type: t, GrantedAt: time.Now()}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to init DB", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	catalog, err := store.NewCatalog(db)
	if err != nil {
		appLogger.Error("Failed to load catalog", "error", err)
		os.Exit(1)
	}
	settingsRepo := store.NewSettingsRepo(db)

	bus := eventbus.New(appLogger)
	registry := plugin.NewRegistry(bus, appLogger)
	client := httpclient.New(nil, 100*time.Millisecond)

	plugins := []plugin.Plugin{
		restsource.New("rest", os.Getenv("MUSELINK_REST_URL"), client),
		localfs.New("local", os.Getenv("MUSELINK_LOCAL_DIR")),
		lyricsapi.New("lyrics", client),
	}
	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			appLogger.Error("Failed to register plugin", "plugin", p.ID(), "error", err)
			os.Exit(1)
		}
		restorePluginConfig(registry, settingsRepo, p.ID(), appLogger)
	}

	perms := permission.NewService(autoPrompter{}, appLogger)
	tagger := tagging.New(client, appLogger)

	orch := download.NewOrchestrator(registry, perms, bus, catalog, tagger, download.Config{
		Dir:              cfg.DownloadsDir,
		PathTemplate:     cfg.PathTemplate,
		MaxConcurrent:    cfg.MaxConcurrent,
		ProgressInterval: time.Duration(cfg.ProgressInterval),
	}, appLogger)
	orch.Recover()
	defer orch.Close()

	res := resolver.New(nil, nil, orch, appLogger)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := httpapi.NewHandler(orch, registry, res, bus, settingsRepo, appLogger)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		appLogger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server shutdown failed", "error", err)
	}
}

// restorePluginConfig re-applies the last validated configuration values
// saved for the plugin, if any.
func restorePluginConfig(registry *plugin.Registry, settings *store.SettingsRepo, id string, appLogger *logger.Logger) {
	raw, err := settings.Get(store.SettingPluginConfigPrefix + id)
	if err != nil || raw == "" {
		return
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		appLogger.Warn("Ignoring corrupt saved plugin config", "plugin", id, "error", err)
		return
	}
	if err := registry.ApplyConfig(id, values); err != nil {
		appLogger.Warn("Saved plugin config no longer applies", "plugin", id, "error", err)
	}
}
