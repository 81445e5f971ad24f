package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/clipdrop/internal/api/handler"
	mw "github.com/iconidentify/clipdrop/internal/api/middleware"
)

// RouterConfig holds the settings the router needs.
type RouterConfig struct {
	JWTSecret   string
	CORSOrigins []string
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(
	cfg RouterConfig,
	assetHandler *handler.AssetHandler,
	mediaHandler *handler.MediaHandler,
	healthHandler *handler.HealthHandler,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	r.Use(mw.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth)
	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api/videos", func(r chi.Router) {
		// Media delivery is public; ids are unguessable. No timeout so long
		// streams are not cut off.
		r.Get("/{id}/stream", mediaHandler.Stream)
		r.Head("/{id}/stream", mediaHandler.Stream)
		r.Get("/{id}/thumbnail", mediaHandler.Thumbnail)
		r.Get("/{id}/images/{index}", mediaHandler.Image)
		r.Get("/{id}/audio", mediaHandler.Audio)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(mw.BearerAuth(cfg.JWTSecret))

			r.Post("/", assetHandler.Submit)
			r.Get("/", assetHandler.List)
			r.Get("/check", assetHandler.Check)
			r.Get("/favorites", assetHandler.ListFavorites)
			r.Get("/{id}", assetHandler.Get)
			r.Delete("/{id}", assetHandler.Delete)
			r.Post("/{id}/favorite", assetHandler.Favorite)
			r.Delete("/{id}/favorite", assetHandler.Unfavorite)
		})
	})

	return r
}
