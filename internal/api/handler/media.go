package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/clipdrop/internal/domain"
)

// ReadyAssets looks up assets that can be delivered.
type ReadyAssets interface {
	GetReady(ctx context.Context, id domain.AssetID) (*domain.Asset, error)
}

// MediaHandler serves the files of ready assets. Routes are public because
// asset ids are unguessable.
type MediaHandler struct {
	assets ReadyAssets
	logger *slog.Logger
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(assets ReadyAssets, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{
		assets: assets,
		logger: logger,
	}
}

// Stream handles GET /api/videos/{id}/stream with byte-range support.
func (h *MediaHandler) Stream(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "stream", func(a *domain.Asset) (string, error) {
		video, ok := a.Video()
		if !ok {
			return "", domain.ErrMediaNotFound
		}
		return video.Path, nil
	}, "video/mp4", "")
}

// Thumbnail handles GET /api/videos/{id}/thumbnail
func (h *MediaHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "thumbnail", func(a *domain.Asset) (string, error) {
		thumb := a.Payload.Thumbnail()
		if thumb == "" {
			return "", domain.ErrMediaNotFound
		}
		return thumb, nil
	}, "", "public, max-age=86400")
}

// Image handles GET /api/videos/{id}/images/{index}
func (h *MediaHandler) Image(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid image index")
		return
	}

	h.serve(w, r, "image", func(a *domain.Asset) (string, error) {
		show, ok := a.Slideshow()
		if !ok || index >= len(show.ImagePaths) {
			return "", domain.ErrMediaNotFound
		}
		return show.ImagePaths[index], nil
	}, "", "public, max-age=86400")
}

// Audio handles GET /api/videos/{id}/audio
func (h *MediaHandler) Audio(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "audio", func(a *domain.Asset) (string, error) {
		show, ok := a.Slideshow()
		if !ok || show.AudioPath == "" {
			return "", domain.ErrMediaNotFound
		}
		return show.AudioPath, nil
	}, "audio/mpeg", "")
}

// serve resolves one file of a ready asset and writes it with
// http.ServeContent, which answers Range and conditional requests.
func (h *MediaHandler) serve(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	pick func(*domain.Asset) (string, error),
	contentType string,
	cacheControl string,
) {
	id := assetID(r)
	asset, err := h.assets.GetReady(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, op, err)
		return
	}

	path, err := pick(asset)
	if err != nil {
		writeServiceError(w, h.logger, op, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: asset %s: %s", domain.ErrFileMissing, id, path)
		}
		writeServiceError(w, h.logger, op, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeServiceError(w, h.logger, op, err)
		return
	}

	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "image/jpeg"
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}

	// Slow clients may need longer than the server-wide write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("failed to clear write deadline", "asset_id", id, "error", err)
	}

	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}
