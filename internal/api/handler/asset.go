package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	mw "github.com/iconidentify/clipdrop/internal/api/middleware"
	"github.com/iconidentify/clipdrop/internal/domain"
	"github.com/iconidentify/clipdrop/internal/service"
)

// defaultListWindow is how far back a listing looks without hours or since.
const defaultListWindow = 24 * time.Hour

// maxListLimit caps the limit query parameter.
const maxListLimit = 200

// AssetHandler handles submission, listing, and management of videos.
type AssetHandler struct {
	assets *service.AssetService
	urls   URLBuilder
	logger *slog.Logger
}

// NewAssetHandler creates a new asset handler.
func NewAssetHandler(assets *service.AssetService, urls URLBuilder, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{
		assets: assets,
		urls:   urls,
		logger: logger,
	}
}

// SubmitRequest is the JSON request body for a link submission.
type SubmitRequest struct {
	URL     string `json:"url" validate:"required,url"`
	Message string `json:"message,omitempty"`
}

// SubmitResponse is returned with 202 Accepted.
type SubmitResponse struct {
	Message string          `json:"message"`
	Video   SubmittedStatus `json:"video"`
}

// SubmittedStatus identifies the created asset.
type SubmittedStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// VideoResponse is one asset as returned by list and get.
type VideoResponse struct {
	ID                  string     `json:"id"`
	SenderID            string     `json:"senderId"`
	Status              string     `json:"status"`
	MediaKind           string     `json:"mediaKind"`
	Message             string     `json:"message,omitempty"`
	DurationSeconds     int        `json:"durationSeconds,omitempty"`
	FileSizeBytes       int64      `json:"fileSizeBytes,omitempty"`
	TikTokAuthor        string     `json:"tiktokAuthor,omitempty"`
	TikTokDescription   string     `json:"tiktokDescription,omitempty"`
	ErrorMessage        string     `json:"errorMessage,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	ExpiresAt           time.Time  `json:"expiresAt"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	IsFavorited         bool       `json:"isFavorited"`
	ScheduledDeletionAt *time.Time `json:"scheduledDeletionAt"`
	StreamURL           string     `json:"streamUrl,omitempty"`
	ThumbnailURL        string     `json:"thumbnailUrl,omitempty"`
	ImageURLs           []string   `json:"imageUrls,omitempty"`
	ImageCount          int        `json:"imageCount,omitempty"`
	AudioURL            string     `json:"audioUrl,omitempty"`
}

// ListResponse wraps a listing.
type ListResponse struct {
	Videos []VideoResponse `json:"videos"`
}

// CheckResponse answers the "anything new?" poll.
type CheckResponse struct {
	Count  int  `json:"count"`
	HasNew bool `json:"hasNew"`
}

// FavoriteResponse is returned by favorite and unfavorite.
type FavoriteResponse struct {
	Success             bool       `json:"success"`
	IsFavorited         bool       `json:"isFavorited"`
	ScheduledDeletionAt *time.Time `json:"scheduledDeletionAt"`
}

// Submit handles POST /api/videos
func (h *AssetHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req SubmitRequest
	if errResp := decodeJSONBody(r, &req); errResp != nil {
		writeJSON(w, http.StatusBadRequest, errResp)
		return
	}

	result, err := h.assets.Submit(r.Context(), service.SubmitRequest{
		OwnerID:   userID,
		SourceURL: req.URL,
		Message:   req.Message,
	})
	if err != nil {
		writeServiceError(w, h.logger, "submit", err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		Message: "Video submitted for processing",
		Video: SubmittedStatus{
			ID:     result.AssetID.String(),
			Status: string(result.Status),
		},
	})
}

// List handles GET /api/videos
func (h *AssetHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	since := time.Now().Add(-defaultListWindow)
	if s := q.Get("since"); s != "" {
		parsed, err := parseTimestamp(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		since = parsed
	} else if hs := q.Get("hours"); hs != "" {
		hours, err := strconv.Atoi(hs)
		if err != nil || hours <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	limit := 0
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxListLimit {
			limit = parsed
		}
	}

	views, err := h.assets.List(r.Context(), userID, service.ListOptions{Since: since, Limit: limit})
	if err != nil {
		writeServiceError(w, h.logger, "list", err)
		return
	}

	writeJSON(w, http.StatusOK, h.listResponse(views))
}

// Check handles GET /api/videos/check?since=
func (h *AssetHandler) Check(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	s := r.URL.Query().Get("since")
	if s == "" {
		writeError(w, http.StatusBadRequest, `missing "since" query parameter`)
		return
	}
	since, err := parseTimestamp(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timestamp")
		return
	}

	n, err := h.assets.CountNew(r.Context(), userID, since)
	if err != nil {
		writeServiceError(w, h.logger, "check", err)
		return
	}

	writeJSON(w, http.StatusOK, CheckResponse{Count: n, HasNew: n > 0})
}

// Get handles GET /api/videos/{id}
func (h *AssetHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	view, err := h.assets.Get(r.Context(), userID, assetID(r))
	if err != nil {
		writeServiceError(w, h.logger, "get", err)
		return
	}

	writeJSON(w, http.StatusOK, h.videoResponse(view))
}

// Delete handles DELETE /api/videos/{id}
func (h *AssetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.assets.Delete(r.Context(), userID, assetID(r)); err != nil {
		writeServiceError(w, h.logger, "delete", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Video deleted"})
}

// Favorite handles POST /api/videos/{id}/favorite
func (h *AssetHandler) Favorite(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	view, err := h.assets.Favorite(r.Context(), userID, assetID(r))
	if err != nil {
		writeServiceError(w, h.logger, "favorite", err)
		return
	}

	writeJSON(w, http.StatusOK, favoriteResponse(view))
}

// Unfavorite handles DELETE /api/videos/{id}/favorite
func (h *AssetHandler) Unfavorite(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	view, err := h.assets.Unfavorite(r.Context(), userID, assetID(r))
	if err != nil {
		writeServiceError(w, h.logger, "unfavorite", err)
		return
	}

	writeJSON(w, http.StatusOK, favoriteResponse(view))
}

// ListFavorites handles GET /api/videos/favorites
func (h *AssetHandler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	views, err := h.assets.ListFavorites(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, "list favorites", err)
		return
	}

	writeJSON(w, http.StatusOK, h.listResponse(views))
}

func (h *AssetHandler) listResponse(views []*service.AssetView) ListResponse {
	resp := ListResponse{Videos: make([]VideoResponse, 0, len(views))}
	for _, v := range views {
		resp.Videos = append(resp.Videos, h.videoResponse(v))
	}
	return resp
}

func (h *AssetHandler) videoResponse(v *service.AssetView) VideoResponse {
	a := v.Asset
	resp := VideoResponse{
		ID:                  a.ID.String(),
		SenderID:            a.OwnerID,
		Status:              string(a.Status),
		MediaKind:           string(a.Kind()),
		Message:             a.UserMessage,
		TikTokAuthor:        a.Source.Author,
		TikTokDescription:   a.Source.Caption,
		ErrorMessage:        a.ErrorMessage,
		CreatedAt:           a.CreatedAt,
		ExpiresAt:           a.ExpiresAt,
		CompletedAt:         a.CompletedAt,
		IsFavorited:         v.IsFavorited,
		ScheduledDeletionAt: v.ScheduledDeletionAt(),
	}

	if a.Payload == nil {
		return resp
	}
	resp.FileSizeBytes = a.Payload.SizeBytes()
	if a.Payload.Thumbnail() != "" {
		resp.ThumbnailURL = h.urls.Thumbnail(a.ID)
	}

	if video, ok := a.Video(); ok {
		resp.DurationSeconds = video.DurationSeconds
		resp.StreamURL = h.urls.Stream(a.ID)
	}
	if show, ok := a.Slideshow(); ok {
		resp.ImageCount = len(show.ImagePaths)
		resp.ImageURLs = make([]string, len(show.ImagePaths))
		for i := range show.ImagePaths {
			resp.ImageURLs[i] = h.urls.Image(a.ID, i)
		}
		if show.AudioPath != "" {
			resp.AudioURL = h.urls.Audio(a.ID)
		}
	}
	return resp
}

func favoriteResponse(v *service.AssetView) FavoriteResponse {
	return FavoriteResponse{
		Success:             true,
		IsFavorited:         v.IsFavorited,
		ScheduledDeletionAt: v.ScheduledDeletionAt(),
	}
}

// currentUser returns the authenticated caller, replying 401 when there is none.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := mw.UserFromContext(r.Context())
	if !ok || claims.UserID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return claims.UserID, true
}

func assetID(r *http.Request) domain.AssetID {
	return domain.AssetID(chi.URLParam(r, "id"))
}

// parseTimestamp accepts RFC 3339 or unix milliseconds.
func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
