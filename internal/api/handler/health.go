package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/clipdrop/internal/repository"
	"github.com/iconidentify/clipdrop/pkg/diskfree"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store       Pinger
	jobRepo     repository.JobRepository
	storagePath string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store Pinger, jobRepo repository.JobRepository) *HealthHandler {
	return &HealthHandler{
		store:   store,
		jobRepo: jobRepo,
	}
}

// WithStoragePath makes readiness report free space on the media volume.
func (h *HealthHandler) WithStoragePath(path string) *HealthHandler {
	h.storagePath = path
	return h
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
	Queue     *QueueStats   `json:"queue,omitempty"`
	Storage   *StorageStats `json:"storage,omitempty"`
}

// StorageStats describes the media volume.
type StorageStats struct {
	FreeBytes int64  `json:"freeBytes"`
	Free      string `json:"free"`
}

// QueueStats contains job queue statistics.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness probe.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.notReady(w, "database unavailable")
		return
	}

	stats, err := h.jobRepo.Stats(ctx)
	if err != nil {
		h.notReady(w, "job queue unavailable")
		return
	}

	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Queue: &QueueStats{
			Queued:     stats.Queued,
			Processing: stats.Processing,
			Completed:  stats.Completed,
			Failed:     stats.Failed,
		},
	}
	if h.storagePath != "" {
		free := diskfree.Available(h.storagePath)
		resp.Storage = &StorageStats{
			FreeBytes: free,
			Free:      humanize.IBytes(uint64(free)),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (h *HealthHandler) notReady(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(HealthResponse{
		Status:    "error",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error:     reason,
	})
}
